package store

import (
	"context"
	"database/sql"
	"fmt"

	"redpocket/internal/ledger/models"
	id "redpocket/pkg/domain"
	"redpocket/pkg/platform/sentinel"
	txcontext "redpocket/pkg/platform/tx"
)

// Postgres implements the balance store against one table:
//
//	balances (account_id, token, amount, PRIMARY KEY (account_id, token),
//	          CHECK (amount >= 0))
//
// Apply locks the account's rows with SELECT ... FOR UPDATE, which is the
// postgres equivalent of the in-memory per-account mutex.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Apply loads the account's balances under FOR UPDATE, runs fn on them, and
// writes back any changed entries. Must run inside a transaction (tx.Runner)
// for the row locks to mean anything; without one it opens its own.
func (s *Postgres) Apply(ctx context.Context, accountID id.AccountID, fn func(balances map[id.Token]float64) error) error {
	if _, ok := txcontext.From(ctx); !ok {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := s.Apply(txcontext.WithTx(ctx, tx), accountID, fn); err != nil {
			return err
		}
		return tx.Commit()
	}

	conn := s.conn(ctx)
	balances, err := loadForUpdate(ctx, conn, accountID)
	if err != nil {
		return err
	}

	before := make(map[id.Token]float64, len(balances))
	for token, amount := range balances {
		before[token] = amount
	}

	if err := fn(balances); err != nil {
		return err
	}

	for token, amount := range balances {
		if amount == before[token] {
			continue
		}
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO balances (account_id, token, amount)
			VALUES ($1, $2, $3)
			ON CONFLICT (account_id, token) DO UPDATE SET amount = $3`,
			accountID.String(), token.String(), amount,
		); err != nil {
			return fmt.Errorf("upsert balance: %w", err)
		}
	}
	return nil
}

func loadForUpdate(ctx context.Context, conn dbConn, accountID id.AccountID) (map[id.Token]float64, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT token, amount FROM balances
		WHERE account_id = $1
		FOR UPDATE`,
		accountID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("lock balances: %w", err)
	}
	defer rows.Close()

	balances := make(map[id.Token]float64)
	for rows.Next() {
		var token string
		var amount float64
		if err := rows.Scan(&token, &amount); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		balances[id.Token(token)] = amount
	}
	return balances, rows.Err()
}

func (s *Postgres) Balance(ctx context.Context, accountID id.AccountID, token id.Token) (float64, error) {
	var amount float64
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT amount FROM balances WHERE account_id = $1 AND token = $2`,
		accountID.String(), token.String(),
	).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return amount, nil
}

func (s *Postgres) Balances(ctx context.Context, accountID id.AccountID) ([]models.BalanceEntry, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT token, amount FROM balances
		WHERE account_id = $1 AND amount <> 0
		ORDER BY token ASC`,
		accountID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	var entries []models.BalanceEntry
	for rows.Next() {
		entry := models.BalanceEntry{AccountID: accountID}
		var token string
		if err := rows.Scan(&token, &entry.Amount); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		entry.Token = id.Token(token)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// TransferAll folds every source balance into target and deletes the source
// rows. Must run inside the merge transaction; row locks are taken in a
// fixed global order (smaller account id first) to avoid deadlock with
// concurrent merges.
func (s *Postgres) TransferAll(ctx context.Context, source, target id.AccountID) (map[id.Token]float64, error) {
	if source == target {
		return nil, sentinel.ErrInvalidState
	}
	conn := s.conn(ctx)

	first, second := source.String(), target.String()
	if first > second {
		first, second = second, first
	}
	for _, acct := range []string{first, second} {
		if _, err := conn.ExecContext(ctx, `
			SELECT 1 FROM balances WHERE account_id = $1 FOR UPDATE`, acct); err != nil {
			return nil, fmt.Errorf("lock balances: %w", err)
		}
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT token, amount FROM balances WHERE account_id = $1 AND amount <> 0`,
		source.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query source balances: %w", err)
	}
	moved := make(map[id.Token]float64)
	for rows.Next() {
		var token string
		var amount float64
		if err := rows.Scan(&token, &amount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan source balance: %w", err)
		}
		moved[id.Token(token)] = amount
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for token, amount := range moved {
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO balances (account_id, token, amount)
			VALUES ($1, $2, $3)
			ON CONFLICT (account_id, token) DO UPDATE SET amount = balances.amount + $3`,
			target.String(), token.String(), amount,
		); err != nil {
			return nil, fmt.Errorf("fold balance into target: %w", err)
		}
	}
	if _, err := conn.ExecContext(ctx, `
		DELETE FROM balances WHERE account_id = $1`, source.String()); err != nil {
		return nil, fmt.Errorf("delete source balances: %w", err)
	}
	return moved, nil
}

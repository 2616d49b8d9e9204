package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"redpocket/internal/pool/models"
	id "redpocket/pkg/domain"
	"redpocket/pkg/platform/sentinel"
	txcontext "redpocket/pkg/platform/tx"
)

// Postgres implements the pool store against two tables:
//
//	pools  (id, creator_id, token, total_amount, total_shares,
//	        remaining_amount, remaining_shares, created_at, expires_at)
//	claims (pool_id, account_id, amount, claimed_at,
//	        PRIMARY KEY (pool_id, account_id))
//
// Execute locks the pool row with SELECT ... FOR UPDATE, the postgres
// equivalent of the in-memory per-pool mutex. The claims primary key backs
// the claim-at-most-once invariant even if the in-lock check is bypassed.
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

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (s *Postgres) Create(ctx context.Context, pool *models.DistributionPool) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO pools (id, creator_id, token, total_amount, total_shares,
		                   remaining_amount, remaining_shares, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pool.ID.String(), pool.CreatorID.String(), pool.Token.String(),
		pool.TotalAmount, pool.TotalShares,
		pool.RemainingAmount, pool.RemainingShares,
		pool.CreatedAt, pool.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

func (s *Postgres) Find(ctx context.Context, poolID id.PoolID) (*models.DistributionPool, error) {
	return scanPool(s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, creator_id, token, total_amount, total_shares,
		       remaining_amount, remaining_shares, created_at, expires_at
		FROM pools WHERE id = $1`,
		poolID.String(),
	))
}

func scanPool(row *sql.Row) (*models.DistributionPool, error) {
	var (
		pool       models.DistributionPool
		poolIDStr  string
		creatorStr string
		tokenStr   string
	)
	err := row.Scan(&poolIDStr, &creatorStr, &tokenStr,
		&pool.TotalAmount, &pool.TotalShares,
		&pool.RemainingAmount, &pool.RemainingShares,
		&pool.CreatedAt, &pool.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pool: %w", err)
	}
	if pool.ID, err = id.ParsePoolID(poolIDStr); err != nil {
		return nil, fmt.Errorf("corrupt pool id %q: %w", poolIDStr, err)
	}
	if pool.CreatorID, err = id.ParseAccountID(creatorStr); err != nil {
		return nil, fmt.Errorf("corrupt creator id %q: %w", creatorStr, err)
	}
	pool.Token = id.Token(tokenStr)
	return &pool, nil
}

// Execute locks the pool row, loads it plus its claim records, runs validate
// then apply, and writes back the new remaining counters and claim record in
// one transaction.
func (s *Postgres) Execute(
	ctx context.Context,
	poolID id.PoolID,
	validate func(pool *models.DistributionPool, claims map[id.AccountID]models.ClaimRecord) error,
	apply func(pool *models.DistributionPool) (models.ClaimRecord, error),
) error {
	if _, ok := txcontext.From(ctx); !ok {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := s.Execute(txcontext.WithTx(ctx, tx), poolID, validate, apply); err != nil {
			return err
		}
		return tx.Commit()
	}

	conn := s.conn(ctx)
	pool, err := scanPool(conn.QueryRowContext(ctx, `
		SELECT id, creator_id, token, total_amount, total_shares,
		       remaining_amount, remaining_shares, created_at, expires_at
		FROM pools WHERE id = $1
		FOR UPDATE`,
		poolID.String(),
	))
	if err != nil {
		return err
	}

	claims, err := s.loadClaims(ctx, conn, poolID)
	if err != nil {
		return err
	}
	if err := validate(pool, claims); err != nil {
		return err
	}

	record, err := apply(pool)
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, `
		UPDATE pools SET remaining_amount = $2, remaining_shares = $3 WHERE id = $1`,
		poolID.String(), pool.RemainingAmount, pool.RemainingShares,
	); err != nil {
		return fmt.Errorf("update pool counters: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `
		INSERT INTO claims (pool_id, account_id, amount, claimed_at)
		VALUES ($1, $2, $3, $4)`,
		record.PoolID.String(), record.AccountID.String(), record.Amount, record.ClaimedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

// ReleaseClaim deletes the account's claim row and returns its amount and
// share to the pool counters. Joins the ambient transaction when one is
// present; a standalone call opens its own.
func (s *Postgres) ReleaseClaim(ctx context.Context, poolID id.PoolID, accountID id.AccountID) error {
	if _, ok := txcontext.From(ctx); !ok {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := s.ReleaseClaim(txcontext.WithTx(ctx, tx), poolID, accountID); err != nil {
			return err
		}
		return tx.Commit()
	}

	conn := s.conn(ctx)
	var dummy int
	if err := conn.QueryRowContext(ctx, `
		SELECT 1 FROM pools WHERE id = $1 FOR UPDATE`,
		poolID.String(),
	).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("lock pool: %w", err)
	}

	var amount float64
	if err := conn.QueryRowContext(ctx, `
		DELETE FROM claims WHERE pool_id = $1 AND account_id = $2
		RETURNING amount`,
		poolID.String(), accountID.String(),
	).Scan(&amount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("delete claim: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `
		UPDATE pools
		SET remaining_amount = remaining_amount + $2,
		    remaining_shares = remaining_shares + 1
		WHERE id = $1`,
		poolID.String(), amount,
	); err != nil {
		return fmt.Errorf("restore pool counters: %w", err)
	}
	return nil
}

func (s *Postgres) loadClaims(ctx context.Context, conn dbConn, poolID id.PoolID) (map[id.AccountID]models.ClaimRecord, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT pool_id, account_id, amount, claimed_at
		FROM claims WHERE pool_id = $1`,
		poolID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}
	defer rows.Close()

	claims := make(map[id.AccountID]models.ClaimRecord)
	for rows.Next() {
		record, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		claims[record.AccountID] = record
	}
	return claims, rows.Err()
}

func scanClaim(rows *sql.Rows) (models.ClaimRecord, error) {
	var (
		record     models.ClaimRecord
		poolIDStr  string
		accountStr string
	)
	if err := rows.Scan(&poolIDStr, &accountStr, &record.Amount, &record.ClaimedAt); err != nil {
		return models.ClaimRecord{}, fmt.Errorf("scan claim: %w", err)
	}
	var err error
	if record.PoolID, err = id.ParsePoolID(poolIDStr); err != nil {
		return models.ClaimRecord{}, fmt.Errorf("corrupt pool id %q: %w", poolIDStr, err)
	}
	if record.AccountID, err = id.ParseAccountID(accountStr); err != nil {
		return models.ClaimRecord{}, fmt.Errorf("corrupt account id %q: %w", accountStr, err)
	}
	return record, nil
}

func (s *Postgres) FindClaim(ctx context.Context, poolID id.PoolID, accountID id.AccountID) (*models.ClaimRecord, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT pool_id, account_id, amount, claimed_at
		FROM claims WHERE pool_id = $1 AND account_id = $2`,
		poolID.String(), accountID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query claim: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, sentinel.ErrNotFound
	}
	record, err := scanClaim(rows)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Postgres) ClaimsByAccount(ctx context.Context, accountID id.AccountID) ([]models.ClaimRecord, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT pool_id, account_id, amount, claimed_at
		FROM claims WHERE account_id = $1
		ORDER BY claimed_at DESC`,
		accountID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query claims by account: %w", err)
	}
	defer rows.Close()

	var records []models.ClaimRecord
	for rows.Next() {
		record, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// ReassignClaims re-homes claim records from source to target during a merge.
// When both accounts claimed the same pool the target's record wins. Run
// inside the merge transaction.
func (s *Postgres) ReassignClaims(ctx context.Context, source, target id.AccountID) (int, error) {
	conn := s.conn(ctx)

	if _, err := conn.ExecContext(ctx, `
		DELETE FROM claims src
		USING claims dst
		WHERE src.account_id = $1 AND dst.account_id = $2
		  AND src.pool_id = dst.pool_id`,
		source.String(), target.String(),
	); err != nil {
		return 0, fmt.Errorf("dedupe claims: %w", err)
	}

	res, err := conn.ExecContext(ctx, `
		UPDATE claims SET account_id = $2 WHERE account_id = $1`,
		source.String(), target.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("reassign claims: %w", err)
	}
	moved, _ := res.RowsAffected()
	return int(moved), nil
}

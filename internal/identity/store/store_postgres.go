package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"redpocket/internal/identity/models"
	id "redpocket/pkg/domain"
	"redpocket/pkg/platform/sentinel"
	txcontext "redpocket/pkg/platform/tx"
)

// Postgres implements the account store against two tables:
//
//	accounts   (id, primary_wallet_address, created_at)
//	identities (platform, platform_id, account_id, display_name, linked_at,
//	            verified, PRIMARY KEY (platform, platform_id))
//
// The identities primary key enforces the one-account-per-binding invariant;
// unique violations surface as sentinel.ErrConflict.
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

func (s *Postgres) Create(ctx context.Context, account *models.UserAccount) error {
	conn := s.conn(ctx)

	_, err := conn.ExecContext(ctx, `
		INSERT INTO accounts (id, primary_wallet_address, created_at)
		VALUES ($1, $2, $3)`,
		account.ID.String(), account.PrimaryWalletAddress, account.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert account: %w", err)
	}

	for _, identity := range account.Identities {
		if err := insertIdentity(ctx, conn, account.ID, identity); err != nil {
			return err
		}
	}
	return nil
}

func insertIdentity(ctx context.Context, conn dbConn, accountID id.AccountID, identity models.PlatformIdentity) error {
	_, err := conn.ExecContext(ctx, `
		INSERT INTO identities (platform, platform_id, account_id, display_name, linked_at, verified)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		identity.Platform.String(), identity.PlatformID, accountID.String(),
		identity.DisplayName, identity.LinkedAt, identity.Verified,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, accountID id.AccountID) (*models.UserAccount, error) {
	return s.loadAccount(ctx, `WHERE a.id = $1`, accountID.String())
}

func (s *Postgres) FindByIdentity(ctx context.Context, key models.IdentityKey) (*models.UserAccount, error) {
	return s.loadAccount(ctx, `
		WHERE a.id = (SELECT account_id FROM identities WHERE platform = $1 AND platform_id = $2)`,
		key.Platform.String(), key.PlatformID)
}

func (s *Postgres) loadAccount(ctx context.Context, where string, args ...any) (*models.UserAccount, error) {
	conn := s.conn(ctx)

	rows, err := conn.QueryContext(ctx, `
		SELECT a.id, a.primary_wallet_address, a.created_at,
		       i.platform, i.platform_id, i.display_name, i.linked_at, i.verified
		FROM accounts a
		JOIN identities i ON i.account_id = a.id
		`+where+`
		ORDER BY i.linked_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	defer rows.Close()

	var account *models.UserAccount
	for rows.Next() {
		var (
			accountIDStr string
			wallet       string
			createdAt    sql.NullTime
			identity     models.PlatformIdentity
			platform     string
		)
		if err := rows.Scan(&accountIDStr, &wallet, &createdAt,
			&platform, &identity.PlatformID, &identity.DisplayName, &identity.LinkedAt, &identity.Verified); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		identity.Platform = id.Platform(platform)
		if account == nil {
			parsed, err := id.ParseAccountID(accountIDStr)
			if err != nil {
				return nil, fmt.Errorf("corrupt account id %q: %w", accountIDStr, err)
			}
			account = &models.UserAccount{
				ID:                   parsed,
				PrimaryWalletAddress: wallet,
				CreatedAt:            createdAt.Time,
			}
		}
		account.Identities = append(account.Identities, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if account == nil {
		return nil, sentinel.ErrNotFound
	}
	return account, nil
}

func (s *Postgres) AddIdentity(ctx context.Context, accountID id.AccountID, identity models.PlatformIdentity) (*models.UserAccount, error) {
	conn := s.conn(ctx)

	var boundTo string
	err := conn.QueryRowContext(ctx, `
		SELECT account_id FROM identities WHERE platform = $1 AND platform_id = $2`,
		identity.Platform.String(), identity.PlatformID,
	).Scan(&boundTo)
	switch {
	case err == nil:
		if boundTo != accountID.String() {
			return nil, sentinel.ErrConflict
		}
		return s.FindByID(ctx, accountID)
	case errors.Is(err, sql.ErrNoRows):
		// Not bound yet; insert below.
	default:
		return nil, fmt.Errorf("lookup binding: %w", err)
	}

	if _, err := s.FindByID(ctx, accountID); err != nil {
		return nil, err
	}
	if err := insertIdentity(ctx, conn, accountID, identity); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Concurrent bind: re-check the owner.
			return s.AddIdentity(ctx, accountID, identity)
		}
		return nil, err
	}
	return s.FindByID(ctx, accountID)
}

// MoveIdentities re-binds source identities to target, dropping keys the
// target already holds. Run inside the merge transaction.
func (s *Postgres) MoveIdentities(ctx context.Context, source, target id.AccountID) (int, error) {
	conn := s.conn(ctx)

	// Drop bindings whose key the target already holds.
	if _, err := conn.ExecContext(ctx, `
		DELETE FROM identities src
		USING identities dst
		WHERE src.account_id = $1 AND dst.account_id = $2
		  AND src.platform = dst.platform AND src.platform_id = dst.platform_id`,
		source.String(), target.String(),
	); err != nil {
		return 0, fmt.Errorf("dedupe identities: %w", err)
	}

	res, err := conn.ExecContext(ctx, `
		UPDATE identities SET account_id = $2 WHERE account_id = $1`,
		source.String(), target.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("move identities: %w", err)
	}
	moved, _ := res.RowsAffected()
	return int(moved), nil
}

func (s *Postgres) DeleteAccount(ctx context.Context, accountID id.AccountID) error {
	conn := s.conn(ctx)

	if _, err := conn.ExecContext(ctx, `
		DELETE FROM identities WHERE account_id = $1`, accountID.String()); err != nil {
		return fmt.Errorf("delete identities: %w", err)
	}
	res, err := conn.ExecContext(ctx, `
		DELETE FROM accounts WHERE id = $1`, accountID.String())
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

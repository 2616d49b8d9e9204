package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"redpocket/internal/withdrawal/models"
	id "redpocket/pkg/domain"
	"redpocket/pkg/platform/sentinel"
	txcontext "redpocket/pkg/platform/tx"
)

// Postgres implements the withdrawal store against one table:
//
//	withdrawals (id, account_id, kind, token, amount,
//	             gas_fee, platform_fee, bridge_fee, total_fee, net_amount,
//	             eta_seconds, destination, chain, status, failure_reason,
//	             settlement_ref, created_at, updated_at)
//
// Update locks the request row with SELECT ... FOR UPDATE so concurrent
// transitions (worker vs cancel vs sweep) serialize on the row.
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

const withdrawalColumns = `id, account_id, kind, token, amount,
	gas_fee, platform_fee, bridge_fee, total_fee, net_amount, eta_seconds,
	destination, chain, status, failure_reason, settlement_ref,
	created_at, updated_at, processed_at`

func (s *Postgres) Create(ctx context.Context, request *models.WithdrawalRequest) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO withdrawals (`+withdrawalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		request.ID.String(), request.AccountID.String(), request.Kind.String(),
		request.Token.String(), request.Amount,
		request.Fee.GasFee, request.Fee.PlatformFee, request.Fee.BridgeFee,
		request.Fee.TotalFee, request.Fee.NetAmount, int64(request.Fee.ETA.Seconds()),
		request.Destination, request.Chain, string(request.Status),
		request.FailureReason, request.SettlementRef,
		request.CreatedAt, request.UpdatedAt, request.ProcessedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWithdrawal(row rowScanner) (*models.WithdrawalRequest, error) {
	var (
		request     models.WithdrawalRequest
		idStr       string
		accountStr  string
		kindStr     string
		tokenStr    string
		statusStr   string
		etaSeconds  int64
		processedAt sql.NullTime
	)
	err := row.Scan(&idStr, &accountStr, &kindStr, &tokenStr, &request.Amount,
		&request.Fee.GasFee, &request.Fee.PlatformFee, &request.Fee.BridgeFee,
		&request.Fee.TotalFee, &request.Fee.NetAmount, &etaSeconds,
		&request.Destination, &request.Chain, &statusStr,
		&request.FailureReason, &request.SettlementRef,
		&request.CreatedAt, &request.UpdatedAt, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan withdrawal: %w", err)
	}
	if processedAt.Valid {
		request.ProcessedAt = &processedAt.Time
	}
	if request.ID, err = id.ParseWithdrawalID(idStr); err != nil {
		return nil, fmt.Errorf("corrupt withdrawal id %q: %w", idStr, err)
	}
	if request.AccountID, err = id.ParseAccountID(accountStr); err != nil {
		return nil, fmt.Errorf("corrupt account id %q: %w", accountStr, err)
	}
	request.Kind = id.WithdrawalKind(kindStr)
	request.Token = id.Token(tokenStr)
	request.Status = models.Status(statusStr)
	request.Fee.ETA = time.Duration(etaSeconds) * time.Second
	return &request, nil
}

func (s *Postgres) Find(ctx context.Context, requestID id.WithdrawalID) (*models.WithdrawalRequest, error) {
	return scanWithdrawal(s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`,
		requestID.String(),
	))
}

// Update locks the request row, runs fn on it, and writes back the mutable
// fields. Opens its own transaction when the context carries none.
func (s *Postgres) Update(ctx context.Context, requestID id.WithdrawalID, fn func(request *models.WithdrawalRequest) error) error {
	if _, ok := txcontext.From(ctx); !ok {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := s.Update(txcontext.WithTx(ctx, tx), requestID, fn); err != nil {
			return err
		}
		return tx.Commit()
	}

	conn := s.conn(ctx)
	request, err := scanWithdrawal(conn.QueryRowContext(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`,
		requestID.String(),
	))
	if err != nil {
		return err
	}

	if err := fn(request); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, `
		UPDATE withdrawals
		SET status = $2, failure_reason = $3, settlement_ref = $4,
		    updated_at = $5, processed_at = $6
		WHERE id = $1`,
		requestID.String(), string(request.Status),
		request.FailureReason, request.SettlementRef,
		request.UpdatedAt, request.ProcessedAt,
	); err != nil {
		return fmt.Errorf("update withdrawal: %w", err)
	}
	return nil
}

func (s *Postgres) ListByAccount(ctx context.Context, accountID id.AccountID) ([]models.WithdrawalRequest, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE account_id = $1
		ORDER BY created_at DESC`,
		accountID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query withdrawals: %w", err)
	}
	defer rows.Close()
	return collectWithdrawals(rows)
}

func (s *Postgres) ListStuckProcessing(ctx context.Context, cutoff time.Time) ([]models.WithdrawalRequest, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawals
		WHERE status = $1 AND processed_at < $2`,
		string(models.StatusProcessing), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query stuck withdrawals: %w", err)
	}
	defer rows.Close()
	return collectWithdrawals(rows)
}

func collectWithdrawals(rows *sql.Rows) ([]models.WithdrawalRequest, error) {
	var requests []models.WithdrawalRequest
	for rows.Next() {
		request, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *request)
	}
	return requests, rows.Err()
}

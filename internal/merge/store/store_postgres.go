package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"redpocket/internal/merge/models"
	id "redpocket/pkg/domain"
	"redpocket/pkg/platform/sentinel"
	txcontext "redpocket/pkg/platform/tx"
)

// Postgres implements the merge request store against one table:
//
//	merge_requests (id, source_id, target_id, status, created_at, completed_at)
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) Create(ctx context.Context, request *models.MergeRequest) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO merge_requests (id, source_id, target_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		request.ID.String(), request.SourceID.String(), request.TargetID.String(),
		string(request.Status), request.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert merge request: %w", err)
	}
	return nil
}

func (s *Postgres) Find(ctx context.Context, requestID id.MergeID) (*models.MergeRequest, error) {
	return s.scan(s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, source_id, target_id, status, created_at, completed_at
		FROM merge_requests WHERE id = $1`,
		requestID.String(),
	))
}

func (s *Postgres) scan(row *sql.Row) (*models.MergeRequest, error) {
	var (
		request     models.MergeRequest
		idStr       string
		sourceStr   string
		targetStr   string
		statusStr   string
		completedAt sql.NullTime
	)
	err := row.Scan(&idStr, &sourceStr, &targetStr, &statusStr, &request.CreatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan merge request: %w", err)
	}
	if request.ID, err = id.ParseMergeID(idStr); err != nil {
		return nil, fmt.Errorf("corrupt merge id %q: %w", idStr, err)
	}
	if request.SourceID, err = id.ParseAccountID(sourceStr); err != nil {
		return nil, fmt.Errorf("corrupt source id %q: %w", sourceStr, err)
	}
	if request.TargetID, err = id.ParseAccountID(targetStr); err != nil {
		return nil, fmt.Errorf("corrupt target id %q: %w", targetStr, err)
	}
	request.Status = models.Status(statusStr)
	if completedAt.Valid {
		request.CompletedAt = completedAt.Time
	}
	return &request, nil
}

// Update locks the request row, runs fn, and writes back status and
// completion time. Opens its own transaction when the context carries none.
func (s *Postgres) Update(ctx context.Context, requestID id.MergeID, fn func(request *models.MergeRequest) error) error {
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
	request, err := s.scan(conn.QueryRowContext(ctx, `
		SELECT id, source_id, target_id, status, created_at, completed_at
		FROM merge_requests WHERE id = $1 FOR UPDATE`,
		requestID.String(),
	))
	if err != nil {
		return err
	}

	if err := fn(request); err != nil {
		return err
	}

	var completedAt sql.NullTime
	if !request.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: request.CompletedAt, Valid: true}
	}
	if _, err := conn.ExecContext(ctx, `
		UPDATE merge_requests SET status = $2, completed_at = $3 WHERE id = $1`,
		requestID.String(), string(request.Status), completedAt,
	); err != nil {
		return fmt.Errorf("update merge request: %w", err)
	}
	return nil
}

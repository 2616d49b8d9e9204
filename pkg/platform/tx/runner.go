package tx

import (
	"context"
	"database/sql"
	"time"
)

// Runner executes a function as one atomic unit. The SQL implementation
// wraps fn in a database transaction threaded through context; the noop
// implementation backs the in-memory stores, whose individual operations are
// already atomic.
type Runner interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

type noopRunner struct{}

// NewNoop returns a Runner that invokes fn directly.
func NewNoop() Runner { return noopRunner{} }

func (noopRunner) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

const defaultTxTimeout = 5 * time.Second

type sqlRunner struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQL returns a Runner that wraps fn in a database transaction. The
// transaction is exposed to stores via From(txCtx).
func NewSQL(db *sql.DB) Runner {
	return &sqlRunner{db: db, timeout: defaultTxTimeout}
}

func (r *sqlRunner) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	if err := fn(WithTx(ctx, dbTx)); err != nil {
		return err
	}
	return dbTx.Commit()
}

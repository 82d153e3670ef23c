package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultLockTimeout bounds row-lock waits when no timeout is configured.
const DefaultLockTimeout = 5 * time.Second

// TxRunner executes callbacks inside READ COMMITTED transactions whose lock
// waits are bounded by lockTimeout. Row locks taken with SELECT ... FOR UPDATE
// then serialise writers, and a waiter re-reads the committed row once the
// lock is released.
type TxRunner struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewTxRunner constructs a TxRunner.
func NewTxRunner(pool *pgxpool.Pool, lockTimeout time.Duration) *TxRunner {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &TxRunner{pool: pool, lockTimeout: lockTimeout}
}

// Pool exposes the underlying pool for non transactional reads.
func (r *TxRunner) Pool() *pgxpool.Pool {
	return r.pool
}

// WithTx runs fn in a transaction. Lock timeouts, deadlocks and serialisation
// failures are reported as shared.ErrResourceBusy.
func (r *TxRunner) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Classify(fmt.Errorf("platform/db: begin tx: %w", err))
	}

	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, lockTimeoutSetting(r.lockTimeout)); err != nil {
		return Classify(fmt.Errorf("platform/db: set lock timeout: %w", err))
	}

	if err := fn(tx); err != nil {
		return Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Classify(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

func lockTimeoutSetting(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("%dms", ms)
}

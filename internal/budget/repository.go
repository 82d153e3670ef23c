package budget

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-hr/internal/platform/db"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

// DBTX is satisfied by pgx.Tx and *pgxpool.Pool.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists budgets in PostgreSQL.
type Repository struct {
	runner *db.TxRunner
}

// NewRepository constructs Repository.
func NewRepository(runner *db.TxRunner) *Repository {
	return &Repository{runner: runner}
}

// WithTx executes the callback inside a read-committed transaction with
// bounded lock waits.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

const selectBudget = `SELECT user_id, year, entitlement_days, taken_days, planned_days, carry_over_days, updated_at FROM budgets`

// Get returns a single budget row.
func (r *Repository) Get(ctx context.Context, userID int64, year int) (Record, error) {
	row := r.runner.Pool().QueryRow(ctx, selectBudget+` WHERE user_id = $1 AND year = $2`, userID, year)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: user %d year %d", ErrRecordNotFound, userID, year)
	}
	return rec, err
}

// ListForYear lists budgets of active users for year.
func (r *Repository) ListForYear(ctx context.Context, year int) ([]Record, error) {
	rows, err := r.runner.Pool().Query(ctx, `SELECT b.user_id, b.year, b.entitlement_days, b.taken_days, b.planned_days, b.carry_over_days, b.updated_at
FROM budgets b JOIN users u ON u.id = b.user_id
WHERE b.year = $1 AND u.is_active
ORDER BY b.user_id`, year)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		return scanRecord(row)
	})
}

// ListActiveUserIDs lists ids of users eligible for ledger maintenance.
func (r *Repository) ListActiveUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.runner.Pool().Query(ctx, `SELECT id FROM users WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

type txStore struct {
	db DBTX
}

// NewTxStore binds the budget row operations to an open transaction.
func NewTxStore(tx DBTX) TxStore {
	return &txStore{db: tx}
}

func (s *txStore) GetForUpdate(ctx context.Context, userID int64, year int) (Record, error) {
	row := s.db.QueryRow(ctx, selectBudget+` WHERE user_id = $1 AND year = $2 FOR UPDATE`, userID, year)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: user %d year %d", ErrRecordNotFound, userID, year)
	}
	return rec, err
}

func (s *txStore) EnsureForUpdate(ctx context.Context, userID int64, year int, defaultEntitlement int) (Record, error) {
	_, err := s.db.Exec(ctx, `INSERT INTO budgets (user_id, year, entitlement_days) VALUES ($1, $2, $3)
ON CONFLICT (user_id, year) DO NOTHING`, userID, year, defaultEntitlement)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return Record{}, fmt.Errorf("%w: user %d", shared.ErrNotFound, userID)
		}
		return Record{}, err
	}
	return s.GetForUpdate(ctx, userID, year)
}

func (s *txStore) Save(ctx context.Context, rec Record) (Record, error) {
	if err := rec.Check(); err != nil {
		return Record{}, err
	}
	err := s.db.QueryRow(ctx, `UPDATE budgets
SET entitlement_days = $3, taken_days = $4, planned_days = $5, carry_over_days = $6, updated_at = NOW()
WHERE user_id = $1 AND year = $2
RETURNING updated_at`,
		rec.UserID, rec.Year, rec.EntitlementDays, rec.TakenDays, rec.PlannedDays, rec.CarryOverDays,
	).Scan(&rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: user %d year %d", ErrRecordNotFound, rec.UserID, rec.Year)
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.UserID, &rec.Year, &rec.EntitlementDays, &rec.TakenDays, &rec.PlannedDays, &rec.CarryOverDays, &rec.UpdatedAt)
	return rec, err
}

package vacation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/odyssey-hr/internal/budget"
	"github.com/odyssey-erp/odyssey-hr/internal/platform/db"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

// ErrRequestNotFound indicates a missing vacation request.
var ErrRequestNotFound = fmt.Errorf("vacation request not found: %w", shared.ErrNotFound)

// TxRepository exposes transactional operations used by service. Budget rows
// are reached through the embedded ledger store of the same transaction.
type TxRepository interface {
	budget.TxStore
	LookupActor(ctx context.Context, userID int64) (Actor, error)
	HasOverlap(ctx context.Context, userID int64, start, end time.Time) (bool, error)
	Insert(ctx context.Context, req Request) (Request, error)
	LockRequest(ctx context.Context, id int64) (Request, error)
	Transition(ctx context.Context, req Request, t Transition) (Request, error)
	RecordApproval(ctx context.Context, log shared.ApprovalLog) error
}

type dbtx interface {
	budget.DBTX
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Repository persists vacation requests in PostgreSQL.
type Repository struct {
	runner *db.TxRunner
}

// NewRepository constructs Repository.
func NewRepository(runner *db.TxRunner) *Repository {
	return &Repository{runner: runner}
}

type txRepo struct {
	budget.TxStore
	db dbtx
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxStore: budget.NewTxStore(tx), db: tx})
	})
}

const selectRequest = `SELECT id, user_id, start_date, end_date, days, status, description, approved_by, approved_at, reject_reason, created_at, updated_at FROM vacation_requests`

// Get returns a request with its allocations.
func (r *Repository) Get(ctx context.Context, id int64) (Request, error) {
	pool := r.runner.Pool()
	req, err := scanRequest(pool.QueryRow(ctx, selectRequest+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, fmt.Errorf("%w: id %d", ErrRequestNotFound, id)
	}
	if err != nil {
		return Request{}, err
	}
	if err := loadAllocations(ctx, pool, []*Request{&req}); err != nil {
		return Request{}, err
	}
	return req, nil
}

// ListForUser lists requests of a user, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID int64, filter ListFilter) ([]Request, error) {
	pool := r.runner.Pool()
	rows, err := pool.Query(ctx, selectRequest+`
WHERE user_id = $1
  AND ($2::text = '' OR status = $2::text)
  AND ($3::int = 0 OR $3::int BETWEEN EXTRACT(YEAR FROM start_date)::int AND EXTRACT(YEAR FROM end_date)::int)
ORDER BY start_date DESC, id DESC`, userID, string(filter.Status), filter.Year)
	if err != nil {
		return nil, err
	}
	reqs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Request, error) {
		return scanRequest(row)
	})
	if err != nil {
		return nil, err
	}
	ptrs := make([]*Request, len(reqs))
	for i := range reqs {
		ptrs[i] = &reqs[i]
	}
	if err := loadAllocations(ctx, pool, ptrs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// History returns the approval log of a request.
func (r *Repository) History(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	return shared.ListApprovals(ctx, r.runner.Pool(), Module, id)
}

func (t *txRepo) LookupActor(ctx context.Context, userID int64) (Actor, error) {
	var a Actor
	err := t.db.QueryRow(ctx, `SELECT id, role, is_active FROM users WHERE id = $1 FOR SHARE`, userID).
		Scan(&a.ID, &a.Role, &a.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Actor{}, fmt.Errorf("%w: user %d", shared.ErrNotFound, userID)
	}
	return a, err
}

func (t *txRepo) HasOverlap(ctx context.Context, userID int64, start, end time.Time) (bool, error) {
	var exists bool
	err := t.db.QueryRow(ctx, `SELECT EXISTS (
    SELECT 1 FROM vacation_requests
    WHERE user_id = $1 AND status IN ('pending', 'approved')
      AND start_date <= $3 AND end_date >= $2
)`, userID, pgDate(start), pgDate(end)).Scan(&exists)
	return exists, err
}

func (t *txRepo) Insert(ctx context.Context, req Request) (Request, error) {
	err := t.db.QueryRow(ctx, `INSERT INTO vacation_requests (user_id, start_date, end_date, days, status, description)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at, updated_at`,
		req.UserID, pgDate(req.StartDate), pgDate(req.EndDate), req.Days, string(req.Status), req.Description,
	).Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return Request{}, err
	}
	rows := make([][]any, 0, len(req.Allocations))
	for _, a := range req.Allocations {
		rows = append(rows, []any{req.ID, int32(a.Year), int32(a.Days)})
	}
	_, err = t.db.CopyFrom(ctx, pgx.Identifier{"vacation_request_allocations"}, []string{"request_id", "year", "days"}, pgx.CopyFromRows(rows))
	if err != nil {
		return Request{}, fmt.Errorf("vacation: insert allocations: %w", err)
	}
	return req, nil
}

func (t *txRepo) LockRequest(ctx context.Context, id int64) (Request, error) {
	req, err := scanRequest(t.db.QueryRow(ctx, selectRequest+` WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, fmt.Errorf("%w: id %d", ErrRequestNotFound, id)
	}
	if err != nil {
		return Request{}, err
	}
	if err := loadAllocations(ctx, t.db, []*Request{&req}); err != nil {
		return Request{}, err
	}
	return req, nil
}

func (t *txRepo) Transition(ctx context.Context, req Request, tr Transition) (Request, error) {
	var approvedBy pgtype.Int8
	var approvedAt pgtype.Timestamptz
	if tr.To == StatusApproved {
		approvedBy = pgtype.Int8{Int64: tr.ActorID, Valid: true}
		approvedAt = pgtype.Timestamptz{Time: tr.At, Valid: true}
	}
	err := t.db.QueryRow(ctx, `UPDATE vacation_requests
SET status = $2, approved_by = $3, approved_at = $4, reject_reason = $5, updated_at = NOW()
WHERE id = $1 AND status = 'pending'
RETURNING updated_at`, req.ID, string(tr.To), approvedBy, approvedAt, tr.RejectReason).Scan(&req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, fmt.Errorf("%w: request %d is no longer pending", shared.ErrInvalidState, req.ID)
	}
	if err != nil {
		return Request{}, err
	}
	req.Status = tr.To
	req.RejectReason = tr.RejectReason
	if approvedBy.Valid {
		by, at := approvedBy.Int64, approvedAt.Time
		req.ApprovedBy, req.ApprovedAt = &by, &at
	}
	return req, nil
}

func (t *txRepo) RecordApproval(ctx context.Context, log shared.ApprovalLog) error {
	return shared.RecordApproval(ctx, t.db, log)
}

func scanRequest(row pgx.Row) (Request, error) {
	var (
		req        Request
		status     string
		approvedBy pgtype.Int8
		approvedAt pgtype.Timestamptz
		start, end pgtype.Date
	)
	err := row.Scan(&req.ID, &req.UserID, &start, &end, &req.Days, &status, &req.Description,
		&approvedBy, &approvedAt, &req.RejectReason, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return Request{}, err
	}
	req.Status = Status(status)
	req.StartDate, req.EndDate = DateOnly(start.Time), DateOnly(end.Time)
	if approvedBy.Valid {
		v := approvedBy.Int64
		req.ApprovedBy = &v
	}
	if approvedAt.Valid {
		v := approvedAt.Time
		req.ApprovedAt = &v
	}
	return req, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadAllocations(ctx context.Context, q queryer, reqs []*Request) error {
	if len(reqs) == 0 {
		return nil
	}
	ids := make([]int64, len(reqs))
	byID := make(map[int64]*Request, len(reqs))
	for i, r := range reqs {
		ids[i] = r.ID
		byID[r.ID] = r
		r.Allocations = nil
	}
	rows, err := q.Query(ctx, `SELECT request_id, year, days FROM vacation_request_allocations
WHERE request_id = ANY($1) ORDER BY request_id, year`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var a Allocation
		if err := rows.Scan(&id, &a.Year, &a.Days); err != nil {
			return err
		}
		if r, ok := byID[id]; ok {
			r.Allocations = append(r.Allocations, a)
		}
	}
	return rows.Err()
}

func pgDate(t time.Time) pgtype.Date {
	return pgtype.Date{Time: DateOnly(t), Valid: !t.IsZero()}
}

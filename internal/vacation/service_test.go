package vacation

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-hr/internal/budget"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

type budgetKey struct {
	userID int64
	year   int
}

type memoryState struct {
	budgets   map[budgetKey]budget.Record
	requests  map[int64]Request
	approvals []shared.ApprovalLog
	nextID    int64
}

func (s memoryState) clone() memoryState {
	return memoryState{
		budgets:   maps.Clone(s.budgets),
		requests:  maps.Clone(s.requests),
		approvals: slices.Clone(s.approvals),
		nextID:    s.nextID,
	}
}

type memoryRepo struct {
	mu    sync.Mutex
	users map[int64]Actor
	state memoryState
}

type memoryTx struct {
	users map[int64]Actor
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		users: map[int64]Actor{
			1: {ID: 1, Role: shared.RoleAdmin, IsActive: true},
			2: {ID: 2, Role: shared.RoleEmployee, IsActive: true},
			3: {ID: 3, Role: shared.RoleEmployee, IsActive: true},
			4: {ID: 4, Role: shared.RoleAdmin, IsActive: false},
			5: {ID: 5, Role: shared.RoleEmployee, IsActive: false},
		},
		state: memoryState{
			budgets:  make(map[budgetKey]budget.Record),
			requests: make(map[int64]Request),
		},
	}
}

// WithTx serialises transactions and discards writes when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	working := r.state.clone()
	if err := fn(ctx, &memoryTx{users: r.users, state: &working}); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.state.requests[id]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	return req, nil
}

func (r *memoryRepo) ListForUser(ctx context.Context, userID int64, filter ListFilter) ([]Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Request
	for _, req := range r.state.requests {
		if req.UserID != userID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.Year != 0 && (filter.Year < req.StartDate.Year() || filter.Year > req.EndDate.Year()) {
			continue
		}
		out = append(out, req)
	}
	slices.SortFunc(out, func(a, b Request) int { return b.StartDate.Compare(a.StartDate) })
	return out, nil
}

func (r *memoryRepo) History(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.ApprovalLog
	for _, log := range r.state.approvals {
		if log.RefID == id {
			out = append(out, log)
		}
	}
	return out, nil
}

func (r *memoryRepo) setBudget(userID int64, year, entitlement int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.budgets[budgetKey{userID, year}] = budget.Record{UserID: userID, Year: year, EntitlementDays: entitlement}
}

func (r *memoryRepo) budget(t *testing.T, userID int64, year int) budget.Record {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.state.budgets[budgetKey{userID, year}]
	require.True(t, ok, "budget %d/%d missing", userID, year)
	return rec
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, userID int64, year int) (budget.Record, error) {
	rec, ok := tx.state.budgets[budgetKey{userID, year}]
	if !ok {
		return budget.Record{}, fmt.Errorf("%w: user %d year %d", budget.ErrRecordNotFound, userID, year)
	}
	return rec, nil
}

func (tx *memoryTx) EnsureForUpdate(ctx context.Context, userID int64, year int, defaultEntitlement int) (budget.Record, error) {
	if _, ok := tx.users[userID]; !ok {
		return budget.Record{}, shared.ErrNotFound
	}
	k := budgetKey{userID, year}
	if _, ok := tx.state.budgets[k]; !ok {
		tx.state.budgets[k] = budget.Record{UserID: userID, Year: year, EntitlementDays: defaultEntitlement}
	}
	return tx.state.budgets[k], nil
}

func (tx *memoryTx) Save(ctx context.Context, rec budget.Record) (budget.Record, error) {
	if err := rec.Check(); err != nil {
		return budget.Record{}, err
	}
	tx.state.budgets[budgetKey{rec.UserID, rec.Year}] = rec
	return rec, nil
}

func (tx *memoryTx) LookupActor(ctx context.Context, userID int64) (Actor, error) {
	a, ok := tx.users[userID]
	if !ok {
		return Actor{}, fmt.Errorf("%w: user %d", shared.ErrNotFound, userID)
	}
	return a, nil
}

func (tx *memoryTx) HasOverlap(ctx context.Context, userID int64, start, end time.Time) (bool, error) {
	for _, req := range tx.state.requests {
		if req.UserID != userID || (req.Status != StatusPending && req.Status != StatusApproved) {
			continue
		}
		if !req.StartDate.After(end) && !req.EndDate.Before(start) {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) Insert(ctx context.Context, req Request) (Request, error) {
	tx.state.nextID++
	req.ID = tx.state.nextID
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	tx.state.requests[req.ID] = req
	return req, nil
}

func (tx *memoryTx) LockRequest(ctx context.Context, id int64) (Request, error) {
	req, ok := tx.state.requests[id]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	return req, nil
}

func (tx *memoryTx) Transition(ctx context.Context, req Request, t Transition) (Request, error) {
	current := tx.state.requests[req.ID]
	if current.Status != StatusPending {
		return Request{}, shared.ErrInvalidState
	}
	current.Status = t.To
	current.RejectReason = t.RejectReason
	if t.To == StatusApproved {
		by, at := t.ActorID, t.At
		current.ApprovedBy, current.ApprovedAt = &by, &at
	}
	tx.state.requests[req.ID] = current
	return current, nil
}

func (tx *memoryTx) RecordApproval(ctx context.Context, log shared.ApprovalLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	tx.state.approvals = append(tx.state.approvals, log)
	return nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	decisions []Decision
}

func (n *recordingNotifier) NotifyDecision(_ context.Context, d Decision) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.decisions = append(n.decisions, d)
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type recordingMetrics struct {
	mu          sync.Mutex
	transitions []string
}

func (m *recordingMetrics) ObserveTransition(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, from+"->"+to)
}

func newTestService(repo *memoryRepo, deps Deps) *Service {
	return NewService(repo, deps, ServiceConfig{
		Now: func() time.Time { return time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC) },
	})
}

func submit(t *testing.T, svc *Service, userID int64, start, end string) (Request, error) {
	t.Helper()
	return svc.Submit(t.Context(), SubmitInput{UserID: userID, StartDate: date(start), EndDate: date(end)})
}

func TestSubmitApproveScenario(t *testing.T) {
	repo := newMemoryRepo()
	repo.setBudget(2, 2026, 24)
	notifier := &recordingNotifier{}
	metrics := &recordingMetrics{}
	svc := newTestService(repo, Deps{Notifier: notifier, Metrics: metrics})

	req, err := submit(t, svc, 2, "2026-01-05", "2026-01-13")
	require.NoError(t, err)
	require.Equal(t, StatusPending, req.Status)
	require.Equal(t, 9, req.Days)
	require.Equal(t, 9, repo.budget(t, 2, 2026).PlannedDays)

	approved, err := svc.Approve(t.Context(), req.ID, 1)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	require.EqualValues(t, 1, *approved.ApprovedBy)
	rec := repo.budget(t, 2, 2026)
	require.Equal(t, 9, rec.TakenDays)
	require.Equal(t, 0, rec.PlannedDays)

	_, err = submit(t, svc, 2, "2026-01-10", "2026-01-12")
	require.ErrorIs(t, err, shared.ErrOverlap)

	next, err := submit(t, svc, 2, "2026-01-14", "2026-01-16")
	require.NoError(t, err)
	require.Equal(t, 3, next.Days)

	require.Len(t, notifier.decisions, 1)
	require.Equal(t, StatusApproved, notifier.decisions[0].Status)
	require.Equal(t, []string{"new->pending", "pending->approved", "new->pending"}, metrics.transitions)

	history, err := svc.History(t.Context(), req.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, shared.ApprovalSubmit, history[0].Action)
	require.Equal(t, shared.ApprovalApprove, history[1].Action)
}

func TestSubmitThenCancelRestoresBudget(t *testing.T) {
	repo := newMemoryRepo()
	repo.setBudget(2, 2026, 24)
	svc := newTestService(repo, Deps{})
	before := repo.budget(t, 2, 2026)

	req, err := submit(t, svc, 2, "2026-03-02", "2026-03-06")
	require.NoError(t, err)
	cancelled, err := svc.Cancel(t.Context(), req.ID, 2)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, before, repo.budget(t, 2, 2026))

	_, err = submit(t, svc, 2, "2026-03-02", "2026-03-06")
	require.NoError(t, err)
}

func TestApproveTwiceFails(t *testing.T) {
	repo := newMemoryRepo()
	repo.setBudget(2, 2026, 24)
	svc := newTestService(repo, Deps{})

	req, err := submit(t, svc, 2, "2026-05-04", "2026-05-05")
	require.NoError(t, err)
	_, err = svc.Approve(t.Context(), req.ID, 1)
	require.NoError(t, err)
	_, err = svc.Approve(t.Context(), req.ID, 1)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = svc.Cancel(t.Context(), req.ID, 2)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Equal(t, 2, repo.budget(t, 2, 2026).TakenDays)
}

func TestRejectReleasesDays(t *testing.T) {
	repo := newMemoryRepo()
	repo.setBudget(2, 2026, 24)
	svc := newTestService(repo, Deps{})

	req, err := submit(t, svc, 2, "2026-06-01", "2026-06-10")
	require.NoError(t, err)
	rejected, err := svc.Reject(t.Context(), req.ID, 1, " peak season ")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Equal(t, "peak season", rejected.RejectReason)
	rec := repo.budget(t, 2, 2026)
	require.Equal(t, 0, rec.PlannedDays)
	require.Equal(t, 0, rec.TakenDays)
}

func TestSubmitInsufficientBudgetLeavesRecordUnchanged(t *testing.T) {
	repo := newMemoryRepo()
	repo.setBudget(2, 2026, 24)
	svc := newTestService(repo, Deps{})
	before := repo.budget(t, 2, 2026)

	_, err := submit(t, svc, 2, "2026-07-01", "2026-07-30")
	require.ErrorIs(t, err, shared.ErrInsufficientBudget)
	require.Equal(t, before, repo.budget(t, 2, 2026))

	reqs, err := svc.ListForUser(t.Context(), 2, ListFilter{})
	require.NoError(t, err)
	require.Empty(t, reqs)
}

func TestConcurrentSubmitsExactlyOneSucceeds(t *testing.T) {
	repo := newMemoryRepo()
	repo.setBudget(2, 2026, 24)
	svc := newTestService(repo, Deps{})

	ranges := [][2]string{
		{"2026-02-01", "2026-02-20"},
		{"2026-04-01", "2026-04-20"},
		{"2026-08-01", "2026-08-20"},
		{"2026-10-01", "2026-10-20"},
	}
	errs := make(chan error, len(ranges))
	var wg sync.WaitGroup
	for _, rg := range ranges {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(context.Background(), SubmitInput{UserID: 2, StartDate: date(rg[0]), EndDate: date(rg[1])})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, shared.ErrInsufficientBudget)
	}
	require.Equal(t, 1, succeeded)
	rec := repo.budget(t, 2, 2026)
	require.Equal(t, 20, rec.PlannedDays)
	require.NoError(t, rec.Check())
}

func TestSubmitValidatesUserAndRange(t *testing.T) {
	repo := newMemoryRepo()
	repo.setBudget(2, 2026, 24)
	svc := newTestService(repo, Deps{})

	_, err := submit(t, svc, 2, "2026-01-13", "2026-01-05")
	require.ErrorIs(t, err, shared.ErrInvalidRange)
	_, err = submit(t, svc, 99, "2026-01-05", "2026-01-06")
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = submit(t, svc, 5, "2026-01-05", "2026-01-06")
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestDecisionsRequireActiveAdminAndOwner(t *testing.T) {
	repo := newMemoryRepo()
	repo.setBudget(2, 2026, 24)
	svc := newTestService(repo, Deps{})
	req, err := submit(t, svc, 2, "2026-09-07", "2026-09-08")
	require.NoError(t, err)

	_, err = svc.Approve(t.Context(), req.ID, 3)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Approve(t.Context(), req.ID, 4)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Reject(t.Context(), req.ID, 99, "")
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Cancel(t.Context(), req.ID, 3)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Approve(t.Context(), 404, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.Equal(t, 2, repo.budget(t, 2, 2026).PlannedDays)
}

func TestCrossYearRequestUsesBothBudgets(t *testing.T) {
	repo := newMemoryRepo()
	repo.setBudget(2, 2025, 2)
	repo.setBudget(2, 2026, 24)
	svc := newTestService(repo, Deps{})

	_, err := submit(t, svc, 2, "2025-12-29", "2026-01-02")
	require.ErrorIs(t, err, shared.ErrInsufficientBudget)
	require.Equal(t, 0, repo.budget(t, 2, 2026).PlannedDays)

	req, err := submit(t, svc, 2, "2025-12-30", "2026-01-02")
	require.NoError(t, err)
	require.Equal(t, []Allocation{{Year: 2025, Days: 2}, {Year: 2026, Days: 2}}, req.Allocations)

	_, err = svc.Approve(t.Context(), req.ID, 1)
	require.NoError(t, err)
	require.Equal(t, 2, repo.budget(t, 2, 2025).TakenDays)
	require.Equal(t, 2, repo.budget(t, 2, 2026).TakenDays)

	byYear, err := svc.ListForUser(t.Context(), 2, ListFilter{Year: 2025})
	require.NoError(t, err)
	require.Len(t, byYear, 1)
}

func TestWorkingDaySubmitLocksWeekendOnlyYear(t *testing.T) {
	repo := newMemoryRepo()
	repo.setBudget(2, 2021, 24)
	svc := NewService(repo, Deps{}, ServiceConfig{DayCount: WorkingDays, Ledger: budget.Ledger{DefaultEntitlement: 20}})

	req, err := submit(t, svc, 2, "2021-12-31", "2022-01-01")
	require.NoError(t, err)
	require.Equal(t, []Allocation{{Year: 2021, Days: 1}}, req.Allocations)
	require.Equal(t, 1, repo.budget(t, 2, 2021).PlannedDays)
	locked := repo.budget(t, 2, 2022)
	require.Equal(t, 20, locked.EntitlementDays)
	require.Equal(t, 0, locked.PlannedDays)

	_, err = submit(t, svc, 2, "2022-01-01", "2022-01-03")
	require.ErrorIs(t, err, shared.ErrOverlap)
}

func TestSubmitOnBehalfRecordsActingAdmin(t *testing.T) {
	repo := newMemoryRepo()
	repo.setBudget(2, 2026, 24)
	audit := &recordingAudit{}
	svc := newTestService(repo, Deps{Audit: audit})

	req, err := svc.Submit(t.Context(), SubmitInput{UserID: 2, ActorID: 1, StartDate: date("2026-03-02"), EndDate: date("2026-03-03")})
	require.NoError(t, err)
	require.EqualValues(t, 2, req.UserID)

	history, err := svc.History(t.Context(), req.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.EqualValues(t, 1, history[0].ActorID)
	require.Len(t, audit.logs, 1)
	require.EqualValues(t, 1, audit.logs[0].ActorID)
	require.Equal(t, "vacation:submit", audit.logs[0].Action)

	own, err := submit(t, svc, 2, "2026-03-09", "2026-03-09")
	require.NoError(t, err)
	history, err = svc.History(t.Context(), own.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, history[0].ActorID)
}

func TestSubmitIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo()
	repo.setBudget(2, 2026, 24)
	idem := &memoryIdempotency{keys: map[string]bool{}}
	svc := newTestService(repo, Deps{Idempotency: idem})
	in := SubmitInput{UserID: 2, StartDate: date("2026-11-02"), EndDate: date("2026-11-03"), IdempotencyKey: "abc"}

	_, err := svc.Submit(t.Context(), in)
	require.NoError(t, err)
	_, err = svc.Submit(t.Context(), in)
	require.ErrorIs(t, err, shared.ErrConflict)

	failing := SubmitInput{UserID: 2, StartDate: date("2026-12-01"), EndDate: date("2026-12-31"), IdempotencyKey: "retry-me"}
	_, err = svc.Submit(t.Context(), failing)
	require.ErrorIs(t, err, shared.ErrInsufficientBudget)
	require.False(t, idem.keys["vacation:submit:2:retry-me"])
}

func TestListForUserRejectsUnknownStatus(t *testing.T) {
	svc := newTestService(newMemoryRepo(), Deps{})
	_, err := svc.ListForUser(t.Context(), 2, ListFilter{Status: "archived"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

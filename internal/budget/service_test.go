package budget

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-hr/internal/platform/db"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

type budgetKey struct {
	userID int64
	year   int
}

type memoryRepo struct {
	mu      sync.Mutex
	records map[budgetKey]Record
	users   []int64
}

type memoryTx struct {
	records map[budgetKey]Record
}

func newMemoryRepo(users ...int64) *memoryRepo {
	return &memoryRepo{records: make(map[budgetKey]Record), users: users}
}

// WithTx serialises transactions and discards writes when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{records: maps.Clone(r.records)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.records = tx.records
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, userID int64, year int) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[budgetKey{userID, year}]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (r *memoryRepo) ListForYear(ctx context.Context, year int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, id := range r.users {
		if rec, ok := r.records[budgetKey{id, year}]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListActiveUserIDs(ctx context.Context) ([]int64, error) {
	return r.users, nil
}

func (r *memoryRepo) put(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[budgetKey{rec.UserID, rec.Year}] = rec
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, userID int64, year int) (Record, error) {
	rec, ok := tx.records[budgetKey{userID, year}]
	if !ok {
		return Record{}, fmt.Errorf("%w: user %d year %d", ErrRecordNotFound, userID, year)
	}
	return rec, nil
}

func (tx *memoryTx) EnsureForUpdate(ctx context.Context, userID int64, year int, defaultEntitlement int) (Record, error) {
	k := budgetKey{userID, year}
	if _, ok := tx.records[k]; !ok {
		tx.records[k] = Record{UserID: userID, Year: year, EntitlementDays: defaultEntitlement}
	}
	return tx.records[k], nil
}

func (tx *memoryTx) Save(ctx context.Context, rec Record) (Record, error) {
	if err := rec.Check(); err != nil {
		return Record{}, err
	}
	rec.UpdatedAt = time.Now()
	tx.records[budgetKey{rec.UserID, rec.Year}] = rec
	return rec, nil
}

type countingInvalidator struct{ calls atomic.Int32 }

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls.Add(1)
	return nil
}

type memoryAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func TestReserveCommitRelease(t *testing.T) {
	repo := newMemoryRepo(1)
	repo.put(Record{UserID: 1, Year: 2026, EntitlementDays: 25})
	inv := &countingInvalidator{}
	svc := NewService(repo, nil, inv, ServiceConfig{}, nil)
	ctx := t.Context()

	rec, err := svc.Reserve(ctx, 1, 2026, 9)
	require.NoError(t, err)
	require.Equal(t, 9, rec.PlannedDays)
	require.Equal(t, 16, rec.Available())

	rec, err = svc.Commit(ctx, 1, 2026, 5)
	require.NoError(t, err)
	require.Equal(t, 4, rec.PlannedDays)
	require.Equal(t, 5, rec.TakenDays)

	rec, err = svc.Release(ctx, 1, 2026, 4)
	require.NoError(t, err)
	require.Equal(t, 0, rec.PlannedDays)
	require.Equal(t, 20, rec.Available())
	require.EqualValues(t, 3, inv.calls.Load())
}

func TestReserveRejectsOverBudget(t *testing.T) {
	repo := newMemoryRepo(1)
	repo.put(Record{UserID: 1, Year: 2026, EntitlementDays: 25, TakenDays: 20})
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)

	_, err := svc.Reserve(t.Context(), 1, 2026, 6)
	require.ErrorIs(t, err, shared.ErrInsufficientBudget)

	rec, err := svc.Get(t.Context(), 1, 2026)
	require.NoError(t, err)
	require.Equal(t, 0, rec.PlannedDays)
}

func TestReserveCreatesMissingRecordWithDefault(t *testing.T) {
	repo := newMemoryRepo(1)
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)
	_, err := svc.Reserve(t.Context(), 1, 2026, 1)
	require.ErrorIs(t, err, shared.ErrInsufficientBudget)

	svc = NewService(repo, nil, nil, ServiceConfig{DefaultEntitlement: 20}, nil)
	rec, err := svc.Reserve(t.Context(), 1, 2026, 3)
	require.NoError(t, err)
	require.Equal(t, 20, rec.EntitlementDays)
	require.Equal(t, 3, rec.PlannedDays)
}

func TestLedgerRejectsInconsistentSettlement(t *testing.T) {
	repo := newMemoryRepo(1)
	repo.put(Record{UserID: 1, Year: 2026, EntitlementDays: 25, PlannedDays: 2})
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)

	_, err := svc.Commit(t.Context(), 1, 2026, 3)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = svc.Release(t.Context(), 1, 2027, 1)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = svc.Reserve(t.Context(), 1, 2026, 0)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Release(t.Context(), 1, 2026, -1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestConcurrentReservesNeverOverspend(t *testing.T) {
	repo := newMemoryRepo(1)
	repo.put(Record{UserID: 1, Year: 2026, EntitlementDays: 25})
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(context.Background(), 1, 2026, 10)
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
	require.Equal(t, 2, succeeded)
	rec, err := svc.Get(t.Context(), 1, 2026)
	require.NoError(t, err)
	require.Equal(t, 20, rec.PlannedDays)
	require.NoError(t, rec.Check())
}

func TestCarryForwardIsIdempotentAndCapped(t *testing.T) {
	repo := newMemoryRepo(1)
	repo.put(Record{UserID: 1, Year: 2025, EntitlementDays: 25, TakenDays: 10, CarryOverDays: 2})
	audit := &memoryAudit{}
	svc := NewService(repo, audit, nil, ServiceConfig{DefaultEntitlement: 25, MaxCarryOver: 5}, nil)
	in := CarryForwardInput{UserID: 1, FromYear: 2025, ToYear: 2026, ActorID: 9}

	first, err := svc.CarryForward(t.Context(), in)
	require.NoError(t, err)
	require.Equal(t, 5, first.CarryOverDays)
	require.Equal(t, 25, first.EntitlementDays)

	second, err := svc.CarryForward(t.Context(), in)
	require.NoError(t, err)
	require.Equal(t, first.CarryOverDays, second.CarryOverDays)
	require.Equal(t, first.Available(), second.Available())

	uncapped := 100
	in.MaxDays = &uncapped
	third, err := svc.CarryForward(t.Context(), in)
	require.NoError(t, err)
	require.Equal(t, 17, third.CarryOverDays)
	require.Len(t, audit.logs, 3)
	require.Equal(t, "1:2026", audit.logs[0].EntityID)
}

func TestCarryForwardErrors(t *testing.T) {
	repo := newMemoryRepo(1)
	repo.put(Record{UserID: 1, Year: 2025, EntitlementDays: 25})
	repo.put(Record{UserID: 1, Year: 2026, EntitlementDays: 0, CarryOverDays: 10, PlannedDays: 8})
	svc := NewService(repo, nil, nil, ServiceConfig{MaxCarryOver: 5}, nil)

	_, err := svc.CarryForward(t.Context(), CarryForwardInput{UserID: 1, FromYear: 2026, ToYear: 2026})
	require.ErrorIs(t, err, shared.ErrInvalidRange)

	_, err = svc.CarryForward(t.Context(), CarryForwardInput{UserID: 1, FromYear: 2024, ToYear: 2025})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.CarryForward(t.Context(), CarryForwardInput{UserID: 1, FromYear: 2025, ToYear: 2026})
	require.ErrorIs(t, err, shared.ErrInsufficientBudget)

	rec, err := svc.Get(t.Context(), 1, 2026)
	require.NoError(t, err)
	require.Equal(t, 10, rec.CarryOverDays)
}

func TestCarryForwardAllSkipsUsersWithoutHistory(t *testing.T) {
	repo := newMemoryRepo(1, 2, 3)
	repo.put(Record{UserID: 1, Year: 2025, EntitlementDays: 25, TakenDays: 22})
	repo.put(Record{UserID: 3, Year: 2025, EntitlementDays: 25})
	svc := NewService(repo, nil, nil, ServiceConfig{DefaultEntitlement: 25, Retry: db.RetryPolicy{Attempts: 1}}, nil)

	summary, err := svc.CarryForwardAll(t.Context(), 2025, 2026, 5)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Processed)
	require.Equal(t, []int64{2}, summary.Skipped)
	require.Empty(t, summary.Failed)

	rec, err := svc.Get(t.Context(), 1, 2026)
	require.NoError(t, err)
	require.Equal(t, 3, rec.CarryOverDays)
	rec, err = svc.Get(t.Context(), 3, 2026)
	require.NoError(t, err)
	require.Equal(t, 5, rec.CarryOverDays)
}

func TestSetEntitlementKeepsInvariant(t *testing.T) {
	repo := newMemoryRepo(1)
	repo.put(Record{UserID: 1, Year: 2026, EntitlementDays: 25, TakenDays: 15})
	svc := NewService(repo, nil, nil, ServiceConfig{}, nil)

	_, err := svc.SetEntitlement(t.Context(), EntitlementInput{UserID: 1, Year: 2026, EntitlementDays: 10})
	require.ErrorIs(t, err, shared.ErrInsufficientBudget)

	rec, err := svc.SetEntitlement(t.Context(), EntitlementInput{UserID: 1, Year: 2026, EntitlementDays: 20, CarryOverDays: 3})
	require.NoError(t, err)
	require.Equal(t, 8, rec.Available())

	rec, err = svc.SetEntitlement(t.Context(), EntitlementInput{UserID: 1, Year: 2027, EntitlementDays: 30})
	require.NoError(t, err)
	require.Equal(t, 30, rec.EntitlementDays)
}

func TestLeftover(t *testing.T) {
	require.Equal(t, 0, Leftover(Record{EntitlementDays: 5, TakenDays: 7}, 5))
	require.Equal(t, 4, Leftover(Record{EntitlementDays: 5, TakenDays: 1}, 10))
	require.Equal(t, 2, Leftover(Record{EntitlementDays: 5}, 2))
}

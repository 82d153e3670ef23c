package reporting

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

type mockRepo struct {
	calls   atomic.Int32
	gate    chan struct{}
	err     error
	pending int
}

func (m *mockRepo) Headcount(ctx context.Context) (Headcount, error) {
	m.calls.Add(1)
	if m.gate != nil {
		<-m.gate
	}
	return Headcount{ActiveUsers: 3, Markets: 2}, nil
}

func (m *mockRepo) RequestsByStatus(ctx context.Context, year int) (map[string]int, error) {
	if m.err != nil {
		return nil, m.err
	}
	return map[string]int{"pending": m.pending, "approved": 1}, nil
}

func (m *mockRepo) BudgetTotals(ctx context.Context, year int) (Totals, error) {
	return Totals{EntitlementDays: 75, TakenDays: 10, PlannedDays: 8, CarryOverDays: 4}, nil
}

func (m *mockRepo) MarketBreakdown(ctx context.Context, year int) ([]MarketRow, error) {
	return []MarketRow{
		{MarketID: 1, MarketName: "Berlin", ActiveUsers: 2, Totals: Totals{EntitlementDays: 50, TakenDays: 10}},
		{MarketID: 2, MarketName: "Hamburg", ActiveUsers: 1, Totals: Totals{EntitlementDays: 25, PlannedDays: 8, CarryOverDays: 4}},
	}, nil
}

func newTestService(t *testing.T, repo Repository) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := NewService(repo, NewCache(client, time.Minute), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, mr
}

func TestDashboardCachesUntilInvalidated(t *testing.T) {
	repo := &mockRepo{pending: 2}
	svc, _ := newTestService(t, repo)
	ctx := context.Background()

	first, err := svc.Dashboard(ctx, 2026)
	require.NoError(t, err)
	require.Equal(t, 3, first.ActiveUsers)
	require.Equal(t, 2, first.Markets)
	require.Equal(t, map[string]int{"pending": 2, "approved": 1, "rejected": 0, "cancelled": 0}, first.Requests)
	require.Equal(t, 75, first.Budget.EntitlementDays)
	require.Len(t, first.PerMarket, 2)

	repo.pending = 5
	cached, err := svc.Dashboard(ctx, 2026)
	require.NoError(t, err)
	require.Equal(t, 2, cached.Requests["pending"])
	require.EqualValues(t, 1, repo.calls.Load())

	require.NoError(t, svc.Invalidate(ctx))
	fresh, err := svc.Dashboard(ctx, 2026)
	require.NoError(t, err)
	require.Equal(t, 5, fresh.Requests["pending"])
	require.EqualValues(t, 2, repo.calls.Load())
}

func TestDashboardCollapsesConcurrentMisses(t *testing.T) {
	repo := &mockRepo{gate: make(chan struct{})}
	svc, _ := newTestService(t, repo)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Dashboard(context.Background(), 2026)
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(repo.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.LessOrEqual(t, repo.calls.Load(), int32(2))
}

func TestDashboardErrors(t *testing.T) {
	svc, _ := newTestService(t, &mockRepo{err: errors.New("boom")})
	_, err := svc.Dashboard(context.Background(), 2026)
	require.ErrorContains(t, err, "boom")

	_, err = svc.Dashboard(context.Background(), 0)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDashboardWithoutCache(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, nil, nil)
	_, err := svc.Dashboard(context.Background(), 2026)
	require.NoError(t, err)
	_, err = svc.Dashboard(context.Background(), 2026)
	require.NoError(t, err)
	require.EqualValues(t, 2, repo.calls.Load())
	require.NoError(t, svc.Invalidate(context.Background()))
}

func TestCacheVersionSurvivesRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewCache(client, time.Minute)
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, "reporting", "dashboard", "2026")
	require.NoError(t, err)
	require.Equal(t, "reporting:dashboard:2026:v1", key)
	require.NoError(t, cache.Bump(ctx))
	key, err = NewCache(client, time.Minute).BuildKey(ctx, "reporting", "dashboard", "2026")
	require.NoError(t, err)
	require.Equal(t, "reporting:dashboard:2026:v2", key)
}

func TestDashboardHandlerRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t, &mockRepo{})
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Route("/reports", h.MountRoutes)

	do := func(p shared.Principal, query string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/reports/dashboard"+query, nil)
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), p))
		res := httptest.NewRecorder()
		r.ServeHTTP(res, req)
		return res
	}

	require.Equal(t, http.StatusForbidden, do(shared.Principal{UserID: 2, Role: shared.RoleEmployee}, "").Code)
	require.Equal(t, http.StatusUnprocessableEntity, do(shared.Principal{UserID: 1, Role: shared.RoleAdmin}, "?year=abc").Code)
	res := do(shared.Principal{UserID: 1, Role: shared.RoleAdmin}, "?year=2026")
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"requests_by_status"`)
}

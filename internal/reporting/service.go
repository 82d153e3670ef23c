package reporting

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-hr/internal/shared"
	"github.com/odyssey-erp/odyssey-hr/internal/vacation"
)

// Repository exposes the read queries behind the dashboard.
type Repository interface {
	Headcount(ctx context.Context) (Headcount, error)
	RequestsByStatus(ctx context.Context, year int) (map[string]int, error)
	BudgetTotals(ctx context.Context, year int) (Totals, error)
	MarketBreakdown(ctx context.Context, year int) ([]MarketRow, error)
}

// Service coordinates report queries with the cache layer.
type Service struct {
	repo   Repository
	cache  *Cache
	group  singleflight.Group
	now    func() time.Time
	logger *slog.Logger
}

// NewService wires a Repository with a Cache helper.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, now: time.Now, logger: logger}
}

// Dashboard returns the projection for year. Concurrent cache misses for the
// same key share one load.
func (s *Service) Dashboard(ctx context.Context, year int) (Dashboard, error) {
	if year < 1 || year > 9999 {
		return Dashboard{}, fmt.Errorf("%w: year %d out of range", shared.ErrValidation, year)
	}
	key, err := s.cache.BuildKey(ctx, "reporting", "dashboard", strconv.Itoa(year))
	if err != nil {
		return Dashboard{}, fmt.Errorf("reporting: cache key: %w", err)
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		var out Dashboard
		err := s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
			return s.load(ctx, year)
		})
		return out, err
	})
	if err != nil {
		return Dashboard{}, err
	}
	return v.(Dashboard), nil
}

func (s *Service) load(ctx context.Context, year int) (Dashboard, error) {
	out := Dashboard{Year: year, GeneratedAt: s.now().UTC()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hc, err := s.repo.Headcount(gctx)
		if err != nil {
			return fmt.Errorf("reporting: headcount: %w", err)
		}
		out.ActiveUsers, out.Markets = hc.ActiveUsers, hc.Markets
		return nil
	})
	g.Go(func() error {
		counts, err := s.repo.RequestsByStatus(gctx, year)
		if err != nil {
			return fmt.Errorf("reporting: requests: %w", err)
		}
		out.Requests = normalizeCounts(counts)
		return nil
	})
	g.Go(func() error {
		totals, err := s.repo.BudgetTotals(gctx, year)
		if err != nil {
			return fmt.Errorf("reporting: budget totals: %w", err)
		}
		out.Budget = totals
		return nil
	})
	g.Go(func() error {
		rows, err := s.repo.MarketBreakdown(gctx, year)
		if err != nil {
			return fmt.Errorf("reporting: market breakdown: %w", err)
		}
		out.PerMarket = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	if out.PerMarket == nil {
		out.PerMarket = []MarketRow{}
	}
	return out, nil
}

// Invalidate drops every cached projection.
func (s *Service) Invalidate(ctx context.Context) error {
	if err := s.cache.Bump(ctx); err != nil {
		return fmt.Errorf("reporting: invalidate: %w", err)
	}
	return nil
}

// normalizeCounts reports every status, including the ones with no requests.
func normalizeCounts(in map[string]int) map[string]int {
	out := make(map[string]int, 4)
	for _, st := range []vacation.Status{vacation.StatusPending, vacation.StatusApproved, vacation.StatusRejected, vacation.StatusCancelled} {
		out[string(st)] = in[string(st)]
	}
	return out
}

package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/odyssey-erp/odyssey-hr/internal/platform/db"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	Get(ctx context.Context, userID int64, year int) (Record, error)
	ListForYear(ctx context.Context, year int) ([]Record, error)
	ListActiveUserIDs(ctx context.Context) ([]int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Invalidator drops cached projections after balances change.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	DefaultEntitlement int
	MaxCarryOver       int
	Retry              db.RetryPolicy
}

// Service coordinates budget ledger operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	invalidator Invalidator
	ledger      Ledger
	maxCarry    int
	retry       db.RetryPolicy
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, invalidator Invalidator, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	if retry.Attempts == 0 {
		retry = db.DefaultRetryPolicy
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		invalidator: invalidator,
		ledger:      Ledger{DefaultEntitlement: cfg.DefaultEntitlement},
		maxCarry:    cfg.MaxCarryOver,
		retry:       retry,
		logger:      logger,
	}
}

// Ledger exposes the arithmetic used inside shared transactions.
func (s *Service) Ledger() Ledger {
	return s.ledger
}

// MaxCarryOver returns the configured carry over cap.
func (s *Service) MaxCarryOver() int {
	return s.maxCarry
}

// Reserve plans days for user in year.
func (s *Service) Reserve(ctx context.Context, userID int64, year, days int) (Record, error) {
	return s.apply(ctx, func(ctx context.Context, tx TxStore) (Record, error) {
		return s.ledger.Reserve(ctx, tx, userID, year, days)
	})
}

// Commit turns planned days into taken days.
func (s *Service) Commit(ctx context.Context, userID int64, year, days int) (Record, error) {
	return s.apply(ctx, func(ctx context.Context, tx TxStore) (Record, error) {
		return s.ledger.Commit(ctx, tx, userID, year, days)
	})
}

// Release drops planned days.
func (s *Service) Release(ctx context.Context, userID int64, year, days int) (Record, error) {
	return s.apply(ctx, func(ctx context.Context, tx TxStore) (Record, error) {
		return s.ledger.Release(ctx, tx, userID, year, days)
	})
}

// CarryForward moves leftover days for a single user. A nil MaxDays uses the
// configured cap.
func (s *Service) CarryForward(ctx context.Context, in CarryForwardInput) (Record, error) {
	maxDays := s.maxCarry
	if in.MaxDays != nil {
		maxDays = *in.MaxDays
	}
	rec, err := s.apply(ctx, func(ctx context.Context, tx TxStore) (Record, error) {
		return s.ledger.CarryForward(ctx, tx, in.UserID, in.FromYear, in.ToYear, maxDays)
	})
	if err != nil {
		return Record{}, err
	}
	s.record(ctx, in.ActorID, "budget:carry_forward", rec, map[string]any{
		"from_year": in.FromYear,
		"max_days":  maxDays,
	})
	return rec, nil
}

// CarryForwardAll runs CarryForward for every active user. Users without a
// fromYear record are skipped; busy rows are retried with backoff.
func (s *Service) CarryForwardAll(ctx context.Context, fromYear, toYear, maxDays int) (CarryForwardSummary, error) {
	summary := CarryForwardSummary{FromYear: fromYear, ToYear: toYear}
	if toYear <= fromYear {
		return summary, fmt.Errorf("%w: carry forward from %d to %d", shared.ErrInvalidRange, fromYear, toYear)
	}
	ids, err := s.repo.ListActiveUserIDs(ctx)
	if err != nil {
		return summary, fmt.Errorf("budget: list active users: %w", err)
	}
	for _, id := range ids {
		userID := id
		err := db.Retry(ctx, s.retry, func(ctx context.Context) error {
			_, err := s.apply(ctx, func(ctx context.Context, tx TxStore) (Record, error) {
				return s.ledger.CarryForward(ctx, tx, userID, fromYear, toYear, maxDays)
			})
			return err
		})
		switch {
		case err == nil:
			summary.Processed++
		case errors.Is(err, ErrRecordNotFound):
			summary.Skipped = append(summary.Skipped, userID)
		case ctx.Err() != nil:
			return summary, ctx.Err()
		default:
			s.logger.Warn("carry forward failed", slog.Int64("user_id", userID), slog.Any("error", err))
			summary.Failed = append(summary.Failed, userID)
		}
	}
	return summary, nil
}

// SetEntitlement replaces the yearly entitlement and carry over.
func (s *Service) SetEntitlement(ctx context.Context, in EntitlementInput) (Record, error) {
	if in.UserID <= 0 || in.Year <= 0 {
		return Record{}, fmt.Errorf("%w: user and year required", shared.ErrValidation)
	}
	rec, err := s.apply(ctx, func(ctx context.Context, tx TxStore) (Record, error) {
		return s.ledger.SetEntitlement(ctx, tx, in)
	})
	if err != nil {
		return Record{}, err
	}
	s.record(ctx, in.ActorID, "budget:set_entitlement", rec, map[string]any{
		"entitlement_days": in.EntitlementDays,
		"carry_over_days":  in.CarryOverDays,
	})
	return rec, nil
}

// Get returns a single record.
func (s *Service) Get(ctx context.Context, userID int64, year int) (Record, error) {
	return s.repo.Get(ctx, userID, year)
}

// ListForYear returns the records of active users for year.
func (s *Service) ListForYear(ctx context.Context, year int) ([]Record, error) {
	return s.repo.ListForYear(ctx, year)
}

func (s *Service) apply(ctx context.Context, fn func(context.Context, TxStore) (Record, error)) (Record, error) {
	var out Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		rec, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx); err != nil {
			s.logger.Warn("report cache invalidation failed", slog.Any("error", err))
		}
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, rec Record, meta map[string]any) {
	if s.audit == nil {
		return
	}
	meta["year"] = rec.Year
	meta["available"] = rec.Available()
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "budget",
		EntityID: strconv.FormatInt(rec.UserID, 10) + ":" + strconv.Itoa(rec.Year),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

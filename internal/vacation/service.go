package vacation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-hr/internal/budget"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

// Module names vacation rows in approvals, audit and idempotency tables.
const Module = "vacation"

// statusNew labels the origin of the submit transition in metrics.
const statusNew Status = "new"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Request, error)
	ListForUser(ctx context.Context, userID int64, filter ListFilter) ([]Request, error)
	History(ctx context.Context, id int64) ([]shared.ApprovalLog, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards retried submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Invalidator drops cached projections.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Notifier delivers decisions to the requester.
type Notifier interface {
	NotifyDecision(ctx context.Context, d Decision) error
}

// TransitionObserver records lifecycle metrics.
type TransitionObserver interface {
	ObserveTransition(from, to string)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	DayCount DayCount
	Ledger   budget.Ledger
	Now      func() time.Time
}

// Deps groups the optional post-commit collaborators.
type Deps struct {
	Audit       AuditPort
	Idempotency IdempotencyPort
	Invalidator Invalidator
	Notifier    Notifier
	Metrics     TransitionObserver
	Logger      *slog.Logger
}

// Service coordinates the vacation request lifecycle with the budget ledger.
type Service struct {
	repo   RepositoryPort
	deps   Deps
	policy DayCount
	ledger budget.Ledger
	now    func() time.Time
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, deps Deps, cfg ServiceConfig) *Service {
	policy := cfg.DayCount
	if policy == "" {
		policy = CalendarDays
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, deps: deps, policy: policy, ledger: cfg.Ledger, now: now, logger: logger}
}

// Submit creates a pending request and reserves its days in one transaction.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (Request, error) {
	allocs, days, err := s.policy.Split(input.StartDate, input.EndDate)
	if err != nil {
		return Request{}, err
	}
	if input.UserID <= 0 {
		return Request{}, fmt.Errorf("%w: user required", shared.ErrValidation)
	}
	actorID := input.ActorID
	if actorID <= 0 {
		actorID = input.UserID
	}

	key := ""
	if input.IdempotencyKey != "" && s.deps.Idempotency != nil {
		key = fmt.Sprintf("%s:submit:%d:%s", Module, input.UserID, strings.TrimSpace(input.IdempotencyKey))
		if err := s.deps.Idempotency.CheckAndInsert(ctx, key, Module); err != nil {
			return Request{}, err
		}
	}

	req := Request{
		UserID:      input.UserID,
		StartDate:   DateOnly(input.StartDate),
		EndDate:     DateOnly(input.EndDate),
		Days:        days,
		Allocations: allocs,
		Status:      StatusPending,
		Description: strings.TrimSpace(input.Description),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		actor, err := tx.LookupActor(ctx, input.UserID)
		if err != nil {
			return err
		}
		if !actor.IsActive {
			return fmt.Errorf("%w: user %d is inactive", shared.ErrForbidden, input.UserID)
		}
		// Lock every calendar year of the span before looking for overlaps,
		// weekend-only years included, so two submissions sharing a day
		// always meet on at least one budget row.
		for _, year := range SpanYears(req.StartDate, req.EndDate) {
			if _, err := tx.EnsureForUpdate(ctx, input.UserID, year, s.ledger.DefaultEntitlement); err != nil {
				return err
			}
		}
		overlap, err := tx.HasOverlap(ctx, input.UserID, req.StartDate, req.EndDate)
		if err != nil {
			return err
		}
		if overlap {
			return fmt.Errorf("%w: user %d already has leave between %s and %s", shared.ErrOverlap,
				input.UserID, req.StartDate.Format(time.DateOnly), req.EndDate.Format(time.DateOnly))
		}
		for _, a := range allocs {
			if _, err := s.ledger.Reserve(ctx, tx, input.UserID, a.Year, a.Days); err != nil {
				return err
			}
		}
		created, err := tx.Insert(ctx, req)
		if err != nil {
			return err
		}
		req = created
		return tx.RecordApproval(ctx, shared.ApprovalLog{
			Module:  Module,
			RefID:   req.ID,
			ActorID: actorID,
			Action:  shared.ApprovalSubmit,
			Note:    req.Description,
		})
	})
	if err != nil {
		if key != "" {
			if delErr := s.deps.Idempotency.Delete(context.WithoutCancel(ctx), key); delErr != nil {
				s.logger.Warn("idempotency key cleanup failed", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		return Request{}, err
	}

	s.afterCommit(ctx, req, statusNew, actorID, "vacation:submit")
	return req, nil
}

// Approve commits the reserved days of a pending request.
func (s *Service) Approve(ctx context.Context, requestID, approverID int64) (Request, error) {
	return s.decide(ctx, requestID, approverID, Transition{To: StatusApproved}, true)
}

// Reject releases the reserved days of a pending request.
func (s *Service) Reject(ctx context.Context, requestID, approverID int64, reason string) (Request, error) {
	return s.decide(ctx, requestID, approverID, Transition{To: StatusRejected, RejectReason: strings.TrimSpace(reason)}, true)
}

// Cancel lets the owner withdraw a pending request.
func (s *Service) Cancel(ctx context.Context, requestID, requesterID int64) (Request, error) {
	return s.decide(ctx, requestID, requesterID, Transition{To: StatusCancelled}, false)
}

func (s *Service) decide(ctx context.Context, requestID, actorID int64, t Transition, adminOnly bool) (Request, error) {
	if requestID <= 0 {
		return Request{}, fmt.Errorf("%w: request id required", shared.ErrValidation)
	}
	t.ActorID = actorID
	t.At = s.now().UTC()

	var updated Request
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if adminOnly {
			if err := s.requireAdmin(ctx, tx, actorID); err != nil {
				return err
			}
		}
		req, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if !adminOnly && req.UserID != actorID {
			return fmt.Errorf("%w: request %d belongs to user %d", shared.ErrForbidden, requestID, req.UserID)
		}
		if req.Status != StatusPending {
			return fmt.Errorf("%w: request %d is %s", shared.ErrInvalidState, requestID, req.Status)
		}
		for _, a := range req.Allocations {
			if t.To == StatusApproved {
				_, err = s.ledger.Commit(ctx, tx, req.UserID, a.Year, a.Days)
			} else {
				_, err = s.ledger.Release(ctx, tx, req.UserID, a.Year, a.Days)
			}
			if err != nil {
				return err
			}
		}
		updated, err = tx.Transition(ctx, req, t)
		if err != nil {
			return err
		}
		return tx.RecordApproval(ctx, shared.ApprovalLog{
			Module:  Module,
			RefID:   req.ID,
			ActorID: actorID,
			Action:  approvalAction(t.To),
			Note:    t.RejectReason,
			At:      t.At,
		})
	})
	if err != nil {
		return Request{}, err
	}

	s.afterCommit(ctx, updated, StatusPending, actorID, "vacation:"+string(t.To))
	if s.deps.Notifier != nil {
		err := s.deps.Notifier.NotifyDecision(ctx, Decision{
			RequestID: updated.ID,
			UserID:    updated.UserID,
			ActorID:   actorID,
			Status:    updated.Status,
			Days:      updated.Days,
			Reason:    updated.RejectReason,
		})
		if err != nil {
			s.logger.Warn("decision notice failed", slog.Int64("request_id", updated.ID), slog.Any("error", err))
		}
	}
	return updated, nil
}

func (s *Service) requireAdmin(ctx context.Context, tx TxRepository, actorID int64) error {
	actor, err := tx.LookupActor(ctx, actorID)
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("%w: approver %d unknown", shared.ErrForbidden, actorID)
	}
	if err != nil {
		return err
	}
	if !actor.IsActive || actor.Role != shared.RoleAdmin {
		return fmt.Errorf("%w: user %d may not decide requests", shared.ErrForbidden, actorID)
	}
	return nil
}

// Get returns a request by id.
func (s *Service) Get(ctx context.Context, id int64) (Request, error) {
	return s.repo.Get(ctx, id)
}

// ListForUser lists requests of a user, newest first.
func (s *Service) ListForUser(ctx context.Context, userID int64, filter ListFilter) ([]Request, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, filter.Status)
	}
	return s.repo.ListForUser(ctx, userID, filter)
}

// History returns the approval log of a request.
func (s *Service) History(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

func (s *Service) afterCommit(ctx context.Context, req Request, from Status, actorID int64, action string) {
	if s.deps.Audit != nil {
		err := s.deps.Audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   Module,
			EntityID: strconv.FormatInt(req.ID, 10),
			Meta: map[string]any{
				"user_id":     req.UserID,
				"days":        req.Days,
				"allocations": req.Allocations,
				"status":      req.Status,
			},
		})
		if err != nil {
			s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
		}
	}
	if s.deps.Invalidator != nil {
		if err := s.deps.Invalidator.Invalidate(ctx); err != nil {
			s.logger.Warn("report cache invalidation failed", slog.Any("error", err))
		}
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveTransition(string(from), string(req.Status))
	}
	s.logger.Info("vacation request transition",
		slog.Int64("request_id", req.ID),
		slog.Int64("user_id", req.UserID),
		slog.String("status", string(req.Status)),
		slog.Int("days", req.Days))
}

func approvalAction(to Status) shared.ApprovalAction {
	switch to {
	case StatusApproved:
		return shared.ApprovalApprove
	case StatusRejected:
		return shared.ApprovalReject
	default:
		return shared.ApprovalCancel
	}
}

package markets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-hr/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

// Repository defines persistence operations for markets.
type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Market, int, error)
	Get(ctx context.Context, id int64) (Market, error)
	FindByName(ctx context.Context, name string) (Market, error)
	Create(ctx context.Context, form MarketForm) (Market, error)
	Update(ctx context.Context, id int64, form MarketForm) (Market, error)
	Delete(ctx context.Context, id int64) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages markets.
type Service struct {
	repo     Repository
	audit    AuditPort
	validate *validator.Validate
}

// NewService constructs Service.
func NewService(repo Repository, audit AuditPort, validate *validator.Validate) *Service {
	if validate == nil {
		validate = validator.New()
	}
	return &Service{repo: repo, audit: audit, validate: validate}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Market, int, error) {
	return s.repo.List(ctx, filters.Normalize())
}

func (s *Service) Get(ctx context.Context, id int64) (Market, error) {
	if id <= 0 {
		return Market{}, fmt.Errorf("%w: invalid market id", shared.ErrValidation)
	}
	return s.repo.Get(ctx, id)
}

// FindByName looks a market up by its case-insensitive name.
func (s *Service) FindByName(ctx context.Context, name string) (Market, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Market{}, fmt.Errorf("%w: market name required", shared.ErrValidation)
	}
	return s.repo.FindByName(ctx, name)
}

// Exists reports whether a market with id exists.
func (s *Service) Exists(ctx context.Context, id int64) (bool, error) {
	_, err := s.Get(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) Create(ctx context.Context, actorID int64, form MarketForm) (Market, error) {
	form = clean(form)
	if err := httpx.Validate(s.validate, form); err != nil {
		return Market{}, err
	}
	m, err := s.repo.Create(ctx, form)
	if err != nil {
		return Market{}, err
	}
	s.record(ctx, actorID, "market:create", m.ID)
	return m, nil
}

func (s *Service) Update(ctx context.Context, actorID, id int64, form MarketForm) (Market, error) {
	if id <= 0 {
		return Market{}, fmt.Errorf("%w: invalid market id", shared.ErrValidation)
	}
	form = clean(form)
	if err := httpx.Validate(s.validate, form); err != nil {
		return Market{}, err
	}
	m, err := s.repo.Update(ctx, id, form)
	if err != nil {
		return Market{}, err
	}
	s.record(ctx, actorID, "market:update", id)
	return m, nil
}

// Delete removes a market that no user references.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid market id", shared.ErrValidation)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "market:delete", id)
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "market",
		EntityID: strconv.FormatInt(id, 10),
	})
}

func clean(f MarketForm) MarketForm {
	f.Name = strings.TrimSpace(f.Name)
	f.Address = strings.TrimSpace(f.Address)
	f.Phone = strings.TrimSpace(f.Phone)
	f.Email = strings.TrimSpace(f.Email)
	return f
}

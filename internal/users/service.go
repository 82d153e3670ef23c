package users

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-hr/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	Create(ctx context.Context, u User) (User, error)
	Get(ctx context.Context, id int64) (User, error)
	FindActiveByLogin(ctx context.Context, login string) (User, error)
	ActiveLoginTaken(ctx context.Context, usernameNorm, emailNorm string) (bool, error)
	Deactivate(ctx context.Context, id int64) (User, error)
	SetPasswordHash(ctx context.Context, id int64, hash string) error
	List(ctx context.Context, filter ListFilter, window shared.ListFilters) ([]User, int, error)
}

// MarketLookup confirms a market exists.
type MarketLookup interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// PasswordHasher hashes plaintext passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Invalidator drops cached projections.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Service handles user business logic.
type Service struct {
	repo        RepositoryPort
	markets     MarketLookup
	hasher      PasswordHasher
	audit       AuditPort
	invalidator Invalidator
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, markets MarketLookup, hasher PasswordHasher, audit AuditPort, invalidator Invalidator, validate *validator.Validate, logger *slog.Logger) *Service {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, markets: markets, hasher: hasher, audit: audit, invalidator: invalidator, validate: validate, logger: logger}
}

// CreateUser validates, hashes the password and stores a new active user.
func (s *Service) CreateUser(ctx context.Context, actorID int64, in CreateInput) (User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	in.Department = strings.TrimSpace(in.Department)
	if err := httpx.Validate(s.validate, in); err != nil {
		return User{}, err
	}
	if len(in.Password) > MaxPasswordBytes {
		return User{}, fmt.Errorf("%w: password exceeds %d bytes", shared.ErrValidation, MaxPasswordBytes)
	}
	if in.MarketID != nil {
		ok, err := s.markets.Exists(ctx, *in.MarketID)
		if err != nil {
			return User{}, err
		}
		if !ok {
			return User{}, fmt.Errorf("%w: market %d", shared.ErrNotFound, *in.MarketID)
		}
	}
	taken, err := s.repo.ActiveLoginTaken(ctx, shared.NormalizeLogin(in.Username), shared.NormalizeLogin(in.Email))
	if err != nil {
		return User{}, err
	}
	if taken {
		return User{}, fmt.Errorf("%w: username or email already in use", shared.ErrConflict)
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	u, err := s.repo.Create(ctx, User{
		Username:     in.Username,
		Email:        in.Email,
		FullName:     in.FullName,
		PasswordHash: hash,
		Role:         in.Role,
		MarketID:     in.MarketID,
		Department:   in.Department,
		IsActive:     true,
	})
	if err != nil {
		return User{}, err
	}
	s.afterChange(ctx, actorID, "user:create", u)
	return u, nil
}

// DeactivateUser soft deletes a user. Deactivating twice is a no-op.
func (s *Service) DeactivateUser(ctx context.Context, actorID, id int64) (User, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !current.IsActive {
		return current, nil
	}
	u, err := s.repo.Deactivate(ctx, id)
	if err != nil {
		return User{}, err
	}
	s.afterChange(ctx, actorID, "user:deactivate", u)
	return u, nil
}

// LookupUser returns a user by id.
func (s *Service) LookupUser(ctx context.Context, id int64) (User, error) {
	if id <= 0 {
		return User{}, fmt.Errorf("%w: invalid user id", shared.ErrValidation)
	}
	return s.repo.Get(ctx, id)
}

// FindActiveByLogin resolves a username or email of an active user.
func (s *Service) FindActiveByLogin(ctx context.Context, login string) (User, error) {
	return s.repo.FindActiveByLogin(ctx, shared.NormalizeLogin(login))
}

// SetPasswordHash replaces the stored hash.
func (s *Service) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return s.repo.SetPasswordHash(ctx, id, hash)
}

// ListUsers returns users matching filter.
func (s *Service) ListUsers(ctx context.Context, filter ListFilter, window shared.ListFilters) ([]User, int, error) {
	return s.repo.List(ctx, filter, window.Normalize())
}

func (s *Service) afterChange(ctx context.Context, actorID int64, action string, u User) {
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "user",
			EntityID: strconv.FormatInt(u.ID, 10),
			Meta:     map[string]any{"username": u.Username, "role": u.Role},
		})
		if err != nil {
			s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
		}
	}
	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx); err != nil {
			s.logger.Warn("report cache invalidation failed", slog.Any("error", err))
		}
	}
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-hr/internal/shared"
	"github.com/odyssey-erp/odyssey-hr/internal/users"
)

// UserStore is the slice of the identity store used for credentials.
type UserStore interface {
	FindActiveByLogin(ctx context.Context, login string) (users.User, error)
	LookupUser(ctx context.Context, id int64) (users.User, error)
	SetPasswordHash(ctx context.Context, id int64, hash string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// GeneratedLength is the length of server generated passwords.
const GeneratedLength = 16

// Service wraps authentication business rules.
type Service struct {
	users    UserStore
	hasher   Hasher
	tokens   *TokenManager
	audit    AuditPort
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(store UserStore, hasher Hasher, tokens *TokenManager, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: store, hasher: hasher, tokens: tokens, audit: audit, validate: validator.New(), logger: logger}
}

// Authenticate validates login/password credentials and issues a token.
// Unknown, inactive and mismatching accounts are indistinguishable.
func (s *Service) Authenticate(ctx context.Context, login, password string) (Token, error) {
	user, err := s.users.FindActiveByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Token{}, shared.ErrInvalidCredentials
		}
		return Token{}, err
	}
	if !user.IsActive {
		return Token{}, shared.ErrInvalidCredentials
	}
	if err := s.hasher.Verify(user.PasswordHash, password); err != nil {
		return Token{}, shared.ErrInvalidCredentials
	}
	return s.tokens.Issue(shared.Principal{UserID: user.ID, Role: user.Role})
}

// ResetPassword sets a new password for userID. Admins may reset anyone,
// employees only themselves. An empty custom password is replaced with a
// generated one which is returned once.
func (s *Service) ResetPassword(ctx context.Context, actor shared.Principal, userID int64, custom string) (ResetResult, error) {
	if !actor.IsAdmin() && actor.UserID != userID {
		return ResetResult{}, fmt.Errorf("%w: user %d may not reset user %d", shared.ErrForbidden, actor.UserID, userID)
	}
	if _, err := s.users.LookupUser(ctx, userID); err != nil {
		return ResetResult{}, err
	}

	var flow ResetFlow
	var err error
	if custom == "" {
		generated, genErr := GeneratePassword(GeneratedLength)
		if genErr != nil {
			return ResetResult{}, genErr
		}
		flow, err = flow.ShowGenerated(generated)
	} else {
		if vErr := s.validate.Var(custom, "min=8,max=72"); vErr != nil || len(custom) > users.MaxPasswordBytes {
			return ResetResult{}, fmt.Errorf("%w: password must be 8 to 72 characters and at most %d bytes", shared.ErrValidation, users.MaxPasswordBytes)
		}
		flow, err = flow.ChooseCustom()
	}
	if err != nil {
		return ResetResult{}, err
	}
	if flow, err = flow.Submit(custom); err != nil {
		return ResetResult{}, err
	}

	password, _ := flow.Password()
	saveErr := s.store(ctx, userID, password)
	if _, err := flow.Finish(saveErr); err != nil {
		return ResetResult{}, err
	}
	if saveErr != nil {
		return ResetResult{}, saveErr
	}

	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.UserID,
			Action:   "user:reset_password",
			Entity:   "user",
			EntityID: strconv.FormatInt(userID, 10),
			Meta:     map[string]any{"generated": custom == ""},
		}); err != nil {
			s.logger.Warn("audit record failed", slog.Any("error", err))
		}
	}
	result := ResetResult{UserID: userID}
	if custom == "" {
		result.Generated = password
	}
	return result, nil
}

func (s *Service) store(ctx context.Context, userID int64, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	return s.users.SetPasswordHash(ctx, userID, hash)
}

package app

import (
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-hr/internal/auth"
	"github.com/odyssey-erp/odyssey-hr/internal/budget"
	"github.com/odyssey-erp/odyssey-hr/internal/markets"
	"github.com/odyssey-erp/odyssey-hr/internal/observability"
	"github.com/odyssey-erp/odyssey-hr/internal/platform/db"
	"github.com/odyssey-erp/odyssey-hr/internal/reporting"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
	"github.com/odyssey-erp/odyssey-hr/internal/users"
	"github.com/odyssey-erp/odyssey-hr/internal/vacation"
)

// ServiceDeps are the clients constructed by a binary.
type ServiceDeps struct {
	Config   *Config
	Logger   *slog.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Notifier vacation.Notifier
	Metrics  *observability.Metrics
}

// Services holds the wired core services.
type Services struct {
	Validate    *validator.Validate
	Audit       *shared.AuditLogger
	Idempotency *shared.IdempotencyStore
	Tokens      *auth.TokenManager
	Markets     *markets.Service
	Users       *users.Service
	Auth        *auth.Service
	Budget      *budget.Service
	Vacation    *vacation.Service
	Reporting   *reporting.Service
}

// BuildServices wires repositories and services over the shared pool.
func BuildServices(deps ServiceDeps) (*Services, error) {
	if deps.Config == nil || deps.Pool == nil {
		return nil, errors.New("app: config and pool are required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return nil, err
	}
	validate := validator.New()
	runner := db.NewTxRunner(deps.Pool, cfg.DBLockTimeout)
	auditLogger := shared.NewAuditLogger(deps.Pool)
	idempotency := shared.NewIdempotencyStore(deps.Pool)
	hasher := auth.NewHasher(0)

	reportingService := reporting.NewService(
		reporting.NewRepository(deps.Pool),
		reporting.NewCache(deps.Redis, cfg.ReportCacheTTL),
		logger.With(slog.String("module", "reporting")),
	)

	marketService := markets.NewService(markets.NewRepository(deps.Pool), auditLogger, validate)
	userService := users.NewService(users.NewRepository(deps.Pool), marketService, hasher, auditLogger, reportingService, validate,
		logger.With(slog.String("module", "users")))
	authService := auth.NewService(userService, hasher, tokens, auditLogger, logger.With(slog.String("module", "auth")))

	budgetService := budget.NewService(budget.NewRepository(runner), auditLogger, reportingService, budget.ServiceConfig{
		DefaultEntitlement: cfg.BudgetDefaultEntitlement,
		MaxCarryOver:       cfg.VacationMaxCarryOver,
		Retry:              db.DefaultRetryPolicy,
	}, logger.With(slog.String("module", "budget")))

	vacationDeps := vacation.Deps{
		Audit:       auditLogger,
		Idempotency: idempotency,
		Invalidator: reportingService,
		Notifier:    deps.Notifier,
		Logger:      logger.With(slog.String("module", vacation.Module)),
	}
	if deps.Metrics != nil {
		vacationDeps.Metrics = deps.Metrics
	}
	vacationService := vacation.NewService(vacation.NewRepository(runner), vacationDeps, vacation.ServiceConfig{
		DayCount: cfg.DayCount(),
		Ledger:   budgetService.Ledger(),
	})

	return &Services{
		Validate:    validate,
		Audit:       auditLogger,
		Idempotency: idempotency,
		Tokens:      tokens,
		Markets:     marketService,
		Users:       userService,
		Auth:        authService,
		Budget:      budgetService,
		Vacation:    vacationService,
		Reporting:   reportingService,
	}, nil
}

package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-hr/internal/auth"
	"github.com/odyssey-erp/odyssey-hr/internal/budget"
	"github.com/odyssey-erp/odyssey-hr/internal/markets"
	"github.com/odyssey-erp/odyssey-hr/internal/observability"
	"github.com/odyssey-erp/odyssey-hr/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-hr/internal/reporting"
	"github.com/odyssey-erp/odyssey-hr/internal/users"
	"github.com/odyssey-erp/odyssey-hr/internal/vacation"
	"github.com/odyssey-erp/odyssey-hr/jobs"
)

// Pinger reports backend availability for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Tokens           *auth.TokenManager
	Health           Pinger
	AuthHandler      *auth.Handler
	MarketsHandler   *markets.Handler
	UsersHandler     *users.Handler
	BudgetHandler    *budget.Handler
	VacationHandler  *vacation.Handler
	ReportingHandler *reporting.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewHandlers builds the HTTP handlers for services.
func NewHandlers(logger *slog.Logger, svc *Services) RouterParams {
	return RouterParams{
		Logger:           logger,
		Tokens:           svc.Tokens,
		AuthHandler:      auth.NewHandler(logger, svc.Auth, svc.Validate),
		MarketsHandler:   markets.NewHandler(logger, svc.Markets),
		UsersHandler:     users.NewHandler(logger, svc.Users),
		BudgetHandler:    budget.NewHandler(logger, svc.Budget, svc.Validate),
		VacationHandler:  vacation.NewHandler(logger, svc.Vacation, svc.Validate),
		ReportingHandler: reporting.NewHandler(logger, svc.Reporting),
	}
}

// NewRouter constructs the chi.Router with the API routes.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Health.Ping(ctx); err != nil {
				params.Logger.Warn("health check failed", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Group(func(r chi.Router) {
		r.Use(auth.Bearer(params.Tokens))
		r.Route("/markets", params.MarketsHandler.MountRoutes)
		r.Route("/users", func(r chi.Router) {
			params.UsersHandler.MountRoutes(r)
			r.Post("/{id}/password", params.AuthHandler.HandleResetPassword)
			r.Get("/{id}/vacations", params.VacationHandler.HandleListForUser)
		})
		r.Route("/budgets", params.BudgetHandler.MountRoutes)
		r.Route("/vacations", params.VacationHandler.MountRoutes)
		r.Route("/reports", params.ReportingHandler.MountRoutes)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})
	return r
}

package budget

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-hr/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

// Handler wires HTTP endpoints for the budget ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs budget handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	if validate == nil {
		validate = validator.New()
	}
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers budget routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{userID}/{year}", h.handleGet)
	r.Group(func(r chi.Router) {
		r.Use(httpx.RequireRole(shared.RoleAdmin))
		r.Get("/{year}", h.handleList)
		r.Put("/{userID}/{year}", h.handleSet)
		r.Post("/carry-forward", h.handleCarryForward)
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	userID, year, err := pathUserYear(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.SelfOrAdmin(p, userID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.Get(r.Context(), userID, year)
	if err != nil {
		h.fail(w, "get budget", err)
		return
	}
	httpx.JSON(w, http.StatusOK, budgetView(rec))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year <= 0 {
		httpx.RespondError(w, shared.ErrValidation)
		return
	}
	recs, err := h.service.ListForYear(r.Context(), year)
	if err != nil {
		h.fail(w, "list budgets", err)
		return
	}
	out := make([]view, 0, len(recs))
	for _, rec := range recs {
		out = append(out, budgetView(rec))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleSet(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	userID, year, err := pathUserYear(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in EntitlementInput
	if err := httpx.DecodeAndValidate(r, h.validate, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.UserID, in.Year, in.ActorID = userID, year, p.UserID
	rec, err := h.service.SetEntitlement(r.Context(), in)
	if err != nil {
		h.fail(w, "set entitlement", err)
		return
	}
	httpx.JSON(w, http.StatusOK, budgetView(rec))
}

func (h *Handler) handleCarryForward(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in CarryForwardInput
	if err := httpx.DecodeAndValidate(r, h.validate, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.ActorID = p.UserID
	rec, err := h.service.CarryForward(r.Context(), in)
	if err != nil {
		h.fail(w, "carry forward", err)
		return
	}
	httpx.JSON(w, http.StatusOK, budgetView(rec))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("budget: "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

type view struct {
	Record
	AvailableDays int `json:"available_days"`
}

func budgetView(rec Record) view {
	return view{Record: rec, AvailableDays: rec.Available()}
}

func pathUserYear(r *http.Request) (int64, int, error) {
	userID, err := httpx.PathInt64(r, "userID")
	if err != nil {
		return 0, 0, err
	}
	year, err := httpx.PathInt64(r, "year")
	if err != nil {
		return 0, 0, err
	}
	return userID, int(year), nil
}

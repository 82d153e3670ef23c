package users

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-hr/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.getUser)
	r.Group(func(r chi.Router) {
		r.Use(httpx.RequireRole(shared.RoleAdmin))
		r.Get("/", h.listUsers)
		r.Post("/", h.createUser)
		r.Post("/{id}/deactivate", h.deactivateUser)
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := httpx.QueryInt(r, "page", shared.DefaultPage)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit", shared.DefaultLimit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := ListFilter{ActiveOnly: q.Get("include_inactive") != "true"}
	if raw := q.Get("market_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, shared.ErrValidation)
			return
		}
		filter.MarketID = &id
	}
	window := shared.ListFilters{Page: page, Limit: limit, Search: q.Get("search"), SortBy: q.Get("sort"), SortDir: q.Get("dir")}.Normalize()

	users, total, err := h.service.ListUsers(r.Context(), filter, window)
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if users == nil {
		users = []User{}
	}
	httpx.JSON(w, http.StatusOK, shared.Page[User]{Items: users, Pagination: shared.NewPagination(window.Page, window.Limit, total)})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.SelfOrAdmin(p, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	u, err := h.service.LookupUser(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	u, err := h.service.CreateUser(r.Context(), p.UserID, in)
	if err != nil {
		if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
			h.logger.Error("create user failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, u)
}

func (h *Handler) deactivateUser(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	u, err := h.service.DeactivateUser(r.Context(), p.UserID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

package vacation

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-hr/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

// IdempotencyHeader carries the client supplied submission key.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for vacation requests.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs vacation handler.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	if validate == nil {
		validate = validator.New()
	}
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers vacation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleSubmit)
	r.Get("/{id}", h.handleGet)
	r.Get("/{id}/history", h.handleHistory)
	r.Post("/{id}/cancel", h.handleCancel)
	r.Group(func(r chi.Router) {
		r.Use(httpx.RequireRole(shared.RoleAdmin))
		r.Post("/{id}/approve", h.handleApprove)
		r.Post("/{id}/reject", h.handleReject)
	})
}

type submitRequest struct {
	UserID      int64  `json:"user_id" validate:"omitempty,gt=0"`
	StartDate   string `json:"start_date" validate:"required"`
	EndDate     string `json:"end_date" validate:"required"`
	Description string `json:"description" validate:"max=500"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body submitRequest
	if err := httpx.DecodeAndValidate(r, h.validate, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	userID := p.UserID
	if body.UserID != 0 {
		if err := httpx.SelfOrAdmin(p, body.UserID); err != nil {
			httpx.RespondError(w, err)
			return
		}
		userID = body.UserID
	}
	start, err := ParseDate(body.StartDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	end, err := ParseDate(body.EndDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := h.service.Submit(r.Context(), SubmitInput{
		UserID:         userID,
		ActorID:        p.UserID,
		StartDate:      start,
		EndDate:        end,
		Description:    body.Description,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		h.fail(w, "submit", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, req)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	req, ok := h.loadVisible(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	req, ok := h.loadVisible(w, r)
	if !ok {
		return
	}
	logs, err := h.service.History(r.Context(), req.ID)
	if err != nil {
		h.fail(w, "history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, logs)
}

// HandleListForUser serves GET /users/{id}/vacations.
func (h *Handler) HandleListForUser(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	userID, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.SelfOrAdmin(p, userID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	year, err := httpx.QueryInt(r, "year", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	reqs, err := h.service.ListForUser(r.Context(), userID, ListFilter{
		Status: Status(r.URL.Query().Get("status")),
		Year:   year,
	})
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	if reqs == nil {
		reqs = []Request{}
	}
	httpx.JSON(w, http.StatusOK, reqs)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(p shared.Principal, id int64) (Request, error) {
		return h.service.Approve(r.Context(), id, p.UserID)
	})
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	var body rejectRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeAndValidate(r, h.validate, &body); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	h.transition(w, r, func(p shared.Principal, id int64) (Request, error) {
		return h.service.Reject(r.Context(), id, p.UserID, body.Reason)
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(p shared.Principal, id int64) (Request, error) {
		return h.service.Cancel(r.Context(), id, p.UserID)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(shared.Principal, int64) (Request, error)) {
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
	req, err := fn(p, id)
	if err != nil {
		h.fail(w, "transition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) loadVisible(w http.ResponseWriter, r *http.Request) (Request, bool) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return Request{}, false
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return Request{}, false
	}
	req, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get", err)
		return Request{}, false
	}
	if err := httpx.SelfOrAdmin(p, req.UserID); err != nil {
		httpx.RespondError(w, err)
		return Request{}, false
	}
	return req, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if status, _ := httpx.StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("vacation: "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

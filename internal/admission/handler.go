package admission

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-commerce/meridian/internal/platform/httpx"
	"github.com/meridian-commerce/meridian/internal/ratelimit"
	"github.com/meridian-commerce/meridian/internal/shared"
)

// PermissionModule is the module key guarding rate-limit administration.
const PermissionModule = "settings"

// Assigner writes operation to class assignments.
type Assigner interface {
	Assign(ctx context.Context, operation string, class ratelimit.Class) error
}

// Handler exposes the rate-limit status and operation catalog endpoints.
type Handler struct {
	logger    *slog.Logger
	guard     Guard
	assigner  Assigner
	audit     *shared.AuditLogger
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, guard Guard, assigner Assigner, audit *shared.AuditLogger) *Handler {
	return &Handler{
		logger:    logger,
		guard:     guard,
		assigner:  assigner,
		audit:     audit,
		validator: validator.New(),
	}
}

// MountRoutes registers rate-limit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/status/{class}", h.status)
	r.Get("/operations/{operation}", h.operationClass)
	r.Put("/operations/{operation}", h.assignOperation)
}

type statusView struct {
	Class     string `json:"class"`
	Allowed   bool   `json:"allowed"`
	Remaining int    `json:"remaining"`
	ResetInMs int64  `json:"resetInMs"`
}

// status reports the caller's bucket without consuming a token.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	_, r, ok := h.guard.Admit(w, r, Request{Class: ratelimit.ClassQuery, Module: PermissionModule, Action: "view"})
	if !ok {
		return
	}
	class := ratelimit.Class(chi.URLParam(r, "class"))
	if !class.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown rate limit class")
		return
	}
	res, err := h.guard.Limiter.Check(r.Context(), clientIdentifier(r), class)
	if err != nil {
		h.logger.Error("rate limit check", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, statusView{
		Class:     string(class),
		Allowed:   res.Allowed,
		Remaining: res.Remaining,
		ResetInMs: res.ResetIn.Milliseconds(),
	})
}

func (h *Handler) operationClass(w http.ResponseWriter, r *http.Request) {
	operation := chi.URLParam(r, "operation")
	_, r, ok := h.guard.AdmitOperation(w, r, "ratelimit.operations.view", PermissionModule, "view")
	if !ok {
		return
	}
	class := ratelimit.ClassMutation
	if h.guard.Catalog != nil {
		resolved, err := h.guard.Catalog.ClassFor(r.Context(), operation)
		if err != nil {
			h.logger.Error("resolve operation class", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		class = resolved
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"operation": operation, "class": string(class)})
}

type assignPayload struct {
	Class string `json:"class" validate:"required,oneof=dangerous mutation query auth"`
}

func (h *Handler) assignOperation(w http.ResponseWriter, r *http.Request) {
	_, r, ok := h.guard.Admit(w, r, Request{Class: ratelimit.ClassMutation, Module: PermissionModule, Action: "edit"})
	if !ok {
		return
	}
	var payload assignPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	operation := chi.URLParam(r, "operation")
	if err := h.assigner.Assign(r.Context(), operation, ratelimit.Class(payload.Class)); err != nil {
		h.logger.Error("assign operation class", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.recordAudit(r, operation)
	httpx.JSON(w, http.StatusOK, map[string]string{"operation": operation, "class": payload.Class})
}

func (h *Handler) recordAudit(r *http.Request, operation string) {
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   "ratelimit.assign",
		Entity:   "rate_limit_operation",
		EntityID: operation,
	}); err != nil {
		h.logger.Warn("audit record", slog.Any("error", err))
	}
}

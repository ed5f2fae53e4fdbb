package modules

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-commerce/meridian/internal/admission"
	"github.com/meridian-commerce/meridian/internal/platform/httpx"
	"github.com/meridian-commerce/meridian/internal/ratelimit"
	"github.com/meridian-commerce/meridian/internal/shared"
)

// PermissionModule is the module key guarding catalog administration.
const PermissionModule = "settings"

// Handler wires HTTP endpoints for the module catalog.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     admission.Guard
	audit     *shared.AuditLogger
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard admission.Guard, audit *shared.AuditLogger) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		guard:     guard,
		audit:     audit,
		validator: validator.New(),
	}
}

// MountRoutes registers module routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/enabled", h.listEnabled)
	r.Get("/{key}", h.get)
	r.Put("/{key}", h.save)
	r.Post("/{key}/enable", h.enable)
	r.Post("/{key}/disable", h.disable)
}

type moduleView struct {
	Key            string    `json:"key"`
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	Enabled        bool      `json:"enabled"`
	IsCore         bool      `json:"isCore"`
	Dependencies   []string  `json:"dependencies,omitempty"`
	DependencyType string    `json:"dependencyType,omitempty"`
	Order          int       `json:"order"`
	UpdatedBy      string    `json:"updatedBy,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toView(m Module) moduleView {
	return moduleView{
		Key:            m.Key,
		Name:           m.Name,
		Category:       m.Category,
		Enabled:        m.Enabled,
		IsCore:         m.IsCore,
		Dependencies:   m.Dependencies,
		DependencyType: string(m.DependencyType),
		Order:          m.Order,
		UpdatedBy:      m.UpdatedBy,
		UpdatedAt:      m.UpdatedAt,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	_, r, ok := h.guard.Admit(w, r, admission.Request{Class: ratelimit.ClassQuery, Module: PermissionModule, Action: "view"})
	if !ok {
		return
	}
	mods, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list modules", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]moduleView, len(mods))
	for i, m := range mods {
		views[i] = toView(m)
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) listEnabled(w http.ResponseWriter, r *http.Request) {
	_, r, ok := h.guard.Admit(w, r, admission.Request{Class: ratelimit.ClassQuery, Module: PermissionModule, Action: "view"})
	if !ok {
		return
	}
	keys, err := h.service.EnabledKeys(r.Context())
	if err != nil {
		h.logger.Error("list enabled modules", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string][]string{"enabled": keys})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	_, r, ok := h.guard.Admit(w, r, admission.Request{Class: ratelimit.ClassQuery, Module: PermissionModule, Action: "view"})
	if !ok {
		return
	}
	m, err := h.service.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(m))
}

type savePayload struct {
	Name           string   `json:"name" validate:"required"`
	Category       string   `json:"category" validate:"required"`
	Enabled        bool     `json:"enabled"`
	IsCore         bool     `json:"isCore"`
	Dependencies   []string `json:"dependencies"`
	DependencyType string   `json:"dependencyType" validate:"omitempty,oneof=all any"`
	Order          int      `json:"order" validate:"gte=0"`
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	grant, r, ok := h.guard.Admit(w, r, admission.Request{Class: ratelimit.ClassMutation, Module: PermissionModule, Action: "edit"})
	if !ok {
		return
	}
	var payload savePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	key := chi.URLParam(r, "key")
	m := Module{
		Key:            key,
		Name:           payload.Name,
		Category:       payload.Category,
		Enabled:        payload.Enabled,
		IsCore:         payload.IsCore,
		Dependencies:   payload.Dependencies,
		DependencyType: DependencyType(payload.DependencyType),
		Order:          payload.Order,
		UpdatedBy:      grant.User.Email,
	}
	if err := h.service.Save(r.Context(), m); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.recordAudit(r, "module.save", key)
	httpx.JSON(w, http.StatusOK, map[string]string{"key": key})
}

func (h *Handler) enable(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, true)
}

func (h *Handler) disable(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, false)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request, enabled bool) {
	grant, r, ok := h.guard.Admit(w, r, admission.Request{Class: ratelimit.ClassMutation, Module: PermissionModule, Action: "edit"})
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	if err := h.service.SetEnabled(r.Context(), key, enabled, grant.User.Email); err != nil {
		h.respondServiceError(w, err)
		return
	}
	action := "module.disable"
	if enabled {
		action = "module.enable"
	}
	h.recordAudit(r, action, key)
	httpx.JSON(w, http.StatusOK, map[string]any{"key": key, "enabled": enabled})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var depErr *DependencyError
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &depErr), errors.Is(err, ErrCoreImmutable), errors.Is(err, ErrDependencyCycle):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("modules handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (h *Handler) recordAudit(r *http.Request, action, key string) {
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "admin_module",
		EntityID: key,
	}); err != nil {
		h.logger.Warn("audit record", slog.Any("error", err))
	}
}

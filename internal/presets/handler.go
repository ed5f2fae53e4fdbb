package presets

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-commerce/meridian/internal/admission"
	"github.com/meridian-commerce/meridian/internal/modules"
	"github.com/meridian-commerce/meridian/internal/platform/httpx"
	"github.com/meridian-commerce/meridian/internal/ratelimit"
	"github.com/meridian-commerce/meridian/internal/shared"
)

// PermissionModule is the module key guarding preset administration.
const PermissionModule = "settings"

// Handler wires HTTP endpoints for preset management.
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

// MountRoutes registers preset routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/from-current", h.createFromCurrent)
	r.Get("/{key}", h.get)
	r.Patch("/{id}", h.update)
	r.Delete("/{id}", h.remove)
	r.Post("/{id}/duplicate", h.duplicate)
	r.Post("/{key}/apply", h.apply)
}

type presetView struct {
	ID             int64    `json:"id"`
	Key            string   `json:"key"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	EnabledModules []string `json:"enabledModules"`
	IsDefault      bool     `json:"isDefault"`
}

func toView(p Preset) presetView {
	return presetView{
		ID:             p.ID,
		Key:            p.Key,
		Name:           p.Name,
		Description:    p.Description,
		EnabledModules: p.EnabledModules,
		IsDefault:      p.IsDefault,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	_, r, ok := h.guard.Admit(w, r, admission.Request{Class: ratelimit.ClassQuery, Module: PermissionModule, Action: "view"})
	if !ok {
		return
	}
	out, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list presets", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]presetView, len(out))
	for i, p := range out {
		views[i] = toView(p)
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	_, r, ok := h.guard.Admit(w, r, admission.Request{Class: ratelimit.ClassQuery, Module: PermissionModule, Action: "view"})
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(p))
}

type createPayload struct {
	Key            string   `json:"key" validate:"required"`
	Name           string   `json:"name" validate:"required"`
	Description    string   `json:"description"`
	EnabledModules []string `json:"enabledModules"`
	IsDefault      bool     `json:"isDefault"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	_, r, ok := h.guard.Admit(w, r, admission.Request{Class: ratelimit.ClassMutation, Module: PermissionModule, Action: "edit"})
	if !ok {
		return
	}
	var payload createPayload
	if !h.decode(w, r, &payload) {
		return
	}
	p, err := h.service.Create(r.Context(), CreateInput{
		Key:            payload.Key,
		Name:           payload.Name,
		Description:    payload.Description,
		EnabledModules: payload.EnabledModules,
		IsDefault:      payload.IsDefault,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.recordAudit(r, "preset.create", p.Key)
	httpx.JSON(w, http.StatusCreated, toView(p))
}

type fromCurrentPayload struct {
	Key         string `json:"key" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

func (h *Handler) createFromCurrent(w http.ResponseWriter, r *http.Request) {
	_, r, ok := h.guard.Admit(w, r, admission.Request{Class: ratelimit.ClassMutation, Module: PermissionModule, Action: "edit"})
	if !ok {
		return
	}
	var payload fromCurrentPayload
	if !h.decode(w, r, &payload) {
		return
	}
	p, err := h.service.CreateFromCurrent(r.Context(), payload.Key, payload.Name, payload.Description)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.recordAudit(r, "preset.create_from_current", p.Key)
	httpx.JSON(w, http.StatusCreated, toView(p))
}

type updatePayload struct {
	Name           *string   `json:"name"`
	Description    *string   `json:"description"`
	EnabledModules *[]string `json:"enabledModules"`
	IsDefault      *bool     `json:"isDefault"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	_, r, ok := h.guard.Admit(w, r, admission.Request{Class: ratelimit.ClassMutation, Module: PermissionModule, Action: "edit"})
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var payload updatePayload
	if !h.decode(w, r, &payload) {
		return
	}
	p, err := h.service.Update(r.Context(), id, UpdateInput{
		Name:           payload.Name,
		Description:    payload.Description,
		EnabledModules: payload.EnabledModules,
		IsDefault:      payload.IsDefault,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.recordAudit(r, "preset.update", p.Key)
	httpx.JSON(w, http.StatusOK, toView(p))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	_, r, ok := h.guard.Admit(w, r, admission.Request{Class: ratelimit.ClassDangerous, Module: PermissionModule, Action: "delete"})
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Remove(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.recordAudit(r, "preset.remove", strconv.FormatInt(id, 10))
	w.WriteHeader(http.StatusNoContent)
}

type duplicatePayload struct {
	Key  string `json:"key" validate:"required"`
	Name string `json:"name" validate:"required"`
}

func (h *Handler) duplicate(w http.ResponseWriter, r *http.Request) {
	_, r, ok := h.guard.Admit(w, r, admission.Request{Class: ratelimit.ClassMutation, Module: PermissionModule, Action: "edit"})
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var payload duplicatePayload
	if !h.decode(w, r, &payload) {
		return
	}
	p, err := h.service.Duplicate(r.Context(), id, payload.Key, payload.Name)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.recordAudit(r, "preset.duplicate", p.Key)
	httpx.JSON(w, http.StatusCreated, toView(p))
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request) {
	grant, r, ok := h.guard.Admit(w, r, admission.Request{Class: ratelimit.ClassDangerous, Module: PermissionModule, Action: "edit"})
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	changed, err := h.service.Apply(r.Context(), key, grant.User.Email, ApplyOptions{})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.recordAudit(r, "preset.apply", key)
	httpx.JSON(w, http.StatusOK, map[string]any{"key": key, "changed": changed})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid preset id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var depErr *modules.DependencyError
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrKeyExists), errors.Is(err, ErrDefaultUndeletable), errors.As(err, &depErr):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("presets handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (h *Handler) recordAudit(r *http.Request, action, key string) {
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   "system_preset",
		EntityID: key,
	}); err != nil {
		h.logger.Warn("audit record", slog.Any("error", err))
	}
}

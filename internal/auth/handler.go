package auth

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-commerce/meridian/internal/admission"
	"github.com/meridian-commerce/meridian/internal/observability"
	"github.com/meridian-commerce/meridian/internal/platform/httpx"
	"github.com/meridian-commerce/meridian/internal/ratelimit"
)

// Handler wires HTTP endpoints for authentication flows. Login sits in
// front of authorization, so it consumes the auth rate class directly
// instead of going through the admission guard.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	limiter   *ratelimit.Limiter
	metrics   *observability.Metrics
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, limiter *ratelimit.Limiter, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		limiter:   limiter,
		metrics:   metrics,
		validator: validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	res, err := h.limiter.Consume(r.Context(), clientIP(r), ratelimit.ClassAuth)
	if err != nil {
		h.logger.Error("rate limit consume", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.ObserveRateLimit(string(ratelimit.ClassAuth), res.Allowed)
	if !res.Allowed {
		retryAfter := int(res.ResetIn.Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests",
			"retry after "+strconv.Itoa(retryAfter)+"s")
		return
	}

	var payload loginPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	user, err := h.service.Authenticate(r.Context(), payload.Email, payload.Password)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid email or password")
		return
	}

	sess, err := h.service.IssueSession(r.Context(), user.ID, clientIP(r), r.UserAgent())
	if err != nil {
		h.logger.Error("issue session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loginResponse{Token: sess.Token, ExpiresAt: sess.ExpiresAt})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := admission.BearerToken(r)
	if token == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing token")
		return
	}
	if err := h.service.RemoveSession(r.Context(), token); err != nil {
		h.logger.Warn("remove session", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

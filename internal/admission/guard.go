// Package admission chains the two gates every admin mutation passes:
// token-bucket rate limiting first, then session/permission authorization.
package admission

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/meridian-commerce/meridian/internal/authz"
	"github.com/meridian-commerce/meridian/internal/observability"
	"github.com/meridian-commerce/meridian/internal/platform/httpx"
	"github.com/meridian-commerce/meridian/internal/ratelimit"
	"github.com/meridian-commerce/meridian/internal/shared"
)

// Request names the policy of one endpoint. The rate-limit class is fixed
// here at the call site; renaming a handler cannot change its class.
type Request struct {
	Class  ratelimit.Class
	Module string
	Action string
}

// Guard wires the admission chain for HTTP handlers.
type Guard struct {
	Authz   *authz.Service
	Limiter *ratelimit.Limiter
	Catalog *ratelimit.Catalog
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Admit runs rate limiting then authorization. On failure it writes the
// response and returns ok=false; handlers proceed only on ok=true. The
// authenticated actor is attached to the request context.
func (g Guard) Admit(w http.ResponseWriter, r *http.Request, req Request) (authz.Grant, *http.Request, bool) {
	res, err := g.Limiter.Consume(r.Context(), clientIdentifier(r), req.Class)
	if err != nil {
		g.logError("rate limit consume", err)
		httpx.RespondError(w, err)
		return authz.Grant{}, r, false
	}
	g.Metrics.ObserveRateLimit(string(req.Class), res.Allowed)
	if !res.Allowed {
		retryAfter := int(res.ResetIn.Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests",
			"retry after "+strconv.Itoa(retryAfter)+"s")
		return authz.Grant{}, r, false
	}

	grant, err := g.Authz.Require(r.Context(), BearerToken(r), req.Module, req.Action)
	if err != nil {
		switch {
		case errors.Is(err, authz.ErrPermissionDenied), errors.Is(err, authz.ErrRoleNotFound):
			httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
		case errors.Is(err, authz.ErrMissingToken), errors.Is(err, authz.ErrInvalidSession), errors.Is(err, authz.ErrInvalidAccount):
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		default:
			g.logError("authorize", err)
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		}
		return authz.Grant{}, r, false
	}

	ctx := shared.ContextWithActor(r.Context(), shared.Actor{UserID: grant.User.ID, RoleKey: grant.Role.Key})
	return grant, r.WithContext(ctx), true
}

// AdmitOperation resolves the rate-limit class from the operation catalog
// before running the admission chain. Handlers without a catalog entry are
// throttled as mutations.
func (g Guard) AdmitOperation(w http.ResponseWriter, r *http.Request, operation, module, action string) (authz.Grant, *http.Request, bool) {
	class := ratelimit.ClassMutation
	if g.Catalog != nil {
		resolved, err := g.Catalog.ClassFor(r.Context(), operation)
		if err != nil {
			g.logError("resolve operation class", err)
		} else {
			class = resolved
		}
	}
	return g.Admit(w, r, Request{Class: class, Module: module, Action: action})
}

// BearerToken extracts the bearer credential from the request.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-Admin-Token"))
}

// clientIdentifier keys buckets by client IP. RealIP middleware has already
// resolved proxy headers upstream.
func clientIdentifier(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (g Guard) logError(msg string, err error) {
	if g.Logger != nil {
		g.Logger.Error(msg, slog.Any("error", err))
	}
}

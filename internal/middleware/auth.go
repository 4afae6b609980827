// Package middleware contains HTTP middleware for the quota API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/lectgen/internal/auth"
	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/DukeRupert/lectgen/internal/handler"
	"github.com/google/uuid"
)

// Identity headers set by the upstream gateway after it has authenticated
// the caller. The quota API never sees credentials.
const (
	HeaderAccountID   = "X-Account-ID"
	HeaderAccountRole = "X-Account-Role"
	HeaderAccountTier = "X-Account-Tier"
)

// IdentityMiddleware turns gateway identity headers into an auth.Principal.
type IdentityMiddleware struct {
	logger *slog.Logger
}

// NewIdentityMiddleware creates a new identity middleware.
func NewIdentityMiddleware(logger *slog.Logger) *IdentityMiddleware {
	return &IdentityMiddleware{logger: logger}
}

// WithIdentity attaches the caller to the request context when the identity
// headers are present and well formed. It never rejects a request; use
// RequireAccount or RequireAdmin for that.
func (m *IdentityMiddleware) WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(HeaderAccountID))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		id, err := uuid.Parse(raw)
		if err != nil {
			m.logger.Warn("ignoring malformed account header",
				"path", r.URL.Path,
				"ip", getClientIP(r),
			)
			next.ServeHTTP(w, r)
			return
		}

		p := &auth.Principal{AccountID: id, Role: auth.RoleUser}
		if strings.EqualFold(r.Header.Get(HeaderAccountRole), string(auth.RoleAdmin)) {
			p.Role = auth.RoleAdmin
		}
		// Logged only; never used for entitlement.
		if tier, err := domain.ParseTier(r.Header.Get(HeaderAccountTier)); err == nil {
			p.Tier = tier
		}

		next.ServeHTTP(w, r.WithContext(auth.SetPrincipal(r.Context(), p)))
	})
}

// RequireAccount rejects requests that carry no identity with 401.
//
// Must be used after WithIdentity.
func (m *IdentityMiddleware) RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetPrincipalFromRequest(r) == nil {
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects anonymous requests with 401 and non-admin callers
// with 403.
//
// Must be used after WithIdentity.
func (m *IdentityMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := auth.GetPrincipalFromRequest(r)
		if p == nil {
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}
		if !p.IsAdmin() {
			m.logger.Warn("admin endpoint denied",
				"account_id", p.AccountID,
				"path", r.URL.Path,
			)
			handler.ForbiddenResponse(w, r, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
//	requireAdmin := Stack(identity.RequireAdmin, limiter.Limit)
//	mux.Handle("PUT /api/admin/accounts/{id}/cap", requireAdmin(h))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

var (
	_ func(http.Handler) http.Handler = (&IdentityMiddleware{}).WithIdentity
	_ func(http.Handler) http.Handler = (&IdentityMiddleware{}).RequireAccount
	_ func(http.Handler) http.Handler = (&IdentityMiddleware{}).RequireAdmin
)

// Package auth provides request identity context helpers.
//
// This package is designed to be imported by both middleware and handler
// packages without causing import cycles.
package auth

import (
	"context"
	"net/http"

	"github.com/DukeRupert/lectgen/internal/domain"
	"github.com/google/uuid"
)

// Role is the caller's role as asserted by the upstream gateway.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Principal identifies the caller of a request. Tier is what the gateway
// believes and only appears in request logs; entitlement decisions always
// use the stored account.
type Principal struct {
	AccountID uuid.UUID
	Role      Role
	Tier      domain.Tier
}

// IsAdmin reports whether the principal may use the override endpoints.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Actor returns the identifier recorded in audit events.
func (p *Principal) Actor() string {
	if p == nil {
		return "anonymous"
	}
	return p.AccountID.String()
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const principalContextKey contextKey = "principal"

// GetPrincipal retrieves the caller from the context.
//
// Returns nil if the request carried no identity.
func GetPrincipal(ctx context.Context) *Principal {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	if !ok {
		return nil
	}
	return p
}

// GetPrincipalFromRequest is a convenience wrapper around GetPrincipal.
func GetPrincipalFromRequest(r *http.Request) *Principal {
	return GetPrincipal(r.Context())
}

// SetPrincipal stores the caller in the context.
func SetPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

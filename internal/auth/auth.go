// Package auth provides stateless bearer-JWT authentication and the ambient
// per-request user context.
package auth

import (
	"context"
	"slices"

	"github.com/google/uuid"
)

// Role names recognised by the service.
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// UserContext is the ambient identity of a request. The zero value is not
// meaningful; use Anonymous for unauthenticated requests.
type UserContext struct {
	UserID        uuid.UUID
	Name          string
	Email         string
	Roles         []string
	Authenticated bool
}

// Anonymous returns the distinguished unauthenticated identity.
func Anonymous() UserContext {
	return UserContext{Name: "anonymous"}
}

// HasRole reports whether the user holds the given role.
func (u UserContext) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// HasAnyRole reports whether the user holds at least one of the given roles.
func (u UserContext) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if u.HasRole(r) {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user is an administrator.
func (u UserContext) IsAdmin() bool { return u.HasRole(RoleAdmin) }

// IsModerator reports whether the user may moderate content. Admins may.
func (u UserContext) IsModerator() bool {
	return u.HasRole(RoleModerator) || u.IsAdmin()
}

// CanAccessUserResource reports whether the user may touch a resource owned
// by ownerID: owners and admins may.
func (u UserContext) CanAccessUserResource(ownerID uuid.UUID) bool {
	return u.Authenticated && (u.UserID == ownerID || u.IsAdmin())
}

type contextKey string

const userContextKey contextKey = "user_context"

// WithContext returns a context carrying the user identity.
func WithContext(ctx context.Context, u UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// FromContext extracts the user identity, defaulting to Anonymous.
func FromContext(ctx context.Context) UserContext {
	if u, ok := ctx.Value(userContextKey).(UserContext); ok {
		return u
	}
	return Anonymous()
}

package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/drivehub/ugc/internal/errs"
)

// Guards check the ambient user context before a resolver runs. They return
// a classified error so GraphQL responses carry the right extensions.

// RequireAuth fails when the caller is anonymous.
func RequireAuth(ctx context.Context) error {
	if !FromContext(ctx).Authenticated {
		return errs.Authentication("authentication required")
	}
	return nil
}

// RequireRole fails unless the caller holds the given role.
func RequireRole(ctx context.Context, role string) error {
	if err := RequireAuth(ctx); err != nil {
		return err
	}
	if !FromContext(ctx).HasRole(role) {
		return errs.ForbiddenReason(fmt.Sprintf("role %q required", role))
	}
	return nil
}

// RequireAnyRole fails unless the caller holds at least one of the roles.
func RequireAnyRole(ctx context.Context, roles ...string) error {
	if err := RequireAuth(ctx); err != nil {
		return err
	}
	if !FromContext(ctx).HasAnyRole(roles...) {
		return errs.ForbiddenReason(fmt.Sprintf("one of roles %v required", roles))
	}
	return nil
}

// RequireAdmin fails unless the caller is an administrator.
func RequireAdmin(ctx context.Context) error {
	if err := RequireAuth(ctx); err != nil {
		return err
	}
	if !FromContext(ctx).IsAdmin() {
		return errs.ForbiddenReason("admin role required")
	}
	return nil
}

// RequireModerator fails unless the caller is a moderator or administrator.
func RequireModerator(ctx context.Context) error {
	if err := RequireAuth(ctx); err != nil {
		return err
	}
	if !FromContext(ctx).IsModerator() {
		return errs.ForbiddenReason("moderator or admin role required")
	}
	return nil
}

// RequireOwnershipOrAdmin fails unless the caller owns the resource or is an
// administrator.
func RequireOwnershipOrAdmin(ctx context.Context, ownerID uuid.UUID) error {
	if err := RequireAuth(ctx); err != nil {
		return err
	}
	if !FromContext(ctx).CanAccessUserResource(ownerID) {
		return errs.ForbiddenReason("access denied: insufficient permissions")
	}
	return nil
}

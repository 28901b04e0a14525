// ABOUTME: Authentication context for tracking the verified caller through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating the principal and its role via context

package auth

import (
	"context"

	"github.com/codebarista-de/shopware-app-server/internal/registry"
	"github.com/codebarista-de/shopware-app-server/internal/store"
)

// Role is what a verified request is allowed to do.
type Role string

const (
	// RoleNone marks a request that carried no valid credentials.
	RoleNone Role = "none"
	// RolePendingShop is granted for a signature made with the pending secret.
	// It is only good for confirming the registration.
	RolePendingShop Role = "pending-shop"
	// RoleShop is granted for a signature made with the shop's active secret.
	RoleShop Role = "shop"
	// RoleApplication is granted for a signature made with the app secret.
	RoleApplication Role = "application"
	// RoleOperator is granted to holders of an operator JWT.
	RoleOperator Role = "operator"
)

// AuthContext holds the authenticated identity extracted from a request.
type AuthContext struct {
	PrincipalID string // shop id, app key or operator subject
	Role        Role
	App         registry.App // nil for operators
	Shop        *store.Shop  // set for RoleShop and RolePendingShop
}

// HasRole reports whether the principal holds one of roles.
func (a *AuthContext) HasRole(roles ...Role) bool {
	if a == nil {
		return false
	}
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	val := ctx.Value(authContextKey{})
	if val == nil {
		return nil
	}
	auth, ok := val.(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}

// RoleFromContext returns the principal's role, RoleNone if unauthenticated.
func RoleFromContext(ctx context.Context) Role {
	if a := FromContext(ctx); a != nil {
		return a.Role
	}
	return RoleNone
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}

// ABOUTME: Unit tests for authentication context functions
// ABOUTME: Tests HasRole and context propagation helpers

package auth

import (
	"context"
	"testing"
)

func TestAuthContext_HasRole(t *testing.T) {
	tests := []struct {
		name  string
		auth  *AuthContext
		roles []Role
		want  bool
	}{
		{
			name:  "shop matches shop",
			auth:  &AuthContext{Role: RoleShop},
			roles: []Role{RoleShop},
			want:  true,
		},
		{
			name:  "pending matches one of several",
			auth:  &AuthContext{Role: RolePendingShop},
			roles: []Role{RoleShop, RolePendingShop},
			want:  true,
		},
		{
			name:  "pending is not shop",
			auth:  &AuthContext{Role: RolePendingShop},
			roles: []Role{RoleShop},
			want:  false,
		},
		{
			name:  "no roles requested",
			auth:  &AuthContext{Role: RoleShop},
			roles: nil,
			want:  false,
		},
		{
			name:  "nil context",
			auth:  nil,
			roles: []Role{RoleShop},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.auth.HasRole(tt.roles...); got != tt.want {
				t.Errorf("HasRole(%v) = %v, want %v", tt.roles, got, tt.want)
			}
		})
	}
}

func TestFromContext_Present(t *testing.T) {
	expected := &AuthContext{
		PrincipalID: "S1",
		Role:        RoleShop,
	}

	ctx := WithAuth(context.Background(), expected)
	got := FromContext(ctx)

	if got == nil {
		t.Fatal("FromContext() = nil, want non-nil")
	}
	if got.PrincipalID != expected.PrincipalID {
		t.Errorf("PrincipalID = %q, want %q", got.PrincipalID, expected.PrincipalID)
	}
	if RoleFromContext(ctx) != RoleShop {
		t.Errorf("RoleFromContext() = %q, want %q", RoleFromContext(ctx), RoleShop)
	}
}

func TestFromContext_Missing(t *testing.T) {
	ctx := context.Background()

	if got := FromContext(ctx); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}
	if got := RoleFromContext(ctx); got != RoleNone {
		t.Errorf("RoleFromContext() = %q, want %q", got, RoleNone)
	}
}

func TestMustFromContext_Missing(t *testing.T) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r == nil {
			t.Error("MustFromContext() did not panic when auth context missing")
		}
	}()

	MustFromContext(ctx)
}

// Package access resolves who is calling and which tenant they may act on.
package access

import (
	"context"
	"slices"

	"github.com/d9705996/perseo/internal/apperr"
	"github.com/d9705996/perseo/internal/model"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID   string
	Email    string
	TenantID string // empty for platform users
	Roles    []string
	IP       string
}

// Has reports whether p holds role r.
func (p Principal) Has(r model.Role) bool {
	return slices.Contains(p.Roles, string(r))
}

// SuperAdmin reports whether p may act across tenants.
func (p Principal) SuperAdmin() bool { return p.Has(model.RoleSuperAdmin) }

// ActorID returns the user id as a nullable column value.
func (p Principal) ActorID() *string {
	if p.UserID == "" {
		return nil
	}
	id := p.UserID
	return &id
}

type contextKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the Principal stored in ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

// CanAccessTenant allows the caller's own tenant, or any tenant for a
// super-admin.
func CanAccessTenant(p Principal, tenantID string) error {
	if p.SuperAdmin() {
		return nil
	}
	if p.TenantID == "" || p.TenantID != tenantID {
		return apperr.Authorization("tenant access denied")
	}
	return nil
}

// RequireRole passes when p holds any of roles. super_admin always passes.
func RequireRole(p Principal, roles ...model.Role) error {
	if p.SuperAdmin() {
		return nil
	}
	for _, r := range roles {
		if p.Has(r) {
			return nil
		}
	}
	return apperr.Authorization("insufficient role")
}

// ResolveTenant picks the tenant a request operates on. Super-admins name
// one explicitly; everybody else is pinned to their own.
func ResolveTenant(p Principal, requested string) (string, error) {
	if p.SuperAdmin() {
		if requested == "" {
			if p.TenantID != "" {
				return p.TenantID, nil
			}
			return "", apperr.Validation("tenant_required", "tenant id is required",
				apperr.FieldError{Field: "tenantId", Message: "required for platform administrators"})
		}
		return requested, nil
	}
	if p.TenantID == "" {
		return "", apperr.Authorization("no tenant assigned")
	}
	if requested != "" && requested != p.TenantID {
		return "", apperr.Authorization("tenant access denied")
	}
	return p.TenantID, nil
}

// Writers may mutate directory data.
var Writers = []model.Role{model.RoleTenantAdmin}

// Readers may browse directory data.
var Readers = []model.Role{model.RoleTenantAdmin, model.RoleInstructor}

package access_test

import (
	"context"
	"testing"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/apperr"
	"github.com/d9705996/perseo/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin = access.Principal{UserID: "u1", TenantID: "t1", Roles: []string{"tenant_admin"}}
	root  = access.Principal{UserID: "u0", Roles: []string{"super_admin"}}
)

func TestCanAccessTenant(t *testing.T) {
	require.NoError(t, access.CanAccessTenant(admin, "t1"))
	err := access.CanAccessTenant(admin, "t2")
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
	require.NoError(t, access.CanAccessTenant(root, "t2"))
}

func TestCanAccessTenant_PlatformUserWithoutTenant(t *testing.T) {
	p := access.Principal{UserID: "u2", Roles: []string{"member"}}
	assert.Error(t, access.CanAccessTenant(p, ""))
}

func TestRequireRole(t *testing.T) {
	require.NoError(t, access.RequireRole(admin, access.Writers...))
	student := access.Principal{UserID: "u3", TenantID: "t1", Roles: []string{"student"}}
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(access.RequireRole(student, access.Readers...)))
	require.NoError(t, access.RequireRole(root, model.RoleTenantAdmin))
}

func TestResolveTenant(t *testing.T) {
	id, err := access.ResolveTenant(admin, "")
	require.NoError(t, err)
	assert.Equal(t, "t1", id)

	_, err = access.ResolveTenant(admin, "t2")
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	id, err = access.ResolveTenant(root, "t9")
	require.NoError(t, err)
	assert.Equal(t, "t9", id)

	_, err = access.ResolveTenant(root, "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestPrincipalContext(t *testing.T) {
	ctx := access.WithPrincipal(context.Background(), admin)
	p, ok := access.FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", p.UserID)

	_, ok = access.FromContext(context.Background())
	assert.False(t, ok)
}

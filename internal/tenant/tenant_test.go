package tenant_test

import (
	"context"
	"testing"
	"time"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/apperr"
	"github.com/d9705996/perseo/internal/audit"
	"github.com/d9705996/perseo/internal/db/dbtest"
	"github.com/d9705996/perseo/internal/model"
	"github.com/d9705996/perseo/internal/paging"
	"github.com/d9705996/perseo/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var root = access.Principal{Roles: []string{"super_admin"}}

func seedTenant(t *testing.T, db *gorm.DB, svc *tenant.Service, sub string) *model.Tenant {
	t.Helper()
	tn, err := svc.Create(context.Background(), root, tenant.CreateInput{Name: sub, Subdomain: sub})
	require.NoError(t, err)
	return tn
}

func TestCreate_ValidatesAndDerivesSchema(t *testing.T) {
	db := dbtest.New(t)
	svc := tenant.New(db, nil)
	ctx := context.Background()

	tn, err := svc.Create(ctx, root, tenant.CreateInput{Name: "North Campus", Subdomain: "North-Campus"})
	require.NoError(t, err)
	assert.Equal(t, "north-campus", tn.Subdomain)
	assert.Equal(t, "north_campus", tn.SchemaName)
	assert.True(t, tn.Active)

	_, err = svc.Create(ctx, root, tenant.CreateInput{Name: "Dup", Subdomain: "north-campus", SchemaName: "other"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = svc.Create(ctx, root, tenant.CreateInput{Name: "", Subdomain: "bad domain!"})
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, e.Kind)
	assert.Len(t, e.Fields, 3)
}

func TestCreate_RequiresSuperAdmin(t *testing.T) {
	svc := tenant.New(dbtest.New(t), nil)
	admin := access.Principal{UserID: "u", TenantID: "t", Roles: []string{"tenant_admin"}}
	_, err := svc.Create(context.Background(), admin, tenant.CreateInput{Name: "x", Subdomain: "x"})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestUpdateAndList(t *testing.T) {
	db := dbtest.New(t)
	svc := tenant.New(db, nil)
	ctx := context.Background()
	tn := seedTenant(t, db, svc, "alpha")
	seedTenant(t, db, svc, "beta")

	inactive := false
	limit := 50
	tn, err := svc.Update(ctx, root, tn.ID, tenant.UpdateInput{Active: &inactive, MaxUsers: &limit})
	require.NoError(t, err)
	assert.False(t, tn.Active)
	assert.Equal(t, 50, tn.MaxUsers)

	list, meta, err := svc.List(ctx, root, "alp", paging.Default())
	require.NoError(t, err)
	assert.Equal(t, int64(1), meta.Total)
	assert.Equal(t, "alpha", list[0].Subdomain)

	own := access.Principal{UserID: "u", TenantID: tn.ID, Roles: []string{"tenant_admin"}}
	got, err := svc.Get(ctx, own, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, tn.ID, got.ID)
}

func seedChildren(t *testing.T, db *gorm.DB, tn *model.Tenant) (*model.User, *model.Person, *model.Group) {
	t.Helper()
	u := &model.User{Email: "u@" + tn.Subdomain + ".test", TenantID: &tn.ID}
	require.NoError(t, db.Create(u).Error)
	p := &model.Person{TenantID: tn.ID, FirstName: "Ada", LastName: "L", Email: "p@" + tn.Subdomain + ".test",
		NationalID: "N-" + tn.Subdomain, NationalIDType: model.NationalIDTypeNational}
	require.NoError(t, db.Create(p).Error)
	g := &model.Group{TenantID: tn.ID, Name: "G", Type: model.GroupTypeAcademic, Active: true}
	require.NoError(t, db.Create(g).Error)
	require.NoError(t, audit.Record(db, audit.Entry{
		Actor: access.Principal{UserID: u.ID}, TenantID: tn.ID, Action: audit.ActionCreate,
		EntityType: "group", EntityID: g.ID,
	}))
	return u, p, g
}

func TestDelete_TombstonesChildren(t *testing.T) {
	db := dbtest.New(t)
	svc := tenant.New(db, nil)
	ctx := context.Background()
	tn := seedTenant(t, db, svc, "gamma")
	u, p, g := seedChildren(t, db, tn)

	require.NoError(t, svc.Delete(ctx, root, tn.ID))

	assert.ErrorIs(t, db.First(&model.User{}, "id = ?", u.ID).Error, gorm.ErrRecordNotFound)
	assert.ErrorIs(t, db.First(&model.Person{}, "id = ?", p.ID).Error, gorm.ErrRecordNotFound)
	assert.ErrorIs(t, db.First(&model.Group{}, "id = ?", g.ID).Error, gorm.ErrRecordNotFound)
	require.NoError(t, db.Unscoped().First(&model.User{}, "id = ?", u.ID).Error, "row kept as a tombstone")

	_, meta, err := audit.NewReader(db).List(ctx, audit.Filter{TenantID: tn.ID}, paging.Default())
	require.NoError(t, err)
	assert.Zero(t, meta.Total)

	_, err = svc.Get(ctx, root, tn.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestPurge_CascadesPhysically(t *testing.T) {
	db := dbtest.New(t)
	svc := tenant.New(db, nil)
	ctx := context.Background()
	tn := seedTenant(t, db, svc, "delta")
	u, p, g := seedChildren(t, db, tn)
	require.NoError(t, svc.Delete(ctx, root, tn.ID))

	require.NoError(t, svc.Purge(ctx, root, tn.ID))

	count := func(m any, id string) int64 {
		var n int64
		require.NoError(t, db.Unscoped().Model(m).Where("id = ?", id).Count(&n).Error)
		return n
	}
	assert.Zero(t, count(&model.Tenant{}, tn.ID))
	assert.Zero(t, count(&model.User{}, u.ID))
	assert.Zero(t, count(&model.Person{}, p.ID))
	assert.Zero(t, count(&model.Group{}, g.ID))

	var n int64
	require.NoError(t, db.Model(&model.AuditLogEntry{}).Where("tenant_id = ?", tn.ID).Count(&n).Error)
	assert.Zero(t, n)
	require.NoError(t, db.Model(&model.AuditLogEntry{}).Where("entity_id = ? AND action = ?", tn.ID, audit.ActionPurge).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestDelete_RevokesSessionsAtServiceTime(t *testing.T) {
	db := dbtest.New(t)
	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	svc := tenant.New(db, func() time.Time { return at })
	ctx := context.Background()
	tn := seedTenant(t, db, svc, "epsilon")
	u, _, _ := seedChildren(t, db, tn)
	rt := &model.RefreshToken{UserID: u.ID, TokenHash: "h-epsilon", ExpiresAt: at.Add(time.Hour), CreatedAt: at}
	require.NoError(t, db.Create(rt).Error)

	require.NoError(t, svc.Delete(ctx, root, tn.ID))

	var stored model.RefreshToken
	require.NoError(t, db.First(&stored, "id = ?", rt.ID).Error)
	require.NotNil(t, stored.RevokedAt)
	assert.True(t, at.Equal(*stored.RevokedAt))
}

package audit_test

import (
	"context"
	"testing"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/audit"
	"github.com/d9705996/perseo/internal/db/dbtest"
	"github.com/d9705996/perseo/internal/model"
	"github.com/d9705996/perseo/internal/paging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndList(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	tenant := &model.Tenant{Name: "Acme", Subdomain: "acme", SchemaName: "acme"}
	require.NoError(t, db.Create(tenant).Error)
	actor := &model.User{Email: "a@acme.test", TenantID: &tenant.ID}
	require.NoError(t, db.Create(actor).Error)

	p := access.Principal{UserID: actor.ID, TenantID: tenant.ID, IP: "10.0.0.1"}
	require.NoError(t, audit.Record(db, audit.Entry{
		Actor: p, TenantID: tenant.ID, Action: audit.ActionCreate,
		EntityType: "person", EntityID: "p1", After: map[string]string{"firstName": "Ada"},
	}))
	require.NoError(t, audit.Record(db, audit.Entry{
		Actor: p, TenantID: tenant.ID, Action: audit.ActionUpdate,
		EntityType: "group", EntityID: "g1",
		Before: map[string]string{"name": "a"}, After: map[string]string{"name": "b"},
	}))

	r := audit.NewReader(db)
	rows, meta, err := r.List(ctx, audit.Filter{TenantID: tenant.ID}, paging.Default())
	require.NoError(t, err)
	assert.Equal(t, int64(2), meta.Total)
	require.Len(t, rows, 2)
	assert.Equal(t, "10.0.0.1", rows[0].IPAddress)
	require.NotNil(t, rows[0].ActorID)
	assert.Equal(t, actor.ID, *rows[0].ActorID)

	rows, _, err = r.List(ctx, audit.Filter{TenantID: tenant.ID, EntityType: "person"}, paging.Default())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"firstName":"Ada"}`, string(rows[0].After))
	assert.Nil(t, rows[0].Before)
}

func TestList_HidesSoftDeletedTenant(t *testing.T) {
	db := dbtest.New(t)
	tenant := &model.Tenant{Name: "Gone", Subdomain: "gone", SchemaName: "gone"}
	require.NoError(t, db.Create(tenant).Error)
	require.NoError(t, audit.Record(db, audit.Entry{
		TenantID: tenant.ID, Action: audit.ActionCreate, EntityType: "tenant", EntityID: tenant.ID,
	}))
	require.NoError(t, db.Delete(tenant).Error)

	_, meta, err := audit.NewReader(db).List(context.Background(), audit.Filter{}, paging.Default())
	require.NoError(t, err)
	assert.Zero(t, meta.Total)
}

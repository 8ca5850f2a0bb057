package seed_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/d9705996/perseo/internal/db/dbtest"
	"github.com/d9705996/perseo/internal/model"
	"github.com/d9705996/perseo/internal/seed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newNullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestEnsureAdmin_CreatesVerifiedSuperAdmin(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	created, err := seed.EnsureAdmin(ctx, db, seed.AdminOptions{
		Email:        "Root@Perseo.Test",
		SeedPassword: "my-supplied-passw0rd",
		BcryptCost:   bcrypt.MinCost,
	}, newNullLogger())
	require.NoError(t, err)
	assert.True(t, created)

	var u model.User
	require.NoError(t, db.First(&u, "email = ?", "root@perseo.test").Error)
	assert.True(t, u.EmailVerified)
	assert.Nil(t, u.TenantID)
	assert.Equal(t, model.RoleSuperAdmin, u.PrimaryRole())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("my-supplied-passw0rd")))

	var entries int64
	require.NoError(t, db.Model(&model.AuditLogEntry{}).Where("entity_id = ?", u.ID).Count(&entries).Error)
	assert.Equal(t, int64(1), entries)
}

func TestEnsureAdmin_Idempotent(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	opts := seed.AdminOptions{Email: "root@perseo.test", SeedPassword: "my-supplied-passw0rd", BcryptCost: bcrypt.MinCost}

	_, err := seed.EnsureAdmin(ctx, db, opts, newNullLogger())
	require.NoError(t, err)
	created, err := seed.EnsureAdmin(ctx, db, opts, newNullLogger())
	require.NoError(t, err)
	assert.False(t, created)

	var n int64
	require.NoError(t, db.Model(&model.User{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestEnsureAdmin_PrintsGeneratedPassword(t *testing.T) {
	db := dbtest.New(t)
	var out bytes.Buffer

	_, err := seed.EnsureAdmin(context.Background(), db, seed.AdminOptions{
		Email:      "root@perseo.test",
		Out:        &out,
		BcryptCost: bcrypt.MinCost,
	}, newNullLogger())
	require.NoError(t, err)

	line := strings.TrimSpace(out.String())
	require.True(t, strings.HasPrefix(line, "[perseo] seed admin password: "))
	password := strings.TrimPrefix(line, "[perseo] seed admin password: ")
	assert.Len(t, password, 32)

	var u model.User
	require.NoError(t, db.First(&u).Error)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)))
}

func TestEnsureAdmin_RejectsWeakSuppliedPassword(t *testing.T) {
	db := dbtest.New(t)
	_, err := seed.EnsureAdmin(context.Background(), db, seed.AdminOptions{
		Email:        "root@perseo.test",
		SeedPassword: "short",
	}, newNullLogger())
	assert.Error(t, err)
}

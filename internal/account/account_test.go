package account_test

import (
	"context"
	"testing"
	"time"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/account"
	"github.com/d9705996/perseo/internal/apperr"
	"github.com/d9705996/perseo/internal/audit"
	"github.com/d9705996/perseo/internal/auth"
	"github.com/d9705996/perseo/internal/db/dbtest"
	"github.com/d9705996/perseo/internal/model"
	"github.com/d9705996/perseo/internal/notify"
	"github.com/d9705996/perseo/internal/paging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	svc   *account.Service
	db    *gorm.DB
	mail  *notify.Recorder
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.New(t)
	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	rec := &notify.Recorder{}
	svc, err := account.New(account.Options{
		DB:         db,
		Signer:     auth.NewSigner("test-secret", "perseo", 15*time.Minute, c.Now),
		Refresh:    auth.NewRefreshStore(db, time.Hour, c.Now),
		Notifier:   notify.Direct{Mailer: rec},
		Now:        c.Now,
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)
	return &fixture{svc: svc, db: db, mail: rec, clock: c}
}

func (f *fixture) register(t *testing.T, email, password string) *model.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), account.RegisterInput{Email: email, Password: password, Name: "Test"})
	require.NoError(t, err)
	return u
}

func (f *fixture) verify(t *testing.T) {
	t.Helper()
	m, ok := f.mail.Last(notify.TemplateVerification)
	require.True(t, ok)
	require.NoError(t, f.svc.VerifyEmail(context.Background(), m.Token))
}

func TestRegisterVerifyLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u := f.register(t, "  New.User@Example.com ", "passw0rd!")
	assert.Equal(t, "new.user@example.com", u.Email)
	assert.False(t, u.EmailVerified)

	_, err := f.svc.Login(ctx, account.LoginInput{Email: "new.user@example.com", Password: "passw0rd!"})
	assert.ErrorIs(t, err, apperr.Authentication("email_not_verified", ""))

	f.verify(t)

	sess, err := f.svc.Login(ctx, account.LoginInput{Email: "new.user@example.com", Password: "passw0rd!", IP: "10.1.1.1"})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.AccessToken)
	assert.NotEmpty(t, sess.RefreshToken)
	assert.Equal(t, model.RoleMember, sess.User.PrimaryRole())
	assert.Equal(t, "10.1.1.1", sess.User.LastLoginIP)
}

func TestVerifyEmail_TokenIsSingleUse(t *testing.T) {
	f := newFixture(t)
	f.register(t, "once@example.com", "passw0rd1")
	m, _ := f.mail.Last(notify.TemplateVerification)

	require.NoError(t, f.svc.VerifyEmail(context.Background(), m.Token))
	err := f.svc.VerifyEmail(context.Background(), m.Token)
	assert.ErrorIs(t, err, apperr.Validation("invalid_token", ""))
}

func TestVerifyEmail_Expired(t *testing.T) {
	f := newFixture(t)
	f.register(t, "late@example.com", "passw0rd1")
	m, _ := f.mail.Last(notify.TemplateVerification)

	f.clock.Advance(account.VerificationTTL + time.Second)
	err := f.svc.VerifyEmail(context.Background(), m.Token)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRegister_DuplicateEmailAndWeakPassword(t *testing.T) {
	f := newFixture(t)
	f.register(t, "dup@example.com", "passw0rd1")

	_, err := f.svc.Register(context.Background(), account.RegisterInput{Email: "DUP@example.com", Password: "passw0rd1"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = f.svc.Register(context.Background(), account.RegisterInput{Email: "weak@example.com", Password: "password"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestLogin_LockoutAfterFiveFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "lock@example.com", "passw0rd1")
	f.verify(t)

	bad := account.LoginInput{Email: "lock@example.com", Password: "wrong-pass1"}
	for i := 1; i < account.MaxFailedAttempts; i++ {
		_, err := f.svc.Login(ctx, bad)
		require.ErrorIs(t, err, apperr.Authentication("invalid_credentials", ""), "attempt %d", i)
	}
	_, err := f.svc.Login(ctx, bad)
	require.Equal(t, apperr.KindLocked, apperr.KindOf(err))

	good := account.LoginInput{Email: "lock@example.com", Password: "passw0rd1"}
	_, err = f.svc.Login(ctx, good)
	require.Equal(t, apperr.KindLocked, apperr.KindOf(err), "correct password is still rejected while locked")

	f.clock.Advance(account.LockDuration - time.Minute)
	_, err = f.svc.Login(ctx, good)
	require.Equal(t, apperr.KindLocked, apperr.KindOf(err))

	f.clock.Advance(2 * time.Minute)
	sess, err := f.svc.Login(ctx, good)
	require.NoError(t, err)
	assert.Zero(t, sess.User.FailedLoginAttempts)

	var stored model.User
	require.NoError(t, f.db.First(&stored, "email = ?", "lock@example.com").Error)
	assert.Nil(t, stored.LockedUntil)
	assert.Zero(t, stored.FailedLoginAttempts)
}

func TestLogin_UnknownUserIsGeneric(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Login(context.Background(), account.LoginInput{Email: "ghost@example.com", Password: "x"})
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "invalid_credentials", e.Code)
}

func TestLogin_InactiveTenantIsGeneric(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := &model.Tenant{Name: "Acme", Subdomain: "acme", SchemaName: "acme"}
	require.NoError(t, f.db.Create(tenant).Error)

	_, err := f.svc.Register(ctx, account.RegisterInput{Email: "t@acme.test", Password: "passw0rd1", Tenant: "acme"})
	require.NoError(t, err)
	f.verify(t)

	require.NoError(t, f.db.Model(tenant).Update("active", false).Error)
	_, err = f.svc.Login(ctx, account.LoginInput{Email: "t@acme.test", Password: "passw0rd1"})
	assert.ErrorIs(t, err, apperr.Authentication("invalid_credentials", ""))
}

func TestRefresh_InactiveTenantEndsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := &model.Tenant{Name: "Acme", Subdomain: "acme", SchemaName: "acme"}
	require.NoError(t, f.db.Create(tenant).Error)

	_, err := f.svc.Register(ctx, account.RegisterInput{Email: "t@acme.test", Password: "passw0rd1", Tenant: "acme"})
	require.NoError(t, err)
	f.verify(t)
	sess, err := f.svc.Login(ctx, account.LoginInput{Email: "t@acme.test", Password: "passw0rd1"})
	require.NoError(t, err)

	require.NoError(t, f.db.Model(tenant).Update("active", false).Error)
	_, err = f.svc.Refresh(ctx, sess.RefreshToken, auth.Client{})
	assert.ErrorIs(t, err, apperr.Authentication("invalid_credentials", ""))

	var live int64
	require.NoError(t, f.db.Model(&model.RefreshToken{}).Where("revoked_at IS NULL").Count(&live).Error)
	assert.Zero(t, live, "the rotated token is revoked too")

	require.NoError(t, f.db.Model(tenant).Update("active", true).Error)
	_, err = f.svc.Refresh(ctx, sess.RefreshToken, auth.Client{})
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
}

func TestRefresh_ExpiredTenantEndsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expires := f.clock.Now().Add(30 * time.Minute)
	tenant := &model.Tenant{Name: "Trial", Subdomain: "trial", SchemaName: "trial", ExpiresAt: &expires}
	require.NoError(t, f.db.Create(tenant).Error)

	_, err := f.svc.Register(ctx, account.RegisterInput{Email: "t@trial.test", Password: "passw0rd1", Tenant: "trial"})
	require.NoError(t, err)
	f.verify(t)
	sess, err := f.svc.Login(ctx, account.LoginInput{Email: "t@trial.test", Password: "passw0rd1"})
	require.NoError(t, err)

	next, err := f.svc.Refresh(ctx, sess.RefreshToken, auth.Client{})
	require.NoError(t, err)

	f.clock.Advance(45 * time.Minute)
	_, err = f.svc.Refresh(ctx, next.RefreshToken, auth.Client{})
	assert.ErrorIs(t, err, apperr.Authentication("invalid_credentials", ""))
}

func TestRegister_SeatLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := &model.Tenant{Name: "Tiny", Subdomain: "tiny", SchemaName: "tiny", MaxUsers: 1}
	require.NoError(t, f.db.Create(tenant).Error)

	_, err := f.svc.Register(ctx, account.RegisterInput{Email: "a@tiny.test", Password: "passw0rd1", Tenant: "tiny"})
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, account.RegisterInput{Email: "b@tiny.test", Password: "passw0rd1", Tenant: "tiny"})
	assert.Equal(t, apperr.KindCapacity, apperr.KindOf(err))
}

func TestRefresh_RotatesAndRejectsReuse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "r@example.com", "passw0rd1")
	f.verify(t)
	sess, err := f.svc.Login(ctx, account.LoginInput{Email: "r@example.com", Password: "passw0rd1"})
	require.NoError(t, err)

	next, err := f.svc.Refresh(ctx, sess.RefreshToken, auth.Client{})
	require.NoError(t, err)
	assert.NotEqual(t, sess.RefreshToken, next.RefreshToken)

	_, err = f.svc.Refresh(ctx, sess.RefreshToken, auth.Client{})
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))

	require.NoError(t, f.svc.Logout(ctx, next.RefreshToken))
	_, err = f.svc.Refresh(ctx, next.RefreshToken, auth.Client{})
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
}

func TestResetPassword_WorksWhileLockedAndRevokesSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "reset@example.com", "passw0rd1")
	f.verify(t)
	sess, err := f.svc.Login(ctx, account.LoginInput{Email: "reset@example.com", Password: "passw0rd1"})
	require.NoError(t, err)

	for range account.MaxFailedAttempts {
		_, _ = f.svc.Login(ctx, account.LoginInput{Email: "reset@example.com", Password: "wrong1234"})
	}

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "reset@example.com"))
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "nobody@example.com"))
	m, ok := f.mail.Last(notify.TemplatePasswordReset)
	require.True(t, ok)
	assert.Equal(t, "reset@example.com", m.To)

	require.NoError(t, f.svc.ResetPassword(ctx, m.Token, "n3wpassword"))
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, m.Token, "n3wpassword"), apperr.Validation("invalid_token", ""))

	_, err = f.svc.Refresh(ctx, sess.RefreshToken, auth.Client{})
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))

	_, err = f.svc.Login(ctx, account.LoginInput{Email: "reset@example.com", Password: "n3wpassword"})
	require.NoError(t, err)
}

func TestSelfServiceMutationsAreAudited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "audit@example.com", "passw0rd1")

	countFor := func(action string) int64 {
		var n int64
		require.NoError(t, f.db.Model(&model.AuditLogEntry{}).
			Where("entity_type = ? AND entity_id = ? AND action = ?", "user", u.ID, action).Count(&n).Error)
		return n
	}
	assert.Equal(t, int64(1), countFor(audit.ActionCreate))

	f.verify(t)
	assert.Equal(t, int64(1), countFor(audit.ActionVerifyEmail))

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "audit@example.com"))
	m, ok := f.mail.Last(notify.TemplatePasswordReset)
	require.True(t, ok)
	require.NoError(t, f.svc.ResetPassword(ctx, m.Token, "n3wpassword"))
	assert.Equal(t, int64(1), countFor(audit.ActionResetPassword))

	var entry model.AuditLogEntry
	require.NoError(t, f.db.Where("entity_id = ? AND action = ?", u.ID, audit.ActionVerifyEmail).First(&entry).Error)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, u.ID, *entry.ActorID)
	assert.Contains(t, string(entry.After), `"emailVerified":true`)

	var total int64
	require.NoError(t, f.db.Model(&model.AuditLogEntry{}).Where("entity_id = ?", u.ID).Count(&total).Error)
	assert.Equal(t, int64(3), total)
}

func TestVerifyEmail_RejectedTokenWritesNoAudit(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "late2@example.com", "passw0rd1")
	m, _ := f.mail.Last(notify.TemplateVerification)

	f.clock.Advance(account.VerificationTTL + time.Second)
	require.Error(t, f.svc.VerifyEmail(context.Background(), m.Token))

	var n int64
	require.NoError(t, f.db.Model(&model.AuditLogEntry{}).Where("entity_id = ?", u.ID).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestResetPassword_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "exp@example.com", "passw0rd1")
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "exp@example.com"))
	m, _ := f.mail.Last(notify.TemplatePasswordReset)

	f.clock.Advance(account.ResetTTL)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(f.svc.ResetPassword(ctx, m.Token, "n3wpassword")))
}

func TestAdminOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := &model.Tenant{Name: "Acme", Subdomain: "acme", SchemaName: "acme"}
	other := &model.Tenant{Name: "Other", Subdomain: "other", SchemaName: "other"}
	require.NoError(t, f.db.Create(tenant).Error)
	require.NoError(t, f.db.Create(other).Error)

	root := access.Principal{UserID: "", Roles: []string{"super_admin"}}
	admin, err := f.svc.Create(ctx, root, account.CreateInput{
		TenantID: tenant.ID, Email: "admin@acme.test", Password: "passw0rd1", Roles: []string{"tenant_admin"},
	})
	require.NoError(t, err)
	ap := access.Principal{UserID: admin.ID, TenantID: tenant.ID, Roles: admin.Roles}

	_, err = f.svc.Create(ctx, ap, account.CreateInput{
		TenantID: tenant.ID, Email: "evil@acme.test", Password: "passw0rd1", Roles: []string{"super_admin"},
	})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	_, err = f.svc.Create(ctx, ap, account.CreateInput{TenantID: other.ID, Email: "x@other.test", Password: "passw0rd1"})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	member, err := f.svc.Create(ctx, ap, account.CreateInput{TenantID: tenant.ID, Email: "m@acme.test", Password: "passw0rd1"})
	require.NoError(t, err)

	for range account.MaxFailedAttempts {
		_, _ = f.svc.Login(ctx, account.LoginInput{Email: "m@acme.test", Password: "wrong1234"})
	}
	u, err := f.svc.Unlock(ctx, ap, member.ID)
	require.NoError(t, err)
	assert.Nil(t, u.LockedUntil)
	_, err = f.svc.Login(ctx, account.LoginInput{Email: "m@acme.test", Password: "passw0rd1"})
	require.NoError(t, err)

	users, meta, err := f.svc.List(ctx, tenant.ID, paging.Default())
	require.NoError(t, err)
	assert.Equal(t, int64(2), meta.Total)
	assert.Len(t, users, 2)

	require.NoError(t, f.svc.Disable(ctx, ap, member.ID))
	_, err = f.svc.Login(ctx, account.LoginInput{Email: "m@acme.test", Password: "passw0rd1"})
	assert.ErrorIs(t, err, apperr.Authentication("invalid_credentials", ""))
	_, err = f.svc.Profile(ctx, member.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestPurge_NullsAuditActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tenant := &model.Tenant{Name: "Acme", Subdomain: "acme", SchemaName: "acme"}
	require.NoError(t, f.db.Create(tenant).Error)

	root := access.Principal{Roles: []string{"super_admin"}}
	admin, err := f.svc.Create(ctx, root, account.CreateInput{
		TenantID: tenant.ID, Email: "admin@acme.test", Password: "passw0rd1", Roles: []string{"tenant_admin"},
	})
	require.NoError(t, err)
	ap := access.Principal{UserID: admin.ID, TenantID: tenant.ID, Roles: admin.Roles}
	_, err = f.svc.Create(ctx, ap, account.CreateInput{TenantID: tenant.ID, Email: "m@acme.test", Password: "passw0rd1"})
	require.NoError(t, err)

	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(f.svc.Purge(ctx, ap, admin.ID)))
	require.NoError(t, f.svc.Purge(ctx, root, admin.ID))

	var n int64
	require.NoError(t, f.db.Unscoped().Model(&model.User{}).Where("id = ?", admin.ID).Count(&n).Error)
	assert.Zero(t, n)

	var entries []model.AuditLogEntry
	require.NoError(t, f.db.Where("entity_type = ? AND action = ?", "user", "create").Find(&entries).Error)
	require.Len(t, entries, 2)
	for _, e := range entries {
		if e.EntityID != admin.ID {
			assert.Nil(t, e.ActorID, "actor of the second create was the purged admin")
		}
	}
}

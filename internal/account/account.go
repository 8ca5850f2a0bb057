// Package account implements the user account lifecycle: registration,
// e-mail verification, login with lockout, token refresh, password reset,
// and the administrative unlock/disable/purge operations.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/apperr"
	"github.com/d9705996/perseo/internal/audit"
	"github.com/d9705996/perseo/internal/auth"
	"github.com/d9705996/perseo/internal/model"
	"github.com/d9705996/perseo/internal/notify"
	"github.com/d9705996/perseo/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Lifecycle limits.
const (
	MaxFailedAttempts = 5
	LockDuration      = 30 * time.Minute
	VerificationTTL   = 24 * time.Hour
	ResetTTL          = time.Hour
	MinPasswordLength = 8
)

const entityUser = "user"

var errInvalidCredentials = apperr.Authentication("invalid_credentials", "invalid email or password")

// Options configures a Service.
type Options struct {
	DB       *gorm.DB
	Signer   *auth.Signer
	Refresh  *auth.RefreshStore
	Notifier notify.Notifier
	Log      *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	// Meter defaults to the global OTel meter provider.
	Meter metric.Meter
}

// Service owns user accounts.
type Service struct {
	db       *gorm.DB
	signer   *auth.Signer
	refresh  *auth.RefreshStore
	notifier notify.Notifier
	log      *slog.Logger
	now      func() time.Time
	cost     int

	logins metric.Int64Counter
}

// New wires a Service.
func New(o Options) (*Service, error) {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.BcryptCost == 0 {
		o.BcryptCost = bcrypt.DefaultCost
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	if o.Meter == nil {
		o.Meter = otel.Meter("github.com/d9705996/perseo/internal/account")
	}
	logins, err := o.Meter.Int64Counter("perseo.account.logins",
		metric.WithDescription("Login attempts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("create login counter: %w", err)
	}
	return &Service{
		db:       o.DB,
		signer:   o.Signer,
		refresh:  o.Refresh,
		notifier: o.Notifier,
		log:      o.Log,
		now:      o.Now,
		cost:     o.BcryptCost,
		logins:   logins,
	}, nil
}

// RegisterInput is a self-service sign-up.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	// Tenant is an optional tenant subdomain.
	Tenant string
}

// Register creates an unverified member account and sends its verification
// token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	email := NormalizeEmail(in.Email)
	if err := CheckPassword(in.Password); err != nil {
		return nil, err
	}

	var tenantID *string
	if in.Tenant != "" {
		var t model.Tenant
		err := s.db.WithContext(ctx).Where("subdomain = ?", strings.ToLower(in.Tenant)).First(&t).Error
		if err != nil || !t.Usable(s.now()) {
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.Internal(err)
			}
			return nil, apperr.Validation("invalid_tenant", "tenant is unknown or unavailable",
				apperr.FieldError{Field: "tenant", Message: "unknown or unavailable"})
		}
		tenantID = &t.ID
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("hash password: %w", err))
	}
	token, err := auth.GenerateToken()
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("generate verification token: %w", err))
	}
	tokenHash := auth.HashToken(token)
	expires := s.now().Add(VerificationTTL)

	u := &model.User{
		TenantID:              tenantID,
		Email:                 email,
		Name:                  strings.TrimSpace(in.Name),
		PasswordHash:          string(hash),
		Roles:                 model.StringSlice{string(model.RoleMember)},
		VerificationTokenHash: &tokenHash,
		VerificationExpiresAt: &expires,
	}
	err = store.Tx(ctx, s.db, func(tx *gorm.DB) error {
		if err := checkSeats(tx, tenantID); err != nil {
			return err
		}
		if err := createUser(tx, u); err != nil {
			return err
		}
		return audit.Record(tx, audit.Entry{
			Actor:      access.Principal{UserID: u.ID},
			TenantID:   u.TenantIDValue(),
			Action:     audit.ActionCreate,
			EntityType: entityUser,
			EntityID:   u.ID,
			After:      Snapshot(u),
		})
	})
	if err != nil {
		return nil, err
	}

	if err := s.notifier.SendVerification(ctx, u.Email, u.Name, token); err != nil {
		s.log.ErrorContext(ctx, "send verification email", "user_id", u.ID, "error", err)
	}
	s.log.InfoContext(ctx, "user registered", "user_id", u.ID)
	return u, nil
}

// VerifyEmail consumes a verification token. Each token works once.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return invalidToken()
	}
	h := auth.HashToken(token)
	var u model.User
	if err := s.db.WithContext(ctx).Where("verification_token_hash = ?", h).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return invalidToken()
		}
		return apperr.Internal(err)
	}
	if u.VerificationExpiresAt == nil || !s.now().Before(*u.VerificationExpiresAt) {
		return invalidToken()
	}
	before := Snapshot(&u)
	err := store.Tx(ctx, s.db, func(tx *gorm.DB) error {
		res := tx.Model(&model.User{}).
			Where("id = ? AND verification_token_hash = ?", u.ID, h).
			Updates(map[string]any{
				"email_verified":          true,
				"verification_token_hash": nil,
				"verification_expires_at": nil,
			})
		if res.Error != nil {
			return apperr.Internal(res.Error)
		}
		if res.RowsAffected == 0 {
			return invalidToken()
		}
		u.EmailVerified = true
		return audit.Record(tx, audit.Entry{
			Actor: access.Principal{UserID: u.ID}, TenantID: u.TenantIDValue(), Action: audit.ActionVerifyEmail,
			EntityType: entityUser, EntityID: u.ID, Before: before, After: Snapshot(&u),
		})
	})
	if err != nil {
		return err
	}
	s.log.InfoContext(ctx, "email verified", "user_id", u.ID)
	return nil
}

func invalidToken() error {
	return apperr.Validation("invalid_token", "token is invalid or expired",
		apperr.FieldError{Field: "token", Message: "invalid or expired"})
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CheckPassword enforces the password policy: at least MinPasswordLength
// characters with one letter and one digit.
func CheckPassword(pw string) error {
	var letter, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if len([]rune(pw)) < MinPasswordLength || !letter || !digit {
		return apperr.Validation("weak_password", "password does not meet the policy",
			apperr.FieldError{Field: "password", Message: fmt.Sprintf("must be at least %d characters with a letter and a digit", MinPasswordLength)})
	}
	return nil
}

// checkSeats rejects a new user when the tenant's seat limit is reached.
func checkSeats(tx *gorm.DB, tenantID *string) error {
	if tenantID == nil {
		return nil
	}
	var t model.Tenant
	if err := store.ForUpdate(tx).First(&t, "id = ?", *tenantID).Error; err != nil {
		return store.Translate(err, "tenant")
	}
	if t.MaxUsers <= 0 {
		return nil
	}
	var n int64
	if err := tx.Model(&model.User{}).Where("tenant_id = ?", t.ID).Count(&n).Error; err != nil {
		return apperr.Internal(err)
	}
	if n >= int64(t.MaxUsers) {
		return apperr.Capacity("tenant user limit reached")
	}
	return nil
}

func createUser(tx *gorm.DB, u *model.User) error {
	if err := tx.Create(u).Error; err != nil {
		if store.IsUniqueViolation(err) {
			return apperr.Conflict("email_taken", "email is already registered")
		}
		return store.Translate(err, entityUser)
	}
	return nil
}

func (s *Service) countLogin(ctx context.Context, outcome string) {
	s.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Snapshot is the audit form of a user. Secrets are left out.
func Snapshot(u *model.User) map[string]any {
	return map[string]any{
		"id":            u.ID,
		"tenantId":      u.TenantID,
		"email":         u.Email,
		"name":          u.Name,
		"roles":         u.Roles,
		"emailVerified": u.EmailVerified,
		"lockedUntil":   u.LockedUntil,
	}
}

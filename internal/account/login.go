package account

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/d9705996/perseo/internal/apperr"
	"github.com/d9705996/perseo/internal/auth"
	"github.com/d9705996/perseo/internal/model"
	"github.com/d9705996/perseo/internal/store"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// LoginInput carries credentials plus the client they came from.
type LoginInput struct {
	Email     string
	Password  string
	UserAgent string
	IP        string
}

// Session is the outcome of a login or refresh.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *model.User
}

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// compareDummy spends the same bcrypt time as a real check so unknown
// addresses cannot be told apart by latency.
func (s *Service) compareDummy(pw string) {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("perseo-dummy-password1"), s.cost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(pw))
}

// Login authenticates a user. Every credential failure is reported with the
// same generic error; a locked account reports Locked even when the
// password is right.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	email := NormalizeEmail(in.Email)
	now := s.now()

	var u model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.compareDummy(in.Password)
			s.countLogin(ctx, "invalid_credentials")
			return nil, errInvalidCredentials
		}
		return nil, apperr.Internal(err)
	}

	if u.LockedUntil != nil && now.Before(*u.LockedUntil) {
		s.countLogin(ctx, "locked")
		return nil, apperr.Locked("account is temporarily locked")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		return nil, s.recordFailure(ctx, &u)
	}

	if u.TenantID != nil {
		var t model.Tenant
		err := s.db.WithContext(ctx).First(&t, "id = ?", *u.TenantID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Internal(err)
		}
		if err != nil || !t.Usable(now) {
			s.countLogin(ctx, "tenant_unavailable")
			return nil, errInvalidCredentials
		}
	}

	if !u.EmailVerified {
		s.countLogin(ctx, "email_not_verified")
		return nil, apperr.Authentication("email_not_verified", "email address has not been verified")
	}

	updates := map[string]any{
		"failed_login_attempts": 0,
		"locked_until":          nil,
		"last_login_at":         now,
		"last_login_ip":         in.IP,
	}
	if err := s.db.WithContext(ctx).Model(&u).Updates(updates).Error; err != nil {
		return nil, apperr.Internal(fmt.Errorf("record login: %w", err))
	}
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	u.LastLoginAt = &now
	u.LastLoginIP = in.IP

	sess, err := s.issue(ctx, &u, auth.Client{UserAgent: in.UserAgent, IP: in.IP})
	if err != nil {
		return nil, err
	}
	s.countLogin(ctx, "success")
	s.log.InfoContext(ctx, "user logged in", "user_id", u.ID)
	return sess, nil
}

// recordFailure bumps the failure counter and locks the account on the
// MaxFailedAttempts-th consecutive failure. A lock that already elapsed
// starts a fresh count.
func (s *Service) recordFailure(ctx context.Context, u *model.User) error {
	now := s.now()
	var locked bool
	err := store.Tx(ctx, s.db, func(tx *gorm.DB) error {
		var cur model.User
		if err := store.ForUpdate(tx).First(&cur, "id = ?", u.ID).Error; err != nil {
			return err
		}
		attempts := cur.FailedLoginAttempts
		if cur.LockedUntil != nil && !now.Before(*cur.LockedUntil) {
			attempts = 0
		}
		attempts++
		updates := map[string]any{"failed_login_attempts": attempts}
		if attempts >= MaxFailedAttempts {
			until := now.Add(LockDuration)
			updates["locked_until"] = until
			locked = true
		} else {
			updates["locked_until"] = nil
		}
		return tx.Model(&model.User{}).Where("id = ?", cur.ID).Updates(updates).Error
	})
	if err != nil {
		return apperr.Internal(fmt.Errorf("record failed login: %w", err))
	}
	if locked {
		s.countLogin(ctx, "locked")
		s.log.WarnContext(ctx, "account locked after failed logins", "user_id", u.ID)
		return apperr.Locked("account is temporarily locked")
	}
	s.countLogin(ctx, "invalid_credentials")
	return errInvalidCredentials
}

func (s *Service) issue(ctx context.Context, u *model.User, c auth.Client) (*Session, error) {
	access, err := s.signer.Issue(u.ID, u.Email, u.Roles, u.TenantIDValue())
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("issue access token: %w", err))
	}
	refresh, err := s.refresh.Issue(ctx, u.ID, c)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &Session{AccessToken: access, RefreshToken: refresh, User: u}, nil
}

// Refresh rotates a refresh token and mints a new access token. The tenant
// and verification checks of Login are repeated; a rejected refresh leaves
// no live token behind.
func (s *Service) Refresh(ctx context.Context, refreshToken string, c auth.Client) (*Session, error) {
	if refreshToken == "" {
		return nil, apperr.Authentication("invalid_token", auth.ErrInvalidRefreshToken.Error())
	}
	next, userID, err := s.refresh.Rotate(ctx, refreshToken, c)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidRefreshToken) {
			return nil, apperr.Authentication("invalid_token", err.Error())
		}
		return nil, apperr.Internal(err)
	}

	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Authentication("invalid_token", "account no longer exists")
		}
		return nil, apperr.Internal(err)
	}
	if u.LockedUntil != nil && s.now().Before(*u.LockedUntil) {
		return nil, apperr.Locked("account is temporarily locked")
	}
	if err := s.sessionAllowed(ctx, &u); err != nil {
		if rerr := s.refresh.Revoke(ctx, next); rerr != nil {
			s.log.ErrorContext(ctx, "revoke rejected refresh token", "user_id", u.ID, "err", rerr)
		}
		return nil, err
	}

	access, err := s.signer.Issue(u.ID, u.Email, u.Roles, u.TenantIDValue())
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("issue access token: %w", err))
	}
	return &Session{AccessToken: access, RefreshToken: next, User: &u}, nil
}

// sessionAllowed re-applies the login gates that can change while a session
// is alive: a tenant that stopped being usable or an unverified address.
func (s *Service) sessionAllowed(ctx context.Context, u *model.User) error {
	if u.TenantID != nil {
		var t model.Tenant
		err := s.db.WithContext(ctx).First(&t, "id = ?", *u.TenantID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Internal(err)
		}
		if err != nil || !t.Usable(s.now()) {
			return errInvalidCredentials
		}
	}
	if !u.EmailVerified {
		return apperr.Authentication("email_not_verified", "email address has not been verified")
	}
	return nil
}

// Logout revokes a refresh token. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.refresh.Revoke(ctx, refreshToken); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/apperr"
	"github.com/d9705996/perseo/internal/audit"
	"github.com/d9705996/perseo/internal/auth"
	"github.com/d9705996/perseo/internal/model"
	"github.com/d9705996/perseo/internal/store"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// RequestPasswordReset issues a reset token when the address belongs to an
// account. Unknown addresses succeed silently.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	var u model.User
	err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return apperr.Internal(err)
	}

	token, err := auth.GenerateToken()
	if err != nil {
		return apperr.Internal(fmt.Errorf("generate reset token: %w", err))
	}
	err = s.db.WithContext(ctx).Model(&u).Updates(map[string]any{
		"reset_token_hash": auth.HashToken(token),
		"reset_expires_at": s.now().Add(ResetTTL),
	}).Error
	if err != nil {
		return apperr.Internal(fmt.Errorf("store reset token: %w", err))
	}
	if err := s.notifier.SendPasswordReset(ctx, u.Email, u.Name, token); err != nil {
		s.log.ErrorContext(ctx, "send password reset email", "user_id", u.ID, "error", err)
	}
	return nil
}

// ResetPassword sets a new password from a reset token. It works whether or
// not the account is locked, clears the lock, and revokes every refresh
// token of the user.
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	if token == "" {
		return invalidToken()
	}
	if err := CheckPassword(password); err != nil {
		return err
	}
	h := auth.HashToken(token)

	var u model.User
	if err := s.db.WithContext(ctx).Where("reset_token_hash = ?", h).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return invalidToken()
		}
		return apperr.Internal(err)
	}
	if u.ResetExpiresAt == nil || !s.now().Before(*u.ResetExpiresAt) {
		return invalidToken()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return apperr.Internal(fmt.Errorf("hash password: %w", err))
	}

	return store.Tx(ctx, s.db, func(tx *gorm.DB) error {
		res := tx.Model(&model.User{}).
			Where("id = ? AND reset_token_hash = ?", u.ID, h).
			Updates(map[string]any{
				"password_hash":         string(hash),
				"reset_token_hash":      nil,
				"reset_expires_at":      nil,
				"failed_login_attempts": 0,
				"locked_until":          nil,
			})
		if res.Error != nil {
			return apperr.Internal(res.Error)
		}
		if res.RowsAffected == 0 {
			return invalidToken()
		}
		if err := s.refresh.RevokeAllForUser(tx, u.ID); err != nil {
			return apperr.Internal(err)
		}
		before := Snapshot(&u)
		u.LockedUntil = nil
		if err := audit.Record(tx, audit.Entry{
			Actor: access.Principal{UserID: u.ID}, TenantID: u.TenantIDValue(), Action: audit.ActionResetPassword,
			EntityType: entityUser, EntityID: u.ID, Before: before, After: Snapshot(&u),
		}); err != nil {
			return apperr.Internal(err)
		}
		s.log.InfoContext(ctx, "password reset", "user_id", u.ID)
		return nil
	})
}

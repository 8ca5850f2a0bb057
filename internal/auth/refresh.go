package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/d9705996/perseo/internal/model"
	"gorm.io/gorm"
)

// ErrInvalidRefreshToken is returned for unknown, revoked or expired tokens.
var ErrInvalidRefreshToken = errors.New("refresh token is invalid or expired")

// RefreshStore manages refresh token persistence via GORM.
type RefreshStore struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewRefreshStore creates a RefreshStore backed by the given GORM DB. now may
// be nil.
func NewRefreshStore(db *gorm.DB, ttl time.Duration, now func() time.Time) *RefreshStore {
	if now == nil {
		now = time.Now
	}
	return &RefreshStore{db: db, ttl: ttl, now: now}
}

// TTL is the lifetime of issued refresh tokens.
func (s *RefreshStore) TTL() time.Duration { return s.ttl }

// Client identifies the device a token was issued to.
type Client struct {
	UserAgent string
	IP        string
}

// Issue generates a secure random token, stores its SHA-256 hash, and
// returns the plaintext token to the caller (stored nowhere).
func (s *RefreshStore) Issue(ctx context.Context, userID string, c Client) (string, error) {
	return s.issue(s.db.WithContext(ctx), userID, c)
}

func (s *RefreshStore) issue(tx *gorm.DB, userID string, c Client) (string, error) {
	raw, err := GenerateToken()
	if err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	rt := &model.RefreshToken{
		UserID:    userID,
		TokenHash: HashToken(raw),
		ExpiresAt: s.now().Add(s.ttl),
		UserAgent: c.UserAgent,
		IPAddress: c.IP,
	}
	if err := tx.Create(rt).Error; err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return raw, nil
}

// Rotate validates the given token, revokes it, and issues a new one.
// Returns the new refresh token and the user ID. A token can be rotated
// once; a second attempt fails with ErrInvalidRefreshToken.
func (s *RefreshStore) Rotate(ctx context.Context, rawToken string, c Client) (token string, userID string, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rt model.RefreshToken
		if err := tx.Where("token_hash = ?", HashToken(rawToken)).First(&rt).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidRefreshToken
			}
			return fmt.Errorf("load refresh token: %w", err)
		}
		now := s.now()
		if rt.RevokedAt != nil || !now.Before(rt.ExpiresAt) {
			return ErrInvalidRefreshToken
		}

		res := tx.Model(&model.RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL", rt.ID).
			Update("revoked_at", now)
		if res.Error != nil {
			return fmt.Errorf("revoke old refresh token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInvalidRefreshToken
		}

		token, err = s.issue(tx, rt.UserID, c)
		userID = rt.UserID
		return err
	})
	if err != nil {
		return "", "", err
	}
	return token, userID, nil
}

// Revoke marks the given token as revoked. Unknown tokens are ignored.
func (s *RefreshStore) Revoke(ctx context.Context, rawToken string) error {
	return s.db.WithContext(ctx).Model(&model.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", HashToken(rawToken)).
		Update("revoked_at", s.now()).Error
}

// RevokeAllForUser revokes every live token of userID using tx.
func (s *RefreshStore) RevokeAllForUser(tx *gorm.DB, userID string) error {
	return tx.Model(&model.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", s.now()).Error
}

// Cleanup deletes tokens that expired or were revoked more than retention
// ago and returns how many rows went.
func (s *RefreshStore) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)
	res := s.db.WithContext(ctx).
		Where("expires_at < ? OR (revoked_at IS NOT NULL AND revoked_at < ?)", cutoff, cutoff).
		Delete(&model.RefreshToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete stale refresh tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GenerateToken returns 32 random bytes hex encoded. Used for refresh,
// verification and reset tokens.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashToken is the at-rest form of a token.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Package seed creates the platform administrator on first boot when no
// super_admin exists.
package seed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"github.com/d9705996/perseo/internal/account"
	"github.com/d9705996/perseo/internal/audit"
	"github.com/d9705996/perseo/internal/model"
	"github.com/d9705996/perseo/internal/store"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AdminOptions configures the seed admin user.
type AdminOptions struct {
	Email        string
	SeedPassword string // if empty, a random password is generated
	// Out receives a generated password. Required when SeedPassword is empty.
	Out io.Writer
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// EnsureAdmin creates a verified, tenant-less super_admin if none exists.
// A generated password is written to opts.Out exactly once. The function
// is idempotent, so it is safe to call on every startup. It reports
// whether an account was created.
func EnsureAdmin(ctx context.Context, db *gorm.DB, opts AdminOptions, log *slog.Logger) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Model(&model.User{}).
		Where("roles LIKE ?", `%"`+string(model.RoleSuperAdmin)+`"%`).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("count platform administrators: %w", err)
	}
	if count > 0 {
		log.Info("seed admin already exists")
		return false, nil
	}

	password := opts.SeedPassword
	generated := password == ""
	if generated {
		var err error
		password, err = generatePassword()
		if err != nil {
			return false, fmt.Errorf("generate seed password: %w", err)
		}
	} else if err := account.CheckPassword(password); err != nil {
		return false, fmt.Errorf("seed password: %w", err)
	}

	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return false, fmt.Errorf("hash seed password: %w", err)
	}

	u := &model.User{
		Email:         account.NormalizeEmail(opts.Email),
		Name:          "Platform Administrator",
		PasswordHash:  string(hash),
		Roles:         model.StringSlice{string(model.RoleSuperAdmin)},
		EmailVerified: true,
	}
	err = store.Tx(ctx, db, func(tx *gorm.DB) error {
		if err := tx.Create(u).Error; err != nil {
			return store.Translate(err, "user")
		}
		return audit.Record(tx, audit.Entry{
			Action: audit.ActionCreate, EntityType: "user", EntityID: u.ID, After: account.Snapshot(u),
		})
	})
	if err != nil {
		return false, fmt.Errorf("insert seed admin: %w", err)
	}

	if generated && opts.Out != nil {
		// Print the generated password exactly once.
		_, _ = fmt.Fprintf(opts.Out, "[perseo] seed admin password: %s\n", password)
	}
	log.Info("seed admin created", "email", u.Email)
	return true, nil
}

func generatePassword() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

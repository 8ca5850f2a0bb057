package account

import (
	"context"
	"fmt"
	"slices"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/apperr"
	"github.com/d9705996/perseo/internal/audit"
	"github.com/d9705996/perseo/internal/model"
	"github.com/d9705996/perseo/internal/paging"
	"github.com/d9705996/perseo/internal/store"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Sortable lists the attributes user lists may sort by.
var Sortable = paging.Sortable{"email": "email", "name": "name", "lastLoginAt": "last_login_at"}

// Profile returns the live account of userID.
func (s *Service) Profile(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error; err != nil {
		return nil, store.Translate(err, entityUser)
	}
	return &u, nil
}

// CreateInput is an administrator-created account.
type CreateInput struct {
	TenantID string
	Email    string
	Password string
	Name     string
	Roles    []string
}

// Create adds a verified account to a tenant. Only super-admins may grant
// super_admin.
func (s *Service) Create(ctx context.Context, p access.Principal, in CreateInput) (*model.User, error) {
	if err := access.RequireRole(p, model.RoleTenantAdmin); err != nil {
		return nil, err
	}
	if err := access.CanAccessTenant(p, in.TenantID); err != nil {
		return nil, err
	}
	if err := CheckPassword(in.Password); err != nil {
		return nil, err
	}
	roles := in.Roles
	if len(roles) == 0 {
		roles = []string{string(model.RoleMember)}
	}
	for _, r := range roles {
		if !model.Role(r).Valid() {
			return nil, apperr.Validation("invalid_role", "unknown role",
				apperr.FieldError{Field: "roles", Message: fmt.Sprintf("unknown role %q", r)})
		}
	}
	if slices.Contains(roles, string(model.RoleSuperAdmin)) && !p.SuperAdmin() {
		return nil, apperr.Authorization("only platform administrators may grant super_admin")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("hash password: %w", err))
	}
	tenantID := in.TenantID
	u := &model.User{
		TenantID:      &tenantID,
		Email:         NormalizeEmail(in.Email),
		Name:          in.Name,
		PasswordHash:  string(hash),
		Roles:         model.StringSlice(slices.Compact(slices.Sorted(slices.Values(roles)))),
		EmailVerified: true,
	}
	err = store.Tx(ctx, s.db, func(tx *gorm.DB) error {
		if err := checkSeats(tx, u.TenantID); err != nil {
			return err
		}
		if err := createUser(tx, u); err != nil {
			return err
		}
		return audit.Record(tx, audit.Entry{
			Actor: p, TenantID: tenantID, Action: audit.ActionCreate,
			EntityType: entityUser, EntityID: u.ID, After: Snapshot(u),
		})
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// List returns a page of the tenant's accounts.
func (s *Service) List(ctx context.Context, tenantID string, p paging.Params) ([]model.User, paging.Meta, error) {
	q := s.db.WithContext(ctx).Model(&model.User{}).Where("tenant_id = ?", tenantID)
	var users []model.User
	meta, err := paging.Find(q, p, &users)
	if err != nil {
		return nil, paging.Meta{}, apperr.Internal(err)
	}
	return users, meta, nil
}

// loadManaged loads a user the principal administers.
func loadManaged(tx *gorm.DB, p access.Principal, userID string) (*model.User, error) {
	if err := access.RequireRole(p, model.RoleTenantAdmin); err != nil {
		return nil, err
	}
	var u model.User
	if err := tx.First(&u, "id = ?", userID).Error; err != nil {
		return nil, store.Translate(err, entityUser)
	}
	if u.TenantID == nil {
		if !p.SuperAdmin() {
			return nil, apperr.Authorization("platform accounts are managed by platform administrators")
		}
		return &u, nil
	}
	if err := access.CanAccessTenant(p, *u.TenantID); err != nil {
		return nil, err
	}
	return &u, nil
}

// Unlock clears the failure counter and any lock.
func (s *Service) Unlock(ctx context.Context, p access.Principal, userID string) (*model.User, error) {
	var out *model.User
	err := store.Tx(ctx, s.db, func(tx *gorm.DB) error {
		u, err := loadManaged(tx, p, userID)
		if err != nil {
			return err
		}
		before := Snapshot(u)
		if err := tx.Model(u).Updates(map[string]any{"failed_login_attempts": 0, "locked_until": nil}).Error; err != nil {
			return apperr.Internal(err)
		}
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
		out = u
		return audit.Record(tx, audit.Entry{
			Actor: p, TenantID: u.TenantIDValue(), Action: audit.ActionUnlock,
			EntityType: entityUser, EntityID: u.ID, Before: before, After: Snapshot(u),
		})
	})
	return out, err
}

// Disable soft-deletes the account and revokes its refresh tokens.
func (s *Service) Disable(ctx context.Context, p access.Principal, userID string) error {
	return store.Tx(ctx, s.db, func(tx *gorm.DB) error {
		u, err := loadManaged(tx, p, userID)
		if err != nil {
			return err
		}
		if err := tx.Delete(u).Error; err != nil {
			return apperr.Internal(err)
		}
		if err := s.refresh.RevokeAllForUser(tx, u.ID); err != nil {
			return apperr.Internal(err)
		}
		return audit.Record(tx, audit.Entry{
			Actor: p, TenantID: u.TenantIDValue(), Action: audit.ActionDelete,
			EntityType: entityUser, EntityID: u.ID, Before: Snapshot(u),
		})
	})
}

// Purge removes the account row. Refresh tokens cascade; audit entries and
// memberships it added keep their rows with a NULL reference. Only
// super-admins purge.
func (s *Service) Purge(ctx context.Context, p access.Principal, userID string) error {
	if !p.SuperAdmin() {
		return apperr.Authorization("only platform administrators may purge accounts")
	}
	return store.Tx(ctx, s.db, func(tx *gorm.DB) error {
		var u model.User
		if err := tx.Unscoped().First(&u, "id = ?", userID).Error; err != nil {
			return store.Translate(err, entityUser)
		}
		if err := audit.Record(tx, audit.Entry{
			Actor: p, TenantID: u.TenantIDValue(), Action: audit.ActionPurge,
			EntityType: entityUser, EntityID: u.ID, Before: Snapshot(&u),
		}); err != nil {
			return err
		}
		if err := tx.Unscoped().Delete(&u).Error; err != nil {
			return apperr.Internal(err)
		}
		return nil
	})
}

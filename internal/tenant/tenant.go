// Package tenant is the tenant registry. Every operation is reserved for
// platform administrators.
package tenant

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/apperr"
	"github.com/d9705996/perseo/internal/audit"
	"github.com/d9705996/perseo/internal/model"
	"github.com/d9705996/perseo/internal/paging"
	"github.com/d9705996/perseo/internal/store"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const entityTenant = "tenant"

var (
	subdomainRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	schemaRe    = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)
)

// Sortable lists the attributes tenant lists may sort by.
var Sortable = paging.Sortable{"name": "name", "subdomain": "subdomain"}

// Service manages tenants.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// New returns a Service over db. now may be nil.
func New(db *gorm.DB, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{db: db, now: now}
}

// CreateInput describes a new tenant. SchemaName defaults to the subdomain
// with dashes turned into underscores.
type CreateInput struct {
	Name       string
	Subdomain  string
	SchemaName string
	MaxUsers   int
	ExpiresAt  *time.Time
	Settings   map[string]any
}

// UpdateInput holds the fields to change. Nil fields are left alone.
type UpdateInput struct {
	Name         *string
	Active       *bool
	MaxUsers     *int
	ExpiresAt    *time.Time
	ClearExpires bool
	Settings     map[string]any
}

// Create registers a tenant.
func (s *Service) Create(ctx context.Context, p access.Principal, in CreateInput) (*model.Tenant, error) {
	if !p.SuperAdmin() {
		return nil, apperr.Authorization("only platform administrators manage tenants")
	}
	sub := strings.ToLower(strings.TrimSpace(in.Subdomain))
	schema := in.SchemaName
	if schema == "" {
		schema = strings.ReplaceAll(sub, "-", "_")
	}
	var fields []apperr.FieldError
	if strings.TrimSpace(in.Name) == "" {
		fields = append(fields, apperr.FieldError{Field: "name", Message: "required"})
	}
	if !subdomainRe.MatchString(sub) {
		fields = append(fields, apperr.FieldError{Field: "subdomain", Message: "must be lowercase letters, digits and dashes"})
	}
	if !schemaRe.MatchString(schema) {
		fields = append(fields, apperr.FieldError{Field: "schemaName", Message: "must be lowercase letters, digits and underscores"})
	}
	if in.MaxUsers < 0 {
		fields = append(fields, apperr.FieldError{Field: "maxUsers", Message: "must not be negative"})
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid_tenant", "invalid tenant", fields...)
	}

	t := &model.Tenant{
		Name:       strings.TrimSpace(in.Name),
		Subdomain:  sub,
		SchemaName: schema,
		Active:     true,
		MaxUsers:   in.MaxUsers,
		ExpiresAt:  in.ExpiresAt,
		Settings:   datatypes.JSONMap(in.Settings),
	}
	err := store.Tx(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.Conflict("tenant_exists", "subdomain or schema name already in use")
			}
			return store.Translate(err, entityTenant)
		}
		return audit.Record(tx, audit.Entry{
			Actor: p, TenantID: t.ID, Action: audit.ActionCreate,
			EntityType: entityTenant, EntityID: t.ID, After: t,
		})
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Get returns a live tenant.
func (s *Service) Get(ctx context.Context, p access.Principal, id string) (*model.Tenant, error) {
	if err := access.CanAccessTenant(p, id); err != nil {
		return nil, err
	}
	var t model.Tenant
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, store.Translate(err, entityTenant)
	}
	return &t, nil
}

// List returns a page of live tenants.
func (s *Service) List(ctx context.Context, p access.Principal, q string, pp paging.Params) ([]model.Tenant, paging.Meta, error) {
	if !p.SuperAdmin() {
		return nil, paging.Meta{}, apperr.Authorization("only platform administrators manage tenants")
	}
	query := s.db.WithContext(ctx).Model(&model.Tenant{})
	if q != "" {
		like := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(name) LIKE ? OR subdomain LIKE ?", like, like)
	}
	var out []model.Tenant
	meta, err := paging.Find(query, pp, &out)
	if err != nil {
		return nil, paging.Meta{}, apperr.Internal(err)
	}
	return out, meta, nil
}

// Update changes a tenant's mutable fields.
func (s *Service) Update(ctx context.Context, p access.Principal, id string, in UpdateInput) (*model.Tenant, error) {
	if !p.SuperAdmin() {
		return nil, apperr.Authorization("only platform administrators manage tenants")
	}
	var t model.Tenant
	err := store.Tx(ctx, s.db, func(tx *gorm.DB) error {
		if err := store.ForUpdate(tx).First(&t, "id = ?", id).Error; err != nil {
			return store.Translate(err, entityTenant)
		}
		before := t
		updates := map[string]any{}
		if in.Name != nil {
			if strings.TrimSpace(*in.Name) == "" {
				return apperr.Validation("invalid_tenant", "invalid tenant", apperr.FieldError{Field: "name", Message: "required"})
			}
			updates["name"] = strings.TrimSpace(*in.Name)
		}
		if in.Active != nil {
			updates["active"] = *in.Active
		}
		if in.MaxUsers != nil {
			if *in.MaxUsers < 0 {
				return apperr.Validation("invalid_tenant", "invalid tenant", apperr.FieldError{Field: "maxUsers", Message: "must not be negative"})
			}
			updates["max_users"] = *in.MaxUsers
		}
		switch {
		case in.ClearExpires:
			updates["expires_at"] = nil
		case in.ExpiresAt != nil:
			updates["expires_at"] = *in.ExpiresAt
		}
		if in.Settings != nil {
			updates["settings"] = datatypes.JSONMap(in.Settings)
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&t).Updates(updates).Error; err != nil {
			return store.Translate(err, entityTenant)
		}
		if err := tx.First(&t, "id = ?", id).Error; err != nil {
			return store.Translate(err, entityTenant)
		}
		return audit.Record(tx, audit.Entry{
			Actor: p, TenantID: t.ID, Action: audit.ActionUpdate,
			EntityType: entityTenant, EntityID: t.ID, Before: before, After: t,
		})
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// tenantScoped lists the child tables tombstoned with their tenant.
var tenantScoped = []any{
	&model.Document{},
	&model.GroupMembership{},
	&model.Group{},
	&model.Person{},
	&model.User{},
}

// Delete soft-deletes the tenant together with every tenant-scoped row and
// revokes its users' refresh tokens.
func (s *Service) Delete(ctx context.Context, p access.Principal, id string) error {
	if !p.SuperAdmin() {
		return apperr.Authorization("only platform administrators manage tenants")
	}
	return store.Tx(ctx, s.db, func(tx *gorm.DB) error {
		var t model.Tenant
		if err := store.ForUpdate(tx).First(&t, "id = ?", id).Error; err != nil {
			return store.Translate(err, entityTenant)
		}
		if err := tx.Model(&model.RefreshToken{}).
			Where("revoked_at IS NULL AND user_id IN (?)",
				tx.Model(&model.User{}).Select("id").Where("tenant_id = ?", id)).
			Update("revoked_at", s.now()).Error; err != nil {
			return apperr.Internal(err)
		}
		for _, m := range tenantScoped {
			if err := tx.Where("tenant_id = ?", id).Delete(m).Error; err != nil {
				return apperr.Internal(err)
			}
		}
		if err := audit.Record(tx, audit.Entry{
			Actor: p, TenantID: t.ID, Action: audit.ActionDelete,
			EntityType: entityTenant, EntityID: t.ID, Before: t,
		}); err != nil {
			return err
		}
		return tx.Delete(&t).Error
	})
}

// Purge physically removes a tenant, live or soft-deleted. Users, persons,
// groups and audit entries go with it through foreign-key cascades.
func (s *Service) Purge(ctx context.Context, p access.Principal, id string) error {
	if !p.SuperAdmin() {
		return apperr.Authorization("only platform administrators manage tenants")
	}
	return store.Tx(ctx, s.db, func(tx *gorm.DB) error {
		var t model.Tenant
		if err := tx.Unscoped().First(&t, "id = ?", id).Error; err != nil {
			return store.Translate(err, entityTenant)
		}
		if err := tx.Unscoped().Delete(&t).Error; err != nil {
			return apperr.Internal(err)
		}
		return audit.Record(tx, audit.Entry{
			Actor: p, Action: audit.ActionPurge,
			EntityType: entityTenant, EntityID: t.ID, Before: t,
		})
	})
}

// Package directory manages the tenant's people and how they are organised:
// persons, groups and their hierarchy, time-bounded group memberships, and
// documents attached to persons. Every mutation writes an audit entry in the
// same transaction.
package directory

import (
	"context"
	"time"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/apperr"
	"github.com/d9705996/perseo/internal/audit"
	"github.com/d9705996/perseo/internal/model"
	"github.com/d9705996/perseo/internal/store"
	"gorm.io/gorm"
)

// Entity type names used in audit entries and error messages.
const (
	EntityPerson     = "person"
	EntityGroup      = "group"
	EntityMembership = "membership"
	EntityDocument   = "document"
)

// Service is the directory.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// New returns a Service. now may be nil.
func New(db *gorm.DB, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{db: db, now: now}
}

func (s *Service) today() time.Time {
	return time.Time(model.Date(s.now()))
}

// canRead checks tenant access and a read role.
func canRead(p access.Principal, tenantID string) error {
	if err := access.CanAccessTenant(p, tenantID); err != nil {
		return err
	}
	return access.RequireRole(p, access.Readers...)
}

// canWrite checks tenant access and a write role.
func canWrite(p access.Principal, tenantID string) error {
	if err := access.CanAccessTenant(p, tenantID); err != nil {
		return err
	}
	return access.RequireRole(p, access.Writers...)
}

// tx runs fn in a transaction.
func (s *Service) tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return store.Tx(ctx, s.db, fn)
}

func record(tx *gorm.DB, p access.Principal, tenantID, action, entity, id string, before, after any) error {
	return audit.Record(tx, audit.Entry{
		Actor: p, TenantID: tenantID, Action: action,
		EntityType: entity, EntityID: id, Before: before, After: after,
	})
}

// load fetches a live row by id and checks the caller may see its tenant.
func load[T any](tx *gorm.DB, entity, id string, tenantOf func(*T) string, check func(access.Principal, string) error, p access.Principal) (*T, error) {
	var row T
	if err := tx.First(&row, "id = ?", id).Error; err != nil {
		return nil, store.Translate(err, entity)
	}
	if err := check(p, tenantOf(&row)); err != nil {
		return nil, err
	}
	return &row, nil
}

func invalid(code, msg string, fields ...apperr.FieldError) error {
	return apperr.Validation(code, msg, fields...)
}

func field(name, msg string) apperr.FieldError {
	return apperr.FieldError{Field: name, Message: msg}
}

// Package audit appends and reads the mutation log. Entries are written on
// the caller's transaction so they commit or roll back with the change they
// describe.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/model"
	"github.com/d9705996/perseo/internal/paging"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actions recorded by the services.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionPurge  = "purge"

	ActionUnlock        = "unlock"
	ActionVerifyEmail   = "verify_email"
	ActionResetPassword = "reset_password"
)

// Entry describes one mutation.
type Entry struct {
	Actor      access.Principal
	TenantID   string
	Action     string
	EntityType string
	EntityID   string
	Before     any
	After      any
}

// Record inserts e using tx.
func Record(tx *gorm.DB, e Entry) error {
	before, err := snapshot(e.Before)
	if err != nil {
		return fmt.Errorf("audit before snapshot: %w", err)
	}
	after, err := snapshot(e.After)
	if err != nil {
		return fmt.Errorf("audit after snapshot: %w", err)
	}
	row := &model.AuditLogEntry{
		ActorID:    e.Actor.ActorID(),
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Before:     before,
		After:      after,
		IPAddress:  e.Actor.IP,
	}
	if e.TenantID != "" {
		tid := e.TenantID
		row.TenantID = &tid
	}
	if err := tx.Create(row).Error; err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func snapshot(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	TenantID   string
	EntityType string
	EntityID   string
	ActorID    string
	Action     string
}

// Sortable lists the attributes audit reads may sort by.
var Sortable = paging.Sortable{"action": "action", "entityType": "entity_type"}

// Reader lists audit entries.
type Reader struct {
	db *gorm.DB
}

// NewReader returns a Reader over db.
func NewReader(db *gorm.DB) *Reader {
	return &Reader{db: db}
}

// List returns one page of entries matching f. An empty TenantID lists
// every tenant and is reserved for platform administrators by the caller.
// Entries of a soft-deleted tenant are not returned.
func (r *Reader) List(ctx context.Context, f Filter, p paging.Params) ([]model.AuditLogEntry, paging.Meta, error) {
	q := r.db.WithContext(ctx).Model(&model.AuditLogEntry{})
	if f.TenantID != "" {
		q = q.Where("tenant_id = ?", f.TenantID)
	}
	q = q.Where("tenant_id IS NULL OR tenant_id IN (?)",
		r.db.Model(&model.Tenant{}).Select("id"))
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.ActorID != "" {
		q = q.Where("actor_id = ?", f.ActorID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	var rows []model.AuditLogEntry
	meta, err := paging.Find(q, p, &rows)
	if err != nil {
		return nil, paging.Meta{}, fmt.Errorf("list audit entries: %w", err)
	}
	return rows, meta, nil
}

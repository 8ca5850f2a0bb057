// Package model contains GORM model definitions shared across packages.
// All models are driver-agnostic: they work with both PostgreSQL and SQLite.
package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Role is one of the fixed platform roles a User may hold.
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleTenantAdmin Role = "tenant_admin"
	RoleInstructor  Role = "instructor"
	RoleStudent     Role = "student"
	RoleMember      Role = "member"
)

// rolePrecedence orders roles from most to least privileged.
var rolePrecedence = []Role{RoleSuperAdmin, RoleTenantAdmin, RoleInstructor, RoleStudent, RoleMember}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return slices.Contains(rolePrecedence, r)
}

// Tenant is the identity boundary every tenant-scoped row hangs off.
type Tenant struct {
	ID         string `gorm:"type:text;primaryKey"`
	Name       string `gorm:"type:text;not null"`
	Subdomain  string `gorm:"type:text;not null;uniqueIndex"`
	SchemaName string `gorm:"type:text;not null;uniqueIndex"`
	Active     bool   `gorm:"not null;default:true"`
	ExpiresAt  *time.Time
	MaxUsers   int               `gorm:"not null;default:0"`
	Settings   datatypes.JSONMap `gorm:"not null;default:'{}'"`
	CreatedAt  time.Time         `gorm:"not null"`
	UpdatedAt  time.Time         `gorm:"not null"`
	DeletedAt  gorm.DeletedAt    `gorm:"index"`
}

// BeforeCreate generates a UUID primary key if not set.
func (t *Tenant) BeforeCreate(_ *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Settings == nil {
		t.Settings = datatypes.JSONMap{}
	}
	return nil
}

// Usable reports whether users of the tenant may sign in at now.
func (t *Tenant) Usable(now time.Time) bool {
	if !t.Active || t.DeletedAt.Valid {
		return false
	}
	return t.ExpiresAt == nil || now.Before(*t.ExpiresAt)
}

// StringSlice is a []string that GORM serialises as JSON for both SQLite
// and PostgreSQL (TEXT column).
type StringSlice []string

// User is the GORM model for the users table.
type User struct {
	ID                    string      `gorm:"type:text;primaryKey"`
	TenantID              *string     `gorm:"type:text;index"`
	Tenant                *Tenant     `gorm:"constraint:OnDelete:CASCADE"`
	Email                 string      `gorm:"type:text;not null;uniqueIndex"`
	Name                  string      `gorm:"type:text;not null;default:''"`
	PasswordHash          string      `gorm:"type:text;not null;default:''"`
	Roles                 StringSlice `gorm:"type:text;not null;default:'[]';serializer:json"`
	EmailVerified         bool        `gorm:"not null;default:false"`
	VerificationTokenHash *string     `gorm:"type:text;uniqueIndex"`
	VerificationExpiresAt *time.Time
	ResetTokenHash        *string `gorm:"type:text;uniqueIndex"`
	ResetExpiresAt        *time.Time
	FailedLoginAttempts   int `gorm:"not null;default:0"`
	LockedUntil           *time.Time
	LastLoginAt           *time.Time
	LastLoginIP           string         `gorm:"type:text;not null;default:''"`
	CreatedAt             time.Time      `gorm:"not null"`
	UpdatedAt             time.Time      `gorm:"not null"`
	DeletedAt             gorm.DeletedAt `gorm:"index"`
}

// BeforeCreate generates a UUID primary key if not set.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Roles == nil {
		u.Roles = StringSlice{}
	}
	return nil
}

// HasRole reports whether the user holds r.
func (u *User) HasRole(r Role) bool {
	return slices.Contains(u.Roles, string(r))
}

// PrimaryRole returns the most privileged role the user holds, falling back
// to RoleMember for users without roles.
func (u *User) PrimaryRole() Role {
	return PrimaryRole(u.Roles)
}

// PrimaryRole returns the most privileged role in roles.
func PrimaryRole(roles []string) Role {
	for _, r := range rolePrecedence {
		if slices.Contains(roles, string(r)) {
			return r
		}
	}
	return RoleMember
}

// TenantIDValue returns the tenant id or "" for platform-level users.
func (u *User) TenantIDValue() string {
	if u.TenantID == nil {
		return ""
	}
	return *u.TenantID
}

// RefreshToken is the GORM model for the refresh_tokens table.
type RefreshToken struct {
	ID        string    `gorm:"type:text;primaryKey"`
	UserID    string    `gorm:"type:text;not null;index"`
	User      *User     `gorm:"constraint:OnDelete:CASCADE"`
	TokenHash string    `gorm:"type:text;not null;uniqueIndex"`
	ExpiresAt time.Time `gorm:"not null"`
	RevokedAt *time.Time
	UserAgent string    `gorm:"type:text;not null;default:''"`
	IPAddress string    `gorm:"type:text;not null;default:''"`
	CreatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a UUID primary key if not set.
func (rt *RefreshToken) BeforeCreate(_ *gorm.DB) error {
	if rt.ID == "" {
		rt.ID = uuid.New().String()
	}
	return nil
}

// AuditLogEntry is an append-only record of a mutation. Tenant deletion
// cascades; user deletion nulls the actor.
type AuditLogEntry struct {
	ID         string         `gorm:"type:text;primaryKey"`
	ActorID    *string        `gorm:"type:text;index"`
	Actor      *User          `gorm:"foreignKey:ActorID;constraint:OnDelete:SET NULL"`
	TenantID   *string        `gorm:"type:text;index"`
	Tenant     *Tenant        `gorm:"constraint:OnDelete:CASCADE"`
	Action     string         `gorm:"type:text;not null"`
	EntityType string         `gorm:"type:text;not null;index:idx_audit_entity"`
	EntityID   string         `gorm:"type:text;not null;index:idx_audit_entity"`
	Before     datatypes.JSON `gorm:"type:text"`
	After      datatypes.JSON `gorm:"type:text"`
	IPAddress  string         `gorm:"type:text;not null;default:''"`
	CreatedAt  time.Time      `gorm:"not null;index"`
}

// TableName keeps the table name short.
func (AuditLogEntry) TableName() string { return "audit_logs" }

// BeforeCreate generates a UUID primary key if not set.
func (a *AuditLogEntry) BeforeCreate(_ *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// All returns every model in migration order.
func All() []any {
	return []any{
		&Tenant{},
		&User{},
		&RefreshToken{},
		&AuditLogEntry{},
		&Person{},
		&Group{},
		&GroupMembership{},
		&Document{},
	}
}

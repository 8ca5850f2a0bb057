package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NationalIDType classifies Person.NationalID.
type NationalIDType string

const (
	NationalIDTypeNational NationalIDType = "national_id"
	NationalIDTypePassport NationalIDType = "passport"
	NationalIDTypeOther    NationalIDType = "other"
)

// Gender is optional on Person.
type Gender string

const (
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
	GenderOther       Gender = "other"
	GenderUndisclosed Gender = "undisclosed"
)

// Address is stored as a JSON document on Person.
type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// EmergencyContact is stored as a JSON document on Person.
type EmergencyContact struct {
	Name         string `json:"name,omitempty"`
	Relationship string `json:"relationship,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
}

// Preferences holds communication preferences.
type Preferences struct {
	Email    bool   `json:"email"`
	SMS      bool   `json:"sms"`
	Push     bool   `json:"push"`
	Language string `json:"language,omitempty"`
}

// Person is a directory subject. A Person need not hold login credentials.
// Email and national id are unique across tenants.
type Person struct {
	ID               string                               `gorm:"type:text;primaryKey"`
	TenantID         string                               `gorm:"type:text;not null;index"`
	Tenant           *Tenant                              `gorm:"constraint:OnDelete:CASCADE"`
	FirstName        string                               `gorm:"type:text;not null"`
	LastName         string                               `gorm:"type:text;not null"`
	Email            string                               `gorm:"type:text;not null;uniqueIndex"`
	NationalID       string                               `gorm:"type:text;not null;uniqueIndex"`
	NationalIDType   NationalIDType                       `gorm:"type:text;not null"`
	BirthDate        *datatypes.Date                      `gorm:"type:date"`
	Gender           *Gender                              `gorm:"type:text"`
	Phone            string                               `gorm:"type:text;not null;default:''"`
	Address          datatypes.JSONType[Address]          `gorm:"type:text"`
	EmergencyContact datatypes.JSONType[EmergencyContact] `gorm:"type:text"`
	Preferences      datatypes.JSONType[Preferences]      `gorm:"type:text"`
	Tags             StringSlice                          `gorm:"type:text;not null;default:'[]';serializer:json"`
	CreatedAt        time.Time                            `gorm:"not null"`
	UpdatedAt        time.Time                            `gorm:"not null"`
	DeletedAt        gorm.DeletedAt                       `gorm:"index"`
}

// TableName overrides GORM's "people" inflection.
func (Person) TableName() string { return "persons" }

// BeforeCreate generates a UUID primary key if not set.
func (p *Person) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Tags == nil {
		p.Tags = StringSlice{}
	}
	return nil
}

// GroupType classifies a Group.
type GroupType string

const (
	GroupTypeAdministrative GroupType = "administrative"
	GroupTypeAcademic       GroupType = "academic"
	GroupTypeSocial         GroupType = "social"
	GroupTypeOther          GroupType = "other"
)

// Group is a tenant-scoped organisational unit. ParentID forms a tree that
// the store does not keep acyclic; the directory service does.
type Group struct {
	ID          string            `gorm:"type:text;primaryKey"`
	TenantID    string            `gorm:"type:text;not null;index"`
	Tenant      *Tenant           `gorm:"constraint:OnDelete:CASCADE"`
	ParentID    *string           `gorm:"type:text;index"`
	Parent      *Group            `gorm:"constraint:OnDelete:SET NULL"`
	LeaderID    *string           `gorm:"type:text"`
	Leader      *Person           `gorm:"foreignKey:LeaderID;constraint:OnDelete:SET NULL"`
	Name        string            `gorm:"type:text;not null"`
	Description string            `gorm:"type:text;not null;default:''"`
	Type        GroupType         `gorm:"type:text;not null"`
	MaxMembers  *int
	Active      bool              `gorm:"not null;default:true"`
	Metadata    datatypes.JSONMap `gorm:"not null;default:'{}'"`
	CreatedAt   time.Time         `gorm:"not null"`
	UpdatedAt   time.Time         `gorm:"not null"`
	DeletedAt   gorm.DeletedAt    `gorm:"index"`
}

// BeforeCreate generates a UUID primary key if not set.
func (g *Group) BeforeCreate(_ *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.Metadata == nil {
		g.Metadata = datatypes.JSONMap{}
	}
	return nil
}

// MembershipRole is the role a Person plays inside a Group.
type MembershipRole string

const (
	MembershipRoleMember      MembershipRole = "member"
	MembershipRoleLeader      MembershipRole = "leader"
	MembershipRoleCoordinator MembershipRole = "coordinator"
)

// MembershipStatus is the membership state. An ended membership keeps its
// status and is recognised by a non-nil EndDate.
type MembershipStatus string

const (
	MembershipStatusActive    MembershipStatus = "active"
	MembershipStatusInactive  MembershipStatus = "inactive"
	MembershipStatusSuspended MembershipStatus = "suspended"
)

// GroupMembership is a time-bounded join between a Person and a Group.
// (person, group, start date) is unique; rows are never removed by the
// application, only transitioned or end-dated.
type GroupMembership struct {
	ID           string           `gorm:"type:text;primaryKey"`
	TenantID     string           `gorm:"type:text;not null;index"`
	PersonID     string           `gorm:"type:text;not null;uniqueIndex:idx_membership_window,priority:1"`
	Person       *Person          `gorm:"constraint:OnDelete:CASCADE"`
	GroupID      string           `gorm:"type:text;not null;uniqueIndex:idx_membership_window,priority:2;index"`
	Group        *Group           `gorm:"constraint:OnDelete:CASCADE"`
	Role         MembershipRole   `gorm:"type:text;not null;default:'member'"`
	Status       MembershipStatus `gorm:"type:text;not null;default:'active'"`
	StartDate    datatypes.Date   `gorm:"type:date;not null;uniqueIndex:idx_membership_window,priority:3"`
	EndDate      *datatypes.Date  `gorm:"type:date"`
	StatusReason string           `gorm:"type:text;not null;default:''"`
	AddedByID    *string          `gorm:"type:text"`
	AddedBy      *User            `gorm:"foreignKey:AddedByID;constraint:OnDelete:SET NULL"`
	CreatedAt    time.Time        `gorm:"not null"`
	UpdatedAt    time.Time        `gorm:"not null"`
	DeletedAt    gorm.DeletedAt   `gorm:"index"`
}

// BeforeCreate generates a UUID primary key if not set.
func (m *GroupMembership) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// Ended reports whether the membership has been end-dated.
func (m *GroupMembership) Ended() bool { return m.EndDate != nil }

// DocumentType classifies a Document.
type DocumentType string

const (
	DocumentTypeIdentity       DocumentType = "identity"
	DocumentTypeAcademic       DocumentType = "academic"
	DocumentTypeMedical        DocumentType = "medical"
	DocumentTypeAdministrative DocumentType = "administrative"
	DocumentTypePhoto          DocumentType = "photo"
	DocumentTypeOther          DocumentType = "other"
)

// Document is a file attachment owned by exactly one Person.
type Document struct {
	ID        string         `gorm:"type:text;primaryKey"`
	TenantID  string         `gorm:"type:text;not null;index"`
	PersonID  string         `gorm:"type:text;not null;index"`
	Person    *Person        `gorm:"constraint:OnDelete:CASCADE"`
	Type      DocumentType   `gorm:"type:text;not null"`
	URL       string         `gorm:"type:text;not null"`
	FileName  string         `gorm:"type:text;not null"`
	MimeType  string         `gorm:"type:text;not null"`
	Size      int64          `gorm:"not null"`
	Active    bool           `gorm:"not null;default:true"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// BeforeCreate generates a UUID primary key if not set.
func (d *Document) BeforeCreate(_ *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

// Date truncates t to a UTC calendar date.
func Date(t time.Time) datatypes.Date {
	y, m, d := t.Date()
	return datatypes.Date(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

// DateString renders d as YYYY-MM-DD.
func DateString(d datatypes.Date) string {
	return time.Time(d).Format(time.DateOnly)
}

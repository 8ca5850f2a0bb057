package handler

import (
	"time"

	"github.com/d9705996/perseo/internal/api/jsonapi"
	"github.com/d9705996/perseo/internal/directory"
	"github.com/d9705996/perseo/internal/model"
	"gorm.io/datatypes"
)

type userAttrs struct {
	Email               string     `json:"email"`
	Name                string     `json:"name"`
	TenantID            *string    `json:"tenantId"`
	Roles               []string   `json:"roles"`
	PrimaryRole         model.Role `json:"primaryRole"`
	EmailVerified       bool       `json:"emailVerified"`
	FailedLoginAttempts int        `json:"failedLoginAttempts"`
	LockedUntil         *time.Time `json:"lockedUntil"`
	LastLoginAt         *time.Time `json:"lastLoginAt"`
	LastLoginIP         string     `json:"lastLoginIp,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

func userView(u *model.User) jsonapi.ResourceObject {
	roles := []string(u.Roles)
	if roles == nil {
		roles = []string{}
	}
	return jsonapi.ResourceObject{
		Type: "users",
		ID:   u.ID,
		Attributes: userAttrs{
			Email:               u.Email,
			Name:                u.Name,
			TenantID:            u.TenantID,
			Roles:               roles,
			PrimaryRole:         u.PrimaryRole(),
			EmailVerified:       u.EmailVerified,
			FailedLoginAttempts: u.FailedLoginAttempts,
			LockedUntil:         u.LockedUntil,
			LastLoginAt:         u.LastLoginAt,
			LastLoginIP:         u.LastLoginIP,
			CreatedAt:           u.CreatedAt,
			UpdatedAt:           u.UpdatedAt,
		},
	}
}

type tenantAttrs struct {
	Name       string         `json:"name"`
	Subdomain  string         `json:"subdomain"`
	SchemaName string         `json:"schemaName"`
	Active     bool           `json:"active"`
	ExpiresAt  *time.Time     `json:"expiresAt"`
	MaxUsers   int            `json:"maxUsers"`
	Settings   map[string]any `json:"settings"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

func tenantView(t *model.Tenant) jsonapi.ResourceObject {
	settings := map[string]any(t.Settings)
	if settings == nil {
		settings = map[string]any{}
	}
	return jsonapi.ResourceObject{
		Type: "tenants",
		ID:   t.ID,
		Attributes: tenantAttrs{
			Name:       t.Name,
			Subdomain:  t.Subdomain,
			SchemaName: t.SchemaName,
			Active:     t.Active,
			ExpiresAt:  t.ExpiresAt,
			MaxUsers:   t.MaxUsers,
			Settings:   settings,
			CreatedAt:  t.CreatedAt,
			UpdatedAt:  t.UpdatedAt,
		},
	}
}

func dateOf(d *datatypes.Date) *string {
	if d == nil {
		return nil
	}
	s := model.DateString(*d)
	return &s
}

type personAttrs struct {
	TenantID         string                 `json:"tenantId"`
	FirstName        string                 `json:"firstName"`
	LastName         string                 `json:"lastName"`
	Email            string                 `json:"email"`
	NationalID       string                 `json:"nationalId"`
	NationalIDType   model.NationalIDType   `json:"nationalIdType"`
	BirthDate        *string                `json:"birthDate"`
	Gender           *model.Gender          `json:"gender"`
	Phone            string                 `json:"phone"`
	Address          model.Address          `json:"address"`
	EmergencyContact model.EmergencyContact `json:"emergencyContact"`
	Preferences      model.Preferences      `json:"preferences"`
	Tags             []string               `json:"tags"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
}

func personView(p *model.Person) jsonapi.ResourceObject {
	tags := []string(p.Tags)
	if tags == nil {
		tags = []string{}
	}
	return jsonapi.ResourceObject{
		Type: "persons",
		ID:   p.ID,
		Attributes: personAttrs{
			TenantID:         p.TenantID,
			FirstName:        p.FirstName,
			LastName:         p.LastName,
			Email:            p.Email,
			NationalID:       p.NationalID,
			NationalIDType:   p.NationalIDType,
			BirthDate:        dateOf(p.BirthDate),
			Gender:           p.Gender,
			Phone:            p.Phone,
			Address:          p.Address.Data(),
			EmergencyContact: p.EmergencyContact.Data(),
			Preferences:      p.Preferences.Data(),
			Tags:             tags,
			CreatedAt:        p.CreatedAt,
			UpdatedAt:        p.UpdatedAt,
		},
	}
}

type groupAttrs struct {
	TenantID    string          `json:"tenantId"`
	ParentID    *string         `json:"parentId"`
	LeaderID    *string         `json:"leaderId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Type        model.GroupType `json:"type"`
	MaxMembers  *int            `json:"maxMembers"`
	Active      bool            `json:"active"`
	Metadata    map[string]any  `json:"metadata"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func groupAttrsOf(g *model.Group) groupAttrs {
	meta := map[string]any(g.Metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	return groupAttrs{
		TenantID:    g.TenantID,
		ParentID:    g.ParentID,
		LeaderID:    g.LeaderID,
		Name:        g.Name,
		Description: g.Description,
		Type:        g.Type,
		MaxMembers:  g.MaxMembers,
		Active:      g.Active,
		Metadata:    meta,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}

func groupView(g *model.Group) jsonapi.ResourceObject {
	return jsonapi.ResourceObject{Type: "groups", ID: g.ID, Attributes: groupAttrsOf(g)}
}

type nodeAttrs struct {
	groupAttrs
	MemberCount   int64                    `json:"memberCount"`
	SubgroupCount int                      `json:"subgroupCount"`
	Children      []jsonapi.ResourceObject `json:"children"`
}

func nodeView(n *directory.Node) jsonapi.ResourceObject {
	children := make([]jsonapi.ResourceObject, 0, len(n.Children))
	for _, c := range n.Children {
		children = append(children, nodeView(c))
	}
	return jsonapi.ResourceObject{
		Type: "groups",
		ID:   n.Group.ID,
		Attributes: nodeAttrs{
			groupAttrs:    groupAttrsOf(&n.Group),
			MemberCount:   n.MemberCount,
			SubgroupCount: n.SubgroupCount,
			Children:      children,
		},
	}
}

type membershipAttrs struct {
	TenantID     string                 `json:"tenantId"`
	PersonID     string                 `json:"personId"`
	GroupID      string                 `json:"groupId"`
	Role         model.MembershipRole   `json:"role"`
	Status       model.MembershipStatus `json:"status"`
	StartDate    string                 `json:"startDate"`
	EndDate      *string                `json:"endDate"`
	Current      bool                   `json:"current"`
	StatusReason string                 `json:"statusReason,omitempty"`
	AddedByID    *string                `json:"addedById"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

func membershipView(m *model.GroupMembership) jsonapi.ResourceObject {
	return jsonapi.ResourceObject{
		Type: "memberships",
		ID:   m.ID,
		Attributes: membershipAttrs{
			TenantID:     m.TenantID,
			PersonID:     m.PersonID,
			GroupID:      m.GroupID,
			Role:         m.Role,
			Status:       m.Status,
			StartDate:    model.DateString(m.StartDate),
			EndDate:      dateOf(m.EndDate),
			Current:      !m.Ended(),
			StatusReason: m.StatusReason,
			AddedByID:    m.AddedByID,
			CreatedAt:    m.CreatedAt,
			UpdatedAt:    m.UpdatedAt,
		},
		Relationships: map[string]jsonapi.Relationship{
			"person": {Data: map[string]string{"type": "persons", "id": m.PersonID}},
			"group":  {Data: map[string]string{"type": "groups", "id": m.GroupID}},
		},
	}
}

type documentAttrs struct {
	TenantID  string             `json:"tenantId"`
	PersonID  string             `json:"personId"`
	Type      model.DocumentType `json:"type"`
	URL       string             `json:"url"`
	FileName  string             `json:"fileName"`
	MimeType  string             `json:"mimeType"`
	Size      int64              `json:"size"`
	Active    bool               `json:"active"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

func documentView(d *model.Document) jsonapi.ResourceObject {
	return jsonapi.ResourceObject{
		Type: "documents",
		ID:   d.ID,
		Attributes: documentAttrs{
			TenantID:  d.TenantID,
			PersonID:  d.PersonID,
			Type:      d.Type,
			URL:       d.URL,
			FileName:  d.FileName,
			MimeType:  d.MimeType,
			Size:      d.Size,
			Active:    d.Active,
			CreatedAt: d.CreatedAt,
			UpdatedAt: d.UpdatedAt,
		},
	}
}

type auditAttrs struct {
	ActorID    *string        `json:"actorId"`
	TenantID   *string        `json:"tenantId"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Before     datatypes.JSON `json:"before"`
	After      datatypes.JSON `json:"after"`
	IPAddress  string         `json:"ipAddress,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

func auditView(e *model.AuditLogEntry) jsonapi.ResourceObject {
	return jsonapi.ResourceObject{
		Type: "audit-logs",
		ID:   e.ID,
		Attributes: auditAttrs{
			ActorID:    e.ActorID,
			TenantID:   e.TenantID,
			Action:     e.Action,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Before:     e.Before,
			After:      e.After,
			IPAddress:  e.IPAddress,
			CreatedAt:  e.CreatedAt,
		},
	}
}

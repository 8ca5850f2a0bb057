package directory

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/apperr"
	"github.com/d9705996/perseo/internal/audit"
	"github.com/d9705996/perseo/internal/model"
	"github.com/d9705996/perseo/internal/paging"
	"github.com/d9705996/perseo/internal/store"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GroupSortable lists the attributes group lists may sort by.
var GroupSortable = paging.Sortable{"name": "name", "type": "type"}

// GroupInput holds the fields of a group. On update nil pointers leave the
// stored value; ClearParent and ClearLeader unset the references.
type GroupInput struct {
	Name        *string
	Description *string
	Type        *model.GroupType
	ParentID    *string
	ClearParent bool
	LeaderID    *string
	ClearLeader bool
	MaxMembers  *int
	ClearMax    bool
	Active      *bool
	Metadata    map[string]any
}

// GroupFilter narrows ListGroups.
type GroupFilter struct {
	Q        string
	Type     model.GroupType
	Active   *bool
	ParentID string
}

func tenantOfGroup(g *model.Group) string { return g.TenantID }

func validGroupType(t model.GroupType) bool {
	return slices.Contains([]model.GroupType{model.GroupTypeAdministrative, model.GroupTypeAcademic, model.GroupTypeSocial, model.GroupTypeOther}, t)
}

func (in GroupInput) apply(g *model.Group) error {
	if in.Name != nil {
		g.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		g.Description = *in.Description
	}
	if in.Type != nil {
		g.Type = *in.Type
	}
	switch {
	case in.ClearParent:
		g.ParentID = nil
	case in.ParentID != nil:
		id := *in.ParentID
		g.ParentID = &id
	}
	switch {
	case in.ClearLeader:
		g.LeaderID = nil
	case in.LeaderID != nil:
		id := *in.LeaderID
		g.LeaderID = &id
	}
	switch {
	case in.ClearMax:
		g.MaxMembers = nil
	case in.MaxMembers != nil:
		n := *in.MaxMembers
		g.MaxMembers = &n
	}
	if in.Active != nil {
		g.Active = *in.Active
	}
	if in.Metadata != nil {
		g.Metadata = datatypes.JSONMap(in.Metadata)
	}

	var fields []apperr.FieldError
	if g.Name == "" {
		fields = append(fields, field("name", "required"))
	}
	if !validGroupType(g.Type) {
		fields = append(fields, field("type", "must be administrative, academic, social or other"))
	}
	if g.MaxMembers != nil && *g.MaxMembers < 0 {
		fields = append(fields, field("maxMembers", "must not be negative"))
	}
	if len(fields) > 0 {
		return invalid("invalid_group", "invalid group", fields...)
	}
	return nil
}

// checkRefs validates the parent and leader of g: both must be live rows of
// g's tenant, and the parent chain must not lead back to g.
func checkRefs(tx *gorm.DB, g *model.Group) error {
	if g.ParentID != nil {
		if *g.ParentID == g.ID {
			return invalid("parent_cycle", "a group cannot be its own parent", field("parentId", "creates a cycle"))
		}
		var parent model.Group
		if err := tx.First(&parent, "id = ?", *g.ParentID).Error; err != nil || parent.TenantID != g.TenantID {
			return invalid("invalid_parent", "parent group not found", field("parentId", "must be a group of the same tenant"))
		}
		if g.ID != "" {
			cyclic, err := reaches(tx, parent, g.ID)
			if err != nil {
				return apperr.Internal(err)
			}
			if cyclic {
				return invalid("parent_cycle", "parent assignment creates a cycle", field("parentId", "creates a cycle"))
			}
		}
	}
	if g.LeaderID != nil {
		var leader model.Person
		if err := tx.First(&leader, "id = ?", *g.LeaderID).Error; err != nil || leader.TenantID != g.TenantID {
			return invalid("invalid_leader", "leader not found", field("leaderId", "must be a person of the same tenant"))
		}
	}
	return nil
}

// reaches walks up the parent chain from start and reports whether target
// is an ancestor-or-self. Existing cycles in the stored chain stop the walk.
func reaches(tx *gorm.DB, start model.Group, target string) (bool, error) {
	seen := map[string]bool{}
	cur := start
	for {
		if cur.ID == target {
			return true, nil
		}
		if cur.ParentID == nil || seen[cur.ID] {
			return false, nil
		}
		seen[cur.ID] = true
		var next model.Group
		err := tx.Select("id", "parent_id", "tenant_id").First(&next, "id = ?", *cur.ParentID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		cur = next
	}
}

// CreateGroup adds a group to tenantID.
func (s *Service) CreateGroup(ctx context.Context, p access.Principal, tenantID string, in GroupInput) (*model.Group, error) {
	if err := canWrite(p, tenantID); err != nil {
		return nil, err
	}
	g := &model.Group{TenantID: tenantID, Active: true}
	if err := in.apply(g); err != nil {
		return nil, err
	}
	err := s.tx(ctx, func(tx *gorm.DB) error {
		if err := checkRefs(tx, g); err != nil {
			return err
		}
		active := g.Active
		if err := tx.Create(g).Error; err != nil {
			return store.Translate(err, EntityGroup)
		}
		// A false default-valued bool is skipped on insert.
		if !active {
			if err := tx.Model(g).Update("active", false).Error; err != nil {
				return apperr.Internal(err)
			}
			g.Active = false
		}
		return record(tx, p, tenantID, audit.ActionCreate, EntityGroup, g.ID, nil, g)
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GetGroup returns a live group.
func (s *Service) GetGroup(ctx context.Context, p access.Principal, id string) (*model.Group, error) {
	return load(s.db.WithContext(ctx), EntityGroup, id, tenantOfGroup, canRead, p)
}

// ListGroups returns a page of the tenant's groups.
func (s *Service) ListGroups(ctx context.Context, p access.Principal, tenantID string, f GroupFilter, pp paging.Params) ([]model.Group, paging.Meta, error) {
	if err := canRead(p, tenantID); err != nil {
		return nil, paging.Meta{}, err
	}
	q := s.db.WithContext(ctx).Model(&model.Group{}).Where("tenant_id = ?", tenantID)
	if f.Q != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(f.Q)+"%")
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Active != nil {
		q = q.Where("active = ?", *f.Active)
	}
	if f.ParentID != "" {
		q = q.Where("parent_id = ?", f.ParentID)
	}
	var out []model.Group
	meta, err := paging.Find(q, pp, &out)
	if err != nil {
		return nil, paging.Meta{}, apperr.Internal(err)
	}
	return out, meta, nil
}

// UpdateGroup changes the set fields of in.
func (s *Service) UpdateGroup(ctx context.Context, p access.Principal, id string, in GroupInput) (*model.Group, error) {
	var out *model.Group
	err := s.tx(ctx, func(tx *gorm.DB) error {
		g, err := load(tx, EntityGroup, id, tenantOfGroup, canWrite, p)
		if err != nil {
			return err
		}
		before := *g
		if err := in.apply(g); err != nil {
			return err
		}
		if err := checkRefs(tx, g); err != nil {
			return err
		}
		if err := tx.Model(g).Select("name", "description", "type", "parent_id", "leader_id", "max_members", "active", "metadata").
			Updates(g).Error; err != nil {
			return store.Translate(err, EntityGroup)
		}
		out = g
		return record(tx, p, g.TenantID, audit.ActionUpdate, EntityGroup, g.ID, before, g)
	})
	return out, err
}

// DeleteGroup tombstones a group without live subgroups and ends its open
// memberships today.
func (s *Service) DeleteGroup(ctx context.Context, p access.Principal, id string) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		g, err := load(tx, EntityGroup, id, tenantOfGroup, canWrite, p)
		if err != nil {
			return err
		}
		var children int64
		if err := tx.Model(&model.Group{}).Where("parent_id = ?", id).Count(&children).Error; err != nil {
			return apperr.Internal(err)
		}
		if children > 0 {
			return apperr.Conflict("group_has_subgroups", "group still has subgroups")
		}
		if err := endOpen(tx, p, "group_id", id, "group deleted", s.today()); err != nil {
			return err
		}
		if err := tx.Delete(g).Error; err != nil {
			return apperr.Internal(err)
		}
		return record(tx, p, g.TenantID, audit.ActionDelete, EntityGroup, g.ID, g, nil)
	})
}

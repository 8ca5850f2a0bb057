package directory

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/apperr"
	"github.com/d9705996/perseo/internal/audit"
	"github.com/d9705996/perseo/internal/model"
	"github.com/d9705996/perseo/internal/paging"
	"github.com/d9705996/perseo/internal/store"
	"gorm.io/gorm"
)

// MembershipSortable lists the attributes membership lists may sort by.
var MembershipSortable = paging.Sortable{"startDate": "start_date", "role": "role", "status": "status"}

// MembershipInput adds a person to a group.
type MembershipInput struct {
	PersonID  string
	GroupID   string
	Role      model.MembershipRole
	StartDate *time.Time
}

// MembershipFilter narrows membership lists.
type MembershipFilter struct {
	Status model.MembershipStatus
	// Current limits the list to memberships without an end date.
	Current bool
}

func tenantOfMembership(m *model.GroupMembership) string { return m.TenantID }

func validMembershipRole(r model.MembershipRole) bool {
	return slices.Contains([]model.MembershipRole{model.MembershipRoleMember, model.MembershipRoleLeader, model.MembershipRoleCoordinator}, r)
}

func validMembershipStatus(st model.MembershipStatus) bool {
	return slices.Contains([]model.MembershipStatus{model.MembershipStatusActive, model.MembershipStatusInactive, model.MembershipStatusSuspended}, st)
}

// checkCapacity fails when g already has MaxMembers active open
// memberships. The caller holds the group row lock.
func checkCapacity(tx *gorm.DB, g *model.Group) error {
	if g.MaxMembers == nil {
		return nil
	}
	var n int64
	if err := tx.Model(&model.GroupMembership{}).
		Where("group_id = ? AND status = ? AND end_date IS NULL", g.ID, model.MembershipStatusActive).
		Count(&n).Error; err != nil {
		return apperr.Internal(err)
	}
	if n >= int64(*g.MaxMembers) {
		return apperr.Capacity("group has reached its member limit")
	}
	return nil
}

// lockGroup loads a live group with a row lock and checks write access.
func lockGroup(tx *gorm.DB, p access.Principal, id string) (*model.Group, error) {
	var g model.Group
	if err := store.ForUpdate(tx).First(&g, "id = ?", id).Error; err != nil {
		return nil, store.Translate(err, EntityGroup)
	}
	if err := canWrite(p, g.TenantID); err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateMembership adds a person to a group. The capacity check and the
// insert share one transaction holding the group row lock, so concurrent
// requests cannot overfill the group.
func (s *Service) CreateMembership(ctx context.Context, p access.Principal, in MembershipInput) (*model.GroupMembership, error) {
	role := in.Role
	if role == "" {
		role = model.MembershipRoleMember
	}
	var fields []apperr.FieldError
	if in.PersonID == "" {
		fields = append(fields, field("personId", "required"))
	}
	if in.GroupID == "" {
		fields = append(fields, field("groupId", "required"))
	}
	if !validMembershipRole(role) {
		fields = append(fields, field("role", "must be member, leader or coordinator"))
	}
	if len(fields) > 0 {
		return nil, invalid("invalid_membership", "invalid membership", fields...)
	}
	start := model.Date(s.today())
	if in.StartDate != nil {
		start = model.Date(*in.StartDate)
	}

	var m *model.GroupMembership
	err := s.tx(ctx, func(tx *gorm.DB) error {
		g, err := lockGroup(tx, p, in.GroupID)
		if err != nil {
			return err
		}
		var person model.Person
		if err := tx.First(&person, "id = ?", in.PersonID).Error; err != nil || person.TenantID != g.TenantID {
			return invalid("invalid_person", "person not found in the group's tenant", field("personId", "must be a person of the same tenant"))
		}
		if !g.Active {
			return invalid("group_inactive", "group is not active", field("groupId", "group is not active"))
		}
		if err := checkCapacity(tx, g); err != nil {
			return err
		}
		m = &model.GroupMembership{
			TenantID:  g.TenantID,
			PersonID:  person.ID,
			GroupID:   g.ID,
			Role:      role,
			Status:    model.MembershipStatusActive,
			StartDate: start,
			AddedByID: p.ActorID(),
		}
		if err := tx.Create(m).Error; err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.Conflict("duplicate_membership", "person already joined this group on that start date")
			}
			return store.Translate(err, EntityMembership)
		}
		return record(tx, p, g.TenantID, audit.ActionCreate, EntityMembership, m.ID, nil, m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMembership returns a membership.
func (s *Service) GetMembership(ctx context.Context, p access.Principal, id string) (*model.GroupMembership, error) {
	return load(s.db.WithContext(ctx), EntityMembership, id, tenantOfMembership, canRead, p)
}

func (s *Service) listMemberships(ctx context.Context, column, value string, f MembershipFilter, pp paging.Params) ([]model.GroupMembership, paging.Meta, error) {
	if f.Status != "" && !validMembershipStatus(f.Status) {
		return nil, paging.Meta{}, invalid("invalid_query", "invalid status filter", field("status", "must be active, inactive or suspended"))
	}
	q := s.db.WithContext(ctx).Model(&model.GroupMembership{}).Where(column+" = ?", value)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Current {
		q = q.Where("end_date IS NULL")
	}
	var out []model.GroupMembership
	meta, err := paging.Find(q, pp, &out)
	if err != nil {
		return nil, paging.Meta{}, apperr.Internal(err)
	}
	return out, meta, nil
}

// ListGroupMembers returns a page of a group's memberships.
func (s *Service) ListGroupMembers(ctx context.Context, p access.Principal, groupID string, f MembershipFilter, pp paging.Params) ([]model.GroupMembership, paging.Meta, error) {
	if _, err := s.GetGroup(ctx, p, groupID); err != nil {
		return nil, paging.Meta{}, err
	}
	return s.listMemberships(ctx, "group_id", groupID, f, pp)
}

// ListPersonMemberships returns a page of a person's memberships.
func (s *Service) ListPersonMemberships(ctx context.Context, p access.Principal, personID string, f MembershipFilter, pp paging.Params) ([]model.GroupMembership, paging.Meta, error) {
	if _, err := s.GetPerson(ctx, p, personID); err != nil {
		return nil, paging.Meta{}, err
	}
	return s.listMemberships(ctx, "person_id", personID, f, pp)
}

// transition loads a membership and its locked group, applies fn, and
// records the change when fn reports one.
func (s *Service) transition(ctx context.Context, p access.Principal, id string, fn func(tx *gorm.DB, g *model.Group, m *model.GroupMembership) (map[string]any, error)) (*model.GroupMembership, error) {
	var out *model.GroupMembership
	err := s.tx(ctx, func(tx *gorm.DB) error {
		var m model.GroupMembership
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			return store.Translate(err, EntityMembership)
		}
		if err := canWrite(p, m.TenantID); err != nil {
			return err
		}
		var g model.Group
		if err := store.ForUpdate(tx).Unscoped().First(&g, "id = ?", m.GroupID).Error; err != nil {
			return store.Translate(err, EntityGroup)
		}
		before := m
		updates, err := fn(tx, &g, &m)
		if err != nil {
			return err
		}
		out = &m
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&model.GroupMembership{}).Where("id = ?", m.ID).Updates(updates).Error; err != nil {
			return apperr.Internal(err)
		}
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			return apperr.Internal(err)
		}
		return record(tx, p, m.TenantID, audit.ActionUpdate, EntityMembership, m.ID, before, m)
	})
	return out, err
}

// EndMembership closes a membership on endDate (today when nil). Ending an
// ended membership changes nothing.
func (s *Service) EndMembership(ctx context.Context, p access.Principal, id string, endDate *time.Time, reason string) (*model.GroupMembership, error) {
	end := model.Date(s.today())
	if endDate != nil {
		end = model.Date(*endDate)
	}
	return s.transition(ctx, p, id, func(_ *gorm.DB, _ *model.Group, m *model.GroupMembership) (map[string]any, error) {
		if m.Ended() {
			return nil, nil
		}
		if time.Time(end).Before(time.Time(m.StartDate)) {
			return nil, invalid("invalid_end_date", "end date precedes start date", field("endDate", "must not precede the start date"))
		}
		return map[string]any{
			"end_date":      end,
			"status":        model.MembershipStatusInactive,
			"status_reason": strings.TrimSpace(reason),
		}, nil
	})
}

// SuspendMembership suspends an open membership. A reason is required.
func (s *Service) SuspendMembership(ctx context.Context, p access.Principal, id, reason string) (*model.GroupMembership, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("reason_required", "a suspension reason is required", field("reason", "required"))
	}
	return s.transition(ctx, p, id, func(_ *gorm.DB, _ *model.Group, m *model.GroupMembership) (map[string]any, error) {
		if m.Ended() {
			return nil, invalid("membership_ended", "an ended membership cannot be suspended")
		}
		if m.Status == model.MembershipStatusSuspended {
			return nil, nil
		}
		return map[string]any{"status": model.MembershipStatusSuspended, "status_reason": reason}, nil
	})
}

// ReactivateMembership returns an open membership to active, subject to
// the group's member limit.
func (s *Service) ReactivateMembership(ctx context.Context, p access.Principal, id string) (*model.GroupMembership, error) {
	return s.transition(ctx, p, id, func(tx *gorm.DB, g *model.Group, m *model.GroupMembership) (map[string]any, error) {
		if m.Ended() {
			return nil, invalid("membership_ended", "an ended membership cannot be reactivated")
		}
		if m.Status == model.MembershipStatusActive {
			return nil, nil
		}
		if g.DeletedAt.Valid || !g.Active {
			return nil, invalid("group_inactive", "group is not active")
		}
		if err := checkCapacity(tx, g); err != nil {
			return nil, err
		}
		return map[string]any{"status": model.MembershipStatusActive, "status_reason": ""}, nil
	})
}

// ChangeMembershipRole sets the member's role in the group.
func (s *Service) ChangeMembershipRole(ctx context.Context, p access.Principal, id string, role model.MembershipRole) (*model.GroupMembership, error) {
	if !validMembershipRole(role) {
		return nil, invalid("invalid_membership", "invalid membership", field("role", "must be member, leader or coordinator"))
	}
	return s.transition(ctx, p, id, func(_ *gorm.DB, _ *model.Group, m *model.GroupMembership) (map[string]any, error) {
		if m.Role == role {
			return nil, nil
		}
		return map[string]any{"role": role}, nil
	})
}

// endOpen end-dates every open membership where column = value and records
// each one. The end date is today, or the start date when that is later.
func endOpen(tx *gorm.DB, p access.Principal, column, value, reason string, today time.Time) error {
	var open []model.GroupMembership
	if err := tx.Where(column+" = ? AND end_date IS NULL", value).Find(&open).Error; err != nil {
		return apperr.Internal(err)
	}
	for _, m := range open {
		before := m
		end := model.Date(today)
		if time.Time(m.StartDate).After(today) {
			end = m.StartDate
		}
		updates := map[string]any{
			"end_date":      end,
			"status":        model.MembershipStatusInactive,
			"status_reason": reason,
		}
		if err := tx.Model(&model.GroupMembership{}).Where("id = ?", m.ID).Updates(updates).Error; err != nil {
			return apperr.Internal(err)
		}
		m.EndDate = &end
		m.Status = model.MembershipStatusInactive
		m.StatusReason = reason
		if err := record(tx, p, m.TenantID, audit.ActionUpdate, EntityMembership, m.ID, before, m); err != nil {
			return err
		}
	}
	return nil
}

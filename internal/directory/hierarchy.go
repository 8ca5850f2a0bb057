package directory

import (
	"context"
	"slices"
	"strings"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/apperr"
	"github.com/d9705996/perseo/internal/model"
)

// Node is one group in a hierarchy view.
type Node struct {
	Group         model.Group
	MemberCount   int64
	SubgroupCount int
	Children      []*Node
}

type memberCount struct {
	GroupID string
	N       int64
}

// Hierarchy returns the tenant's group forest. With parentID set, the
// forest holds the subtrees below that group. Groups whose parent is
// missing, deleted or in another tenant are roots; groups caught in a
// stored parent cycle are surfaced as roots as well so every group appears
// once. Siblings are sorted by name.
func (s *Service) Hierarchy(ctx context.Context, p access.Principal, tenantID string, parentID string) ([]*Node, error) {
	if err := canRead(p, tenantID); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)

	var groups []model.Group
	if err := db.Where("tenant_id = ?", tenantID).Find(&groups).Error; err != nil {
		return nil, apperr.Internal(err)
	}
	var counts []memberCount
	if err := db.Model(&model.GroupMembership{}).
		Select("group_id, COUNT(*) AS n").
		Where("tenant_id = ? AND status = ? AND end_date IS NULL", tenantID, model.MembershipStatusActive).
		Group("group_id").
		Scan(&counts).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	slices.SortFunc(groups, func(a, b model.Group) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	arena := make(map[string]*Node, len(groups))
	for _, g := range groups {
		arena[g.ID] = &Node{Group: g}
	}
	for _, c := range counts {
		if n, ok := arena[c.GroupID]; ok {
			n.MemberCount = c.N
		}
	}
	children := make(map[string][]*Node, len(groups))
	var roots []*Node
	for _, g := range groups {
		n := arena[g.ID]
		if g.ParentID == nil || arena[*g.ParentID] == nil {
			roots = append(roots, n)
			continue
		}
		children[*g.ParentID] = append(children[*g.ParentID], n)
	}

	visited := make(map[string]bool, len(groups))
	walk := func(top *Node) {
		stack := []*Node{top}
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, c := range children[n.Group.ID] {
				if visited[c.Group.ID] {
					continue
				}
				visited[c.Group.ID] = true
				n.Children = append(n.Children, c)
				stack = append(stack, c)
			}
			n.SubgroupCount = len(n.Children)
		}
	}

	if parentID != "" {
		start, ok := arena[parentID]
		if !ok {
			var g model.Group
			if err := db.Unscoped().Select("id", "tenant_id").First(&g, "id = ?", parentID).Error; err == nil && g.TenantID != tenantID && !g.DeletedAt.Valid {
				return nil, apperr.Authorization("tenant access denied")
			}
			return nil, apperr.NotFound(EntityGroup)
		}
		visited[start.Group.ID] = true
		walk(start)
		out := start.Children
		if out == nil {
			out = []*Node{}
		}
		return out, nil
	}

	out := make([]*Node, 0, len(roots))
	for _, r := range roots {
		visited[r.Group.ID] = true
		walk(r)
		out = append(out, r)
	}
	for _, g := range groups {
		if visited[g.ID] {
			continue
		}
		r := arena[g.ID]
		visited[g.ID] = true
		walk(r)
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b *Node) int { return strings.Compare(a.Group.Name, b.Group.Name) })
	return out, nil
}

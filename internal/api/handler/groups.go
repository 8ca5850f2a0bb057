package handler

import (
	"net/http"

	"github.com/d9705996/perseo/internal/api/jsonapi"
	"github.com/d9705996/perseo/internal/directory"
	"github.com/d9705996/perseo/internal/model"
)

// groupRequest holds group attributes. parentId, leaderId and maxMembers
// may be set to null to clear them.
type groupRequest struct {
	Name        *string          `json:"name" validate:"omitempty,max=200"`
	Description *string          `json:"description" validate:"omitempty,max=2000"`
	Type        *model.GroupType `json:"type" validate:"omitempty,oneof=administrative academic social other"`
	ParentID    optional[string] `json:"parentId"`
	LeaderID    optional[string] `json:"leaderId"`
	MaxMembers  optional[int]    `json:"maxMembers"`
	Active      *bool            `json:"active"`
	Metadata    map[string]any   `json:"metadata"`
}

func (req groupRequest) input() directory.GroupInput {
	in := directory.GroupInput{
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		Active:      req.Active,
		Metadata:    req.Metadata,
	}
	if req.ParentID.Set {
		in.ParentID = req.ParentID.Value
		in.ClearParent = req.ParentID.Value == nil
	}
	if req.LeaderID.Set {
		in.LeaderID = req.LeaderID.Value
		in.ClearLeader = req.LeaderID.Value == nil
	}
	if req.MaxMembers.Set {
		in.MaxMembers = req.MaxMembers.Value
		in.ClearMax = req.MaxMembers.Value == nil
	}
	return in
}

// CreateGroup handles POST /api/v1/groups.
func (h *DirectoryHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decode(r, &req); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	p := principal(r)
	tenantID, err := tenantOf(r, p)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	g, err := h.dir.CreateGroup(r.Context(), p, tenantID, req.input())
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, groupView(g))
}

// ListGroups handles GET /api/v1/groups.
func (h *DirectoryHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	tenantID, err := tenantOf(r, p)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	pp, err := pageOf(r, directory.GroupSortable)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	active, err := flag(r, "active")
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	q := r.URL.Query()
	rows, meta, err := h.dir.ListGroups(r.Context(), p, tenantID, directory.GroupFilter{
		Q:        q.Get("q"),
		Type:     model.GroupType(q.Get("type")),
		Active:   active,
		ParentID: q.Get("parentId"),
	}, pp)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	renderPage(w, r, resources(rows, groupView), meta)
}

// Hierarchy handles GET /api/v1/groups/hierarchy. parentId limits the
// forest to the subtrees below that group.
func (h *DirectoryHandler) Hierarchy(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	tenantID, err := tenantOf(r, p)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	nodes, err := h.dir.Hierarchy(r.Context(), p, tenantID, r.URL.Query().Get("parentId"))
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	data := make([]any, 0, len(nodes))
	for _, n := range nodes {
		data = append(data, nodeView(n))
	}
	jsonapi.RenderList(w, http.StatusOK, data, nil, nil)
}

// GetGroup handles GET /api/v1/groups/{id}.
func (h *DirectoryHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.dir.GetGroup(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, groupView(g))
}

// UpdateGroup handles PATCH /api/v1/groups/{id}.
func (h *DirectoryHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decode(r, &req); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	g, err := h.dir.UpdateGroup(r.Context(), principal(r), r.PathValue("id"), req.input())
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, groupView(g))
}

// DeleteGroup handles DELETE /api/v1/groups/{id}.
func (h *DirectoryHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.dir.DeleteGroup(r.Context(), principal(r), r.PathValue("id")); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListGroupMembers handles GET /api/v1/groups/{id}/members.
func (h *DirectoryHandler) ListGroupMembers(w http.ResponseWriter, r *http.Request) {
	f, err := membershipFilter(r)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	pp, err := pageOf(r, directory.MembershipSortable)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	rows, meta, err := h.dir.ListGroupMembers(r.Context(), principal(r), r.PathValue("id"), f, pp)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	renderPage(w, r, resources(rows, membershipView), meta)
}

type addMemberRequest struct {
	PersonID  string               `json:"personId" validate:"required"`
	Role      model.MembershipRole `json:"role" validate:"omitempty,oneof=member leader coordinator"`
	StartDate *date                `json:"startDate"`
}

// AddMember handles POST /api/v1/groups/{id}/members.
func (h *DirectoryHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if err := decode(r, &req); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	m, err := h.dir.CreateMembership(r.Context(), principal(r), directory.MembershipInput{
		PersonID:  req.PersonID,
		GroupID:   r.PathValue("id"),
		Role:      req.Role,
		StartDate: req.StartDate.ptr(),
	})
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, membershipView(m))
}

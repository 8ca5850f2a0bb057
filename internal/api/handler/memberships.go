package handler

import (
	"net/http"

	"github.com/d9705996/perseo/internal/api/jsonapi"
	"github.com/d9705996/perseo/internal/model"
)

// GetMembership handles GET /api/v1/memberships/{id}.
func (h *DirectoryHandler) GetMembership(w http.ResponseWriter, r *http.Request) {
	m, err := h.dir.GetMembership(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, membershipView(m))
}

type roleRequest struct {
	Role model.MembershipRole `json:"role" validate:"required,oneof=member leader coordinator"`
}

// ChangeMembershipRole handles PATCH /api/v1/memberships/{id}.
func (h *DirectoryHandler) ChangeMembershipRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decode(r, &req); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	m, err := h.dir.ChangeMembershipRole(r.Context(), principal(r), r.PathValue("id"), req.Role)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, membershipView(m))
}

type endRequest struct {
	EndDate *date  `json:"endDate"`
	Reason  string `json:"reason" validate:"max=500"`
}

// EndMembership handles POST /api/v1/memberships/{id}/end.
func (h *DirectoryHandler) EndMembership(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if err := decode(r, &req); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	m, err := h.dir.EndMembership(r.Context(), principal(r), r.PathValue("id"), req.EndDate.ptr(), req.Reason)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, membershipView(m))
}

type suspendRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// SuspendMembership handles POST /api/v1/memberships/{id}/suspend.
func (h *DirectoryHandler) SuspendMembership(w http.ResponseWriter, r *http.Request) {
	var req suspendRequest
	if err := decode(r, &req); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	m, err := h.dir.SuspendMembership(r.Context(), principal(r), r.PathValue("id"), req.Reason)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, membershipView(m))
}

// ReactivateMembership handles POST /api/v1/memberships/{id}/reactivate.
func (h *DirectoryHandler) ReactivateMembership(w http.ResponseWriter, r *http.Request) {
	m, err := h.dir.ReactivateMembership(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, membershipView(m))
}

package handler

import (
	"log/slog"
	"net/http"

	"github.com/d9705996/perseo/internal/api/jsonapi"
	"github.com/d9705996/perseo/internal/directory"
	"github.com/d9705996/perseo/internal/model"
)

// DirectoryHandler handles persons, groups, memberships and documents.
type DirectoryHandler struct {
	dir *directory.Service
	log *slog.Logger
}

// NewDirectoryHandler creates a DirectoryHandler.
func NewDirectoryHandler(dir *directory.Service, log *slog.Logger) *DirectoryHandler {
	return &DirectoryHandler{dir: dir, log: log}
}

type personRequest struct {
	FirstName        *string                 `json:"firstName" validate:"omitempty,max=100"`
	LastName         *string                 `json:"lastName" validate:"omitempty,max=100"`
	Email            *string                 `json:"email" validate:"omitempty,email"`
	NationalID       *string                 `json:"nationalId" validate:"omitempty,max=50"`
	NationalIDType   *model.NationalIDType   `json:"nationalIdType" validate:"omitempty,oneof=national_id passport other"`
	BirthDate        *date                   `json:"birthDate"`
	Gender           *model.Gender           `json:"gender" validate:"omitempty,oneof=male female other undisclosed"`
	Phone            *string                 `json:"phone" validate:"omitempty,max=50"`
	Address          *model.Address          `json:"address"`
	EmergencyContact *model.EmergencyContact `json:"emergencyContact"`
	Preferences      *model.Preferences      `json:"preferences"`
	Tags             []string                `json:"tags" validate:"omitempty,dive,min=1,max=50"`
}

func (req personRequest) input() directory.PersonInput {
	return directory.PersonInput{
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Email:            req.Email,
		NationalID:       req.NationalID,
		NationalIDType:   req.NationalIDType,
		BirthDate:        req.BirthDate.ptr(),
		Gender:           req.Gender,
		Phone:            req.Phone,
		Address:          req.Address,
		EmergencyContact: req.EmergencyContact,
		Preferences:      req.Preferences,
		Tags:             req.Tags,
	}
}

// CreatePerson handles POST /api/v1/persons.
func (h *DirectoryHandler) CreatePerson(w http.ResponseWriter, r *http.Request) {
	var req personRequest
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
	person, err := h.dir.CreatePerson(r.Context(), p, tenantID, req.input())
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, personView(person))
}

// ListPersons handles GET /api/v1/persons.
func (h *DirectoryHandler) ListPersons(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	tenantID, err := tenantOf(r, p)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	pp, err := pageOf(r, directory.PersonSortable)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	q := r.URL.Query()
	rows, meta, err := h.dir.ListPersons(r.Context(), p, tenantID,
		directory.PersonFilter{Q: q.Get("q"), Tag: q.Get("tag")}, pp)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	renderPage(w, r, resources(rows, personView), meta)
}

// GetPerson handles GET /api/v1/persons/{id}.
func (h *DirectoryHandler) GetPerson(w http.ResponseWriter, r *http.Request) {
	person, err := h.dir.GetPerson(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, personView(person))
}

// UpdatePerson handles PATCH /api/v1/persons/{id}.
func (h *DirectoryHandler) UpdatePerson(w http.ResponseWriter, r *http.Request) {
	var req personRequest
	if err := decode(r, &req); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	person, err := h.dir.UpdatePerson(r.Context(), principal(r), r.PathValue("id"), req.input())
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, personView(person))
}

// DeletePerson handles DELETE /api/v1/persons/{id}.
func (h *DirectoryHandler) DeletePerson(w http.ResponseWriter, r *http.Request) {
	if err := h.dir.DeletePerson(r.Context(), principal(r), r.PathValue("id")); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func membershipFilter(r *http.Request) (directory.MembershipFilter, error) {
	current, err := flag(r, "current")
	if err != nil {
		return directory.MembershipFilter{}, err
	}
	return directory.MembershipFilter{
		Status:  model.MembershipStatus(r.URL.Query().Get("status")),
		Current: current != nil && *current,
	}, nil
}

// ListPersonMemberships handles GET /api/v1/persons/{id}/memberships.
func (h *DirectoryHandler) ListPersonMemberships(w http.ResponseWriter, r *http.Request) {
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
	rows, meta, err := h.dir.ListPersonMemberships(r.Context(), principal(r), r.PathValue("id"), f, pp)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	renderPage(w, r, resources(rows, membershipView), meta)
}

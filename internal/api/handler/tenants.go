package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/d9705996/perseo/internal/api/jsonapi"
	"github.com/d9705996/perseo/internal/tenant"
)

// TenantHandler handles /api/v1/tenants routes.
type TenantHandler struct {
	tenants *tenant.Service
	log     *slog.Logger
}

// NewTenantHandler creates a TenantHandler.
func NewTenantHandler(tenants *tenant.Service, log *slog.Logger) *TenantHandler {
	return &TenantHandler{tenants: tenants, log: log}
}

type createTenantRequest struct {
	Name       string         `json:"name" validate:"required,max=200"`
	Subdomain  string         `json:"subdomain" validate:"required,max=63"`
	SchemaName string         `json:"schemaName" validate:"max=63"`
	MaxUsers   int            `json:"maxUsers" validate:"gte=0"`
	ExpiresAt  *time.Time     `json:"expiresAt"`
	Settings   map[string]any `json:"settings"`
}

// Create handles POST /api/v1/tenants.
func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decode(r, &req); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	t, err := h.tenants.Create(r.Context(), principal(r), tenant.CreateInput{
		Name:       req.Name,
		Subdomain:  req.Subdomain,
		SchemaName: req.SchemaName,
		MaxUsers:   req.MaxUsers,
		ExpiresAt:  req.ExpiresAt,
		Settings:   req.Settings,
	})
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, tenantView(t))
}

// List handles GET /api/v1/tenants.
func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	pp, err := pageOf(r, tenant.Sortable)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	rows, meta, err := h.tenants.List(r.Context(), principal(r), r.URL.Query().Get("q"), pp)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	renderPage(w, r, resources(rows, tenantView), meta)
}

// Get handles GET /api/v1/tenants/{id}.
func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.tenants.Get(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, tenantView(t))
}

type updateTenantRequest struct {
	Name      *string             `json:"name" validate:"omitempty,min=1,max=200"`
	Active    *bool               `json:"active"`
	MaxUsers  *int                `json:"maxUsers" validate:"omitempty,gte=0"`
	ExpiresAt optional[time.Time] `json:"expiresAt"`
	Settings  map[string]any      `json:"settings"`
}

// Update handles PATCH /api/v1/tenants/{id}. An explicit null expiresAt
// removes the expiry.
func (h *TenantHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateTenantRequest
	if err := decode(r, &req); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	in := tenant.UpdateInput{
		Name:     req.Name,
		Active:   req.Active,
		MaxUsers: req.MaxUsers,
		Settings: req.Settings,
	}
	if req.ExpiresAt.Set {
		in.ExpiresAt = req.ExpiresAt.Value
		in.ClearExpires = req.ExpiresAt.Value == nil
	}
	t, err := h.tenants.Update(r.Context(), principal(r), r.PathValue("id"), in)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, tenantView(t))
}

// Delete handles DELETE /api/v1/tenants/{id}. With ?purge=true the tenant
// and everything it owns are removed for good.
func (h *TenantHandler) Delete(w http.ResponseWriter, r *http.Request) {
	purge, err := flag(r, "purge")
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	id := r.PathValue("id")
	if purge != nil && *purge {
		err = h.tenants.Purge(r.Context(), principal(r), id)
	} else {
		err = h.tenants.Delete(r.Context(), principal(r), id)
	}
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

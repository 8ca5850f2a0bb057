package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/account"
	"github.com/d9705996/perseo/internal/api/jsonapi"
	"github.com/d9705996/perseo/internal/model"
)

// UserHandler handles /api/v1/users routes.
type UserHandler struct {
	accounts *account.Service
	log      *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(accounts *account.Service, log *slog.Logger) *UserHandler {
	return &UserHandler{accounts: accounts, log: log}
}

// List handles GET /api/v1/users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if err := access.RequireRole(p, model.RoleTenantAdmin); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	tenantID, err := tenantOf(r, p)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	pp, err := pageOf(r, account.Sortable)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	rows, meta, err := h.accounts.List(r.Context(), tenantID, pp)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	renderPage(w, r, resources(rows, userView), meta)
}

// createUserRequest is an administrator-created account.
type createUserRequest struct {
	Email string   `json:"email" validate:"required,email"`
	Name  string   `json:"name" validate:"max=200"`
	Roles []string `json:"roles" validate:"dive,oneof=super_admin tenant_admin instructor student member"`
	pass  string
}

func (r *createUserRequest) UnmarshalJSON(data []byte) error {
	type plain createUserRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = createUserRequest(p)
	return secret(obj, "password", &r.pass)
}

// Create handles POST /api/v1/users.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
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
	u, err := h.accounts.Create(r.Context(), p, account.CreateInput{
		TenantID: tenantID,
		Email:    req.Email,
		Password: req.pass,
		Name:     req.Name,
		Roles:    req.Roles,
	})
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, userView(u))
}

// Unlock handles POST /api/v1/users/{id}/unlock.
func (h *UserHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	u, err := h.accounts.Unlock(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, userView(u))
}

// Delete handles DELETE /api/v1/users/{id}. The account is disabled;
// ?purge=true removes the row.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	purge, err := flag(r, "purge")
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	id := r.PathValue("id")
	if purge != nil && *purge {
		err = h.accounts.Purge(r.Context(), principal(r), id)
	} else {
		err = h.accounts.Disable(r.Context(), principal(r), id)
	}
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

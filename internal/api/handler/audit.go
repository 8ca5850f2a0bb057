package handler

import (
	"log/slog"
	"net/http"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/audit"
	"github.com/d9705996/perseo/internal/model"
)

// AuditHandler handles /api/v1/audit-logs.
type AuditHandler struct {
	reader *audit.Reader
	log    *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(reader *audit.Reader, log *slog.Logger) *AuditHandler {
	return &AuditHandler{reader: reader, log: log}
}

// List handles GET /api/v1/audit-logs. Tenant administrators see their own
// tenant; platform administrators see every tenant unless they name one.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if err := access.RequireRole(p, model.RoleTenantAdmin); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	tenantID := requestedTenant(r)
	if !p.SuperAdmin() {
		var err error
		if tenantID, err = tenantOf(r, p); err != nil {
			renderErr(w, r, h.log, err)
			return
		}
	}
	pp, err := pageOf(r, audit.Sortable)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	q := r.URL.Query()
	rows, meta, err := h.reader.List(r.Context(), audit.Filter{
		TenantID:   tenantID,
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
		ActorID:    q.Get("actorId"),
		Action:     q.Get("action"),
	}, pp)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	renderPage(w, r, resources(rows, auditView), meta)
}

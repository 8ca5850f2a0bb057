// Package api wires all API routes onto the provided ServeMux.
package api

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/d9705996/perseo/internal/api/handler"
	"github.com/d9705996/perseo/internal/api/jsonapi"
	"github.com/d9705996/perseo/internal/api/middleware"
	"github.com/d9705996/perseo/internal/auth"
	"github.com/d9705996/perseo/internal/health"
	"github.com/d9705996/perseo/internal/model"
	"go.opentelemetry.io/otel/trace"
)

// Handlers groups the resource handlers mounted by RegisterRoutes.
type Handlers struct {
	Health    *health.Handler
	Auth      *handler.AuthHandler
	Tenants   *handler.TenantHandler
	Users     *handler.UserHandler
	Directory *handler.DirectoryHandler
	Audit     *handler.AuditHandler
}

// RegisterRoutes registers all application routes on mux. limiter throttles
// the unauthenticated credential endpoints.
func RegisterRoutes(mux *http.ServeMux, h Handlers, signer *auth.Signer, limiter *middleware.RateLimiter) {
	// Public health endpoints (no auth required)
	mux.HandleFunc("GET /api/v1/health", h.Health.ServeHealth)
	mux.HandleFunc("GET /api/v1/ready", h.Health.ServeReady)

	// Auth endpoints (no auth required)
	throttled := func(f http.HandlerFunc) http.Handler { return limiter.Wrap(f) }
	mux.Handle("POST /api/v1/auth/register", throttled(h.Auth.Register))
	mux.Handle("POST /api/v1/auth/login", throttled(h.Auth.Login))
	mux.Handle("POST /api/v1/auth/reset-password/request", throttled(h.Auth.RequestPasswordReset))
	mux.HandleFunc("POST /api/v1/auth/reset-password/confirm", h.Auth.ConfirmPasswordReset)
	mux.HandleFunc("POST /api/v1/auth/verify-email", h.Auth.VerifyEmail)
	mux.HandleFunc("POST /api/v1/auth/refresh", h.Auth.Refresh)

	// Auth-required routes are wrapped with RequireAuth.
	authed := middleware.RequireAuth(signer)
	protected := func(f http.HandlerFunc) http.Handler { return authed(f) }
	as := func(role model.Role, f http.HandlerFunc) http.Handler {
		return authed(middleware.RequireRole(role)(f))
	}

	mux.Handle("POST /api/v1/auth/logout", protected(h.Auth.Logout))
	mux.Handle("GET /api/v1/auth/profile", protected(h.Auth.Profile))

	// Tenants: platform administrators, except reading one's own tenant.
	mux.Handle("POST /api/v1/tenants", as(model.RoleSuperAdmin, h.Tenants.Create))
	mux.Handle("GET /api/v1/tenants", as(model.RoleSuperAdmin, h.Tenants.List))
	mux.Handle("GET /api/v1/tenants/{id}", protected(h.Tenants.Get))
	mux.Handle("PATCH /api/v1/tenants/{id}", as(model.RoleSuperAdmin, h.Tenants.Update))
	mux.Handle("DELETE /api/v1/tenants/{id}", as(model.RoleSuperAdmin, h.Tenants.Delete))

	// Users
	mux.Handle("GET /api/v1/users", as(model.RoleTenantAdmin, h.Users.List))
	mux.Handle("POST /api/v1/users", as(model.RoleTenantAdmin, h.Users.Create))
	mux.Handle("POST /api/v1/users/{id}/unlock", as(model.RoleTenantAdmin, h.Users.Unlock))
	mux.Handle("DELETE /api/v1/users/{id}", as(model.RoleTenantAdmin, h.Users.Delete))

	// Persons
	d := h.Directory
	mux.Handle("POST /api/v1/persons", protected(d.CreatePerson))
	mux.Handle("GET /api/v1/persons", protected(d.ListPersons))
	mux.Handle("GET /api/v1/persons/{id}", protected(d.GetPerson))
	mux.Handle("PATCH /api/v1/persons/{id}", protected(d.UpdatePerson))
	mux.Handle("DELETE /api/v1/persons/{id}", protected(d.DeletePerson))
	mux.Handle("GET /api/v1/persons/{id}/memberships", protected(d.ListPersonMemberships))
	mux.Handle("GET /api/v1/persons/{id}/documents", protected(d.ListDocuments))
	mux.Handle("POST /api/v1/persons/{id}/documents", protected(d.CreateDocument))

	// Groups
	mux.Handle("POST /api/v1/groups", protected(d.CreateGroup))
	mux.Handle("GET /api/v1/groups", protected(d.ListGroups))
	mux.Handle("GET /api/v1/groups/hierarchy", protected(d.Hierarchy))
	mux.Handle("GET /api/v1/groups/{id}", protected(d.GetGroup))
	mux.Handle("PATCH /api/v1/groups/{id}", protected(d.UpdateGroup))
	mux.Handle("DELETE /api/v1/groups/{id}", protected(d.DeleteGroup))
	mux.Handle("GET /api/v1/groups/{id}/members", protected(d.ListGroupMembers))
	mux.Handle("POST /api/v1/groups/{id}/members", protected(d.AddMember))

	// Memberships
	mux.Handle("GET /api/v1/memberships/{id}", protected(d.GetMembership))
	mux.Handle("PATCH /api/v1/memberships/{id}", protected(d.ChangeMembershipRole))
	mux.Handle("POST /api/v1/memberships/{id}/end", protected(d.EndMembership))
	mux.Handle("POST /api/v1/memberships/{id}/suspend", protected(d.SuspendMembership))
	mux.Handle("POST /api/v1/memberships/{id}/reactivate", protected(d.ReactivateMembership))

	// Documents
	mux.Handle("GET /api/v1/documents/{id}", protected(d.GetDocument))
	mux.Handle("PATCH /api/v1/documents/{id}", protected(d.UpdateDocument))
	mux.Handle("DELETE /api/v1/documents/{id}", protected(d.DeleteDocument))

	// Audit
	mux.Handle("GET /api/v1/audit-logs", as(model.RoleTenantAdmin, h.Audit.List))

	// Catch-all 404
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		jsonapi.RenderError(w, http.StatusNotFound, "not_found", "Not Found", "no route for "+r.Method+" "+r.URL.Path)
	})
}

// Wrap adds client address resolution, request logging, tracing and
// metrics around the routed mux. Metrics and tracing sit directly around
// the mux so they see the matched route pattern. trusted lists the proxy
// networks whose forwarding headers are believed.
func Wrap(mux *http.ServeMux, log *slog.Logger, tracer trace.Tracer, m *middleware.Metrics, trusted []netip.Prefix) http.Handler {
	return middleware.RealIP(trusted)(middleware.RequestLogger(log)(middleware.Trace(tracer)(m.Instrument(mux))))
}

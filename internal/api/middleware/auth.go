// Package middleware provides HTTP middleware for Perseo.
package middleware

import (
	"net/http"
	"strings"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/api/jsonapi"
	"github.com/d9705996/perseo/internal/auth"
	"github.com/d9705996/perseo/internal/model"
)

// RequireAuth validates the Bearer JWT in the Authorization header, falling
// back to the access-token cookie. On success it injects an
// access.Principal into the request context. On failure it writes a 401
// JSON:API error response.
func RequireAuth(signer *auth.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				token = auth.FromCookie(r, auth.AccessCookie)
			}
			if token == "" {
				jsonapi.RenderError(w, http.StatusUnauthorized,
					"missing_token", "Unauthorized", "Authorization header is required")
				return
			}

			claims, err := signer.Parse(token)
			if err != nil {
				jsonapi.RenderError(w, http.StatusUnauthorized,
					"invalid_token", "Unauthorized", "access token is invalid or expired")
				return
			}

			ctx := access.WithPrincipal(r.Context(), access.Principal{
				UserID:   claims.UserID,
				Email:    claims.Email,
				TenantID: claims.TenantID,
				Roles:    claims.Roles,
				IP:       ClientIP(r),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects callers that hold none of roles. super_admin always
// passes. Must be chained after RequireAuth.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := access.FromContext(r.Context())
			if !ok {
				jsonapi.RenderError(w, http.StatusUnauthorized,
					"missing_token", "Unauthorized", "authentication required")
				return
			}
			if err := access.RequireRole(p, roles...); err != nil {
				jsonapi.RenderError(w, http.StatusForbidden,
					"forbidden", "Forbidden", "your roles do not permit this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

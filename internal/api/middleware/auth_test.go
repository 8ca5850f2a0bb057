package middleware_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/d9705996/perseo/internal/access"
	"github.com/d9705996/perseo/internal/api/middleware"
	"github.com/d9705996/perseo/internal/auth"
	"github.com/d9705996/perseo/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret-at-least-32-bytes!!!"

var signer = auth.NewSigner(secret, "perseo-test", 15*time.Minute, nil)

func issueToken(t *testing.T, tenantID string, roles ...model.Role) string {
	t.Helper()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	tok, err := signer.Issue("user-1", "u@example.com", names, tenantID)
	require.NoError(t, err)
	return tok
}

func ok(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestRequireAuth_MissingHeader(t *testing.T) {
	handler := middleware.RequireAuth(signer)(http.HandlerFunc(ok))

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "missing_token")
}

func TestRequireAuth_ValidToken(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("192.0.2.0/24"), netip.MustParsePrefix("10.0.0.0/8")}
	handler := middleware.RealIP(trusted)(middleware.RequireAuth(signer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, found := access.FromContext(r.Context())
		require.True(t, found)
		assert.Equal(t, "user-1", p.UserID)
		assert.Equal(t, "tenant-1", p.TenantID)
		assert.True(t, p.Has(model.RoleInstructor))
		assert.Equal(t, "203.0.113.9", p.IP)
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, "tenant-1", model.RoleInstructor))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuth_InvalidToken(t *testing.T) {
	handler := middleware.RequireAuth(signer)(http.HandlerFunc(ok))

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Authorization", "Bearer this.is.garbage")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_token")
}

func TestRequireAuth_OtherIssuerRejected(t *testing.T) {
	other := auth.NewSigner(secret, "someone-else", time.Minute, nil)
	tok, err := other.Issue("user-1", "u@example.com", nil, "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	middleware.RequireAuth(signer)(http.HandlerFunc(ok)).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAuth_CookieFallback(t *testing.T) {
	handler := middleware.RequireAuth(signer)(http.HandlerFunc(ok))

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.AddCookie(&http.Cookie{Name: auth.AccessCookie, Value: issueToken(t, "", model.RoleMember)})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAuth_NonBearerScheme(t *testing.T) {
	handler := middleware.RequireAuth(signer)(http.HandlerFunc(ok))

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole_Forbidden(t *testing.T) {
	chain := middleware.RequireAuth(signer)(
		middleware.RequireRole(model.RoleTenantAdmin)(http.HandlerFunc(ok)),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, "tenant-1", model.RoleMember))
	w := httptest.NewRecorder()
	chain.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireRole_Allowed(t *testing.T) {
	chain := middleware.RequireAuth(signer)(
		middleware.RequireRole(model.RoleTenantAdmin)(http.HandlerFunc(ok)),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, "tenant-1", model.RoleTenantAdmin))
	w := httptest.NewRecorder()
	chain.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRole_SuperAdminAlwaysPasses(t *testing.T) {
	chain := middleware.RequireAuth(signer)(
		middleware.RequireRole(model.RoleTenantAdmin)(http.HandlerFunc(ok)),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, "", model.RoleSuperAdmin))
	w := httptest.NewRecorder()
	chain.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRole_WithoutPrincipal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	w := httptest.NewRecorder()
	middleware.RequireRole(model.RoleMember)(http.HandlerFunc(ok)).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestClientIP(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8"), netip.MustParsePrefix("::1/128")}
	tests := []struct {
		name    string
		trusted []netip.Prefix
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded through trusted proxy", trusted, map[string]string{"X-Forwarded-For": " 198.51.100.1 , 10.0.0.2"}, "10.0.0.3:4000", "198.51.100.1"},
		{"spoofed leading hop ignored", trusted, map[string]string{"X-Forwarded-For": "1.2.3.4, 198.51.100.1"}, "10.0.0.3:4000", "198.51.100.1"},
		{"all hops trusted", trusted, map[string]string{"X-Forwarded-For": "10.0.0.9, 10.0.0.2"}, "10.0.0.3:4000", "10.0.0.9"},
		{"garbage hop", trusted, map[string]string{"X-Forwarded-For": "not-an-ip"}, "10.0.0.3:4000", "10.0.0.3"},
		{"real ip through trusted proxy", trusted, map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.3:4000", "198.51.100.2"},
		{"ipv6 proxy", trusted, map[string]string{"X-Forwarded-For": "2001:db8::7"}, "[::1]:4000", "2001:db8::7"},
		{"untrusted peer keeps its address", trusted, map[string]string{"X-Forwarded-For": "198.51.100.1", "X-Real-IP": "198.51.100.2"}, "192.0.2.7:51234", "192.0.2.7"},
		{"no trusted proxies", nil, map[string]string{"X-Forwarded-For": "198.51.100.1"}, "10.0.0.3:4000", "10.0.0.3"},
		{"peer", nil, nil, "192.0.2.7:51234", "192.0.2.7"},
		{"peer without port", nil, nil, "192.0.2.8", "192.0.2.8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			var got string
			middleware.RealIP(tt.trusted)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got = middleware.ClientIP(r)
			})).ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientIP_WithoutRealIPUsesPeer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "192.0.2.9:1000"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	assert.Equal(t, "192.0.2.9", middleware.ClientIP(req))
}

func TestRateLimiter_IgnoresSpoofedForwardedFor(t *testing.T) {
	lim := middleware.NewRateLimiter(0.001, 1)
	h := middleware.RealIP(nil)(lim.Wrap(http.HandlerFunc(ok)))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", http.NoBody)
		req.RemoteAddr = "192.0.2.50:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, "request %d", i)
	}
}

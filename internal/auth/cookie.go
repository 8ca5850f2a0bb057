package auth

import (
	"net/http"
	"time"
)

// Cookie names carrying the token pair.
const (
	AccessCookie  = "perseo_access_token"
	RefreshCookie = "perseo_refresh_token"
)

// Cookies writes and clears the token pair on responses.
type Cookies struct {
	Secure bool
}

// Set writes both cookies. The refresh cookie is only sent to the auth
// endpoints.
func (c Cookies) Set(w http.ResponseWriter, access string, accessTTL time.Duration, refresh string, refreshTTL time.Duration) {
	http.SetCookie(w, c.cookie(AccessCookie, access, "/", accessTTL))
	http.SetCookie(w, c.cookie(RefreshCookie, refresh, "/api/v1/auth", refreshTTL))
}

// Clear expires both cookies.
func (c Cookies) Clear(w http.ResponseWriter) {
	for _, ck := range []*http.Cookie{
		c.cookie(AccessCookie, "", "/", 0),
		c.cookie(RefreshCookie, "", "/api/v1/auth", 0),
	} {
		ck.MaxAge = -1
		ck.Expires = time.Unix(0, 0)
		http.SetCookie(w, ck)
	}
}

func (c Cookies) cookie(name, value, path string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// FromCookie returns the named cookie value or "".
func FromCookie(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}

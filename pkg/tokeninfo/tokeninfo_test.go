package tokeninfo

import (
	"encoding/json"
	lib "net/http"
	"net/http/httptest"
	"testing"

	tdd "github.com/stretchr/testify/assert"

	"github.com/sylvia-iot/sylvia-iot-core/pkg/httpx"
)

func newServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(lib.HandlerFunc(func(w lib.ResponseWriter, r *lib.Request) {
		tdd.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func TestResolveSuccess(t *testing.T) {
	assert := tdd.New(t)
	srv := newServer(t, lib.StatusOK, tokenInfoResp{Data: Identity{
		UserID: "u1", Account: "alice", Roles: map[string]bool{"admin": true}, Scopes: []string{"broker"},
	}})
	defer srv.Close()

	hc, err := httpx.NewClient()
	assert.Nil(err)
	c := NewClient(hc, srv.URL)

	id, err := c.Resolve(t.Context(), "Bearer tok")
	assert.Nil(err)
	assert.Equal("u1", id.UserID)
	assert.True(id.Roles["admin"])
	assert.True(id.IsAdminOrManager())
}

func TestResolveUnauthorized(t *testing.T) {
	assert := tdd.New(t)
	srv := newServer(t, lib.StatusUnauthorized, map[string]string{})
	defer srv.Close()

	hc, _ := httpx.NewClient()
	c := NewClient(hc, srv.URL)

	_, err := c.Resolve(t.Context(), "Bearer tok")
	assert.NotNil(err)
	assert.Contains(err.Error(), "err_auth")
}

func TestResolveServerError(t *testing.T) {
	assert := tdd.New(t)
	srv := newServer(t, lib.StatusInternalServerError, map[string]string{})
	defer srv.Close()

	hc, _ := httpx.NewClient()
	c := NewClient(hc, srv.URL)

	_, err := c.Resolve(t.Context(), "Bearer tok")
	assert.NotNil(err)
	assert.Contains(err.Error(), "err_int_msg")
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	assert := tdd.New(t)
	hc, _ := httpx.NewClient()
	client := NewClient(hc, "http://unused")
	mw := Middleware(client, Access{})

	called := false
	h := mw(lib.HandlerFunc(func(lib.ResponseWriter, *lib.Request) { called = true }))

	req := httptest.NewRequest(lib.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(called)
	assert.Equal(lib.StatusBadRequest, rec.Code)
}

func TestMiddlewareAttachesIdentityAndAllowsAuthenticatedOnly(t *testing.T) {
	assert := tdd.New(t)
	srv := newServer(t, lib.StatusOK, tokenInfoResp{Data: Identity{UserID: "u1", Roles: map[string]bool{}}})
	defer srv.Close()

	hc, _ := httpx.NewClient()
	client := NewClient(hc, srv.URL)
	mw := Middleware(client, Access{})

	var gotID Identity
	var ok bool
	h := mw(lib.HandlerFunc(func(w lib.ResponseWriter, r *lib.Request) {
		gotID, ok = FromContext(r.Context())
	}))

	req := httptest.NewRequest(lib.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(lib.StatusOK, rec.Code)
	assert.True(ok)
	assert.Equal("u1", gotID.UserID)
}

func TestMiddlewareRejectsMissingRole(t *testing.T) {
	assert := tdd.New(t)
	srv := newServer(t, lib.StatusOK, tokenInfoResp{Data: Identity{UserID: "u1", Roles: map[string]bool{}}})
	defer srv.Close()

	hc, _ := httpx.NewClient()
	client := NewClient(hc, srv.URL)
	mw := Middleware(client, Access{Roles: []string{"admin"}})

	h := mw(lib.HandlerFunc(func(lib.ResponseWriter, *lib.Request) {}))
	req := httptest.NewRequest(lib.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(lib.StatusForbidden, rec.Code)
}

func TestAccessSatisfiesRoleOnlyRequirement(t *testing.T) {
	assert := tdd.New(t)
	a := Access{Roles: []string{"admin"}}
	assert.True(a.Satisfies(Identity{Roles: map[string]bool{"admin": true}}))
	// a scope match alone doesn't satisfy a role-only requirement.
	assert.False(a.Satisfies(Identity{Scopes: []string{"broker"}}))
}

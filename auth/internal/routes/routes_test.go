package routes

import (
	"bytes"
	"encoding/json"
	lib "net/http"
	"net/http/httptest"
	"testing"

	tdd "github.com/stretchr/testify/assert"

	"github.com/sylvia-iot/sylvia-iot-core/auth/internal/models/memory"
)

func doReq(router lib.Handler, method, path string, body any, auth string) *httptest.ResponseRecorder {
	var r *lib.Request
	if body != nil {
		buf, _ := json.Marshal(body)
		r = httptest.NewRequest(method, path, bytes.NewReader(buf))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if auth != "" {
		r.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestLoginTokeninfoLogout(t *testing.T) {
	assert := tdd.New(t)
	repo := memory.New()
	assert.Nil(repo.AddUser("alice", "s3cret", "u1", "Alice", map[string]bool{"admin": true}, []string{"admin"}))
	router := NewRouter(Config{Repo: repo})

	w := doReq(router, lib.MethodPost, "/api/v1/auth/login", loginReq{Account: "alice", Password: "s3cret"}, "")
	assert.Equal(lib.StatusOK, w.Code)
	var loginBody struct {
		Data loginResp `json:"data"`
	}
	assert.Nil(json.Unmarshal(w.Body.Bytes(), &loginBody))
	assert.NotEmpty(loginBody.Data.AccessToken)
	assert.Equal("Bearer", loginBody.Data.TokenType)

	token := loginBody.Data.AccessToken
	w = doReq(router, lib.MethodGet, "/api/v1/auth/tokeninfo", nil, "Bearer "+token)
	assert.Equal(lib.StatusOK, w.Code)
	var tiBody struct {
		Data identityResp `json:"data"`
	}
	assert.Nil(json.Unmarshal(w.Body.Bytes(), &tiBody))
	assert.Equal("u1", tiBody.Data.UserID)
	assert.Equal("alice", tiBody.Data.Account)
	assert.True(tiBody.Data.Roles["admin"])

	w = doReq(router, lib.MethodPost, "/api/v1/auth/logout", nil, "Bearer "+token)
	assert.Equal(lib.StatusNoContent, w.Code)

	w = doReq(router, lib.MethodGet, "/api/v1/auth/tokeninfo", nil, "Bearer "+token)
	assert.Equal(lib.StatusUnauthorized, w.Code)
}

func TestLoginInvalidCredentials(t *testing.T) {
	assert := tdd.New(t)
	repo := memory.New()
	assert.Nil(repo.AddUser("alice", "s3cret", "u1", "Alice", nil, nil))
	router := NewRouter(Config{Repo: repo})

	w := doReq(router, lib.MethodPost, "/api/v1/auth/login", loginReq{Account: "alice", Password: "wrong"}, "")
	assert.Equal(lib.StatusUnauthorized, w.Code)
}

func TestTokeninfoMissingHeader(t *testing.T) {
	assert := tdd.New(t)
	router := NewRouter(Config{Repo: memory.New()})

	w := doReq(router, lib.MethodGet, "/api/v1/auth/tokeninfo", nil, "")
	assert.Equal(lib.StatusBadRequest, w.Code)
}

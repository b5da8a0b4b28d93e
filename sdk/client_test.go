package sdk

import (
	"context"
	"encoding/json"
	lib "net/http"
	"net/http/httptest"
	"testing"

	tdd "github.com/stretchr/testify/assert"
)

func TestLoginAndTokenInfo(t *testing.T) {
	assert := tdd.New(t)

	authSrv := httptest.NewServer(lib.HandlerFunc(func(w lib.ResponseWriter, r *lib.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			_ = json.NewEncoder(w).Encode(map[string]any{"data": LoginResult{AccessToken: "tok-1", TokenType: "Bearer", ExpiresIn: 3600}})
		case "/api/v1/auth/tokeninfo":
			assert.Equal("Bearer tok-1", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]any{"data": Identity{UserID: "u1", Account: "alice"}})
		default:
			w.WriteHeader(lib.StatusNotFound)
		}
	}))
	t.Cleanup(authSrv.Close)

	client, err := New(Options{AuthURL: authSrv.URL})
	assert.Nil(err)

	login, err := client.Login(context.Background(), "alice", "s3cret")
	assert.Nil(err)
	assert.Equal("tok-1", login.AccessToken)

	id, err := client.TokenInfo(context.Background())
	assert.Nil(err)
	assert.Equal("u1", id.UserID)
}

func TestListAndCreateUnits(t *testing.T) {
	assert := tdd.New(t)

	brokerSrv := httptest.NewServer(lib.HandlerFunc(func(w lib.ResponseWriter, r *lib.Request) {
		switch {
		case r.Method == lib.MethodGet && r.URL.Path == "/api/v1/broker/unit":
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []Unit{{UnitID: "u1", Code: "my-unit"}}})
		case r.Method == lib.MethodPost && r.URL.Path == "/api/v1/broker/unit":
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"unitId": "u2"}})
		default:
			w.WriteHeader(lib.StatusNotFound)
		}
	}))
	t.Cleanup(brokerSrv.Close)

	client, err := New(Options{BrokerURL: brokerSrv.URL})
	assert.Nil(err)

	units, err := client.ListUnits(context.Background())
	assert.Nil(err)
	assert.Len(units, 1)
	assert.Equal("my-unit", units[0].Code)

	id, err := client.CreateUnit(context.Background(), "unit2", "owner1", "Unit 2")
	assert.Nil(err)
	assert.Equal("u2", id)
}

func TestDoTranslatesErrorResponse(t *testing.T) {
	assert := tdd.New(t)

	srv := httptest.NewServer(lib.HandlerFunc(func(w lib.ResponseWriter, r *lib.Request) {
		w.WriteHeader(lib.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "err_auth", "message": "invalid token"})
	}))
	t.Cleanup(srv.Close)

	client, err := New(Options{AuthURL: srv.URL})
	assert.Nil(err)

	_, err = client.TokenInfo(context.Background())
	assert.NotNil(err)
	assert.Contains(err.Error(), "err_auth")
}

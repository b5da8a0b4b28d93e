package routes

import (
	"encoding/json"
	lib "net/http"
	"net/http/httptest"
	"testing"

	tdd "github.com/stretchr/testify/assert"

	"github.com/sylvia-iot/sylvia-iot-core/pkg/httpx"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/tokeninfo"
)

func newTestRouter(t *testing.T, identity tokeninfo.Identity) lib.Handler {
	t.Helper()
	authSrv := httptest.NewServer(lib.HandlerFunc(func(w lib.ResponseWriter, r *lib.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": identity})
	}))
	t.Cleanup(authSrv.Close)

	hc, err := httpx.NewClient()
	tdd.New(t).Nil(err)
	client := tokeninfo.NewClient(hc, authSrv.URL)

	return NewRouter(Config{Tokeninfo: client})
}

func TestHealth(t *testing.T) {
	assert := tdd.New(t)
	router := newTestRouter(t, tokeninfo.Identity{})

	r := httptest.NewRequest(lib.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(lib.StatusOK, w.Code)
}

func TestWhoami(t *testing.T) {
	assert := tdd.New(t)
	router := newTestRouter(t, tokeninfo.Identity{UserID: "u1", Account: "alice"})

	r := httptest.NewRequest(lib.MethodGet, "/api/v1/router/whoami", nil)
	r.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(lib.StatusOK, w.Code)
	var body struct {
		Data tokeninfo.Identity `json:"data"`
	}
	assert.Nil(json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal("alice", body.Data.Account)
}

func TestWhoamiMissingAuth(t *testing.T) {
	assert := tdd.New(t)
	router := newTestRouter(t, tokeninfo.Identity{})

	r := httptest.NewRequest(lib.MethodGet, "/api/v1/router/whoami", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(lib.StatusBadRequest, w.Code)
}

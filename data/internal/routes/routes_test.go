package routes

import (
	"context"
	"encoding/json"
	lib "net/http"
	"net/http/httptest"
	"testing"
	"time"

	tdd "github.com/stretchr/testify/assert"

	"github.com/sylvia-iot/sylvia-iot-core/data/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/data/internal/models/memory"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/httpx"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/tokeninfo"
)

func newTestRouter(t *testing.T) (lib.Handler, models.Repo) {
	t.Helper()
	repo := memory.New()

	authSrv := httptest.NewServer(lib.HandlerFunc(func(w lib.ResponseWriter, r *lib.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": tokeninfo.Identity{UserID: "u1", Account: "alice"}})
	}))
	t.Cleanup(authSrv.Close)

	hc, err := httpx.NewClient()
	tdd.New(t).Nil(err)
	client := tokeninfo.NewClient(hc, authSrv.URL)

	router := NewRouter(Config{Repo: repo, Tokeninfo: client})
	return router, repo
}

func TestListRecords(t *testing.T) {
	assert := tdd.New(t)
	router, repo := newTestRouter(t)

	assert.Nil(repo.Record().Add(context.Background(), models.Record{
		Kind: "network-uldata", Data: json.RawMessage(`{"deviceId":"d1"}`),
		Source: "broker.data", ReceivedAt: time.Now().UTC(),
	}))

	r := httptest.NewRequest(lib.MethodGet, "/api/v1/data/records", nil)
	r.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(lib.StatusOK, w.Code)
	var body struct {
		Data []models.Record `json:"data"`
	}
	assert.Nil(json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(body.Data, 1)
	assert.Equal("network-uldata", body.Data[0].Kind)
}

func TestListRecordsMissingAuth(t *testing.T) {
	assert := tdd.New(t)
	router, _ := newTestRouter(t)

	r := httptest.NewRequest(lib.MethodGet, "/api/v1/data/records", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(lib.StatusBadRequest, w.Code)
}

func TestListRecordsInvalidSince(t *testing.T) {
	assert := tdd.New(t)
	router, _ := newTestRouter(t)

	r := httptest.NewRequest(lib.MethodGet, "/api/v1/data/records?since=not-a-time", nil)
	r.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(lib.StatusBadRequest, w.Code)
}

package routes

import (
	"bytes"
	"encoding/json"
	lib "net/http"
	"net/http/httptest"
	"testing"

	tdd "github.com/stretchr/testify/assert"

	"github.com/sylvia-iot/sylvia-iot-core/coremgr/internal/audit"
	"github.com/sylvia-iot/sylvia-iot-core/mq"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/httpx"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/tokeninfo"
)

type fakeQueue struct{ sent [][]byte }

func (q *fakeQueue) Connect() error        { return nil }
func (q *fakeQueue) Close() error          { return nil }
func (q *fakeQueue) SetHandler(mq.Handler) {}
func (q *fakeQueue) Status() mq.Status     { return mq.StatusConnected }
func (q *fakeQueue) Name() string          { return "coremgr.data" }
func (q *fakeQueue) Send(payload []byte) error {
	q.sent = append(q.sent, payload)
	return nil
}

func newTestRouter(t *testing.T) (lib.Handler, *fakeQueue) {
	t.Helper()
	authSrv := httptest.NewServer(lib.HandlerFunc(func(w lib.ResponseWriter, r *lib.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": tokeninfo.Identity{UserID: "u1"}})
	}))
	t.Cleanup(authSrv.Close)

	hc, err := httpx.NewClient()
	tdd.New(t).Nil(err)
	client := tokeninfo.NewClient(hc, authSrv.URL)

	q := &fakeQueue{}
	emitter := audit.New(q, nil, nil)
	router := NewRouter(Config{Tokeninfo: client, Audit: emitter})
	return router, q
}

func TestHealth(t *testing.T) {
	assert := tdd.New(t)
	router, _ := newTestRouter(t)

	r := httptest.NewRequest(lib.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(lib.StatusOK, w.Code)
}

func TestForwardEmitsAuditRecord(t *testing.T) {
	assert := tdd.New(t)
	router, q := newTestRouter(t)

	body := []byte(`{"temperature":21.5}`)
	r := httptest.NewRequest(lib.MethodPost, "/api/v1/coremgr/networks/net-1/forward", bytes.NewReader(body))
	r.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(lib.StatusAccepted, w.Code)
	assert.Len(q.sent, 1)
	var rec audit.Record
	assert.Nil(json.Unmarshal(q.sent[0], &rec))
	assert.Equal("operation", rec.Kind)
}

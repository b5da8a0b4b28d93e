package routes

import (
	"bytes"
	"encoding/json"
	lib "net/http"
	"net/http/httptest"
	"sync"
	"testing"

	tdd "github.com/stretchr/testify/assert"

	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models/memory"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/tokeninfo"
	"github.com/sylvia-iot/sylvia-iot-core/mq"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/httpx"
)

// fakeQueue is a send-only mq.Queue that records every published payload,
// used to assert control-channel fan-out without a real broker connection.
type fakeQueue struct {
	mu   sync.Mutex
	sent [][]byte
}

func (q *fakeQueue) Connect() error      { return nil }
func (q *fakeQueue) Close() error        { return nil }
func (q *fakeQueue) SetHandler(mq.Handler) {}
func (q *fakeQueue) Status() mq.Status   { return mq.StatusConnected }
func (q *fakeQueue) Name() string        { return "fake" }
func (q *fakeQueue) Send(payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, payload)
	return nil
}

func (q *fakeQueue) last() map[string]any {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.sent) == 0 {
		return nil
	}
	var v map[string]any
	_ = json.Unmarshal(q.sent[len(q.sent)-1], &v)
	return v
}

// newTestRouter wires a router against an in-memory repo and a tokeninfo
// server that always resolves to identity.
func newTestRouter(t *testing.T, identity tokeninfo.Identity) (lib.Handler, models.Repo, *fakeQueue, *fakeQueue) {
	t.Helper()
	repo := memory.New()

	authSrv := httptest.NewServer(lib.HandlerFunc(func(w lib.ResponseWriter, r *lib.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": identity})
	}))
	t.Cleanup(authSrv.Close)

	hc, err := httpx.NewClient()
	tdd.New(t).Nil(err)
	client := tokeninfo.NewClient(hc, authSrv.URL)

	appCtrl, netCtrl := &fakeQueue{}, &fakeQueue{}
	router := NewRouter(Config{Repo: repo, Tokeninfo: client, AppCtrl: appCtrl, NetCtrl: netCtrl})
	return router, repo, appCtrl, netCtrl
}

func doReq(t *testing.T, router lib.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		tdd.New(t).Nil(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	tdd.New(t).Nil(json.Unmarshal(rec.Body.Bytes(), &env))
	if v != nil {
		tdd.New(t).Nil(json.Unmarshal(env.Data, v))
	}
}

func TestUnitCreateGetPatchDelete(t *testing.T) {
	assert := tdd.New(t)
	admin := tokeninfo.Identity{UserID: "u1", Roles: map[string]bool{"admin": true}}
	router, _, _, _ := newTestRouter(t, admin)

	rec := doReq(t, router, lib.MethodPost, "/api/v1/broker/unit", unitPostBody{Code: "unit1", OwnerID: "u1", Name: "Unit 1"})
	assert.Equal(lib.StatusOK, rec.Code)
	var created struct{ UnitID string `json:"unitId"` }
	decodeData(t, rec, &created)
	assert.NotEmpty(created.UnitID)

	rec = doReq(t, router, lib.MethodGet, "/api/v1/broker/unit/"+created.UnitID, nil)
	assert.Equal(lib.StatusOK, rec.Code)
	var got models.Unit
	decodeData(t, rec, &got)
	assert.Equal("unit1", got.Code)

	name := "Renamed"
	rec = doReq(t, router, lib.MethodPatch, "/api/v1/broker/unit/"+created.UnitID, unitPatchBody{Name: &name})
	assert.Equal(lib.StatusOK, rec.Code)

	rec = doReq(t, router, lib.MethodDelete, "/api/v1/broker/unit/"+created.UnitID, nil)
	assert.Equal(lib.StatusOK, rec.Code)

	rec = doReq(t, router, lib.MethodGet, "/api/v1/broker/unit/"+created.UnitID, nil)
	assert.Equal(lib.StatusNotFound, rec.Code)
}

func TestUnitCreateForbiddenForNonAdmin(t *testing.T) {
	assert := tdd.New(t)
	plain := tokeninfo.Identity{UserID: "u1", Roles: map[string]bool{}}
	router, _, _, _ := newTestRouter(t, plain)

	rec := doReq(t, router, lib.MethodPost, "/api/v1/broker/unit", unitPostBody{Code: "unit1", OwnerID: "u1"})
	assert.Equal(lib.StatusForbidden, rec.Code)
}

func TestApplicationCreatePublishesAddManager(t *testing.T) {
	assert := tdd.New(t)
	admin := tokeninfo.Identity{UserID: "u1", Roles: map[string]bool{"admin": true}}
	router, repo, appCtrl, _ := newTestRouter(t, admin)

	assert.Nil(repo.Unit().Add(t.Context(), &models.Unit{UnitID: "unit1", Code: "unit1code", OwnerID: "u1"}))

	rec := doReq(t, router, lib.MethodPost, "/api/v1/broker/application", applicationPostBody{
		Code: "app1", UnitID: "unit1", HostURI: "amqp://localhost", Name: "App 1",
	})
	assert.Equal(lib.StatusOK, rec.Code)

	env := appCtrl.last()
	assert.NotNil(env)
	assert.Equal("add-manager", env["operation"])
}

func TestApplicationDeletePublishesDelManagerAndCascades(t *testing.T) {
	assert := tdd.New(t)
	admin := tokeninfo.Identity{UserID: "u1", Roles: map[string]bool{"admin": true}}
	router, repo, appCtrl, _ := newTestRouter(t, admin)
	ctx := t.Context()

	assert.Nil(repo.Unit().Add(ctx, &models.Unit{UnitID: "unit1", Code: "unit1code", OwnerID: "u1"}))
	assert.Nil(repo.Application().Add(ctx, &models.Application{
		ApplicationID: "app1", Code: "app1code", UnitID: "unit1", UnitCode: "unit1code", HostURI: "amqp://localhost",
	}))
	assert.Nil(repo.DeviceRoute().Add(ctx, &models.DeviceRoute{RouteID: "r1", ApplicationID: "app1", DeviceID: "dev1", UnitID: "unit1"}))

	rec := doReq(t, router, lib.MethodDelete, "/api/v1/broker/application/app1", nil)
	assert.Equal(lib.StatusOK, rec.Code)

	env := appCtrl.last()
	assert.NotNil(env)
	assert.Equal("del-manager", env["operation"])

	routes, err := repo.DeviceRoute().ListByDevice(ctx, "dev1")
	assert.Nil(err)
	assert.Equal(0, len(routes))
}

func TestNetworkCreatePublicRequiresAdmin(t *testing.T) {
	assert := tdd.New(t)
	plain := tokeninfo.Identity{UserID: "u1", Roles: map[string]bool{}}
	router, _, _, _ := newTestRouter(t, plain)

	rec := doReq(t, router, lib.MethodPost, "/api/v1/broker/network", networkPostBody{Code: "net1", HostURI: "amqp://localhost"})
	assert.Equal(lib.StatusForbidden, rec.Code)
}

func TestDeviceCreateAndDelete(t *testing.T) {
	assert := tdd.New(t)
	admin := tokeninfo.Identity{UserID: "u1", Roles: map[string]bool{"admin": true}}
	router, repo, appCtrl, _ := newTestRouter(t, admin)
	ctx := t.Context()

	unitID := "unit1"
	assert.Nil(repo.Unit().Add(ctx, &models.Unit{UnitID: unitID, Code: "unit1code", OwnerID: "u1"}))
	assert.Nil(repo.Network().Add(ctx, &models.Network{NetworkID: "net1", Code: "net1code", UnitID: &unitID, HostURI: "amqp://localhost"}))

	rec := doReq(t, router, lib.MethodPost, "/api/v1/broker/device", devicePostBody{NetworkID: "net1", NetworkAddr: "AABBCC", Profile: "p1"})
	assert.Equal(lib.StatusOK, rec.Code)
	var created struct{ DeviceID string `json:"deviceId"` }
	decodeData(t, rec, &created)

	dev, err := repo.Device().Get(ctx, models.DeviceQueryCond{DeviceID: created.DeviceID})
	assert.Nil(err)
	assert.Equal("aabbcc", dev.NetworkAddr)

	rec = doReq(t, router, lib.MethodDelete, "/api/v1/broker/device/"+created.DeviceID, nil)
	assert.Equal(lib.StatusOK, rec.Code)

	env := appCtrl.last()
	assert.NotNil(env)
	assert.Equal("del-device", env["operation"])
}

func TestDeviceRouteCreateIsIdempotent(t *testing.T) {
	assert := tdd.New(t)
	admin := tokeninfo.Identity{UserID: "u1", Roles: map[string]bool{"admin": true}}
	router, repo, _, _ := newTestRouter(t, admin)
	ctx := t.Context()

	unitID := "unit1"
	assert.Nil(repo.Unit().Add(ctx, &models.Unit{UnitID: unitID, Code: "unit1code", OwnerID: "u1"}))
	assert.Nil(repo.Application().Add(ctx, &models.Application{ApplicationID: "app1", Code: "app1code", UnitID: unitID, UnitCode: "unit1code"}))
	assert.Nil(repo.Network().Add(ctx, &models.Network{NetworkID: "net1", Code: "net1code", UnitID: &unitID}))
	assert.Nil(repo.Device().Add(ctx, &models.Device{DeviceID: "dev1", UnitID: unitID, NetworkID: "net1", NetworkCode: "net1code", NetworkAddr: "aabbcc"}))

	rec := doReq(t, router, lib.MethodPost, "/api/v1/broker/device-route", deviceRoutePostBody{ApplicationID: "app1", DeviceID: "dev1"})
	assert.Equal(lib.StatusOK, rec.Code)
	var first struct{ RouteID string `json:"routeId"` }
	decodeData(t, rec, &first)
	assert.NotEmpty(first.RouteID)

	rec = doReq(t, router, lib.MethodPost, "/api/v1/broker/device-route", deviceRoutePostBody{ApplicationID: "app1", DeviceID: "dev1"})
	assert.Equal(lib.StatusOK, rec.Code)
	var second struct{ RouteID string `json:"routeId"` }
	decodeData(t, rec, &second)
	assert.Equal(first.RouteID, second.RouteID)
}

func TestNetworkRouteRejectsCrossUnitPrivateNetwork(t *testing.T) {
	assert := tdd.New(t)
	admin := tokeninfo.Identity{UserID: "u1", Roles: map[string]bool{"admin": true}}
	router, repo, _, _ := newTestRouter(t, admin)
	ctx := t.Context()

	unitA, unitB := "unitA", "unitB"
	assert.Nil(repo.Unit().Add(ctx, &models.Unit{UnitID: unitA, Code: "a", OwnerID: "u1"}))
	assert.Nil(repo.Unit().Add(ctx, &models.Unit{UnitID: unitB, Code: "b", OwnerID: "u1"}))
	assert.Nil(repo.Application().Add(ctx, &models.Application{ApplicationID: "app1", Code: "app1code", UnitID: unitA, UnitCode: "a"}))
	assert.Nil(repo.Network().Add(ctx, &models.Network{NetworkID: "net1", Code: "net1code", UnitID: &unitB}))

	rec := doReq(t, router, lib.MethodPost, "/api/v1/broker/network-route", networkRoutePostBody{ApplicationID: "app1", NetworkID: "net1"})
	assert.Equal(lib.StatusBadRequest, rec.Code)
}

func TestMissingAuthorizationRejected(t *testing.T) {
	assert := tdd.New(t)
	router, _, _, _ := newTestRouter(t, tokeninfo.Identity{})
	req := httptest.NewRequest(lib.MethodGet, "/api/v1/broker/unit", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(lib.StatusBadRequest, rec.Code)
}

package engine

import (
	"testing"
	"time"

	tdd "github.com/stretchr/testify/assert"

	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/audit"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/buffer"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/cache"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/control"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models/memory"
)

func newTestEngine(t *testing.T) (*Engine, models.Repo) {
	t.Helper()
	caches, err := cache.New(cache.Options{})
	tdd.New(t).Nil(err)
	repo := memory.New()
	e := New(Options{
		Repo:   repo,
		Caches: caches,
		Buffer: buffer.New(repo.DlDataBuffer(), buffer.Options{}),
		Audit:  audit.New(nil, nil, nil),
	})
	return e, repo
}

func TestUnitSegment(t *testing.T) {
	assert := tdd.New(t)
	assert.Equal("_", unitSegment(""))
	assert.Equal("u1", unitSegment("u1"))
}

func TestDeviceUnitCode(t *testing.T) {
	assert := tdd.New(t)
	assert.Equal("", deviceUnitCode(&models.Device{UnitCode: nil}))
	code := "u1"
	assert.Equal("u1", deviceUnitCode(&models.Device{UnitCode: &code}))
}

func TestFanOutTargetsDedupesDeviceAndNetworkRoutes(t *testing.T) {
	assert := tdd.New(t)
	e, repo := newTestEngine(t)
	ctx := t.Context()

	err := repo.DeviceRoute().Add(ctx, &models.DeviceRoute{
		RouteID: "r1", DeviceID: "dev1", ApplicationID: "app1", ApplicationCode: "app1code",
		UnitID: "u1", UnitCode: "u1", NetworkID: "net1",
	})
	assert.Nil(err)
	err = repo.NetworkRoute().Add(ctx, &models.NetworkRoute{
		RouteID: "r2", NetworkID: "net1", UnitCode: "u1", ApplicationID: "app1", ApplicationCode: "app1code",
	})
	assert.Nil(err)
	err = repo.NetworkRoute().Add(ctx, &models.NetworkRoute{
		RouteID: "r3", NetworkID: "net1", UnitCode: "u2", ApplicationID: "app2", ApplicationCode: "app2code",
	})
	assert.Nil(err)

	targets, err := e.fanOutTargets(ctx, "net1", "dev1")
	assert.Nil(err)
	assert.Equal(2, len(targets))
	// deterministic order: sorted by (unit_code, app_code).
	assert.Equal("u1", targets[0].unitCode)
	assert.Equal("app1code", targets[0].appCode)
	assert.Equal("u2", targets[1].unitCode)
	assert.Equal("app2code", targets[1].appCode)
}

func TestFanOutTargetsFillsCacheOnMiss(t *testing.T) {
	assert := tdd.New(t)
	e, repo := newTestEngine(t)
	ctx := t.Context()

	err := repo.DeviceRoute().Add(ctx, &models.DeviceRoute{
		RouteID: "r1", DeviceID: "dev1", ApplicationID: "app1", ApplicationCode: "app1code", UnitID: "u1", NetworkID: "net1",
	})
	assert.Nil(err)

	_, ok := e.caches.DeviceRoute.Get("dev1")
	assert.False(ok)

	_, err = e.fanOutTargets(ctx, "net1", "dev1")
	assert.Nil(err)

	_, ok = e.caches.DeviceRoute.Get("dev1")
	assert.True(ok)
}

func TestResolveDeviceCachesMiss(t *testing.T) {
	assert := tdd.New(t)
	e, _ := newTestEngine(t)
	ctx := t.Context()

	entry, err := e.resolveDevice(ctx, "u1", "net1code", "net1", "aabbcc")
	assert.Nil(err)
	assert.False(entry.Found)

	cached, ok := e.caches.Device.Get("u1", "net1code", "aabbcc")
	assert.True(ok)
	assert.False(cached.Found)
}

func TestResolveDeviceHit(t *testing.T) {
	assert := tdd.New(t)
	e, repo := newTestEngine(t)
	ctx := t.Context()

	err := repo.Device().Add(ctx, &models.Device{
		DeviceID: "dev1", UnitID: "u1", NetworkID: "net1", NetworkAddr: "aabbcc", Profile: "p1",
	})
	assert.Nil(err)

	entry, err := e.resolveDevice(ctx, "u1", "net1code", "net1", "AABBCC")
	assert.Nil(err)
	assert.True(entry.Found)
	assert.Equal("dev1", entry.DeviceID)
}

func TestResolveDownlinkDeviceByID(t *testing.T) {
	assert := tdd.New(t)
	e, repo := newTestEngine(t)
	ctx := t.Context()

	unitCode := "u1"
	err := repo.Device().Add(ctx, &models.Device{
		DeviceID: "dev1", UnitID: "u1", UnitCode: &unitCode, NetworkID: "net1", NetworkCode: "net1code", NetworkAddr: "aabbcc",
	})
	assert.Nil(err)

	dev, code, err := e.resolveDownlinkDevice(ctx, downlinkIn{DeviceID: "dev1"})
	assert.Nil(err)
	assert.Equal("dev1", dev.DeviceID)
	assert.Equal("u1", code)
}

func TestResolveDownlinkDeviceByNetworkAddr(t *testing.T) {
	assert := tdd.New(t)
	e, repo := newTestEngine(t)
	ctx := t.Context()

	err := repo.Network().Add(ctx, &models.Network{NetworkID: "net1", Code: "net1code"})
	assert.Nil(err)
	err = repo.Device().Add(ctx, &models.Device{
		DeviceID: "dev1", UnitID: "u1", NetworkID: "net1", NetworkCode: "net1code", NetworkAddr: "aabbcc",
	})
	assert.Nil(err)

	dev, _, err := e.resolveDownlinkDevice(ctx, downlinkIn{NetworkCode: "net1code", NetworkAddr: "AABBCC"})
	assert.Nil(err)
	assert.Equal("dev1", dev.DeviceID)
}

func TestResolveDownlinkDeviceUnknownNetworkCode(t *testing.T) {
	assert := tdd.New(t)
	e, _ := newTestEngine(t)
	ctx := t.Context()

	dev, _, err := e.resolveDownlinkDevice(ctx, downlinkIn{NetworkCode: "missing", NetworkAddr: "aabbcc"})
	assert.Nil(err)
	assert.Nil(dev)
}

func TestApplicationHandlersDelDeviceInvalidatesCaches(t *testing.T) {
	assert := tdd.New(t)
	e, _ := newTestEngine(t)
	e.caches.Device.Set("u1", "net1code", "aabbcc", cache.DeviceEntry{Found: true, DeviceID: "dev1"})
	e.caches.DeviceRoute.Set("dev1", []cache.DeviceRouteEntry{{ApplicationCode: "app1code"}})

	h := e.ApplicationHandlers()
	h.OnDelDevice(control.DelDevicePayload{UnitCode: "u1", NetworkCode: "net1code", NetworkAddr: "aabbcc", DeviceID: "dev1"})

	_, ok := e.caches.Device.Get("u1", "net1code", "aabbcc")
	assert.False(ok)
	_, ok = e.caches.DeviceRoute.Get("dev1")
	assert.False(ok)
}

func TestNetworkHandlersDelNetworkRouteInvalidatesCache(t *testing.T) {
	assert := tdd.New(t)
	e, _ := newTestEngine(t)
	e.caches.NetworkRoute.Set("net1", cache.NetworkRouteEntry{AppMgrKeys: []string{"u1.app1code"}})

	h := e.NetworkHandlers()
	h.OnDelNetworkRoute(control.DelNetworkRoutePayload{NetworkID: "net1"})

	_, ok := e.caches.NetworkRoute.Get("net1")
	assert.False(ok)
}

func TestScanToleratesEmptyRepo(t *testing.T) {
	assert := tdd.New(t)
	e, _ := newTestEngine(t)
	err := e.Scan(t.Context())
	assert.Nil(err)
	assert.Equal(0, len(e.Registry().Applications()))
	assert.Equal(0, len(e.Registry().Networks()))
}

func TestBufferResolutionFlowsThroughEngine(t *testing.T) {
	assert := tdd.New(t)
	e, _ := newTestEngine(t)
	ctx := t.Context()
	now := time.Now().UTC()

	err := e.buf.Insert(ctx, buffer.Entry{
		DataID: "d1", CorrelationID: "c1", UnitID: "u1", UnitCode: "u1",
		ApplicationID: "app1", ApplicationCode: "app1code", NetworkID: "net1", DeviceID: "dev1",
	}, now)
	assert.Nil(err)

	entry, resolution, err := e.buf.Resolve(ctx, "d1", 0, now)
	assert.Nil(err)
	assert.Equal(buffer.ResolutionClosed, resolution)
	assert.Equal("c1", entry.CorrelationID)
}

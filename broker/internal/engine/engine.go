// Package engine implements the broker's routing engine: the uplink,
// downlink and downlink-result paths of SPEC_FULL.md §4.E, wired against
// the manager registry, the device/route caches, the downlink buffer and
// the audit emitter.
package engine

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/audit"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/buffer"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/cache"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/control"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/mgr"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/mq"
	"github.com/sylvia-iot/sylvia-iot-core/mq/pool"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
)

// Engine owns the manager registry and both caches, and implements
// mgr.ApplicationHandler/mgr.NetworkHandler to drive the three routing
// paths from queue deliveries.
type Engine struct {
	pool      *pool.Pool
	tlsConf   *tls.Config
	repo      models.Repo
	caches    *cache.Caches
	buf       *buffer.Buffer
	reg       *mgr.Registry
	dataAudit *audit.Emitter
	log       xlog.Logger
}

// Options configures New.
type Options struct {
	Pool      *pool.Pool
	TLSConfig *tls.Config
	Repo      models.Repo
	Caches    *cache.Caches
	Buffer    *buffer.Buffer
	Audit     *audit.Emitter
	Log       xlog.Logger
}

// New builds an Engine. Its manager registry starts empty; call Scan to
// populate it from every existing application/network row, and wire
// control-channel events via Handlers.
func New(opts Options) *Engine {
	ll := opts.Log
	if ll == nil {
		ll = xlog.Discard()
	}
	return &Engine{
		pool: opts.Pool, tlsConf: opts.TLSConfig, repo: opts.Repo,
		caches: opts.Caches, buf: opts.Buffer, dataAudit: opts.Audit,
		reg: mgr.NewRegistry(), log: ll,
	}
}

// Registry exposes the manager registry, e.g. for admin/diagnostic edges.
func (e *Engine) Registry() *mgr.Registry { return e.reg }

// Scan creates a manager for every existing application and network row,
// per spec.md §4.C's "manager is created ... via initial scan". Errors
// opening an individual manager are logged and skipped rather than
// aborting the whole scan, since one unreachable adapter host shouldn't
// prevent every other manager from starting.
func (e *Engine) Scan(ctx context.Context) error {
	apps, err := e.repo.Application().List(ctx, models.ApplicationListCond{}, models.ListOptions{})
	if err != nil {
		return errors.Wrap(err, "scan applications")
	}
	for _, app := range apps {
		if _, err := e.CreateApplication(mgr.Options{
			UnitID: app.UnitID, UnitCode: app.UnitCode, ID: app.ApplicationID, Name: app.Code,
		}, app.HostURI); err != nil {
			e.log.WithField("applicationId", app.ApplicationID).WithField("error", err.Error()).
				Warning("scan: failed to open application manager")
		}
	}

	nets, err := e.repo.Network().List(ctx, models.NetworkListCond{}, models.ListOptions{})
	if err != nil {
		return errors.Wrap(err, "scan networks")
	}
	for _, net := range nets {
		opts := mgr.Options{ID: net.NetworkID, Name: net.Code}
		if net.UnitID != nil {
			opts.UnitID = *net.UnitID
		}
		if net.UnitCode != nil {
			opts.UnitCode = *net.UnitCode
		}
		if _, err := e.CreateNetwork(opts, net.HostURI); err != nil {
			e.log.WithField("networkId", net.NetworkID).WithField("error", err.Error()).
				Warning("scan: failed to open network manager")
		}
	}
	return nil
}

// CreateApplication idempotently opens (or replaces) the application
// manager for opts against hostURI, registering Engine as its handler.
func (e *Engine) CreateApplication(opts mgr.Options, hostURI string) (*mgr.Application, error) {
	a, err := mgr.NewApplication(e.pool, hostURI, e.tlsConf, opts, e, e.log)
	if err != nil {
		return nil, err
	}
	e.reg.AddApplication(a)
	return a, nil
}

// CreateNetwork idempotently opens (or replaces) the network manager for
// opts against hostURI, registering Engine as its handler.
func (e *Engine) CreateNetwork(opts mgr.Options, hostURI string) (*mgr.Network, error) {
	n, err := mgr.NewNetwork(e.pool, hostURI, e.tlsConf, opts, e, e.log)
	if err != nil {
		return nil, err
	}
	e.reg.AddNetwork(n)
	return n, nil
}

func mgrOptionsFrom(p control.ManagerOptions) mgr.Options {
	return mgr.Options{
		UnitID: p.UnitID, UnitCode: p.UnitCode, ID: p.ID, Name: p.Name,
		Prefetch: p.Prefetch, Persistent: p.Persistent, SharedPrefix: p.SharedPrefix,
	}
}

// invalidationHandlers is shared by both control.Handlers sets: cache
// invalidation doesn't depend on manager kind.
func (e *Engine) invalidationHandlers() control.Handlers {
	return control.Handlers{
		OnDelDevice: func(p control.DelDevicePayload) {
			e.caches.InvalidateDevice(p.UnitCode, p.NetworkCode, p.NetworkAddr, p.DeviceID)
		},
		OnDelDeviceBulk: func(p control.DelDeviceBulkPayload) {
			if err := e.caches.InvalidateNetwork(p.UnitCode, p.NetworkCode, ""); err != nil {
				e.log.WithField("error", err.Error()).Warning("control del-device-bulk: invalidation rejected")
			}
			for _, id := range p.DeviceIDs {
				e.caches.DeviceRoute.Invalidate(id)
			}
		},
		OnDelDeviceRange: func(p control.DelDeviceRangePayload) {
			if err := e.caches.InvalidateNetwork(p.UnitCode, p.NetworkCode, ""); err != nil {
				e.log.WithField("error", err.Error()).Warning("control del-device-range: invalidation rejected")
			}
		},
		OnDelNetworkRoute: func(p control.DelNetworkRoutePayload) {
			e.caches.NetworkRoute.Invalidate(p.NetworkID)
		},
		OnDelDeviceRoute: func(p control.DelDeviceRoutePayload) {
			e.caches.DeviceRoute.Invalidate(p.DeviceID)
		},
	}
}

// ApplicationHandlers builds the control.Handlers for the
// broker.ctrl.application channel.
func (e *Engine) ApplicationHandlers() control.Handlers {
	h := e.invalidationHandlers()
	h.OnAddManager = func(p control.AddManagerPayload) {
		if _, err := e.CreateApplication(mgrOptionsFrom(p.MgrOptions), p.HostURI); err != nil {
			e.log.WithField("error", err.Error()).Warning("control add-manager: failed to open application manager")
		}
	}
	h.OnDelManager = func(p control.DelManagerPayload) {
		key := mgr.Key{Kind: "application", Unit: unitSegment(p.UnitCode), Code: p.Name}
		if err := e.reg.RemoveApplication(key); err != nil {
			e.log.WithField("error", err.Error()).Warning("control del-manager: failed to retire application manager")
		}
	}
	return h
}

// NetworkHandlers builds the control.Handlers for the broker.ctrl.network
// channel.
func (e *Engine) NetworkHandlers() control.Handlers {
	h := e.invalidationHandlers()
	h.OnAddManager = func(p control.AddManagerPayload) {
		if _, err := e.CreateNetwork(mgrOptionsFrom(p.MgrOptions), p.HostURI); err != nil {
			e.log.WithField("error", err.Error()).Warning("control add-manager: failed to open network manager")
		}
	}
	h.OnDelManager = func(p control.DelManagerPayload) {
		key := mgr.Key{Kind: "network", Unit: unitSegment(p.UnitCode), Code: p.Name}
		if err := e.reg.RemoveNetwork(key); err != nil {
			e.log.WithField("error", err.Error()).Warning("control del-manager: failed to retire network manager")
		}
	}
	return h
}

func unitSegment(unitCode string) string {
	if unitCode == "" {
		return "_"
	}
	return unitCode
}

// --- wire shapes ---

type uplinkIn struct {
	Time        string          `json:"time"`
	NetworkAddr string          `json:"networkAddr"`
	Data        string          `json:"data"`
	Extension   json.RawMessage `json:"extension,omitempty"`
}

type uplinkOut struct {
	DataID      string          `json:"dataId"`
	Time        string          `json:"time"`
	Pub         string          `json:"pub"`
	UnitCode    string          `json:"unitCode"`
	NetworkCode string          `json:"networkCode"`
	NetworkAddr string          `json:"networkAddr"`
	UnitID      string          `json:"unitId"`
	DeviceID    string          `json:"deviceId"`
	Profile     string          `json:"profile"`
	Data        string          `json:"data"`
	Extension   json.RawMessage `json:"extension,omitempty"`
}

type downlinkIn struct {
	CorrelationID string          `json:"correlationId"`
	DeviceID      string          `json:"deviceId,omitempty"`
	NetworkCode   string          `json:"networkCode,omitempty"`
	NetworkAddr   string          `json:"networkAddr,omitempty"`
	Data          string          `json:"data"`
	Extension     json.RawMessage `json:"extension,omitempty"`
}

type downlinkOut struct {
	DataID      string          `json:"dataId"`
	Pub         string          `json:"pub"`
	ExpiresIn   int64           `json:"expiresIn"`
	NetworkAddr string          `json:"networkAddr"`
	Data        string          `json:"data"`
	Extension   json.RawMessage `json:"extension,omitempty"`
}

type downlinkResp struct {
	CorrelationID string `json:"correlationId"`
	DataID        string `json:"dataId,omitempty"`
	Error         string `json:"error,omitempty"`
	Message       string `json:"message,omitempty"`
}

type downlinkResultIn struct {
	DataID  string `json:"dataId"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

type downlinkResultOut struct {
	CorrelationID string `json:"correlationId"`
	DataID        string `json:"dataId"`
	Status        int    `json:"status"`
	Message       string `json:"message,omitempty"`
}

// networkUlData is the §4.H "network-uldata" receipt record: emitted once
// per uplink delivered from the network, independent of whether it was
// deliverable to any application. DeviceID is a pointer so an orphan uplink
// (no matching device) serializes it as a literal JSON null.
type networkUlData struct {
	DataID      string          `json:"dataId"`
	Time        string          `json:"time"`
	Pub         string          `json:"pub"`
	UnitCode    string          `json:"unitCode"`
	NetworkCode string          `json:"networkCode"`
	NetworkAddr string          `json:"networkAddr"`
	UnitID      string          `json:"unitId,omitempty"`
	DeviceID    *string         `json:"deviceId"`
	Profile     string          `json:"profile,omitempty"`
	Data        string          `json:"data"`
	Extension   json.RawMessage `json:"extension,omitempty"`
}

// OnUplink implements mgr.NetworkHandler: the uplink path, spec.md §4.E.
func (e *Engine) OnUplink(netMgr *mgr.Network, msg mq.Message) {
	ctx := context.Background()
	var in uplinkIn
	if err := json.Unmarshal(msg.Payload(), &in); err != nil {
		e.log.WithField("error", err.Error()).Warning("uplink: malformed payload")
		_ = msg.Nack(false)
		return
	}
	in.NetworkAddr = strings.ToLower(in.NetworkAddr)
	now := time.Now().UTC().Format(time.RFC3339)

	device, err := e.resolveDevice(ctx, netMgr.UnitCode(), netMgr.Code(), netMgr.ID(), in.NetworkAddr)
	if err != nil {
		e.log.WithField("error", err.Error()).Error("uplink: device lookup failed")
		_ = msg.Nack(true)
		return
	}
	if !device.Found {
		e.dataAudit.Emit(audit.KindNetworkUlData, networkUlData{
			DataID: uuid.NewString(), Time: in.Time, Pub: now,
			UnitCode: netMgr.UnitCode(), NetworkCode: netMgr.Code(), NetworkAddr: in.NetworkAddr,
			DeviceID: nil, Data: in.Data, Extension: in.Extension,
		})
		_ = msg.Ack()
		return
	}

	targets, err := e.fanOutTargets(ctx, netMgr.ID(), device.DeviceID)
	if err != nil {
		e.log.WithField("error", err.Error()).Error("uplink: fan-out target resolution failed")
		_ = msg.Nack(true)
		return
	}

	deviceID := device.DeviceID
	e.dataAudit.Emit(audit.KindNetworkUlData, networkUlData{
		DataID: uuid.NewString(), Time: in.Time, Pub: now,
		UnitCode: netMgr.UnitCode(), NetworkCode: netMgr.Code(), NetworkAddr: in.NetworkAddr,
		UnitID: device.UnitID, DeviceID: &deviceID, Profile: device.Profile,
		Data: in.Data, Extension: in.Extension,
	})

	for _, t := range targets {
		appMgr, ok := e.reg.Application(mgr.Key{Kind: "application", Unit: unitSegment(t.unitCode), Code: t.appCode})
		if !ok {
			continue
		}
		out := uplinkOut{
			DataID: uuid.NewString(), Time: in.Time, Pub: now,
			UnitCode: netMgr.UnitCode(), NetworkCode: netMgr.Code(), NetworkAddr: in.NetworkAddr,
			UnitID: device.UnitID, DeviceID: device.DeviceID, Profile: device.Profile,
			Data: in.Data, Extension: in.Extension,
		}
		raw, _ := json.Marshal(out)
		sendErr := appMgr.Uplink(raw)
		status := 0
		if sendErr != nil {
			status = 1
		}
		e.dataAudit.Emit(audit.KindApplicationUlData, map[string]any{
			"dataId": out.DataID, "applicationCode": t.appCode, "unitCode": t.unitCode, "status": status,
		})
	}
	_ = msg.Ack()
}

type fanOutTarget struct {
	unitCode string
	appCode  string
}

// fanOutTargets returns the deduplicated, deterministically ordered set of
// (unit_code, app_code) pairs an uplink from deviceID on networkID must
// reach: every device-route binding plus every network-route (broadcast)
// binding, de-duplicated by (unit_code, app_code) — which, since
// application codes are unique within a unit, is equivalent to
// de-duplicating by application id per spec.md's "Ordering and
// tie-breaks" rule.
func (e *Engine) fanOutTargets(ctx context.Context, networkID string, deviceID string) ([]fanOutTarget, error) {
	seen := map[string]fanOutTarget{}

	deviceRoutes, ok := e.caches.DeviceRoute.Get(deviceID)
	if !ok {
		rows, err := e.repo.DeviceRoute().ListByDevice(ctx, deviceID)
		if err != nil {
			return nil, errors.Wrap(err, "list device routes")
		}
		deviceRoutes = make([]cache.DeviceRouteEntry, 0, len(rows))
		for _, r := range rows {
			deviceRoutes = append(deviceRoutes, cache.DeviceRouteEntry{
				ApplicationID: r.ApplicationID, ApplicationCode: r.ApplicationCode, UnitCode: r.UnitCode,
			})
		}
		e.caches.DeviceRoute.Set(deviceID, deviceRoutes)
	}
	for _, r := range deviceRoutes {
		key := r.UnitCode + "." + r.ApplicationCode
		seen[key] = fanOutTarget{unitCode: r.UnitCode, appCode: r.ApplicationCode}
	}

	netRoute, ok := e.caches.NetworkRoute.Get(networkID)
	if !ok {
		rows, err := e.repo.NetworkRoute().ListByNetwork(ctx, networkID)
		if err != nil {
			return nil, errors.Wrap(err, "list network routes")
		}
		keys := make([]string, 0, len(rows))
		for _, r := range rows {
			keys = append(keys, r.UnitCode+"."+r.ApplicationCode)
		}
		netRoute = cache.NetworkRouteEntry{AppMgrKeys: keys}
		e.caches.NetworkRoute.Set(networkID, netRoute)
	}
	for _, key := range netRoute.AppMgrKeys {
		unitCode, appCode, found := strings.Cut(key, ".")
		if !found {
			continue
		}
		seen[key] = fanOutTarget{unitCode: unitCode, appCode: appCode}
	}

	targets := make([]fanOutTarget, 0, len(seen))
	for _, t := range seen {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].unitCode != targets[j].unitCode {
			return targets[i].unitCode < targets[j].unitCode
		}
		return targets[i].appCode < targets[j].appCode
	})
	return targets, nil
}

func (e *Engine) resolveDevice(ctx context.Context, unitCode, networkCode, networkID, networkAddr string) (cache.DeviceEntry, error) {
	if entry, ok := e.caches.Device.Get(unitCode, networkCode, networkAddr); ok {
		return entry, nil
	}

	dev, err := e.repo.Device().Get(ctx, models.DeviceQueryCond{NetworkID: networkID, NetworkAddr: networkAddr})
	if err != nil {
		return cache.DeviceEntry{}, err
	}
	entry := cache.DeviceEntry{Found: dev != nil}
	if dev != nil {
		entry.DeviceID = dev.DeviceID
		entry.UnitID = dev.UnitID
		entry.Profile = dev.Profile
	}
	e.caches.Device.Set(unitCode, networkCode, networkAddr, entry)
	return entry, nil
}

// OnDownlink implements mgr.ApplicationHandler: the downlink path,
// spec.md §4.E.
func (e *Engine) OnDownlink(appMgr *mgr.Application, msg mq.Message) {
	ctx := context.Background()
	var in downlinkIn
	if err := json.Unmarshal(msg.Payload(), &in); err != nil {
		e.log.WithField("error", err.Error()).Warning("downlink: malformed payload")
		_ = msg.Nack(false)
		return
	}

	dev, unitCode, err := e.resolveDownlinkDevice(ctx, in)
	if err != nil {
		e.log.WithField("error", err.Error()).Error("downlink: device resolution failed")
		_ = msg.Nack(true)
		return
	}
	if dev == nil {
		e.replyDownlink(appMgr, downlinkResp{CorrelationID: in.CorrelationID, Error: "err_param", Message: "device not found"})
		_ = msg.Ack()
		return
	}
	if dev.UnitID != appMgr.UnitID() {
		e.replyDownlink(appMgr, downlinkResp{CorrelationID: in.CorrelationID, Error: "err_perm", Message: "device does not belong to this application's unit"})
		_ = msg.Ack()
		return
	}

	netMgrForDevice, ok := e.lookupNetworkManagerFor(dev.NetworkID)
	if !ok {
		e.replyDownlink(appMgr, downlinkResp{CorrelationID: in.CorrelationID, Error: "err_int_msg", Message: "network manager not running"})
		_ = msg.Ack()
		return
	}

	now := time.Now().UTC()
	dataID := uuid.NewString()
	if err := e.buf.Insert(ctx, buffer.Entry{
		DataID: dataID, CorrelationID: in.CorrelationID,
		UnitID: appMgr.UnitID(), UnitCode: unitCode,
		ApplicationID: appMgr.ID(), ApplicationCode: appMgr.Code(),
		NetworkID: dev.NetworkID, NetworkAddr: dev.NetworkAddr, DeviceID: dev.DeviceID,
	}, now); err != nil {
		e.log.WithField("error", err.Error()).Error("downlink: buffer insert failed")
		e.replyDownlink(appMgr, downlinkResp{CorrelationID: in.CorrelationID, Error: "err_db", Message: "failed to allocate buffer entry"})
		_ = msg.Ack()
		return
	}

	out := downlinkOut{
		DataID: dataID, Pub: now.Format(time.RFC3339), ExpiresIn: int64(buffer.DefaultTTL.Seconds()),
		NetworkAddr: dev.NetworkAddr, Data: in.Data, Extension: in.Extension,
	}
	raw, _ := json.Marshal(out)
	sendErr := netMgrForDevice.Downlink(raw)

	e.dataAudit.Emit(audit.KindApplicationDlData, map[string]any{
		"dataId": dataID, "correlationId": in.CorrelationID, "applicationCode": appMgr.Code(),
	})
	status := 0
	if sendErr != nil {
		status = 1
	}
	e.dataAudit.Emit(audit.KindNetworkDlData, map[string]any{
		"dataId": dataID, "networkCode": netMgrForDevice.Code(), "networkAddr": dev.NetworkAddr, "status": status,
	})

	if sendErr != nil {
		e.replyDownlink(appMgr, downlinkResp{CorrelationID: in.CorrelationID, Error: "err_int_msg", Message: sendErr.Error()})
		_ = msg.Ack()
		return
	}

	e.replyDownlink(appMgr, downlinkResp{CorrelationID: in.CorrelationID, DataID: dataID})
	_ = msg.Ack()
}

func (e *Engine) replyDownlink(appMgr *mgr.Application, resp downlinkResp) {
	raw, _ := json.Marshal(resp)
	if err := appMgr.DownlinkResp(raw); err != nil {
		e.log.WithField("error", err.Error()).Warning("downlink: failed to send dldata-resp")
	}
	e.dataAudit.Emit(audit.KindApplicationDlDataResult, map[string]any{
		"correlationId": resp.CorrelationID, "dataId": resp.DataID, "error": resp.Error,
	})
}

// resolveDownlinkDevice resolves the device named by in (by id, or by
// network_code+network_addr) and returns its unit code alongside it,
// since callers need both for buffer bookkeeping and authorization.
func (e *Engine) resolveDownlinkDevice(ctx context.Context, in downlinkIn) (*models.Device, string, error) {
	if in.DeviceID != "" {
		dev, err := e.repo.Device().Get(ctx, models.DeviceQueryCond{DeviceID: in.DeviceID})
		if err != nil || dev == nil {
			return nil, "", err
		}
		return dev, deviceUnitCode(dev), nil
	}

	net, err := e.repo.Network().Get(ctx, models.NetworkQueryCond{Code: in.NetworkCode})
	if err != nil || net == nil {
		return nil, "", err
	}
	addr := strings.ToLower(in.NetworkAddr)
	dev, err := e.repo.Device().Get(ctx, models.DeviceQueryCond{NetworkID: net.NetworkID, NetworkAddr: addr})
	if err != nil || dev == nil {
		return nil, "", err
	}
	return dev, deviceUnitCode(dev), nil
}

func deviceUnitCode(dev *models.Device) string {
	if dev.UnitCode == nil {
		return ""
	}
	return *dev.UnitCode
}

func (e *Engine) lookupNetworkManagerFor(networkID string) (*mgr.Network, bool) {
	for _, n := range e.reg.Networks() {
		if n.ID() == networkID {
			return n, true
		}
	}
	return nil, false
}

// OnDownlinkResult implements mgr.NetworkHandler: the downlink-result
// path, spec.md §4.E.
func (e *Engine) OnDownlinkResult(netMgr *mgr.Network, msg mq.Message) {
	ctx := context.Background()
	var in downlinkResultIn
	if err := json.Unmarshal(msg.Payload(), &in); err != nil {
		e.log.WithField("error", err.Error()).Warning("downlink-result: malformed payload")
		_ = msg.Nack(false)
		return
	}

	entry, resolution, err := e.buf.Resolve(ctx, in.DataID, in.Status, time.Now().UTC())
	if err != nil {
		e.log.WithField("error", err.Error()).Error("downlink-result: buffer resolve failed")
		_ = msg.Nack(true)
		return
	}
	if resolution == buffer.ResolutionStale || entry == nil {
		e.dataAudit.Emit(audit.KindNetworkDlDataResult, map[string]any{"dataId": in.DataID, "stale": true})
		_ = msg.Ack()
		return
	}

	appMgr, ok := e.reg.Application(mgr.Key{Kind: "application", Unit: unitSegment(entry.UnitCode), Code: entry.ApplicationCode})
	if ok {
		out := downlinkResultOut{
			CorrelationID: entry.CorrelationID, DataID: in.DataID, Status: in.Status, Message: in.Message,
		}
		raw, _ := json.Marshal(out)
		if err := appMgr.DownlinkResult(raw); err != nil {
			e.log.WithField("error", err.Error()).Warning("downlink-result: failed to forward to application")
		}
	}

	e.dataAudit.Emit(audit.KindNetworkDlDataResult, map[string]any{
		"dataId": in.DataID, "status": in.Status, "kept": resolution == buffer.ResolutionKept,
	})
	_ = msg.Ack()
}

// Package routes implements the broker's HTTP CRUD edges for units,
// applications, networks, devices and routes, per SPEC_FULL.md's
// contract-level HTTP scope. Handlers delegate to the models.Repo
// capability interface and return the platform's canonical {"data": ...}
// bodies; they do not replicate every filter combination the original
// Rust routes exposed.
package routes

import (
	"encoding/json"
	lib "net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/control"
	"github.com/sylvia-iot/sylvia-iot-core/broker/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/tokeninfo"
	"github.com/sylvia-iot/sylvia-iot-core/mq"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/middleware"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/middleware/recovery"
)

// Config wires the dependencies every handler needs.
type Config struct {
	Repo models.Repo

	// Tokeninfo resolves bearer tokens into caller identities. Required.
	Tokeninfo *tokeninfo.Client

	// AppCtrl and NetCtrl are the two control-channel broadcast queues:
	// application-manager lifecycle is published on AppCtrl, network-manager
	// lifecycle on NetCtrl. Cache-invalidation ops (del-device*,
	// del-network-route) are published on AppCtrl by convention — every
	// broker process wires invalidationHandlers() onto both channels, so
	// publishing on either reaches the whole fleet.
	AppCtrl mq.Queue
	NetCtrl mq.Queue

	Log xlog.Logger
}

type handler struct {
	repo models.Repo
	ti   *tokeninfo.Client
	app  mq.Queue
	net  mq.Queue
	log  xlog.Logger
}

// NewRouter builds the broker's HTTP handler: every CRUD edge wrapped with
// request logging and panic recovery, and every route gated by
// tokeninfo.Middleware with the access requirement noted next to it.
func NewRouter(cfg Config) lib.Handler {
	ll := cfg.Log
	if ll == nil {
		ll = xlog.Discard()
	}
	h := &handler{repo: cfg.Repo, ti: cfg.Tokeninfo, app: cfg.AppCtrl, net: cfg.NetCtrl, log: ll}

	mux := lib.NewServeMux()
	h.mountUnitRoutes(mux)
	h.mountApplicationRoutes(mux)
	h.mountNetworkRoutes(mux)
	h.mountDeviceRoutes(mux)
	h.mountDeviceRouteRoutes(mux)
	h.mountNetworkRouteRoutes(mux)

	var top lib.Handler = mux
	top = middleware.Headers(map[string]string{"X-Content-Type-Options": "nosniff"})(top)
	top = middleware.Logging(ll, nil)(top)
	top = recovery.Handler()(top)
	return top
}

// authed wraps fn with tokeninfo authentication/authorization.
func (h *handler) authed(required tokeninfo.Access, fn lib.HandlerFunc) lib.Handler {
	return tokeninfo.Middleware(h.ti, required)(fn)
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
	errors.ErrUnknown(err.Error()).Write(w)
}

func decodeBody(r *lib.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.ErrParam("invalid request body: " + err.Error())
	}
	return nil
}

func listOptsFromQuery(r *lib.Request) models.ListOptions {
	q := r.URL.Query()
	opts := models.ListOptions{Limit: 100}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			opts.Limit = n
		}
	}
	return opts
}

func newID() string { return uuid.NewString() }

// publishAddManager/publishDelManager wrap control.Publish for the manager
// lifecycle ops issued by the application/network route handlers.
func publishAddManager(q mq.Queue, hostURI string, opts control.ManagerOptions) error {
	if q == nil {
		return nil
	}
	return control.Publish(q, control.OpAddManager, control.AddManagerPayload{HostURI: hostURI, MgrOptions: opts})
}

func publishDelManager(q mq.Queue, unitCode, name string) error {
	if q == nil {
		return nil
	}
	return control.Publish(q, control.OpDelManager, control.DelManagerPayload{UnitCode: unitCode, Name: name})
}

func publishDelDevice(q mq.Queue, p control.DelDevicePayload) error {
	if q == nil {
		return nil
	}
	return control.Publish(q, control.OpDelDevice, p)
}

func publishDelDeviceRange(q mq.Queue, p control.DelDeviceRangePayload) error {
	if q == nil {
		return nil
	}
	return control.Publish(q, control.OpDelDeviceRange, p)
}

func publishDelNetworkRoute(q mq.Queue, networkID string) error {
	if q == nil {
		return nil
	}
	return control.Publish(q, control.OpDelNetworkRoute, control.DelNetworkRoutePayload{NetworkID: networkID})
}

func publishDelDeviceRoute(q mq.Queue, deviceID string) error {
	if q == nil {
		return nil
	}
	return control.Publish(q, control.OpDelDeviceRoute, control.DelDeviceRoutePayload{DeviceID: deviceID})
}

// checkUnitAccess reports whether id may access a resource owned by
// unitID. Admin/manager roles always pass; otherwise the unit must exist
// and the caller must own it (or be a member, when onlyOwner is false).
func (h *handler) checkUnitAccess(r *lib.Request, id tokeninfo.Identity, unitID string, onlyOwner bool) (bool, error) {
	if id.IsAdminOrManager() {
		return true, nil
	}
	cond := models.UnitQueryCond{UnitID: unitID}
	if onlyOwner {
		cond.OwnerID = id.UserID
	} else {
		cond.MemberID = id.UserID
	}
	unit, err := h.repo.Unit().Get(r.Context(), cond)
	if err != nil {
		return false, errors.ErrDB(err.Error())
	}
	return unit != nil, nil
}

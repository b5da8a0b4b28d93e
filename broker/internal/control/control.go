// Package control implements the broker's control channel: a broadcast
// reliable queue shared across the broker fleet carrying manager
// lifecycle and cache-invalidation commands, per SPEC_FULL.md §4.D.
package control

import (
	"encoding/json"

	"github.com/sylvia-iot/sylvia-iot-core/mq"
	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
)

// Operation names the seven control-channel operations.
type Operation string

const (
	OpAddManager      Operation = "add-manager"
	OpDelManager      Operation = "del-manager"
	OpDelDevice       Operation = "del-device"
	OpDelDeviceBulk   Operation = "del-device-bulk"
	OpDelDeviceRange  Operation = "del-device-range"
	OpDelNetworkRoute Operation = "del-network-route"
	OpDelDeviceRoute  Operation = "del-device-route"
)

// Envelope is the JSON wire shape every control message uses:
// {"operation": <op>, "new": <payload>}. New is decoded lazily by the
// handler registered for Operation, since its shape depends on the op.
type Envelope struct {
	Operation Operation       `json:"operation"`
	New       json.RawMessage `json:"new"`
}

// ManagerOptions mirrors mgr.Options on the wire; add-manager names every
// field mgr.Options needs to open a manager's queues.
type ManagerOptions struct {
	UnitID       string `json:"unitId"`
	UnitCode     string `json:"unitCode"`
	ID           string `json:"id"`
	Name         string `json:"name"`
	Prefetch     int    `json:"prefetch,omitempty"`
	Persistent   bool   `json:"persistent,omitempty"`
	SharedPrefix string `json:"sharedPrefix,omitempty"`
}

// AddManagerPayload is the "new" payload for add-manager.
type AddManagerPayload struct {
	HostURI    string         `json:"hostUri"`
	MgrOptions ManagerOptions `json:"mgrOptions"`
}

// DelManagerPayload is the "new" payload for del-manager: enough to
// identify the manager's registry key, the options themselves are not
// needed to retire it.
type DelManagerPayload struct {
	UnitCode string `json:"unitCode"`
	Name     string `json:"name"`
}

// DelDevicePayload is the "new" payload for del-device: identifies the
// device-cache triple and device id to invalidate.
type DelDevicePayload struct {
	UnitCode    string `json:"unitCode"`
	NetworkCode string `json:"networkCode"`
	NetworkAddr string `json:"networkAddr"`
	DeviceID    string `json:"deviceId"`
}

// DelDeviceBulkPayload is the "new" payload for del-device-bulk: a set of
// devices removed together, all under the same network.
type DelDeviceBulkPayload struct {
	UnitCode    string   `json:"unitCode"`
	NetworkCode string   `json:"networkCode"`
	DeviceIDs   []string `json:"deviceIds"`
}

// DelDeviceRangePayload is the "new" payload for del-device-range: an
// address-range delete, invalidated as a whole-network prefix per
// SPEC_FULL.md §4.F "Bulk/range device operations: apply the prefix rules
// once."
type DelDeviceRangePayload struct {
	UnitCode    string `json:"unitCode"`
	NetworkCode string `json:"networkCode"`
}

// DelNetworkRoutePayload is the "new" payload for del-network-route.
type DelNetworkRoutePayload struct {
	NetworkID string `json:"networkId"`
}

// DelDeviceRoutePayload is the "new" payload for del-device-route: a
// device-route add or delete invalidates the device's fan-out route cache
// without touching the device itself.
type DelDeviceRoutePayload struct {
	DeviceID string `json:"deviceId"`
}

// Handlers holds one callback per operation; a nil field means that
// operation is accepted and acked but otherwise ignored. Handlers must be
// idempotent: ordering across operations within the channel is not
// guaranteed by the transport.
type Handlers struct {
	OnAddManager      func(AddManagerPayload)
	OnDelManager      func(DelManagerPayload)
	OnDelDevice       func(DelDevicePayload)
	OnDelDeviceBulk   func(DelDeviceBulkPayload)
	OnDelDeviceRange  func(DelDeviceRangePayload)
	OnDelNetworkRoute func(DelNetworkRoutePayload)
	OnDelDeviceRoute  func(DelDeviceRoutePayload)
}

// Channel binds one broadcast reliable receive queue and dispatches
// decoded envelopes to Handlers. One Channel exists per manager kind
// (broker.ctrl.application, broker.ctrl.network) since add-manager/
// del-manager payloads are manager-kind-specific in what registry they
// touch, even though the wire envelope shape is shared.
type Channel struct {
	queue    mq.Queue
	handlers Handlers
	log      xlog.Logger
}

// New wires a Channel to an already-constructed broadcast queue (Direction
// Recv, Reliable true, Broadcast true) and registers it as the queue's
// handler. The caller owns Connect/Close on q.
func New(q mq.Queue, handlers Handlers, ll xlog.Logger) *Channel {
	if ll == nil {
		ll = xlog.Discard()
	}
	c := &Channel{queue: q, handlers: handlers, log: ll}
	q.SetHandler(c)
	return c
}

// OnStatus implements mq.Handler.
func (c *Channel) OnStatus(q mq.Queue, status mq.Status) {
	c.log.WithField("status", string(status)).Debug("control channel status")
}

// OnError implements mq.Handler.
func (c *Channel) OnError(q mq.Queue, err error) {
	c.log.WithField("error", err.Error()).Warning("control channel transport error")
}

// OnMessage implements mq.Handler: decodes the envelope and dispatches to
// the matching handler. Malformed envelopes and unknown operations are
// acked and logged without effect, never nacked, per SPEC_FULL.md §4.D.
func (c *Channel) OnMessage(q mq.Queue, msg mq.Message) {
	var env Envelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		c.log.WithField("error", err.Error()).Warning("malformed control envelope")
		_ = msg.Ack()
		return
	}

	if !c.dispatch(env) {
		c.log.WithField("operation", string(env.Operation)).Warning("unrecognized control operation")
	}
	_ = msg.Ack()
}

func (c *Channel) dispatch(env Envelope) bool {
	switch env.Operation {
	case OpAddManager:
		return decodeAndCall(env.New, c.handlers.OnAddManager, c.log)
	case OpDelManager:
		return decodeAndCall(env.New, c.handlers.OnDelManager, c.log)
	case OpDelDevice:
		return decodeAndCall(env.New, c.handlers.OnDelDevice, c.log)
	case OpDelDeviceBulk:
		return decodeAndCall(env.New, c.handlers.OnDelDeviceBulk, c.log)
	case OpDelDeviceRange:
		return decodeAndCall(env.New, c.handlers.OnDelDeviceRange, c.log)
	case OpDelNetworkRoute:
		return decodeAndCall(env.New, c.handlers.OnDelNetworkRoute, c.log)
	case OpDelDeviceRoute:
		return decodeAndCall(env.New, c.handlers.OnDelDeviceRoute, c.log)
	default:
		return false
	}
}

// decodeAndCall unmarshals raw into a T and invokes fn with it. A nil fn
// (operation not wired by this channel's owner) is treated as handled —
// the envelope is still acked, just with no effect. A decode failure is
// treated as malformed and logged, matching OnMessage's ack-without-effect
// contract.
func decodeAndCall[T any](raw json.RawMessage, fn func(T), ll xlog.Logger) bool {
	if fn == nil {
		return true
	}
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		ll.WithField("error", err.Error()).Warning("malformed control payload")
		return true
	}
	fn(payload)
	return true
}

// Publish encodes payload as the envelope's "new" field and sends it with
// op on the broadcast queue q. Used by the owning process itself to fan a CRUD-delete or
// manager-create out to its peers.
func Publish(q mq.Queue, op Operation, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := Envelope{Operation: op, New: encoded}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return q.Send(raw)
}

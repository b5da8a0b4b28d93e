// Package mgr implements the application and network managers described in
// SPEC_FULL.md §4.C: each manager owns one external host URI and a fixed
// set of queues opened through the shared connection pool, and tracks a
// small state machine driven by queue status events and explicit retire
// calls.
package mgr

import (
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/sylvia-iot/sylvia-iot-core/mq"
	"github.com/sylvia-iot/sylvia-iot-core/mq/pool"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
)

// State is a manager's lifecycle state.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateRetiring State = "retiring"
	StateRetired  State = "retired"
)

const defaultPrefetch = 100

// Options configures one manager instance; common to both Application and
// Network managers.
type Options struct {
	// UnitID is the owning unit's id. Empty for a public network manager.
	UnitID string
	// UnitCode is the owning unit's code; empty denotes a public network,
	// encoded as the literal "_" in queue names.
	UnitCode string
	// ID is the application/network id this manager represents.
	ID string
	// Name is the application/network code.
	Name string
	// Prefetch is passed to every queue as mq.Options.Prefetch (0 uses
	// defaultPrefetch); the pool-attached AMQP queues opened here do not
	// apply it.
	Prefetch int
	// Persistent requests publisher confirms / message persistence.
	Persistent bool
	// SharedPrefix is used by the MQTT binding for unicast delivery.
	SharedPrefix string
}

func (o Options) unitSegment() string {
	if o.UnitCode == "" {
		return "_"
	}
	return o.UnitCode
}

func (o Options) prefetch() int {
	if o.Prefetch > 0 {
		return o.Prefetch
	}
	return defaultPrefetch
}

// Key identifies a manager within a Registry: its kind, unit code ("_" for
// public) and application/network code.
type Key struct {
	Kind string // "application" or "network"
	Unit string
	Code string
}

func (k Key) String() string { return fmt.Sprintf("%s.%s.%s", k.Kind, k.Unit, k.Code) }

// KeyFor builds the registry key for opts under kind.
func KeyFor(kind string, opts Options) Key {
	return Key{Kind: kind, Unit: opts.unitSegment(), Code: opts.Name}
}

type queueSet struct {
	mu    sync.Mutex
	items []mq.Queue
}

func (s *queueSet) add(q mq.Queue) {
	s.mu.Lock()
	s.items = append(s.items, q)
	s.mu.Unlock()
}

func (s *queueSet) closeAll() error {
	s.mu.Lock()
	items := s.items
	s.items = nil
	s.mu.Unlock()
	var firstErr error
	for _, q := range items {
		if err := q.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// statusWatcher adapts per-queue status/error events into the manager's
// Running/Paused state machine: the manager is Running while every queue it
// owns reports Connected, and Paused as soon as any one of them doesn't.
type statusWatcher struct {
	mu       sync.Mutex
	total    int
	up       map[string]bool
	onChange func(running bool)
}

func newStatusWatcher(total int, onChange func(running bool)) *statusWatcher {
	return &statusWatcher{total: total, up: map[string]bool{}, onChange: onChange}
}

func (w *statusWatcher) set(name string, up bool) {
	w.mu.Lock()
	wasRunning := w.running()
	w.up[name] = up
	isRunning := w.running()
	w.mu.Unlock()
	if wasRunning != isRunning {
		w.onChange(isRunning)
	}
}

func (w *statusWatcher) running() bool {
	if len(w.up) < w.total {
		return false
	}
	for _, v := range w.up {
		if !v {
			return false
		}
	}
	return true
}

// Application owns the four queues fanning data between the broker and one
// application adapter: uldata (send), dldata (recv), dldata-resp (send),
// dldata-result (send).
type Application struct {
	opts    Options
	hostURI string
	log     xlog.Logger

	pl   *pool.Pool
	conn pool.Conn

	uldata       mq.Queue
	dldata       mq.Queue
	dldataResp   mq.Queue
	dldataResult mq.Queue

	mu    sync.Mutex
	state State

	watcher *statusWatcher
	queues  queueSet
}

// ApplicationHandler receives downlink requests delivered on an
// Application manager's dldata queue.
type ApplicationHandler interface {
	OnDownlink(mgr *Application, msg mq.Message)
}

// NewApplication creates an application manager and connects its queues.
func NewApplication(pl *pool.Pool, hostURI string, tlsConf *tls.Config, opts Options, handler ApplicationHandler, ll xlog.Logger) (*Application, error) {
	if ll == nil {
		ll = xlog.Discard()
	}
	a := &Application{opts: opts, hostURI: hostURI, log: ll, pl: pl, state: StateStarting}

	conn, err := pl.Get(hostURI, tlsConf)
	if err != nil {
		return nil, errors.Wrap(err, "application manager: acquire connection")
	}
	a.conn = conn

	prefix := "broker.application." + opts.unitSegment() + "." + opts.Name
	a.watcher = newStatusWatcher(4, a.setRunning)

	a.uldata, err = a.open(prefix+".uldata", mq.Options{
		Direction: mq.Send, Reliable: true, Persistent: opts.Persistent,
		Prefetch: opts.prefetch(), SharedPrefix: opts.SharedPrefix,
	}, nil)
	if err != nil {
		return nil, a.fail(err)
	}
	a.dldata, err = a.open(prefix+".dldata", mq.Options{
		Direction: mq.Recv, Reliable: true, Persistent: opts.Persistent,
		Prefetch: opts.prefetch(), SharedPrefix: opts.SharedPrefix,
	}, &delegatingHandler{onMessage: func(q mq.Queue, m mq.Message) {
		if handler != nil {
			handler.OnDownlink(a, m)
		}
	}, onStatus: a.onQueueStatus(prefix + ".dldata")})
	if err != nil {
		return nil, a.fail(err)
	}
	a.dldataResp, err = a.open(prefix+".dldata-resp", mq.Options{
		Direction: mq.Send, Reliable: true, Persistent: opts.Persistent,
		Prefetch: opts.prefetch(),
	}, nil)
	if err != nil {
		return nil, a.fail(err)
	}
	a.dldataResult, err = a.open(prefix+".dldata-result", mq.Options{
		Direction: mq.Send, Reliable: true, Persistent: opts.Persistent,
		Prefetch: opts.prefetch(),
	}, nil)
	if err != nil {
		return nil, a.fail(err)
	}
	return a, nil
}

func (a *Application) fail(err error) error {
	_ = a.queues.closeAll()
	_ = a.pl.Put(a.hostURI)
	return err
}

func (a *Application) open(name string, opts mq.Options, handler mq.Handler) (mq.Queue, error) {
	opts.Name = name
	q, err := a.conn.NewQueue(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open queue %q", name)
	}
	if handler == nil {
		handler = &delegatingHandler{onStatus: a.onQueueStatus(name)}
	}
	q.SetHandler(handler)
	if err := q.Connect(); err != nil {
		return nil, errors.Wrapf(err, "connect queue %q", name)
	}
	a.queues.add(q)
	return q, nil
}

func (a *Application) onQueueStatus(name string) func(mq.Queue, mq.Status) {
	return func(_ mq.Queue, status mq.Status) {
		a.watcher.set(name, status == mq.StatusConnected)
	}
}

func (a *Application) setRunning(running bool) {
	a.mu.Lock()
	if a.state == StateRetiring || a.state == StateRetired {
		a.mu.Unlock()
		return
	}
	if running {
		a.state = StateRunning
	} else {
		a.state = StatePaused
	}
	a.mu.Unlock()
}

// State returns the manager's current lifecycle state.
func (a *Application) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Key returns this manager's registry key.
func (a *Application) Key() Key { return KeyFor("application", a.opts) }

// UnitID returns the owning unit's id.
func (a *Application) UnitID() string { return a.opts.UnitID }

// UnitCode returns the owning unit's code (never empty: applications are
// always unit-owned).
func (a *Application) UnitCode() string { return a.opts.UnitCode }

// ID returns the application id this manager represents.
func (a *Application) ID() string { return a.opts.ID }

// Code returns the application code this manager represents.
func (a *Application) Code() string { return a.opts.Name }

// Uplink publishes an uplink delivery to the adapter's uldata queue.
func (a *Application) Uplink(payload []byte) error { return a.uldata.Send(payload) }

// DownlinkResp publishes to the adapter's dldata-resp queue.
func (a *Application) DownlinkResp(payload []byte) error { return a.dldataResp.Send(payload) }

// DownlinkResult publishes to the adapter's dldata-result queue.
func (a *Application) DownlinkResult(payload []byte) error { return a.dldataResult.Send(payload) }

// Retire closes every queue this manager owns and releases the pool
// reference. Idempotent.
func (a *Application) Retire() error {
	a.mu.Lock()
	if a.state == StateRetired {
		a.mu.Unlock()
		return nil
	}
	a.state = StateRetiring
	a.mu.Unlock()

	err := a.queues.closeAll()
	putErr := a.pl.Put(a.hostURI)

	a.mu.Lock()
	a.state = StateRetired
	a.mu.Unlock()

	if err != nil {
		return err
	}
	return putErr
}

// Network owns the four queues fanning data between the broker and one
// network adapter: uldata (recv), dldata (send), dldata-result (recv),
// ctrl (send).
type Network struct {
	opts    Options
	hostURI string
	log     xlog.Logger

	pl   *pool.Pool
	conn pool.Conn

	uldata       mq.Queue
	dldata       mq.Queue
	dldataResult mq.Queue
	ctrl         mq.Queue

	mu    sync.Mutex
	state State

	watcher *statusWatcher
	queues  queueSet
}

// NetworkHandler receives uplink and downlink-result deliveries from a
// Network manager's uldata and dldata-result queues.
type NetworkHandler interface {
	OnUplink(mgr *Network, msg mq.Message)
	OnDownlinkResult(mgr *Network, msg mq.Message)
}

// NewNetwork creates a network manager and connects its queues.
func NewNetwork(pl *pool.Pool, hostURI string, tlsConf *tls.Config, opts Options, handler NetworkHandler, ll xlog.Logger) (*Network, error) {
	if ll == nil {
		ll = xlog.Discard()
	}
	n := &Network{opts: opts, hostURI: hostURI, log: ll, pl: pl, state: StateStarting}

	conn, err := pl.Get(hostURI, tlsConf)
	if err != nil {
		return nil, errors.Wrap(err, "network manager: acquire connection")
	}
	n.conn = conn

	prefix := "broker.network." + opts.unitSegment() + "." + opts.Name
	n.watcher = newStatusWatcher(4, n.setRunning)

	n.uldata, err = n.open(prefix+".uldata", mq.Options{
		Direction: mq.Recv, Reliable: true, Persistent: opts.Persistent,
		Prefetch: opts.prefetch(), SharedPrefix: opts.SharedPrefix,
	}, &delegatingHandler{onMessage: func(q mq.Queue, m mq.Message) {
		if handler != nil {
			handler.OnUplink(n, m)
		}
	}, onStatus: n.onQueueStatus(prefix + ".uldata")})
	if err != nil {
		return nil, n.fail(err)
	}
	n.dldata, err = n.open(prefix+".dldata", mq.Options{
		Direction: mq.Send, Reliable: true, Persistent: opts.Persistent,
		Prefetch: opts.prefetch(),
	}, nil)
	if err != nil {
		return nil, n.fail(err)
	}
	n.dldataResult, err = n.open(prefix+".dldata-result", mq.Options{
		Direction: mq.Recv, Reliable: true, Persistent: opts.Persistent,
		Prefetch: opts.prefetch(), SharedPrefix: opts.SharedPrefix,
	}, &delegatingHandler{onMessage: func(q mq.Queue, m mq.Message) {
		if handler != nil {
			handler.OnDownlinkResult(n, m)
		}
	}, onStatus: n.onQueueStatus(prefix + ".dldata-result")})
	if err != nil {
		return nil, n.fail(err)
	}
	n.ctrl, err = n.open(prefix+".ctrl", mq.Options{
		Direction: mq.Send, Reliable: true, Persistent: opts.Persistent,
		Prefetch: opts.prefetch(),
	}, nil)
	if err != nil {
		return nil, n.fail(err)
	}
	return n, nil
}

func (n *Network) fail(err error) error {
	_ = n.queues.closeAll()
	_ = n.pl.Put(n.hostURI)
	return err
}

func (n *Network) open(name string, opts mq.Options, handler mq.Handler) (mq.Queue, error) {
	opts.Name = name
	q, err := n.conn.NewQueue(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open queue %q", name)
	}
	if handler == nil {
		handler = &delegatingHandler{onStatus: n.onQueueStatus(name)}
	}
	q.SetHandler(handler)
	if err := q.Connect(); err != nil {
		return nil, errors.Wrapf(err, "connect queue %q", name)
	}
	n.queues.add(q)
	return q, nil
}

func (n *Network) onQueueStatus(name string) func(mq.Queue, mq.Status) {
	return func(_ mq.Queue, status mq.Status) {
		n.watcher.set(name, status == mq.StatusConnected)
	}
}

func (n *Network) setRunning(running bool) {
	n.mu.Lock()
	if n.state == StateRetiring || n.state == StateRetired {
		n.mu.Unlock()
		return
	}
	if running {
		n.state = StateRunning
	} else {
		n.state = StatePaused
	}
	n.mu.Unlock()
}

// State returns the manager's current lifecycle state.
func (n *Network) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Key returns this manager's registry key.
func (n *Network) Key() Key { return KeyFor("network", n.opts) }

// UnitID returns the owning unit's id; empty for a public network.
func (n *Network) UnitID() string { return n.opts.UnitID }

// UnitCode returns the owning unit's code; empty for a public network.
func (n *Network) UnitCode() string { return n.opts.UnitCode }

// ID returns the network id this manager represents.
func (n *Network) ID() string { return n.opts.ID }

// Code returns the network code this manager represents.
func (n *Network) Code() string { return n.opts.Name }

// Downlink publishes to the adapter's dldata queue.
func (n *Network) Downlink(payload []byte) error { return n.dldata.Send(payload) }

// Ctrl publishes a control message to the adapter's ctrl queue.
func (n *Network) Ctrl(payload []byte) error { return n.ctrl.Send(payload) }

// Retire closes every queue this manager owns and releases the pool
// reference. Idempotent.
func (n *Network) Retire() error {
	n.mu.Lock()
	if n.state == StateRetired {
		n.mu.Unlock()
		return nil
	}
	n.state = StateRetiring
	n.mu.Unlock()

	err := n.queues.closeAll()
	putErr := n.pl.Put(n.hostURI)

	n.mu.Lock()
	n.state = StateRetired
	n.mu.Unlock()

	if err != nil {
		return err
	}
	return putErr
}

// delegatingHandler adapts mq.Handler to plain function fields so each
// queue can wire only the callbacks it needs.
type delegatingHandler struct {
	onMessage func(mq.Queue, mq.Message)
	onStatus  func(mq.Queue, mq.Status)
	onError   func(mq.Queue, error)
}

func (h *delegatingHandler) OnStatus(q mq.Queue, s mq.Status) {
	if h.onStatus != nil {
		h.onStatus(q, s)
	}
}

func (h *delegatingHandler) OnError(q mq.Queue, err error) {
	if h.onError != nil {
		h.onError(q, err)
	}
}

func (h *delegatingHandler) OnMessage(q mq.Queue, m mq.Message) {
	if h.onMessage != nil {
		h.onMessage(q, m)
	}
}

// Registry tracks every live manager keyed by (kind, unit code, code). The
// routing engine is the sole owner: it creates managers from the startup
// scan of the database and from add-manager control messages, and retires
// them on del-manager or CRUD delete.
type Registry struct {
	mu       sync.RWMutex
	apps     map[Key]*Application
	nets     map[Key]*Network
	appOrder []Key
	netOrder []Key
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{apps: map[Key]*Application{}, nets: map[Key]*Network{}}
}

// Application returns the application manager for key, if any.
func (r *Registry) Application(key Key) (*Application, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.apps[key]
	return a, ok
}

// Network returns the network manager for key, if any.
func (r *Registry) Network(key Key) (*Network, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nets[key]
	return n, ok
}

// AddApplication registers mgr, replacing (and retiring) any manager
// already registered under the same key. Create is idempotent at the
// caller: this method only stores what's given.
func (r *Registry) AddApplication(mgr *Application) {
	r.mu.Lock()
	old := r.apps[mgr.Key()]
	r.apps[mgr.Key()] = mgr
	if old == nil {
		r.appOrder = append(r.appOrder, mgr.Key())
	}
	r.mu.Unlock()
	if old != nil && old != mgr {
		_ = old.Retire()
	}
}

// AddNetwork registers mgr, replacing (and retiring) any manager already
// registered under the same key.
func (r *Registry) AddNetwork(mgr *Network) {
	r.mu.Lock()
	old := r.nets[mgr.Key()]
	r.nets[mgr.Key()] = mgr
	if old == nil {
		r.netOrder = append(r.netOrder, mgr.Key())
	}
	r.mu.Unlock()
	if old != nil && old != mgr {
		_ = old.Retire()
	}
}

// RemoveApplication retires and unregisters the application manager for
// key, if present. Idempotent.
func (r *Registry) RemoveApplication(key Key) error {
	r.mu.Lock()
	a, ok := r.apps[key]
	delete(r.apps, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return a.Retire()
}

// RemoveNetwork retires and unregisters the network manager for key, if
// present. Idempotent.
func (r *Registry) RemoveNetwork(key Key) error {
	r.mu.Lock()
	n, ok := r.nets[key]
	delete(r.nets, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return n.Retire()
}

// Applications returns a snapshot of every registered application manager.
func (r *Registry) Applications() []*Application {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Application, 0, len(r.apps))
	for _, a := range r.apps {
		out = append(out, a)
	}
	return out
}

// Networks returns a snapshot of every registered network manager.
func (r *Registry) Networks() []*Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Network, 0, len(r.nets))
	for _, n := range r.nets {
		out = append(out, n)
	}
	return out
}

// Shutdown retires every manager in reverse creation order, applications
// first and then networks, per spec.md §5. Errors are collected and logged
// by the caller rather than aborting partway, since one manager's close
// failure shouldn't strand the rest.
func (r *Registry) Shutdown() []error {
	r.mu.Lock()
	appOrder := r.appOrder
	netOrder := r.netOrder
	r.appOrder = nil
	r.netOrder = nil
	r.mu.Unlock()

	var errs []error
	for i := len(appOrder) - 1; i >= 0; i-- {
		if err := r.RemoveApplication(appOrder[i]); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(netOrder) - 1; i >= 0; i-- {
		if err := r.RemoveNetwork(netOrder[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

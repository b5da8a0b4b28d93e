// Package audit implements coremgr's audit emitter. Every HTTP call
// coremgr proxies to an external broker produces a canonical "operation"
// record on the coremgr.data queue, per spec.md §4.H ("every coremgr HTTP
// call produces a canonical JSON record"). This duplicates rather than
// imports broker/internal/audit.Emitter for the same internal-package
// visibility reason noted in data/internal/models: coremgr is a sibling
// top-level service to broker, not a broker component. Only the
// "operation" kind is needed here, so the duplicate is a single-kind
// trim of the broker emitter rather than a full copy.
package audit

import (
	"encoding/json"
	"time"

	lib "github.com/prometheus/client_golang/prometheus"

	"github.com/sylvia-iot/sylvia-iot-core/mq"
	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
)

const maxRetries = 2

// Record is the canonical {"kind","data"} envelope spec.md §4.H describes.
// coremgr only ever emits the "operation" kind.
type Record struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// Emitter wraps coremgr's reliable unicast audit queue (coremgr.data).
type Emitter struct {
	queue   mq.Queue
	log     xlog.Logger
	dropped lib.Counter
}

// NewCounter builds the drop counter Emitter expects, registered against
// reg. Callers typically pass metrics.Operator.Registry().
func NewCounter(reg *lib.Registry) (lib.Counter, error) {
	c := lib.NewCounter(lib.CounterOpts{
		Name: "sylvia_iot_coremgr_audit_dropped_total",
		Help: "Audit records dropped after exhausting the retry budget.",
	})
	if err := reg.Register(c); err != nil {
		if already, ok := err.(lib.AlreadyRegisteredError); ok {
			return already.ExistingCollector.(lib.Counter), nil
		}
		return nil, err
	}
	return c, nil
}

// New wires an Emitter to an already-connected send queue. dropped may be
// nil, in which case drops are logged but not counted.
func New(q mq.Queue, dropped lib.Counter, ll xlog.Logger) *Emitter {
	if ll == nil {
		ll = xlog.Discard()
	}
	if dropped == nil {
		dropped = lib.NewCounter(lib.CounterOpts{Name: "sylvia_iot_coremgr_audit_dropped_total_unregistered"})
	}
	return &Emitter{queue: q, log: ll, dropped: dropped}
}

// Emit marshals {"kind":"operation","data":data} and sends it, retrying
// up to maxRetries times (sleeping backoff(attempt) between attempts)
// before dropping the record. Never
// returns an error: the live proxy path is never blocked by an audit
// failure.
func (e *Emitter) Emit(data any) {
	raw, err := json.Marshal(Record{Kind: "operation", Data: data})
	if err != nil {
		e.log.WithField("error", err.Error()).Error("audit record is not serializable")
		e.dropped.Inc()
		return
	}

	var sendErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if sendErr = e.queue.Send(raw); sendErr == nil {
			return
		}
		if attempt < maxRetries {
			time.Sleep(backoff(attempt))
		}
	}
	e.log.WithField("error", sendErr.Error()).Warning("dropping audit record after exhausting retry budget")
	e.dropped.Inc()
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * 10 * time.Millisecond
}

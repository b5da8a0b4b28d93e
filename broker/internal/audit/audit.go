// Package audit implements the broker's audit emitter: every uplink,
// downlink, result and control event produces a canonical JSON record
// appended to a reliable unicast queue, per SPEC_FULL.md §4.H. Emission is
// best-effort — a send failure is retried a bounded number of times and
// then dropped, counted, and otherwise ignored, since audit must never
// block the live routing path.
package audit

import (
	"encoding/json"
	"time"

	lib "github.com/prometheus/client_golang/prometheus"

	"github.com/sylvia-iot/sylvia-iot-core/mq"
	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
)

// Kind tags one audit record's shape, per spec.md §4.H.
type Kind string

const (
	KindOperation               Kind = "operation"
	KindApplicationUlData       Kind = "application-uldata"
	KindApplicationDlData       Kind = "application-dldata"
	KindApplicationDlDataResult Kind = "application-dldata-result"
	KindNetworkUlData           Kind = "network-uldata"
	KindNetworkDlData           Kind = "network-dldata"
	KindNetworkDlDataResult     Kind = "network-dldata-result"
)

// maxRetries bounds how many resend attempts (each after a short
// exponential backoff) a single Emit call makes before giving up and counting the record as dropped. Audit is
// explicitly best-effort (spec.md §4.H): it must never block, let alone
// retry indefinitely, against the live path.
const maxRetries = 2

// Record is the canonical {"kind","data"} envelope spec.md §4.H describes.
type Record struct {
	Kind Kind `json:"kind"`
	Data any  `json:"data"`
}

// Emitter wraps one reliable unicast queue (broker.data or coremgr.data).
type Emitter struct {
	queue   mq.Queue
	log     xlog.Logger
	dropped lib.Counter
}

// NewCounter builds the drop counter Emitter expects, registered against
// reg. Callers typically pass metrics.Operator.Registry().
func NewCounter(reg *lib.Registry, queueName string) (lib.Counter, error) {
	c := lib.NewCounter(lib.CounterOpts{
		Name:        "sylvia_iot_broker_audit_dropped_total",
		Help:        "Audit records dropped after exhausting the retry budget.",
		ConstLabels: lib.Labels{"queue": queueName},
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
		dropped = lib.NewCounter(lib.CounterOpts{Name: "sylvia_iot_broker_audit_dropped_total_unregistered"})
	}
	return &Emitter{queue: q, log: ll, dropped: dropped}
}

// Emit marshals {kind, data} and sends it, retrying up to maxRetries times
// on failure (sleeping backoff(attempt) between attempts) before dropping
// the record. Never returns an
// error: callers on the live path are never blocked or short-circuited by
// an audit failure.
func (e *Emitter) Emit(kind Kind, data any) {
	raw, err := json.Marshal(Record{Kind: kind, Data: data})
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
	e.log.WithFields(map[string]any{
		"kind":  string(kind),
		"error": sendErr.Error(),
	}).Warning("dropping audit record after exhausting retry budget")
	e.dropped.Inc()
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * 10 * time.Millisecond
}

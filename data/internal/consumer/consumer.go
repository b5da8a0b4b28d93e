// Package consumer implements the archive service's audit intake: a
// mq.Handler that decodes the canonical {"kind","data"} envelope
// (spec.md §4.H) off a reliable unicast queue (broker.data or
// coremgr.data) and persists it via models.RecordRepo. Malformed
// payloads are logged and acked rather than nacked, to avoid a poison
// message looping forever per spec.md §OUT-OF-SCOPE error propagation
// rules; transient storage faults are nacked with requeue so the
// producer's retry/backoff budget gets another attempt.
package consumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sylvia-iot/sylvia-iot-core/data/internal/models"
	"github.com/sylvia-iot/sylvia-iot-core/mq"
	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
)

// envelope mirrors broker/internal/audit.Record's wire shape without
// importing it (see models.go's internal-visibility note).
type envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Consumer wires one source queue to a RecordRepo.
type Consumer struct {
	repo   models.RecordRepo
	source string
	log    xlog.Logger
}

// New builds a Consumer. source identifies which producer the queue
// carries ("broker.data" or "coremgr.data"), stamped onto every
// persisted Record.
func New(repo models.RecordRepo, source string, ll xlog.Logger) *Consumer {
	if ll == nil {
		ll = xlog.Discard()
	}
	return &Consumer{repo: repo, source: source, log: ll}
}

func (c *Consumer) OnStatus(q mq.Queue, status mq.Status) {
	c.log.WithFields(map[string]any{"queue": q.Name(), "status": string(status)}).Info("audit queue status changed")
}

func (c *Consumer) OnError(q mq.Queue, err error) {
	c.log.WithFields(map[string]any{"queue": q.Name(), "error": err.Error()}).Warning("audit queue error")
}

func (c *Consumer) OnMessage(q mq.Queue, msg mq.Message) {
	var env envelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		c.log.WithField("error", err.Error()).Warning("dropping malformed audit record")
		_ = msg.Ack()
		return
	}

	rec := models.Record{
		Kind:       env.Kind,
		Data:       env.Data,
		Source:     c.source,
		ReceivedAt: time.Now().UTC(),
	}
	if err := c.repo.Add(context.Background(), rec); err != nil {
		c.log.WithField("error", err.Error()).Warning("failed to persist audit record, requeueing")
		_ = msg.Nack(true)
		return
	}
	_ = msg.Ack()
}

// Package mq provides a transport-agnostic messaging abstraction used by
// every component that needs to exchange data with an external AMQP or
// MQTT broker: a single Queue type exposing connect/close/send and a
// message-receive callback, regardless of which wire protocol backs it.
//
// A Queue is always created in one of two directions (send or recv) and
// combines two independent axes of behavior: reliability (acknowledged
// delivery vs. fire-and-forget) and fan-out (unicast vs. broadcast). The
// concrete bindings for each combination are described in the amqpmq and
// mqttmq sub-packages.
package mq

import (
	"regexp"

	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
)

// Direction indicates whether a Queue instance sends or receives messages.
type Direction string

const (
	// Send queues publish messages to the broker.
	Send Direction = "send"

	// Recv queues subscribe to receive messages from the broker.
	Recv Direction = "recv"
)

// Status values describe the lifecycle of the underlying transport
// connection for a Queue instance.
type Status string

const (
	StatusClosed       Status = "closed"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusClosing      Status = "closing"
)

// Common errors returned by Queue operations.
var (
	ErrQueueIsReceiver = errors.New("QueueIsReceiver")
	ErrNotConnected    = errors.New("NotConnected")
	ErrInvalidName     = errors.New("InvalidName")
	ErrHandlerRequired = errors.New("receive handler must be set before connect")
)

// nameRegexp matches valid queue/exchange/topic names:
// lowercase alphanumerics, hyphen and underscore, dot-separated segments.
var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*(\.[a-z0-9][a-z0-9_-]*)*$`)

// ValidateName returns ErrInvalidName if name does not match the queue
// naming convention used across the platform.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return errors.Wrapf(ErrInvalidName, "invalid queue name %q", name)
	}
	return nil
}

// Options configure a single Queue instance.
type Options struct {
	// Name of the queue/topic. Must satisfy ValidateName.
	Name string

	// Direction the queue operates in.
	Direction Direction

	// Reliable enables acknowledged delivery (AMQP manual ack / MQTT QoS 1).
	// When false, delivery is best-effort (AMQP auto-ack / MQTT QoS 0).
	Reliable bool

	// Broadcast fans the message out to every consumer instead of
	// distributing it to exactly one (AMQP fanout exchange / MQTT plain
	// topic vs. shared-subscription prefix).
	Broadcast bool

	// Persistent requests publisher confirms (AMQP) and message
	// persistence across broker restarts.
	Persistent bool

	// Prefetch bounds the number of unacknowledged in-flight deliveries
	// per consumer. AMQP only; ignored by the MQTT binding. Defaults to
	// 100 when zero and Direction is Recv. Applied only by queues that
	// dial their own connection (amqpmq.New); queues attached to a pooled
	// connection (amqpmq.Attach) ignore it and use the shared consumer
	// channel's prefetch.
	Prefetch int

	// SharedPrefix is used by the MQTT binding to implement unicast
	// delivery across multiple consumers via shared subscriptions.
	SharedPrefix string
}

// Message represents one delivery received on a Recv queue.
type Message interface {
	// Payload returns the raw message bytes.
	Payload() []byte

	// Ack acknowledges successful processing of the message.
	Ack() error

	// Nack signals failed processing; depending on the binding the
	// message may be requeued or dropped.
	Nack(requeue bool) error
}

// Handler receives lifecycle and data events for a Queue.
type Handler interface {
	// OnStatus is invoked whenever the queue's connection status changes.
	OnStatus(q Queue, status Status)

	// OnError is invoked when the underlying transport reports an error
	// that does not necessarily change the connection status.
	OnError(q Queue, err error)

	// OnMessage is invoked for every delivery received on a Recv queue.
	OnMessage(q Queue, msg Message)
}

// Queue is the uniform interface every transport binding must implement.
type Queue interface {
	// Connect opens the underlying transport connection/channel and,
	// for Recv queues, starts delivering messages to the registered
	// Handler. SetHandler must be called before Connect when Direction
	// is Recv.
	Connect() error

	// Close tears down the queue. It does not touch the connection pool:
	// a reference taken with Pool.Get is released by the caller with
	// Pool.Put.
	Close() error

	// Send publishes payload. Returns ErrQueueIsReceiver if the queue was
	// created with Direction Recv, and ErrNotConnected if not currently
	// connected.
	Send(payload []byte) error

	// SetHandler registers the callback invoked for status, error and
	// message events. Must be called before Connect.
	SetHandler(h Handler)

	// Status returns the current connection status.
	Status() Status

	// Name returns the queue name.
	Name() string
}

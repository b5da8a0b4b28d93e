/*
Package mqttmq implements the mq.Queue contract over MQTT 3.1.1, using
github.com/eclipse/paho.mqtt.golang.

Reliable queues publish/subscribe at QoS 1 and map message acknowledgement onto
PUBACK; best-effort queues use QoS 0, where Ack/Nack are no-ops. Unicast
delivery uses the broker's shared-subscription syntax ($share/{prefix}/topic)
so that exactly one subscriber among those sharing a prefix receives each
message; broadcast delivery subscribes to the raw topic so every subscriber
receives a copy.
*/
package mqttmq

import (
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sylvia-iot/sylvia-iot-core/mq"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
)

const (
	qosBestEffort = 0
	qosReliable   = 1

	connectTimeout   = 30 * time.Second
	reconnectMaxWait = 30 * time.Second
)

// Queue implements mq.Queue over an MQTT 3.1.1 broker.
//
//   - reliable: QoS 1 publish/subscribe; Ack/Nack map onto PUBACK (Nack with
//     requeue=true simply skips the ack, relying on broker redelivery).
//   - best-effort: QoS 0; Ack/Nack are no-ops.
//   - unicast: subscribes under "$share/{shared_prefix}/{name}" so only one
//     member of the group receives each message.
//   - broadcast: subscribes to the raw topic "{name}" so every subscriber
//     receives every message.
type Queue struct {
	opts     mq.Options
	broker   string
	tlsConf  *tls.Config
	clientID string
	log      xlog.Logger

	shared bool

	mu      sync.Mutex
	status  mq.Status
	handler mq.Handler
	client  paho.Client
}

// New returns an unconnected MQTT-backed queue. tlsConf may be nil for a
// plain "tcp://" broker URI; provide one to dial "ssl://" / "tls://" brokers.
func New(broker string, opts mq.Options, tlsConf *tls.Config, ll xlog.Logger) (*Queue, error) {
	if err := mq.ValidateName(opts.Name); err != nil {
		return nil, err
	}
	if opts.Direction == mq.Recv && opts.Broadcast == false && opts.SharedPrefix == "" {
		return nil, errors.New("unicast MQTT queues require a shared_prefix")
	}
	if ll == nil {
		ll = xlog.Discard()
	}
	return &Queue{
		opts:     opts,
		broker:   broker,
		tlsConf:  tlsConf,
		clientID: fmt.Sprintf("%s-%x", opts.Name, randSuffix()),
		log:      ll,
		status:   mq.StatusClosed,
	}, nil
}

// Attach returns an unconnected MQTT-backed queue that subscribes/publishes
// over an already-connected shared client instead of dialing its own. This
// is how mq/pool shares one physical MQTT connection across every mq.Queue
// opened against the same broker URI, since a single paho.Client can carry
// an arbitrary number of subscriptions.
func Attach(client paho.Client, opts mq.Options, ll xlog.Logger) (*Queue, error) {
	if err := mq.ValidateName(opts.Name); err != nil {
		return nil, err
	}
	if opts.Direction == mq.Recv && !opts.Broadcast && opts.SharedPrefix == "" {
		return nil, errors.New("unicast MQTT queues require a shared_prefix")
	}
	if ll == nil {
		ll = xlog.Discard()
	}
	return &Queue{
		opts:   opts,
		shared: true,
		client: client,
		log:    ll,
		status: mq.StatusClosed,
	}, nil
}

func (q *Queue) Name() string { return q.opts.Name }

func (q *Queue) Status() mq.Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

func (q *Queue) SetHandler(h mq.Handler) {
	q.mu.Lock()
	q.handler = h
	q.mu.Unlock()
}

func (q *Queue) setStatus(s mq.Status) {
	q.mu.Lock()
	q.status = s
	h := q.handler
	q.mu.Unlock()
	if h != nil {
		h.OnStatus(q, s)
	}
}

func (q *Queue) notifyError(err error) {
	q.mu.Lock()
	h := q.handler
	q.mu.Unlock()
	if h != nil {
		h.OnError(q, err)
	}
}

// qos returns the QoS level for this queue's reliability setting.
func (q *Queue) qos() byte {
	if q.opts.Reliable {
		return qosReliable
	}
	return qosBestEffort
}

// subscribeTopic returns the topic filter this queue subscribes on. Unicast
// queues subscribe under a shared-subscription group so only one consumer
// sharing the prefix receives a given message; broadcast queues subscribe to
// the bare topic so every consumer receives every message.
func (q *Queue) subscribeTopic() string {
	if q.opts.Broadcast {
		return q.opts.Name
	}
	return fmt.Sprintf("$share/%s/%s", q.opts.SharedPrefix, q.opts.Name)
}

// Connect dials the broker and, for receiver-direction queues, subscribes.
func (q *Queue) Connect() error {
	if q.opts.Direction == mq.Recv {
		q.mu.Lock()
		h := q.handler
		q.mu.Unlock()
		if h == nil {
			return mq.ErrHandlerRequired
		}
	}

	q.setStatus(mq.StatusConnecting)

	if q.shared {
		q.setStatus(mq.StatusConnected)
		if q.opts.Direction == mq.Recv {
			topic := q.subscribeTopic()
			if t := q.client.Subscribe(topic, q.qos(), q.onMessage); t.Wait() && t.Error() != nil {
				q.setStatus(mq.StatusClosed)
				return t.Error()
			}
		}
		return nil
	}

	co := paho.NewClientOptions()
	co.AddBroker(q.broker)
	co.SetClientID(q.clientID)
	if q.tlsConf != nil {
		co.SetTLSConfig(q.tlsConf)
	}
	co.SetConnectTimeout(connectTimeout)
	co.SetAutoReconnect(true)
	co.SetMaxReconnectInterval(reconnectMaxWait)
	co.SetCleanSession(true)
	co.SetOnConnectHandler(q.onConnect)
	co.SetConnectionLostHandler(q.onConnectionLost)
	co.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		q.setStatus(mq.StatusConnecting)
	})

	client := paho.NewClient(co)
	if t := client.Connect(); t.Wait() && t.Error() != nil {
		q.setStatus(mq.StatusClosed)
		return t.Error()
	}
	q.mu.Lock()
	q.client = client
	q.mu.Unlock()
	return nil
}

func (q *Queue) onConnect(c paho.Client) {
	q.setStatus(mq.StatusConnected)
	if q.opts.Direction != mq.Recv {
		return
	}
	topic := q.subscribeTopic()
	if t := c.Subscribe(topic, q.qos(), q.onMessage); t.Wait() && t.Error() != nil {
		q.notifyError(t.Error())
	}
}

func (q *Queue) onConnectionLost(_ paho.Client, err error) {
	q.setStatus(mq.StatusDisconnected)
	q.notifyError(err)
}

func (q *Queue) onMessage(_ paho.Client, m paho.Message) {
	q.mu.Lock()
	h := q.handler
	q.mu.Unlock()
	if h == nil {
		return
	}
	h.OnMessage(q, &delivery{m: m, reliable: q.opts.Reliable})
}

// Send publishes payload on the queue's topic. Unicast and broadcast queues
// both publish to the bare topic name: the shared-subscription syntax only
// applies to the receiving side.
func (q *Queue) Send(payload []byte) error {
	if q.opts.Direction != mq.Send {
		return mq.ErrQueueIsReceiver
	}
	q.mu.Lock()
	c := q.client
	status := q.status
	q.mu.Unlock()
	if c == nil || status != mq.StatusConnected {
		return mq.ErrNotConnected
	}

	t := c.Publish(q.opts.Name, q.qos(), false, payload)
	if q.opts.Reliable {
		t.Wait()
		return t.Error()
	}
	return nil
}

// Close tears down the queue. For a dial-of-its-own queue this disconnects
// the underlying client; for a pool-attached queue the shared client
// outlives it, so Close only unsubscribes this queue's topic (the pool
// disconnects the shared client once its last attached queue goes away).
func (q *Queue) Close() error {
	q.setStatus(mq.StatusClosing)
	q.mu.Lock()
	c, shared := q.client, q.shared
	if !shared {
		q.client = nil
	}
	q.mu.Unlock()

	var err error
	switch {
	case shared && q.opts.Direction == mq.Recv:
		if t := c.Unsubscribe(q.subscribeTopic()); t.Wait() {
			err = t.Error()
		}
	case !shared && c != nil && c.IsConnected():
		c.Disconnect(250)
	}
	q.setStatus(mq.StatusClosed)
	return err
}

// delivery adapts a paho.Message to mq.Message. At QoS 0 the underlying
// client never waits for an application ack, so Ack/Nack are no-ops; at
// QoS 1 paho.Message.Ack() sends the PUBACK.
type delivery struct {
	m        paho.Message
	reliable bool
}

func (d *delivery) Payload() []byte { return d.m.Payload() }

func (d *delivery) Ack() error {
	if d.reliable {
		d.m.Ack()
	}
	return nil
}

// Nack leaves the message unacknowledged so the broker redelivers it on
// reconnect; requeue has no distinct meaning over MQTT (the broker owns
// redelivery), it is accepted only to satisfy mq.Message.
func (d *delivery) Nack(requeue bool) error {
	return nil
}

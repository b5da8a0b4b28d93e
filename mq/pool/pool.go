// Package pool maintains a process-wide, reference-counted map from broker
// host URI to the single physical transport connection shared by every
// mq.Queue opened against that URI, so that N logical queues against the
// same broker never open N physical connections.
//
// The scheme of the URI selects the transport: "amqp"/"amqps" dials one
// shared amqpmq.Publisher and one shared amqpmq.Consumer (one connection
// each, since publishing and consuming use independent AMQP channels in this
// package); "mqtt"/"mqtts"/"tcp"/"ssl"/"tls" dial one shared paho.Client.
// Each call to Get increments the entry's reference count; Put decrements it
// and tears the connection down once the count reaches zero.
package pool

import (
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sylvia-iot/sylvia-iot-core/mq"
	"github.com/sylvia-iot/sylvia-iot-core/mq/amqpmq"
	"github.com/sylvia-iot/sylvia-iot-core/mq/mqttmq"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
)

// Conn is the shared resource backing every mq.Queue opened against one
// host URI. NewQueue constructs a Queue attached to this connection; it does
// not itself count as a reference (references are taken by Pool.Get, and
// each Get is paired with exactly one Pool.Put once the queues opened on it
// are closed).
type Conn interface {
	// NewQueue returns a Queue multiplexed over this shared connection.
	NewQueue(opts mq.Options) (mq.Queue, error)

	// close tears down the physical connection. Only called by the pool
	// once an entry's reference count reaches zero.
	close() error
}

// Pool is a URI-keyed, reference-counted registry of shared connections.
// The zero value is not usable; use New.
type Pool struct {
	log xlog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	conn Conn
	refs int
}

// New returns an empty pool. ll may be nil.
func New(ll xlog.Logger) *Pool {
	if ll == nil {
		ll = xlog.Discard()
	}
	return &Pool{log: ll, entries: make(map[string]*entry)}
}

// Get returns the shared connection for uri, dialing one if this is the
// first caller to reference it, and increments its reference count. tlsConf
// is only consulted the first time a given uri is dialed; later callers
// share whatever connection is already open. Every successful Get must be
// matched by exactly one Put.
func (p *Pool) Get(uri string, tlsConf *tls.Config) (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[uri]; ok {
		e.refs++
		return e.conn, nil
	}

	conn, err := dial(uri, tlsConf, p.log)
	if err != nil {
		return nil, err
	}
	p.entries[uri] = &entry{conn: conn, refs: 1}
	return conn, nil
}

// Put releases one reference to the connection backing uri. When the last
// reference is released the connection is closed and removed from the pool.
func (p *Pool) Put(uri string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[uri]
	if !ok {
		return nil
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	delete(p.entries, uri)
	return e.conn.close()
}

// Size returns the number of distinct host URIs currently pooled. Exposed
// for tests and diagnostics.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func dial(uri string, tlsConf *tls.Config, ll xlog.Logger) (Conn, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid broker uri %q", uri)
	}

	switch u.Scheme {
	case "amqp", "amqps":
		return dialAMQP(uri, tlsConf, ll)
	case "mqtt", "mqtts", "tcp", "ssl", "tls":
		return dialMQTT(uri, tlsConf, ll)
	default:
		return nil, errors.New(fmt.Sprintf("unsupported broker scheme %q", u.Scheme))
	}
}

func poolClientID() string {
	seed := make([]byte, 4)
	_, _ = rand.Read(seed)
	return fmt.Sprintf("pool-%x", seed)
}

type amqpConn struct {
	addr string
	pub  *amqpmq.Publisher
	con  *amqpmq.Consumer
	log  xlog.Logger
}

func dialAMQP(addr string, tlsConf *tls.Config, ll xlog.Logger) (Conn, error) {
	opts := []amqpmq.Option{amqpmq.WithLogger(ll)}
	if tlsConf != nil {
		opts = append(opts, amqpmq.WithTLS(tlsConf))
	}

	pub, err := amqpmq.NewPublisher(addr, opts...)
	if err != nil {
		return nil, err
	}
	con, err := amqpmq.NewConsumer(addr, opts...)
	if err != nil {
		_ = pub.Close()
		return nil, err
	}
	return &amqpConn{addr: addr, pub: pub, con: con, log: ll}, nil
}

func (c *amqpConn) NewQueue(opts mq.Options) (mq.Queue, error) {
	return amqpmq.Attach(c.pub, c.con, opts, c.log)
}

func (c *amqpConn) close() error {
	pubErr := c.pub.Close()
	conErr := c.con.Close()
	if pubErr != nil {
		return pubErr
	}
	return conErr
}

type mqttConn struct {
	broker string
	client paho.Client
	log    xlog.Logger
}

func dialMQTT(broker string, tlsConf *tls.Config, ll xlog.Logger) (Conn, error) {
	co := paho.NewClientOptions()
	co.AddBroker(broker)
	co.SetClientID(poolClientID())
	if tlsConf != nil {
		co.SetTLSConfig(tlsConf)
	}
	co.SetAutoReconnect(true)
	co.SetCleanSession(true)

	client := paho.NewClient(co)
	if t := client.Connect(); t.Wait() && t.Error() != nil {
		return nil, t.Error()
	}
	return &mqttConn{broker: broker, client: client, log: ll}, nil
}

func (c *mqttConn) NewQueue(opts mq.Options) (mq.Queue, error) {
	return mqttmq.Attach(c.client, opts, c.log)
}

func (c *mqttConn) close() error {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	return nil
}

package amqpmq

import (
	"crypto/tls"
	"sync"

	"github.com/sylvia-iot/sylvia-iot-core/mq"
	"github.com/sylvia-iot/sylvia-iot-core/pkg/errors"
	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
)

// Queue implements mq.Queue over an AMQP 0-9-1 broker, following the
// binding rules for the reliable/best-effort x unicast/broadcast matrix:
//
//   - reliable unicast:  durable queue `name`, direct exchange `name`,
//     manual ack with the configured prefetch (a pool-attached queue
//     uses the shared consumer channel's prefetch instead); nack requeues.
//   - reliable broadcast: fanout exchange `name`, one exclusive
//     auto-delete queue per consumer bound to it, manual ack.
//   - best-effort: auto-ack consumption, regardless of fan-out shape.
//   - persistent: publisher confirms enabled, messages marked persistent.
type Queue struct {
	opts    mq.Options
	addr    string
	tlsConf *tls.Config
	log     xlog.Logger
	shared  bool

	mu      sync.Mutex
	status  mq.Status
	handler mq.Handler

	pub       *Publisher
	con       *Consumer
	queueName string
	subID     string
	done      chan struct{}
}

// New returns an unconnected AMQP-backed queue that dials its own publisher
// or consumer connection. tlsConf may be nil for plain AMQP connections.
func New(addr string, opts mq.Options, tlsConf *tls.Config, ll xlog.Logger) (*Queue, error) {
	if err := mq.ValidateName(opts.Name); err != nil {
		return nil, err
	}
	if ll == nil {
		ll = xlog.Discard()
	}
	return &Queue{
		opts:    opts,
		addr:    addr,
		tlsConf: tlsConf,
		log:     ll,
		status:  mq.StatusClosed,
	}, nil
}

// Attach returns an unconnected AMQP-backed queue that multiplexes over an
// already-open Publisher (send direction) or Consumer (recv direction)
// instead of dialing a fresh connection. This is how mq/pool shares one
// physical connection across every mq.Queue opened against the same host
// URI: Connect declares the queue's own exchange/queue/binding on the
// shared session rather than re-declaring a whole topology at dial time.
func Attach(pub *Publisher, con *Consumer, opts mq.Options, ll xlog.Logger) (*Queue, error) {
	if err := mq.ValidateName(opts.Name); err != nil {
		return nil, err
	}
	if ll == nil {
		ll = xlog.Discard()
	}
	return &Queue{
		opts:   opts,
		log:    ll,
		shared: true,
		pub:    pub,
		con:    con,
		status: mq.StatusClosed,
	}, nil
}

func (q *Queue) Name() string {
	return q.opts.Name
}

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

// exchangeKind returns the AMQP exchange type for the queue's fan-out
// shape: "direct" distributes to a single bound queue, "fanout" delivers
// to every bound queue.
func (q *Queue) exchangeKind() string {
	if q.opts.Broadcast {
		return "fanout"
	}
	return "direct"
}

// topology builds the exchange (and, for unicast queues, the durable
// named queue and binding) that must exist before the queue is usable.
// Broadcast queues declare only the exchange; each receiver declares its
// own exclusive queue at Connect time.
func (q *Queue) topology() Topology {
	tp := Topology{
		Exchanges: []Exchange{{
			Name:    q.opts.Name,
			Kind:    q.exchangeKind(),
			Durable: true,
		}},
	}
	if !q.opts.Broadcast {
		tp.Queues = []QueueDecl{{Name: q.opts.Name, Durable: true}}
		tp.Bindings = []Binding{{
			Exchange:   q.opts.Name,
			Queue:      q.opts.Name,
			RoutingKey: []string{q.opts.Name},
		}}
	}
	return tp
}

func (q *Queue) sessionOptions() []Option {
	opts := []Option{
		WithName(q.opts.Name),
		WithLogger(q.log),
		WithTopology(q.topology()),
	}
	if q.tlsConf != nil {
		opts = append(opts, WithTLS(q.tlsConf))
	}
	if q.opts.Direction == mq.Recv {
		prefetch := q.opts.Prefetch
		if prefetch <= 0 {
			prefetch = 100
		}
		opts = append(opts, WithPrefetch(prefetch, 0))
	}
	return opts
}

// Connect opens the underlying publisher or consumer connection. For a
// shared (pool-attached) queue no dialing happens: the queue's own
// exchange/queue/binding are declared on the already-connected shared
// session instead.
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
	q.done = make(chan struct{})

	if q.shared {
		return q.connectShared()
	}

	switch q.opts.Direction {
	case mq.Send:
		pub, err := NewPublisher(q.addr, q.sessionOptions()...)
		if err != nil {
			q.setStatus(mq.StatusClosed)
			return err
		}
		q.mu.Lock()
		q.pub = pub
		q.mu.Unlock()
		go q.watchPublisher(pub)
	case mq.Recv:
		con, err := NewConsumer(q.addr, q.sessionOptions()...)
		if err != nil {
			q.setStatus(mq.StatusClosed)
			return err
		}
		q.mu.Lock()
		q.con = con
		q.mu.Unlock()
		go q.watchConsumer(con, false)
	}
	return nil
}

// connectShared declares the queue's topology on the already-connected
// shared publisher/consumer and starts watching it for readiness events.
func (q *Queue) connectShared() error {
	switch q.opts.Direction {
	case mq.Send:
		// AddExchange only succeeds once the underlying session is ready,
		// so reaching here means the shared publisher is already connected:
		// declare readiness immediately instead of waiting for a Ready()
		// signal that may have already fired (and been missed) before this
		// queue attached.
		if err := q.pub.AddExchange(Exchange{Name: q.opts.Name, Kind: q.exchangeKind(), Durable: true}); err != nil {
			q.setStatus(mq.StatusClosed)
			return err
		}
		q.setStatus(mq.StatusConnected)
		go q.watchPublisher(q.pub)
	case mq.Recv:
		if err := q.con.AddExchange(Exchange{Name: q.opts.Name, Kind: q.exchangeKind(), Durable: true}); err != nil {
			q.setStatus(mq.StatusClosed)
			return err
		}
		if !q.opts.Broadcast {
			if _, err := q.con.AddQueue(QueueDecl{Name: q.opts.Name, Durable: true}); err != nil {
				q.setStatus(mq.StatusClosed)
				return err
			}
			if err := q.con.AddBinding(Binding{
				Exchange:   q.opts.Name,
				Queue:      q.opts.Name,
				RoutingKey: []string{q.opts.Name},
			}); err != nil {
				q.setStatus(mq.StatusClosed)
				return err
			}
		}
		q.setStatus(mq.StatusConnected)
		if err := q.subscribe(q.con); err != nil {
			return err
		}
		go q.watchConsumer(q.con, true)
	}
	return nil
}

// watchPublisher forwards the publisher's readiness notifications as
// queue status transitions.
func (q *Queue) watchPublisher(pub *Publisher) {
	for {
		select {
		case _, ok := <-pub.Ready():
			if !ok {
				return
			}
			q.setStatus(mq.StatusConnected)
		case _, ok := <-pub.Pause():
			if !ok {
				return
			}
			q.setStatus(mq.StatusDisconnected)
		case <-q.done:
			return
		}
	}
}

// watchConsumer forwards the consumer's readiness notifications and, once
// connected, subscribes for deliveries. alreadySubscribed is true when the
// caller has already performed the initial subscription (the shared-session
// attach path), so only reconnects should re-subscribe.
func (q *Queue) watchConsumer(con *Consumer, alreadySubscribed bool) {
	subscribed := alreadySubscribed
	for {
		select {
		case _, ok := <-con.Ready():
			if !ok {
				return
			}
			q.setStatus(mq.StatusConnected)
			if !subscribed {
				subscribed = true
				if err := q.subscribe(con); err != nil {
					q.notifyError(err)
				}
			}
		case _, ok := <-con.Pause():
			if !ok {
				return
			}
			q.setStatus(mq.StatusDisconnected)
		case <-q.done:
			return
		}
	}
}

// subscribe declares the per-consumer queue (for broadcast queues) and
// opens the delivery channel, then spawns the delivery dispatch loop.
func (q *Queue) subscribe(con *Consumer) error {
	queueName := q.opts.Name
	if q.opts.Broadcast {
		name, err := con.AddQueue(QueueDecl{Durable: false, AutoDelete: true, Exclusive: true})
		if err != nil {
			return err
		}
		if err := con.AddBinding(Binding{Exchange: q.opts.Name, Queue: name}); err != nil {
			return err
		}
		queueName = name
	}

	dc, id, err := con.Subscribe(SubscribeOptions{
		Queue:   queueName,
		AutoAck: !q.opts.Reliable,
	})
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.queueName = queueName
	q.subID = id
	q.mu.Unlock()

	go q.dispatch(dc)
	return nil
}

func (q *Queue) dispatch(dc <-chan Delivery) {
	for {
		select {
		case d, ok := <-dc:
			if !ok {
				return
			}
			q.mu.Lock()
			h := q.handler
			q.mu.Unlock()
			if h != nil {
				h.OnMessage(q, &delivery{d: d})
			}
		case <-q.done:
			return
		}
	}
}

// Send publishes payload on the queue's exchange. Unicast (direct
// exchange) queues route by the queue name; broadcast (fanout) queues
// ignore the routing key entirely.
func (q *Queue) Send(payload []byte) error {
	if q.opts.Direction != mq.Send {
		return mq.ErrQueueIsReceiver
	}
	q.mu.Lock()
	pub := q.pub
	status := q.status
	q.mu.Unlock()
	if pub == nil || status != mq.StatusConnected {
		return mq.ErrNotConnected
	}

	routingKey := q.opts.Name
	if q.opts.Broadcast {
		routingKey = ""
	}
	msgOpts := MessageOptions{
		Exchange:   q.opts.Name,
		RoutingKey: routingKey,
		Persistent: q.opts.Persistent,
	}
	msg := Message{Body: payload}

	if q.opts.Persistent {
		ok, err := pub.Push(msg, msgOpts)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("message was not confirmed by the broker")
		}
		return nil
	}
	return pub.UnsafePush(msg, msgOpts)
}

// Close tears down the queue. For a dial-of-its-own queue this closes the
// underlying publisher/consumer connection; for a pool-attached queue the
// shared connection outlives it, so Close only cancels this queue's
// subscription (the pool closes the shared connection once its last
// attached queue goes away).
func (q *Queue) Close() error {
	q.setStatus(mq.StatusClosing)
	close(q.done)

	var err error
	q.mu.Lock()
	pub, con, subID, shared := q.pub, q.con, q.subID, q.shared
	q.mu.Unlock()
	switch {
	case shared && con != nil:
		if subID != "" {
			err = con.CloseSubscription(subID)
		}
	case shared:
		// shared publisher: nothing queue-specific to tear down.
	case pub != nil:
		err = pub.Close()
	case con != nil:
		err = con.Close()
	}
	q.setStatus(mq.StatusClosed)
	return err
}

// delivery adapts a driver.Delivery to mq.Message.
type delivery struct {
	d Delivery
}

func (m *delivery) Payload() []byte {
	return m.d.Body
}

func (m *delivery) Ack() error {
	return m.d.Ack(false)
}

func (m *delivery) Nack(requeue bool) error {
	return m.d.Nack(false, requeue)
}

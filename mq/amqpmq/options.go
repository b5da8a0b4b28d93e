package amqpmq

import (
	"crypto/tls"

	xlog "github.com/sylvia-iot/sylvia-iot-core/pkg/log"
)

// Option instances allow adjusting the internal settings used by a
// session when opening a publisher or consumer connection.
type Option func(*session) error

// WithName sets a custom identifier for the session. If not provided, a
// random name prefixed by "session" is generated.
func WithName(name string) Option {
	return func(s *session) error {
		s.name = name
		return nil
	}
}

// WithLogger sets the logger instance used by the session and any
// publisher/consumer built on top of it.
func WithLogger(ll xlog.Logger) Option {
	return func(s *session) error {
		s.log = ll
		return nil
	}
}

// WithTLS enables AMQPS by providing the TLS settings to use when dialing
// the broker. A nil value leaves the connection as plain AMQP.
func WithTLS(conf *tls.Config) Option {
	return func(s *session) error {
		s.tlsConf = conf
		return nil
	}
}

// WithTopology declares the exchanges, queues and bindings the session
// should ensure exist on the broker before becoming ready.
func WithTopology(tp Topology) Option {
	return func(s *session) error {
		s.topology = tp
		return nil
	}
}

// WithPrefetch adjusts the channel QoS settings: `count` bounds the number
// of unacknowledged deliveries outstanding at any time, `size` bounds the
// total number of bytes flushed to the network for those deliveries.
func WithPrefetch(count, size int) Option {
	return func(s *session) error {
		s.prefetchCount = count
		s.prefetchSize = size
		return nil
	}
}

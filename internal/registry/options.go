package registry

import (
	"log/slog"
	"time"

	"github.com/dyluth/arena/pkg/tuplespace"
	"github.com/hashicorp/go-metrics"
)

type config struct {
	logHandler       slog.Handler
	msink            metrics.MetricSink
	metricLabels     []metrics.Label
	handshakeTimeout time.Duration
	ackTimeout       time.Duration
	observer         func(space string, ev tuplespace.Event)
}

// Option to pass to New.
type Option func(*config) error

// WithLog specifies which slog.Handler to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink selects where metrics go. A nil sink discards them.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to every metric.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithHandshakeTimeout bounds how long a new connection may take to name
// its space.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		c.handshakeTimeout = timeout
		return nil
	}
}

// WithAckTimeout bounds how long a removing response waits for the
// client's acknowledgement before its tuples are put back and the
// connection is closed.
func WithAckTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		c.ackTimeout = timeout
		return nil
	}
}

// WithSpaceObserver is attached to every observable space added to the
// registry. It receives mutations tagged with the space name.
func WithSpaceObserver(obs func(space string, ev tuplespace.Event)) Option {
	return func(c *config) error {
		c.observer = obs
		return nil
	}
}

package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/luma/beacon/protocol"
)

const metricsNamespace = "beacon"

// Metrics counts the traffic of every connection it's handed to. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	commands prometheus.Counter
	replies  *prometheus.CounterVec
	bytesOut prometheus.Counter
	bytesIn  prometheus.Counter
	failures *prometheus.CounterVec
}

// NewMetrics registers the client collectors with reg, the default
// registerer is used when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		commands: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_sent_total",
			Help:      "Number of commands written to the outbound buffer.",
		}),
		replies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "replies_received_total",
			Help:      "Number of replies decoded, by reply kind.",
		}, []string{"kind"}),
		bytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_written_total",
			Help:      "Number of bytes accepted by the socket.",
		}),
		bytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_read_total",
			Help:      "Number of bytes read from the socket.",
		}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connection_errors_total",
			Help:      "Number of times a connection was dropped, by error kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) commandSent() {
	if m == nil {
		return
	}

	m.commands.Inc()
}

func (m *Metrics) replyReceived(reply protocol.Reply) {
	if m == nil {
		return
	}

	m.replies.WithLabelValues(reply.Kind().String()).Inc()
}

func (m *Metrics) bytesWritten(n int) {
	if m == nil {
		return
	}

	m.bytesOut.Add(float64(n))
}

func (m *Metrics) bytesRead(n int) {
	if m == nil {
		return
	}

	m.bytesIn.Add(float64(n))
}

func (m *Metrics) connectionFailed(kind error) {
	if m == nil {
		return
	}

	m.failures.WithLabelValues(kindLabel(kind)).Inc()
}

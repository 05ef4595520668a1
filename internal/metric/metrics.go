// internal/metric/metrics.go
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tic-relay/internal/model"
)

const namespace = "tic_relay"

// RelayMetrics holds the relay's Prometheus collectors
type RelayMetrics struct {
	registry *prometheus.Registry

	LinesRead           prometheus.Counter
	LinesRejected       *prometheus.CounterVec
	ReadingsPublished   *prometheus.CounterVec
	ReadingsDropped     *prometheus.CounterVec
	Reconnects          *prometheus.CounterVec
	LinkState           *prometheus.GaugeVec
	HandshakesCompleted prometheus.Counter
}

// NewRelayMetrics creates the collectors on a private registry
func NewRelayMetrics() *RelayMetrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &RelayMetrics{
		registry: registry,
		LinesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_read_total",
			Help:      "Lines read from the serial device",
		}),
		LinesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_rejected_total",
			Help:      "Lines dropped by the frame parser",
		}, []string{"reason"}),
		ReadingsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_published_total",
			Help:      "Readings sent to the endpoint",
		}, []string{"metric"}),
		ReadingsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_dropped_total",
			Help:      "Parsed readings that could not be sent",
		}, []string{"reason"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Successful link (re)opens",
		}, []string{"link"}),
		LinkState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_state",
			Help:      "Link state: 0 closed, 1 opening, 2 open, -1 faulted",
		}, []string{"link"}),
		HandshakesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_completed_total",
			Help:      "Handshakes that reached READY",
		}),
	}

	registry.MustRegister(
		m.LinesRead,
		m.LinesRejected,
		m.ReadingsPublished,
		m.ReadingsDropped,
		m.Reconnects,
		m.LinkState,
		m.HandshakesCompleted,
	)

	return m
}

// Registry returns the registry to expose over HTTP
func (m *RelayMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveLinkState tracks link state transitions
func (m *RelayMetrics) ObserveLinkState(link model.ConnectionType, _, newState model.LinkState) {
	label := string(link)
	m.LinkState.WithLabelValues(label).Set(newState.GaugeValue())
	if newState == model.LinkStateOpen {
		m.Reconnects.WithLabelValues(label).Inc()
	}
}

// ObserveHandshakeState counts handshakes reaching READY
func (m *RelayMetrics) ObserveHandshakeState(_, newState model.HandshakeState) {
	if newState == model.HandshakeReady {
		m.HandshakesCompleted.Inc()
	}
}

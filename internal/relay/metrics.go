package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "leaf_proxy"

// Delivery outcomes recorded by Metrics.
const (
	deliveryOK     = "ok"
	deliveryFailed = "failed"
)

// Metrics holds the Prometheus collectors shared by listeners, handlers and
// registries. A nil *Metrics is valid and records nothing.
type Metrics struct {
	connectionsActive *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
	bytesReceived     *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	bindRetries       *prometheus.CounterVec
}

// NewMetrics creates the relay collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Number of client connections currently being handled.",
		}, []string{"relay"}),
		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_total",
			Help:      "Number of client connections accepted.",
		}, []string{"relay"}),
		bytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "received_bytes_total",
			Help:      "Bytes read from clients.",
		}, []string{"relay"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_total",
			Help:      "Messages written to clients, by outcome.",
		}, []string{"relay", "result"}),
		bindRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bind_retries_total",
			Help:      "Times a listener moved to the next port after an address-in-use conflict.",
		}, []string{"relay"}),
	}
}

func (m *Metrics) connOpened(relay string) {
	if m == nil {
		return
	}
	m.connectionsTotal.WithLabelValues(relay).Inc()
	m.connectionsActive.WithLabelValues(relay).Inc()
}

func (m *Metrics) connClosed(relay string) {
	if m == nil {
		return
	}
	m.connectionsActive.WithLabelValues(relay).Dec()
}

func (m *Metrics) received(relay string, n int) {
	if m == nil {
		return
	}
	m.bytesReceived.WithLabelValues(relay).Add(float64(n))
}

func (m *Metrics) delivered(relay string, err error) {
	if m == nil {
		return
	}
	result := deliveryOK
	if err != nil {
		result = deliveryFailed
	}
	m.deliveries.WithLabelValues(relay, result).Inc()
}

func (m *Metrics) bindRetried(relay string) {
	if m == nil {
		return
	}
	m.bindRetries.WithLabelValues(relay).Inc()
}

// TrackConnection records a connection accepted outside a Listener, such as a
// WebSocket upgrade. The returned func must be called when it ends.
func (m *Metrics) TrackConnection(relay string) func() {
	m.connOpened(relay)
	return func() { m.connClosed(relay) }
}

// RecordReceived counts bytes read by a handler outside this package.
func (m *Metrics) RecordReceived(relay string, n int) {
	m.received(relay, n)
}

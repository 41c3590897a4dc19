package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Auth outcome labels
const (
	AuthSuccess          = "success"
	AuthLocked           = "locked"
	AuthTooManyFailures  = "too_many_failures"
	AuthAlreadyConnected = "already_connected"
	AuthStreamClosed     = "stream_closed"
)

// Delivery labels
const (
	DeliveryDirect    = "direct"
	DeliveryOffline   = "offline"
	DeliveryDiscarded = "discarded"
	DeliveryBroadcast = "broadcast"
)

// Metrics holds the Prometheus collectors of a hub. Each Metrics has its
// own registry so several hubs (and tests) never collide on registration.
// All methods are safe on a nil *Metrics.
type Metrics struct {
	registry       *prometheus.Registry
	activeSessions prometheus.Gauge
	authResults    *prometheus.CounterVec
	commands       *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	lockouts       prometheus.Counter
	timeouts       prometheus.Counter
}

// NewMetrics creates and registers all collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "linechat_active_sessions",
			Help: "Number of authenticated sessions currently online",
		}),
		authResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linechat_auth_results_total",
			Help: "Authentication attempts by outcome",
		}, []string{"result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linechat_commands_total",
			Help: "Commands processed by statistics bucket",
		}, []string{"command"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linechat_deliveries_total",
			Help: "Routed messages by delivery kind",
		}, []string{"kind"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linechat_lockouts_total",
			Help: "Address/username pairs locked after repeated failures",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linechat_idle_timeouts_total",
			Help: "Sessions ended for inactivity",
		}),
	}

	m.registry.MustRegister(
		m.activeSessions,
		m.authResults,
		m.commands,
		m.deliveries,
		m.lockouts,
		m.timeouts,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry to expose over HTTP
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) RecordAuthResult(result string) {
	if m == nil {
		return
	}
	m.authResults.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordCommand(name string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name).Inc()
}

func (m *Metrics) RecordDelivery(kind string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordLockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

func (m *Metrics) RecordTimeout() {
	if m == nil {
		return
	}
	m.timeouts.Inc()
}

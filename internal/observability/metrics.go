// Package observability holds the Prometheus collectors of the bridge.
//
// All recording methods are safe on a nil *Metrics so components can be
// constructed without metrics in tests.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector the bridge exports.
type Metrics struct {
	// ConnectionState is 1 for the current state of each server connection.
	// Labels: server, state
	ConnectionState *prometheus.GaugeVec

	// Reconnects counts reconnect cycles by reason.
	// Labels: server, reason
	Reconnects *prometheus.CounterVec

	// ServerEvents counts events received from voice servers.
	// Labels: server, event
	ServerEvents *prometheus.CounterVec

	// OnlineUsers is the size of each presence cache.
	// Labels: server
	OnlineUsers *prometheus.GaugeVec

	// ReconcileDrift counts users added or removed by a reconcile pass.
	// Labels: server, direction (added|removed)
	ReconcileDrift *prometheus.CounterVec

	// Notifications counts delivery attempts.
	// Labels: kind (join|leave|relay), status (sent|silent|error)
	Notifications *prometheus.CounterVec

	// DeliveryDuration measures one delivery call in seconds.
	DeliveryDuration prometheus.Histogram

	// DroppedJobs counts notification jobs dropped because the queue was full.
	DroppedJobs prometheus.Counter

	states []string
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer, states []string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "presencebridge_connection_state",
				Help: "Current connection state per server (1 for the active state)",
			},
			[]string{"server", "state"},
		),
		Reconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presencebridge_reconnects_total",
				Help: "Total number of reconnect cycles by server and reason",
			},
			[]string{"server", "reason"},
		),
		ServerEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presencebridge_server_events_total",
				Help: "Total number of events received from voice servers",
			},
			[]string{"server", "event"},
		),
		OnlineUsers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "presencebridge_online_users",
				Help: "Users currently online per server",
			},
			[]string{"server"},
		),
		ReconcileDrift: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presencebridge_reconcile_drift_total",
				Help: "Users the periodic reconcile had to add or remove",
			},
			[]string{"server", "direction"},
		),
		Notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "presencebridge_notifications_total",
				Help: "Total number of notification deliveries by kind and status",
			},
			[]string{"kind", "status"},
		),
		DeliveryDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "presencebridge_delivery_duration_seconds",
				Help:    "Duration of a single delivery call in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		),
		DroppedJobs: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "presencebridge_dropped_jobs_total",
				Help: "Notification jobs dropped because the queue was full",
			},
		),
		states: states,
	}
}

// SetConnectionState marks state as the only active state of server.
func (m *Metrics) SetConnectionState(server, state string) {
	if m == nil {
		return
	}
	for _, s := range m.states {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(server, s).Set(v)
	}
}

func (m *Metrics) Reconnect(server, reason string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(server, reason).Inc()
}

func (m *Metrics) ServerEvent(server, event string) {
	if m == nil {
		return
	}
	m.ServerEvents.WithLabelValues(server, event).Inc()
}

func (m *Metrics) SetOnlineUsers(server string, n int) {
	if m == nil {
		return
	}
	m.OnlineUsers.WithLabelValues(server).Set(float64(n))
}

func (m *Metrics) Drift(server string, added, removed int) {
	if m == nil {
		return
	}
	m.ReconcileDrift.WithLabelValues(server, "added").Add(float64(added))
	m.ReconcileDrift.WithLabelValues(server, "removed").Add(float64(removed))
}

// Delivered records one delivery attempt and its duration in seconds.
func (m *Metrics) Delivered(kind, status string, seconds float64) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind, status).Inc()
	m.DeliveryDuration.Observe(seconds)
}

func (m *Metrics) DroppedJob() {
	if m == nil {
		return
	}
	m.DroppedJobs.Inc()
}

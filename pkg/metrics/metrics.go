package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks collaborative sessions currently registered.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkwell_active_sessions",
			Help: "Number of active collaborative sessions",
		},
	)

	// ConnectedClients tracks live websocket connections per session.
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkwell_connected_clients",
			Help: "Number of connected realtime clients",
		},
	)

	// EditsApplied counts accepted edit operations by type.
	EditsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_edits_applied_total",
			Help: "Total number of edit operations accepted",
		},
		[]string{"type"},
	)

	// ConflictsDetected counts conflict resolutions by strategy.
	ConflictsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkwell_conflicts_detected_total",
			Help: "Total number of edit conflicts detected",
		},
		[]string{"strategy"},
	)

	// BroadcastsDropped counts realtime messages dropped due to backpressure.
	BroadcastsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkwell_broadcasts_dropped_total",
			Help: "Total number of realtime messages dropped on slow clients",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkwell_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

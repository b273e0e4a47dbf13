// Package telemetry provides Prometheus metrics, correlation-id aware logging
// helpers and optional OpenTelemetry tracing for the relay.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	messagesRelayed *prometheus.CounterVec
	broadcastErrors prometheus.Counter
	connectAttempts *prometheus.CounterVec

	// Gauges
	activeUpstreams *prometheus.GaugeVec
	viewerSockets   prometheus.Gauge

	// Histograms (seconds)
	connectDuration *prometheus.HistogramVec
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		messagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Normalized chat messages relayed, by platform",
		}, []string{"platform"})
		broadcastErrors = promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_broadcast_errors_total",
			Help: "Viewer socket writes that failed and were skipped",
		})
		connectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_upstream_connect_attempts_total",
			Help: "Upstream connection attempts, by platform and outcome",
		}, []string{"platform", "outcome"})
		activeUpstreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_upstream_connections",
			Help: "Registry entries per platform",
		}, []string{"platform"})
		viewerSockets = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relay_viewer_sockets",
			Help: "Currently subscribed viewer sockets",
		})
		connectDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_upstream_connect_duration_seconds",
			Help:    "Time from connect request to established upstream link",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform"})
	})
}

// CountRelayed increments the relayed-message counter for a platform.
func CountRelayed(platform string) {
	if messagesRelayed != nil {
		messagesRelayed.WithLabelValues(platform).Inc()
	}
}

// CountBroadcastError records one skipped viewer write.
func CountBroadcastError() {
	if broadcastErrors != nil {
		broadcastErrors.Inc()
	}
}

// CountConnectAttempt records an upstream attempt outcome (ok, failed,
// rate_limited, auth_required, not_found).
func CountConnectAttempt(platform, outcome string) {
	if connectAttempts != nil {
		connectAttempts.WithLabelValues(platform, outcome).Inc()
	}
}

// SetActiveUpstreams records the registry entry count for a platform.
func SetActiveUpstreams(platform string, n int) {
	if activeUpstreams != nil {
		activeUpstreams.WithLabelValues(platform).Set(float64(n))
	}
}

// SetViewerSockets records the current viewer socket count.
func SetViewerSockets(n int) {
	if viewerSockets != nil {
		viewerSockets.Set(float64(n))
	}
}

// ObserveConnectDuration records how long an upstream handshake took.
func ObserveConnectDuration(platform string, d time.Duration) {
	if connectDuration != nil {
		connectDuration.WithLabelValues(platform).Observe(d.Seconds())
	}
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger carrying the corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}

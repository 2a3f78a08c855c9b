package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/bnema/multisession/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "msd"

var (
	registerOnce sync.Once

	sessionsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "sessions",
			Name:      "state",
			Help:      "Supervised sessions by lifecycle state.",
		},
		[]string{"state"},
	)
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sessions",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts after a non-terminal disconnect.",
		},
		[]string{"reason"},
	)
	logouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sessions",
			Name:      "logouts_total",
			Help:      "Sessions that reached the logged out state.",
		},
	)
	pairingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pairing",
			Name:      "requests_total",
			Help:      "Pairing code requests by outcome.",
		},
		[]string{"result"},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "commands",
			Name:      "dispatched_total",
			Help:      "Dispatched commands by outcome.",
		},
		[]string{"command", "result"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(sessionsByState, reconnects, logouts, pairingRequests, commands, httpRequests, httpDuration)
	})
}

// RecordStateTransition moves one session between state gauges. An empty
// from means the session is new; an empty to means it left supervision.
func RecordStateTransition(from, to domain.SessionState) {
	RegisterMetrics()
	if from != "" {
		sessionsByState.WithLabelValues(string(from)).Dec()
	}
	if to != "" {
		sessionsByState.WithLabelValues(string(to)).Inc()
	}
}

func RecordReconnect(reason domain.DisconnectReason) {
	RegisterMetrics()
	reconnects.WithLabelValues(reason.String()).Inc()
}

func RecordLogout() {
	RegisterMetrics()
	logouts.Inc()
}

func RecordPairingRequest(result string) {
	RegisterMetrics()
	pairingRequests.WithLabelValues(result).Inc()
}

func RecordCommand(command string, success bool) {
	RegisterMetrics()
	result := "ok"
	if !success {
		result = "error"
	}
	commands.WithLabelValues(command, result).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

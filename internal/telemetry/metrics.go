// Package telemetry provides application-level observability for gatepass.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<GATEPASS_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. It is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Gate scan outcomes and guard decisions
//   - Device registry transitions and QR code issuance
//   - QR expiry reminder counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/devices/:id/approve)
// rather than the raw request URL. Gate metrics are labelled by outcome, never by
// gate name or token hash.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Gate metrics.
//
// GateScansTotal counts validity checks by outcome: "valid", "not_found",
// "expired", "inactive", "device_missing", "device_deleted", "student_missing",
// and "malformed". A rise in the integrity outcomes (device_missing,
// student_missing) points at inconsistent data rather than user error.
//
// GateDecisionsTotal counts recorded guard decisions by {decision} ("accept"/"deny").
// GateDecisionConflictsTotal counts decisions refused because another decision on
// the same code was still in flight.
//
// Example PromQL queries:
//   - Expired scans per hour:   increase(gate_scans_total{outcome="expired"}[1h])
//   - Accept ratio:             sum(rate(gate_decisions_total{decision="accept"}[1h])) / sum(rate(gate_decisions_total[1h]))
var (
	GateScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_scans_total",
			Help: "Total number of QR code validity checks, by outcome.",
		},
		[]string{"outcome"},
	)

	GateDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_decisions_total",
			Help: "Total number of guard decisions written to the entry log, by decision.",
		},
		[]string{"decision"},
	)

	GateDecisionConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gate_decision_conflicts_total",
			Help: "Total number of guard decisions refused because the code was already being decided.",
		},
	)
)

// Registry metrics.
//
// DeviceTransitionsTotal counts device state changes by {transition}, e.g.
// "created", "approved", "changes_approved", "rejected", "reverted", "edited",
// "deleted", "renewal_requested", "renewed", "renewal_rejected".
//
// QRCodesIssuedTotal counts minted codes by {reason}: "initial", "reissue"
// (approval of an edit whose previous code had expired), or "renewal".
var (
	DeviceTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_transitions_total",
			Help: "Total number of device registry transitions, by transition.",
		},
		[]string{"transition"},
	)

	QRCodesIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qr_codes_issued_total",
			Help: "Total number of QR codes minted, by reason.",
		},
		[]string{"reason"},
	)
)

// QRExpiryRemindersSentTotal is incremented once per reminder email delivered by
// the QR expiry notifier job. A stalled counter while codes approach expiry
// usually means SMTP delivery is failing.
var QRExpiryRemindersSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "qr_expiry_reminders_sent_total",
		Help: "Total number of QR code expiry reminder emails successfully sent.",
	},
)

// DBOpenConnections tracks the number of open connections held by the sql.DB pool.
// It is sampled every 30 seconds by StartDBStatsCollector.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits when the database becomes unreachable, which happens when
// the application shuts down and closes the pool.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}

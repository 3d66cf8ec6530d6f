// Package telemetry provides application-level observability for DocVerCtl.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<DVC_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router and
// is therefore invisible to workspace users.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - GitHub REST API call counters and latency histograms
//   - File write, delete, and move commit counters
//   - Notification email delivery counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/projects/:id/file)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as project slugs or file paths.  GitHub API
// metrics are labelled by operation name ("list_directory", "upsert_file", ...),
// never by repository or path.
//
// # Usage
//
// Import the package for side effects so metrics are registered before the HTTP server
// starts listening:
//
//	import _ "github.com/docverctl/docverctl/internal/telemetry"
//
// Or import it directly and use an exported var:
//
//	telemetry.FileCommitsTotal.WithLabelValues("upsert").Inc()
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
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /api/projects/:id/tree),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
//
// Example PromQL queries:
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
//   - Average latency:                   rate(http_request_duration_seconds_sum[5m]) / rate(http_request_duration_seconds_count[5m])
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

// GitHub API metrics, recorded by the GitHub client around every REST call.
//
// GitHubAPIRequestsTotal is a CounterVec with labels {operation, status}.
// "operation" is the client method name in snake_case ("get_repo", "list_directory",
// "upsert_file", ...) and "status" is the upstream HTTP status code, so rate limiting
// (403/429) and stale-write conflicts (409/422) stand out immediately.
//
// Example PromQL queries:
//   - Upstream error rate:     sum(rate(github_api_requests_total{status=~"5.."}[5m]))
//   - Conflict rate by op:     sum by (operation) (rate(github_api_requests_total{status=~"409|422"}[15m]))
//
// GitHubAPIRequestDuration is a HistogramVec with label {operation} using the default
// Prometheus buckets.  GitHub calls dominate end-to-end latency for every workspace
// operation, so this is the first place to look when the app feels slow.
//
// Example PromQL queries:
//   - p95 by operation:  histogram_quantile(0.95, sum by (operation, le) (rate(github_api_request_duration_seconds_bucket[5m])))
var (
	GitHubAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "github_api_requests_total",
			Help: "Total number of GitHub REST API calls, by operation and upstream status code.",
		},
		[]string{"operation", "status"},
	)

	GitHubAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "github_api_request_duration_seconds",
			Help:    "Duration of GitHub REST API calls, by operation.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// Workspace commit metrics.
//
// FileCommitsTotal is a CounterVec with label {action} ("upsert", "delete", "move",
// "seed") incremented once per commit successfully created through the workspace.
// Multi-commit operations such as directory moves increment it once per commit,
// so the counter tracks real GitHub write volume rather than user actions.
//
// StaleWriteConflictsTotal is a plain Counter incremented whenever a write is
// rejected because the caller's base SHA no longer matches the file on GitHub.
// A sustained rate here means users are editing the same files concurrently.
//
// Example PromQL queries:
//   - Commit volume by action:  sum by (action) (rate(file_commits_total[1h]))
//   - Conflicts per hour:       increase(stale_write_conflicts_total[1h])
var (
	FileCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "file_commits_total",
			Help: "Total number of commits created through the workspace, by action.",
		},
		[]string{"action"},
	)

	StaleWriteConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stale_write_conflicts_total",
			Help: "Total number of writes rejected because the base file SHA was stale.",
		},
	)
)

// NotificationEmailsTotal is a CounterVec with label {outcome} ("sent", "failed")
// incremented once per change-notification email attempt.  Delivery is best effort,
// so a rising "failed" series is the only signal of SMTP trouble.
//
// Example PromQL queries:
//   - Failure ratio:  sum(rate(notification_emails_total{outcome="failed"}[1h])) / sum(rate(notification_emails_total[1h]))
var NotificationEmailsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notification_emails_total",
		Help: "Total number of change notification email attempts, by outcome.",
	},
	[]string{"outcome"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <DVC_DATABASE_MAX_CONNECTIONS> * 100
//   - Alert on near-exhaustion: db_open_connections > 20  (for max_connections=25)
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
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

// Package metrics exposes the Prometheus registry shared by the dispatcher.
// Metrics are defined in their own packages (dispatch, transport, ratelimit,
// progress, server) and registered through promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all dispatcher metrics are added to.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the source served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler serves all registered metrics in the Prometheus exposition format.
// Scrape errors are counted on Registry as promhttp_metric_handler_errors_total.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{Registry: Registry})
}

// Metrics Documentation
//
// Job Metrics (pkg/dispatch):
//   - dispatch_jobs_total{state} (Counter): Finished jobs by terminal state
//   - dispatch_jobs_running (Gauge): Jobs currently running
//   - dispatch_batches_total (Counter): Executed batches
//   - dispatch_batch_duration_seconds (Histogram): Wall time of one batch
//   - dispatch_calls_total{outcome} (Counter): Calls by outcome (success, failure)
//   - dispatch_pacing_seconds (Histogram): Time spent waiting between batches
//
// Transport Metrics (pkg/transport):
//   - transport_requests_total{status} (Counter): Outbound requests by status class
//   - transport_request_duration_seconds (Histogram): Outbound request latency
//   - transport_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - transport_retries_total{error_class} (Counter): Retry attempts
//   - transport_retry_backoff_seconds{error_class} (Histogram): Backoff before a retry
//   - transport_retry_exhausted_total{error_class} (Counter): Calls that exhausted their attempts
//
// Remote Budget Metrics (pkg/ratelimit):
//   - dispatch_remote_budget_remaining (Histogram): Remaining calls reported by targets
//   - dispatch_remote_budget_blocks_total (Counter): Calls blocked on a critical budget
//   - dispatch_remote_budget_throttles_total (Counter): Calls delayed on a low budget
//
// Progress Store Metrics (pkg/progress):
//   - dispatch_progress_writes_total (Counter): Snapshots written
//   - dispatch_progress_lookups_total{result} (Counter): Lookups by hit or miss
//   - dispatch_progress_errors_total{operation} (Counter): Store errors
//
// HTTP Metrics (internal/server):
//   - dispatch_http_requests_total{route, code} (Counter): Inbound requests
//   - dispatch_http_request_duration_seconds{route} (Histogram): Inbound latency
//
// Example Prometheus Queries:
//
//   # Call failure rate
//   sum(rate(dispatch_calls_total{outcome="failure"}[5m])) / sum(rate(dispatch_calls_total[5m]))
//
//   # Aborted jobs
//   increase(dispatch_jobs_total{state="aborted"}[1h])
//
//   # P95 outbound latency
//   histogram_quantile(0.95, sum by (le) (rate(transport_request_duration_seconds_bucket[5m])))

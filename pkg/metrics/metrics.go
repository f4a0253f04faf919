// Package metrics defines the Prometheus metrics exported by metasync.
//
// # Basic Usage
//
//	timer := metrics.NewTimer()
//	resp, err := client.Do(req)
//	metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(timer.Seconds())
//	metrics.APIRequests.WithLabelValues(endpoint, metrics.StatusLabel(resp, err)).Inc()
//
// All metrics are registered with the default registry through promauto
// and served on /metrics by the HTTP server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequests counts Graph API requests by endpoint and HTTP status
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metasync_api_requests_total",
			Help: "Total number of Graph API requests",
		},
		[]string{"endpoint", "status"},
	)

	// APIRetries counts retried Graph API requests
	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metasync_api_retries_total",
			Help: "Total number of retried Graph API requests",
		},
		[]string{"endpoint"},
	)

	// APIRequestDuration tracks Graph API request latency in seconds
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metasync_api_request_duration_seconds",
			Help:    "Graph API request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"endpoint"},
	)

	// RowsExtracted counts validated rows produced per table
	RowsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metasync_rows_extracted_total",
			Help: "Total number of rows extracted per table",
		},
		[]string{"table"},
	)

	// RowsWritten counts rows loaded into the warehouse
	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metasync_rows_written_total",
			Help: "Total number of rows written per table and write mode",
		},
		[]string{"table", "mode"},
	)

	// RowsDeleted counts rows removed before a reload
	RowsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metasync_rows_deleted_total",
			Help: "Total number of rows deleted before reload per table",
		},
		[]string{"table"},
	)

	// JobDuration tracks load and update job duration
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metasync_job_duration_seconds",
			Help:    "Sync job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"job", "status"},
	)

	// BreakerState exposes the Graph API circuit breaker state (0 closed, 1 half-open, 2 open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "metasync_api_breaker_state",
			Help: "Graph API circuit breaker state",
		},
		[]string{"name"},
	)
)

// Timer measures elapsed time
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Seconds returns the elapsed time in seconds
func (t *Timer) Seconds() float64 {
	return time.Since(t.start).Seconds()
}

// StatusLabel renders the status label for a request outcome.
func StatusLabel(resp *http.Response, err error) string {
	if err != nil || resp == nil {
		return "error"
	}
	return strconv.Itoa(resp.StatusCode)
}

// JobStatus renders the status label for a finished job.
func JobStatus(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

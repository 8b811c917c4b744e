// Package metrics holds the process-wide Prometheus collectors of the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apietl_pages_fetched_total",
			Help: "Pages fetched from external APIs",
		},
		[]string{"table"},
	)

	PageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apietl_page_failures_total",
			Help: "Pages abandoned after exhausting retries",
		},
		[]string{"table"},
	)

	RecordsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apietl_records_inserted_total",
			Help: "Rows newly inserted by batch writers (duplicates excluded)",
		},
		[]string{"writer"},
	)

	WriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apietl_write_failures_total",
			Help: "Items lost to failed batch writes",
		},
		[]string{"writer"},
	)

	QueueDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apietl_queue_dropped_total",
			Help: "Items dropped because the ingestion queue stayed full",
		},
		[]string{"queue"},
	)

	DetailFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apietl_detail_fetches_total",
			Help: "Detail enrichment fetch outcomes",
		},
		[]string{"outcome"}, // success, not_found, error
	)

	BronzeRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apietl_bronze_rows_total",
			Help: "Raw rows normalized into bronze tables",
		},
		[]string{"outcome"}, // processed, error
	)

	JobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "apietl_jobs_running",
		Help: "Extraction jobs currently running in this process",
	})

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apietl_job_duration_seconds",
			Help:    "Wall time of extraction jobs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
		[]string{"status"},
	)

	RateLimitDailyUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "apietl_ratelimit_daily_used",
		Help: "Requests recorded in the current daily quota window",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

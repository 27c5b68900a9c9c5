// Package metrics exposes Prometheus collectors for the harvest pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	threadsProcessedTotal *prometheus.CounterVec
	magnetsParsedTotal    *prometheus.CounterVec
	resolutionsTotal      *prometheus.CounterVec
	orphansTotal          *prometheus.CounterVec
	orphansRescuedTotal   prometheus.Counter
	tasksFinishedTotal    *prometheus.CounterVec
	queueDepth            prometheus.Gauge
	activeExecutors       prometheus.Gauge
	fetchDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		threadsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_threads_processed_total",
				Help: "Total number of threads processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		magnetsParsedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_magnets_parsed_total",
				Help: "Total number of magnet descriptors parsed, labeled by result.",
			},
			[]string{"result"},
		)

		resolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_resolutions_total",
				Help: "Total identity resolutions, labeled by waterfall stage.",
			},
			[]string{"stage"},
		)

		orphansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_orphans_total",
				Help: "Total orphan records appended, labeled by reason.",
			},
			[]string{"reason"},
		)

		orphansRescuedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvest_orphans_rescued_total",
				Help: "Total orphans rescued by reconciliation.",
			},
		)

		tasksFinishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_tasks_finished_total",
				Help: "Total scheduler tasks finished, labeled by status.",
			},
			[]string{"status"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_queue_depth",
				Help: "Current depth of the pending task queue.",
			},
		)

		activeExecutors = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_active_executors",
				Help: "Number of executor slots currently occupied.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by kind.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
			},
			[]string{"kind"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ThreadProcessed records a completed thread task.
func ThreadProcessed(outcome string) {
	Init()
	threadsProcessedTotal.WithLabelValues(outcome).Inc()
}

// MagnetParsed records one parse attempt result.
func MagnetParsed(result string) {
	Init()
	magnetsParsedTotal.WithLabelValues(result).Inc()
}

// ResolutionStage records which waterfall stage produced an identity.
func ResolutionStage(stage string) {
	Init()
	resolutionsTotal.WithLabelValues(stage).Inc()
}

// OrphanRecorded counts an appended orphan by reason.
func OrphanRecorded(reason string) {
	Init()
	orphansTotal.WithLabelValues(reason).Inc()
}

// OrphanRescued counts one reconciliation rescue.
func OrphanRescued() {
	Init()
	orphansRescuedTotal.Inc()
}

// TaskFinished counts a finished scheduler task by status.
func TaskFinished(status string) {
	Init()
	tasksFinishedTotal.WithLabelValues(status).Inc()
}

// SetQueueDepth publishes the pending queue depth.
func SetQueueDepth(depth int) {
	Init()
	queueDepth.Set(float64(depth))
}

// SetActiveExecutors publishes the occupied slot count.
func SetActiveExecutors(active int) {
	Init()
	activeExecutors.Set(float64(active))
}

// ObserveFetch records a page fetch duration in seconds.
func ObserveFetch(kind string, seconds float64) {
	Init()
	fetchDurationSeconds.WithLabelValues(kind).Observe(seconds)
}

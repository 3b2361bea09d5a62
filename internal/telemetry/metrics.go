package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "trim_jobs_submitted_total", Help: "Jobs accepted by the scheduler"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "trim_jobs_completed_total", Help: "Jobs that finished successfully"})
	JobsFailed       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "trim_jobs_failed_total", Help: "Jobs that ended in failure, by category"}, []string{"category"})
	JobsRetried      = prometheus.NewCounter(prometheus.CounterOpts{Name: "trim_jobs_retried_total", Help: "Transient failures sent back to the queue"})
	JobsCancelled    = prometheus.NewCounter(prometheus.CounterOpts{Name: "trim_jobs_cancelled_total", Help: "Jobs cancelled by a caller"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "trim_queue_depth", Help: "Jobs waiting in the pending queue"})
	ActiveGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "trim_jobs_active", Help: "Jobs currently processing"})
	SecondsSaved     = prometheus.NewCounter(prometheus.CounterOpts{Name: "trim_seconds_saved_total", Help: "Media seconds removed across completed jobs"})
	PhaseDuration    = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "trim_phase_duration_seconds", Help: "Wall time of each pipeline phase", Buckets: prometheus.ExponentialBuckets(0.5, 2, 12)}, []string{"phase"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "trim_rate_limit_rejects_total", Help: "Uploads rejected by the rate limiter"})
	BusyRejects      = prometheus.NewCounter(prometheus.CounterOpts{Name: "trim_busy_rejects_total", Help: "Uploads rejected because the host was busy"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			JobsFailed,
			JobsRetried,
			JobsCancelled,
			QueueDepthGauge,
			ActiveGauge,
			SecondsSaved,
			PhaseDuration,
			RateLimitRejects,
			BusyRejects,
		)
	})
	return promhttp.Handler()
}

package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	receipts *prometheus.CounterVec
	cleaned  prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker and returns err untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ReceiptJournaled counts a processed receipt task; duplicate marks a redelivery
// that was already in the journal.
func (m *Metrics) ReceiptJournaled(duplicate bool) {
	if m == nil {
		return
	}
	outcome := "recorded"
	if duplicate {
		outcome = "duplicate"
	}
	m.receipts.WithLabelValues(outcome).Inc()
}

// AddCleanedKeys counts idempotency keys removed by the cleanup job.
func (m *Metrics) AddCleanedKeys(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.cleaned.Add(float64(n))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collect_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collect_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "collect_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	receipts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collect_receipts_journaled_total",
		Help: "Receipt tasks processed, partitioned by outcome.",
	}, []string{"outcome"})
	cleaned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collect_idempotency_keys_cleaned_total",
		Help: "Idempotency keys deleted by the retention job.",
	})
	registerer.MustRegister(runs, failures, duration, receipts, cleaned)
	return &Metrics{runs: runs, failures: failures, duration: duration, receipts: receipts, cleaned: cleaned}
}

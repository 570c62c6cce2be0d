package collection

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes Prometheus collectors for the collection workflow.
type Metrics struct {
	submissions *prometheus.CounterVec
	uploads     *prometheus.CounterVec
	fetches     *prometheus.CounterVec
	active      prometheus.Gauge
}

// NewMetrics registers the workflow metrics against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collection_submissions_total",
		Help: "Payment submissions partitioned by outcome.",
	}, []string{"outcome"})
	uploads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collection_check_uploads_total",
		Help: "Check image uploads partitioned by outcome.",
	}, []string{"outcome"})
	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collection_invoice_fetches_total",
		Help: "Pending invoice fetches partitioned by outcome.",
	}, []string{"outcome"})
	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "collection_workflows_active",
		Help: "Workflows currently held by the manager.",
	})
	registerer.MustRegister(submissions, uploads, fetches, active)
	return &Metrics{submissions: submissions, uploads: uploads, fetches: fetches, active: active}
}

func (m *Metrics) submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) upload(err error) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcomeOf(err)).Inc()
}

func (m *Metrics) fetch(err error) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(outcomeOf(err)).Inc()
}

func (m *Metrics) workflowOpened() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) workflowClosed() {
	if m == nil {
		return
	}
	m.active.Dec()
}

func outcomeOf(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

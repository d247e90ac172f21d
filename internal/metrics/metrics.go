package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for ingestion and invoice processing.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Run outcomes by status
	Runs *prometheus.CounterVec

	// Run wall clock duration
	RunDuration prometheus.Histogram

	// Pages fetched from the distribution service
	Pages prometheus.Counter

	// Documents seen by outcome: imported, duplicate, unparseable, event
	Documents *prometheus.CounterVec

	// Invoice processing actions by action and result
	Processing *prometheus.CounterVec
}

// New registers every collector on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscal_ingest_runs_total",
			Help: "Ingestion runs by final status",
		}, []string{"status"}),

		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiscal_ingest_run_duration_seconds",
			Help:    "Duration of ingestion runs",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		Pages: f.NewCounter(prometheus.CounterOpts{
			Name: "fiscal_ingest_pages_total",
			Help: "Pages fetched from the distribution service",
		}),

		Documents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscal_ingest_documents_total",
			Help: "Distributed documents by outcome",
		}, []string{"outcome"}),

		Processing: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscal_ingest_invoice_actions_total",
			Help: "Invoice processing actions by action and result",
		}, []string{"action", "result"}),
	}
}

// ObserveRun records the outcome and duration of one run
func (m *Metrics) ObserveRun(status string, d time.Duration) {
	if m != nil {
		m.Runs.WithLabelValues(status).Inc()
		m.RunDuration.Observe(d.Seconds())
	}
}

// IncPages counts one fetched page
func (m *Metrics) IncPages() {
	if m != nil {
		m.Pages.Inc()
	}
}

// IncDocument counts one document outcome
func (m *Metrics) IncDocument(outcome string) {
	if m != nil {
		m.Documents.WithLabelValues(outcome).Inc()
	}
}

// IncProcessing counts one invoice action
func (m *Metrics) IncProcessing(action string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Processing.WithLabelValues(action, result).Inc()
}

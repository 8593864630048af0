package importer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Record outcomes counted by Metrics.
const (
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeSkipped   = "skipped"
	OutcomeSimulated = "simulated"
	OutcomeFailed    = "failed"
)

// Metrics counts imported records by kind and outcome and times whole runs.
// A nil *Metrics discards every observation.
type Metrics struct {
	records  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the importer collectors with reg, or with the default
// registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instrumentdb",
			Subsystem: "import",
			Name:      "records_total",
			Help:      "Manifest records processed by the importer.",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "instrumentdb",
			Subsystem: "import",
			Name:      "duration_seconds",
			Help:      "Duration of import runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"status"}),
	}
	for _, c := range []prometheus.Collector{m.records, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) record(kind, outcome string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) observeRun(success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.duration.WithLabelValues(status).Observe(d.Seconds())
}

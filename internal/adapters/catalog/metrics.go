package catalog

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts served requests by route template and status code.
// A nil *Metrics discards every observation.
type Metrics struct {
	requests *prometheus.CounterVec
}

// NewMetrics registers the HTTP collectors with reg, or with the default
// registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instrumentdb",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Catalog API requests by route and status code.",
		}, []string{"route", "status"}),
	}
	if err := reg.Register(m.requests); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) observe(route string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

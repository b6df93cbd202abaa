package etlsrv

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are the process-wide counters scraped from /metrics. They
// are the one other process-wide shared resource besides the log and
// the Transform instance itself.
type metrics struct {
	objects     prometheus.Counter
	inBytes     prometheus.Counter
	outBytes    prometheus.Counter
	errors      *prometheus.CounterVec
	directPuts  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		objects: factory.NewCounter(prometheus.CounterOpts{
			Name: "ais_etl_objects_total",
			Help: "Total number of objects transformed.",
		}),
		inBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "ais_etl_in_bytes_total",
			Help: "Total bytes read from payload sources.",
		}),
		outBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "ais_etl_out_bytes_total",
			Help: "Total bytes written as transform results.",
		}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ais_etl_errors_total",
			Help: "Total errors by kind.",
		}, []string{"kind"}),
		directPuts: factory.NewCounter(prometheus.CounterOpts{
			Name: "ais_etl_direct_puts_total",
			Help: "Total results delivered via direct-put.",
		}),
	}
}

func (m *metrics) observeErr(kind Kind) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(string(kind)).Inc()
}

package posting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes posting engine instrumentation. QueueDepth feeds the
// admission-control signal read by the HTTP layer.
type Metrics struct {
	Posted     *prometheus.CounterVec
	Failed     *prometheus.CounterVec
	Rejected   prometheus.Counter
	QueueDepth prometheus.Gauge
	Duration   prometheus.Histogram
}

// NewMetrics registers posting metrics on reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Posted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caricash",
			Subsystem: "posting",
			Name:      "posted_total",
			Help:      "Journals posted, by transaction type.",
		}, []string{"txn_type"}),
		Failed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caricash",
			Subsystem: "posting",
			Name:      "failed_total",
			Help:      "Posting commands that returned an error, by transaction type.",
		}, []string{"txn_type"}),
		Rejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "caricash",
			Subsystem: "posting",
			Name:      "rejected_total",
			Help:      "Commands rejected because the domain-key inbox was full.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "caricash",
			Subsystem: "posting",
			Name:      "queue_depth",
			Help:      "Commands queued across all domain-key inboxes.",
		}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "caricash",
			Subsystem: "posting",
			Name:      "duration_seconds",
			Help:      "Time spent inside the serialized posting section.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

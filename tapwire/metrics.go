package tapwire

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the engine's self-instrumentation. Collectors are always
// created; without a host-supplied Registerer they live on a private registry
// and are never scraped.
type metrics struct {
	observed         *prometheus.CounterVec
	skipped          *prometheus.CounterVec
	maskedFields     prometheus.Counter
	dispatches       *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
}

func newInspectorMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &metrics{
		observed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tapwire_transactions_observed_total",
				Help: "Transactions accepted for observation, by phase",
			},
			[]string{"phase"},
		),

		skipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tapwire_transactions_skipped_total",
				Help: "Transactions excluded from observation, by filter reason",
			},
			[]string{"reason"},
		),

		maskedFields: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tapwire_masked_fields_total",
				Help: "Payload fields replaced by the mask sentinel",
			},
		),

		dispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tapwire_dispatches_total",
				Help: "Telemetry dispatch attempts, by outcome",
			},
			[]string{"outcome"},
		),

		dispatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tapwire_dispatch_duration_seconds",
				Help:    "Wall time of completed dispatch attempts",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

const (
	dispatchOK      = "ok"
	dispatchError   = "error"
	dispatchDropped = "dropped"
)

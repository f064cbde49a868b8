package arbitrage

import "github.com/prometheus/client_golang/prometheus"

// evaluation outcomes
const (
	outcomeProfitable   = "profitable"
	outcomeUnprofitable = "unprofitable"
	outcomeError        = "error"
)

type metrics struct {
	pathsBuilt      prometheus.Counter
	evaluations     *prometheus.CounterVec
	merges          *prometheus.CounterVec
	plansEmitted    prometheus.Counter
	plansDropped    prometheus.Counter
	poolsDiscovered prometheus.Counter
	evalDuration    prometheus.Histogram
	blockDuration   prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		pathsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "searcher",
			Name:      "paths_built_total",
			Help:      "Swap paths built from changed pools.",
		}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "searcher",
			Name:      "evaluations_total",
			Help:      "Swap line optimizations by outcome.",
		}, []string{"outcome"}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "searcher",
			Name:      "merges_total",
			Help:      "Merged swap step optimizations by outcome.",
		}, []string{"outcome"}),
		plansEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "searcher",
			Name:      "plans_emitted_total",
			Help:      "Swap plans handed to the executor.",
		}),
		plansDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "searcher",
			Name:      "plans_dropped_total",
			Help:      "Swap plans dropped because the consumer was busy.",
		}),
		poolsDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "searcher",
			Name:      "pools_discovered_total",
			Help:      "Pools added to the market from block events.",
		}),
		evalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "searcher",
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent optimizing one swap line.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		blockDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "searcher",
			Name:      "block_duration_seconds",
			Help:      "Time spent searching one block.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.pathsBuilt,
			m.evaluations,
			m.merges,
			m.plansEmitted,
			m.plansDropped,
			m.poolsDiscovered,
			m.evalDuration,
			m.blockDuration,
		)
	}
	return m
}

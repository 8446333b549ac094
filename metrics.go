package rasterpager

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the page cache counters shared by the elements of an Engine.
type Metrics struct {
	Hits        prometheus.Counter
	Misses      prometheus.Counter
	VictimHits  prometheus.Counter
	Evictions   prometheus.Counter
	WriteBacks  prometheus.Counter
	FetchErrors prometheus.Counter
	FetchTime   prometheus.Histogram
	Resident    prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rasterpager", Subsystem: "cache", Name: "hits_total",
			Help: "Page requests served from the cache.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rasterpager", Subsystem: "cache", Name: "misses_total",
			Help: "Page requests that required a fetch.",
		}),
		VictimHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rasterpager", Subsystem: "cache", Name: "victim_hits_total",
			Help: "Misses served from the compressed victim cache.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rasterpager", Subsystem: "cache", Name: "evictions_total",
			Help: "Pages evicted from the cache.",
		}),
		WriteBacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rasterpager", Subsystem: "cache", Name: "writebacks_total",
			Help: "Dirty pages written back to their pager.",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rasterpager", Subsystem: "cache", Name: "fetch_errors_total",
			Help: "Failed page fetches.",
		}),
		FetchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rasterpager", Subsystem: "cache", Name: "fetch_seconds",
			Help:    "Duration of page fetches.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		Resident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rasterpager", Subsystem: "cache", Name: "resident_bytes",
			Help: "Bytes of page data held by the caches.",
		}),
	}
}

// Register adds the metrics to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Hits, m.Misses, m.VictimHits, m.Evictions,
		m.WriteBacks, m.FetchErrors, m.FetchTime, m.Resident} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Package metrics exports evaluator telemetry to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	obs, err := metrics.NewObserver(reg)
//	if err != nil {
//		return err
//	}
//	e, err := subd.New(topo, backend.KindCPU, subd.WithObserver(obs))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/subd"
	"github.com/gogpu/subd/backend"
)

const namespace = "subd"

// Observer implements subd.Observer with counters and histograms.
type Observer struct {
	refineSeconds *prometheus.HistogramVec
	evalSeconds   *prometheus.HistogramVec
	evalCoords    *prometheus.CounterVec
	evalBatch     *prometheus.HistogramVec
	stagingCap    prometheus.Gauge
	stagingGrowth prometheus.Counter
	cacheLookups  *prometheus.CounterVec
}

var _ subd.Observer = (*Observer)(nil)

// NewObserver creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		refineSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refine_duration_seconds",
			Help:      "Time spent applying vertex stencils per Refine call.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"backend"}),
		evalSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "eval_duration_seconds",
			Help:      "Time spent evaluating one batch of limit coordinates.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"backend", "stream"}),
		evalCoords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eval_coords_total",
			Help:      "Limit coordinates evaluated.",
		}, []string{"backend", "stream"}),
		evalBatch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "eval_batch_size",
			Help:      "Coordinates per evaluation call.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"backend", "stream"}),
		stagingCap: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "staging",
			Name:      "capacity",
			Help:      "Capacity of the most recently grown staging arena.",
		}),
		stagingGrowth: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "staging",
			Name:      "growths_total",
			Help:      "Staging arena reallocations.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Kernel cache lookups by result.",
		}, []string{"backend", "result"}),
	}
	if reg == nil {
		return o, nil
	}
	for _, c := range o.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Observer) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		o.refineSeconds, o.evalSeconds, o.evalCoords, o.evalBatch,
		o.stagingCap, o.stagingGrowth, o.cacheLookups,
	}
}

// ObserveRefine implements subd.Observer.
func (o *Observer) ObserveRefine(kind backend.Kind, d time.Duration) {
	o.refineSeconds.WithLabelValues(kind.String()).Observe(d.Seconds())
}

// ObserveEval implements subd.Observer.
func (o *Observer) ObserveEval(kind backend.Kind, stream string, n int, d time.Duration) {
	k := kind.String()
	o.evalSeconds.WithLabelValues(k, stream).Observe(d.Seconds())
	o.evalCoords.WithLabelValues(k, stream).Add(float64(n))
	o.evalBatch.WithLabelValues(k, stream).Observe(float64(n))
}

// ObserveStagingGrowth implements subd.Observer.
func (o *Observer) ObserveStagingGrowth(capacity int) {
	o.stagingCap.Set(float64(capacity))
	o.stagingGrowth.Inc()
}

// ObserveCache implements subd.Observer.
func (o *Observer) ObserveCache(kind backend.Kind, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	o.cacheLookups.WithLabelValues(kind.String(), result).Inc()
}

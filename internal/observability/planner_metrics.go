package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PlannerCollector exposes planner-specific Prometheus metrics, separate
// from the run-wide SimCollector so comms-test runs can skip it.
type PlannerCollector struct {
	gatherer prometheus.Gatherer

	BidComputationDuration prometheus.Histogram
	BundleSize             *prometheus.GaugeVec
	TasksDropped           prometheus.Counter
	AccessScanCacheRatio   prometheus.Gauge
}

// NewPlannerCollector registers planner metrics against the provided registerer.
func NewPlannerCollector(reg prometheus.Registerer) (*PlannerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	bidHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "planner_bid_computation_duration_seconds",
		Help:    "Duration of one agent's bundle-building sweep within a round.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
	bidHistogram, err := registerHistogram(reg, bidHistogram, "planner_bid_computation_duration_seconds")
	if err != nil {
		return nil, err
	}

	bundleSize := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "planner_bundle_size",
		Help: "Current bundle size per agent.",
	}, []string{"agent"})
	bundleSize, err = registerGaugeVec(reg, bundleSize, "planner_bundle_size")
	if err != nil {
		return nil, err
	}

	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planner_tasks_dropped_total",
		Help: "Cumulative tasks dropped at execution for resource exhaustion.",
	})
	dropped, err = registerCounter(reg, dropped, "planner_tasks_dropped_total")
	if err != nil {
		return nil, err
	}

	cacheRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "planner_access_scan_cache_hit_ratio",
		Help: "Hit ratio for the engine's access-window cache.",
	})
	cacheRatio, err = registerGauge(reg, cacheRatio, "planner_access_scan_cache_hit_ratio")
	if err != nil {
		return nil, err
	}

	return &PlannerCollector{
		gatherer:               gatherer,
		BidComputationDuration: bidHistogram,
		BundleSize:             bundleSize,
		TasksDropped:           dropped,
		AccessScanCacheRatio:   cacheRatio,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *PlannerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveBidComputation records one bundle-building sweep duration.
func (c *PlannerCollector) ObserveBidComputation(d time.Duration) {
	if c == nil || c.BidComputationDuration == nil {
		return
	}
	c.BidComputationDuration.Observe(d.Seconds())
}

// SetBundleSize updates an agent's bundle size gauge.
func (c *PlannerCollector) SetBundleSize(agent string, size int) {
	if c == nil || c.BundleSize == nil {
		return
	}
	c.BundleSize.WithLabelValues(agent).Set(float64(size))
}

// IncTasksDropped increments the resource-drop counter.
func (c *PlannerCollector) IncTasksDropped() {
	if c == nil || c.TasksDropped == nil {
		return
	}
	c.TasksDropped.Inc()
}

// SetAccessScanHitRatio sets the access-window cache hit ratio.
func (c *PlannerCollector) SetAccessScanHitRatio(ratio float64) {
	if c == nil || c.AccessScanCacheRatio == nil {
		return
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	c.AccessScanCacheRatio.Set(ratio)
}

package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestSimCollectorCountsMessagesAndOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	collector.ObserveBidMessage("sent")
	collector.ObserveBidMessage("sent")
	collector.ObserveBidMessage("malformed")
	collector.ObserveResolverOutcome("override")
	collector.ObserveTaskEvent("sat-0", "assigned")

	if got := testutil.ToFloat64(collector.BidMessages.WithLabelValues("sent")); got != 2 {
		t.Fatalf("sim_bid_messages_total{direction=sent} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.BidMessages.WithLabelValues("malformed")); got != 1 {
		t.Fatalf("sim_bid_messages_total{direction=malformed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.ResolverOutcomes.WithLabelValues("override")); got != 1 {
		t.Fatalf("sim_resolver_outcomes_total{outcome=override} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.TaskEvents.WithLabelValues("sat-0", "assigned")); got != 1 {
		t.Fatalf("sim_task_events_total = %v, want 1", got)
	}
}

func TestSimCollectorHistogramsRecordSamples(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	collector.RoundDuration.Observe(0.002)
	collector.RoundsToConvergence.Observe(12)

	if count := histogramSampleCount(t, reg, "sim_round_duration_seconds", nil); count != 1 {
		t.Fatalf("sim_round_duration_seconds sample_count = %d, want 1", count)
	}
	if count := histogramSampleCount(t, reg, "sim_rounds_to_convergence", nil); count != 1 {
		t.Fatalf("sim_rounds_to_convergence sample_count = %d, want 1", count)
	}
}

func TestMetricsHandlerExposesResourceGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	collector.SetResourceState("sat-0", 150.5, 2.4e9)
	collector.ConnectedPairs.Set(3)
	collector.AuctionRounds.Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"sim_battery_soc_wh",
		"sim_buffer_bits",
		"sim_connected_pairs",
		"sim_auction_rounds_total",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
	if !strings.Contains(body, "150.5") {
		t.Fatalf("/metrics output missing battery gauge value: %s", body)
	}
}

func TestSimCollectorDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	second, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector (second): %v", err)
	}

	// The second collector must reuse the already-registered series.
	first.ObserveBidMessage("sent")
	second.ObserveBidMessage("sent")
	if got := testutil.ToFloat64(first.BidMessages.WithLabelValues("sent")); got != 2 {
		t.Fatalf("shared counter = %v, want 2", got)
	}
}

func TestPlannerCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPlannerCollector(reg)
	if err != nil {
		t.Fatalf("NewPlannerCollector: %v", err)
	}

	collector.ObserveBidComputation(3 * time.Millisecond)
	collector.SetBundleSize("sat-0", 2)
	collector.IncTasksDropped()
	collector.SetAccessScanHitRatio(1.7) // clamps to 1

	if got := testutil.ToFloat64(collector.BundleSize.WithLabelValues("sat-0")); got != 2 {
		t.Fatalf("planner_bundle_size = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.TasksDropped); got != 1 {
		t.Fatalf("planner_tasks_dropped_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.AccessScanCacheRatio); got != 1 {
		t.Fatalf("planner_access_scan_cache_hit_ratio = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "planner_bid_computation_duration_seconds", nil); count != 1 {
		t.Fatalf("planner_bid_computation_duration_seconds sample_count = %d, want 1", count)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

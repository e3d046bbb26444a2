package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SimCollector bundles Prometheus metrics for a simulation run and provides
// the handler to expose them over HTTP.
type SimCollector struct {
	gatherer prometheus.Gatherer

	// Auction traffic and progress.
	BidMessages      *prometheus.CounterVec
	TaskEvents       *prometheus.CounterVec
	AuctionRounds    prometheus.Counter
	ResolverOutcomes *prometheus.CounterVec

	RoundDuration       prometheus.Histogram
	RoundsToConvergence prometheus.Histogram

	// Per-satellite resource state.
	BatterySoC      *prometheus.GaugeVec
	BufferOccupancy *prometheus.GaugeVec
	ConnectedPairs  prometheus.Gauge
}

// NewSimCollector registers simulation Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	bidMessages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_bid_messages_total",
		Help: "Bid messages crossing agent mailboxes, labeled by direction (sent, received, malformed).",
	}, []string{"direction"})
	bidMessages, err := registerCounterVec(reg, bidMessages, "sim_bid_messages_total")
	if err != nil {
		return nil, err
	}

	taskEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_task_events_total",
		Help: "Task lifecycle events, labeled by agent and event (assigned, released, completed, dropped).",
	}, []string{"agent", "event"})
	taskEvents, err = registerCounterVec(reg, taskEvents, "sim_task_events_total")
	if err != nil {
		return nil, err
	}

	rounds, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_auction_rounds_total",
		Help: "Auction rounds executed across the run.",
	}), "sim_auction_rounds_total")
	if err != nil {
		return nil, err
	}

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_resolver_outcomes_total",
		Help: "Conflict-resolution decisions, labeled by rule outcome.",
	}, []string{"outcome"})
	outcomes, err = registerCounterVec(reg, outcomes, "sim_resolver_outcomes_total")
	if err != nil {
		return nil, err
	}

	roundDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_round_duration_seconds",
		Help:    "Wall-clock duration of one auction round.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "sim_round_duration_seconds")
	if err != nil {
		return nil, err
	}

	toConvergence, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_rounds_to_convergence",
		Help:    "Rounds needed to reach scenario convergence.",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 250, 500, 1000},
	}), "sim_rounds_to_convergence")
	if err != nil {
		return nil, err
	}

	battery := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sim_battery_soc_wh",
		Help: "Battery state of charge per satellite, watt-hours.",
	}, []string{"satellite"})
	battery, err = registerGaugeVec(reg, battery, "sim_battery_soc_wh")
	if err != nil {
		return nil, err
	}

	buffer := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sim_buffer_bits",
		Help: "Data buffer occupancy per satellite, bits.",
	}, []string{"satellite"})
	buffer, err = registerGaugeVec(reg, buffer, "sim_buffer_bits")
	if err != nil {
		return nil, err
	}

	pairs, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_connected_pairs",
		Help: "Currently connected agent pairs.",
	}), "sim_connected_pairs")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:            gatherer,
		BidMessages:         bidMessages,
		TaskEvents:          taskEvents,
		AuctionRounds:       rounds,
		ResolverOutcomes:    outcomes,
		RoundDuration:       roundDuration,
		RoundsToConvergence: toConvergence,
		BatterySoC:          battery,
		BufferOccupancy:     buffer,
		ConnectedPairs:      pairs,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveBidMessage counts one mailbox crossing. Direction is one of
// "sent", "received", "malformed".
func (c *SimCollector) ObserveBidMessage(direction string) {
	if c == nil || c.BidMessages == nil {
		return
	}
	c.BidMessages.WithLabelValues(direction).Inc()
}

// ObserveTaskEvent counts one task lifecycle event for an agent.
func (c *SimCollector) ObserveTaskEvent(agent, event string) {
	if c == nil || c.TaskEvents == nil {
		return
	}
	c.TaskEvents.WithLabelValues(agent, event).Inc()
}

// ObserveResolverOutcome counts one conflict-resolution decision.
func (c *SimCollector) ObserveResolverOutcome(outcome string) {
	if c == nil || c.ResolverOutcomes == nil {
		return
	}
	c.ResolverOutcomes.WithLabelValues(outcome).Inc()
}

// SetResourceState publishes one satellite's ledger state.
func (c *SimCollector) SetResourceState(satellite string, batteryWh, bufferBits float64) {
	if c == nil {
		return
	}
	if c.BatterySoC != nil {
		c.BatterySoC.WithLabelValues(satellite).Set(batteryWh)
	}
	if c.BufferOccupancy != nil {
		c.BufferOccupancy.WithLabelValues(satellite).Set(bufferBits)
	}
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

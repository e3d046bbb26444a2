package sim

import (
	"context"
	"time"

	"github.com/signalsfoundry/tasking-simulator/internal/acbba"
	"github.com/signalsfoundry/tasking-simulator/internal/logging"
)

// Planner is one satellite's per-round decision maker. The engine drives
// every planner through the same phases; only the auction planner actually
// bids.
type Planner interface {
	AgentID() string
	// BeginRound resets per-round convergence tracking.
	BeginRound()
	// BuildBids runs the bidding phase from a frozen snapshot.
	BuildBids(ctx context.Context, snap acbba.Snapshot) bool
	// Outbound returns the round's broadcast. Empty-record messages are
	// not sent.
	Outbound(now time.Time) acbba.BidMessage
	// Reconcile applies a round's inbound messages.
	Reconcile(ctx context.Context, msgs []acbba.BidMessage, now time.Time) bool
	// Converged reports whether the last round produced no local delta.
	Converged() bool
	// Bundle returns the currently claimed items.
	Bundle() []acbba.BundleItem
	// BidList returns the planner's best-known record per task.
	BidList() map[string]acbba.BidRecord
	// PurgeAgent releases every claim won by a departed agent.
	PurgeAgent(ctx context.Context, departed string, now time.Time)
}

// ContactRecorder is implemented by planners that track link transitions
// involving their satellite.
type ContactRecorder interface {
	NoteContact(peer string, up bool, at time.Time)
}

// AuctionPlanner adapts the ACBBA agent to the engine's planner phases.
type AuctionPlanner struct {
	agent *acbba.Agent
}

// NewAuctionPlanner wraps an assembled ACBBA agent.
func NewAuctionPlanner(agent *acbba.Agent) *AuctionPlanner {
	return &AuctionPlanner{agent: agent}
}

func (p *AuctionPlanner) AgentID() string { return p.agent.ID() }
func (p *AuctionPlanner) BeginRound()     { p.agent.BeginRound() }
func (p *AuctionPlanner) Converged() bool { return p.agent.Converged() }

func (p *AuctionPlanner) BuildBids(ctx context.Context, snap acbba.Snapshot) bool {
	return p.agent.BuildBids(ctx, snap)
}

func (p *AuctionPlanner) Outbound(now time.Time) acbba.BidMessage {
	return p.agent.Outbound(now)
}

func (p *AuctionPlanner) Reconcile(ctx context.Context, msgs []acbba.BidMessage, now time.Time) bool {
	return p.agent.Reconcile(ctx, msgs, now)
}

func (p *AuctionPlanner) Bundle() []acbba.BundleItem          { return p.agent.Bundle() }
func (p *AuctionPlanner) BidList() map[string]acbba.BidRecord { return p.agent.BidList() }
func (p *AuctionPlanner) PurgeAgent(ctx context.Context, departed string, now time.Time) {
	p.agent.PurgeAgent(ctx, departed, now)
}

// ContactEvent is one link transition seen by a comms-test satellite.
type ContactEvent struct {
	Peer string
	Up   bool
	At   time.Time
}

// CommsTestPlanner never bids; it only records contact and connectivity
// events for its satellite. Used for communications characterization runs.
type CommsTestPlanner struct {
	agentID string
	log     logging.Logger

	events   []ContactEvent
	received int
}

// NewCommsTestPlanner builds a contact recorder for one satellite.
func NewCommsTestPlanner(agentID string, log logging.Logger) *CommsTestPlanner {
	if log == nil {
		log = logging.Noop()
	}
	return &CommsTestPlanner{
		agentID: agentID,
		log:     log.With(logging.String("agent", agentID)),
	}
}

func (p *CommsTestPlanner) AgentID() string { return p.agentID }
func (p *CommsTestPlanner) BeginRound()     {}

// Converged is always true: a comms-test satellite never blocks scenario
// convergence.
func (p *CommsTestPlanner) Converged() bool { return true }

func (p *CommsTestPlanner) BuildBids(context.Context, acbba.Snapshot) bool { return false }

func (p *CommsTestPlanner) Outbound(now time.Time) acbba.BidMessage {
	return acbba.BidMessage{Sender: p.agentID, SentAt: now}
}

// Reconcile counts traffic but adopts nothing.
func (p *CommsTestPlanner) Reconcile(_ context.Context, msgs []acbba.BidMessage, _ time.Time) bool {
	p.received += len(msgs)
	return false
}

func (p *CommsTestPlanner) Bundle() []acbba.BundleItem { return nil }
func (p *CommsTestPlanner) BidList() map[string]acbba.BidRecord { return nil }

func (p *CommsTestPlanner) PurgeAgent(context.Context, string, time.Time) {}

// NoteContact records one link transition involving this satellite.
func (p *CommsTestPlanner) NoteContact(peer string, up bool, at time.Time) {
	p.events = append(p.events, ContactEvent{Peer: peer, Up: up, At: at})
}

// Events returns the recorded contact transitions in order.
func (p *CommsTestPlanner) Events() []ContactEvent {
	return append([]ContactEvent(nil), p.events...)
}

// MessagesReceived returns how many bid messages reached this satellite.
func (p *CommsTestPlanner) MessagesReceived() int { return p.received }

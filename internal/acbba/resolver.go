package acbba

import (
	"fmt"
	"time"
)

// TieBreak selects how equal-value bids from different bidders resolve.
// The fixtures underdetermine this, so it is configuration, not a constant.
type TieBreak string

const (
	// TieLowestAgentID awards ties to the lexically lowest bidder id.
	TieLowestAgentID TieBreak = "LOWEST_AGENT_ID"
	// TieEarliestTimestamp awards ties to the earliest claim.
	TieEarliestTimestamp TieBreak = "EARLIEST_TIMESTAMP"
)

// ParseTieBreak validates a configured tie-break name. Empty selects the
// default.
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(s) {
	case TieLowestAgentID, TieEarliestTimestamp:
		return TieBreak(s), nil
	case "":
		return TieLowestAgentID, nil
	}
	return "", fmt.Errorf("unknown tie-break %q", s)
}

// Outcome names which resolution rule decided an incoming bid record.
type Outcome string

const (
	// OutcomeInstall: no local record existed; the incoming one is adopted.
	OutcomeInstall Outcome = "install"
	// OutcomeSelfRelease: a peer reported a newer, different record naming
	// this agent as winner; the local claim is stale and is replaced.
	OutcomeSelfRelease Outcome = "self_release"
	// OutcomeRefresh: fresher information from the same claimed winner.
	OutcomeRefresh Outcome = "refresh"
	// OutcomeOverride: a different bidder with a strictly higher bid.
	OutcomeOverride Outcome = "override"
	// OutcomeDecay: the local record aged past the staleness horizon
	// relative to the peer's claim; the fresher claim wins regardless of
	// value.
	OutcomeDecay Outcome = "decay"
	// OutcomeKeep: the incoming record is stale or losing; local wins.
	OutcomeKeep Outcome = "keep"
)

// ResolverConfig parameterizes the conflict-resolution rules.
type ResolverConfig struct {
	// AgentID is the resolving agent, needed by the self-output rule.
	AgentID string
	// StalenessHorizon is the maximum age of a local record, relative to a
	// contradicting peer claim, before the peer's fresher claim wins
	// regardless of value. Zero disables time-decay override.
	StalenessHorizon time.Duration
	// TieBreak resolves equal-value bids from different bidders.
	TieBreak TieBreak
}

// rule is one ordered predicate/action pair of the resolution table. when
// reports whether the rule fires for (local, incoming); adopt reports
// whether the incoming record replaces the local one.
type rule struct {
	outcome Outcome
	when    func(cfg ResolverConfig, local, incoming BidRecord) bool
	adopt   bool
}

// rules is the layered precedence table from most to least specific:
// self-echo-keep, install, self-output, same-winner-refresh,
// higher-bid-override, time-decay-override, keep. The first matching rule
// decides.
var rules = []rule{
	{
		// The agent is authoritative for records naming itself. A relayed
		// copy of its own claim that is not strictly newer than the local
		// record carries no information; adopting it after a cascade
		// release would resurrect the claim without the bundle entry.
		outcome: OutcomeKeep,
		when: func(cfg ResolverConfig, local, incoming BidRecord) bool {
			return incoming.Bidder == cfg.AgentID &&
				!incoming.Timestamp.After(local.Timestamp)
		},
		adopt: false,
	},
	{
		outcome: OutcomeInstall,
		when: func(_ ResolverConfig, local, incoming BidRecord) bool {
			return !local.HasWinner() && incoming.HasWinner()
		},
		adopt: true,
	},
	{
		outcome: OutcomeSelfRelease,
		when: func(cfg ResolverConfig, local, incoming BidRecord) bool {
			return incoming.Bidder == cfg.AgentID &&
				incoming.Timestamp.After(local.Timestamp) &&
				incoming.Value != local.Value
		},
		adopt: true,
	},
	{
		outcome: OutcomeRefresh,
		when: func(_ ResolverConfig, local, incoming BidRecord) bool {
			return incoming.Bidder == local.Bidder &&
				incoming.Timestamp.After(local.Timestamp)
		},
		adopt: true,
	},
	{
		outcome: OutcomeOverride,
		when: func(_ ResolverConfig, local, incoming BidRecord) bool {
			return incoming.Bidder != local.Bidder && incoming.Value > local.Value
		},
		adopt: true,
	},
	{
		outcome: OutcomeDecay,
		when: func(cfg ResolverConfig, local, incoming BidRecord) bool {
			return cfg.StalenessHorizon > 0 &&
				incoming.Bidder != local.Bidder &&
				local.Timestamp.Before(incoming.Timestamp.Add(-cfg.StalenessHorizon))
		},
		adopt: true,
	},
}

// Resolver applies the conflict-resolution rule table. It is pure: no
// agent-loop state, so it is unit-testable in isolation.
type Resolver struct {
	cfg ResolverConfig
}

// NewResolver builds a resolver for one agent.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.TieBreak == "" {
		cfg.TieBreak = TieLowestAgentID
	}
	return &Resolver{cfg: cfg}
}

// Apply resolves one incoming record against the local record for the same
// task, returning the surviving record and the rule that decided. Applying
// an already-applied record is a no-op (OutcomeKeep via the refresh rule's
// strict-newer test).
func (r *Resolver) Apply(local, incoming BidRecord) (BidRecord, Outcome) {
	for _, rule := range rules {
		if rule.when(r.cfg, local, incoming) {
			if rule.adopt {
				return incoming, rule.outcome
			}
			return local, rule.outcome
		}
	}
	return local, OutcomeKeep
}

// ResolveBatch resolves the local record against a whole round's worth of
// incoming records for one task, returning the surviving record and the
// rule that decided it. The result is independent of the order of the
// batch:
//
//  1. relayed copies of the resolving agent's own claims that are not
//     strictly newer than the local record are discarded (the agent is
//     authoritative for records naming itself);
//  2. per bidder, only the newest claim survives (fresher communication
//     from the same claimed winner is always trusted);
//  3. claims older than the staleness horizon behind the freshest claim in
//     the set are discarded;
//  4. the maximum of the survivors under (value, tie-break, recency) wins.
//
// Permuting the batch cannot change the fixed point.
func (r *Resolver) ResolveBatch(local BidRecord, incoming []BidRecord) (BidRecord, Outcome) {
	// Stage 1: newest record per bidder, local included. Stale self-echoes
	// are dropped up front.
	newest := make(map[string]BidRecord, len(incoming)+1)
	consider := func(rec BidRecord) {
		if !rec.HasWinner() && rec.Timestamp.IsZero() {
			return
		}
		prev, ok := newest[rec.Bidder]
		if !ok || rec.Timestamp.After(prev.Timestamp) {
			newest[rec.Bidder] = rec
		}
	}
	consider(local)
	for _, rec := range incoming {
		if rec.Bidder == r.cfg.AgentID && !rec.Timestamp.After(local.Timestamp) {
			continue
		}
		consider(rec)
	}
	if len(newest) == 0 {
		return local, OutcomeKeep
	}

	// Stage 2: staleness filter relative to the freshest claim.
	var freshest time.Time
	for _, rec := range newest {
		if rec.Timestamp.After(freshest) {
			freshest = rec.Timestamp
		}
	}
	localDecayed := false
	if r.cfg.StalenessHorizon > 0 {
		cutoff := freshest.Add(-r.cfg.StalenessHorizon)
		for bidder, rec := range newest {
			if rec.Timestamp.Before(cutoff) {
				if bidder == local.Bidder && rec.Equal(local) {
					localDecayed = true
				}
				delete(newest, bidder)
			}
		}
	}

	// Stage 3: maximum under the rule order.
	var winner BidRecord
	first := true
	for _, rec := range newest {
		if first || r.beats(rec, winner) {
			winner = rec
			first = false
		}
	}
	return winner, r.batchOutcome(local, winner, localDecayed)
}

// batchOutcome labels a batch resolution with the rule that decided it, so
// the observation hook reports the actual decision rather than re-deriving
// one pairwise.
func (r *Resolver) batchOutcome(local, winner BidRecord, localDecayed bool) Outcome {
	switch {
	case winner.Equal(local):
		return OutcomeKeep
	case !local.HasWinner():
		return OutcomeInstall
	case winner.Bidder == r.cfg.AgentID:
		return OutcomeSelfRelease
	case winner.Bidder == local.Bidder:
		return OutcomeRefresh
	case localDecayed:
		return OutcomeDecay
	default:
		return OutcomeOverride
	}
}

// beats reports whether a outranks b across different bidders: strictly
// higher value; on equal value, the configured tie-break; lexical bidder id
// and recency as final arbiters so the order is total.
func (r *Resolver) beats(a, b BidRecord) bool {
	// A record with no winner never beats one with a winner.
	if a.HasWinner() != b.HasWinner() {
		return a.HasWinner()
	}
	if a.Value != b.Value {
		return a.Value > b.Value
	}
	if r.cfg.TieBreak == TieEarliestTimestamp && !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	if a.Bidder != b.Bidder {
		return a.Bidder < b.Bidder
	}
	return a.Timestamp.After(b.Timestamp)
}

package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/tasking-simulator/core"
	"github.com/signalsfoundry/tasking-simulator/internal/logging"
	"github.com/signalsfoundry/tasking-simulator/kb"
	"github.com/signalsfoundry/tasking-simulator/model"
)

// ConvergenceTimeout reports a run that reached the scenario horizon without
// converging. The best-known assignment is still reported; callers treat
// this as a quality warning, not a failure.
type ConvergenceTimeout struct {
	Rounds     int
	HorizonEnd time.Time
}

func (e *ConvergenceTimeout) Error() string {
	return fmt.Sprintf("auction did not converge within the horizon (%d rounds, horizon end %s)",
		e.Rounds, e.HorizonEnd.Format(time.RFC3339))
}

// RunResult summarizes a completed run.
type RunResult struct {
	Converged   bool
	Rounds      int
	ConvergedAt time.Time

	Assignments []kb.Assignment
	Completed   int
	Dropped     int
}

// Engine drives the lockstep auction rounds over a scenario. Rounds are
// processed sequentially; the batch-commutative resolver guarantees the
// fixed point matches any concurrent realization.
type Engine struct {
	sc     *Scenario
	log    logging.Logger
	tracer trace.Tracer

	// removals queued between rounds so peers never observe a half-updated
	// bundle.
	removals []string
}

// NewEngine builds an engine over an assembled scenario.
func NewEngine(sc *Scenario) *Engine {
	return &Engine{
		sc:     sc,
		log:    sc.Log,
		tracer: otel.Tracer("tasking-simulator/engine"),
	}
}

// QueueRemoval schedules a satellite's departure (deorbit). It takes effect
// at the start of the next round.
func (e *Engine) QueueRemoval(agentID string) {
	e.removals = append(e.removals, agentID)
}

// Run executes rounds until scenario convergence or the horizon end, then
// executes the converged bundles against the resource ledgers and records
// the final assignment in the knowledge base. A ConvergenceTimeout is
// returned alongside the best-known result when the horizon ends first.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	sc := e.sc
	ctx, span := e.tracer.Start(ctx, "sim.run")
	defer span.End()

	e.preplan(ctx)

	rounds := 0
	stable := 0
	converged := false
	var convergedAt time.Time

	for {
		now := sc.Clock.Now()
		if !now.Before(sc.Horizon.End) {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		quiet, connChanged := e.round(ctx, now, rounds)
		rounds++
		if sc.Metrics != nil && sc.Metrics.AuctionRounds != nil {
			sc.Metrics.AuctionRounds.Inc()
		}

		if quiet && !connChanged {
			stable++
		} else {
			stable = 0
		}
		// Scenario convergence: every agent locally converged, plus the
		// configured number of additional stable rounds with no
		// connectivity change.
		if stable > sc.Tuning.ExtraStableRounds {
			converged = true
			convergedAt = now
			break
		}

		sc.Clock.Advance()
	}

	if sc.Metrics != nil && sc.Metrics.RoundsToConvergence != nil && converged {
		sc.Metrics.RoundsToConvergence.Observe(float64(rounds))
	}

	e.recordAssignments(ctx)
	completed, dropped := e.execute(ctx)

	result := &RunResult{
		Converged:   converged,
		Rounds:      rounds,
		ConvergedAt: convergedAt,
		Assignments: sc.KB.ListAssignments(),
		Completed:   completed,
		Dropped:     dropped,
	}
	if !converged {
		timeout := &ConvergenceTimeout{Rounds: rounds, HorizonEnd: sc.Horizon.End}
		e.log.Warn(ctx, "reporting best-known assignment",
			logging.Err(timeout),
			logging.Int("assignments", len(result.Assignments)),
		)
		return result, timeout
	}

	e.log.Info(ctx, "auction converged",
		logging.Int("rounds", rounds),
		logging.Int("assignments", len(result.Assignments)),
		logging.Int("completed", completed),
		logging.Int("dropped", dropped),
	)
	return result, nil
}

// preplan seeds the bundles of preplan-flagged satellites from their own
// access windows before the first broadcast round.
func (e *Engine) preplan(ctx context.Context) {
	sc := e.sc
	start := sc.Horizon.Start
	for _, id := range e.agentIDs() {
		craft, ok := sc.Spacecraft[id]
		if !ok || !craft.Preplan {
			continue
		}
		planner := sc.Planners[id]
		planner.BeginRound()
		if planner.BuildBids(ctx, sc.Snapshot(id, start)) {
			e.log.Info(ctx, "preplanned bundle",
				logging.String("agent", id),
				logging.Int("bundle_size", len(planner.Bundle())),
			)
		}
	}
}

// round runs one bid → broadcast → reconcile cycle. It reports whether the
// round was quiet (all agents converged, no queued traffic) and whether
// connectivity changed.
func (e *Engine) round(ctx context.Context, now time.Time, seq int) (quiet, connChanged bool) {
	sc := e.sc
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "sim.round", trace.WithAttributes(
		attribute.Int("round", seq),
		attribute.String("sim_time", now.Format(time.RFC3339)),
	))
	defer span.End()

	e.applyRemovals(ctx, now)

	pairs := sc.Conn.Pairs(now)
	wentUp, wentDown := sc.Links.Apply(now, pairs)
	connChanged = len(wentUp)+len(wentDown) > 0
	if sc.Metrics != nil && sc.Metrics.ConnectedPairs != nil {
		sc.Metrics.ConnectedPairs.Set(float64(sc.Links.UpCount()))
	}
	e.noteContacts(wentUp, true, now)
	e.noteContacts(wentDown, false, now)

	ids := e.agentIDs()

	// Phase 1: bidding, from a frozen snapshot each.
	for _, id := range ids {
		planner := sc.Planners[id]
		planner.BeginRound()
		bidStart := time.Now()
		planner.BuildBids(ctx, sc.Snapshot(id, now))
		sc.PlannerMetrics.ObserveBidComputation(time.Since(bidStart))
		sc.PlannerMetrics.SetBundleSize(id, len(planner.Bundle()))
	}

	// Phase 2: broadcasts, conceptually simultaneous.
	for _, id := range ids {
		msg := sc.Planners[id].Outbound(now)
		neighbors, err := sc.Links.Neighbors(id)
		if err != nil || len(neighbors) == 0 {
			continue
		}
		if err := sc.Bus.Broadcast(ctx, msg, neighbors); err != nil {
			e.log.Warn(ctx, "broadcast failed",
				logging.String("agent", id),
				logging.Err(err),
			)
		}
	}

	// Phase 3: reconciliation over the drained inbox.
	quiet = true
	for _, id := range ids {
		planner := sc.Planners[id]
		msgs := sc.Bus.Drain(ctx, id)
		planner.Reconcile(ctx, msgs, now)
		if !planner.Converged() {
			quiet = false
		}
	}
	for _, id := range ids {
		if sc.Bus.Pending(id) > 0 {
			quiet = false
		}
	}

	e.advanceLedgers(ctx, now)
	sc.PlannerMetrics.SetAccessScanHitRatio(sc.access.hitRatio())
	if sc.Metrics != nil && sc.Metrics.RoundDuration != nil {
		sc.Metrics.RoundDuration.Observe(time.Since(started).Seconds())
	}
	return quiet, connChanged
}

func (e *Engine) applyRemovals(ctx context.Context, now time.Time) {
	if len(e.removals) == 0 {
		return
	}
	for _, id := range e.removals {
		if _, ok := e.sc.Planners[id]; !ok {
			continue
		}
		e.sc.RemoveAgent(ctx, id, now)
	}
	e.removals = nil
}

func (e *Engine) noteContacts(pairs []core.AgentPair, up bool, now time.Time) {
	for _, pair := range pairs {
		for _, id := range []string{pair.A, pair.B} {
			if recorder, ok := e.sc.Planners[id].(ContactRecorder); ok {
				recorder.NoteContact(pair.Other(id), up, now)
			}
		}
	}
}

// advanceLedgers integrates idle resource behavior up to the round time and
// publishes the resulting state.
func (e *Engine) advanceLedgers(ctx context.Context, now time.Time) {
	for _, id := range e.agentIDs() {
		ledger, ok := e.sc.Ledgers[id]
		if !ok {
			continue
		}
		if err := ledger.AdvanceTo(now); err != nil {
			e.log.Warn(ctx, "baseline load breached battery floor",
				logging.String("agent", id),
				logging.Err(err),
			)
		}
		e.sc.Metrics.SetResourceState(id, ledger.StateOfChargeWh(), ledger.BufferBits())
	}
}

// recordAssignments writes each agent's held bundle into the knowledge base
// as the (best-known) assignment.
func (e *Engine) recordAssignments(ctx context.Context) {
	sc := e.sc
	for _, id := range e.agentIDs() {
		planner := sc.Planners[id]
		bids := planner.BidList()
		for _, item := range planner.Bundle() {
			rec, ok := bids[item.TaskID]
			if !ok || rec.Bidder != id {
				continue
			}
			if err := sc.KB.SetAssignment(item.TaskID, id, rec.Value, rec.Timestamp); err != nil {
				e.log.Warn(ctx, "could not record assignment",
					logging.String("agent", id),
					logging.String("task", item.TaskID),
					logging.Err(err),
				)
			}
			sc.Metrics.ObserveTaskEvent(id, "assigned")
		}
	}
}

// execute applies each agent's committed observations to its ledger in
// imaging order. A bound violation drops the task; it is never executed.
func (e *Engine) execute(ctx context.Context) (completed, dropped int) {
	sc := e.sc
	now := sc.Clock.Now()

	for _, id := range e.agentIDs() {
		planner := sc.Planners[id]
		ledger := sc.Ledgers[id]
		craft := sc.Spacecraft[id]

		var instrumentPowerW, dataRateBps float64
		if len(craft.Instruments) > 0 {
			instrumentPowerW = craft.Instruments[0].PowerW
			dataRateBps = craft.Instruments[0].DataRateMbps * 1e6
		}

		items := planner.Bundle()
		sort.Slice(items, func(i, j int) bool { return items[i].ImagingTime.Before(items[j].ImagingTime) })

		for _, item := range items {
			task, err := sc.KB.GetTask(item.TaskID)
			if err != nil {
				continue
			}
			if ledger == nil {
				// No resource model for this satellite; the observation
				// executes unconditionally.
				sc.KB.MarkCompleted(item.TaskID, item.ImagingTime)
				sc.Metrics.ObserveTaskEvent(id, "completed")
				completed++
				continue
			}
			dur := task.Duration
			if dur <= 0 {
				dur = sc.Tuning.TaskDuration()
			}
			commitment := core.Commitment{
				TaskID:   item.TaskID,
				Window:   model.Window{Start: item.ImagingTime, End: item.ImagingTime.Add(dur)},
				PowerW:   instrumentPowerW,
				DataBits: dataRateBps * dur.Seconds(),
			}
			if err := ledger.Execute(commitment); err != nil {
				var exhaustion *core.ResourceExhaustionError
				if errors.As(err, &exhaustion) {
					sc.KB.MarkDropped(item.TaskID, now)
					sc.Metrics.ObserveTaskEvent(id, "dropped")
					sc.PlannerMetrics.IncTasksDropped()
					dropped++
					e.log.Warn(ctx, "task dropped at execution",
						logging.String("agent", id),
						logging.String("task", item.TaskID),
						logging.Err(err),
					)
					continue
				}
				e.log.Warn(ctx, "execution failed",
					logging.String("agent", id),
					logging.String("task", item.TaskID),
					logging.Err(err),
				)
				continue
			}
			sc.KB.MarkCompleted(item.TaskID, commitment.Window.End)
			sc.Metrics.ObserveTaskEvent(id, "completed")
			completed++
		}
		if ledger != nil {
			sc.Metrics.SetResourceState(id, ledger.StateOfChargeWh(), ledger.BufferBits())
		}
	}
	return completed, dropped
}

func (e *Engine) agentIDs() []string {
	ids := make([]string, 0, len(e.sc.Planners))
	for id := range e.sc.Planners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

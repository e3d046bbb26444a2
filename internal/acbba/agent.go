package acbba

import (
	"context"
	"sort"
	"time"

	"github.com/signalsfoundry/tasking-simulator/core"
	"github.com/signalsfoundry/tasking-simulator/internal/logging"
	"github.com/signalsfoundry/tasking-simulator/model"
)

// State is the agent's position in the auction loop.
type State string

const (
	StateIdle         State = "IDLE"
	StateBidding      State = "BIDDING"
	StateBroadcasting State = "BROADCASTING"
	StateReconciling  State = "RECONCILING"
)

// Snapshot is the frozen per-round input an agent bids from. The engine
// builds it before the bidding phase; no agent observes another's in-round
// state before the broadcast phase.
type Snapshot struct {
	// Time is the round's simulation time; it stamps new bids.
	Time time.Time
	// HorizonEnd bounds scheduling.
	HorizonEnd time.Time
	// Access returns the agent's access windows for a task, already
	// intersected with nothing: the agent clips them against the task's
	// validity window itself. The callback lets the engine generate
	// intervals lazily.
	Access func(taskID string) []model.Window
}

// Config assembles one agent.
type Config struct {
	AgentID string
	Utility UtilityFunc
	// BundleCap bounds how many tasks the agent will hold at once.
	BundleCap int
	Resolver ResolverConfig
	// ResurrectionGap is the silence, per (task, sender), after which a
	// resurfacing sender with a contradictory record triggers a local
	// bundle truncation. Zero disables the check.
	ResurrectionGap time.Duration

	// Tasks is the scenario task pool.
	Tasks []model.Task
	// Ledger gates bid feasibility against battery/buffer/duty bounds.
	Ledger *core.ResourceLedger
	// InstrumentPowerW and DataRateBps parameterize the resource cost of
	// one observation.
	InstrumentPowerW float64
	DataRateBps      float64
	// DefaultTaskDuration applies to tasks that carry none.
	DefaultTaskDuration time.Duration

	Logger logging.Logger
	// Observe, when set, is called with the rule outcome of each adopted
	// reconciliation decision.
	Observe func(Outcome)
}

// Agent is one satellite's ACBBA planner: it builds and maintains an
// ordered task bundle via an asynchronous consensus-based bundle auction.
// All mutable auction state is private to the agent; only serialized bid
// summaries cross its boundary.
type Agent struct {
	cfg      Config
	resolver *Resolver
	log      logging.Logger

	state  State
	bundle Bundle

	// bids is the agent's BidList: the best known record per task.
	bids map[string]BidRecord
	// changed marks records not yet broadcast.
	changed map[string]struct{}
	// lastHeard tracks when each (task, sender) pair was last mentioned,
	// used to detect partitions and resurrections.
	lastHeard map[string]map[string]time.Time

	tasks map[string]model.Task

	// delta flags whether the current round produced any bundle or
	// bid-table change.
	delta bool
}

// New builds an agent. BundleCap defaults to 3.
func New(cfg Config) *Agent {
	if cfg.BundleCap <= 0 {
		cfg.BundleCap = 3
	}
	if cfg.Utility == nil {
		cfg.Utility = LinearUtility
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Noop()
	}
	if cfg.Resolver.AgentID == "" {
		cfg.Resolver.AgentID = cfg.AgentID
	}

	tasks := make(map[string]model.Task, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		tasks[t.ID] = t
	}

	return &Agent{
		cfg:       cfg,
		resolver:  NewResolver(cfg.Resolver),
		log:       cfg.Logger.With(logging.String("agent", cfg.AgentID)),
		state:     StateIdle,
		bids:      make(map[string]BidRecord),
		changed:   make(map[string]struct{}),
		lastHeard: make(map[string]map[string]time.Time),
		tasks:     tasks,
	}
}

// ID returns the agent id.
func (a *Agent) ID() string { return a.cfg.AgentID }

// State returns the agent's current loop state.
func (a *Agent) State() State { return a.state }

// Bundle returns a copy of the current bundle items in insertion order.
func (a *Agent) Bundle() []BundleItem { return a.bundle.Items() }

// Path returns the bundle's task ids in execution order.
func (a *Agent) Path() []string { return a.bundle.Path() }

// BidList returns a copy of the agent's bid table.
func (a *Agent) BidList() map[string]BidRecord {
	out := make(map[string]BidRecord, len(a.bids))
	for k, v := range a.bids {
		out[k] = v
	}
	return out
}

// BeginRound resets the round delta tracking.
func (a *Agent) BeginRound() {
	a.delta = false
}

// Converged reports whether the last full round produced no bundle or
// bid-table delta.
func (a *Agent) Converged() bool { return !a.delta }

// BuildBids runs the BIDDING phase: repeatedly evaluate the marginal
// utility of inserting each visible, resource-feasible, unassigned-or-
// outbid task into the bundle at every insertion position, claiming the
// best until the bundle is full or nothing improves. Returns whether the
// bundle changed.
func (a *Agent) BuildBids(ctx context.Context, snap Snapshot) bool {
	a.state = StateBidding
	changed := false

	for a.bundle.Len() < a.cfg.BundleCap {
		best, ok := a.selectBest(snap)
		if !ok {
			break
		}

		a.bundle.Insert(best.item, best.pathIndex)
		a.bundle.SetImagingTimes(best.times)
		rec := BidRecord{
			TaskID:    best.item.TaskID,
			Bidder:    a.cfg.AgentID,
			Value:     Quantize(best.item.Bid),
			Timestamp: snap.Time,
		}
		a.bids[rec.TaskID] = rec
		a.changed[rec.TaskID] = struct{}{}
		changed = true

		a.log.Debug(ctx, "claimed task",
			logging.String("task", rec.TaskID),
			logging.Float64("bid", rec.Value),
			logging.Int("bundle_size", a.bundle.Len()),
		)
	}

	if changed {
		a.delta = true
	}
	if a.bundle.Len() == 0 && len(a.changed) == 0 {
		a.state = StateIdle
	}
	return changed
}

// candidate is one winning insertion choice from a bidding sweep.
type candidate struct {
	item      BundleItem
	pathIndex int
	// times carries the rescheduled imaging times for the whole path with
	// the candidate inserted.
	times       map[string]time.Time
	windowStart time.Time
}

// selectBest sweeps every biddable task and insertion position, returning
// the maximum marginal-utility claim. Ties break by lowest task id, then
// earliest access-window start, then lowest insertion index (the sweep
// visits indices in order, so keeping the first max handles it).
func (a *Agent) selectBest(snap Snapshot) (candidate, bool) {
	baseUtility, _, ok := a.scorePath(a.bundle.Path(), snap)
	if !ok {
		// The committed path itself became unschedulable; callers handle
		// releases through reconciliation, not here.
		return candidate{}, false
	}

	ids := make([]string, 0, len(a.tasks))
	for id := range a.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var best candidate
	found := false
	for _, id := range ids {
		if a.bundle.Contains(id) {
			continue
		}
		if cur, ok := a.bids[id]; ok && cur.Bidder == a.cfg.AgentID {
			// Already claimed by us (it would be in the bundle unless
			// released this round; released entries are reset, not kept).
			continue
		}

		cand, ok := a.bestInsertion(id, baseUtility, snap)
		if !ok {
			continue
		}
		// A bid must strictly beat the best known bid for the task.
		if cur, ok := a.bids[id]; ok && cur.HasWinner() && Quantize(cand.item.Bid) <= cur.Value {
			continue
		}
		if cand.item.Bid <= 0 {
			continue
		}

		if !found || betterCandidate(cand, best) {
			best = cand
			found = true
		}
	}
	return best, found
}

// betterCandidate orders candidates by bid descending, then lowest task id,
// then earliest access-window start.
func betterCandidate(a, b candidate) bool {
	if a.item.Bid != b.item.Bid {
		return a.item.Bid > b.item.Bid
	}
	if a.item.TaskID != b.item.TaskID {
		return a.item.TaskID < b.item.TaskID
	}
	return a.windowStart.Before(b.windowStart)
}

// bestInsertion evaluates inserting taskID at every path position and
// returns the position maximizing marginal utility. Tasks with no usable
// access window or failing the resource bounds yield no candidate
// (utility negative infinity: never bid).
func (a *Agent) bestInsertion(taskID string, baseUtility float64, snap Snapshot) (candidate, bool) {
	path := a.bundle.Path()

	var best candidate
	found := false
	for i := 0; i <= len(path); i++ {
		trial := make([]string, 0, len(path)+1)
		trial = append(trial, path[:i]...)
		trial = append(trial, taskID)
		trial = append(trial, path[i:]...)

		utility, times, ok := a.scorePath(trial, snap)
		if !ok {
			continue
		}
		marginal := utility - baseUtility
		if marginal <= 0 {
			continue
		}
		if err := a.checkResources(trial, times, snap); err != nil {
			continue
		}

		if !found || marginal > best.item.Bid {
			best = candidate{
				item: BundleItem{
					TaskID:      taskID,
					ImagingTime: times[taskID],
					Bid:         marginal,
				},
				pathIndex:   i,
				times:       times,
				windowStart: a.firstAccessStart(taskID, snap),
			}
			found = true
		}
	}
	return best, found
}

// scorePath schedules a path greedily (earliest feasible imaging time per
// task, in order) and sums its utility. Returns false when any task cannot
// be scheduled.
func (a *Agent) scorePath(path []string, snap Snapshot) (float64, map[string]time.Time, bool) {
	total := 0.0
	times := make(map[string]time.Time, len(path))
	cursor := snap.Time

	for _, id := range path {
		task, ok := a.tasks[id]
		if !ok {
			return 0, nil, false
		}
		dur := task.Duration
		if dur <= 0 {
			dur = a.cfg.DefaultTaskDuration
		}
		imgTime, ok := a.earliestImaging(task, dur, cursor, snap)
		if !ok {
			return 0, nil, false
		}
		times[id] = imgTime
		cursor = imgTime.Add(dur)
		total += a.cfg.Utility(task, imgTime)
	}
	return total, times, true
}

// earliestImaging finds the earliest observation start not before cursor
// that fits duration inside some access window intersected with the task's
// validity window.
func (a *Agent) earliestImaging(task model.Task, dur time.Duration, cursor time.Time, snap Snapshot) (time.Time, bool) {
	valid := task.Window
	if valid.IsZero() {
		valid = model.Window{Start: snap.Time, End: snap.HorizonEnd}
	}

	for _, access := range snap.Access(task.ID) {
		w, ok := access.Intersect(valid)
		if !ok {
			continue
		}
		start := w.Start
		if start.Before(cursor) {
			start = cursor
		}
		if !start.Add(dur).After(w.End) {
			return start, true
		}
	}
	return time.Time{}, false
}

// checkResources dry-runs the scheduled path against the resource ledger.
func (a *Agent) checkResources(path []string, times map[string]time.Time, snap Snapshot) error {
	if a.cfg.Ledger == nil {
		return nil
	}
	schedule := make([]core.Commitment, 0, len(path))
	for _, id := range path {
		task := a.tasks[id]
		dur := task.Duration
		if dur <= 0 {
			dur = a.cfg.DefaultTaskDuration
		}
		start := times[id]
		schedule = append(schedule, core.Commitment{
			TaskID:   id,
			Window:   model.Window{Start: start, End: start.Add(dur)},
			PowerW:   a.cfg.InstrumentPowerW,
			DataBits: a.cfg.DataRateBps * dur.Seconds(),
		})
	}
	return a.cfg.Ledger.CanCommit(schedule, snap.HorizonEnd)
}

func (a *Agent) firstAccessStart(taskID string, snap Snapshot) time.Time {
	windows := snap.Access(taskID)
	if len(windows) == 0 {
		return time.Time{}
	}
	earliest := windows[0].Start
	for _, w := range windows[1:] {
		if w.Start.Before(earliest) {
			earliest = w.Start
		}
	}
	return earliest
}

// Outbound runs the BROADCASTING phase: the records changed since the last
// broadcast plus every record whose winner is this agent, sorted by task
// id. The changed set is cleared.
func (a *Agent) Outbound(now time.Time) BidMessage {
	a.state = StateBroadcasting

	include := make(map[string]struct{}, len(a.changed))
	for id := range a.changed {
		include[id] = struct{}{}
	}
	for id, rec := range a.bids {
		if rec.Bidder == a.cfg.AgentID {
			include[id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(include))
	for id := range include {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]BidRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := a.bids[id]; ok {
			records = append(records, rec)
		}
	}
	a.changed = make(map[string]struct{})

	return BidMessage{Sender: a.cfg.AgentID, SentAt: now, Records: records}
}

// Reconcile runs the RECONCILING phase over a round's inbound messages.
// The batch resolver guarantees the fixed point is independent of message
// order. Returns whether any bundle or bid-table change resulted.
func (a *Agent) Reconcile(ctx context.Context, msgs []BidMessage, now time.Time) bool {
	a.state = StateReconciling
	changed := false

	// Resurrection check first: a sender resurfacing after a long silence
	// with a record contradicting a bundle entry truncates the bundle back
	// to just before the contradicted item.
	for _, msg := range msgs {
		a.checkResurrection(ctx, msg, now, &changed)
	}

	// Group records per task; bookkeeping is updated for every record, no
	// information is dropped.
	byTask := make(map[string][]BidRecord)
	for _, msg := range msgs {
		for _, rec := range msg.Records {
			byTask[rec.TaskID] = append(byTask[rec.TaskID], rec)
			a.noteHeard(rec.TaskID, msg.Sender, msg.SentAt)
		}
	}

	ids := make([]string, 0, len(byTask))
	for id := range byTask {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		local := a.bids[id]
		resolved, outcome := a.resolver.ResolveBatch(local, byTask[id])
		// A record naming this agent is only valid while the task is
		// bundled; adopting one for an unbundled task would leave the
		// claim standing with nothing scheduled behind it. Reopen it.
		if resolved.Bidder == a.cfg.AgentID && !a.bundle.Contains(id) {
			resolved = BidRecord{TaskID: id, Bidder: NoBidder, Value: 0, Timestamp: now}
		}
		if resolved.Equal(local) {
			continue
		}

		a.bids[id] = resolved
		a.changed[id] = struct{}{}
		changed = true
		if a.cfg.Observe != nil {
			a.cfg.Observe(outcome)
		}

		// Losing a bundled task releases it and everything inserted after
		// it; the released tail is reset and rebid next bidding phase.
		if local.Bidder == a.cfg.AgentID && resolved.Bidder != a.cfg.AgentID {
			a.releaseFrom(ctx, id, now)
		}
	}

	if changed {
		a.delta = true
	}
	a.state = StateIdle
	return changed
}

// releaseFrom removes taskID from the bundle along with every later
// insertion, resetting the released tail's bid records.
func (a *Agent) releaseFrom(ctx context.Context, taskID string, now time.Time) {
	released := a.bundle.ReleaseFrom(taskID)
	for _, id := range released {
		if id == taskID {
			continue // the winning record for the lost task stands
		}
		if rec, ok := a.bids[id]; ok && rec.Bidder == a.cfg.AgentID {
			a.bids[id] = BidRecord{TaskID: id, Bidder: NoBidder, Value: 0, Timestamp: now}
			a.changed[id] = struct{}{}
		}
	}
	if len(released) > 0 {
		a.log.Debug(ctx, "released bundle tail",
			logging.String("from_task", taskID),
			logging.Int("released", len(released)),
		)
	}
}

// checkResurrection detects a peer believed dead resurfacing with history
// contradicting the local bundle, and truncates back to the point
// preceding the contradiction.
func (a *Agent) checkResurrection(ctx context.Context, msg BidMessage, now time.Time, changed *bool) {
	if a.cfg.ResurrectionGap <= 0 {
		return
	}
	for _, rec := range msg.Records {
		heard, ok := a.lastHeard[rec.TaskID][msg.Sender]
		if !ok || msg.SentAt.Sub(heard) <= a.cfg.ResurrectionGap {
			continue
		}
		item, held := a.bundle.Item(rec.TaskID)
		if !held {
			continue
		}
		local := a.bids[rec.TaskID]
		if rec.Bidder == local.Bidder && rec.Value == local.Value {
			continue // consistent history, no contradiction
		}

		a.log.Warn(ctx, "contradictory history from resurfaced peer; truncating bundle",
			logging.String("peer", msg.Sender),
			logging.String("task", rec.TaskID),
		)
		released := a.bundle.TruncateBefore(item.TaskID)
		for _, id := range released {
			if cur, ok := a.bids[id]; ok && cur.Bidder == a.cfg.AgentID {
				a.bids[id] = BidRecord{TaskID: id, Bidder: NoBidder, Value: 0, Timestamp: now}
				a.changed[id] = struct{}{}
			}
		}
		*changed = true
		a.delta = true
	}
}

func (a *Agent) noteHeard(taskID, sender string, at time.Time) {
	m, ok := a.lastHeard[taskID]
	if !ok {
		m = make(map[string]time.Time)
		a.lastHeard[taskID] = m
	}
	m[sender] = at
}

// PurgeAgent removes every record won by a departed agent (deorbit): its
// claims release immediately and the tasks are rebid next round.
func (a *Agent) PurgeAgent(ctx context.Context, departed string, now time.Time) {
	for id, rec := range a.bids {
		if rec.Bidder != departed {
			continue
		}
		a.bids[id] = BidRecord{TaskID: id, Bidder: NoBidder, Value: 0, Timestamp: now}
		a.changed[id] = struct{}{}
		a.delta = true
	}
	a.log.Info(ctx, "purged departed agent's claims", logging.String("departed", departed))
}

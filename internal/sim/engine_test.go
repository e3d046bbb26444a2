package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/tasking-simulator/core"
	"github.com/signalsfoundry/tasking-simulator/internal/acbba"
	"github.com/signalsfoundry/tasking-simulator/internal/logging"
	"github.com/signalsfoundry/tasking-simulator/kb"
	"github.com/signalsfoundry/tasking-simulator/model"
	"github.com/signalsfoundry/tasking-simulator/timectrl"
)

var simStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// scriptedConnectivity returns a fixed pair set per round, indexed by how
// often Pairs has been called.
type scriptedConnectivity struct {
	rounds [][]core.AgentPair
	calls  int
}

func (m *scriptedConnectivity) Pairs(time.Time) []core.AgentPair {
	idx := m.calls
	m.calls++
	if idx >= len(m.rounds) {
		idx = len(m.rounds) - 1
	}
	if idx < 0 {
		return nil
	}
	return m.rounds[idx]
}

func allPairs(ids ...string) []core.AgentPair {
	var out []core.AgentPair
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			out = append(out, core.MakePair(ids[i], ids[j]))
		}
	}
	return out
}

type testAgent struct {
	id      string
	utility acbba.UtilityFunc
}

// buildTestScenario wires a scenario by hand: open access for every
// (agent, task) pair, no resource ledgers, scripted connectivity.
func buildTestScenario(t *testing.T, agents []testAgent, tasks []model.Task, conn core.ConnectivityModel, horizonLen time.Duration) *Scenario {
	t.Helper()

	step := 10 * time.Second
	horizon := model.Window{Start: simStart, End: simStart.Add(horizonLen)}

	knowledge := kb.NewKnowledgeBase()
	for _, task := range tasks {
		if err := knowledge.AddTask(task); err != nil {
			t.Fatalf("AddTask(%s): %v", task.ID, err)
		}
	}

	tuning, err := DefaultTuning().normalized()
	if err != nil {
		t.Fatalf("normalize tuning: %v", err)
	}

	sc := &Scenario{
		Log:        logging.Noop(),
		Tuning:     tuning,
		Horizon:    horizon,
		Step:       step,
		Clock:      timectrl.NewTimeController(simStart, step, timectrl.Accelerated),
		KB:         knowledge,
		Eph:        core.NewEphemeris(),
		Conn:       conn,
		Links:      core.NewLinkTable(),
		Bus:        NewBus(nil, nil),
		Spacecraft: make(map[string]model.Spacecraft),
		Ledgers:    make(map[string]*core.ResourceLedger),
		Planners:   make(map[string]Planner),
		access:     newAccessCache(),
	}

	for _, a := range agents {
		agent := acbba.New(acbba.Config{
			AgentID: a.id,
			Utility: a.utility,
			Resolver: acbba.ResolverConfig{
				AgentID:          a.id,
				StalenessHorizon: tuning.StalenessHorizon(step),
				TieBreak:         acbba.TieLowestAgentID,
			},
			ResurrectionGap:     tuning.ResurrectionGap(step),
			Tasks:               tasks,
			DefaultTaskDuration: tuning.TaskDuration(),
		})
		sc.Planners[a.id] = NewAuctionPlanner(agent)
		sc.Spacecraft[a.id] = model.Spacecraft{ID: a.id}
		sc.Bus.Register(a.id)

		// Open access: every task visible for the whole horizon.
		for _, task := range tasks {
			key := a.id + "|" + task.Target.ID
			sc.access.cached[key] = []model.Window{horizon}
		}
	}
	return sc
}

func simTask(id string, reward float64, horizonLen time.Duration) model.Task {
	return model.Task{
		ID:       id,
		Target:   model.GroundTarget{ID: "tgt-" + id},
		Window:   model.Window{Start: simStart, End: simStart.Add(horizonLen)},
		Duration: 30 * time.Second,
		Reward:   reward,
	}
}

func scaled(factor float64) acbba.UtilityFunc {
	return func(task model.Task, _ time.Time) float64 {
		return factor * task.Reward
	}
}

func TestEngineNoDoubleAssignment(t *testing.T) {
	horizonLen := 10 * time.Minute
	tasks := []model.Task{
		simTask("t1", 1.0, horizonLen),
		simTask("t2", 0.7, horizonLen),
		simTask("t3", 0.4, horizonLen),
	}
	agents := []testAgent{
		{id: "sat-a", utility: scaled(0.8)},
		{id: "sat-b", utility: scaled(0.6)},
	}
	conn := &scriptedConnectivity{rounds: [][]core.AgentPair{allPairs("sat-a", "sat-b")}}
	sc := buildTestScenario(t, agents, tasks, conn, horizonLen)

	result, err := NewEngine(sc).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Converged {
		t.Fatalf("expected convergence, got %d rounds without", result.Rounds)
	}

	owners := make(map[string]string)
	for _, a := range result.Assignments {
		if prev, dup := owners[a.TaskID]; dup {
			t.Fatalf("task %s assigned to both %s and %s", a.TaskID, prev, a.AgentID)
		}
		owners[a.TaskID] = a.AgentID
	}
}

func TestEngineHigherUtilityAgentWinsContestedTask(t *testing.T) {
	horizonLen := 10 * time.Minute
	tasks := []model.Task{simTask("t1", 1.0, horizonLen)}
	agents := []testAgent{
		{id: "sat-a", utility: scaled(0.8)},
		{id: "sat-b", utility: scaled(0.6)},
	}
	conn := &scriptedConnectivity{rounds: [][]core.AgentPair{allPairs("sat-a", "sat-b")}}
	sc := buildTestScenario(t, agents, tasks, conn, horizonLen)

	result, err := NewEngine(sc).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Converged {
		t.Fatal("expected convergence")
	}
	if len(result.Assignments) != 1 {
		t.Fatalf("assignments = %d, want 1", len(result.Assignments))
	}
	if got := result.Assignments[0].AgentID; got != "sat-a" {
		t.Fatalf("winner = %s, want sat-a", got)
	}
}

func TestEngineSplitBrainHealsOnReconnect(t *testing.T) {
	horizonLen := 10 * time.Minute
	tasks := []model.Task{simTask("t1", 1.0, horizonLen)}
	agents := []testAgent{
		{id: "sat-a", utility: scaled(1.0)},
		{id: "sat-b", utility: scaled(1.0)},
	}
	// Partitioned for two rounds: both claim t1. Then the link comes up.
	conn := &scriptedConnectivity{rounds: [][]core.AgentPair{
		nil,
		nil,
		allPairs("sat-a", "sat-b"),
	}}
	sc := buildTestScenario(t, agents, tasks, conn, horizonLen)

	result, err := NewEngine(sc).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Converged {
		t.Fatal("expected convergence after reconnect")
	}
	if len(result.Assignments) != 1 {
		t.Fatalf("assignments = %d, want exactly 1 after healing", len(result.Assignments))
	}
	// Equal bids: the tie breaks to the lexically lowest agent id.
	if got := result.Assignments[0].AgentID; got != "sat-a" {
		t.Fatalf("winner = %s, want sat-a", got)
	}

	// Both agents agree on the winner.
	for id, planner := range sc.Planners {
		rec, ok := planner.BidList()["t1"]
		if !ok || rec.Bidder != "sat-a" {
			t.Fatalf("agent %s believes winner is %q, want sat-a", id, rec.Bidder)
		}
	}
}

func TestEngineConvergenceTimeout(t *testing.T) {
	// Horizon of a single step: the extra stable round can never happen.
	horizonLen := 10 * time.Second
	tasks := []model.Task{simTask("t1", 1.0, horizonLen)}
	agents := []testAgent{{id: "sat-a", utility: scaled(1.0)}}
	conn := &scriptedConnectivity{rounds: [][]core.AgentPair{nil}}
	sc := buildTestScenario(t, agents, tasks, conn, horizonLen)

	result, err := NewEngine(sc).Run(context.Background())
	var timeout *ConvergenceTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want ConvergenceTimeout", err)
	}
	if result == nil {
		t.Fatal("best-known result must still be reported")
	}
	// The lone agent's claim is still reported as the best-known assignment.
	if len(result.Assignments) != 1 {
		t.Fatalf("assignments = %d, want 1", len(result.Assignments))
	}
}

// stubPlanner holds a fixed bundle; used to exercise the execution phase.
type stubPlanner struct {
	id     string
	bundle []acbba.BundleItem
	bids   map[string]acbba.BidRecord
}

func (p *stubPlanner) AgentID() string { return p.id }
func (p *stubPlanner) BeginRound()     {}

func (p *stubPlanner) BuildBids(context.Context, acbba.Snapshot) bool { return false }

func (p *stubPlanner) Outbound(now time.Time) acbba.BidMessage {
	return acbba.BidMessage{Sender: p.id, SentAt: now}
}

func (p *stubPlanner) Reconcile(context.Context, []acbba.BidMessage, time.Time) bool { return false }

func (p *stubPlanner) Converged() bool                               { return true }
func (p *stubPlanner) Bundle() []acbba.BundleItem                    { return p.bundle }
func (p *stubPlanner) BidList() map[string]acbba.BidRecord           { return p.bids }
func (p *stubPlanner) PurgeAgent(context.Context, string, time.Time) {}

func TestEngineDropsTaskOnResourceExhaustion(t *testing.T) {
	horizonLen := 10 * time.Minute
	task := simTask("t1", 1.0, horizonLen)
	sc := buildTestScenario(t, nil, []model.Task{task}, &scriptedConnectivity{}, horizonLen)

	// Buffer capacity far below the observation's data volume: execution
	// must drop the task rather than breach the bound.
	ledger := core.NewResourceLedger("sat-a", core.ResourceConfig{
		BatteryCapacityWh:  100,
		BufferCapacityBits: 10,
		Step:               10 * time.Second,
	}, nil, simStart)

	imaging := simStart.Add(time.Minute)
	sc.Planners["sat-a"] = &stubPlanner{
		id:     "sat-a",
		bundle: []acbba.BundleItem{{TaskID: "t1", ImagingTime: imaging, Bid: 1.0}},
		bids: map[string]acbba.BidRecord{
			"t1": {TaskID: "t1", Bidder: "sat-a", Value: 1.0, Timestamp: simStart},
		},
	}
	sc.Spacecraft["sat-a"] = model.Spacecraft{
		ID: "sat-a",
		Instruments: []model.Instrument{{
			Name:         "imager",
			PowerW:       10,
			DataRateMbps: 25,
		}},
	}
	sc.Ledgers["sat-a"] = ledger
	sc.Bus.Register("sat-a")

	result, err := NewEngine(sc).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Dropped != 1 {
		t.Fatalf("dropped = %d, want 1", result.Dropped)
	}
	if result.Completed != 0 {
		t.Fatalf("completed = %d, want 0", result.Completed)
	}
	assignment, ok := sc.KB.GetAssignment("t1")
	if !ok || !assignment.Dropped {
		t.Fatalf("assignment = %+v, want dropped", assignment)
	}
}

func TestEngineAgentRemovalReleasesClaims(t *testing.T) {
	horizonLen := 10 * time.Minute
	tasks := []model.Task{simTask("t1", 1.0, horizonLen)}
	agents := []testAgent{
		{id: "sat-a", utility: scaled(0.8)},
		{id: "sat-b", utility: scaled(0.6)},
	}
	conn := &scriptedConnectivity{rounds: [][]core.AgentPair{allPairs("sat-a", "sat-b")}}
	sc := buildTestScenario(t, agents, tasks, conn, horizonLen)

	engine := NewEngine(sc)
	ctx := context.Background()

	// Let the auction settle, then deorbit the winner and keep running.
	now := sc.Clock.Now()
	engine.round(ctx, now, 0)
	engine.round(ctx, sc.Clock.Advance(), 1)

	rec := sc.Planners["sat-b"].BidList()["t1"]
	if rec.Bidder != "sat-a" {
		t.Fatalf("pre-removal winner = %q, want sat-a", rec.Bidder)
	}

	engine.QueueRemoval("sat-a")
	engine.round(ctx, sc.Clock.Advance(), 2)
	engine.round(ctx, sc.Clock.Advance(), 3)

	if _, ok := sc.Planners["sat-a"]; ok {
		t.Fatal("sat-a still present after removal")
	}
	rec = sc.Planners["sat-b"].BidList()["t1"]
	if rec.Bidder != "sat-b" {
		t.Fatalf("post-removal winner = %q, want sat-b to rebid", rec.Bidder)
	}
}

func TestEngineCommsTestRecordsContacts(t *testing.T) {
	horizonLen := time.Minute
	sc := buildTestScenario(t, []testAgent{{id: "sat-b", utility: scaled(1.0)}}, nil, &scriptedConnectivity{rounds: [][]core.AgentPair{
		allPairs("sat-a", "sat-b"),
		nil,
	}}, horizonLen)

	recorder := NewCommsTestPlanner("sat-a", nil)
	sc.Planners["sat-a"] = recorder
	sc.Spacecraft["sat-a"] = model.Spacecraft{ID: "sat-a"}
	sc.Bus.Register("sat-a")

	engine := NewEngine(sc)
	ctx := context.Background()
	engine.round(ctx, sc.Clock.Now(), 0)
	engine.round(ctx, sc.Clock.Advance(), 1)

	events := recorder.Events()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (up then down)", len(events))
	}
	if !events[0].Up || events[0].Peer != "sat-b" {
		t.Fatalf("first event = %+v, want up with peer sat-b", events[0])
	}
	if events[1].Up {
		t.Fatalf("second event = %+v, want down", events[1])
	}
}

package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/tasking-simulator/core"
	"github.com/signalsfoundry/tasking-simulator/internal/acbba"
	"github.com/signalsfoundry/tasking-simulator/internal/logging"
	"github.com/signalsfoundry/tasking-simulator/internal/mission"
	"github.com/signalsfoundry/tasking-simulator/internal/observability"
	"github.com/signalsfoundry/tasking-simulator/kb"
	"github.com/signalsfoundry/tasking-simulator/model"
	"github.com/signalsfoundry/tasking-simulator/timectrl"
)

// Scenario is the fully-assembled run context: clock, registries, knowledge
// base, planners, and tuning. No ambient globals; everything a round needs
// hangs off this object.
type Scenario struct {
	Tuning  Tuning
	Horizon model.Window
	Step    time.Duration
	OutDir  string

	Clock *timectrl.TimeController
	KB    *kb.KnowledgeBase
	Eph   *core.Ephemeris
	Conn  core.ConnectivityModel
	Links *core.LinkTable
	Bus   *Bus

	Spacecraft map[string]model.Spacecraft
	Ledgers    map[string]*core.ResourceLedger
	Planners   map[string]Planner

	Log            logging.Logger
	Metrics        *observability.SimCollector
	PlannerMetrics *observability.PlannerCollector

	access *accessCache
}

// ScenarioOptions carries the optional collaborators for BuildScenario.
type ScenarioOptions struct {
	Logger         logging.Logger
	Metrics        *observability.SimCollector
	PlannerMetrics *observability.PlannerCollector
	// ClockMode selects real-time or accelerated advancement.
	ClockMode timectrl.Mode
}

// BuildScenario assembles a run context from a validated mission document.
// Spacecraft with degenerate orbit elements are excluded with a warning;
// the scenario continues without them.
func BuildScenario(ctx context.Context, doc *mission.Document, tuning Tuning, opts ScenarioOptions) (*Scenario, error) {
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}

	tuning, err := tuning.normalized()
	if err != nil {
		return nil, err
	}

	horizon := doc.Horizon()
	step := doc.StepSize()

	pool, err := mission.BuildTaskPool(doc)
	if err != nil {
		return nil, err
	}

	knowledge := kb.NewKnowledgeBase()
	for _, tgt := range pool.Targets {
		if err := knowledge.AddTarget(tgt); err != nil {
			return nil, err
		}
	}
	tasks := make([]model.Task, 0, len(pool.Tasks))
	for _, task := range pool.Tasks {
		if task.Duration <= 0 {
			task.Duration = tuning.TaskDuration()
		}
		if err := knowledge.AddTask(task); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	stations := make([]model.GroundStation, 0, len(doc.GroundStation))
	eph := core.NewEphemeris()
	for _, gs := range doc.GroundStation {
		station := gs.Station()
		if err := knowledge.AddStation(station); err != nil {
			return nil, err
		}
		eph.AddStation(station)
		stations = append(stations, station)
	}

	sc := &Scenario{
		Tuning:         tuning,
		Horizon:        horizon,
		Step:           step,
		OutDir:         doc.Settings.OutDir,
		Clock:          timectrl.NewTimeController(horizon.Start, step, opts.ClockMode),
		KB:             knowledge,
		Eph:            eph,
		Links:          core.NewLinkTable(),
		Bus:            NewBus(log, opts.Metrics),
		Spacecraft:     make(map[string]model.Spacecraft),
		Ledgers:        make(map[string]*core.ResourceLedger),
		Planners:       make(map[string]Planner),
		Log:            log,
		Metrics:        opts.Metrics,
		PlannerMetrics: opts.PlannerMetrics,
		access:         newAccessCache(),
	}

	for _, spec := range doc.Spacecraft {
		craft := spec.Spacecraft()
		prop, err := core.NewPropagator(craft)
		if err != nil {
			var orbitErr *core.InvalidOrbitError
			if errors.As(err, &orbitErr) {
				log.Warn(ctx, "excluding spacecraft with invalid orbit",
					logging.String("spacecraft", craft.ID),
					logging.Err(err),
				)
				continue
			}
			return nil, err
		}
		eph.AddSatellite(craft.ID, prop)
		sc.Spacecraft[craft.ID] = craft

		ledger := buildLedger(craft, prop, stations, horizon, step)
		sc.Ledgers[craft.ID] = ledger

		planner, err := sc.buildPlanner(craft, prop, tasks, ledger)
		if err != nil {
			return nil, err
		}
		sc.Planners[craft.ID] = planner
		sc.Bus.Register(craft.ID)
		sc.access.addAgent(craft.ID, prop, craft, pool.Targets, horizon, step)
	}

	if len(sc.Planners) == 0 {
		return nil, fmt.Errorf("no usable spacecraft in scenario")
	}

	// Spacecraft with a notifier get their task events surfaced as logs.
	notify := make(map[string]string)
	for id, craft := range sc.Spacecraft {
		if craft.Notifier != "" {
			notify[id] = craft.Notifier
		}
	}
	if len(notify) > 0 {
		sc.KB.Subscribe(func(ev kb.Event) {
			channel, ok := notify[ev.AgentID]
			if !ok {
				return
			}
			log.Info(ctx, "task event",
				logging.String("notifier", channel),
				logging.String("event", ev.Type.String()),
				logging.String("task", ev.TaskID),
				logging.String("agent", ev.AgentID),
			)
		})
	}

	mode := core.ConnectivityMode(doc.Scenario.Connectivity)
	if mode == "" {
		mode = core.ConnectivityFull
	}
	conn, err := core.NewConnectivityModel(mode, eph, stations)
	if err != nil {
		return nil, err
	}
	sc.Conn = conn

	return sc, nil
}

// buildLedger derives a resource ledger from the bus spec and precomputes
// the satellite's downlink windows.
func buildLedger(craft model.Spacecraft, prop core.Propagator, stations []model.GroundStation, horizon model.Window, step time.Duration) *core.ResourceLedger {
	cfg := core.ResourceConfigFromBus(craft.Bus, step)
	sunlit := func(t time.Time) bool {
		pos, _ := prop.ECIAt(t)
		return core.SunlitAt(pos, t)
	}
	ledger := core.NewResourceLedger(craft.ID, cfg, sunlit, horizon.Start)

	var downlink []model.Window
	for _, gs := range stations {
		scanner := core.NewStationScanner(craft.ID, prop, gs, horizon, step)
		for _, iv := range scanner.All() {
			downlink = append(downlink, iv.Window())
		}
	}
	sort.Slice(downlink, func(i, j int) bool { return downlink[i].Start.Before(downlink[j].Start) })
	ledger.SetDownlinkWindows(downlink)
	return ledger
}

// buildPlanner assembles the planner the mission assigns to one satellite.
func (sc *Scenario) buildPlanner(craft model.Spacecraft, prop core.Propagator, tasks []model.Task, ledger *core.ResourceLedger) (Planner, error) {
	switch craft.Planner.Type {
	case model.PlannerCommsTest:
		return NewCommsTestPlanner(craft.ID, sc.Log), nil
	case model.PlannerACBBA, "":
	default:
		return nil, fmt.Errorf("spacecraft %s: unknown planner type %q", craft.ID, craft.Planner.Type)
	}

	utility, err := acbba.UtilityFor(craft.Planner.Utility, sc.Tuning.UtilityLambda)
	if err != nil {
		return nil, fmt.Errorf("spacecraft %s: %w", craft.ID, err)
	}
	tieBreak, err := acbba.ParseTieBreak(sc.Tuning.TieBreak)
	if err != nil {
		return nil, err
	}

	bundleCap := craft.Planner.BundleCap
	if bundleCap <= 0 {
		bundleCap = sc.Tuning.BundleCap
	}
	staleness := craft.Planner.StalenessHorizon
	if staleness <= 0 {
		staleness = sc.Tuning.StalenessHorizon(sc.Step)
	}

	var instrumentPowerW, dataRateBps float64
	if len(craft.Instruments) > 0 {
		instrumentPowerW = craft.Instruments[0].PowerW
		dataRateBps = craft.Instruments[0].DataRateMbps * 1e6
	}

	agent := acbba.New(acbba.Config{
		AgentID:   craft.ID,
		Utility:   utility,
		BundleCap: bundleCap,
		Resolver: acbba.ResolverConfig{
			AgentID:          craft.ID,
			StalenessHorizon: staleness,
			TieBreak:         tieBreak,
		},
		ResurrectionGap:     sc.Tuning.ResurrectionGap(sc.Step),
		Tasks:               tasks,
		Ledger:              ledger,
		InstrumentPowerW:    instrumentPowerW,
		DataRateBps:         dataRateBps,
		DefaultTaskDuration: sc.Tuning.TaskDuration(),
		Logger:              sc.Log,
		Observe: func(outcome acbba.Outcome) {
			sc.Metrics.ObserveResolverOutcome(string(outcome))
		},
	})
	return NewAuctionPlanner(agent), nil
}

// Snapshot freezes the per-round input for one agent. Access windows are
// materialized lazily per (agent, task) pair and cached for the run.
func (sc *Scenario) Snapshot(agentID string, now time.Time) acbba.Snapshot {
	return acbba.Snapshot{
		Time:       now,
		HorizonEnd: sc.Horizon.End,
		Access: func(taskID string) []model.Window {
			return sc.access.windows(agentID, taskID, sc.KB)
		},
	}
}

// RemoveAgent takes a satellite out of the scenario (deorbit): its mailbox,
// links, and ephemeris entry go away, the knowledge base releases its
// assignments, and the remaining planners purge its claims next round.
func (sc *Scenario) RemoveAgent(ctx context.Context, agentID string, now time.Time) []string {
	delete(sc.Planners, agentID)
	delete(sc.Spacecraft, agentID)
	delete(sc.Ledgers, agentID)
	sc.Bus.Remove(agentID)
	sc.Links.RemoveAgent(agentID)
	sc.Eph.RemoveSatellite(agentID)
	released := sc.KB.ReleaseAgent(agentID, now)

	for _, planner := range sc.Planners {
		planner.PurgeAgent(ctx, agentID, now)
	}
	sc.Log.Info(ctx, "removed agent from scenario",
		logging.String("agent", agentID),
		logging.Int("released_tasks", len(released)),
	)
	return released
}

// accessCache materializes access windows on first use, one (agent, task
// target) pair at a time. Never eagerly for the whole horizon.
type accessCache struct {
	scanners map[string]*core.AccessScanner
	cached   map[string][]model.Window
	hits     int
	misses   int
}

func newAccessCache() *accessCache {
	return &accessCache{
		scanners: make(map[string]*core.AccessScanner),
		cached:   make(map[string][]model.Window),
	}
}

func (c *accessCache) addAgent(agentID string, prop core.Propagator, craft model.Spacecraft, targets []model.GroundTarget, horizon model.Window, step time.Duration) {
	if len(craft.Instruments) == 0 {
		return
	}
	inst := craft.Instruments[0]
	for _, tgt := range targets {
		key := agentID + "|" + tgt.ID
		c.scanners[key] = core.NewTargetScanner(agentID, prop, inst, tgt, horizon, step)
	}
}

func (c *accessCache) windows(agentID, taskID string, knowledge *kb.KnowledgeBase) []model.Window {
	task, err := knowledge.GetTask(taskID)
	if err != nil {
		return nil
	}
	key := agentID + "|" + task.Target.ID
	if cached, ok := c.cached[key]; ok {
		c.hits++
		return cached
	}
	c.misses++

	scanner, ok := c.scanners[key]
	if !ok {
		c.cached[key] = nil
		return nil
	}
	intervals := scanner.All()
	windows := make([]model.Window, 0, len(intervals))
	for _, iv := range intervals {
		windows = append(windows, iv.Window())
	}
	c.cached[key] = windows
	return windows
}

// hitRatio reports the cache hit fraction, 0 when untouched.
func (c *accessCache) hitRatio() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

package mission

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/tasking-simulator/model"
)

// TaskPool is the scenario's full task set plus the targets it references.
type TaskPool struct {
	Targets []model.GroundTarget
	Tasks   []model.Task
}

// defaultSeed keeps unseeded scenarios reproducible across runs.
const defaultSeed = 1

// BuildTaskPool expands the mission's demand declarations into concrete
// tasks: grid cells become reward-1.0 coverage tasks, explicit measurement
// requests become tasks with severity/urgency-scaled rewards, and the
// request count n generates additional random sites inside the configured
// bounds. Generation is deterministic for a given mission document.
func BuildTaskPool(doc *Document) (*TaskPool, error) {
	pool := &TaskPool{}
	horizon := doc.Horizon()

	for _, g := range doc.Grid {
		targets := g.Model().Targets()
		pool.Targets = append(pool.Targets, targets...)
		for _, tgt := range targets {
			pool.Tasks = append(pool.Tasks, model.Task{
				ID:     "task-" + tgt.ID,
				Target: tgt,
				Window: horizon,
				Reward: 1.0,
			})
		}
	}

	reqs := make([]model.MeasurementRequest, 0, len(doc.Scenario.Requests.MeasurementReqs))
	for i, mr := range doc.Scenario.Requests.MeasurementReqs {
		id := mr.ID
		if id == "" {
			id = fmt.Sprintf("req-%d", i)
		}
		req := model.MeasurementRequest{
			ID:       id,
			LatDeg:   mr.Lat,
			LonDeg:   mr.Lon,
			Severity: mr.Severity,
			Urgency:  mr.Urgency,
		}
		if mr.TEnd > mr.TStart {
			req.Window = model.Window{
				Start: horizon.Start.Add(time.Duration(mr.TStart * float64(time.Second))),
				End:   horizon.Start.Add(time.Duration(mr.TEnd * float64(time.Second))),
			}
		}
		reqs = append(reqs, req)
	}

	if n := int(doc.Scenario.Requests.N); n > 0 {
		generated, err := generateRequests(doc, n)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, generated...)
	}

	for _, req := range reqs {
		task, tgt := requestTask(req, horizon)
		pool.Targets = append(pool.Targets, tgt)
		pool.Tasks = append(pool.Tasks, task)
	}
	return pool, nil
}

// generateRequests draws n random sites inside the scenario's lat/lon
// bounds. Ids come from a UUID generator fed by the seeded stream, so the
// same seed yields the same ids.
func generateRequests(doc *Document, n int) ([]model.MeasurementRequest, error) {
	xb := doc.Scenario.Requests.XBounds
	yb := doc.Scenario.Requests.YBounds
	if len(xb) != 2 || len(yb) != 2 {
		return nil, &ConfigError{
			Field:  "scenario.requests",
			Reason: "n > 0 requires x_bounds and y_bounds of two elements each",
		}
	}

	seed := int64(doc.Scenario.Seed)
	if seed == 0 {
		seed = defaultSeed
	}
	rng := rand.New(rand.NewSource(seed))

	out := make([]model.MeasurementRequest, 0, n)
	for i := 0; i < n; i++ {
		id, err := uuid.NewRandomFromReader(rng)
		if err != nil {
			return nil, fmt.Errorf("generate request id: %w", err)
		}
		out = append(out, model.MeasurementRequest{
			ID:     id.String(),
			LonDeg: xb[0] + rng.Float64()*(xb[1]-xb[0]),
			LatDeg: yb[0] + rng.Float64()*(yb[1]-yb[0]),
		})
	}
	return out, nil
}

// requestTask converts one measurement request into a task and its target.
// Severity and urgency multiply the base reward; zero means no scaling.
func requestTask(req model.MeasurementRequest, horizon model.Window) (model.Task, model.GroundTarget) {
	tgt := model.GroundTarget{
		ID:     "site-" + req.ID,
		LatDeg: req.LatDeg,
		LonDeg: req.LonDeg,
	}

	reward := 1.0
	if req.Severity > 0 {
		reward *= req.Severity
	}
	if req.Urgency > 0 {
		reward *= req.Urgency
	}

	window := req.Window
	if window.IsZero() {
		window = horizon
	}

	inst := ""
	if len(req.Instruments) == 1 {
		inst = req.Instruments[0]
	}

	return model.Task{
		ID:                 "task-" + req.ID,
		Target:             tgt,
		Window:             window,
		Duration:           req.Duration,
		Reward:             reward,
		RequiredInstrument: inst,
	}, tgt
}

package core

import (
	"math"
	"time"

	"github.com/signalsfoundry/tasking-simulator/model"
)

// defaultFineStep is the boundary refinement granularity for access
// interval edges. Coarse scanning runs at the propagator step; once a
// visibility flip is detected the edge is pinned down at this resolution.
const defaultFineStep = time.Second

// visibleFunc evaluates the instantaneous visibility predicate for one
// (satellite, target) pairing at simulation time t.
type visibleFunc func(t time.Time) bool

// AccessScanner produces the access intervals for one (satellite, target)
// or (satellite, ground station) pair as a lazy, finite, restartable
// sequence. Intervals are generated incrementally as Next is called, so the
// full-horizon table is never materialized for fine-grained grids.
//
// Intervals are half-open [Start, End). Two intervals touching only at an
// endpoint remain distinct.
type AccessScanner struct {
	agentID  string
	targetID string
	horizon  model.Window

	coarse time.Duration
	fine   time.Duration

	visible visibleFunc
	cursor  time.Time
	done    bool
}

// NewTargetScanner builds a scanner for an instrument observing a ground
// target. The predicate requires the target inside the instrument's
// field-of-view cone (widened by any maneuver capability) and an
// unocculted line of sight.
func NewTargetScanner(agentID string, prop Propagator, inst model.Instrument, target model.GroundTarget, horizon model.Window, coarseStep time.Duration) *AccessScanner {
	targetECEF := GeodeticToECEF(target.LatDeg, target.LonDeg, target.AltKm)
	halfAngle := inst.EffectiveHalfAngleDeg()
	rectangular := inst.FOV.Shape == model.FOVRectangular

	visible := func(t time.Time) bool {
		satECI, velECI := prop.ECIAt(t)
		targetECI := ECEFToECIAt(targetECEF, t)
		if !hasLineOfSight(satECI, targetECI) {
			return false
		}
		if !rectangular {
			return offNadirAngleDeg(satECI, targetECI) <= halfAngle
		}
		along, cross := footprintAnglesDeg(satECI, velECI, targetECI)
		heightHalf := inst.FOV.HeightAngleDeg / 2
		widthHalf := inst.FOV.WidthAngleDeg / 2
		if inst.Maneuver != nil {
			// Rolling widens the cross-track reach.
			widthHalf += inst.Maneuver.MaxRollDeg
		}
		return abs(along) <= heightHalf && abs(cross) <= widthHalf
	}

	return newScanner(agentID, target.ID, horizon, coarseStep, visible)
}

// NewStationScanner builds a scanner for a satellite's contact windows with
// a ground station: elevation at or above the station minimum. Antennas are
// treated as omnidirectional; the simulator does not model link budgets.
func NewStationScanner(agentID string, prop Propagator, station model.GroundStation, horizon model.Window, coarseStep time.Duration) *AccessScanner {
	stationECEF := GeodeticToECEF(station.LatDeg, station.LonDeg, station.AltKm)

	visible := func(t time.Time) bool {
		satECI, _ := prop.ECIAt(t)
		satECEF := ECIToECEFAt(satECI, t)
		return ElevationDegrees(stationECEF, satECEF) >= station.MinElevationDeg
	}

	return newScanner(agentID, station.ID, horizon, coarseStep, visible)
}

func newScanner(agentID, targetID string, horizon model.Window, coarseStep time.Duration, visible visibleFunc) *AccessScanner {
	if coarseStep <= 0 {
		coarseStep = time.Minute
	}
	fine := defaultFineStep
	if coarseStep < fine {
		fine = coarseStep
	}
	return &AccessScanner{
		agentID:  agentID,
		targetID: targetID,
		horizon:  horizon,
		coarse:   coarseStep,
		fine:     fine,
		visible:  visible,
		cursor:   horizon.Start,
	}
}

// Next returns the next access interval at or after the scan cursor. The
// second return is false once the horizon is exhausted.
func (s *AccessScanner) Next() (model.AccessInterval, bool) {
	if s.done {
		return model.AccessInterval{}, false
	}

	// Coarse scan for the rising edge.
	t := s.cursor
	wasVisible := s.visible(t)
	start := t
	if !wasVisible {
		for {
			prev := t
			t = t.Add(s.coarse)
			if !t.Before(s.horizon.End) {
				s.done = true
				return model.AccessInterval{}, false
			}
			if s.visible(t) {
				start = s.refineEdge(prev, t, true)
				break
			}
		}
	}

	// Coarse scan for the falling edge, then refine.
	end := s.horizon.End
	for {
		prev := t
		t = t.Add(s.coarse)
		if !t.Before(s.horizon.End) {
			// Still visible at the horizon: the interval is clipped.
			if s.visible(s.horizon.End.Add(-s.fine)) {
				break
			}
			end = s.refineEdge(prev, s.horizon.End, false)
			break
		}
		if !s.visible(t) {
			end = s.refineEdge(prev, t, false)
			break
		}
	}

	s.cursor = end
	if !s.cursor.Before(s.horizon.End) {
		s.done = true
	}
	if !start.Before(end) {
		// Sub-resolution blip; skip it and continue scanning.
		return s.Next()
	}
	return model.AccessInterval{
		AgentID:  s.agentID,
		TargetID: s.targetID,
		Start:    start,
		End:      end,
	}, true
}

// refineEdge walks the fine step between lo (state known) and hi (state
// flipped) and returns the first instant with the new state. rising selects
// whether the edge is not-visible → visible.
func (s *AccessScanner) refineEdge(lo, hi time.Time, rising bool) time.Time {
	for t := lo; t.Before(hi); t = t.Add(s.fine) {
		if s.visible(t) == rising {
			return t
		}
	}
	return hi
}

// Reset restarts the scan from the beginning of the horizon.
func (s *AccessScanner) Reset() {
	s.cursor = s.horizon.Start
	s.done = false
}

// All drains the scanner, materializing every remaining interval. Intended
// for coarse horizons and tests; planner code should prefer Next.
func (s *AccessScanner) All() []model.AccessInterval {
	var out []model.AccessInterval
	for {
		iv, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, iv)
	}
}

// footprintAnglesDeg decomposes the satellite→target direction into
// along-track and cross-track angles off nadir, in degrees. The frame is
// built from the nadir direction and the component of the velocity
// orthogonal to it.
func footprintAnglesDeg(satPos, satVel, targetPos Vec3) (along, cross float64) {
	down := satPos.Scale(-1).Unit()
	forward := satVel.Sub(down.Scale(satVel.Dot(down))).Unit()
	side := down.Cross(forward)

	u := targetPos.Sub(satPos).Unit()
	d := u.Dot(down)
	along = radToDeg(math.Atan2(u.Dot(forward), d))
	cross = radToDeg(math.Atan2(u.Dot(side), d))
	return along, cross
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

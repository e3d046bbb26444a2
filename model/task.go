package model

import (
	"fmt"
	"time"
)

// Window is a half-open time interval [Start, End). Windows touching only at
// an endpoint do not overlap.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Overlaps reports whether two half-open windows share any instant.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Intersect returns the overlapping part of two windows. The second return
// is false when the windows are disjoint.
func (w Window) Intersect(o Window) (Window, bool) {
	start := w.Start
	if o.Start.After(start) {
		start = o.Start
	}
	end := w.End
	if o.End.Before(end) {
		end = o.End
	}
	if !start.Before(end) {
		return Window{}, false
	}
	return Window{Start: start, End: end}, true
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// IsZero reports whether the window is unset.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// GroundTarget is a fixed point on the ground that instruments observe.
// Grid cells and measurement-request sites are both targets.
type GroundTarget struct {
	ID     string
	GridID string

	LatDeg float64
	LonDeg float64
	AltKm  float64
}

// GridSpec defines a rectangular lat/lon lattice of ground targets.
type GridSpec struct {
	ID            string
	LatUpperDeg   float64
	LatLowerDeg   float64
	LonUpperDeg   float64
	LonLowerDeg   float64
	ResolutionDeg float64
}

// Targets expands the lattice into concrete ground targets, row-major from
// the lower-left corner. Bounds are inclusive on the lower edge; the upper
// edge is included when it lands on the lattice.
func (g GridSpec) Targets() []GroundTarget {
	if g.ResolutionDeg <= 0 {
		return nil
	}
	var out []GroundTarget
	const eps = 1e-9
	i := 0
	for lat := g.LatLowerDeg; lat <= g.LatUpperDeg+eps; lat += g.ResolutionDeg {
		for lon := g.LonLowerDeg; lon <= g.LonUpperDeg+eps; lon += g.ResolutionDeg {
			out = append(out, GroundTarget{
				ID:     fmt.Sprintf("%s-%d", g.ID, i),
				GridID: g.ID,
				LatDeg: lat,
				LonDeg: lon,
			})
			i++
		}
	}
	return out
}

// MeasurementRequest is a single observation demand from the scenario,
// either authored explicitly or generated from the request bounds.
type MeasurementRequest struct {
	ID     string
	LatDeg float64
	LonDeg float64

	// Severity and Urgency scale the task reward. Zero values mean 1.0.
	Severity float64
	Urgency  float64

	// Window constrains when the observation is valid. A zero window means
	// the full scenario horizon.
	Window Window

	// Duration of the observation itself. Zero means the scenario default.
	Duration time.Duration

	// Instruments lists acceptable instrument names. Empty means any.
	Instruments []string
}

// Task is one observation opportunity the auction allocates. Tasks are
// created once per scenario and persist for the horizon; ownership and bid
// state live in the knowledge base and the agents' bid tables, not here.
type Task struct {
	ID     string
	Target GroundTarget

	// Window is the validity interval for the observation.
	Window Window
	// Duration the instrument must dwell on the target.
	Duration time.Duration
	// Reward is the undiscounted value of completing the task.
	Reward float64

	// RequiredInstrument restricts which instruments may perform the task.
	// Empty means any instrument qualifies.
	RequiredInstrument string
}

// CanPerform reports whether an instrument satisfies the task's
// capability requirement.
func (t Task) CanPerform(inst Instrument) bool {
	return t.RequiredInstrument == "" || t.RequiredInstrument == inst.Name
}

// AccessInterval is a derived visibility window between an agent's
// instrument (or antenna) and a target or ground station. Half-open,
// read-only to the planner.
type AccessInterval struct {
	AgentID  string
	TargetID string
	Start    time.Time
	End      time.Time
}

// Window returns the interval as a Window value.
func (a AccessInterval) Window() Window {
	return Window{Start: a.Start, End: a.End}
}

// Package sim assembles a scenario from a mission document and drives the
// lockstep auction rounds to convergence.
package sim

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/tasking-simulator/internal/acbba"
)

// Tuning collects the planner parameters the mission format leaves open.
// Values are loadable from YAML; zero fields take the documented defaults,
// several of which scale with the propagator step.
type Tuning struct {
	// StalenessHorizonSteps is the bid-record decay horizon in propagator
	// steps. Default 5.
	StalenessHorizonSteps int `yaml:"stalenessHorizonSteps"`
	// ResurrectionGapSteps is the per-(task, sender) silence, in propagator
	// steps, after which a contradicting record triggers bundle truncation.
	// Default: same as the staleness horizon.
	ResurrectionGapSteps int `yaml:"resurrectionGapSteps"`
	// TieBreak resolves equal-value bids. Default LOWEST_AGENT_ID.
	TieBreak string `yaml:"tieBreak"`
	// BundleCap bounds every agent's bundle unless the spacecraft overrides
	// it. Default 3.
	BundleCap int `yaml:"bundleCap"`
	// ExtraStableRounds is how many additional rounds past all-agents-
	// converged, with no connectivity change, declare scenario convergence.
	// Default 1.
	ExtraStableRounds int `yaml:"extraStableRounds"`
	// UtilityLambda is the exponential utility decay rate per second.
	// Default 1/3600.
	UtilityLambda float64 `yaml:"utilityLambda"`
	// TaskDurationSeconds applies to tasks that carry no duration.
	// Default 30.
	TaskDurationSeconds float64 `yaml:"taskDurationSeconds"`
}

// DefaultTuning returns the documented defaults.
func DefaultTuning() Tuning {
	return Tuning{
		StalenessHorizonSteps: 5,
		TieBreak:              string(acbba.TieLowestAgentID),
		BundleCap:             3,
		ExtraStableRounds:     1,
		UtilityLambda:         1.0 / 3600,
		TaskDurationSeconds:   30,
	}
}

// LoadTuning reads a YAML tuning file over the defaults. An empty path
// returns the defaults unchanged.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Tuning{}, fmt.Errorf("parse tuning file: %w", err)
	}
	return t.normalized()
}

// normalized fills gaps and validates the tie-break name.
func (t Tuning) normalized() (Tuning, error) {
	d := DefaultTuning()
	if t.StalenessHorizonSteps <= 0 {
		t.StalenessHorizonSteps = d.StalenessHorizonSteps
	}
	if t.ResurrectionGapSteps <= 0 {
		t.ResurrectionGapSteps = t.StalenessHorizonSteps
	}
	if t.BundleCap <= 0 {
		t.BundleCap = d.BundleCap
	}
	if t.ExtraStableRounds < 0 {
		t.ExtraStableRounds = d.ExtraStableRounds
	}
	if t.UtilityLambda <= 0 {
		t.UtilityLambda = d.UtilityLambda
	}
	if t.TaskDurationSeconds <= 0 {
		t.TaskDurationSeconds = d.TaskDurationSeconds
	}
	if _, err := acbba.ParseTieBreak(t.TieBreak); err != nil {
		return Tuning{}, err
	}
	return t, nil
}

// StalenessHorizon converts the step-denominated horizon to a duration.
func (t Tuning) StalenessHorizon(step time.Duration) time.Duration {
	return time.Duration(t.StalenessHorizonSteps) * step
}

// ResurrectionGap converts the step-denominated gap to a duration.
func (t Tuning) ResurrectionGap(step time.Duration) time.Duration {
	gap := t.ResurrectionGapSteps
	if gap <= 0 {
		gap = t.StalenessHorizonSteps
	}
	return time.Duration(gap) * step
}

// TaskDuration returns the default observation dwell.
func (t Tuning) TaskDuration() time.Duration {
	return time.Duration(t.TaskDurationSeconds * float64(time.Second))
}

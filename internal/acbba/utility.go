package acbba

import (
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/tasking-simulator/model"
)

// UtilityFunc scores completing a task with an observation starting at
// imgTime. Callers guarantee imgTime lies inside the task's validity
// window; outside-window and resource-infeasible candidates never reach the
// utility function (they are negative infinity by construction).
type UtilityFunc func(task model.Task, imgTime time.Time) float64

// Infeasible is the bid value of a task that cannot be scheduled.
var Infeasible = math.Inf(-1)

// LinearUtility returns the task's reward, constant across the feasible
// window.
func LinearUtility(task model.Task, _ time.Time) float64 {
	return task.Reward
}

// ExponentialUtility discounts the reward the later the observation starts
// within the task's validity window, rewarding earlier imaging.
func ExponentialUtility(lambda float64) UtilityFunc {
	return func(task model.Task, imgTime time.Time) float64 {
		delay := imgTime.Sub(task.Window.Start).Seconds()
		if delay < 0 {
			delay = 0
		}
		return task.Reward * math.Exp(-lambda*delay)
	}
}

// UtilityFor selects the utility function for a mission-file utility name.
func UtilityFor(ut model.UtilityType, lambda float64) (UtilityFunc, error) {
	switch ut {
	case model.UtilityLinear, "":
		return LinearUtility, nil
	case model.UtilityExponential:
		if lambda <= 0 {
			lambda = 1.0 / 3600 // one e-folding per hour
		}
		return ExponentialUtility(lambda), nil
	}
	return nil, fmt.Errorf("unknown utility type %q", ut)
}

package model

import "time"

// PlannerType selects the onboard planning module assigned to a spacecraft.
type PlannerType string

const (
	// PlannerACBBA runs the asynchronous consensus-based bundle auction.
	PlannerACBBA PlannerType = "ACBBA"
	// PlannerCommsTest only records contact events; it never bids.
	PlannerCommsTest PlannerType = "COMMS_TEST"
)

// UtilityType selects the reward function used when scoring candidate tasks.
type UtilityType string

const (
	UtilityLinear UtilityType = "LINEAR"
	// UtilityExponential discounts reward the later a task is imaged
	// within its window.
	UtilityExponential UtilityType = "EXPONENTIAL"
)

// PlannerConfig is the per-spacecraft planner assignment.
type PlannerConfig struct {
	Type    PlannerType
	Utility UtilityType

	// BundleCap bounds the number of tasks an agent may hold at once.
	// Zero means "use the scenario default".
	BundleCap int
	// StalenessHorizon overrides the scenario-wide bid staleness horizon
	// for this agent. Zero means "use the scenario default".
	StalenessHorizon time.Duration
}

// CmdhSpec describes the command-and-data-handling subsystem.
type CmdhSpec struct {
	PowerW   float64
	MemoryGB float64
}

// CommsSpec describes the communications subsystem.
type CommsSpec struct {
	TransmitPowerW  float64
	MaxDataRateMbps float64
}

// BatterySpec describes the bus battery.
type BatterySpec struct {
	CapacityWh     float64
	MaxChargeRateW float64
	// DepthOfDischarge is the usable fraction of capacity, in (0, 1].
	// State of charge may not drop below CapacityWh * (1 - DepthOfDischarge).
	DepthOfDischarge float64
}

// SolarPanelSpec describes the power generation capability while sunlit.
type SolarPanelSpec struct {
	PowerW float64
}

// EpsSpec describes the electrical power subsystem.
type EpsSpec struct {
	Battery    BatterySpec
	SolarPanel SolarPanelSpec
}

// Bus aggregates the spacecraft platform characteristics that gate
// task feasibility.
type Bus struct {
	Name        string
	MassKg      float64
	VolumeM3    float64
	Orientation string

	Cmdh  CmdhSpec
	Comms CommsSpec
	Eps   EpsSpec
}

// Spacecraft represents one satellite in the scenario. Identity is immutable;
// orbital and resource state evolve each tick and are tracked by the engine.
type Spacecraft struct {
	ID   string
	Name string

	Bus         Bus
	Instruments []Instrument
	Orbit       OrbitState
	Planner     PlannerConfig

	// Preplan seeds the agent's bundle from its own access windows before
	// the first broadcast round.
	Preplan bool
	// Notifier enables per-event notifications for this spacecraft.
	// Empty means no notifications.
	Notifier       string
	MissionProfile string
}

// PrimaryInstrument returns the first instrument, which carries the
// payload FOV used for target visibility. Returns a zero Instrument if the
// spacecraft has none.
func (s Spacecraft) PrimaryInstrument() Instrument {
	if len(s.Instruments) == 0 {
		return Instrument{}
	}
	return s.Instruments[0]
}

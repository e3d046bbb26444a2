package core

import (
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/tasking-simulator/model"
)

// ResourceExhaustionError reports a committed task that cannot be honored
// at execution time. The task is dropped and rebid; the scenario continues.
type ResourceExhaustionError struct {
	SpacecraftID string
	Resource     string // "battery" or "buffer" or "duty"
	At           time.Time
	Value        float64
	Bound        float64
}

func (e *ResourceExhaustionError) Error() string {
	return fmt.Sprintf("%s exhausted on %q at %s: %.2f exceeds bound %.2f",
		e.Resource, e.SpacecraftID, e.At.Format(time.RFC3339), e.Value, e.Bound)
}

// ResourceConfig bounds a satellite's consumables.
type ResourceConfig struct {
	// Battery, watt-hours. FloorWh = CapacityWh * (1 - depthOfDischarge).
	BatteryCapacityWh float64
	BatteryFloorWh    float64
	// ChargeRateW is the solar panel output while sunlit.
	ChargeRateW float64
	// BaselineLoadW is the constant bus draw (CMDH + comms idle).
	BaselineLoadW float64

	// Buffer, bits.
	BufferCapacityBits float64
	// DownlinkRateBps drains the buffer during ground-station access.
	DownlinkRateBps float64

	// MaxDutyCycle bounds the instrument-active fraction of the horizon.
	// Zero disables the bound.
	MaxDutyCycle float64

	// Step is the ledger's integration granularity. Zero means one minute.
	Step time.Duration
}

// Commitment is one scheduled observation the ledger must account for:
// instrument power draw for the window's duration, plus the generated data
// volume.
type Commitment struct {
	TaskID string
	Window model.Window
	PowerW float64
	// DataBits is the volume generated by the observation
	// (dataRate × duration, precomputed by the caller).
	DataBits float64
}

// SunlitFunc reports whether the satellite is in sunlight at t.
type SunlitFunc func(t time.Time) bool

// ResourceLedger tracks one satellite's battery state of charge and data
// buffer occupancy over simulation time. The ledger advances monotonically;
// feasibility checks for candidate bundles run on a throwaway copy.
type ResourceLedger struct {
	SpacecraftID string

	cfg    ResourceConfig
	sunlit SunlitFunc
	// downlink holds the satellite's ground-station access windows, sorted
	// by start, used to drain the buffer.
	downlink []model.Window

	now        time.Time
	socWh      float64
	bufferBits float64
}

// NewResourceLedger builds a ledger starting at full charge and an empty
// buffer at start.
func NewResourceLedger(spacecraftID string, cfg ResourceConfig, sunlit SunlitFunc, start time.Time) *ResourceLedger {
	if cfg.Step <= 0 {
		cfg.Step = time.Minute
	}
	if sunlit == nil {
		sunlit = func(time.Time) bool { return true }
	}
	return &ResourceLedger{
		SpacecraftID: spacecraftID,
		cfg:          cfg,
		sunlit:       sunlit,
		now:          start,
		socWh:        cfg.BatteryCapacityWh,
	}
}

// SetDownlinkWindows installs the satellite's ground-station access
// intervals used to drain the buffer.
func (l *ResourceLedger) SetDownlinkWindows(windows []model.Window) {
	l.downlink = append([]model.Window(nil), windows...)
	sort.Slice(l.downlink, func(i, j int) bool { return l.downlink[i].Start.Before(l.downlink[j].Start) })
}

// StateOfChargeWh returns the current battery level.
func (l *ResourceLedger) StateOfChargeWh() float64 { return l.socWh }

// BufferBits returns the current buffer occupancy.
func (l *ResourceLedger) BufferBits() float64 { return l.bufferBits }

// Now returns the ledger's current time.
func (l *ResourceLedger) Now() time.Time { return l.now }

// clone copies the ledger for dry-run simulation.
func (l *ResourceLedger) clone() *ResourceLedger {
	c := *l
	return &c
}

// AdvanceTo integrates idle behavior from the ledger's current time to t:
// baseline draw, solar charging while sunlit, buffer drain during downlink
// windows. Returns a ResourceExhaustionError if the baseline load alone
// breaches the battery floor.
func (l *ResourceLedger) AdvanceTo(t time.Time) error {
	for l.now.Before(t) {
		step := l.cfg.Step
		if remaining := t.Sub(l.now); remaining < step {
			step = remaining
		}
		hours := step.Hours()

		l.socWh -= l.cfg.BaselineLoadW * hours
		if l.sunlit(l.now) {
			l.socWh += l.cfg.ChargeRateW * hours
			if l.socWh > l.cfg.BatteryCapacityWh {
				l.socWh = l.cfg.BatteryCapacityWh
			}
		}
		if l.inDownlink(l.now) {
			l.bufferBits -= l.cfg.DownlinkRateBps * step.Seconds()
			if l.bufferBits < 0 {
				l.bufferBits = 0
			}
		}
		l.now = l.now.Add(step)

		if l.socWh < l.cfg.BatteryFloorWh {
			return &ResourceExhaustionError{
				SpacecraftID: l.SpacecraftID,
				Resource:     "battery",
				At:           l.now,
				Value:        l.socWh,
				Bound:        l.cfg.BatteryFloorWh,
			}
		}
	}
	return nil
}

// Execute applies one commitment at execution time. The ledger is advanced
// to the commitment's start first; the instrument draw and data volume are
// then applied across the window. A bound violation returns a
// ResourceExhaustionError and leaves the ledger at the violation point.
func (l *ResourceLedger) Execute(c Commitment) error {
	if err := l.AdvanceTo(c.Window.Start); err != nil {
		return err
	}

	hours := c.Window.Duration().Hours()
	l.socWh -= c.PowerW * hours
	if l.sunlit(c.Window.Start) {
		l.socWh += l.cfg.ChargeRateW * hours
		if l.socWh > l.cfg.BatteryCapacityWh {
			l.socWh = l.cfg.BatteryCapacityWh
		}
	}
	l.bufferBits += c.DataBits
	l.now = c.Window.End

	if l.socWh < l.cfg.BatteryFloorWh {
		return &ResourceExhaustionError{
			SpacecraftID: l.SpacecraftID,
			Resource:     "battery",
			At:           c.Window.End,
			Value:        l.socWh,
			Bound:        l.cfg.BatteryFloorWh,
		}
	}
	if l.bufferBits > l.cfg.BufferCapacityBits {
		return &ResourceExhaustionError{
			SpacecraftID: l.SpacecraftID,
			Resource:     "buffer",
			At:           c.Window.End,
			Value:        l.bufferBits,
			Bound:        l.cfg.BufferCapacityBits,
		}
	}
	return nil
}

// CanCommit dry-runs the full candidate schedule from the ledger's current
// state without mutating it. Commitments are simulated in start order. The
// horizon end bounds the duty-cycle check.
func (l *ResourceLedger) CanCommit(schedule []Commitment, horizonEnd time.Time) error {
	ordered := append([]Commitment(nil), schedule...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Window.Start.Before(ordered[j].Window.Start) })

	if l.cfg.MaxDutyCycle > 0 {
		var active time.Duration
		for _, c := range ordered {
			active += c.Window.Duration()
		}
		horizon := horizonEnd.Sub(l.now)
		if horizon > 0 && active.Seconds() > l.cfg.MaxDutyCycle*horizon.Seconds() {
			return &ResourceExhaustionError{
				SpacecraftID: l.SpacecraftID,
				Resource:     "duty",
				At:           l.now,
				Value:        active.Seconds() / horizon.Seconds(),
				Bound:        l.cfg.MaxDutyCycle,
			}
		}
	}

	dry := l.clone()
	for _, c := range ordered {
		if c.Window.Start.Before(dry.now) {
			// Overlapping or out-of-order commitments cannot be honored.
			return &ResourceExhaustionError{
				SpacecraftID: l.SpacecraftID,
				Resource:     "duty",
				At:           c.Window.Start,
				Value:        0,
				Bound:        0,
			}
		}
		if err := dry.Execute(c); err != nil {
			return err
		}
	}
	return nil
}

func (l *ResourceLedger) inDownlink(t time.Time) bool {
	for _, w := range l.downlink {
		if w.Contains(t) {
			return true
		}
		if w.Start.After(t) {
			return false
		}
	}
	return false
}

// ResourceConfigFromBus derives ledger bounds from a spacecraft bus and its
// primary instrument's data rate.
func ResourceConfigFromBus(bus model.Bus, step time.Duration) ResourceConfig {
	battery := bus.Eps.Battery
	floor := battery.CapacityWh * (1 - battery.DepthOfDischarge)
	if battery.DepthOfDischarge <= 0 || battery.DepthOfDischarge > 1 {
		floor = 0
	}
	charge := bus.Eps.SolarPanel.PowerW
	if battery.MaxChargeRateW > 0 && battery.MaxChargeRateW < charge {
		charge = battery.MaxChargeRateW
	}
	return ResourceConfig{
		BatteryCapacityWh:  battery.CapacityWh,
		BatteryFloorWh:     floor,
		ChargeRateW:        charge,
		BaselineLoadW:      bus.Cmdh.PowerW,
		BufferCapacityBits: bus.Cmdh.MemoryGB * 8e9,
		DownlinkRateBps:    bus.Comms.MaxDataRateMbps * 1e6,
		Step:               step,
	}
}

// Package mission parses the declarative mission specification consumed
// wholesale at scenario start. The format follows the fixture convention:
// booleans are the strings "True"/"False", numbers may be integers, floats,
// or exponential literals, and type discriminators live in "@type" fields.
package mission

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/signalsfoundry/tasking-simulator/model"
)

// ConfigError reports a malformed or missing required field. Fatal at
// load, surfaced before simulation starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mission config: field %q: %s", e.Field, e.Reason)
}

// StringBool coerces the fixture convention of booleans serialized as the
// strings "True"/"False". Native JSON booleans and lowercase strings are
// accepted too; absent fields default to false.
type StringBool bool

// UnmarshalJSON accepts "True", "False", "true", "false", true, false.
func (b *StringBool) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case bool:
		*b = StringBool(v)
		return nil
	case string:
		switch strings.ToLower(v) {
		case "true":
			*b = true
			return nil
		case "false", "":
			*b = false
			return nil
		}
		return fmt.Errorf("invalid boolean string %q", v)
	}
	return fmt.Errorf("invalid boolean value %v", raw)
}

// MarshalJSON writes the fixture string form.
func (b StringBool) MarshalJSON() ([]byte, error) {
	if b {
		return json.Marshal("True")
	}
	return json.Marshal("False")
}

// Epoch is the simulation start time in calendar fields.
type Epoch struct {
	Type   string  `json:"@type,omitempty"`
	Year   int     `json:"year"`
	Month  int     `json:"month"`
	Day    int     `json:"day"`
	Hour   int     `json:"hour"`
	Minute int     `json:"minute"`
	Second float64 `json:"second"`
}

// Time converts the epoch to a UTC instant.
func (e Epoch) Time() time.Time {
	sec := int(e.Second)
	nsec := int((e.Second - float64(sec)) * 1e9)
	return time.Date(e.Year, time.Month(e.Month), e.Day, e.Hour, e.Minute, sec, nsec, time.UTC)
}

// PropagatorSpec selects the orbit propagation fidelity and granularity.
type PropagatorSpec struct {
	Type string `json:"@type"`
	// StepSize is the advance granularity in seconds.
	StepSize float64 `json:"stepSize"`
}

// ComponentSpec carries one bus subsystem's power and capacity fields.
type ComponentSpec struct {
	Power      float64 `json:"power"`
	MemorySize float64 `json:"memorySize"`
}

// TransmitterSpec describes the comms transmitter.
type TransmitterSpec struct {
	Power       float64 `json:"power"`
	MaxDataRate float64 `json:"maxDataRate"`
}

// CommsSpec groups the comms subsystem.
type CommsSpec struct {
	Transmitter TransmitterSpec `json:"transmitter"`
	Receiver    TransmitterSpec `json:"receiver"`
}

// BatterySpec describes the EPS battery.
type BatterySpec struct {
	Capacity         float64 `json:"capacity"`
	MaxChargeRate    float64 `json:"maxChargeRate"`
	DepthOfDischarge float64 `json:"depthOfDischarge"`
}

// SolarPanelSpec describes the EPS generation.
type SolarPanelSpec struct {
	Power float64 `json:"power"`
}

// EpsSpec groups the electrical power subsystem.
type EpsSpec struct {
	Battery    BatterySpec    `json:"battery"`
	SolarPanel SolarPanelSpec `json:"solarPanel"`
}

// ComponentsSpec groups the bus subsystems.
type ComponentsSpec struct {
	Cmdh  ComponentSpec `json:"cmdh"`
	Comms CommsSpec     `json:"comms"`
	Eps   EpsSpec       `json:"eps"`
}

// BusSpec describes the spacecraft platform.
type BusSpec struct {
	Name        string         `json:"name"`
	Mass        float64        `json:"mass"`
	Volume      float64        `json:"volume"`
	Orientation string         `json:"orientation"`
	Components  ComponentsSpec `json:"components"`
}

// FOVSpec describes an instrument field-of-view geometry.
type FOVSpec struct {
	Type        string  `json:"@type"`
	Diameter    float64 `json:"diameter"`
	HeightAngle float64 `json:"heightAngle"`
	WidthAngle  float64 `json:"widthAngle"`
}

// ManeuverSpec describes optional slew capability.
type ManeuverSpec struct {
	Type     string  `json:"@type"`
	RollMax  float64 `json:"a_rollMax"`
	PitchMax float64 `json:"a_pitchMax"`
}

// InstrumentSpec describes a payload sensor.
type InstrumentSpec struct {
	Name         string        `json:"name"`
	Mass         float64       `json:"mass"`
	Power        float64       `json:"power"`
	BitsPerPixel float64       `json:"bitsPerPixel"`
	DataRate     float64       `json:"dataRate"`
	SNR          float64       `json:"snr"`
	SpatialRes   float64       `json:"spatialRes"`
	FOV          FOVSpec       `json:"fieldOfViewGeometry"`
	Maneuver     *ManeuverSpec `json:"maneuver,omitempty"`
}

// OrbitDate is the orbit state epoch.
type OrbitDate struct {
	Type   string  `json:"@type,omitempty"`
	Year   int     `json:"year"`
	Month  int     `json:"month"`
	Day    int     `json:"day"`
	Hour   int     `json:"hour"`
	Minute int     `json:"minute"`
	Second float64 `json:"second"`
}

// OrbitElements carries Keplerian elements or a TLE line pair, selected by
// the @type discriminator.
type OrbitElements struct {
	Type  string  `json:"@type"`
	SMA   float64 `json:"sma"`
	Ecc   float64 `json:"ecc"`
	Inc   float64 `json:"inc"`
	RAAN  float64 `json:"raan"`
	AOP   float64 `json:"aop"`
	TA    float64 `json:"ta"`
	Line1 string  `json:"line1,omitempty"`
	Line2 string  `json:"line2,omitempty"`
}

// OrbitStateSpec is a spacecraft's initial orbital state.
type OrbitStateSpec struct {
	Date  OrbitDate     `json:"date"`
	State OrbitElements `json:"state"`
}

// PlannerSpec is the per-spacecraft planner assignment.
type PlannerSpec struct {
	Type    string `json:"@type"`
	Utility string `json:"utility"`
	// LBundle bounds the agent's bundle size; zero uses the default.
	LBundle float64 `json:"l_bundle,omitempty"`
	// StalenessHorizon, seconds; zero uses the scenario default.
	StalenessHorizon float64 `json:"stalenessHorizon,omitempty"`
}

// SpacecraftSpec declares one satellite.
type SpacecraftSpec struct {
	ID             string         `json:"@id"`
	Name           string         `json:"name"`
	Bus            BusSpec        `json:"spacecraftBus"`
	Instrument     InstrumentSpec `json:"instrument"`
	OrbitState     OrbitStateSpec `json:"orbitState"`
	Planner        PlannerSpec    `json:"planner"`
	Notifier       string         `json:"notifier,omitempty"`
	MissionProfile string         `json:"missionProfile,omitempty"`
	Preplan        StringBool     `json:"preplan,omitempty"`
}

// AntennaSpec describes a ground-station antenna.
type AntennaSpec struct {
	Bands     []string `json:"bands"`
	Frequency float64  `json:"frequency"`
	EIRP      float64  `json:"eirp"`
	Gain      float64  `json:"gain"`
	Diameter  float64  `json:"diameter"`
	Power     float64  `json:"power"`
}

// GroundStationSpec declares one downlink/relay site.
type GroundStationSpec struct {
	ID               string      `json:"@id"`
	Name             string      `json:"name"`
	Latitude         float64     `json:"latitude"`
	Longitude        float64     `json:"longitude"`
	Altitude         float64     `json:"altitude"`
	MinimumElevation float64     `json:"minimumElevation"`
	Antenna          AntennaSpec `json:"antenna"`
}

// GridSpec declares an autogrid ground-cell lattice.
type GridSpec struct {
	Type     string  `json:"@type"`
	ID       string  `json:"@id"`
	LatUpper float64 `json:"latUpper"`
	LatLower float64 `json:"latLower"`
	LonUpper float64 `json:"lonUpper"`
	LonLower float64 `json:"lonLower"`
	GridRes  float64 `json:"gridRes"`
}

// MeasurementReqSpec is one explicit observation demand.
type MeasurementReqSpec struct {
	ID       string  `json:"@id,omitempty"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Severity float64 `json:"severity,omitempty"`
	Urgency  float64 `json:"urgency,omitempty"`
	// TStart/TEnd narrow the validity window, seconds from epoch.
	TStart float64 `json:"t_start,omitempty"`
	TEnd   float64 `json:"t_end,omitempty"`
}

// RequestsSpec declares the scenario's observation demands.
type RequestsSpec struct {
	N               float64              `json:"n"`
	MeasurementReqs []MeasurementReqSpec `json:"measurement_reqs"`
	XBounds         []float64            `json:"x_bounds"`
	YBounds         []float64            `json:"y_bounds"`
}

// ScenarioSpec groups the scenario-wide planner settings.
type ScenarioSpec struct {
	Type         string       `json:"@type"`
	Duration     float64      `json:"duration"`
	Connectivity string       `json:"connectivity"`
	Utility      string       `json:"utility"`
	Requests     RequestsSpec `json:"requests"`
	Seed         float64      `json:"seed,omitempty"`
}

// SettingsSpec groups output settings.
type SettingsSpec struct {
	CoverageType string `json:"coverageType"`
	OutDir       string `json:"outDir"`
}

// Document is a parsed mission specification.
type Document struct {
	Epoch         Epoch               `json:"epoch"`
	Duration      float64             `json:"duration"` // days
	Propagator    PropagatorSpec      `json:"propagator"`
	Spacecraft    []SpacecraftSpec    `json:"spacecraft"`
	GroundStation []GroundStationSpec `json:"groundStation"`
	Grid          []GridSpec          `json:"grid"`
	Scenario      ScenarioSpec        `json:"scenario"`
	Settings      SettingsSpec        `json:"settings"`
}

// Load parses and validates a mission document.
func Load(r io.Reader) (*Document, error) {
	dec := json.NewDecoder(r)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, &ConfigError{Field: "(document)", Reason: err.Error()}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadFile parses and validates a mission document from disk.
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{Field: "(document)", Reason: err.Error()}
	}
	defer f.Close()
	return Load(f)
}

// Validate checks required fields, naming the offending field path.
func (d *Document) Validate() error {
	if d.Epoch.Year == 0 {
		return &ConfigError{Field: "epoch.year", Reason: "missing or zero"}
	}
	if d.Duration <= 0 {
		return &ConfigError{Field: "duration", Reason: "must be positive"}
	}
	if d.Propagator.StepSize <= 0 {
		return &ConfigError{Field: "propagator.stepSize", Reason: "must be positive"}
	}
	if len(d.Spacecraft) == 0 {
		return &ConfigError{Field: "spacecraft", Reason: "at least one spacecraft required"}
	}
	seen := make(map[string]struct{}, len(d.Spacecraft))
	for i, sc := range d.Spacecraft {
		field := fmt.Sprintf("spacecraft[%d]", i)
		if sc.ID == "" {
			return &ConfigError{Field: field + ".@id", Reason: "missing"}
		}
		if _, dup := seen[sc.ID]; dup {
			return &ConfigError{Field: field + ".@id", Reason: fmt.Sprintf("duplicate id %q", sc.ID)}
		}
		seen[sc.ID] = struct{}{}
		switch strings.ToUpper(sc.OrbitState.State.Type) {
		case "KEPLERIAN", "":
		case "TLE":
			if sc.OrbitState.State.Line1 == "" || sc.OrbitState.State.Line2 == "" {
				return &ConfigError{Field: field + ".orbitState.state", Reason: "TLE requires line1 and line2"}
			}
		default:
			return &ConfigError{Field: field + ".orbitState.state.@type", Reason: fmt.Sprintf("unknown type %q", sc.OrbitState.State.Type)}
		}
		switch strings.ToUpper(sc.Planner.Type) {
		case "", "ACBBA", "COMMS_TEST":
		default:
			return &ConfigError{Field: field + ".planner.@type", Reason: fmt.Sprintf("unknown planner %q", sc.Planner.Type)}
		}
	}
	for i, gs := range d.GroundStation {
		if gs.ID == "" {
			return &ConfigError{Field: fmt.Sprintf("groundStation[%d].@id", i), Reason: "missing"}
		}
	}
	for i, g := range d.Grid {
		field := fmt.Sprintf("grid[%d]", i)
		if g.ID == "" {
			return &ConfigError{Field: field + ".@id", Reason: "missing"}
		}
		if g.GridRes <= 0 {
			return &ConfigError{Field: field + ".gridRes", Reason: "must be positive"}
		}
		if g.LatUpper < g.LatLower || g.LonUpper < g.LonLower {
			return &ConfigError{Field: field, Reason: "bounds inverted"}
		}
	}
	if d.Scenario.Connectivity != "" {
		switch d.Scenario.Connectivity {
		case "FULL", "LINE_OF_SIGHT", "GROUND_RELAY":
		default:
			return &ConfigError{Field: "scenario.connectivity", Reason: fmt.Sprintf("unknown mode %q", d.Scenario.Connectivity)}
		}
	}
	return nil
}

// Horizon returns the scenario time window: epoch plus duration days.
func (d *Document) Horizon() model.Window {
	start := d.Epoch.Time()
	return model.Window{
		Start: start,
		End:   start.Add(time.Duration(d.Duration * 24 * float64(time.Hour))),
	}
}

// StepSize returns the propagator step as a duration.
func (d *Document) StepSize() time.Duration {
	return time.Duration(d.Propagator.StepSize * float64(time.Second))
}

// Spacecraft converts one spacecraft spec to the domain model, applying
// documented defaults (missing planner → ACBBA/LINEAR; missing notifier →
// not notifying; missing preplan → false).
func (s SpacecraftSpec) Spacecraft() model.Spacecraft {
	plannerType := model.PlannerType(strings.ToUpper(s.Planner.Type))
	if plannerType == "" {
		plannerType = model.PlannerACBBA
	}
	utility := model.UtilityType(strings.ToUpper(s.Planner.Utility))
	if utility == "" {
		utility = model.UtilityLinear
	}

	inst := model.Instrument{
		Name:         s.Instrument.Name,
		MassKg:       s.Instrument.Mass,
		PowerW:       s.Instrument.Power,
		BitsPerPixel: int(s.Instrument.BitsPerPixel),
		DataRateMbps: s.Instrument.DataRate,
		SNR:          s.Instrument.SNR,
		SpatialResM:  s.Instrument.SpatialRes,
		FOV: model.FieldOfView{
			Shape:          model.FOVShape(strings.ToUpper(s.Instrument.FOV.Type)),
			DiameterDeg:    s.Instrument.FOV.Diameter,
			HeightAngleDeg: s.Instrument.FOV.HeightAngle,
			WidthAngleDeg:  s.Instrument.FOV.WidthAngle,
		},
	}
	if s.Instrument.Maneuver != nil {
		inst.Maneuver = &model.Maneuver{
			Type:       s.Instrument.Maneuver.Type,
			MaxRollDeg: s.Instrument.Maneuver.RollMax,
		}
	}

	orbitType := model.OrbitStateKeplerian
	if strings.ToUpper(s.OrbitState.State.Type) == "TLE" {
		orbitType = model.OrbitStateTLE
	}
	date := s.OrbitState.Date
	sec := int(date.Second)
	nsec := int((date.Second - float64(sec)) * 1e9)
	epoch := time.Date(date.Year, time.Month(date.Month), date.Day, date.Hour, date.Minute, sec, nsec, time.UTC)

	return model.Spacecraft{
		ID:   s.ID,
		Name: s.Name,
		Bus: model.Bus{
			Name:        s.Bus.Name,
			MassKg:      s.Bus.Mass,
			VolumeM3:    s.Bus.Volume,
			Orientation: s.Bus.Orientation,
			Cmdh: model.CmdhSpec{
				PowerW:   s.Bus.Components.Cmdh.Power,
				MemoryGB: s.Bus.Components.Cmdh.MemorySize,
			},
			Comms: model.CommsSpec{
				TransmitPowerW:  s.Bus.Components.Comms.Transmitter.Power,
				MaxDataRateMbps: s.Bus.Components.Comms.Transmitter.MaxDataRate,
			},
			Eps: model.EpsSpec{
				Battery: model.BatterySpec{
					CapacityWh:       s.Bus.Components.Eps.Battery.Capacity,
					MaxChargeRateW:   s.Bus.Components.Eps.Battery.MaxChargeRate,
					DepthOfDischarge: s.Bus.Components.Eps.Battery.DepthOfDischarge,
				},
				SolarPanel: model.SolarPanelSpec{
					PowerW: s.Bus.Components.Eps.SolarPanel.Power,
				},
			},
		},
		Instruments: []model.Instrument{inst},
		Orbit: model.OrbitState{
			Type:           orbitType,
			Epoch:          epoch,
			SMAKm:          s.OrbitState.State.SMA,
			Eccentricity:   s.OrbitState.State.Ecc,
			InclinationDeg: s.OrbitState.State.Inc,
			RAANDeg:        s.OrbitState.State.RAAN,
			ArgPerigeeDeg:  s.OrbitState.State.AOP,
			TrueAnomalyDeg: s.OrbitState.State.TA,
			TLELine1:       s.OrbitState.State.Line1,
			TLELine2:       s.OrbitState.State.Line2,
		},
		Planner: model.PlannerConfig{
			Type:             plannerType,
			Utility:          utility,
			BundleCap:        int(s.Planner.LBundle),
			StalenessHorizon: time.Duration(s.Planner.StalenessHorizon * float64(time.Second)),
		},
		Preplan:        bool(s.Preplan),
		Notifier:       s.Notifier,
		MissionProfile: s.MissionProfile,
	}
}

// Station converts one ground-station spec to the domain model.
func (g GroundStationSpec) Station() model.GroundStation {
	return model.GroundStation{
		ID:              g.ID,
		Name:            g.Name,
		LatDeg:          g.Latitude,
		LonDeg:          g.Longitude,
		AltKm:           g.Altitude,
		MinElevationDeg: g.MinimumElevation,
		Antenna: model.Antenna{
			Bands:       g.Antenna.Bands,
			FrequencyHz: g.Antenna.Frequency,
			EIRPDbw:     g.Antenna.EIRP,
			GainDb:      g.Antenna.Gain,
			DiameterM:   g.Antenna.Diameter,
			PowerW:      g.Antenna.Power,
		},
	}
}

// Grid converts one grid spec to the domain model.
func (g GridSpec) Model() model.GridSpec {
	return model.GridSpec{
		ID:            g.ID,
		LatUpperDeg:   g.LatUpper,
		LatLowerDeg:   g.LatLower,
		LonUpperDeg:   g.LonUpper,
		LonLowerDeg:   g.LonLower,
		ResolutionDeg: g.GridRes,
	}
}

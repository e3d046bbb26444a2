package model

// Antenna describes a ground-station antenna. These parameters are carried
// through from the mission file; the simulator does not model link budgets.
type Antenna struct {
	Bands       []string
	FrequencyHz float64
	EIRPDbw     float64
	GainDb      float64
	DiameterM   float64
	PowerW      float64
}

// GroundStation is a fixed downlink/relay site. Static for the scenario.
type GroundStation struct {
	ID   string
	Name string

	LatDeg float64
	LonDeg float64
	AltKm  float64

	// MinElevationDeg is the lowest elevation angle at which the station
	// can track a satellite.
	MinElevationDeg float64

	Antenna Antenna
}

package model

import "time"

// OrbitStateType indicates how a spacecraft's orbit is specified.
type OrbitStateType string

const (
	// OrbitStateKeplerian specifies the orbit as classical elements at an epoch.
	OrbitStateKeplerian OrbitStateType = "KEPLERIAN"
	// OrbitStateTLE specifies the orbit as a two-line element set.
	OrbitStateTLE OrbitStateType = "TLE"
)

// OrbitState is the initial orbital state of a spacecraft. It advances
// monotonically with simulation time and is never rewound except at a
// scenario reset.
type OrbitState struct {
	Type  OrbitStateType
	Epoch time.Time

	// Classical elements, used when Type == OrbitStateKeplerian.
	// Angles are degrees, semi-major axis is kilometres.
	SMAKm          float64
	Eccentricity   float64
	InclinationDeg float64
	RAANDeg        float64
	ArgPerigeeDeg  float64
	TrueAnomalyDeg float64

	// Element set lines, used when Type == OrbitStateTLE.
	TLELine1 string
	TLELine2 string
}

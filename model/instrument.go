package model

// FOVShape identifies the field-of-view geometry of an instrument.
type FOVShape string

const (
	FOVCircular    FOVShape = "CIRCULAR"
	FOVRectangular FOVShape = "RECTANGULAR"
)

// FieldOfView describes the angular footprint of an instrument.
// Circular geometries use DiameterDeg (full cone angle); rectangular
// geometries use the along-track HeightAngleDeg and cross-track
// WidthAngleDeg (also full angles).
type FieldOfView struct {
	Shape          FOVShape
	DiameterDeg    float64
	HeightAngleDeg float64
	WidthAngleDeg  float64
}

// HalfAngleDeg returns the half-cone angle for circular geometries, or the
// larger of the two half-angles for rectangular ones (an upper bound used by
// coarse visibility scans).
func (f FieldOfView) HalfAngleDeg() float64 {
	if f.Shape == FOVRectangular {
		h := f.HeightAngleDeg / 2
		if w := f.WidthAngleDeg / 2; w > h {
			return w
		}
		return h
	}
	return f.DiameterDeg / 2
}

// Maneuver describes an optional slew capability that widens the reachable
// footprint beyond the nadir-pointed FOV.
type Maneuver struct {
	Type       string
	MaxRollDeg float64
}

// Instrument is a payload sensor owned by a Spacecraft.
type Instrument struct {
	Name         string
	MassKg       float64
	PowerW       float64
	BitsPerPixel int
	DataRateMbps float64
	SNR          float64
	SpatialResM  float64

	FOV FieldOfView
	// Maneuver is nil for fixed nadir-pointing instruments.
	Maneuver *Maneuver
}

// EffectiveHalfAngleDeg is the FOV half-angle widened by the maneuver roll
// range, when present.
func (i Instrument) EffectiveHalfAngleDeg() float64 {
	half := i.FOV.HalfAngleDeg()
	if i.Maneuver != nil {
		half += i.Maneuver.MaxRollDeg
	}
	return half
}

package core

import "math"

// EarthRadiusKm is the mean Earth radius used for occlusion and shadow
// tests (kilometres).
const EarthRadiusKm = 6371.0

// EarthEquatorialRadiusKm is the equatorial radius used for geodetic
// conversions and orbit perturbations (kilometres).
const EarthEquatorialRadiusKm = 6378.137

// Vec3 is an Earth-centred vector in kilometres. Whether it is ECI or ECEF
// depends on context; the frame conversions live in the orbit layer.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Scale returns v scaled by k.
func (v Vec3) Scale(k float64) Vec3 {
	return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Cross returns the cross product v x other.
func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

// Unit returns the normalised vector, or the zero vector if v is zero.
func (v Vec3) Unit() Vec3 {
	n := v.Norm()
	if n == 0 {
		return Vec3{}
	}
	return Vec3{X: v.X / n, Y: v.Y / n, Z: v.Z / n}
}

func degToRad(d float64) float64 { return d * math.Pi / 180.0 }
func radToDeg(r float64) float64 { return r * 180.0 / math.Pi }

// GeodeticToECEF converts a latitude/longitude/altitude position to an ECEF
// vector on a spherical Earth of equatorial radius. Good enough for ground
// stations and grid targets; the simulator does not model the geoid.
func GeodeticToECEF(latDeg, lonDeg, altKm float64) Vec3 {
	lat := degToRad(latDeg)
	lon := degToRad(lonDeg)
	r := EarthEquatorialRadiusKm + altKm
	return Vec3{
		X: r * math.Cos(lat) * math.Cos(lon),
		Y: r * math.Cos(lat) * math.Sin(lon),
		Z: r * math.Sin(lat),
	}
}

// AngleBetweenDeg returns the angle between two vectors in degrees.
func AngleBetweenDeg(a, b Vec3) float64 {
	na, nb := a.Norm(), b.Norm()
	if na == 0 || nb == 0 {
		return 0
	}
	c := a.Dot(b) / (na * nb)
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return radToDeg(math.Acos(c))
}

// hasLineOfSight checks whether the straight segment between p1 and p2
// intersects the Earth sphere. If it does, the Earth blocks the
// line-of-sight and the function returns false.
//
// Both positions must be in the same Earth-centred frame, kilometres.
func hasLineOfSight(p1, p2 Vec3) bool {
	v := p2.Sub(p1)
	a := v.Dot(v)
	if a == 0 {
		// Degenerate case: same point. Outside Earth counts as visible,
		// inside as blocked.
		return p1.Dot(p1) > EarthRadiusKm*EarthRadiusKm
	}

	// Closest point on the segment to the Earth's centre (origin):
	// t* minimises |p1 + t v|^2 over t ∈ ℝ, clamped to the segment.
	t := -p1.Dot(v) / a
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	closest := p1.Add(v.Scale(t))
	return closest.Dot(closest) > EarthRadiusKm*EarthRadiusKm
}

// ElevationDegrees returns the elevation angle of the target as seen from
// the observer, in degrees. 0° = geometric horizon, 90° = overhead.
func ElevationDegrees(observer, target Vec3) float64 {
	v := target.Sub(observer)
	vNorm := v.Norm()
	if vNorm == 0 {
		return 90
	}

	r := observer.Norm()
	if r == 0 {
		return 90
	}
	zenith := observer.Scale(1 / r)

	cosGamma := v.Dot(zenith) / vNorm
	if cosGamma > 1 {
		cosGamma = 1
	} else if cosGamma < -1 {
		cosGamma = -1
	}
	// Elevation is measured from the local horizon (90° − zenith angle).
	return 90.0 - radToDeg(math.Acos(cosGamma))
}

// offNadirAngleDeg returns the angle at the satellite between its nadir
// direction and the line to the target, in degrees. Used for instrument
// FOV checks.
func offNadirAngleDeg(satPos, targetPos Vec3) float64 {
	nadir := satPos.Scale(-1)
	toTarget := targetPos.Sub(satPos)
	return AngleBetweenDeg(nadir, toTarget)
}

// sunDirectionECI returns the unit vector from the Earth to the Sun in ECI
// at the given Julian date, using the low-precision solar model from the
// Astronomical Almanac. Direction-only: the shadow test does not need the
// distance.
func sunDirectionECI(jd float64) Vec3 {
	n := jd - 2451545.0 // days since J2000

	meanLon := math.Mod(280.460+0.9856474*n, 360.0)
	meanAnom := degToRad(math.Mod(357.528+0.9856003*n, 360.0))
	eclLon := degToRad(meanLon + 1.915*math.Sin(meanAnom) + 0.020*math.Sin(2*meanAnom))
	obliquity := degToRad(23.439 - 0.0000004*n)

	return Vec3{
		X: math.Cos(eclLon),
		Y: math.Cos(obliquity) * math.Sin(eclLon),
		Z: math.Sin(obliquity) * math.Sin(eclLon),
	}
}

// isSunlit reports whether a satellite at posECI is outside the Earth's
// cylindrical shadow for the given sun direction (unit vector, ECI).
func isSunlit(posECI, sunDir Vec3) bool {
	proj := posECI.Dot(sunDir)
	if proj >= 0 {
		// Day side.
		return true
	}
	perp := posECI.Sub(sunDir.Scale(proj))
	return perp.Norm() > EarthRadiusKm
}

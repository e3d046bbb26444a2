package core

import (
	"fmt"
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/tasking-simulator/model"
)

// Earth gravitational parameter and oblateness, km^3/s^2 and dimensionless.
const (
	muEarth = 398600.4418
	j2Earth = 1.08262668e-3
)

// InvalidOrbitError reports degenerate orbital elements. The affected
// spacecraft is excluded from the scenario; the scenario itself continues.
type InvalidOrbitError struct {
	SpacecraftID string
	Reason       string
}

func (e *InvalidOrbitError) Error() string {
	return fmt.Sprintf("invalid orbit for %q: %s", e.SpacecraftID, e.Reason)
}

// Propagator produces a satellite's inertial state at any time within the
// scenario horizon. Implementations are deterministic: identical inputs
// always yield identical outputs.
type Propagator interface {
	// ECIAt returns position (km) and velocity (km/s) in the inertial
	// frame at t.
	ECIAt(t time.Time) (pos, vel Vec3)
}

// NewPropagator selects the propagation model for a spacecraft's orbit
// state: SGP4 for element-set lines, otherwise the J2 analytical model.
func NewPropagator(sc model.Spacecraft) (Propagator, error) {
	if sc.Orbit.Type == model.OrbitStateTLE {
		return NewSGP4Propagator(sc.ID, sc.Orbit.TLELine1, sc.Orbit.TLELine2)
	}
	return NewJ2Propagator(sc.ID, sc.Orbit)
}

// J2Propagator advances classical elements analytically, applying the
// secular J2 drift of RAAN, argument of perigee, and mean anomaly. No
// numerical integration: state at any time is computed in closed form from
// the epoch elements.
type J2Propagator struct {
	epoch time.Time

	a float64 // semi-major axis, km
	e float64

	inc   float64 // radians
	raan0 float64
	argp0 float64
	m0    float64

	n       float64 // mean motion, rad/s
	raanDot float64 // rad/s
	argpDot float64
	mDot    float64
}

// NewJ2Propagator validates the elements and precomputes the secular rates.
// Non-positive semi-major axes and eccentricities outside [0, 1) are
// rejected with an InvalidOrbitError: hyperbolic and parabolic orbits are
// not supported.
func NewJ2Propagator(spacecraftID string, state model.OrbitState) (*J2Propagator, error) {
	a := state.SMAKm
	e := state.Eccentricity
	if a <= 0 {
		return nil, &InvalidOrbitError{
			SpacecraftID: spacecraftID,
			Reason:       fmt.Sprintf("semi-major axis %.3f km must be positive", a),
		}
	}
	if e < 0 || e >= 1 {
		return nil, &InvalidOrbitError{
			SpacecraftID: spacecraftID,
			Reason:       fmt.Sprintf("eccentricity %.6f outside [0, 1)", e),
		}
	}
	if state.Epoch.IsZero() {
		return nil, &InvalidOrbitError{
			SpacecraftID: spacecraftID,
			Reason:       "orbit state has no epoch",
		}
	}

	inc := degToRad(state.InclinationDeg)
	n := math.Sqrt(muEarth / (a * a * a))
	p := a * (1 - e*e)

	// Common secular factor 3/2 * J2 * (Re/p)^2.
	k := 1.5 * j2Earth * (EarthEquatorialRadiusKm / p) * (EarthEquatorialRadiusKm / p)
	cosI := math.Cos(inc)
	sinI := math.Sin(inc)

	prop := &J2Propagator{
		epoch:   state.Epoch.UTC(),
		a:       a,
		e:       e,
		inc:     inc,
		raan0:   degToRad(state.RAANDeg),
		argp0:   degToRad(state.ArgPerigeeDeg),
		n:       n,
		raanDot: -k * n * cosI,
		argpDot: 0.5 * k * n * (5*cosI*cosI - 1),
		mDot:    n * (1 + k*math.Sqrt(1-e*e)*(1-1.5*sinI*sinI)),
	}

	// Convert the epoch true anomaly to mean anomaly.
	nu := degToRad(state.TrueAnomalyDeg)
	ecc := 2 * math.Atan2(math.Sqrt(1-e)*math.Sin(nu/2), math.Sqrt(1+e)*math.Cos(nu/2))
	prop.m0 = ecc - e*math.Sin(ecc)

	return prop, nil
}

// ECIAt returns the inertial state at t.
func (p *J2Propagator) ECIAt(t time.Time) (Vec3, Vec3) {
	dt := t.UTC().Sub(p.epoch).Seconds()

	m := math.Mod(p.m0+p.mDot*dt, 2*math.Pi)
	if m < 0 {
		m += 2 * math.Pi
	}
	raan := p.raan0 + p.raanDot*dt
	argp := p.argp0 + p.argpDot*dt

	ecc := solveKepler(m, p.e)
	nu := 2 * math.Atan2(math.Sqrt(1+p.e)*math.Sin(ecc/2), math.Sqrt(1-p.e)*math.Cos(ecc/2))
	r := p.a * (1 - p.e*math.Cos(ecc))

	// Perifocal position and velocity.
	cosNu, sinNu := math.Cos(nu), math.Sin(nu)
	pf := Vec3{X: r * cosNu, Y: r * sinNu}
	semiLatus := p.a * (1 - p.e*p.e)
	vScale := math.Sqrt(muEarth / semiLatus)
	vf := Vec3{X: -vScale * sinNu, Y: vScale * (p.e + cosNu)}

	return rotatePerifocalToECI(pf, raan, p.inc, argp),
		rotatePerifocalToECI(vf, raan, p.inc, argp)
}

// solveKepler inverts Kepler's equation M = E - e sin E by Newton
// iteration. Converges in a handful of steps for the eccentricities the
// propagator accepts.
func solveKepler(m, e float64) float64 {
	ecc := m
	if e > 0.8 {
		ecc = math.Pi
	}
	for range 50 {
		delta := (ecc - e*math.Sin(ecc) - m) / (1 - e*math.Cos(ecc))
		ecc -= delta
		if math.Abs(delta) < 1e-12 {
			break
		}
	}
	return ecc
}

// rotatePerifocalToECI applies R3(-raan) R1(-inc) R3(-argp).
func rotatePerifocalToECI(v Vec3, raan, inc, argp float64) Vec3 {
	cosO, sinO := math.Cos(raan), math.Sin(raan)
	cosI, sinI := math.Cos(inc), math.Sin(inc)
	cosW, sinW := math.Cos(argp), math.Sin(argp)

	return Vec3{
		X: (cosO*cosW-sinO*sinW*cosI)*v.X + (-cosO*sinW-sinO*cosW*cosI)*v.Y,
		Y: (sinO*cosW+cosO*sinW*cosI)*v.X + (-sinO*sinW+cosO*cosW*cosI)*v.Y,
		Z: (sinW * sinI * v.X) + (cosW * sinI * v.Y),
	}
}

// SGP4Propagator wraps two-line element propagation for spacecraft whose
// orbit arrives as a TLE instead of classical elements.
type SGP4Propagator struct {
	sat satellite.Satellite
}

// NewSGP4Propagator parses the element set. Structurally unusable lines are
// rejected with an InvalidOrbitError.
func NewSGP4Propagator(spacecraftID, line1, line2 string) (*SGP4Propagator, error) {
	if len(line1) < 69 || len(line2) < 69 || line1[0] != '1' || line2[0] != '2' {
		return nil, &InvalidOrbitError{
			SpacecraftID: spacecraftID,
			Reason:       "malformed TLE line set",
		}
	}
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	return &SGP4Propagator{sat: sat}, nil
}

// ECIAt propagates the element set to t. Second resolution, which matches
// the finest visibility refinement step.
func (p *SGP4Propagator) ECIAt(t time.Time) (Vec3, Vec3) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	pos, vel := satellite.Propagate(p.sat, year, int(month), day, hour, min, sec)
	return Vec3{X: pos.X, Y: pos.Y, Z: pos.Z}, Vec3{X: vel.X, Y: vel.Y, Z: vel.Z}
}

// julianDate converts a wall-clock instant to a Julian date.
func julianDate(t time.Time) float64 {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	return satellite.JDay(year, int(month), day, hour, min, sec)
}

// ECIToECEFAt rotates an inertial position into the Earth-fixed frame at t
// using Greenwich mean sidereal time.
func ECIToECEFAt(pos Vec3, t time.Time) Vec3 {
	gmst := satellite.ThetaG_JD(julianDate(t))
	ecef := satellite.ECIToECEF(satellite.Vector3{X: pos.X, Y: pos.Y, Z: pos.Z}, gmst)
	return Vec3{X: ecef.X, Y: ecef.Y, Z: ecef.Z}
}

// ECEFToECIAt is the inverse rotation: an Earth-fixed position into the
// inertial frame at t. Used to compare ground geometry against inertial
// satellite states without round-tripping every satellite through ECEF.
func ECEFToECIAt(pos Vec3, t time.Time) Vec3 {
	gmst := satellite.ThetaG_JD(julianDate(t))
	cosG, sinG := math.Cos(gmst), math.Sin(gmst)
	return Vec3{
		X: pos.X*cosG - pos.Y*sinG,
		Y: pos.X*sinG + pos.Y*cosG,
		Z: pos.Z,
	}
}

// SunlitAt reports whether a satellite at posECI is in sunlight at t,
// using a cylindrical Earth-shadow model.
func SunlitAt(posECI Vec3, t time.Time) bool {
	return isSunlit(posECI, sunDirectionECI(julianDate(t)))
}

// AltitudeKm returns height above the spherical Earth surface for a
// position in either Earth-centred frame.
func AltitudeKm(pos Vec3) float64 {
	return pos.Norm() - EarthEquatorialRadiusKm
}

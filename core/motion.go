package core

import (
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/tasking-simulator/model"
)

// Ephemeris tracks the propagated positions of every body in the scenario:
// satellites through their propagators, ground stations as fixed ECEF
// points. It is the frozen per-round position snapshot source for the
// connectivity model and the engine.
type Ephemeris struct {
	mu sync.RWMutex

	props    map[string]Propagator
	stations map[string]Vec3

	// Per-instant cache so connectivity and sunlight queries within the
	// same round do not re-propagate.
	cacheAt  time.Time
	cacheECI map[string]Vec3
}

// NewEphemeris constructs an empty ephemeris.
func NewEphemeris() *Ephemeris {
	return &Ephemeris{
		props:    make(map[string]Propagator),
		stations: make(map[string]Vec3),
	}
}

// AddSatellite registers a satellite's propagator under its agent id.
func (e *Ephemeris) AddSatellite(id string, prop Propagator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.props[id] = prop
	e.cacheAt = time.Time{}
}

// AddStation registers a ground station as a fixed Earth-surface point.
func (e *Ephemeris) AddStation(gs model.GroundStation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stations[gs.ID] = GeodeticToECEF(gs.LatDeg, gs.LonDeg, gs.AltKm)
}

// RemoveSatellite drops a satellite, e.g. on deorbit.
func (e *Ephemeris) RemoveSatellite(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.props, id)
	e.cacheAt = time.Time{}
}

// SatelliteIDs returns the registered satellite ids, sorted.
func (e *Ephemeris) SatelliteIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.props))
	for id := range e.props {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SatECI returns a satellite's inertial position at t. The second return is
// false for unknown ids.
func (e *Ephemeris) SatECI(id string, t time.Time) (Vec3, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.satECILocked(id, t)
}

func (e *Ephemeris) satECILocked(id string, t time.Time) (Vec3, bool) {
	if !t.Equal(e.cacheAt) {
		e.cacheECI = make(map[string]Vec3, len(e.props))
		e.cacheAt = t
	}
	if pos, ok := e.cacheECI[id]; ok {
		return pos, true
	}
	prop, ok := e.props[id]
	if !ok {
		return Vec3{}, false
	}
	pos, _ := prop.ECIAt(t)
	e.cacheECI[id] = pos
	return pos, true
}

// SatECEF returns a satellite's Earth-fixed position at t.
func (e *Ephemeris) SatECEF(id string, t time.Time) (Vec3, bool) {
	pos, ok := e.SatECI(id, t)
	if !ok {
		return Vec3{}, false
	}
	return ECIToECEFAt(pos, t), true
}

// StationECEF returns a ground station's fixed position.
func (e *Ephemeris) StationECEF(id string) (Vec3, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pos, ok := e.stations[id]
	return pos, ok
}

// StationIDs returns the registered station ids, sorted.
func (e *Ephemeris) StationIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.stations))
	for id := range e.stations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sunlit reports whether a satellite is outside the Earth's shadow at t.
// Unknown ids report false.
func (e *Ephemeris) Sunlit(id string, t time.Time) bool {
	pos, ok := e.SatECI(id, t)
	if !ok {
		return false
	}
	return SunlitAt(pos, t)
}

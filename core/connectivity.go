package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/tasking-simulator/model"
)

// ConnectivityMode selects how agent pairs become eligible to exchange bid
// broadcasts.
type ConnectivityMode string

const (
	// ConnectivityFull connects every agent pair every round.
	ConnectivityFull ConnectivityMode = "FULL"
	// ConnectivityLineOfSight connects pairs whose straight path is not
	// occluded by the Earth.
	ConnectivityLineOfSight ConnectivityMode = "LINE_OF_SIGHT"
	// ConnectivityGroundRelay connects pairs that are simultaneously in
	// view of the same ground station. Relay connectivity is treated as
	// symmetric for message exchange.
	ConnectivityGroundRelay ConnectivityMode = "GROUND_RELAY"
)

// ParseConnectivityMode validates a mission-file connectivity string.
func ParseConnectivityMode(s string) (ConnectivityMode, error) {
	switch ConnectivityMode(s) {
	case ConnectivityFull, ConnectivityLineOfSight, ConnectivityGroundRelay:
		return ConnectivityMode(s), nil
	}
	return "", fmt.Errorf("unknown connectivity mode %q", s)
}

// AgentPair is an unordered agent pairing with a canonical ordering:
// A sorts before B. Use MakePair to construct.
type AgentPair struct {
	A, B string
}

// MakePair canonicalizes the pair so (x, y) and (y, x) compare equal.
func MakePair(a, b string) AgentPair {
	if b < a {
		a, b = b, a
	}
	return AgentPair{A: a, B: b}
}

// Other returns the peer of id within the pair, or "" if id is not a member.
func (p AgentPair) Other(id string) string {
	switch id {
	case p.A:
		return p.B
	case p.B:
		return p.A
	}
	return ""
}

// ID returns a stable link identifier for the pair.
func (p AgentPair) ID() string {
	return p.A + "<->" + p.B
}

// ConnectivityModel yields the set of agent pairs that may exchange one
// bid-broadcast message in the round at t. Queried once per round.
type ConnectivityModel interface {
	Pairs(t time.Time) []AgentPair
}

// FullMesh connects every registered pair unconditionally.
type FullMesh struct {
	eph *Ephemeris
}

// NewFullMesh builds a FULL connectivity model over the ephemeris's
// satellites.
func NewFullMesh(eph *Ephemeris) *FullMesh {
	return &FullMesh{eph: eph}
}

// Pairs returns all pairs, sorted by link id.
func (m *FullMesh) Pairs(time.Time) []AgentPair {
	ids := m.eph.SatelliteIDs()
	var out []AgentPair
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			out = append(out, MakePair(ids[i], ids[j]))
		}
	}
	return out
}

// LineOfSight connects pairs whose inter-satellite segment clears the Earth.
type LineOfSight struct {
	eph *Ephemeris
}

// NewLineOfSight builds a LINE_OF_SIGHT connectivity model.
func NewLineOfSight(eph *Ephemeris) *LineOfSight {
	return &LineOfSight{eph: eph}
}

// Pairs evaluates the Earth-occlusion test for every pair at t.
func (m *LineOfSight) Pairs(t time.Time) []AgentPair {
	ids := m.eph.SatelliteIDs()
	var out []AgentPair
	for i := 0; i < len(ids); i++ {
		pi, ok := m.eph.SatECI(ids[i], t)
		if !ok {
			continue
		}
		for j := i + 1; j < len(ids); j++ {
			pj, ok := m.eph.SatECI(ids[j], t)
			if !ok {
				continue
			}
			if hasLineOfSight(pi, pj) {
				out = append(out, MakePair(ids[i], ids[j]))
			}
		}
	}
	return out
}

// GroundRelay connects two satellites only when both can currently be
// tracked by a shared ground station at or above its minimum elevation.
type GroundRelay struct {
	eph      *Ephemeris
	stations []model.GroundStation
}

// NewGroundRelay builds a GROUND_RELAY connectivity model over the given
// relay stations.
func NewGroundRelay(eph *Ephemeris, stations []model.GroundStation) *GroundRelay {
	return &GroundRelay{eph: eph, stations: stations}
}

// Pairs finds, for each station, the satellites it can track at t and
// connects every pair among them.
func (m *GroundRelay) Pairs(t time.Time) []AgentPair {
	ids := m.eph.SatelliteIDs()
	seen := make(map[AgentPair]struct{})
	var out []AgentPair

	for _, gs := range m.stations {
		gsECEF, ok := m.eph.StationECEF(gs.ID)
		if !ok {
			gsECEF = GeodeticToECEF(gs.LatDeg, gs.LonDeg, gs.AltKm)
		}
		var tracked []string
		for _, id := range ids {
			satECEF, ok := m.eph.SatECEF(id, t)
			if !ok {
				continue
			}
			if ElevationDegrees(gsECEF, satECEF) >= gs.MinElevationDeg {
				tracked = append(tracked, id)
			}
		}
		for i := 0; i < len(tracked); i++ {
			for j := i + 1; j < len(tracked); j++ {
				pair := MakePair(tracked[i], tracked[j])
				if _, dup := seen[pair]; dup {
					continue
				}
				seen[pair] = struct{}{}
				out = append(out, pair)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// NewConnectivityModel selects the model implementation for a mode.
func NewConnectivityModel(mode ConnectivityMode, eph *Ephemeris, stations []model.GroundStation) (ConnectivityModel, error) {
	switch mode {
	case ConnectivityFull:
		return NewFullMesh(eph), nil
	case ConnectivityLineOfSight:
		return NewLineOfSight(eph), nil
	case ConnectivityGroundRelay:
		return NewGroundRelay(eph, stations), nil
	}
	return nil, fmt.Errorf("unknown connectivity mode %q", mode)
}

//
// ---------- Link-state ledger ----------
//

var (
	ErrLinkNotFound = errors.New("link not found")
	ErrEmptyAgentID = errors.New("empty agent ID")
)

// LinkState records the observed history of one agent pair's link.
type LinkState struct {
	Pair AgentPair
	Up   bool
	// Since is when the link last changed state.
	Since time.Time
	// Transitions counts up/down flips since the scenario started.
	Transitions int
}

// LinkTable is the concurrency-safe ledger of link states across rounds.
// The engine applies each round's connectivity snapshot to it and uses the
// resulting transitions to detect partitions healing or forming.
type LinkTable struct {
	mu    sync.RWMutex
	links map[AgentPair]*LinkState
}

// NewLinkTable creates an empty ledger.
func NewLinkTable() *LinkTable {
	return &LinkTable{links: make(map[AgentPair]*LinkState)}
}

// Apply reconciles the ledger with the connected pairs observed at now.
// It returns the pairs that came up and went down relative to the previous
// round, sorted by link id.
func (lt *LinkTable) Apply(now time.Time, pairs []AgentPair) (wentUp, wentDown []AgentPair) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	connected := make(map[AgentPair]struct{}, len(pairs))
	for _, p := range pairs {
		connected[p] = struct{}{}
		state, ok := lt.links[p]
		if !ok {
			state = &LinkState{Pair: p, Since: now}
			lt.links[p] = state
		}
		if !state.Up {
			state.Up = true
			state.Since = now
			state.Transitions++
			wentUp = append(wentUp, p)
		}
	}
	for p, state := range lt.links {
		if _, ok := connected[p]; ok {
			continue
		}
		if state.Up {
			state.Up = false
			state.Since = now
			state.Transitions++
			wentDown = append(wentDown, p)
		}
	}

	sort.Slice(wentUp, func(i, j int) bool { return wentUp[i].ID() < wentUp[j].ID() })
	sort.Slice(wentDown, func(i, j int) bool { return wentDown[i].ID() < wentDown[j].ID() })
	return wentUp, wentDown
}

// State returns the ledger entry for a pair.
func (lt *LinkTable) State(pair AgentPair) (LinkState, error) {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	state, ok := lt.links[pair]
	if !ok {
		return LinkState{}, fmt.Errorf("%w: %s", ErrLinkNotFound, pair.ID())
	}
	return *state, nil
}

// Neighbors returns the agents currently linked to id, sorted.
func (lt *LinkTable) Neighbors(id string) ([]string, error) {
	if id == "" {
		return nil, ErrEmptyAgentID
	}
	lt.mu.RLock()
	defer lt.mu.RUnlock()

	var out []string
	for pair, state := range lt.links {
		if !state.Up {
			continue
		}
		if other := pair.Other(id); other != "" {
			out = append(out, other)
		}
	}
	sort.Strings(out)
	return out, nil
}

// UpCount returns the number of links currently up.
func (lt *LinkTable) UpCount() int {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	n := 0
	for _, state := range lt.links {
		if state.Up {
			n++
		}
	}
	return n
}

// RemoveAgent drops every link involving id, e.g. after a deorbit.
func (lt *LinkTable) RemoveAgent(id string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	for pair := range lt.links {
		if pair.A == id || pair.B == id {
			delete(lt.links, pair)
		}
	}
}

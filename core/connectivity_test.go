package core

import (
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/tasking-simulator/model"
)

var connAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func TestMakePairCanonical(t *testing.T) {
	if MakePair("sat-b", "sat-a") != MakePair("sat-a", "sat-b") {
		t.Fatal("pair construction must be order-independent")
	}
	pair := MakePair("sat-b", "sat-a")
	if pair.A != "sat-a" || pair.B != "sat-b" {
		t.Fatalf("pair = %+v, want A sorted before B", pair)
	}
	if pair.ID() != "sat-a<->sat-b" {
		t.Fatalf("ID = %q", pair.ID())
	}
	if got := pair.Other("sat-a"); got != "sat-b" {
		t.Fatalf("Other(sat-a) = %q", got)
	}
	if got := pair.Other("sat-c"); got != "" {
		t.Fatalf("Other(non-member) = %q, want empty", got)
	}
}

func TestParseConnectivityMode(t *testing.T) {
	for _, valid := range []string{"FULL", "LINE_OF_SIGHT", "GROUND_RELAY"} {
		if _, err := ParseConnectivityMode(valid); err != nil {
			t.Fatalf("ParseConnectivityMode(%s): %v", valid, err)
		}
	}
	if _, err := ParseConnectivityMode("MESH"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestFullMeshPairs(t *testing.T) {
	eph := NewEphemeris()
	eph.AddSatellite("sat-c", fixedProp{pos: Vec3{X: 7000}})
	eph.AddSatellite("sat-a", fixedProp{pos: Vec3{X: -7000}})
	eph.AddSatellite("sat-b", fixedProp{pos: Vec3{Y: 7000}})

	pairs := NewFullMesh(eph).Pairs(connAt)
	if len(pairs) != 3 {
		t.Fatalf("pairs = %d, want 3", len(pairs))
	}
	want := []AgentPair{
		MakePair("sat-a", "sat-b"),
		MakePair("sat-a", "sat-c"),
		MakePair("sat-b", "sat-c"),
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Fatalf("pairs[%d] = %+v, want %+v", i, pairs[i], want[i])
		}
	}
}

func TestLineOfSightPairs(t *testing.T) {
	eph := NewEphemeris()
	// a and b share a side of the Earth; c is antipodal to both.
	eph.AddSatellite("sat-a", fixedProp{pos: Vec3{X: 7000}})
	eph.AddSatellite("sat-b", fixedProp{pos: Vec3{X: 7000, Y: 1500}})
	eph.AddSatellite("sat-c", fixedProp{pos: Vec3{X: -7000}})

	pairs := NewLineOfSight(eph).Pairs(connAt)
	if len(pairs) != 1 || pairs[0] != MakePair("sat-a", "sat-b") {
		t.Fatalf("pairs = %+v, want only sat-a<->sat-b", pairs)
	}
}

func TestGroundRelayPairs(t *testing.T) {
	station := model.GroundStation{ID: "gs-0", LatDeg: 0, LonDeg: 0, MinElevationDeg: 5}
	gsECEF := GeodeticToECEF(0, 0, 0)

	// Two satellites high above the station, one on the far side.
	overheadA := eciAbove(gsECEF, 600)
	overheadB := eciAbove(gsECEF, 900)

	eph := NewEphemeris()
	eph.AddSatellite("sat-a", fixedProp{pos: overheadA})
	eph.AddSatellite("sat-b", fixedProp{pos: overheadB})
	eph.AddSatellite("sat-c", fixedProp{pos: eciAbove(gsECEF.Scale(-1), 600)})
	eph.AddStation(station)

	pairs := NewGroundRelay(eph, []model.GroundStation{station}).Pairs(connAt)
	if len(pairs) != 1 || pairs[0] != MakePair("sat-a", "sat-b") {
		t.Fatalf("pairs = %+v, want only sat-a<->sat-b", pairs)
	}

	// No stations, no relay pairs.
	if pairs := NewGroundRelay(eph, nil).Pairs(connAt); len(pairs) != 0 {
		t.Fatalf("pairs without stations = %+v, want none", pairs)
	}
}

// eciAbove returns the inertial position altKm above the given ECEF surface
// point at connAt.
func eciAbove(surface Vec3, altKm float64) Vec3 {
	up := surface.Unit()
	ecef := surface.Add(up.Scale(altKm))
	return ECEFToECIAt(ecef, connAt)
}

func TestNewConnectivityModelSelection(t *testing.T) {
	eph := NewEphemeris()
	cases := []struct {
		mode ConnectivityMode
		want string
	}{
		{ConnectivityFull, "*core.FullMesh"},
		{ConnectivityLineOfSight, "*core.LineOfSight"},
		{ConnectivityGroundRelay, "*core.GroundRelay"},
	}
	for _, tc := range cases {
		m, err := NewConnectivityModel(tc.mode, eph, nil)
		if err != nil {
			t.Fatalf("NewConnectivityModel(%s): %v", tc.mode, err)
		}
		if got := typeName(m); got != tc.want {
			t.Fatalf("model for %s = %s, want %s", tc.mode, got, tc.want)
		}
	}
	if _, err := NewConnectivityModel("BROKEN", eph, nil); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func typeName(m ConnectivityModel) string {
	switch m.(type) {
	case *FullMesh:
		return "*core.FullMesh"
	case *LineOfSight:
		return "*core.LineOfSight"
	case *GroundRelay:
		return "*core.GroundRelay"
	}
	return "unknown"
}

func TestLinkTableTransitions(t *testing.T) {
	lt := NewLinkTable()
	ab := MakePair("sat-a", "sat-b")
	bc := MakePair("sat-b", "sat-c")

	up, down := lt.Apply(connAt, []AgentPair{ab, bc})
	if len(up) != 2 || len(down) != 0 {
		t.Fatalf("first apply: up=%v down=%v", up, down)
	}

	// Same set again: no transitions.
	up, down = lt.Apply(connAt.Add(10*time.Second), []AgentPair{ab, bc})
	if len(up) != 0 || len(down) != 0 {
		t.Fatalf("steady state: up=%v down=%v", up, down)
	}

	// bc drops.
	up, down = lt.Apply(connAt.Add(20*time.Second), []AgentPair{ab})
	if len(up) != 0 || len(down) != 1 || down[0] != bc {
		t.Fatalf("bc drop: up=%v down=%v", up, down)
	}

	state, err := lt.State(bc)
	if err != nil {
		t.Fatalf("State(bc): %v", err)
	}
	if state.Up || state.Transitions != 2 {
		t.Fatalf("bc state = %+v, want down after 2 transitions", state)
	}
	if !state.Since.Equal(connAt.Add(20 * time.Second)) {
		t.Fatalf("bc Since = %v", state.Since)
	}

	if _, err := lt.State(MakePair("sat-x", "sat-y")); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("State(unknown) err = %v, want ErrLinkNotFound", err)
	}
	if lt.UpCount() != 1 {
		t.Fatalf("UpCount = %d, want 1", lt.UpCount())
	}
}

func TestLinkTableNeighbors(t *testing.T) {
	lt := NewLinkTable()
	lt.Apply(connAt, []AgentPair{
		MakePair("sat-a", "sat-b"),
		MakePair("sat-a", "sat-c"),
		MakePair("sat-b", "sat-c"),
	})
	lt.Apply(connAt.Add(time.Second), []AgentPair{
		MakePair("sat-a", "sat-b"),
		MakePair("sat-a", "sat-c"),
	})

	got, err := lt.Neighbors("sat-a")
	if err != nil {
		t.Fatalf("Neighbors: %v", err)
	}
	if len(got) != 2 || got[0] != "sat-b" || got[1] != "sat-c" {
		t.Fatalf("Neighbors(sat-a) = %v", got)
	}
	if got, _ := lt.Neighbors("sat-b"); len(got) != 1 || got[0] != "sat-a" {
		t.Fatalf("Neighbors(sat-b) = %v", got)
	}
	if _, err := lt.Neighbors(""); !errors.Is(err, ErrEmptyAgentID) {
		t.Fatalf("Neighbors(empty) err = %v", err)
	}
}

func TestLinkTableRemoveAgent(t *testing.T) {
	lt := NewLinkTable()
	lt.Apply(connAt, []AgentPair{
		MakePair("sat-a", "sat-b"),
		MakePair("sat-b", "sat-c"),
	})

	lt.RemoveAgent("sat-b")
	if lt.UpCount() != 0 {
		t.Fatalf("UpCount after removal = %d, want 0", lt.UpCount())
	}
	if _, err := lt.State(MakePair("sat-a", "sat-b")); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("removed link still present: %v", err)
	}
}

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

const testMission = `{
  "epoch": {"year": 2026, "month": 3, "day": 1, "hour": 0, "minute": 0, "second": 0},
  "duration": 0.01,
  "propagator": {"@type": "J2 ANALYTICAL PROPAGATOR", "stepSize": 60},
  "spacecraft": [
    {
      "@id": "sat-0",
      "name": "imager-0",
      "spacecraftBus": {
        "name": "smallsat",
        "components": {
          "cmdh": {"power": 5, "memorySize": 8},
          "comms": {"transmitter": {"power": 10, "maxDataRate": 50}},
          "eps": {
            "battery": {"capacity": 200, "maxChargeRate": 60, "depthOfDischarge": 0.3},
            "solarPanel": {"power": 80}
          }
        }
      },
      "instrument": {
        "name": "imager",
        "power": 45,
        "dataRate": 25,
        "fieldOfViewGeometry": {"@type": "CIRCULAR", "diameter": 60}
      },
      "orbitState": {
        "date": {"year": 2026, "month": 3, "day": 1, "hour": 0, "minute": 0, "second": 0},
        "state": {"@type": "KEPLERIAN", "sma": 6928, "ecc": 0.001, "inc": 97.5, "raan": 0, "aop": 0, "ta": 0}
      },
      "planner": {"@type": "ACBBA", "utility": "LINEAR"}
    }
  ],
  "groundStation": [
    {"@id": "gs-0", "name": "svalbard", "latitude": 78.2, "longitude": 15.4, "altitude": 0, "minimumElevation": 5,
     "antenna": {"bands": ["X"], "frequency": 8.2e9}}
  ],
  "grid": [
    {"@type": "autogrid", "@id": "grid-0", "latUpper": 1, "latLower": 0, "lonUpper": 1, "lonLower": 0, "gridRes": 1}
  ],
  "scenario": {"@type": "PREDEFINED", "duration": 0.01, "connectivity": "FULL", "utility": "LINEAR",
               "requests": {"n": 0, "measurement_reqs": [], "x_bounds": [], "y_bounds": []}},
  "settings": {"coverageType": "GRID COVERAGE", "outDir": "./results"}
}`

// TestRunEndToEnd drives a one-satellite mission through the whole pipeline
// and checks the result files land in the requested directory.
func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	missionPath := filepath.Join(dir, "mission.json")
	if err := os.WriteFile(missionPath, []byte(testMission), 0o644); err != nil {
		t.Fatalf("write mission: %v", err)
	}
	outDir := filepath.Join(dir, "results")

	err := run([]string{
		"-mission", missionPath,
		"-out", outDir,
		"-metrics-addr", "",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(outDir, "summary.json"))
	if err != nil {
		t.Fatalf("read summary.json: %v", err)
	}
	var summary map[string]any
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatalf("decode summary.json: %v", err)
	}
	if summary["agents"] != float64(1) {
		t.Fatalf("summary agents = %v, want 1", summary["agents"])
	}
	if _, err := os.Stat(filepath.Join(outDir, "assignment.csv")); err != nil {
		t.Fatalf("assignment.csv missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "sat-0_bundle.csv")); err != nil {
		t.Fatalf("bundle csv missing: %v", err)
	}
}

func TestMissionID(t *testing.T) {
	cases := map[string]string{
		"configs/mission.json":       "mission",
		"/tmp/flood-response.json":   "flood-response",
		"baseline":                   "baseline",
		"./missions/coastal.v2.json": "coastal.v2",
	}
	for path, want := range cases {
		if got := missionID(path); got != want {
			t.Errorf("missionID(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestRunRejectsMissingMission(t *testing.T) {
	if err := run([]string{"-mission", filepath.Join(t.TempDir(), "absent.json"), "-metrics-addr", ""}); err == nil {
		t.Fatal("expected error for missing mission file")
	}
}

func TestRunRejectsBadMission(t *testing.T) {
	dir := t.TempDir()
	missionPath := filepath.Join(dir, "mission.json")
	if err := os.WriteFile(missionPath, []byte(`{"duration": 0}`), 0o644); err != nil {
		t.Fatalf("write mission: %v", err)
	}
	if err := run([]string{"-mission", missionPath, "-metrics-addr", ""}); err == nil {
		t.Fatal("expected validation error")
	}
}

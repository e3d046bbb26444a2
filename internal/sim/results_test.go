package sim

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/tasking-simulator/core"
	"github.com/signalsfoundry/tasking-simulator/internal/acbba"
	"github.com/signalsfoundry/tasking-simulator/kb"
	"github.com/signalsfoundry/tasking-simulator/model"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestWriteResults(t *testing.T) {
	tasks := []model.Task{simTask("t1", 1.0, time.Hour), simTask("t2", 1.0, time.Hour)}
	conn := &scriptedConnectivity{rounds: [][]core.AgentPair{allPairs("sat-a", "sat-relay")}}
	sc := buildTestScenario(t, []testAgent{{id: "sat-a", utility: scaled(1)}}, tasks, conn, time.Hour)

	imaging := simStart.Add(5 * time.Minute)
	sc.Planners["sat-a"] = &stubPlanner{
		id:     "sat-a",
		bundle: []acbba.BundleItem{{TaskID: "t1", ImagingTime: imaging, Bid: 0.75}},
	}
	comms := NewCommsTestPlanner("sat-relay", sc.Log)
	comms.NoteContact("sat-a", true, simStart)
	comms.NoteContact("sat-a", false, simStart.Add(time.Minute))
	sc.Planners["sat-relay"] = comms

	result := &RunResult{
		Converged:   true,
		Rounds:      4,
		ConvergedAt: simStart.Add(40 * time.Second),
		Assignments: []kb.Assignment{
			{TaskID: "t1", AgentID: "sat-a", BidValue: 0.75, BidTime: simStart, Completed: true},
		},
		Completed: 1,
	}

	outDir := filepath.Join(t.TempDir(), "results")
	if err := WriteResults(outDir, sc, result); err != nil {
		t.Fatalf("WriteResults: %v", err)
	}

	rows := readCSV(t, filepath.Join(outDir, "assignment.csv"))
	if len(rows) != 2 {
		t.Fatalf("assignment.csv rows = %d, want header + 1", len(rows))
	}
	if rows[0][0] != "task_id" || rows[0][4] != "completed" {
		t.Fatalf("assignment.csv header = %v", rows[0])
	}
	if rows[1][0] != "t1" || rows[1][1] != "sat-a" {
		t.Fatalf("assignment row = %v", rows[1])
	}
	if rows[1][2] != "0.750000000" {
		t.Fatalf("bid_value = %q, want 9 decimal places", rows[1][2])
	}
	if rows[1][4] != "true" || rows[1][5] != "false" {
		t.Fatalf("completed/dropped = %v/%v", rows[1][4], rows[1][5])
	}

	rows = readCSV(t, filepath.Join(outDir, "sat-a_bundle.csv"))
	if len(rows) != 2 || rows[1][0] != "t1" {
		t.Fatalf("sat-a_bundle.csv = %v", rows)
	}
	if rows[1][1] != imaging.UTC().Format(time.RFC3339) {
		t.Fatalf("imaging_time = %q", rows[1][1])
	}

	rows = readCSV(t, filepath.Join(outDir, "sat-relay_contacts.csv"))
	if len(rows) != 3 {
		t.Fatalf("contacts rows = %d, want header + 2", len(rows))
	}
	if rows[1][1] != "up" || rows[2][1] != "down" {
		t.Fatalf("contact events = %v, %v", rows[1], rows[2])
	}

	raw, err := os.ReadFile(filepath.Join(outDir, "summary.json"))
	if err != nil {
		t.Fatalf("read summary.json: %v", err)
	}
	var summary map[string]any
	if err := json.Unmarshal(raw, &summary); err != nil {
		t.Fatalf("decode summary.json: %v", err)
	}
	if summary["converged"] != true {
		t.Fatalf("summary converged = %v", summary["converged"])
	}
	if summary["rounds"] != float64(4) {
		t.Fatalf("summary rounds = %v", summary["rounds"])
	}
	if summary["agents"] != float64(2) {
		t.Fatalf("summary agents = %v", summary["agents"])
	}
	if summary["assigned"] != float64(1) || summary["completed"] != float64(1) {
		t.Fatalf("summary assigned/completed = %v/%v", summary["assigned"], summary["completed"])
	}
}

func TestWriteResultsEmptyRun(t *testing.T) {
	sc := buildTestScenario(t, []testAgent{{id: "sat-a", utility: scaled(1)}}, nil, &scriptedConnectivity{}, time.Hour)
	result := &RunResult{Rounds: 1}

	outDir := t.TempDir()
	if err := WriteResults(outDir, sc, result); err != nil {
		t.Fatalf("WriteResults: %v", err)
	}
	rows := readCSV(t, filepath.Join(outDir, "assignment.csv"))
	if len(rows) != 1 {
		t.Fatalf("assignment.csv rows = %d, want header only", len(rows))
	}
}

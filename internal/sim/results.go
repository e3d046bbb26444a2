package sim

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// runSummary is the summary.json document written at the end of a run.
type runSummary struct {
	Converged   bool      `json:"converged"`
	Rounds      int       `json:"rounds"`
	ConvergedAt time.Time `json:"convergedAt,omitempty"`

	HorizonStart time.Time `json:"horizonStart"`
	HorizonEnd   time.Time `json:"horizonEnd"`
	StepSeconds  float64   `json:"stepSeconds"`

	Agents    int `json:"agents"`
	Tasks     int `json:"tasks"`
	Assigned  int `json:"assigned"`
	Completed int `json:"completed"`
	Dropped   int `json:"dropped"`
}

// WriteResults writes the run's outputs to outDir: the converged assignment
// table (assignment.csv), one bundle ledger per agent (<agent>_bundle.csv),
// contact ledgers for comms-test satellites (<agent>_contacts.csv), and a
// run summary (summary.json). The directory is created if missing.
func WriteResults(outDir string, sc *Scenario, result *RunResult) error {
	if outDir == "" {
		outDir = "."
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}

	if err := writeAssignments(outDir, sc, result); err != nil {
		return err
	}
	for id, planner := range sc.Planners {
		if err := writeBundle(outDir, id, planner); err != nil {
			return err
		}
		if recorder, ok := planner.(*CommsTestPlanner); ok {
			if err := writeContacts(outDir, id, recorder); err != nil {
				return err
			}
		}
	}
	return writeSummary(outDir, sc, result)
}

func writeAssignments(outDir string, sc *Scenario, result *RunResult) error {
	f, err := os.Create(filepath.Join(outDir, "assignment.csv"))
	if err != nil {
		return fmt.Errorf("create assignment.csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"task_id", "agent_id", "bid_value", "bid_time", "completed", "dropped"}); err != nil {
		return err
	}
	for _, a := range result.Assignments {
		row := []string{
			a.TaskID,
			a.AgentID,
			strconv.FormatFloat(a.BidValue, 'f', 9, 64),
			a.BidTime.UTC().Format(time.RFC3339),
			strconv.FormatBool(a.Completed),
			strconv.FormatBool(a.Dropped),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeBundle(outDir, agentID string, planner Planner) error {
	f, err := os.Create(filepath.Join(outDir, agentID+"_bundle.csv"))
	if err != nil {
		return fmt.Errorf("create bundle csv for %s: %w", agentID, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"task_id", "imaging_time", "bid"}); err != nil {
		return err
	}
	for _, item := range planner.Bundle() {
		row := []string{
			item.TaskID,
			item.ImagingTime.UTC().Format(time.RFC3339),
			strconv.FormatFloat(item.Bid, 'f', 9, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeContacts(outDir, agentID string, recorder *CommsTestPlanner) error {
	f, err := os.Create(filepath.Join(outDir, agentID+"_contacts.csv"))
	if err != nil {
		return fmt.Errorf("create contacts csv for %s: %w", agentID, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"peer", "event", "time"}); err != nil {
		return err
	}
	for _, ev := range recorder.Events() {
		event := "down"
		if ev.Up {
			event = "up"
		}
		if err := w.Write([]string{ev.Peer, event, ev.At.UTC().Format(time.RFC3339)}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeSummary(outDir string, sc *Scenario, result *RunResult) error {
	summary := runSummary{
		Converged:    result.Converged,
		Rounds:       result.Rounds,
		ConvergedAt:  result.ConvergedAt,
		HorizonStart: sc.Horizon.Start,
		HorizonEnd:   sc.Horizon.End,
		StepSeconds:  sc.Step.Seconds(),
		Agents:       len(sc.Planners),
		Tasks:        len(sc.KB.ListTasks()),
		Assigned:     len(result.Assignments),
		Completed:    result.Completed,
		Dropped:      result.Dropped,
	}

	raw, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "summary.json"), raw, 0o644); err != nil {
		return fmt.Errorf("write summary.json: %w", err)
	}
	return nil
}

package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/tasking-simulator/model"
)

var (
	ErrTaskExists      = errors.New("task already exists")
	ErrTaskNotFound    = errors.New("task not found")
	ErrTargetExists    = errors.New("target already exists")
	ErrStationExists   = errors.New("ground station already exists")
	ErrStationNotFound = errors.New("ground station not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventTaskAssigned EventType = iota
	EventTaskReleased
	EventTaskCompleted
	EventTaskDropped
)

func (t EventType) String() string {
	switch t {
	case EventTaskAssigned:
		return "assigned"
	case EventTaskReleased:
		return "released"
	case EventTaskCompleted:
		return "completed"
	case EventTaskDropped:
		return "dropped"
	}
	return "unknown"
}

// Event is emitted to subscribers when an assignment changes.
type Event struct {
	Type    EventType
	TaskID  string
	AgentID string
	Value   float64
	At      time.Time
}

// Assignment is the KB's view of who currently owns a task. Ownership is
// advisory during convergence; it becomes authoritative once the engine
// collects the converged result.
type Assignment struct {
	TaskID    string
	AgentID   string
	BidValue  float64
	BidTime   time.Time
	Completed bool
	Dropped   bool
}

// KnowledgeBase is the in-memory, thread-safe scenario store: the task
// pool, ground targets, ground stations, and the assignment ledger.
type KnowledgeBase struct {
	mu sync.RWMutex

	tasks       map[string]model.Task
	targets     map[string]model.GroundTarget
	stations    map[string]model.GroundStation
	assignments map[string]*Assignment

	subs []func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		tasks:       make(map[string]model.Task),
		targets:     make(map[string]model.GroundTarget),
		stations:    make(map[string]model.GroundStation),
		assignments: make(map[string]*Assignment),
	}
}

// AddTask adds a task to the pool. It returns an error if the ID already
// exists.
func (kb *KnowledgeBase) AddTask(t model.Task) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.tasks[t.ID]; exists {
		return fmt.Errorf("%w: %q", ErrTaskExists, t.ID)
	}
	kb.tasks[t.ID] = t
	return nil
}

// GetTask returns the task with the given ID.
func (kb *KnowledgeBase) GetTask(id string) (model.Task, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	t, ok := kb.tasks[id]
	if !ok {
		return model.Task{}, fmt.Errorf("%w: %q", ErrTaskNotFound, id)
	}
	return t, nil
}

// ListTasks returns a snapshot of all tasks, sorted by ID for
// deterministic iteration.
func (kb *KnowledgeBase) ListTasks() []model.Task {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.Task, 0, len(kb.tasks))
	for _, t := range kb.tasks {
		res = append(res, t)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// AddTarget registers a ground target.
func (kb *KnowledgeBase) AddTarget(gt model.GroundTarget) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.targets[gt.ID]; exists {
		return fmt.Errorf("%w: %q", ErrTargetExists, gt.ID)
	}
	kb.targets[gt.ID] = gt
	return nil
}

// ListTargets returns all targets sorted by ID.
func (kb *KnowledgeBase) ListTargets() []model.GroundTarget {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.GroundTarget, 0, len(kb.targets))
	for _, gt := range kb.targets {
		res = append(res, gt)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// AddStation registers a ground station.
func (kb *KnowledgeBase) AddStation(gs model.GroundStation) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.stations[gs.ID]; exists {
		return fmt.Errorf("%w: %q", ErrStationExists, gs.ID)
	}
	kb.stations[gs.ID] = gs
	return nil
}

// GetStation returns the station with the given ID.
func (kb *KnowledgeBase) GetStation(id string) (model.GroundStation, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	gs, ok := kb.stations[id]
	if !ok {
		return model.GroundStation{}, fmt.Errorf("%w: %q", ErrStationNotFound, id)
	}
	return gs, nil
}

// ListStations returns all ground stations sorted by ID.
func (kb *KnowledgeBase) ListStations() []model.GroundStation {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.GroundStation, 0, len(kb.stations))
	for _, gs := range kb.stations {
		res = append(res, gs)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// SetAssignment records an agent winning a task and notifies subscribers.
func (kb *KnowledgeBase) SetAssignment(taskID, agentID string, value float64, at time.Time) error {
	kb.mu.Lock()
	if _, ok := kb.tasks[taskID]; !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTaskNotFound, taskID)
	}
	kb.assignments[taskID] = &Assignment{
		TaskID:   taskID,
		AgentID:  agentID,
		BidValue: value,
		BidTime:  at,
	}
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	event := Event{Type: EventTaskAssigned, TaskID: taskID, AgentID: agentID, Value: value, At: at}
	// Notify outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// ClearAssignment releases a task back to the unassigned pool.
func (kb *KnowledgeBase) ClearAssignment(taskID string, at time.Time) {
	kb.mu.Lock()
	a, ok := kb.assignments[taskID]
	if !ok {
		kb.mu.Unlock()
		return
	}
	agentID := a.AgentID
	delete(kb.assignments, taskID)
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	event := Event{Type: EventTaskReleased, TaskID: taskID, AgentID: agentID, At: at}
	for _, sub := range subs {
		sub(event)
	}
}

// MarkCompleted flags an assignment as executed.
func (kb *KnowledgeBase) MarkCompleted(taskID string, at time.Time) {
	kb.markOutcome(taskID, at, true)
}

// MarkDropped flags an assignment as dropped at execution time
// (resource exhaustion).
func (kb *KnowledgeBase) MarkDropped(taskID string, at time.Time) {
	kb.markOutcome(taskID, at, false)
}

func (kb *KnowledgeBase) markOutcome(taskID string, at time.Time, completed bool) {
	kb.mu.Lock()
	a, ok := kb.assignments[taskID]
	if !ok {
		kb.mu.Unlock()
		return
	}
	a.Completed = completed
	a.Dropped = !completed
	agentID := a.AgentID
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	eventType := EventTaskCompleted
	if !completed {
		eventType = EventTaskDropped
	}
	event := Event{Type: eventType, TaskID: taskID, AgentID: agentID, At: at}
	for _, sub := range subs {
		sub(event)
	}
}

// GetAssignment returns the current assignment for a task, or false if the
// task is unassigned.
func (kb *KnowledgeBase) GetAssignment(taskID string) (Assignment, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	a, ok := kb.assignments[taskID]
	if !ok {
		return Assignment{}, false
	}
	return *a, true
}

// ListAssignments returns a snapshot of all assignments sorted by task ID.
func (kb *KnowledgeBase) ListAssignments() []Assignment {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]Assignment, 0, len(kb.assignments))
	for _, a := range kb.assignments {
		res = append(res, *a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].TaskID < res[j].TaskID })
	return res
}

// ReleaseAgent clears every assignment held by agentID, e.g. after a
// deorbit, and returns the released task IDs sorted.
func (kb *KnowledgeBase) ReleaseAgent(agentID string, at time.Time) []string {
	kb.mu.Lock()
	var released []string
	for taskID, a := range kb.assignments {
		if a.AgentID == agentID {
			released = append(released, taskID)
			delete(kb.assignments, taskID)
		}
	}
	sort.Strings(released)
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	for _, taskID := range released {
		event := Event{Type: EventTaskReleased, TaskID: taskID, AgentID: agentID, At: at}
		for _, sub := range subs {
			sub(event)
		}
	}
	return released
}

// Subscribe registers a callback for KB events. It returns an unsubscribe
// function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.subs = append(kb.subs, fn)
	idx := len(kb.subs) - 1

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if idx < 0 || idx >= len(kb.subs) {
			return
		}
		kb.subs = append(kb.subs[:idx], kb.subs[idx+1:]...)
		idx = -1
	}
}

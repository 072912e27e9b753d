package orchestrator

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// ExecutionTTL is how long finished executions are retained.
	ExecutionTTL = 1 * time.Hour

	cleanupInterval = 10 * time.Minute
)

var (
	// ErrExecutionNotFound is returned when an execution is not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrWorkflowBusy is returned when the same workflow is already running.
	ErrWorkflowBusy = errors.New("workflow already running")
)

// ExecutionID uniquely identifies a workflow execution.
type ExecutionID string

// ExecutionStatus represents the state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// StepResult records the outcome of one workflow step.
type StepResult struct {
	Step     int           `json:"step"`
	ServerID string        `json:"server_id"`
	Tool     string        `json:"tool"`
	OK       bool          `json:"ok"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Execution tracks one workflow run.
type Execution struct {
	ID             ExecutionID     `json:"id"`
	Workflow       string          `json:"workflow"`
	Status         ExecutionStatus `json:"status"`
	StepsTotal     int             `json:"steps_total"`
	StepsCompleted int             `json:"steps_completed"`
	Results        []StepResult    `json:"results,omitempty"`
	Errors         []string        `json:"errors,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// IsTerminal returns true once the execution has finished.
func (e *Execution) IsTerminal() bool {
	return e.Status == ExecutionCompleted || e.Status == ExecutionFailed
}

// ExecutionStore tracks workflow executions in memory. Finished
// executions age out after ExecutionTTL.
type ExecutionStore struct {
	mu    sync.RWMutex
	execs map[ExecutionID]*Execution

	done      chan struct{}
	closeOnce sync.Once
}

// NewExecutionStore creates a store and starts its cleanup loop. Close
// stops the loop.
func NewExecutionStore() *ExecutionStore {
	s := &ExecutionStore{
		execs: make(map[ExecutionID]*Execution),
		done:  make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Close stops the cleanup loop. The store itself stays usable. Safe to
// call more than once.
func (s *ExecutionStore) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Create registers a new pending execution. Only one execution per
// workflow may be in flight at a time.
func (s *ExecutionStore) Create(workflow string, stepsTotal int) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.execs {
		if e.Workflow == workflow && !e.IsTerminal() {
			return nil, ErrWorkflowBusy
		}
	}

	now := time.Now().UTC()
	exec := &Execution{
		ID:         ExecutionID(uuid.NewString()),
		Workflow:   workflow,
		Status:     ExecutionPending,
		StepsTotal: stepsTotal,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	s.execs[exec.ID] = exec

	out := *exec
	return &out, nil
}

// Get returns a copy of an execution by id.
func (s *ExecutionStore) Get(id ExecutionID) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.execs[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	out := *exec
	out.Results = append([]StepResult(nil), exec.Results...)
	out.Errors = append([]string(nil), exec.Errors...)
	return &out, nil
}

// List returns executions newest-first, optionally capped at limit.
func (s *ExecutionStore) List(limit int) []Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Execution, 0, len(s.execs))
	for _, e := range s.execs {
		dup := *e
		dup.Results = append([]StepResult(nil), e.Results...)
		dup.Errors = append([]string(nil), e.Errors...)
		out = append(out, dup)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MarkRunning transitions an execution to running.
func (s *ExecutionStore) MarkRunning(id ExecutionID) error {
	return s.update(id, func(e *Execution) {
		e.Status = ExecutionRunning
	})
}

// AppendResult records a finished step.
func (s *ExecutionStore) AppendResult(id ExecutionID, result StepResult) error {
	return s.update(id, func(e *Execution) {
		e.Results = append(e.Results, result)
		e.StepsCompleted = len(e.Results)
		if !result.OK {
			e.Errors = append(e.Errors, result.Error)
		}
	})
}

// Finish marks an execution completed, or failed when any step errored.
func (s *ExecutionStore) Finish(id ExecutionID) error {
	return s.update(id, func(e *Execution) {
		if len(e.Errors) == 0 {
			e.Status = ExecutionCompleted
		} else {
			e.Status = ExecutionFailed
		}
		now := time.Now().UTC()
		e.CompletedAt = &now
	})
}

func (s *ExecutionStore) update(id ExecutionID, fn func(*Execution)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.execs[id]
	if !ok {
		return ErrExecutionNotFound
	}
	fn(exec)
	exec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *ExecutionStore) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *ExecutionStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-ExecutionTTL)
	for id, e := range s.execs {
		if e.IsTerminal() && e.UpdatedAt.Before(cutoff) {
			delete(s.execs, id)
		}
	}
}

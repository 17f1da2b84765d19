package types

import "time"

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusFailed  RunStatus = "failed"
)

// StepStatus is the lifecycle state of a single step record.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusDone    StepStatus = "done"
	StepStatusFailed  StepStatus = "failed"
)

// StepRecord tracks the progress of one workflow step within a run. It is
// created on the first transition to running and mutated in place afterwards;
// records are never removed from a run.
type StepRecord struct {
	ID        string         `json:"id"`
	Status    StepStatus     `json:"status"`
	Output    string         `json:"output,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
	StartedAt time.Time      `json:"startedAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// RunState is the durable per-run document. Variables is a flat namespace
// shared by every step of the run; later steps observe values merged in by
// earlier steps, with last-write-wins on name collisions.
type RunState struct {
	RunID      string         `json:"runId"`
	WorkflowID string         `json:"workflowId"`
	Task       string         `json:"task"`
	Status     RunStatus      `json:"status"`
	Steps      []*StepRecord  `json:"steps"`
	Variables  map[string]any `json:"variables"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// FindStep returns the step record with the given id, or nil.
func (s *RunState) FindStep(id string) *StepRecord {
	for _, st := range s.Steps {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// Package store persists workflow run state as one JSON document per run.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"yqhp/flowrunner/pkg/logger"
	"yqhp/flowrunner/pkg/types"
)

// ErrRunNotFound is returned when no state document exists for a run id.
var ErrRunNotFound = fmt.Errorf("run not found")

// Store reads and writes run state documents under a single directory.
// A run is single-writer by construction: one engine instance drives one run
// end to end, and distinct runs use distinct files.
type Store struct {
	dir string
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// NewRunID generates a new opaque short run identifier.
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// InitRun creates and persists a fresh run state. The task is seeded into the
// run's variable namespace under the "task" key.
func (s *Store) InitRun(runID, workflowID, task string) (*types.RunState, error) {
	now := time.Now().UTC()
	state := &types.RunState{
		RunID:      runID,
		WorkflowID: workflowID,
		Task:       task,
		Status:     types.RunStatusRunning,
		Steps:      []*types.StepRecord{},
		Variables:  map[string]any{"task": task},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.SaveState(state); err != nil {
		return nil, err
	}
	return state, nil
}

// SaveState writes the whole run document, refreshing updatedAt.
func (s *Store) SaveState(state *types.RunState) error {
	state.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", state.RunID, err)
	}
	if err := os.WriteFile(s.runPath(state.RunID), data, 0o644); err != nil {
		return fmt.Errorf("write run %s: %w", state.RunID, err)
	}
	return nil
}

// LoadState reads the run document for runID. A missing document is a hard
// failure wrapping ErrRunNotFound.
func (s *Store) LoadState(runID string) (*types.RunState, error) {
	data, err := os.ReadFile(s.runPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	var state types.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse run %s: %w", runID, err)
	}
	return &state, nil
}

// UpdateStep upserts the step record for stepID, merges the provided
// variables into the run's variable namespace and persists the document.
// This is the single mutation point through which step progress becomes
// durable.
func (s *Store) UpdateStep(state *types.RunState, stepID string, status types.StepStatus, output string, vars map[string]any) error {
	now := time.Now().UTC()

	step := state.FindStep(stepID)
	if step == nil {
		step = &types.StepRecord{
			ID:        stepID,
			Variables: map[string]any{},
			StartedAt: now,
		}
		state.Steps = append(state.Steps, step)
	}

	step.Status = status
	step.UpdatedAt = now
	if output != "" {
		step.Output = output
	}
	if vars != nil {
		if step.Variables == nil {
			step.Variables = map[string]any{}
		}
		for k, v := range vars {
			step.Variables[k] = v
			state.Variables[k] = v
		}
	}

	return s.SaveState(state)
}

// ListRuns returns every readable run document, oldest first. Corrupt or
// unreadable files are skipped rather than failing the whole listing.
func (s *Store) ListRuns() ([]*types.RunState, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read runs dir: %w", err)
	}

	var runs []*types.RunState
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		runID := strings.TrimSuffix(e.Name(), ".json")
		state, err := s.LoadState(runID)
		if err != nil {
			logger.Debug("store: skipping unreadable run file %s: %v", e.Name(), err)
			continue
		}
		runs = append(runs, state)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

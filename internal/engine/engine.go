// Package engine interprets workflow definitions: it renders step prompts,
// drives them through the gateway one at a time, validates and retries
// outcomes, and persists run progress after every transition.
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"yqhp/flowrunner/internal/config"
	"yqhp/flowrunner/internal/store"
	"yqhp/flowrunner/internal/workflow"
	"yqhp/flowrunner/pkg/logger"
	"yqhp/flowrunner/pkg/types"
)

// Gateway is the protocol client surface the engine depends on.
type Gateway interface {
	Connect(ctx context.Context) error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	SendChat(ctx context.Context, sessionKey, message string) (string, error)
	Close() error
}

// Engine executes workflows sequentially, one outstanding chat exchange at a
// time. Run state is persisted after every step transition so a run's
// progress survives a process restart.
type Engine struct {
	cfg     *config.Config
	store   *store.Store
	loader  *workflow.Loader
	gateway Gateway
	latency *LatencyRecorder
}

// New creates an Engine.
func New(cfg *config.Config, st *store.Store, loader *workflow.Loader, gw Gateway) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   st,
		loader:  loader,
		gateway: gw,
		latency: NewLatencyRecorder(),
	}
}

// RunResult is the outcome of a workflow run. Success is false for step
// failures; infrastructure failures (definition loading, connect, persist)
// are returned as errors instead.
type RunResult struct {
	Success bool
	RunID   string
	State   *types.RunState
}

// RunWorkflow executes the named workflow against the given task: it creates
// a run, connects the gateway, ensures the worker identity, then walks the
// steps in definition order. Terminal outcomes are persisted and notified
// before the connection is closed.
func (e *Engine) RunWorkflow(ctx context.Context, workflowID, task string) (*RunResult, error) {
	def, err := e.loader.Load(workflowID)
	if err != nil {
		return nil, err
	}

	runID := store.NewRunID()
	state, err := e.store.InitRun(runID, def.ID, task)
	if err != nil {
		return nil, err
	}

	logger.Info("run %s: %s", runID, def.Name)

	if err := e.gateway.Connect(ctx); err != nil {
		state.Status = types.RunStatusFailed
		state.Error = err.Error()
		if saveErr := e.store.SaveState(state); saveErr != nil {
			logger.Error("persist failed run: %v", saveErr)
		}
		return nil, fmt.Errorf("connect gateway: %w", err)
	}
	defer e.gateway.Close()

	agentID := e.ensureWorkerIdentity(ctx)

	total := len(def.Steps)
	for i := range def.Steps {
		step := &def.Steps[i]
		err := e.executeStep(ctx, state, step, agentID, i+1, total)
		if err == nil {
			continue
		}
		if e.runFallback(ctx, state, def, step, agentID, i) {
			continue
		}

		state.Status = types.RunStatusFailed
		state.Error = err.Error()
		if saveErr := e.store.SaveState(state); saveErr != nil {
			logger.Error("persist failed run: %v", saveErr)
		}
		logger.Error("run %s failed at step %q: %v", runID, stepName(step), err)
		e.notifyFailure(ctx, state, def, stepName(step), err)
		return &RunResult{Success: false, RunID: runID, State: state}, nil
	}

	state.Status = types.RunStatusDone
	if err := e.store.SaveState(state); err != nil {
		return nil, err
	}
	logger.Info("run %s complete", runID)
	logger.Info("%s", e.latency.Summary())
	e.notifyCompletion(ctx, state, def)
	return &RunResult{Success: true, RunID: runID, State: state}, nil
}

// runFallback applies a step's onFail.retryStep policy: re-run the named
// earlier step, then the failing step exactly once more. It reports whether
// the failure was absorbed.
func (e *Engine) runFallback(ctx context.Context, state *types.RunState, def *types.WorkflowDefinition, step *types.WorkflowStep, agentID string, idx int) bool {
	if step.OnFail == nil || step.OnFail.RetryStep == "" {
		return false
	}

	retry, retryIdx := def.FindStep(step.OnFail.RetryStep)
	if retry == nil || retryIdx >= idx {
		logger.Warn("fallback step %q not found before %q, giving up", step.OnFail.RetryStep, step.ID)
		return false
	}

	logger.Info("fallback: re-running %q then retrying %q", retry.ID, step.ID)
	total := len(def.Steps)
	if err := e.executeStep(ctx, state, retry, agentID, retryIdx+1, total); err != nil {
		logger.Error("fallback step %q failed: %v", retry.ID, err)
		return false
	}
	if err := e.executeStep(ctx, state, step, agentID, idx+1, total); err != nil {
		logger.Error("step %q failed again after fallback: %v", step.ID, err)
		return false
	}
	return true
}

// GetStatus returns the persisted state of one run.
func (e *Engine) GetStatus(runID string) (*types.RunState, error) {
	return e.store.LoadState(runID)
}

// ListRuns returns every persisted run, oldest first.
func (e *Engine) ListRuns() ([]*types.RunState, error) {
	return e.store.ListRuns()
}

// LatencySummary returns the chat round-trip summary for the current run.
func (e *Engine) LatencySummary() string {
	return e.latency.Summary()
}

package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"yqhp/flowrunner/pkg/logger"
	"yqhp/flowrunner/pkg/types"
)

// longResponseOverride is the acceptance heuristic: a response longer than
// this many characters counts as a success even when the expected substring
// is missing.
const longResponseOverride = 500

// executeStep runs one workflow step against the worker agent, bounded by the
// step's retry budget. The session key is deterministic in (runID, stepID) so
// every attempt reuses the same conversation; SendChat discards the previous
// attempt's buffer before resending.
func (e *Engine) executeStep(ctx context.Context, state *types.RunState, step *types.WorkflowStep, agentID string, stepIndex, totalSteps int) error {
	sessionKey := fmt.Sprintf("agent:%s:flow:%s:%s", agentID, state.RunID, step.ID)

	// The loader normalizes MaxRetries, but definitions built in code may
	// leave it unset.
	maxRetries := 1
	if step.MaxRetries != nil {
		maxRetries = *step.MaxRetries
		if maxRetries < 0 {
			maxRetries = 0
		}
	}

	for attempt := 1; ; attempt++ {
		logger.Info("step %d/%d: %s", stepIndex, totalSteps, stepName(step))
		if attempt > 1 {
			logger.Info("  retry %d/%d", attempt, maxRetries+1)
		}

		if err := e.store.UpdateStep(state, step.ID, types.StepStatusRunning, "", nil); err != nil {
			return err
		}

		prompt := RenderTemplate(step.Input, state.Variables)

		start := time.Now()
		response, err := e.gateway.SendChat(ctx, sessionKey, prompt)
		if err != nil {
			if saveErr := e.store.UpdateStep(state, step.ID, types.StepStatusFailed, err.Error(), nil); saveErr != nil {
				logger.Error("persist step failure: %v", saveErr)
			}
			return NewStepError(step.ID, stepName(step), "chat exchange failed", err)
		}
		e.latency.Record(step.ID, time.Since(start))
		logger.Info("  got %d chars", len(response))

		vars := ParseOutputVariables(response)
		vars[step.ID+"_output"] = response

		success := stepAccepted(step, response)
		if !success && attempt <= maxRetries {
			logger.Info("  response rejected, retrying")
			continue
		}

		status := types.StepStatusDone
		if !success {
			status = types.StepStatusFailed
		}
		if err := e.store.UpdateStep(state, step.ID, status, response, vars); err != nil {
			return err
		}

		if !success {
			return NewStepError(step.ID, stepName(step), "response too short or missing expected output", nil)
		}
		return nil
	}
}

// stepAccepted applies the success policy: without an expectation every
// response is accepted; with one, the response must contain it, or be longer
// than longResponseOverride characters.
func stepAccepted(step *types.WorkflowStep, response string) bool {
	if step.Expects == "" {
		return true
	}
	if strings.Contains(response, step.Expects) {
		return true
	}
	return len(response) > longResponseOverride
}

func stepName(step *types.WorkflowStep) string {
	if step.Name != "" {
		return step.Name
	}
	return step.ID
}

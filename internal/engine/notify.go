package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"yqhp/flowrunner/pkg/logger"
	"yqhp/flowrunner/pkg/types"
)

// Variable names matching these fragments are surfaced in the completion
// summary.
var summaryVarFragments = []string{"count", "status", "result", "fixed", "verified"}

const maxSummaryVars = 5

// notifyCompletion sends the completion summary to the notification session.
// Failures are logged and swallowed; they never change the run outcome.
func (e *Engine) notifyCompletion(ctx context.Context, state *types.RunState, def *types.WorkflowDefinition) {
	e.notify(ctx, "complete", state.RunID, buildCompletionSummary(state, def))
}

// notifyFailure sends the failure summary to the notification session.
func (e *Engine) notifyFailure(ctx context.Context, state *types.RunState, def *types.WorkflowDefinition, stepName string, cause error) {
	e.notify(ctx, "fail", state.RunID, buildFailureSummary(state, def, stepName, cause))
}

func (e *Engine) notify(ctx context.Context, kind, runID, message string) {
	params := types.ChatSendParams{
		SessionKey:     e.cfg.Engine.NotifySessionKey,
		Message:        message,
		IdempotencyKey: fmt.Sprintf("flow-%s-%s-%s", kind, runID, uuid.NewString()),
	}
	if _, err := e.gateway.Call(ctx, "chat.send", params); err != nil {
		logger.Error("failed to send %s notification: %v", kind, err)
		return
	}
	logger.Info("%s notification sent", kind)
}

// buildCompletionSummary renders the end-of-run summary for a completed run.
func buildCompletionSummary(state *types.RunState, def *types.WorkflowDefinition) string {
	duration := state.UpdatedAt.Sub(state.CreatedAt).Round(time.Second)
	minutes := int(duration.Minutes())
	seconds := int(duration.Seconds()) % 60

	var b strings.Builder
	fmt.Fprintf(&b, "**Workflow Complete**\n\n")
	fmt.Fprintf(&b, "**Workflow:** %s\n", def.Name)
	fmt.Fprintf(&b, "**Run ID:** %s\n", state.RunID)
	fmt.Fprintf(&b, "**Duration:** %dm %ds\n\n", minutes, seconds)

	b.WriteString("**Steps completed:**\n")
	for _, step := range state.Steps {
		marker := "x"
		if step.Status == types.StepStatusDone {
			marker = "+"
		}
		fmt.Fprintf(&b, "%s %s\n", marker, step.ID)
	}

	if keyVars := summaryVariables(state.Variables); len(keyVars) > 0 {
		b.WriteString("\n**Results:**\n")
		for _, name := range keyVars {
			fmt.Fprintf(&b, "- %s: %v\n", name, state.Variables[name])
		}
	}

	if len(state.Steps) > 0 {
		last := state.Steps[len(state.Steps)-1]
		if block := statusExcerpt(last.Output); block != "" {
			fmt.Fprintf(&b, "\n**Final Status:**\n```\n%s\n```\n", block)
		}
	}

	fmt.Fprintf(&b, "\nTask: %s", truncate(state.Task, 150))
	return b.String()
}

// buildFailureSummary renders the failure notification for a failed run.
func buildFailureSummary(state *types.RunState, def *types.WorkflowDefinition, stepName string, cause error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Workflow Failed**\n\n")
	fmt.Fprintf(&b, "**Workflow:** %s\n", def.Name)
	fmt.Fprintf(&b, "**Run ID:** %s\n", state.RunID)
	fmt.Fprintf(&b, "**Failed at:** Step %q\n", stepName)
	fmt.Fprintf(&b, "**Error:** %v\n\n", cause)
	fmt.Fprintf(&b, "Task: %s\n\n", truncate(state.Task, 200))
	fmt.Fprintf(&b, "Check logs with: `flowrunner status %s`", state.RunID)
	return b.String()
}

// summaryVariables picks run variables worth surfacing, in stable order.
func summaryVariables(vars map[string]any) []string {
	var names []string
	for name := range vars {
		for _, frag := range summaryVarFragments {
			if strings.Contains(name, frag) {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	if len(names) > maxSummaryVars {
		names = names[:maxSummaryVars]
	}
	return names
}

// statusExcerpt extracts the first "STATUS: done" block from an output,
// capped at five lines and cut at the first blank or uppercase-led line that
// follows it.
func statusExcerpt(output string) string {
	idx := strings.Index(output, "STATUS: done")
	if idx < 0 {
		return ""
	}
	lines := strings.Split(output[idx:], "\n")
	var block []string
	for i, line := range lines {
		if i > 0 && (line == "" || (line[0] >= 'A' && line[0] <= 'Z')) {
			break
		}
		block = append(block, line)
		if len(block) == 5 {
			break
		}
	}
	return strings.Join(block, "\n")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

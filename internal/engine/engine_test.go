package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/flowrunner/internal/config"
	"yqhp/flowrunner/internal/store"
	"yqhp/flowrunner/internal/workflow"
	"yqhp/flowrunner/pkg/types"
)

func intPtr(n int) *int { return &n }

// chatExchange records one SendChat round trip seen by the fake gateway.
type chatExchange struct {
	sessionKey string
	message    string
	response   string
}

// fakeGateway scripts chat responses per step id and records everything the
// engine does with it.
type fakeGateway struct {
	mu sync.Mutex

	connectErr   error
	connectCalls int
	closeCalls   int

	// responses maps a step id to a queue of scripted chat responses,
	// consumed one per attempt.
	responses map[string][]string
	chats     []chatExchange

	configPayload string
	patches       []map[string]any
	notifications []types.ChatSendParams
	notifyErr     error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		responses: make(map[string][]string),
		// Snapshot already contains the worker agent, so runs skip the
		// provisioning patch unless a test overrides this.
		configPayload: `{"config":{"agents":{"list":[{"id":"flow-worker"}]}},"hash":"h1"}`,
	}
}

func (g *fakeGateway) script(stepID string, responses ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responses[stepID] = append(g.responses[stepID], responses...)
}

func (g *fakeGateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connectCalls++
	return g.connectErr
}

func (g *fakeGateway) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch method {
	case "config.get":
		return json.RawMessage(g.configPayload), nil
	case "config.patch":
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		var patch map[string]any
		if err := json.Unmarshal(data, &patch); err != nil {
			return nil, err
		}
		g.patches = append(g.patches, patch)
		return json.RawMessage(`{}`), nil
	case "chat.send":
		if g.notifyErr != nil {
			return nil, g.notifyErr
		}
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		var p types.ChatSendParams
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		g.notifications = append(g.notifications, p)
		return json.RawMessage(`{}`), nil
	}
	return nil, fmt.Errorf("unexpected call %s", method)
}

func (g *fakeGateway) SendChat(ctx context.Context, sessionKey, message string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	parts := strings.Split(sessionKey, ":")
	stepID := parts[len(parts)-1]

	queue := g.responses[stepID]
	if len(queue) == 0 {
		return "", fmt.Errorf("no scripted response for step %s", stepID)
	}
	response := queue[0]
	g.responses[stepID] = queue[1:]

	g.chats = append(g.chats, chatExchange{sessionKey: sessionKey, message: message, response: response})
	return response, nil
}

func (g *fakeGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closeCalls++
	return nil
}

func (g *fakeGateway) chatLog() []chatExchange {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]chatExchange(nil), g.chats...)
}

func (g *fakeGateway) sentNotifications() []types.ChatSendParams {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]types.ChatSendParams(nil), g.notifications...)
}

// newTestEngine wires an Engine over temp directories and the fake gateway,
// with the given definition written to the workflow directory.
func newTestEngine(t *testing.T, def *types.WorkflowDefinition, gw *fakeGateway) (*Engine, *store.Store) {
	t.Helper()

	runsDir := t.TempDir()
	workflowsDir := t.TempDir()

	data, err := json.Marshal(def)
	require.NoError(t, err)
	path := filepath.Join(workflowsDir, def.ID+".workflow.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	st, err := store.New(runsDir)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Paths.RunsDir = runsDir
	cfg.Paths.WorkflowsDir = workflowsDir
	cfg.Engine.SettleDelay = time.Millisecond
	cfg.Engine.ReconnectBackoff = time.Millisecond

	return New(cfg, st, workflow.NewLoader(workflowsDir), gw), st
}

func TestRunWorkflowAllStepsSucceed(t *testing.T) {
	def := &types.WorkflowDefinition{
		ID:   "greet",
		Name: "Greeting",
		Steps: []types.WorkflowStep{
			{ID: "one", Input: "first: {{task}}"},
			{ID: "two", Input: "second"},
			{ID: "three", Input: "third"},
		},
	}
	gw := newFakeGateway()
	gw.script("one", "done one")
	gw.script("two", "done two")
	gw.script("three", "done three")

	eng, st := newTestEngine(t, def, gw)
	result, err := eng.RunWorkflow(context.Background(), "greet", "say hello")
	require.NoError(t, err)
	assert.True(t, result.Success)

	state, err := st.LoadState(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusDone, state.Status)
	require.Len(t, state.Steps, 3)
	for _, step := range state.Steps {
		assert.Equal(t, types.StepStatusDone, step.Status)
	}
	assert.Equal(t, []string{"one", "two", "three"},
		[]string{state.Steps[0].ID, state.Steps[1].ID, state.Steps[2].ID})

	// One exchange per step, on the deterministic per-step session key.
	chats := gw.chatLog()
	require.Len(t, chats, 3)
	assert.Equal(t, fmt.Sprintf("agent:flow-worker:flow:%s:one", result.RunID), chats[0].sessionKey)
	assert.Equal(t, "first: say hello", chats[0].message)

	// Raw step output is captured in the variable namespace.
	assert.Equal(t, "done two", state.Variables["two_output"])

	// Completion is announced on the operator session.
	notes := gw.sentNotifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "agent:main", notes[0].SessionKey)
	assert.Contains(t, notes[0].Message, "**Workflow Complete**")
	assert.Equal(t, 1, gw.closeCalls)
}

func TestRunWorkflowHardStop(t *testing.T) {
	def := &types.WorkflowDefinition{
		ID:   "strict",
		Name: "Strict",
		Steps: []types.WorkflowStep{
			{ID: "a", Input: "do a"},
			{ID: "b", Input: "do b", Expects: "CONFIRMED", MaxRetries: intPtr(1)},
			{ID: "c", Input: "do c"},
		},
	}
	gw := newFakeGateway()
	gw.script("a", "fine")
	gw.script("b", "nope", "still nope")

	eng, st := newTestEngine(t, def, gw)
	result, err := eng.RunWorkflow(context.Background(), "strict", "task")
	require.NoError(t, err)
	assert.False(t, result.Success)

	state, err := st.LoadState(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusFailed, state.Status)
	assert.NotEmpty(t, state.Error)

	// Step b exhausted its budget (first attempt plus one retry), step c
	// never started.
	chats := gw.chatLog()
	require.Len(t, chats, 3)
	assert.Nil(t, state.FindStep("c"))
	assert.Equal(t, types.StepStatusFailed, state.FindStep("b").Status)

	notes := gw.sentNotifications()
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Message, "**Workflow Failed**")
}

func TestRunWorkflowRetrySucceeds(t *testing.T) {
	def := &types.WorkflowDefinition{
		ID:   "flaky",
		Name: "Flaky",
		Steps: []types.WorkflowStep{
			{ID: "s", Input: "work", Expects: "OK", MaxRetries: intPtr(2)},
		},
	}
	gw := newFakeGateway()
	gw.script("s", "not yet", "OK now")

	eng, st := newTestEngine(t, def, gw)
	result, err := eng.RunWorkflow(context.Background(), "flaky", "task")
	require.NoError(t, err)
	assert.True(t, result.Success)

	state, err := st.LoadState(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.StepStatusDone, state.FindStep("s").Status)
	assert.Len(t, gw.chatLog(), 2)
}

func TestRunWorkflowFallbackThenRetry(t *testing.T) {
	def := &types.WorkflowDefinition{
		ID:   "fallback",
		Name: "Fallback",
		Steps: []types.WorkflowStep{
			{ID: "prepare", Input: "prepare"},
			{ID: "apply", Input: "apply", Expects: "APPLIED", MaxRetries: intPtr(1),
				OnFail: &types.OnFailPolicy{RetryStep: "prepare"}},
		},
	}

	t.Run("recovers", func(t *testing.T) {
		gw := newFakeGateway()
		gw.script("prepare", "prepared", "prepared again")
		// Two failing attempts, then success after the fallback re-run.
		gw.script("apply", "failed", "failed", "APPLIED")

		eng, st := newTestEngine(t, def, gw)
		result, err := eng.RunWorkflow(context.Background(), "fallback", "task")
		require.NoError(t, err)
		assert.True(t, result.Success)

		state, err := st.LoadState(result.RunID)
		require.NoError(t, err)
		assert.Equal(t, types.RunStatusDone, state.Status)
		assert.Equal(t, types.StepStatusDone, state.FindStep("apply").Status)
		// prepare once + apply twice + fallback prepare + apply once more
		assert.Len(t, gw.chatLog(), 5)
	})

	t.Run("fails again", func(t *testing.T) {
		gw := newFakeGateway()
		gw.script("prepare", "prepared", "prepared again")
		gw.script("apply", "failed", "failed", "failed", "failed")

		eng, st := newTestEngine(t, def, gw)
		result, err := eng.RunWorkflow(context.Background(), "fallback", "task")
		require.NoError(t, err)
		assert.False(t, result.Success)

		state, err := st.LoadState(result.RunID)
		require.NoError(t, err)
		assert.Equal(t, types.RunStatusFailed, state.Status)
		assert.Equal(t, types.StepStatusFailed, state.FindStep("apply").Status)
	})
}

// TestRunWorkflowNotificationFailureIsSwallowed checks that a failing
// notification send never changes the run outcome.
func TestRunWorkflowNotificationFailureIsSwallowed(t *testing.T) {
	t.Run("completed run stays done", func(t *testing.T) {
		def := &types.WorkflowDefinition{
			ID:    "quiet",
			Name:  "Quiet",
			Steps: []types.WorkflowStep{{ID: "s", Input: "work"}},
		}
		gw := newFakeGateway()
		gw.script("s", "done")
		gw.notifyErr = fmt.Errorf("notify session unavailable")

		eng, st := newTestEngine(t, def, gw)
		result, err := eng.RunWorkflow(context.Background(), "quiet", "task")
		require.NoError(t, err)
		assert.True(t, result.Success)

		state, err := st.LoadState(result.RunID)
		require.NoError(t, err)
		assert.Equal(t, types.RunStatusDone, state.Status)
		assert.Empty(t, gw.sentNotifications())
	})

	t.Run("failed run keeps its own error", func(t *testing.T) {
		def := &types.WorkflowDefinition{
			ID:    "quiet-fail",
			Name:  "Quiet Fail",
			Steps: []types.WorkflowStep{{ID: "s", Input: "work", Expects: "OK", MaxRetries: intPtr(0)}},
		}
		gw := newFakeGateway()
		gw.script("s", "not ok")
		gw.notifyErr = fmt.Errorf("notify session unavailable")

		eng, st := newTestEngine(t, def, gw)
		result, err := eng.RunWorkflow(context.Background(), "quiet-fail", "task")
		require.NoError(t, err)
		assert.False(t, result.Success)

		state, err := st.LoadState(result.RunID)
		require.NoError(t, err)
		assert.Equal(t, types.RunStatusFailed, state.Status)
		assert.Contains(t, state.Error, "expected output")
		assert.NotContains(t, state.Error, "notify session unavailable")
	})
}

func TestRunWorkflowExplicitZeroRetries(t *testing.T) {
	def := &types.WorkflowDefinition{
		ID:   "oneshot",
		Name: "One Shot",
		Steps: []types.WorkflowStep{
			{ID: "s", Input: "work", Expects: "OK", MaxRetries: intPtr(0)},
		},
	}
	gw := newFakeGateway()
	gw.script("s", "not ok", "never consumed")

	eng, st := newTestEngine(t, def, gw)
	result, err := eng.RunWorkflow(context.Background(), "oneshot", "task")
	require.NoError(t, err)
	assert.False(t, result.Success)

	// A zero retry budget means exactly one attempt.
	assert.Len(t, gw.chatLog(), 1)

	state, err := st.LoadState(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.StepStatusFailed, state.FindStep("s").Status)
}

func TestRunWorkflowConnectFailure(t *testing.T) {
	def := &types.WorkflowDefinition{
		ID:    "never",
		Name:  "Never Runs",
		Steps: []types.WorkflowStep{{ID: "s", Input: "x"}},
	}
	gw := newFakeGateway()
	gw.connectErr = fmt.Errorf("connection refused")

	eng, st := newTestEngine(t, def, gw)
	result, err := eng.RunWorkflow(context.Background(), "never", "task")
	require.Error(t, err)
	assert.Nil(t, result)

	// The failed run is still persisted and listable.
	runs, err := st.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, types.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "connection refused")
}

func TestRunWorkflowUnknownWorkflow(t *testing.T) {
	def := &types.WorkflowDefinition{
		ID:    "known",
		Name:  "Known",
		Steps: []types.WorkflowStep{{ID: "s", Input: "x"}},
	}
	eng, _ := newTestEngine(t, def, newFakeGateway())

	_, err := eng.RunWorkflow(context.Background(), "unknown", "task")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRunWorkflowLongResponseOverride(t *testing.T) {
	def := &types.WorkflowDefinition{
		ID:   "verbose",
		Name: "Verbose",
		Steps: []types.WorkflowStep{
			{ID: "s", Input: "go", Expects: "NEVER_PRESENT"},
		},
	}
	gw := newFakeGateway()
	gw.script("s", strings.Repeat("detailed output ", 40))

	eng, _ := newTestEngine(t, def, gw)
	result, err := eng.RunWorkflow(context.Background(), "verbose", "task")
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestRunWorkflowVariableFlow(t *testing.T) {
	def := &types.WorkflowDefinition{
		ID:   "pipeline",
		Name: "Pipeline",
		Steps: []types.WorkflowStep{
			{ID: "extract", Input: "extract from {{task}}"},
			{ID: "transform", Input: "transform {{items}} items"},
		},
	}
	gw := newFakeGateway()
	gw.script("extract", "scanning complete\nITEMS: 7")
	gw.script("transform", "done")

	eng, st := newTestEngine(t, def, gw)
	result, err := eng.RunWorkflow(context.Background(), "pipeline", "the dataset")
	require.NoError(t, err)
	require.True(t, result.Success)

	chats := gw.chatLog()
	require.Len(t, chats, 2)
	assert.Equal(t, "extract from the dataset", chats[0].message)
	assert.Equal(t, "transform 7 items", chats[1].message)

	state, err := st.LoadState(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "7", state.Variables["items"])
	assert.Equal(t, "the dataset", state.Variables["task"])
}

// TestRunWorkflowScanReportScenario drives a two-step scan-then-report
// workflow end to end: variables parsed from the first step feed the second
// step's prompt and the completion summary.
func TestRunWorkflowScanReportScenario(t *testing.T) {
	def := &types.WorkflowDefinition{
		ID:   "code-audit",
		Name: "Code Audit",
		Steps: []types.WorkflowStep{
			{ID: "scan", Name: "Scan Code", Input: "Scan the project: {{task}}", Expects: "STATUS: done"},
			{ID: "report", Name: "Write Report", Input: "Write a report about {{findings_count}} findings", Expects: "STATUS: done"},
		},
	}
	gw := newFakeGateway()
	gw.script("scan", "Scanned 12 files.\nFINDINGS_COUNT: 4\nSTATUS: done")
	gw.script("report", "Report written to audit.md\nSTATUS: done")

	eng, st := newTestEngine(t, def, gw)
	result, err := eng.RunWorkflow(context.Background(), "code-audit", "find unchecked errors")
	require.NoError(t, err)
	require.True(t, result.Success)

	chats := gw.chatLog()
	require.Len(t, chats, 2)
	assert.Equal(t, "Write a report about 4 findings", chats[1].message)

	state, err := st.LoadState(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusDone, state.Status)
	assert.Equal(t, "4", state.Variables["findings_count"])
	assert.Equal(t, "done", state.Variables["status"])

	notes := gw.sentNotifications()
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Message, "findings_count: 4")
	assert.Contains(t, notes[0].Message, "STATUS: done")
}

func TestEnsureWorkerIdentityProvisioning(t *testing.T) {
	def := &types.WorkflowDefinition{
		ID:    "prov",
		Name:  "Provision",
		Steps: []types.WorkflowStep{{ID: "s", Input: "x"}},
	}

	t.Run("existing worker skips patch", func(t *testing.T) {
		gw := newFakeGateway()
		gw.script("s", "done")

		eng, _ := newTestEngine(t, def, gw)
		result, err := eng.RunWorkflow(context.Background(), "prov", "task")
		require.NoError(t, err)
		require.True(t, result.Success)
		assert.Empty(t, gw.patches)
		assert.Contains(t, gw.chatLog()[0].sessionKey, "agent:flow-worker:")
	})

	t.Run("missing worker is created", func(t *testing.T) {
		gw := newFakeGateway()
		gw.configPayload = `{"config":{"agents":{"list":[{"id":"main"}]}},"hash":"h2"}`
		gw.script("s", "done")

		eng, _ := newTestEngine(t, def, gw)
		result, err := eng.RunWorkflow(context.Background(), "prov", "task")
		require.NoError(t, err)
		require.True(t, result.Success)

		require.Len(t, gw.patches, 1)
		raw, _ := gw.patches[0]["raw"].(string)
		assert.Contains(t, raw, `"flow-worker"`)
		assert.Equal(t, "h2", gw.patches[0]["baseHash"])
		// The gateway restarts after a patch, so the engine reconnects.
		assert.GreaterOrEqual(t, gw.connectCalls, 2)
	})

	t.Run("config failure falls back to default agent", func(t *testing.T) {
		gw := newFakeGateway()
		gw.configPayload = `not json`
		gw.script("s", "done")

		eng, _ := newTestEngine(t, def, gw)
		result, err := eng.RunWorkflow(context.Background(), "prov", "task")
		require.NoError(t, err)
		require.True(t, result.Success)
		assert.Contains(t, gw.chatLog()[0].sessionKey, "agent:main:")
	})
}

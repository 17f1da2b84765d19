package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"yqhp/flowrunner/pkg/logger"
)

// workerInstructions is the fixed instruction profile for the worker agent.
const workerInstructions = `You are a workflow step executor. Your job is to complete tasks precisely and thoroughly.

Rules:
- USE TOOLS. Read files with the read tool. Edit files with the edit tool. Run commands with exec.
- Do the actual work. Don't just describe what should be done, do it.
- Be thorough. When scanning code, read the actual files. When fixing bugs, edit the actual code.
- Report what you did concretely. File names, line numbers, specific changes.
- When done, end your response with: STATUS: done
- If you can't complete the task, explain exactly why and end with: STATUS: blocked`

// agentEntry is one agent in the gateway configuration document.
type agentEntry struct {
	ID           string          `json:"id"`
	Name         string          `json:"name,omitempty"`
	Workspace    string          `json:"workspace,omitempty"`
	Identity     map[string]any  `json:"identity,omitempty"`
	Tools        map[string]any  `json:"tools,omitempty"`
	Instructions string          `json:"instructions,omitempty"`
	AuthProfiles json.RawMessage `json:"authProfiles,omitempty"`
}

type agentsSection struct {
	List []agentEntry `json:"list"`
}

type gatewayConfigDoc struct {
	Agents agentsSection `json:"agents"`
}

// configSnapshot is the config.get response: either a wrapped document with a
// base-version hash, or the bare document itself.
type configSnapshot struct {
	Config *gatewayConfigDoc `json:"config"`
	Hash   string            `json:"hash"`
}

// ensureWorkerIdentity makes sure the worker agent exists in the gateway
// configuration and returns the agent id the run should use. Any failure in
// provisioning or in the reconnect that follows degrades to the default
// agent rather than aborting the run.
func (e *Engine) ensureWorkerIdentity(ctx context.Context) string {
	agentID, err := e.provisionWorker(ctx)
	if err != nil {
		logger.Warn("worker agent setup failed: %v", err)
		logger.Warn("falling back to %q agent", e.cfg.Engine.DefaultAgentID)
		return e.cfg.Engine.DefaultAgentID
	}
	return agentID
}

// provisionWorker checks for the worker agent and creates it when absent.
// Patching the configuration restarts the gateway, so a successful patch is
// followed by a settle delay and a reconnect with backoff.
func (e *Engine) provisionWorker(ctx context.Context) (string, error) {
	workerID := e.cfg.Engine.WorkerAgentID

	payload, err := e.gateway.Call(ctx, "config.get", map[string]any{})
	if err != nil {
		return "", fmt.Errorf("config.get: %w", err)
	}

	var snap configSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return "", fmt.Errorf("parse config snapshot: %w", err)
	}
	doc := snap.Config
	if doc == nil {
		doc = &gatewayConfigDoc{}
		if err := json.Unmarshal(payload, doc); err != nil {
			return "", fmt.Errorf("parse config document: %w", err)
		}
	}

	for _, a := range doc.Agents.List {
		if a.ID == workerID {
			return workerID, nil
		}
	}

	logger.Info("creating worker agent %q", workerID)
	entry := agentEntry{
		ID:        workerID,
		Name:      "Flow Worker",
		Workspace: defaultWorkspace(),
		Identity: map[string]any{
			"name":  "Flow Worker",
			"theme": "Workflow step executor",
		},
		Tools:        map[string]any{"profile": "full"},
		Instructions: workerInstructions,
	}
	if len(doc.Agents.List) > 0 {
		entry.AuthProfiles = doc.Agents.List[0].AuthProfiles
	}

	newList := append(doc.Agents.List, entry)
	raw, err := json.MarshalIndent(map[string]any{
		"agents": map[string]any{"list": newList},
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal agents patch: %w", err)
	}

	params := map[string]any{"raw": string(raw)}
	if snap.Hash != "" {
		params["baseHash"] = snap.Hash
	}
	if _, err := e.gateway.Call(ctx, "config.patch", params); err != nil {
		return "", fmt.Errorf("config.patch: %w", err)
	}

	if err := e.reconnectAfterPatch(ctx); err != nil {
		return "", err
	}

	logger.Info("worker agent %q created", workerID)
	return workerID, nil
}

// reconnectAfterPatch waits for the gateway to restart, then reconnects with
// doubling backoff.
func (e *Engine) reconnectAfterPatch(ctx context.Context) error {
	logger.Info("gateway restarts after config.patch, reconnecting")

	if err := sleepCtx(ctx, e.cfg.Engine.SettleDelay); err != nil {
		return err
	}
	e.gateway.Close()

	backoff := e.cfg.Engine.ReconnectBackoff
	var lastErr error
	for attempt := 1; attempt <= e.cfg.Engine.ReconnectAttempts; attempt++ {
		if err := e.gateway.Connect(ctx); err != nil {
			lastErr = err
			logger.Warn("reconnect attempt %d failed: %v", attempt, err)
			if err := sleepCtx(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			continue
		}
		return nil
	}
	return fmt.Errorf("reconnect failed after %d attempts: %w", e.cfg.Engine.ReconnectAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func defaultWorkspace() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowrunner/workspace"
	}
	return filepath.Join(home, ".flowrunner", "workspace")
}

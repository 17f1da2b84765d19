package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"yqhp/flowrunner/internal/engine"
	"yqhp/flowrunner/internal/gateway"
	"yqhp/flowrunner/internal/store"
	"yqhp/flowrunner/internal/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run <workflow-id> <task>...",
	Short: "Execute a workflow against a task",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		workflowID := args[0]
		task := strings.Join(args[1:], " ")

		st, err := store.New(cfg.Paths.RunsDir)
		if err != nil {
			return err
		}
		loader := workflow.NewLoader(cfg.Paths.WorkflowsDir)
		client := gateway.NewClient(cfg.Gateway)
		eng := engine.New(cfg, st, loader, client)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			<-sigCh
			fmt.Fprintln(os.Stderr, "aborting run...")
			cancel()
		}()

		result, err := eng.RunWorkflow(ctx, workflowID, task)
		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("run %s failed, see: flowrunner status %s", result.RunID, result.RunID)
		}
		fmt.Printf("run %s complete\n", result.RunID)
		return nil
	},
}

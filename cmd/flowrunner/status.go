package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"yqhp/flowrunner/internal/store"
	"yqhp/flowrunner/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the status of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.New(cfg.Paths.RunsDir)
		if err != nil {
			return err
		}
		state, err := st.LoadState(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Run:      %s (%s)\n", state.RunID, state.WorkflowID)
		fmt.Printf("Status:   %s\n", state.Status)
		fmt.Printf("Task:     %s\n", truncate(state.Task, 100))
		fmt.Printf("Started:  %s\n", state.CreatedAt.Format("2006-01-02 15:04:05"))
		if state.Error != "" {
			fmt.Printf("Error:    %s\n", state.Error)
		}

		fmt.Println("\nSteps:")
		for _, step := range state.Steps {
			detail := ""
			if step.Output != "" {
				detail = fmt.Sprintf(" (%d chars)", len(step.Output))
			}
			fmt.Printf("  %s %s: %s%s\n", stepMarker(step.Status), step.ID, step.Status, detail)
		}
		return nil
	},
}

func stepMarker(status types.StepStatus) string {
	switch status {
	case types.StepStatusDone:
		return "+"
	case types.StepStatusFailed:
		return "x"
	case types.StepStatusRunning:
		return "~"
	default:
		return "o"
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"yqhp/flowrunner/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List persisted runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.New(cfg.Paths.RunsDir)
		if err != nil {
			return err
		}
		runs, err := st.ListRuns()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no runs found")
			return nil
		}

		fmt.Printf("%-10s %-20s %-8s %-6s %s\n", "RUN", "WORKFLOW", "STATUS", "STEPS", "STARTED")
		for _, run := range runs {
			fmt.Printf("%-10s %-20s %-8s %-6d %s\n",
				run.RunID, run.WorkflowID, run.Status, len(run.Steps),
				run.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"yqhp/flowrunner/internal/workflow"
)

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "List available workflow definitions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := workflow.NewLoader(cfg.Paths.WorkflowsDir).List()
		if err != nil {
			return err
		}
		if len(defs) == 0 {
			fmt.Printf("no workflows found in %s\n", cfg.Paths.WorkflowsDir)
			return nil
		}

		for _, def := range defs {
			fmt.Printf("%s (%d steps)\n", def.ID, len(def.Steps))
			if def.Name != "" && def.Name != def.ID {
				fmt.Printf("  %s\n", def.Name)
			}
			if def.Description != "" {
				fmt.Printf("  %s\n", def.Description)
			}
		}
		return nil
	},
}

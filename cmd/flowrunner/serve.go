package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"yqhp/flowrunner/api/rest"
	"yqhp/flowrunner/internal/store"
	"yqhp/flowrunner/internal/workflow"
	"yqhp/flowrunner/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only status server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.New(cfg.Paths.RunsDir)
		if err != nil {
			return err
		}
		loader := workflow.NewLoader(cfg.Paths.WorkflowsDir)
		server := rest.NewServer(cfg.Server, st, loader)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			logger.Info("shutting down status server")
			if err := server.Shutdown(); err != nil {
				logger.Error("shutdown: %v", err)
			}
		}()

		logger.Info("status server listening on %s", cfg.Server.Address)
		return server.Start()
	},
}

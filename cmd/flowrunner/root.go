package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"yqhp/flowrunner/internal/config"
	"yqhp/flowrunner/pkg/logger"
)

// Version is the current version number.
const Version = "0.1.0"

var (
	cfgFile string
	debug   bool
	quiet   bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "flowrunner",
	Short: "Agent workflow runner",
	Long: `flowrunner executes multi-step agent workflows over a persistent
gateway connection: each step sends a templated instruction to an agent
session, waits for the full response, extracts output variables and feeds
them to later steps. Run progress is persisted per run and survives restarts.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		switch {
		case debug:
			logger.SetLevel(logger.LevelDebug)
		case quiet:
			logger.SetLevel(logger.LevelError)
		default:
			logger.SetLevelFromString(cfg.Logging.Level)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log errors")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("flowrunner %s\n", Version))

	rootCmd.AddCommand(runCmd, statusCmd, runsCmd, workflowsCmd, serveCmd)
}

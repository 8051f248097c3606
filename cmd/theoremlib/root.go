package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/theoremlib/internal/config"
	"github.com/ShayCichocki/theoremlib/internal/ctxlog"
)

var (
	configPath string
	logLevel   string
	apiURL     string
)

var rootCmd = &cobra.Command{
	Use:   "theoremlib",
	Short: "Theorem library dependency service",
	Long: `theoremlib indexes, verifies, and compiles formal mathematics projects.

Submitting a project queues an index job. The job clones the repository at the
given commit, validates its dependency manifest, and records the declared
dependencies in the graph. Dependencies seen for the first time are queued for
indexing in turn, so a single submission walks the whole dependency tree.

Components:
- serve    REST API over the dependency graph and job status
- worker   consumes jobs and runs each in an ephemeral environment
- task     the program run inside a job environment`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/theoremlib/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "API base URL for client commands (default services.api)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(artifactsCmd)
	rootCmd.AddCommand(depsCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads configuration and installs the configured logger as the
// process default.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, err := ctxlog.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

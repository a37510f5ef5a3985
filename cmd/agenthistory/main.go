package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	// Global logger
	logger *slog.Logger
)

func main() {
	// Initialize structured logger
	logHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger = slog.New(logHandler)
	slog.SetDefault(logger)

	// Execute root command
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agenthistory",
	Short: "Per-node build history index for a CI host",
	Long: `agenthistory keeps, for every build agent, an index of the runs that
executed on it and answers paged, sorted and filtered history queries.

Features:
  - One append-only index file per node
  - Freestyle and pipeline runs (allocation blocks resolved from the step graph)
  - Host events: run started/completed/deleted, job and node renames
  - Per-job agent trend windows
  - Scheduled prune of records whose run is gone
  - HTTP API, HTML pages and a terminal browser`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Add persistent flags
	rootCmd.PersistentFlags().StringP("config", "c", "agenthistory.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	// Register subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(trendCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(pruneCmd)
}

// setupSignalHandler creates a context that cancels on SIGINT or SIGTERM
func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()

		// Force exit if second signal received
		sig = <-sigChan
		logger.Warn("received second signal, forcing exit", "signal", sig.String())
		os.Exit(1)
	}()

	return ctx
}

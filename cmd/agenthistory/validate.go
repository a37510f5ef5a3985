package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/caevv/agenthistory/internal/config"
	"github.com/caevv/agenthistory/internal/scheduler"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the agenthistory configuration file",
	Long: `Validate the syntax and semantics of an agenthistory configuration file.

This command loads and validates the configuration file without opening the
index or the host mirror. It checks for:
  - Valid YAML syntax
  - A supported host store driver
  - Page sizes and default sort settings
  - A valid prune schedule
  - Valid logging level and format

Example:
  agenthistory validate --config ./agenthistory.yaml`,
	RunE: validateConfig,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a configuration file with every setting at its default value and a
daily prune schedule.

Example:
  agenthistory init --config ./agenthistory.yaml`,
	RunE: initConfig,
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite an existing configuration file")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	logger.Info("validating configuration", "path", configPath)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		logger.Error("configuration file not found", "path", configPath)
		return fmt.Errorf("configuration file not found: %s", configPath)
	}

	// LoadConfig validates automatically
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error("configuration validation failed", "error", err)
		return fmt.Errorf("validation failed: %w", err)
	}

	logger.Info("configuration is valid",
		"path", configPath,
		"index_dir", cfg.Storage.Dir,
		"store_driver", cfg.Host.Driver,
		"entries_per_page", cfg.History.EntriesPerPage)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n✓ Configuration is valid: %s\n", configPath)
	fmt.Fprintf(out, "  Index: %s\n", cfg.Storage.Dir)
	fmt.Fprintf(out, "  Store: %s (%s)\n", cfg.Host.Driver, cfg.Host.Path)
	fmt.Fprintf(out, "  Page size: %d (max %d), sorted by %s %s\n",
		cfg.History.EntriesPerPage, cfg.History.MaxPageSize,
		cfg.History.DefaultSortColumn, cfg.History.DefaultSortOrder)
	if cfg.Maintenance.PruneSchedule != "" {
		fmt.Fprintf(out, "  Prune: %s\n", cfg.Maintenance.PruneSchedule)
		next, err := scheduler.NextRuns(cfg.Maintenance.PruneSchedule, time.Now(), 3)
		if err != nil {
			return err
		}
		for _, t := range next {
			fmt.Fprintf(out, "    next: %s\n", t.Format(time.RFC3339))
		}
	}
	return nil
}

func initConfig(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	force, _ := cmd.Flags().GetBool("force")

	if _, err := config.InitConfig(configPath, force); err != nil {
		if errors.Is(err, config.ErrConfigExists) {
			return fmt.Errorf("%w (use --force to overwrite)", err)
		}
		return err
	}

	logger.Info("configuration written", "path", configPath)
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", configPath)
	return nil
}

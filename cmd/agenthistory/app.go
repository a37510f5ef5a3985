package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/caevv/agenthistory/internal/config"
	"github.com/caevv/agenthistory/internal/history"
	"github.com/caevv/agenthistory/internal/index"
	"github.com/caevv/agenthistory/internal/logging"
	"github.com/caevv/agenthistory/internal/store"
)

// app is the wiring shared by every command that touches the history.
type app struct {
	cfg     *config.Config
	host    store.Store
	index   *index.Store
	history *history.Service
	logger  *slog.Logger

	closeLog func() error
}

// openApp loads the configuration, replaces the global logger with the
// configured one and opens the host mirror and the node index. When quiet
// is set, logs meant for the terminal are discarded.
func openApp(configPath string, debug, quiet bool) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	output := cfg.Logging.Output
	if quiet && (output == "stderr" || output == "stdout") {
		output = "discard"
	}
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	appLogger, closeLog, err := logging.NewFromConfig(cfg.Logging.Format, level, output)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = appLogger
	slog.SetDefault(appLogger)

	host, err := store.NewStore(cfg.Host.Driver, cfg.Host.Path)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	logger.Debug("store initialized", "driver", cfg.Host.Driver, "path", cfg.Host.Path)

	idx, err := index.New(cfg.Storage.Dir, logger)
	if err != nil {
		host.Close()
		closeLog()
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	return &app{
		cfg:      cfg,
		host:     host,
		index:    idx,
		history:  history.NewService(idx, host, logger),
		logger:   logger,
		closeLog: closeLog,
	}, nil
}

// openAppFromFlags reads the persistent --config and --debug flags.
func openAppFromFlags(cmd *cobra.Command, quiet bool) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")
	return openApp(configPath, debug, quiet)
}

// Close releases the host mirror and then the log output.
func (a *app) Close() error {
	err := a.host.Close()
	if err != nil {
		a.logger.Error("failed to close store", "error", err)
	}
	return errors.Join(err, a.closeLog())
}

// closeApp closes a. Errors have been logged or concern the log itself.
func closeApp(a *app) {
	_ = a.Close()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/caevv/agenthistory/internal/scheduler"
	"github.com/caevv/agenthistory/internal/server"
)

// pruneTimeout bounds one scheduled prune pass.
const pruneTimeout = 30 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the history API and run scheduled maintenance",
	Long: `Start the HTTP API and the maintenance scheduler.

This command loads the configuration file, opens the host mirror and the
node index, schedules the prune task from maintenance.prune_schedule and
serves the JSON API and HTML pages until interrupted by SIGINT or SIGTERM.

Example:
  agenthistory serve --config ./agenthistory.yaml --addr :8080`,
	RunE: runServer,
}

func init() {
	serveCmd.Flags().StringP("addr", "a", "", "HTTP server address (host:port), overrides server.addr")
}

func runServer(cmd *cobra.Command, args []string) error {
	a, err := openAppFromFlags(cmd, false)
	if err != nil {
		return err
	}
	defer closeApp(a)

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = a.cfg.Server.Addr
	}

	logger.Info("configuration loaded successfully",
		"index_dir", a.cfg.Storage.Dir,
		"store_driver", a.cfg.Host.Driver,
		"prune_schedule", a.cfg.Maintenance.PruneSchedule)

	// Setup signal handling for graceful shutdown
	ctx := setupSignalHandler()

	sched := scheduler.New(ctx, logger)
	if err := registerMaintenance(sched, a); err != nil {
		return err
	}

	srv := server.New(server.Options{
		Addr:        addr,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		History:     a.cfg.History,
	}, a.history, a.host, sched, logger)

	g, gCtx := errgroup.WithContext(ctx)

	if a.cfg.Maintenance.BackfillOnStart {
		g.Go(func() error {
			stats, err := a.history.Backfill(gCtx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return fmt.Errorf("backfill failed: %w", err)
			}
			logger.Info("startup backfill finished",
				"runs", stats.Runs,
				"appended", stats.Appended,
				"stamped", stats.Stamped)
			return nil
		})
	}

	// Start scheduler
	g.Go(func() error {
		if err := sched.Start(); err != nil {
			return fmt.Errorf("scheduler error: %w", err)
		}
		<-gCtx.Done()
		if err := sched.Stop(); err != nil {
			logger.Error("error stopping scheduler", "error", err)
		}
		return nil
	})

	// Start HTTP server
	g.Go(func() error {
		if err := srv.Start(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	logger.Info("agenthistory serve mode started successfully",
		"scheduled_tasks", len(sched.ListTasks()),
		"dashboard_url", fmt.Sprintf("http://localhost%s", addr))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("error during execution", "error", err)
		return err
	}

	logger.Info("agenthistory stopped")
	return nil
}

// registerMaintenance schedules the index upkeep tasks configured for a.
func registerMaintenance(sched *scheduler.Scheduler, a *app) error {
	if a.cfg.Maintenance.PruneSchedule == "" {
		return nil
	}
	prune := scheduler.TaskFunc(func(ctx context.Context) error {
		stats, err := a.history.Prune(ctx)
		if err != nil {
			return err
		}
		logger.Info("prune finished",
			"nodes", stats.Nodes,
			"checked", stats.Checked,
			"removed", stats.Removed)
		return nil
	})
	if err := sched.AddTask("prune", a.cfg.Maintenance.PruneSchedule, pruneTimeout, prune); err != nil {
		return fmt.Errorf("failed to schedule prune: %w", err)
	}
	return nil
}

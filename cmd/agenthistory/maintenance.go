package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/caevv/agenthistory/internal/history"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Index every mirrored run on the nodes it used",
	Long: `Rebuild missing index records from the host mirror.

Freestyle runs are indexed on the node they were built on, pipeline runs on
every node that an allocation block of their step graph ran on. Existing
records are kept; records whose run has finished get their result stamped.

Example:
  agenthistory backfill --config ./agenthistory.yaml`,
	Args: cobra.NoArgs,
	RunE: runBackfill,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove index records whose run no longer exists",
	Long: `Drop index records that point at runs missing from the host mirror.

Serve mode runs this on maintenance.prune_schedule.

Example:
  agenthistory prune --config ./agenthistory.yaml`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func runBackfill(cmd *cobra.Command, args []string) error {
	a, err := openAppFromFlags(cmd, false)
	if err != nil {
		return err
	}
	defer closeApp(a)

	stats, err := a.history.Backfill(cmd.Context())
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}
	return writeBackfill(cmd.OutOrStdout(), stats)
}

func runPrune(cmd *cobra.Command, args []string) error {
	a, err := openAppFromFlags(cmd, false)
	if err != nil {
		return err
	}
	defer closeApp(a)

	stats, err := a.history.Prune(cmd.Context())
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d of %d record(s) across %d node(s)\n",
		stats.Removed, stats.Checked, stats.Nodes)
	return err
}

func writeBackfill(w io.Writer, stats *history.BackfillStats) error {
	_, err := fmt.Fprintf(w, "✓ Backfilled %d run(s): %d record(s) added, %d result(s) stamped\n",
		stats.Runs, stats.Appended, stats.Stamped)
	return err
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/history"
	"github.com/caevv/agenthistory/internal/query"
)

var queryCmd = &cobra.Command{
	Use:   "query <node>",
	Short: "Show one page of a node's build history",
	Long: `Show one page of the builds that ran on a node.

Sorting and page size default to the history settings of the configuration
file. Use "built-in" for the controller node.

Examples:
  agenthistory query linux-1
  agenthistory query linux-1 --page 2 --page-size 50 --sort build --order asc
  agenthistory query linux-1 --status failure --json`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List nodes with recorded history",
	Long: `List every node that has an index file, optionally filtered by a glob.

Examples:
  agenthistory nodes
  agenthistory nodes --match "linux-*"`,
	Args: cobra.NoArgs,
	RunE: runNodes,
}

var trendCmd = &cobra.Command{
	Use:   "trend <job>",
	Short: "Show which agents a job's recent runs used",
	Long: `Show a window of a job's runs, newest first, with the allocation blocks
each run used.

Examples:
  agenthistory trend app/main
  agenthistory trend app/main --agent linux-1 --status success --limit 20
  agenthistory trend app/main --start 120`,
	Args: cobra.ExactArgs(1),
	RunE: runTrend,
}

func init() {
	queryCmd.Flags().Int("page", 1, "Page number, starting at 1")
	queryCmd.Flags().Int("page-size", 0, "Entries per page (default from config)")
	queryCmd.Flags().String("sort", "", "Sort column: startTime or build")
	queryCmd.Flags().String("order", "", "Sort order: asc or desc")
	queryCmd.Flags().String("status", "", "Result filter: all, success, unstable, failure, aborted, not_built")
	queryCmd.Flags().Bool("json", false, "Output as JSON")

	nodesCmd.Flags().String("match", "", "Glob pattern for node names")
	nodesCmd.Flags().Bool("json", false, "Output as JSON")

	trendCmd.Flags().String("agent", "", "Only runs that allocated an executor on this node")
	trendCmd.Flags().String("status", "", "Result filter")
	trendCmd.Flags().Int("start", 0, "Newest build number to show")
	trendCmd.Flags().Int("limit", history.DefaultTrendLimit, "Number of runs to show")
	trendCmd.Flags().Bool("json", false, "Output as JSON")
}

func runQuery(cmd *cobra.Command, args []string) error {
	page, _ := cmd.Flags().GetInt("page")
	pageSize, _ := cmd.Flags().GetInt("page-size")
	sortCol, _ := cmd.Flags().GetString("sort")
	order, _ := cmd.Flags().GetString("order")
	status, _ := cmd.Flags().GetString("status")
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := openAppFromFlags(cmd, false)
	if err != nil {
		return err
	}
	defer closeApp(a)

	p, err := a.cfg.History.QueryParams(page, pageSize, sortCol, order, status)
	if err != nil {
		return err
	}
	res, err := a.history.Query(cmd.Context(), args[0], p)
	if err != nil {
		return err
	}

	if asJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	return writeHistory(cmd.OutOrStdout(), res)
}

func runNodes(cmd *cobra.Command, args []string) error {
	match, _ := cmd.Flags().GetString("match")
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := openAppFromFlags(cmd, false)
	if err != nil {
		return err
	}
	defer closeApp(a)

	nodes, err := a.history.MatchNodes(match)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd.OutOrStdout(), nodes)
	}
	for _, node := range nodes {
		fmt.Fprintln(cmd.OutOrStdout(), node)
	}
	return nil
}

func runTrend(cmd *cobra.Command, args []string) error {
	agent, _ := cmd.Flags().GetString("agent")
	status, _ := cmd.Flags().GetString("status")
	start, _ := cmd.Flags().GetInt("start")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := openAppFromFlags(cmd, false)
	if err != nil {
		return err
	}
	defer closeApp(a)

	t, err := a.history.Trend(cmd.Context(), history.TrendParams{
		Job:        args[0],
		Status:     query.StatusFilter(status),
		Agent:      agent,
		StartBuild: start,
		Limit:      limit,
	})
	if err != nil {
		return err
	}

	if asJSON {
		return writeJSON(cmd.OutOrStdout(), t)
	}
	return writeTrend(cmd.OutOrStdout(), t)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeHistory prints a history page as a table, with step rows indented
// under their pipeline build.
func writeHistory(w io.Writer, res *history.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BUILD\tSTARTED\tDURATION\tRESULT")
	for _, item := range res.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			item.Run.FullDisplayName(),
			formatMillis(item.Run.StartTimeMillis),
			item.Duration,
			resultText(item.Result))
		for _, step := range item.Views {
			label := "  step " + step.StepID
			if step.Label != "" {
				label += " (" + step.Label + ")"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				label,
				formatMillis(step.StartTimeMillis),
				step.Duration,
				strings.ToLower(string(step.Status)))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nPage %d of %d (%d builds on %s)\n", res.Page, res.TotalPages, res.Total, res.Node)
	return err
}

// writeTrend prints a trend window as a table.
func writeTrend(w io.Writer, t *history.Trend) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BUILD\tSTARTED\tDURATION\tRESULT\tAGENTS")
	for _, row := range t.Rows {
		agents := make([]string, 0, len(row.Agents))
		for _, ag := range row.Agents {
			agents = append(agents, ag.Node)
		}
		result := resultText(row.Result)
		if row.Building {
			result = "building"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			row.DisplayName,
			formatMillis(row.StartTimeMillis),
			row.Duration,
			result,
			strings.Join(agents, ", "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if t.StartNewer > 0 {
		fmt.Fprintf(w, "\nNewer: --start %d", t.StartNewer)
	}
	if t.StartOlder > 0 {
		fmt.Fprintf(w, "\nOlder: --start %d", t.StartOlder)
	}
	_, err := fmt.Fprintln(w)
	return err
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "N/A"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04:05")
}

func resultText(r build.Result) string {
	if !r.Known() {
		return "running"
	}
	return strings.ToLower(string(r))
}

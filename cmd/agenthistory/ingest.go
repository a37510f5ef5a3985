package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/caevv/agenthistory/internal/history"
	"github.com/caevv/agenthistory/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Load run documents into the host mirror",
	Long: `Load runs, and the step graphs of pipeline runs, into the host mirror.

Each file holds one run document in YAML or JSON (chosen by extension; "-"
reads YAML from stdin):

  run:
    job: app/main
    number: 42
    start_time_ms: 1700000000000
    pipeline: true
  graph:
    nodes: [...]

Ingesting does not touch the node index. Send events for the run, or pass
--backfill to index every mirrored run afterwards.

Examples:
  agenthistory ingest runs/app-main-42.yaml
  agenthistory ingest --backfill runs/*.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var eventCmd = &cobra.Command{
	Use:   "event <type>",
	Short: "Apply one host event to the node index",
	Long: `Apply a host notification to the node index.

Event types and the flags they need:
  run_started     --job --build --node
  step_started    --job --build --node --step
  run_completed   --job --build
  run_deleted     --job --build
  job_deleted     --job
  job_renamed     --old-name --new-name
  node_deleted    --node
  node_renamed    --old-name --new-name

Examples:
  agenthistory event run_started --job app/main --build 42 --node linux-1
  agenthistory event run_completed --job app/main --build 42
  agenthistory event node_renamed --old-name linux-1 --new-name linux-01`,
	Args: cobra.ExactArgs(1),
	RunE: runEvent,
}

func init() {
	ingestCmd.Flags().Bool("backfill", false, "Index every mirrored run after loading")

	eventCmd.Flags().String("node", "", "Node name")
	eventCmd.Flags().String("job", "", "Job name")
	eventCmd.Flags().Int("build", 0, "Build number")
	eventCmd.Flags().String("step", "", "Step id of the allocation block")
	eventCmd.Flags().String("old-name", "", "Previous job or node name")
	eventCmd.Flags().String("new-name", "", "New job or node name")
}

func runIngest(cmd *cobra.Command, args []string) error {
	backfill, _ := cmd.Flags().GetBool("backfill")

	a, err := openAppFromFlags(cmd, false)
	if err != nil {
		return err
	}
	defer closeApp(a)

	for _, path := range args {
		doc, err := readRunDocument(path, cmd.InOrStdin())
		if err != nil {
			return err
		}
		if err := store.Ingest(a.host, doc); err != nil {
			return fmt.Errorf("failed to ingest %s: %w", path, err)
		}
		logger.Info("run ingested",
			"file", path,
			"job", doc.Run.Job,
			"build", doc.Run.Number,
			"has_graph", doc.Graph != nil)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Ingested %d run(s)\n", len(args))

	if !backfill {
		return nil
	}
	stats, err := a.history.Backfill(cmd.Context())
	if err != nil {
		return fmt.Errorf("backfill failed: %w", err)
	}
	return writeBackfill(cmd.OutOrStdout(), stats)
}

// readRunDocument decodes a run document. JSON files are decoded strictly,
// everything else as YAML.
func readRunDocument(path string, stdin io.Reader) (*store.RunDocument, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc store.RunDocument
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if doc.Run == nil {
		return nil, fmt.Errorf("%s: document has no run", path)
	}
	return &doc, nil
}

func runEvent(cmd *cobra.Command, args []string) error {
	node, _ := cmd.Flags().GetString("node")
	job, _ := cmd.Flags().GetString("job")
	number, _ := cmd.Flags().GetInt("build")
	step, _ := cmd.Flags().GetString("step")
	oldName, _ := cmd.Flags().GetString("old-name")
	newName, _ := cmd.Flags().GetString("new-name")

	ev := history.Event{
		Type:    history.EventType(args[0]),
		Node:    node,
		Job:     job,
		Build:   number,
		StepID:  step,
		OldName: oldName,
		NewName: newName,
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	a, err := openAppFromFlags(cmd, false)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if err := a.history.Dispatch(ev); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Applied %s\n", ev.Type)
	return nil
}

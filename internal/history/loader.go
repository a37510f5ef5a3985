package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/flowgraph"
)

// StepView is the rendered form of a step execution.
type StepView struct {
	StepID          string           `json:"step_id"`
	Node            string           `json:"node"`
	Label           string           `json:"label,omitempty"`
	StartTimeMillis int64            `json:"start_time_ms"`
	Status          flowgraph.Status `json:"status"`
	Duration        string           `json:"duration"`
	DurationMillis  int64            `json:"duration_ms"`
	InProgress      bool             `json:"in_progress,omitempty"`
}

// AgentExecution is one run as seen from one node. It is rebuilt for every
// query and never persisted.
type AgentExecution struct {
	Run    *build.Run   `json:"run"`
	Node   string       `json:"node"`
	Result build.Result `json:"result,omitempty"`

	// RowID keys the expandable step rows of pipeline runs.
	RowID string `json:"row_id,omitempty"`

	Duration string     `json:"duration"`
	Views    []StepView `json:"steps,omitempty"`

	Steps []flowgraph.StepExecution `json:"-"`
}

// render fills the display fields from the live step graph.
func (e *AgentExecution) render(now time.Time) {
	e.Duration = runDuration(e.Run, now)
	e.Views = make([]StepView, 0, len(e.Steps))
	for _, step := range e.Steps {
		d, inProgress := step.Duration(now)
		e.Views = append(e.Views, StepView{
			StepID:          step.StepID,
			Node:            step.NodeName,
			Label:           step.Label,
			StartTimeMillis: step.StartMillis,
			Status:          step.Status(),
			Duration:        step.DurationString(now),
			DurationMillis:  d.Milliseconds(),
			InProgress:      inProgress,
		})
	}
}

func runDuration(run *build.Run, now time.Time) string {
	if run.Building {
		elapsed := now.UnixMilli() - run.StartTimeMillis
		if elapsed < 0 {
			elapsed = 0
		}
		return "in progress: " + flowgraph.FormatDuration(time.Duration(elapsed)*time.Millisecond)
	}
	return flowgraph.FormatDuration(time.Duration(run.DurationMillis) * time.Millisecond)
}

// Loader materializes index records into runs with their node's steps.
type Loader struct {
	host   Host
	logger *slog.Logger
}

// NewLoader creates a loader over host.
func NewLoader(host Host, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{host: host, logger: logger}
}

// Load fetches job #number and, for pipeline runs, resolves the steps that
// ran on node. Missing jobs or runs are returned as not-found errors. An
// unavailable step graph degrades the steps to unknown status instead of
// failing.
func (l *Loader) Load(ctx context.Context, node, job string, number int) (*AgentExecution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	run, err := l.host.GetRun(job, number)
	if err != nil {
		return nil, err
	}

	exec := &AgentExecution{Run: run, Node: node, Result: run.Result}
	if !run.Pipeline {
		return exec, nil
	}
	exec.RowID = uuid.NewString()
	exec.Steps = l.steps(run, node)
	return exec, nil
}

func (l *Loader) steps(run *build.Run, node string) []flowgraph.StepExecution {
	recorded := run.History.Steps[node]

	g, err := l.host.GetGraph(run.Job, run.Number)
	if err != nil {
		if !errors.Is(err, flowgraph.ErrGraphUnavailable) {
			l.logger.Warn("failed to load step graph",
				"job", run.Job,
				"build", run.Number,
				"error", err)
		}
		return flowgraph.FromStepIDs(flowgraph.Unavailable{Err: err}, node, recorded)
	}

	steps, err := flowgraph.Resolve(g, node)
	if err != nil {
		l.logger.Debug("step graph walk failed, using recorded steps",
			"job", run.Job,
			"build", run.Number,
			"node", node,
			"error", err)
		return flowgraph.FromStepIDs(g, node, recorded)
	}
	return steps
}

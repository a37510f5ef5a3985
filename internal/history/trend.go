package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/flowgraph"
	"github.com/caevv/agenthistory/internal/query"
)

const (
	DefaultTrendLimit = 40
	MaxTrendLimit     = 100
)

// TrendParams selects a window of a job's runs.
type TrendParams struct {
	Job    string
	Status query.StatusFilter
	// Agent keeps only runs that allocated an executor on this node.
	Agent string
	// StartBuild is the newest build number to show; <= 0 means the newest.
	StartBuild int
	Limit      int
}

// TrendRow is one run with the allocation blocks it used.
type TrendRow struct {
	Number          int          `json:"number"`
	DisplayName     string       `json:"display_name"`
	Result          build.Result `json:"result,omitempty"`
	Building        bool         `json:"building,omitempty"`
	StartTimeMillis int64        `json:"start_time_ms"`
	Duration        string       `json:"duration"`
	Agents          []StepView   `json:"agents"`
}

// Trend is a window of a job's runs, newest first, with cursors for the
// adjacent windows. A zero cursor means there is nothing in that direction.
type Trend struct {
	Job         string     `json:"job"`
	Rows        []TrendRow `json:"rows"`
	StartBuild  int        `json:"start_build"`
	StartNewer  int        `json:"start_newer"`
	StartOlder  int        `json:"start_older"`
	NewestBuild int        `json:"newest_build"`
	OldestBuild int        `json:"oldest_build"`
}

// Trend lists a job's runs from StartBuild backwards. Runs without a final
// result pass every status filter.
func (s *Service) Trend(ctx context.Context, p TrendParams) (*Trend, error) {
	if strings.TrimSpace(p.Job) == "" {
		return nil, fmt.Errorf("%w: job is required", query.ErrInvalidParams)
	}
	status, err := query.ParseStatus(string(p.Status))
	if err != nil {
		return nil, err
	}
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultTrendLimit
	}
	limit = min(limit, MaxTrendLimit)

	runs, err := s.host.GetJobRuns(p.Job, 0)
	if err != nil {
		return nil, err
	}

	t := &Trend{Job: p.Job, Rows: []TrendRow{}}
	if len(runs) == 0 {
		return t, nil
	}
	t.NewestBuild = runs[0].Number
	t.OldestBuild = runs[len(runs)-1].Number

	start := p.StartBuild
	if start <= 0 || start > t.NewestBuild {
		start = t.NewestBuild
	}
	first := 0
	for first < len(runs) && runs[first].Number > start {
		first++
	}
	t.StartBuild = start
	if first > 0 {
		t.StartNewer = runs[max(first-limit, 0)].Number
	}

	now := s.now()
	i := first
	for ; i < len(runs) && len(t.Rows) < limit; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("trend aborted: %w", err)
		}
		run := runs[i]
		if run.Result.Known() && !status.Matches(run.Result) {
			continue
		}
		row := s.trendRow(run, now)
		if p.Agent != "" && !usedAgent(row.Agents, p.Agent) {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	if i < len(runs) {
		t.StartOlder = runs[i].Number
	}
	return t, nil
}

func (s *Service) trendRow(run *build.Run, now time.Time) TrendRow {
	row := TrendRow{
		Number:          run.Number,
		DisplayName:     run.FullDisplayName(),
		Result:          run.Result,
		Building:        run.Building,
		StartTimeMillis: run.StartTimeMillis,
		Duration:        runDuration(run, now),
	}

	if !run.Pipeline {
		node := run.BuiltOn
		if node == "" {
			node = flowgraph.BuiltInNode
		}
		row.Agents = []StepView{{
			Node:            node,
			StartTimeMillis: run.StartTimeMillis,
			Duration:        row.Duration,
			DurationMillis:  run.DurationMillis,
			InProgress:      run.Building,
		}}
		return row
	}

	exec := &AgentExecution{Run: run, Steps: s.allSteps(run)}
	exec.render(now)
	row.Agents = exec.Views
	return row
}

// allSteps resolves every allocation block of a pipeline run, falling back
// to the step ids on its annotation when the graph is unavailable.
func (s *Service) allSteps(run *build.Run) []flowgraph.StepExecution {
	g, err := s.host.GetGraph(run.Job, run.Number)
	if err == nil {
		if steps, err := flowgraph.ResolveAll(g); err == nil {
			return steps
		}
	}
	var src flowgraph.Source = flowgraph.Unavailable{Err: err}
	if g != nil {
		src = g
	}
	var steps []flowgraph.StepExecution
	for _, node := range run.History.Nodes {
		steps = append(steps, flowgraph.FromStepIDs(src, node, run.History.Steps[node])...)
	}
	return steps
}

func usedAgent(agents []StepView, agent string) bool {
	for _, a := range agents {
		if a.Node == agent {
			return true
		}
	}
	return false
}

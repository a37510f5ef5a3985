package server

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/caevv/agenthistory/internal/history"
	"github.com/caevv/agenthistory/internal/query"
	"github.com/caevv/agenthistory/internal/scheduler"
)

// historyParams reads page, pageSize, sortColumn, sortOrder and status from
// the request. A missing page is page 1.
func (s *Server) historyParams(r *http.Request) (query.Params, error) {
	q := r.URL.Query()
	page, err := intParam(q, "page", 1)
	if err != nil {
		return query.Params{}, err
	}
	pageSize, err := intParam(q, "pageSize", 0)
	if err != nil {
		return query.Params{}, err
	}
	return s.opts.History.QueryParams(page, pageSize, q.Get("sortColumn"), q.Get("sortOrder"), q.Get("status"))
}

// trendParams reads job, status, agent, startBuild and limit.
func trendParams(r *http.Request) (history.TrendParams, error) {
	q := r.URL.Query()
	status, err := query.ParseStatus(q.Get("status"))
	if err != nil {
		return history.TrendParams{}, err
	}
	startBuild, err := intParam(q, "startBuild", 0)
	if err != nil {
		return history.TrendParams{}, err
	}
	limit, err := intParam(q, "limit", 0)
	if err != nil {
		return history.TrendParams{}, err
	}
	return history.TrendParams{
		Job:        q.Get("job"),
		Status:     status,
		Agent:      q.Get("agent"),
		StartBuild: startBuild,
		Limit:      limit,
	}, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", query.ErrInvalidParams, name, raw)
	}
	return v, nil
}

// pathParam returns an unescaped URL parameter. Node and job names may
// carry escaped slashes.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// taskSummaries adapts scheduler statistics to API summaries, sorted by name.
func taskSummaries(tasks Tasks) []TaskSummary {
	names := tasks.ListTasks()
	sort.Strings(names)

	summaries := make([]TaskSummary, 0, len(names))
	for _, name := range names {
		stats, ok := tasks.GetTaskStats(name)
		if !ok {
			continue
		}
		summaries = append(summaries, summarizeTask(stats))
	}
	return summaries
}

func summarizeTask(stats *scheduler.TaskStats) TaskSummary {
	summary := TaskSummary{
		Name:     stats.Task,
		Schedule: stats.Schedule,
		RunCount: stats.RunCount,
	}
	if !stats.NextRun.IsZero() {
		next := stats.NextRun
		summary.NextRun = &next
	}
	if last := stats.Last; last != nil {
		started := last.StartTime
		status := executionStatus(last)
		summary.LastRun = &started
		summary.LastStatus = &status
		summary.LastError = last.Error
	}
	return summary
}

func executionResponse(exec *scheduler.Execution) ExecutionResponse {
	return ExecutionResponse{
		ExecID:     exec.ExecID,
		Task:       exec.Task,
		Status:     executionStatus(exec),
		DurationMs: float64(exec.Duration().Milliseconds()),
		Error:      exec.Error,
	}
}

func executionStatus(exec *scheduler.Execution) string {
	switch {
	case exec.EndTime.IsZero():
		return "running"
	case exec.Success:
		return "success"
	default:
		return "failure"
	}
}

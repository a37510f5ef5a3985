// Package store mirrors the host's runs and step graphs so the history
// index can resolve records into live runs.
package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/flowgraph"
)

// Store defines the interface for the host run mirror.
type Store interface {
	// SaveRun inserts or replaces a run. An existing history annotation is
	// kept when the incoming run carries none.
	SaveRun(run *build.Run) error

	// GetRun returns a copy of one run. Missing jobs and runs are reported
	// with build.ErrJobNotFound and build.ErrRunNotFound.
	GetRun(job string, number int) (*build.Run, error)

	// GetJobRuns returns a job's runs ordered by build number descending.
	// A limit <= 0 returns every run.
	GetJobRuns(job string, limit int) ([]*build.Run, error)

	// GetAllRuns returns runs across all jobs, newest start time first.
	// A limit <= 0 returns every run.
	GetAllRuns(limit int) ([]*build.Run, error)

	// ListJobs returns the names of all jobs with at least one run, sorted.
	ListJobs() ([]string, error)

	// DeleteRun removes a run and its step graph.
	DeleteRun(job string, number int) error

	// DeleteJob removes every run of a job.
	DeleteJob(job string) error

	// RenameJob moves every run of a job to a new name.
	RenameJob(oldJob, newJob string) error

	// RenameNode rewrites node references in run annotations.
	RenameNode(oldNode, newNode string) error

	// Annotate records that a run touched node, optionally through stepID.
	// It reports whether the annotation changed.
	Annotate(job string, number int, node, stepID string) (bool, error)

	// SaveGraph stores a pipeline run's step graph.
	SaveGraph(job string, number int, g *flowgraph.Graph) error

	// GetGraph loads a step graph. Missing or corrupt graphs are reported
	// with flowgraph.ErrGraphUnavailable.
	GetGraph(job string, number int) (*flowgraph.Graph, error)

	// Close releases any resources held by the store.
	Close() error
}

func jobNotFound(job string) error {
	return fmt.Errorf("job %q: %w", job, build.ErrJobNotFound)
}

func runNotFound(job string, number int) error {
	return fmt.Errorf("%s #%d: %w", job, number, build.ErrRunNotFound)
}

func validateKey(job string, number int) error {
	if strings.TrimSpace(job) == "" {
		return fmt.Errorf("job is required")
	}
	if number <= 0 {
		return fmt.Errorf("build number must be positive, got %d", number)
	}
	return nil
}

// mergeAnnotation keeps the stored annotation when an incoming run does not
// carry one, so re-ingesting a run does not forget the nodes it touched.
func mergeAnnotation(incoming, existing *build.Run) {
	if existing == nil || len(incoming.History.Nodes) > 0 {
		return
	}
	incoming.History = existing.Clone().History
}

// renameNodeIn updates a run's node references. It reports whether
// anything changed.
func renameNodeIn(run *build.Run, oldNode, newNode string) bool {
	changed := run.History.RenameNode(oldNode, newNode)
	if run.BuiltOn == oldNode && !run.Pipeline {
		run.BuiltOn = newNode
		changed = true
	}
	return changed
}

func sortByNumberDesc(runs []*build.Run) {
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Number > runs[j].Number
	})
}

func sortByStartDesc(runs []*build.Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartTimeMillis > runs[j].StartTimeMillis
	})
}

func applyLimit(runs []*build.Run, limit int) []*build.Run {
	if limit > 0 && len(runs) > limit {
		return runs[:limit]
	}
	return runs
}

// Package build holds the host's run model as seen by the history index:
// run identity, terminal result, and the nodes a run touched.
package build

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrJobNotFound indicates the job no longer exists on the host.
	ErrJobNotFound = errors.New("job not found")

	// ErrRunNotFound indicates the build no longer exists on the host.
	ErrRunNotFound = errors.New("run not found")
)

// IsNotFound reports whether err means the job or build is gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrRunNotFound)
}

// Result is the terminal outcome of a run. The zero value means the result
// is not yet known.
type Result string

const (
	ResultUnknown  Result = ""
	ResultSuccess  Result = "SUCCESS"
	ResultUnstable Result = "UNSTABLE"
	ResultFailure  Result = "FAILURE"
	ResultNotBuilt Result = "NOT_BUILT"
	ResultAborted  Result = "ABORTED"
)

// Results lists every terminal result kind.
var Results = []Result{ResultSuccess, ResultUnstable, ResultFailure, ResultNotBuilt, ResultAborted}

// ParseResult parses a persisted result field. An empty string yields
// ResultUnknown.
func ParseResult(s string) (Result, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ResultUnknown, nil
	}
	for _, r := range Results {
		if string(r) == s {
			return r, nil
		}
	}
	return ResultUnknown, fmt.Errorf("unknown result %q", s)
}

// Known reports whether r is a terminal result.
func (r Result) Known() bool {
	return r != ResultUnknown
}

func (r Result) String() string {
	if r == ResultUnknown {
		return "UNKNOWN"
	}
	return string(r)
}

// Run is one execution of a job as mirrored from the host.
type Run struct {
	Job             string `json:"job" yaml:"job"`
	Number          int    `json:"number" yaml:"number"`
	DisplayName     string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	StartTimeMillis int64  `json:"start_time_ms" yaml:"start_time_ms"`
	DurationMillis  int64  `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
	Result          Result `json:"result,omitempty" yaml:"result,omitempty"`

	// Building is true while the run's log is still being written. The
	// result is not stamped into the index until it is false.
	Building bool `json:"building,omitempty" yaml:"building,omitempty"`

	// Pipeline marks runs that carry a step graph.
	Pipeline bool `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`

	// BuiltOn is the node a non-pipeline run executed on.
	BuiltOn string `json:"built_on,omitempty" yaml:"built_on,omitempty"`

	History HistoryAnnotation `json:"history,omitempty" yaml:"history,omitempty"`
}

// Validate checks run identity.
func (r *Run) Validate() error {
	if r == nil {
		return fmt.Errorf("run is nil")
	}
	if strings.TrimSpace(r.Job) == "" {
		return fmt.Errorf("job is required")
	}
	if r.Number <= 0 {
		return fmt.Errorf("build number must be positive, got %d", r.Number)
	}
	return nil
}

// FullDisplayName returns "job #number".
func (r *Run) FullDisplayName() string {
	if r.DisplayName != "" {
		return r.Job + " " + r.DisplayName
	}
	return fmt.Sprintf("%s #%d", r.Job, r.Number)
}

// StartTime returns the start time as a time.Time.
func (r *Run) StartTime() time.Time {
	return time.UnixMilli(r.StartTimeMillis)
}

// StampableResult is the result that may be written to the index: the
// run's result once its log is complete, otherwise ResultUnknown.
func (r *Run) StampableResult() Result {
	if r.Building {
		return ResultUnknown
	}
	return r.Result
}

// HistoryAnnotation records which nodes a run touched so deletions can be
// targeted without scanning every node index. Steps keeps the allocation
// step ids reported per node.
type HistoryAnnotation struct {
	Nodes []string            `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Steps map[string][]string `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// AddNode records a node. It returns false if the node was already present.
func (h *HistoryAnnotation) AddNode(node string) bool {
	for _, n := range h.Nodes {
		if n == node {
			return false
		}
	}
	h.Nodes = append(h.Nodes, node)
	sort.Strings(h.Nodes)
	return true
}

// AddStep records a step id under a node, adding the node as well.
func (h *HistoryAnnotation) AddStep(node, stepID string) bool {
	added := h.AddNode(node)
	if stepID == "" {
		return added
	}
	if h.Steps == nil {
		h.Steps = make(map[string][]string)
	}
	for _, id := range h.Steps[node] {
		if id == stepID {
			return added
		}
	}
	h.Steps[node] = append(h.Steps[node], stepID)
	return true
}

// HasNode reports whether the node is recorded.
func (h HistoryAnnotation) HasNode(node string) bool {
	for _, n := range h.Nodes {
		if n == node {
			return true
		}
	}
	return false
}

// RenameNode moves a node's entries to a new name.
func (h *HistoryAnnotation) RenameNode(oldName, newName string) bool {
	if !h.HasNode(oldName) {
		return false
	}
	nodes := h.Nodes[:0]
	for _, n := range h.Nodes {
		if n != oldName {
			nodes = append(nodes, n)
		}
	}
	h.Nodes = nodes
	h.AddNode(newName)
	if steps, ok := h.Steps[oldName]; ok {
		delete(h.Steps, oldName)
		h.Steps[newName] = append(h.Steps[newName], steps...)
	}
	return true
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.History = r.History.clone()
	return &c
}

func (h HistoryAnnotation) clone() HistoryAnnotation {
	c := HistoryAnnotation{}
	if h.Nodes != nil {
		c.Nodes = append([]string(nil), h.Nodes...)
	}
	if h.Steps != nil {
		c.Steps = make(map[string][]string, len(h.Steps))
		for node, ids := range h.Steps {
			c.Steps[node] = append([]string(nil), ids...)
		}
	}
	return c
}

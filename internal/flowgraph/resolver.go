package flowgraph

import (
	"sort"
	"time"
)

// Status is the derived state of an allocation block.
type Status string

const (
	StatusUnknown Status = "UNKNOWN"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Worse reports whether the status should be highlighted as a problem.
func (s Status) Worse() bool {
	return s == StatusFailure
}

// Message is the human-readable form shown next to a step.
func (s Status) Message() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusRunning:
		return "Still running"
	case StatusFailure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// StepExecution is one allocation block that ran on a node. Status and
// duration are read from the graph on every call because the block may
// still be running.
type StepExecution struct {
	StepID      string
	NodeName    string
	Label       string
	StartMillis int64

	src Source
}

// Status derives the block's state from its end marker.
func (e StepExecution) Status() Status {
	start, err := e.startNode()
	if err != nil {
		return StatusUnknown
	}
	end := e.endNode(start)
	if end == nil || end.TimeMillis == 0 {
		return StatusRunning
	}
	if end.Error != "" {
		return StatusFailure
	}
	return StatusSuccess
}

// EndMillis returns the end marker's timing, or 0 while the block is open
// or the graph is unavailable.
func (e StepExecution) EndMillis() int64 {
	start, err := e.startNode()
	if err != nil {
		return 0
	}
	if end := e.endNode(start); end != nil {
		return end.TimeMillis
	}
	return 0
}

// Duration returns how long the block ran. For open blocks it is the time
// elapsed until now and inProgress is true. Both are zero when the graph
// is unavailable.
func (e StepExecution) Duration(now time.Time) (d time.Duration, inProgress bool) {
	if _, err := e.startNode(); err != nil {
		return 0, false
	}
	end := e.EndMillis()
	if end == 0 {
		return clampMillis(now.UnixMilli() - e.StartMillis), true
	}
	return clampMillis(end - e.StartMillis), false
}

// DurationString formats Duration for display. Blocks without start timing
// render as "n/a".
func (e StepExecution) DurationString(now time.Time) string {
	if e.StartMillis == 0 || e.Status() == StatusUnknown {
		return "n/a"
	}
	d, inProgress := e.Duration(now)
	if inProgress {
		return "in progress: " + FormatDuration(d)
	}
	return FormatDuration(d)
}

func (e StepExecution) startNode() (*Node, error) {
	if e.src == nil {
		return nil, ErrGraphUnavailable
	}
	return e.src.Node(e.StepID)
}

func (e StepExecution) endNode(start *Node) *Node {
	if start.EndID == "" {
		return nil
	}
	end, err := e.src.Node(start.EndID)
	if err != nil {
		return nil
	}
	return end
}

func clampMillis(ms int64) time.Duration {
	if ms < 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// Resolve returns the allocation blocks of the graph that executed on
// nodeName, newest first.
func Resolve(src Source, nodeName string) ([]StepExecution, error) {
	all, err := ResolveAll(src)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if e.NodeName == nodeName {
			out = append(out, e)
		}
	}
	return out, nil
}

// ResolveAll returns every allocation block in the graph regardless of node,
// newest first.
//
// A block start carrying the node annotation is recorded under its own id.
// A body start nested in an allocation block is recorded under the
// enclosing allocation block instead, since only that block spans the
// whole executor reservation.
func ResolveAll(src Source) ([]StepExecution, error) {
	seen := make(map[string]bool)
	var out []StepExecution
	err := Walk(src, func(n *Node) error {
		if n.Kind != KindBlockStart {
			return nil
		}
		agent, ok := n.AgentName()
		if !ok {
			return nil
		}
		owner := n
		if n.Body {
			if parent := allocationParent(src, n); parent != nil {
				owner = parent
			}
		}
		if seen[owner.ID] {
			return nil
		}
		seen[owner.ID] = true
		label := owner.Label
		if label == "" {
			label = n.Label
		}
		out = append(out, StepExecution{
			StepID:      owner.ID,
			NodeName:    agent,
			Label:       label,
			StartMillis: owner.TimeMillis,
			src:         src,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortExecutions(out)
	return out, nil
}

func allocationParent(src Source, n *Node) *Node {
	for _, id := range n.Parents {
		p, err := src.Node(id)
		if err != nil {
			continue
		}
		if p.IsAllocation() {
			return p
		}
	}
	return nil
}

// FromStepIDs rebuilds executions from step ids recorded when the blocks
// started. It is used when the graph cannot be walked; entries whose start
// cannot be read report StatusUnknown.
func FromStepIDs(src Source, nodeName string, ids []string) []StepExecution {
	if src == nil {
		src = Unavailable{}
	}
	seen := make(map[string]bool, len(ids))
	out := make([]StepExecution, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		e := StepExecution{StepID: id, NodeName: nodeName, src: src}
		if n, err := src.Node(id); err == nil {
			e.StartMillis = n.TimeMillis
			e.Label = n.Label
		}
		out = append(out, e)
	}
	sortExecutions(out)
	return out
}

func sortExecutions(execs []StepExecution) {
	sort.SliceStable(execs, func(i, j int) bool {
		if execs[i].StartMillis != execs[j].StartMillis {
			return execs[i].StartMillis > execs[j].StartMillis
		}
		return execs[i].StepID < execs[j].StepID
	})
}

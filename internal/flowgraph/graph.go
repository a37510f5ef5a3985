// Package flowgraph models a pipeline run's step graph and reconstructs
// which allocation blocks executed on a given node.
package flowgraph

import (
	"errors"
	"fmt"
	"sort"
)

// ErrGraphUnavailable is returned when a run's step graph cannot be loaded,
// either because it was never persisted or because it is corrupt.
var ErrGraphUnavailable = errors.New("step graph unavailable")

// Kind classifies a graph node.
type Kind string

const (
	KindBlockStart Kind = "block_start"
	KindBlockEnd   Kind = "block_end"
	KindAtom       Kind = "atom"
)

// StepAllocate is the step name of an executor allocation block.
const StepAllocate = "node"

// BuiltInNode names the controller's own executors, which carry an empty
// node annotation.
const BuiltInNode = "built-in"

// Node is one marker in the step graph.
type Node struct {
	ID      string   `json:"id" yaml:"id"`
	Kind    Kind     `json:"kind" yaml:"kind"`
	Step    string   `json:"step,omitempty" yaml:"step,omitempty"`
	Parents []string `json:"parents,omitempty" yaml:"parents,omitempty"`

	// StartID links a block end to its start; EndID links a block start to
	// its end once the block has closed.
	StartID string `json:"start_id,omitempty" yaml:"start_id,omitempty"`
	EndID   string `json:"end_id,omitempty" yaml:"end_id,omitempty"`

	// Body marks the block start of a step body nested in its step's block.
	Body bool `json:"body,omitempty" yaml:"body,omitempty"`

	// Agent is the "runs on node" annotation. Nil when absent; an empty
	// string is the built-in node.
	Agent *string `json:"agent,omitempty" yaml:"agent,omitempty"`

	// Label is the label expression the allocation was requested with.
	Label string `json:"label,omitempty" yaml:"label,omitempty"`

	// TimeMillis is the marker's timing. Zero means no timing recorded.
	TimeMillis int64 `json:"time_ms,omitempty" yaml:"time_ms,omitempty"`

	// Error is set on block ends whose block failed.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// IsAllocation reports whether the node opens an executor allocation block.
func (n *Node) IsAllocation() bool {
	return n.Kind == KindBlockStart && n.Step == StepAllocate && !n.Body
}

// AgentName returns the node annotation and whether one is present. The
// empty annotation is reported as BuiltInNode.
func (n *Node) AgentName() (string, bool) {
	if n.Agent == nil {
		return "", false
	}
	if *n.Agent == "" {
		return BuiltInNode, true
	}
	return *n.Agent, true
}

// Source gives read access to a run's step graph. Implementations may fail
// with ErrGraphUnavailable when the graph has been discarded.
type Source interface {
	// Heads returns the ids of the graph's current head nodes.
	Heads() ([]string, error)

	// Node returns the node with the given id.
	Node(id string) (*Node, error)
}

// Graph is an in-memory step graph. It implements Source.
type Graph struct {
	HeadIDs []string `json:"heads" yaml:"heads"`
	Nodes   []*Node  `json:"nodes" yaml:"nodes"`

	byID map[string]*Node
}

// NewGraph builds a graph from nodes. Heads default to every node that no
// other node lists as a parent.
func NewGraph(nodes []*Node, heads ...string) (*Graph, error) {
	g := &Graph{HeadIDs: heads, Nodes: nodes}
	if err := g.Index(); err != nil {
		return nil, err
	}
	return g, nil
}

// Index (re)builds the id lookup and derives heads when none are set. It
// must be called after unmarshalling.
func (g *Graph) Index() error {
	g.byID = make(map[string]*Node, len(g.Nodes))
	for _, n := range g.Nodes {
		if n == nil || n.ID == "" {
			return fmt.Errorf("graph node without id")
		}
		if _, dup := g.byID[n.ID]; dup {
			return fmt.Errorf("duplicate graph node id %q", n.ID)
		}
		g.byID[n.ID] = n
	}
	for _, n := range g.Nodes {
		for _, p := range n.Parents {
			if _, ok := g.byID[p]; !ok {
				return fmt.Errorf("node %q references unknown parent %q", n.ID, p)
			}
		}
	}
	if len(g.HeadIDs) == 0 {
		g.HeadIDs = g.deriveHeads()
	}
	for _, h := range g.HeadIDs {
		if _, ok := g.byID[h]; !ok {
			return fmt.Errorf("unknown head %q", h)
		}
	}
	return nil
}

func (g *Graph) deriveHeads() []string {
	referenced := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		for _, p := range n.Parents {
			referenced[p] = true
		}
	}
	var heads []string
	for _, n := range g.Nodes {
		if !referenced[n.ID] {
			heads = append(heads, n.ID)
		}
	}
	sort.Strings(heads)
	return heads
}

// Heads implements Source.
func (g *Graph) Heads() ([]string, error) {
	if g == nil || g.byID == nil {
		return nil, ErrGraphUnavailable
	}
	return g.HeadIDs, nil
}

// Node implements Source.
func (g *Graph) Node(id string) (*Node, error) {
	if g == nil || g.byID == nil {
		return nil, ErrGraphUnavailable
	}
	n, ok := g.byID[id]
	if !ok {
		return nil, fmt.Errorf("node %q: %w", id, ErrGraphUnavailable)
	}
	return n, nil
}

// Unavailable is a Source whose graph cannot be loaded.
type Unavailable struct {
	Err error
}

func (u Unavailable) err() error {
	if u.Err != nil {
		return u.Err
	}
	return ErrGraphUnavailable
}

// Heads implements Source.
func (u Unavailable) Heads() ([]string, error) { return nil, u.err() }

// Node implements Source.
func (u Unavailable) Node(string) (*Node, error) { return nil, u.err() }

// Walk visits every node reachable from the heads through parent edges,
// depth first, each node once.
func Walk(src Source, visit func(*Node) error) error {
	heads, err := src.Heads()
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	stack := make([]string, 0, len(heads))
	for i := len(heads) - 1; i >= 0; i-- {
		stack = append(stack, heads[i])
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		n, err := src.Node(id)
		if err != nil {
			return err
		}
		if err := visit(n); err != nil {
			return err
		}
		for i := len(n.Parents) - 1; i >= 0; i-- {
			if !seen[n.Parents[i]] {
				stack = append(stack, n.Parents[i])
			}
		}
	}
	return nil
}

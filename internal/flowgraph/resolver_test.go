package flowgraph

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

func agent(name string) *string { return &name }

// pipeline builds a graph with one allocation block per node name, run one
// after another. Each block is: allocation start, body start (annotated),
// body end, allocation end. Blocks listed in open are left without end markers.
func pipeline(t *testing.T, nodes []string, open map[int]bool, failed map[int]bool) *Graph {
	t.Helper()

	var all []*Node
	prev := "1"
	all = append(all, &Node{ID: "1", Kind: KindBlockStart, Step: "start", TimeMillis: 1000})
	next := 2
	id := func() string {
		s := strconv.Itoa(next)
		next++
		return s
	}
	for i, name := range nodes {
		start := int64(10_000 * (i + 1))
		alloc := &Node{ID: id(), Kind: KindBlockStart, Step: StepAllocate, Parents: []string{prev}, TimeMillis: start, Label: name}
		body := &Node{ID: id(), Kind: KindBlockStart, Step: StepAllocate, Body: true, Parents: []string{alloc.ID}, Agent: agent(name), TimeMillis: start + 10}
		all = append(all, alloc, body)
		prev = body.ID
		if open[i] {
			continue
		}
		bodyEnd := &Node{ID: id(), Kind: KindBlockEnd, StartID: body.ID, Parents: []string{prev}, TimeMillis: start + 4000}
		allocEnd := &Node{ID: id(), Kind: KindBlockEnd, StartID: alloc.ID, Parents: []string{bodyEnd.ID}, TimeMillis: start + 5000}
		if failed[i] {
			allocEnd.Error = "script returned exit code 1"
		}
		body.EndID = bodyEnd.ID
		alloc.EndID = allocEnd.ID
		all = append(all, bodyEnd, allocEnd)
		prev = allocEnd.ID
	}
	g, err := NewGraph(all)
	if err != nil {
		t.Fatalf("NewGraph() error = %v", err)
	}
	return g
}

func TestResolve_SequentialBlocks(t *testing.T) {
	g := pipeline(t, []string{"N1", "N2", "N1"}, nil, nil)

	tests := []struct {
		node string
		want int
	}{
		{"N1", 2},
		{"N2", 1},
		{"N3", 0},
	}
	for _, tt := range tests {
		t.Run(tt.node, func(t *testing.T) {
			execs, err := Resolve(g, tt.node)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if len(execs) != tt.want {
				t.Fatalf("Resolve(%s) = %d entries, want %d", tt.node, len(execs), tt.want)
			}
			for _, e := range execs {
				if e.NodeName != tt.node {
					t.Errorf("NodeName = %s, want %s", e.NodeName, tt.node)
				}
			}
		})
	}
}

func TestResolve_UsesAllocationBlockIdentity(t *testing.T) {
	g := pipeline(t, []string{"N1"}, nil, nil)

	execs, err := Resolve(g, "N1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(execs) != 1 {
		t.Fatalf("got %d entries, want 1", len(execs))
	}
	// Node 2 is the allocation block, node 3 its body.
	if execs[0].StepID != "2" {
		t.Errorf("StepID = %s, want 2 (allocation block)", execs[0].StepID)
	}
	if execs[0].StartMillis != 10_000 {
		t.Errorf("StartMillis = %d, want 10000", execs[0].StartMillis)
	}
	if execs[0].Label != "N1" {
		t.Errorf("Label = %q, want N1", execs[0].Label)
	}
}

func TestResolve_OrderNewestFirst(t *testing.T) {
	g := pipeline(t, []string{"N1", "N2", "N1"}, nil, nil)

	execs, err := Resolve(g, "N1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if execs[0].StartMillis <= execs[1].StartMillis {
		t.Errorf("entries not in descending start order: %d, %d", execs[0].StartMillis, execs[1].StartMillis)
	}
}

func TestResolve_TieBrokenByID(t *testing.T) {
	nodes := []*Node{
		{ID: "b", Kind: KindBlockStart, Step: StepAllocate, Agent: agent("N1"), TimeMillis: 5},
		{ID: "a", Kind: KindBlockStart, Step: StepAllocate, Agent: agent("N1"), TimeMillis: 5},
	}
	g, err := NewGraph(nodes)
	if err != nil {
		t.Fatalf("NewGraph() error = %v", err)
	}
	execs, err := Resolve(g, "N1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(execs) != 2 || execs[0].StepID != "a" || execs[1].StepID != "b" {
		t.Errorf("got %+v, want a then b", execs)
	}
}

func TestResolve_LegacyDirectAnnotation(t *testing.T) {
	nodes := []*Node{
		{ID: "1", Kind: KindBlockStart, Step: "start", TimeMillis: 1},
		{ID: "2", Kind: KindBlockStart, Step: StepAllocate, Parents: []string{"1"}, Agent: agent("legacy"), TimeMillis: 100, EndID: "3"},
		{ID: "3", Kind: KindBlockEnd, StartID: "2", Parents: []string{"2"}, TimeMillis: 700},
	}
	g, err := NewGraph(nodes)
	if err != nil {
		t.Fatalf("NewGraph() error = %v", err)
	}
	execs, err := Resolve(g, "legacy")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(execs) != 1 || execs[0].StepID != "2" {
		t.Fatalf("got %+v, want single entry for node 2", execs)
	}
	d, inProgress := execs[0].Duration(time.UnixMilli(10_000))
	if inProgress {
		t.Error("closed block reported in progress")
	}
	if d != 600*time.Millisecond {
		t.Errorf("Duration = %v, want 600ms", d)
	}
	if got := execs[0].Status(); got != StatusSuccess {
		t.Errorf("Status = %s, want SUCCESS", got)
	}
}

func TestStepExecution_Status(t *testing.T) {
	g := pipeline(t, []string{"ok", "bad", "busy"}, map[int]bool{2: true}, map[int]bool{1: true})

	tests := []struct {
		node string
		want Status
	}{
		{"ok", StatusSuccess},
		{"bad", StatusFailure},
		{"busy", StatusRunning},
	}
	for _, tt := range tests {
		t.Run(tt.node, func(t *testing.T) {
			execs, err := Resolve(g, tt.node)
			if err != nil || len(execs) != 1 {
				t.Fatalf("Resolve() = %v, %v", execs, err)
			}
			if got := execs[0].Status(); got != tt.want {
				t.Errorf("Status() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStepExecution_RunningDurationGrows(t *testing.T) {
	g := pipeline(t, []string{"busy"}, map[int]bool{0: true}, nil)
	execs, err := Resolve(g, "busy")
	if err != nil || len(execs) != 1 {
		t.Fatalf("Resolve() = %v, %v", execs, err)
	}
	e := execs[0]

	first, inProgress := e.Duration(time.UnixMilli(20_000))
	if !inProgress {
		t.Fatal("open block not reported in progress")
	}
	second, _ := e.Duration(time.UnixMilli(25_000))
	if second <= first {
		t.Errorf("duration did not grow: %v then %v", first, second)
	}
	if first != 10*time.Second {
		t.Errorf("first duration = %v, want 10s", first)
	}

	// A clock behind the start time floors at zero.
	if d, _ := e.Duration(time.UnixMilli(0)); d != 0 {
		t.Errorf("Duration before start = %v, want 0", d)
	}
}

func TestStepExecution_UnavailableGraph(t *testing.T) {
	execs := FromStepIDs(Unavailable{}, "N1", []string{"7", "7", "9"})
	if len(execs) != 2 {
		t.Fatalf("got %d entries, want 2 (deduplicated)", len(execs))
	}
	for _, e := range execs {
		if got := e.Status(); got != StatusUnknown {
			t.Errorf("Status() = %s, want UNKNOWN", got)
		}
		if d, inProgress := e.Duration(time.Now()); d != 0 || inProgress {
			t.Errorf("Duration() = %v, %v; want 0, false", d, inProgress)
		}
		if got := e.DurationString(time.Now()); got != "n/a" {
			t.Errorf("DurationString() = %q, want n/a", got)
		}
	}
}

func TestResolve_UnavailableGraph(t *testing.T) {
	_, err := Resolve(Unavailable{}, "N1")
	if !errors.Is(err, ErrGraphUnavailable) {
		t.Errorf("Resolve() error = %v, want ErrGraphUnavailable", err)
	}
}

func TestNewGraph_Validation(t *testing.T) {
	tests := []struct {
		name  string
		nodes []*Node
	}{
		{"missing id", []*Node{{Kind: KindAtom}}},
		{"duplicate id", []*Node{{ID: "1"}, {ID: "1"}}},
		{"unknown parent", []*Node{{ID: "1", Parents: []string{"9"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewGraph(tt.nodes); err == nil {
				t.Error("NewGraph() expected error")
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{340 * time.Millisecond, "340 ms"},
		{2500 * time.Millisecond, "2.5 sec"},
		{12 * time.Second, "12 sec"},
		{65 * time.Second, "1 min 5 sec"},
		{time.Hour + 5*time.Minute, "1 hr 5 min"},
		{49 * time.Hour, "2 days 1 hr"},
		{-time.Second, "0 ms"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestResolve_BuiltInNode(t *testing.T) {
	nodes := []*Node{
		{ID: "1", Kind: KindBlockStart, Step: StepAllocate, Agent: agent(""), TimeMillis: 5},
	}
	g, err := NewGraph(nodes)
	if err != nil {
		t.Fatalf("NewGraph() error = %v", err)
	}
	execs, err := Resolve(g, BuiltInNode)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(execs) != 1 || execs[0].NodeName != BuiltInNode {
		t.Errorf("Resolve(built-in) = %+v, want one entry", execs)
	}
}

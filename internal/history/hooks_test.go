package history

import (
	"errors"
	"reflect"
	"testing"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/index"
)

func TestHooks_ResultStampedOnlyWhenLogComplete(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, &build.Run{Job: "pipe", Number: 1, StartTimeMillis: 7, Pipeline: true, Building: true}, nil)
	f.dispatch(t, Event{Type: EventStepStarted, Node: "n1", Job: "pipe", Build: 1, StepID: "2"})
	f.dispatch(t, Event{Type: EventStepStarted, Node: "n2", Job: "pipe", Build: 1, StepID: "5"})
	if _, err := f.idx.Append("n3", index.Record{Job: "other", Build: 1, StartTimeMillis: 1}); err != nil {
		t.Fatal(err)
	}

	// Result known but the log is still open.
	f.ingest(t, &build.Run{Job: "pipe", Number: 1, StartTimeMillis: 7, Pipeline: true, Building: true, Result: build.ResultFailure}, nil)
	f.dispatch(t, Event{Type: EventRunCompleted, Job: "pipe", Build: 1})
	for _, node := range []string{"n1", "n2"} {
		if r := f.records(t, node)[0].Result; r.Known() {
			t.Errorf("%s stamped %s before log completed", node, r)
		}
	}

	f.ingest(t, &build.Run{Job: "pipe", Number: 1, StartTimeMillis: 7, Pipeline: true, Result: build.ResultSuccess}, nil)
	f.dispatch(t, Event{Type: EventRunCompleted, Job: "pipe", Build: 1})
	for _, node := range []string{"n1", "n2"} {
		recs := f.records(t, node)
		if len(recs) != 1 || recs[0].Result != build.ResultSuccess || recs[0].StartTimeMillis != 7 {
			t.Errorf("%s records = %+v, want one SUCCESS record", node, recs)
		}
	}
	if r := f.records(t, "n3")[0].Result; r.Known() {
		t.Errorf("unrelated node stamped %s", r)
	}
}

func TestHooks_CompletionWithoutAnnotationScansAllNodes(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, &build.Run{Job: "solo", Number: 1, Result: build.ResultAborted}, nil)
	if _, err := f.idx.Append("n5", index.Record{Job: "solo", Build: 1, StartTimeMillis: 3}); err != nil {
		t.Fatal(err)
	}

	f.dispatch(t, Event{Type: EventRunCompleted, Job: "solo", Build: 1})
	if r := f.records(t, "n5")[0].Result; r != build.ResultAborted {
		t.Errorf("Result = %s, want ABORTED", r)
	}
}

func TestHooks_RunDeleted(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, &build.Run{Job: "app", Number: 1, BuiltOn: "n1"}, nil)
	f.ingest(t, &build.Run{Job: "app", Number: 2, BuiltOn: "n1"}, nil)
	f.dispatch(t, Event{Type: EventRunStarted, Node: "n1", Job: "app", Build: 1})
	f.dispatch(t, Event{Type: EventRunStarted, Node: "n2", Job: "app", Build: 1})
	f.dispatch(t, Event{Type: EventRunStarted, Node: "n1", Job: "app", Build: 2})

	f.dispatch(t, Event{Type: EventRunDeleted, Job: "app", Build: 1})

	if got := f.records(t, "n1"); len(got) != 1 || got[0].Build != 2 {
		t.Errorf("n1 records = %+v, want only build 2", got)
	}
	if got := f.records(t, "n2"); len(got) != 0 {
		t.Errorf("n2 records = %+v, want none", got)
	}
	if _, err := f.host.GetRun("app", 1); !errors.Is(err, build.ErrRunNotFound) {
		t.Errorf("mirrored run not deleted: %v", err)
	}
}

func TestHooks_JobRenamedAndDeleted(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, &build.Run{Job: "old", Number: 1, Result: build.ResultSuccess}, nil)
	f.ingest(t, &build.Run{Job: "keep", Number: 1}, nil)
	f.dispatch(t, Event{Type: EventRunStarted, Node: "n1", Job: "old", Build: 1})
	f.dispatch(t, Event{Type: EventRunStarted, Node: "n2", Job: "old", Build: 1})
	f.dispatch(t, Event{Type: EventRunStarted, Node: "n1", Job: "keep", Build: 1})

	f.dispatch(t, Event{Type: EventJobRenamed, OldName: "old", NewName: "new"})

	for _, node := range []string{"n1", "n2"} {
		recs := f.records(t, node)
		if recs[0].Job != "new" || recs[0].Result != build.ResultSuccess {
			t.Errorf("%s first record = %+v, want renamed job", node, recs[0])
		}
	}
	if _, err := f.host.GetRun("new", 1); err != nil {
		t.Errorf("mirrored job not renamed: %v", err)
	}

	f.dispatch(t, Event{Type: EventJobDeleted, Job: "new"})
	if got := f.records(t, "n1"); len(got) != 1 || got[0].Job != "keep" {
		t.Errorf("n1 records = %+v, want only keep", got)
	}
	if got := f.records(t, "n2"); len(got) != 0 {
		t.Errorf("n2 records = %+v, want none", got)
	}

	// Deleting a job the host never mirrored still cleans the index.
	if _, err := f.idx.Append("n3", index.Record{Job: "stray", Build: 1}); err != nil {
		t.Fatal(err)
	}
	f.dispatch(t, Event{Type: EventJobDeleted, Job: "stray"})
	if got := f.records(t, "n3"); len(got) != 0 {
		t.Errorf("n3 records = %+v, want none", got)
	}
}

func TestHooks_NodeRenamedAndDeleted(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, &build.Run{Job: "app", Number: 1, BuiltOn: "old"}, nil)
	f.dispatch(t, Event{Type: EventRunStarted, Node: "old", Job: "app", Build: 1})

	f.dispatch(t, Event{Type: EventNodeRenamed, OldName: "old", NewName: "new"})

	nodes, err := f.svc.Nodes()
	if err != nil {
		t.Fatalf("Nodes() error = %v", err)
	}
	if !reflect.DeepEqual(nodes, []string{"new"}) {
		t.Errorf("Nodes() = %v, want [new]", nodes)
	}
	run, _ := f.host.GetRun("app", 1)
	if !run.History.HasNode("new") || run.BuiltOn != "new" {
		t.Errorf("run annotation not renamed: %+v", run)
	}

	// A later deletion targets the renamed node.
	f.dispatch(t, Event{Type: EventRunDeleted, Job: "app", Build: 1})
	if got := f.records(t, "new"); len(got) != 0 {
		t.Errorf("new records = %+v, want none", got)
	}

	f.dispatch(t, Event{Type: EventNodeDeleted, Node: "new"})
	if nodes, _ := f.svc.Nodes(); len(nodes) != 0 {
		t.Errorf("Nodes() = %v after delete, want none", nodes)
	}
}

func TestHooks_StartedTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	run := &build.Run{Job: "app", Number: 1, StartTimeMillis: 4}
	f.ingest(t, run, nil)
	for i := 0; i < 3; i++ {
		if err := f.svc.OnRunStartedOnNode("n1", run); err != nil {
			t.Fatalf("OnRunStartedOnNode() error = %v", err)
		}
	}
	if got := f.records(t, "n1"); len(got) != 1 {
		t.Errorf("got %d records, want 1", len(got))
	}
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
	}{
		{"unknown type", Event{Type: "exploded"}},
		{"run started without node", Event{Type: EventRunStarted, Job: "app", Build: 1}},
		{"step started without step", Event{Type: EventStepStarted, Node: "n1", Job: "app", Build: 1}},
		{"completed without build", Event{Type: EventRunCompleted, Job: "app"}},
		{"job deleted without job", Event{Type: EventJobDeleted}},
		{"node renamed without new name", Event{Type: EventNodeRenamed, OldName: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.ev.Validate(); !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("Validate() error = %v, want ErrInvalidEvent", err)
			}
		})
	}
}

func TestDispatch_RunEventForUnknownRun(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Dispatch(Event{Type: EventRunStarted, Node: "n1", Job: "ghost", Build: 1})
	if !build.IsNotFound(err) {
		t.Errorf("Dispatch() error = %v, want not found", err)
	}
}

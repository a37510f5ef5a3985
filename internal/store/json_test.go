package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/caevv/agenthistory/internal/build"
	"github.com/caevv/agenthistory/internal/flowgraph"
)

func TestNewJSONStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.json")

	store, err := NewJSONStore(dbPath)
	if err != nil {
		t.Fatalf("NewJSONStore() error = %v", err)
	}
	defer store.Close()

	if store == nil {
		t.Fatal("NewJSONStore() returned nil store")
	}
}

func TestJSONStore_Persistence(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.json")

	// Create store and save data
	store1, err := NewJSONStore(dbPath)
	if err != nil {
		t.Fatalf("NewJSONStore() error = %v", err)
	}

	run := &build.Run{Job: "app", Number: 3, Pipeline: true, Result: build.ResultFailure}
	if err := store1.SaveRun(run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if _, err := store1.Annotate("app", 3, "n1", "2"); err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}
	g, err := flowgraph.NewGraph([]*flowgraph.Node{{ID: "2", Kind: flowgraph.KindBlockStart, Step: flowgraph.StepAllocate}})
	if err != nil {
		t.Fatal(err)
	}
	if err := store1.SaveGraph("app", 3, g); err != nil {
		t.Fatalf("SaveGraph() error = %v", err)
	}

	store1.Close()

	// Open new store and verify data persisted
	store2, err := NewJSONStore(dbPath)
	if err != nil {
		t.Fatalf("NewJSONStore() second open error = %v", err)
	}
	defer store2.Close()

	got, err := store2.GetRun("app", 3)
	if err != nil {
		t.Fatalf("GetRun() after reload error = %v", err)
	}
	if got.Result != build.ResultFailure || !got.History.HasNode("n1") {
		t.Errorf("Data not persisted correctly: %+v", got)
	}
	if _, err := store2.GetGraph("app", 3); err != nil {
		t.Errorf("GetGraph() after reload error = %v", err)
	}
}

func TestNewJSONStore_LoadCorrupt(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.json")
	if err := os.WriteFile(dbPath, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewJSONStore(dbPath); err == nil {
		t.Error("NewJSONStore() expected error for corrupt file")
	}
}

func TestJSONStore_CorruptGraphIsUnavailable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.json")
	content := `{"runs":[{"job":"app","number":1,"start_time_ms":0,"pipeline":true}],
"graphs":[{"job":"app","number":1,"graph":{"heads":["9"],"nodes":[{"id":"1","kind":"atom"}]}}]}`
	if err := os.WriteFile(dbPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	store, err := NewJSONStore(dbPath)
	if err != nil {
		t.Fatalf("NewJSONStore() error = %v", err)
	}
	if _, err := store.GetGraph("app", 1); err == nil {
		t.Error("GetGraph() expected error for graph with unknown head")
	}
}

func TestJSONStore_ConcurrentAccess(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.json")

	store, err := NewJSONStore(dbPath)
	if err != nil {
		t.Fatalf("NewJSONStore() error = %v", err)
	}
	defer store.Close()

	if err := store.SaveRun(&build.Run{Job: "shared", Number: 1, Pipeline: true}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.SaveRun(&build.Run{Job: "job", Number: i + 1}); err != nil {
				t.Errorf("SaveRun() error = %v", err)
			}
			if _, err := store.Annotate("shared", 1, fmt.Sprintf("n%d", i), ""); err != nil {
				t.Errorf("Annotate() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	runs, err := store.GetJobRuns("job", 0)
	if err != nil {
		t.Fatalf("GetJobRuns() error = %v", err)
	}
	if len(runs) != 10 {
		t.Errorf("GetJobRuns() returned %d runs, want 10", len(runs))
	}
	shared, _ := store.GetRun("shared", 1)
	if len(shared.History.Nodes) != 10 {
		t.Errorf("annotation has %d nodes, want 10", len(shared.History.Nodes))
	}
}

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/caevv/agenthistory/internal/build"
)

func TestNewBoltStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewBoltStore(dbPath)
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	defer store.Close()

	if store == nil {
		t.Fatal("NewBoltStore() returned nil store")
	}

	// Verify file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("BoltDB file was not created")
	}
}

func TestBoltStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store1, err := NewBoltStore(dbPath)
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	if err := store1.SaveRun(&build.Run{Job: "app", Number: 300, Result: build.ResultAborted}); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if err := store1.SaveRun(&build.Run{Job: "app", Number: 4}); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if err := store1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	store2, err := NewBoltStore(dbPath)
	if err != nil {
		t.Fatalf("NewBoltStore() reopen error = %v", err)
	}
	defer store2.Close()

	runs, err := store2.GetJobRuns("app", 0)
	if err != nil {
		t.Fatalf("GetJobRuns() error = %v", err)
	}
	// Keys sort numerically, not lexically.
	if len(runs) != 2 || runs[0].Number != 300 || runs[1].Number != 4 {
		t.Errorf("GetJobRuns() = %v, want [300 4]", numbers(runs))
	}
	if runs[0].Result != build.ResultAborted {
		t.Errorf("Result = %s, want ABORTED", runs[0].Result)
	}
}

func TestBoltStore_Close(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewBoltStore(dbPath)
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// mockTask is a test implementation of Task
type mockTask struct {
	runCount atomic.Int32
	runErr   error
	runDelay time.Duration
}

func (m *mockTask) Run(ctx context.Context) error {
	m.runCount.Add(1)

	if m.runDelay > 0 {
		select {
		case <-time.After(m.runDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return m.runErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewScheduler(t *testing.T) {
	sched := New(context.Background(), nil)
	if sched == nil {
		t.Fatal("New() returned nil")
	}

	if sched.cron == nil {
		t.Error("scheduler cron is nil")
	}

	if sched.tasks == nil {
		t.Error("scheduler tasks map is nil")
	}
}

func TestScheduler_AddTask(t *testing.T) {
	tests := []struct {
		name      string
		taskName  string
		schedule  string
		task      Task
		wantErr   bool
		errString string
	}{
		{name: "cron schedule", taskName: "prune", schedule: "*/5 * * * *", task: &mockTask{}},
		{name: "descriptor", taskName: "hourly", schedule: "@hourly", task: &mockTask{}},
		{name: "human interval", taskName: "interval", schedule: "every 5m", task: &mockTask{}},
		{name: "nil task", taskName: "nil", schedule: "@hourly", wantErr: true, errString: "task cannot be nil"},
		{name: "empty name", taskName: "", schedule: "@hourly", task: &mockTask{}, wantErr: true, errString: "name cannot be empty"},
		{name: "invalid schedule", taskName: "bad", schedule: "invalid cron", task: &mockTask{}, wantErr: true},
		{name: "duplicate name", taskName: "prune", schedule: "@daily", task: &mockTask{}, wantErr: true, errString: "already exists"},
	}

	sched := New(context.Background(), quietLogger())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sched.AddTask(tt.taskName, tt.schedule, 0, tt.task)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AddTask() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.errString != "" && !strings.Contains(err.Error(), tt.errString) {
				t.Errorf("AddTask() error = %v, want containing %q", err, tt.errString)
			}
		})
	}

	if got := len(sched.ListTasks()); got != 3 {
		t.Errorf("ListTasks() returned %d tasks, want 3", got)
	}
}

func TestScheduler_RunNow(t *testing.T) {
	sched := New(context.Background(), quietLogger())
	task := &mockTask{runErr: errors.New("disk full")}
	if err := sched.AddTask("prune", "@daily", 0, task); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}

	exec, err := sched.RunNow("prune")
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if exec.Success || exec.Error != "disk full" || exec.ExecID == "" {
		t.Errorf("execution = %+v, want failed with id", exec)
	}

	stats, ok := sched.GetTaskStats("prune")
	if !ok {
		t.Fatal("GetTaskStats() not found")
	}
	if stats.RunCount != 1 || stats.Last != exec {
		t.Errorf("stats = %+v, want one run", stats)
	}
	if stats.NextRun.IsZero() {
		t.Error("NextRun is zero")
	}

	if _, err := sched.RunNow("missing"); err == nil {
		t.Error("RunNow(missing) expected error")
	}
}

func TestScheduler_NextRunBeforeStart(t *testing.T) {
	sched := New(context.Background(), quietLogger())
	before := time.Now()
	if err := sched.AddTask("prune", "@daily", 0, &mockTask{}); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}

	stats, ok := sched.GetTaskStats("prune")
	if !ok {
		t.Fatal("GetTaskStats() not found")
	}
	if !stats.NextRun.After(before) {
		t.Errorf("NextRun = %v, want after %v", stats.NextRun, before)
	}
	if stats.NextRun.After(before.Add(25 * time.Hour)) {
		t.Errorf("NextRun = %v, want within a day", stats.NextRun)
	}

	if _, err := sched.RunNow("prune"); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	after, _ := sched.GetTaskStats("prune")
	if !after.NextRun.Equal(stats.NextRun) {
		t.Errorf("NextRun after RunNow = %v, want %v", after.NextRun, stats.NextRun)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := New(ctx, quietLogger())
	task := &mockTask{}
	if err := sched.AddTask("tick", "@every 1s", 0, task); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}

	if err := sched.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Wait for the task to run at least once
	time.Sleep(2500 * time.Millisecond)

	if err := sched.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	runCount := task.runCount.Load()
	if runCount == 0 {
		t.Error("Task did not run")
	}
	t.Logf("Task ran %d times", runCount)
}

func TestScheduler_TaskTimeout(t *testing.T) {
	sched := New(context.Background(), quietLogger())
	task := &mockTask{runDelay: 5 * time.Second}
	if err := sched.AddTask("slow", "@daily", 100*time.Millisecond, task); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}

	start := time.Now()
	exec, err := sched.RunNow("slow")
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("task was not cancelled by its timeout")
	}
	if exec.Success {
		t.Error("timed out task reported success")
	}
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/5 * * * *", false},
		{"0 */10 * * * *", false},
		{"@daily", false},
		{"@every 90s", false},
		{"every 2h", false},
		{"every 3 days", false},
		{"", true},
		{"every 0m", true},
		{"every 5 fortnights", true},
		{"not a schedule", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateSchedule(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchedule(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestNextRuns(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := NextRuns("every 6h", from, 3)
	if err != nil {
		t.Fatalf("NextRuns() error = %v", err)
	}
	want := []time.Time{from.Add(6 * time.Hour), from.Add(12 * time.Hour), from.Add(18 * time.Hour)}
	if len(got) != len(want) {
		t.Fatalf("NextRuns() = %v, want %v", got, want)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("NextRuns()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	daily, err := NextRuns("0 3 * * *", from, 2)
	if err != nil {
		t.Fatalf("NextRuns() error = %v", err)
	}
	if daily[1].Sub(daily[0]) != 24*time.Hour || daily[0].Hour() != 3 {
		t.Errorf("NextRuns(daily) = %v", daily)
	}

	if _, err := NextRuns("every 400 days", from, 1); err == nil {
		t.Error("expected error for interval above the maximum")
	}
}

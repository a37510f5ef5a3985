package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task is a periodic maintenance action, such as pruning stale index
// records.
type Task interface {
	// Run performs one pass. It should respect context cancellation for
	// graceful shutdown.
	Run(ctx context.Context) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) error

// Run implements Task.
func (f TaskFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Execution tracks metadata for a single task execution.
type Execution struct {
	ExecID    string    `json:"exec_id"`
	Task      string    `json:"task"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// NewExecution creates a new Execution with a unique id.
func NewExecution(task string) *Execution {
	return &Execution{
		ExecID:    GenerateExecID(),
		Task:      task,
		StartTime: time.Now(),
	}
}

// Finish marks the execution as complete.
func (e *Execution) Finish(err error) {
	e.EndTime = time.Now()
	e.Success = err == nil
	if err != nil {
		e.Error = err.Error()
	}
}

// Duration returns the elapsed time for this execution.
func (e *Execution) Duration() time.Duration {
	if e.EndTime.IsZero() {
		return time.Since(e.StartTime)
	}
	return e.EndTime.Sub(e.StartTime)
}

// GenerateExecID generates a unique UUID for a task execution.
func GenerateExecID() string {
	return uuid.New().String()
}

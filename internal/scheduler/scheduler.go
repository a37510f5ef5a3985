// Package scheduler runs periodic maintenance tasks on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps robfig/cron and manages task lifecycle with context support.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	tasks  map[string]*scheduledTask // name -> scheduledTask
	mu     sync.RWMutex
	wg     sync.WaitGroup
}

// scheduledTask tracks a task and its cron entry.
type scheduledTask struct {
	name     string
	schedule string
	timeout  time.Duration
	task     Task
	entryID  cron.EntryID
	last     *Execution
	nextRun  time.Time
	runCount int64
}

// New creates a new Scheduler instance with context support.
// The context is used for graceful shutdown and task cancellation.
func New(ctx context.Context, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	schedCtx, cancel := context.WithCancel(ctx)

	// Create cron with custom logger that wraps slog
	cronLogger := &cronSlogAdapter{logger: logger}

	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.Recover(cronLogger), // Recover from panics
			cron.SkipIfStillRunning(cronLogger),
		),
	)

	return &Scheduler{
		cron:   c,
		ctx:    schedCtx,
		cancel: cancel,
		logger: logger,
		tasks:  make(map[string]*scheduledTask),
	}
}

// AddTask schedules a task under a unique name. A timeout of zero lets the
// task run until the scheduler stops.
func (s *Scheduler) AddTask(name, schedule string, timeout time.Duration, task Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	if name == "" {
		return fmt.Errorf("task name cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %q already exists", name)
	}

	sched, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("failed to parse schedule for task %q: %w", name, err)
	}

	st := &scheduledTask{
		name:     name,
		schedule: schedule,
		timeout:  timeout,
		task:     task,
		nextRun:  sched.Next(time.Now()),
	}
	st.entryID = s.cron.Schedule(sched, s.wrapTask(st))
	s.tasks[name] = st

	s.logger.Info("task added to scheduler",
		slog.String("task", name),
		slog.String("schedule", schedule),
		slog.Time("next_run", st.nextRun),
	)

	return nil
}

// RunNow executes a registered task once, outside its schedule, and waits
// for it to finish.
func (s *Scheduler) RunNow(name string) (*Execution, error) {
	s.mu.RLock()
	st, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task %q not found", name)
	}
	return s.execute(st), nil
}

// wrapTask wraps a task in a cron.Job that respects context cancellation.
func (s *Scheduler) wrapTask(st *scheduledTask) cron.FuncJob {
	return func() {
		s.execute(st)
	}
}

// scheduledNext returns the entry's next activation. Cron leaves Next
// zero until it has started, so the time computed in AddTask is kept then.
// Callers must hold s.mu.
func (s *Scheduler) scheduledNext(st *scheduledTask) time.Time {
	if entry := s.cron.Entry(st.entryID); entry.ID != 0 && !entry.Next.IsZero() {
		return entry.Next
	}
	return st.nextRun
}

func (s *Scheduler) execute(st *scheduledTask) *Execution {
	s.wg.Add(1)
	defer s.wg.Done()

	taskCtx := s.ctx
	if st.timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(s.ctx, st.timeout)
		defer cancel()
	}

	exec := NewExecution(st.name)
	s.logger.Info("starting task",
		slog.String("task", st.name),
		slog.String("exec_id", exec.ExecID),
	)

	err := st.task.Run(taskCtx)
	exec.Finish(err)

	if err != nil {
		s.logger.Error("task failed",
			slog.String("task", st.name),
			slog.String("exec_id", exec.ExecID),
			slog.String("error", err.Error()),
			slog.Duration("duration", exec.Duration()),
		)
	} else {
		s.logger.Info("task completed",
			slog.String("task", st.name),
			slog.String("exec_id", exec.ExecID),
			slog.Duration("duration", exec.Duration()),
		)
	}

	s.mu.Lock()
	st.last = exec
	st.runCount++
	st.nextRun = s.scheduledNext(st)
	s.mu.Unlock()

	return exec
}

// Start begins the scheduler. Tasks will start running according to their schedules.
func (s *Scheduler) Start() error {
	s.mu.RLock()
	taskCount := len(s.tasks)
	s.mu.RUnlock()

	if taskCount == 0 {
		s.logger.Warn("starting scheduler with no tasks")
	}

	s.logger.Info("starting scheduler", slog.Int("task_count", taskCount))
	s.cron.Start()

	return nil
}

// Stop gracefully stops the scheduler and waits for all running tasks to complete.
func (s *Scheduler) Stop() error {
	s.logger.Info("stopping scheduler")

	// Cancel the scheduler context to signal all tasks to stop
	s.cancel()

	// Stop accepting new executions
	cronStopCtx := s.cron.Stop()
	<-cronStopCtx.Done()

	// Wait for all running tasks to complete
	s.wg.Wait()
	s.logger.Info("all tasks stopped")

	return nil
}

// ListTasks returns the names of all scheduled tasks.
func (s *Scheduler) ListTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}

// TaskStats returns statistics for a scheduled task.
type TaskStats struct {
	Task     string     `json:"task"`
	Schedule string     `json:"schedule"`
	NextRun  time.Time  `json:"next_run"`
	RunCount int64      `json:"run_count"`
	Last     *Execution `json:"last,omitempty"`
}

// GetTaskStats returns statistics for a given task.
func (s *Scheduler) GetTaskStats(name string) (*TaskStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.tasks[name]
	if !exists {
		return nil, false
	}

	return &TaskStats{
		Task:     name,
		Schedule: st.schedule,
		NextRun:  s.scheduledNext(st),
		RunCount: st.runCount,
		Last:     st.last,
	}, true
}

// cronSlogAdapter adapts slog.Logger to cron.Logger interface.
type cronSlogAdapter struct {
	logger *slog.Logger
}

func (a *cronSlogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, keysAndValues...)
}

func (a *cronSlogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	attrs := make([]any, 0, len(keysAndValues)+1)
	attrs = append(attrs, slog.String("error", err.Error()))
	attrs = append(attrs, keysAndValues...)
	a.logger.Error(msg, attrs...)
}

package sequence

import (
	"context"
	"sync"

	"github.com/mxrc/control-core/internal/task"
)

// TaskAdapter lets a running Execution present itself as a task.Task so the
// Behavior Arbiter can dispatch sequences as ordinary behaviors. Recovered
// from original_source/'s SequenceTaskAdapter, which performs exactly this
// wrapping between the sequence engine and the task manager.
type TaskAdapter struct {
	exec *Execution

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// NewTaskAdapter wraps exec as a task.Task.
func NewTaskAdapter(exec *Execution) *TaskAdapter {
	return &TaskAdapter{exec: exec}
}

var _ task.Task = (*TaskAdapter)(nil)

// Start launches the wrapped execution's Run in a background goroutine.
// Idempotent: a second call while already started is a no-op.
func (a *TaskAdapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.started = true
	go a.exec.Run(ctx)
	return nil
}

// Stop cancels the wrapped execution.
func (a *TaskAdapter) Stop() error {
	return a.exec.Cancel()
}

func (a *TaskAdapter) Pause() error  { return a.exec.Pause() }
func (a *TaskAdapter) Resume() error { return a.exec.Resume() }

// GetStatus maps the execution's Status to task.Status.
func (a *TaskAdapter) GetStatus() task.Status {
	report := a.exec.Status()
	switch report.Status {
	case StatusPending:
		return task.Idle
	case StatusRunning:
		return task.Running
	case StatusPaused:
		return task.Paused
	case StatusCompleted:
		return task.Completed
	case StatusFailed:
		return task.Failed
	case StatusCancelled:
		return task.Cancelled
	default:
		return task.Idle
	}
}

// GetProgress returns the execution's completed/total ratio.
func (a *TaskAdapter) GetProgress() float64 {
	return a.exec.Status().Progress()
}

// Package task defines the Task interface the Behavior Arbiter drives, and
// the BehaviorRequest envelope the priority queues carry. The arbiter core
// depends only on this interface, never on a concrete task implementation.
package task

import (
	"time"

	"github.com/mxrc/control-core/internal/priority"
)

// Status is a task's lifecycle state. The lattice is
// IDLE -> RUNNING -> {PAUSED <-> RUNNING} -> {COMPLETED, FAILED, CANCELLED}.
type Status uint8

const (
	Idle Status = iota
	Running
	Paused
	Completed
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Paused:
		return "PAUSED"
	case Completed:
		return "COMPLETED"
	case Failed:
		return "FAILED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s is one of the terminal states the arbiter
// treats as "this task is done and its slot can be cleared".
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// Task is the external interface the arbiter drives. Implementations are
// supplied by callers (sequence executions, simple actions, simulated
// behaviors); the arbiter never inspects anything beyond this surface.
// Start/Stop/Pause/Resume are idempotent where reached from a compatible
// predecessor state.
type Task interface {
	Start() error
	Stop() error
	Pause() error
	Resume() error
	GetStatus() Status
	GetProgress() float64
}

// Request is a BehaviorRequest: one pending or running ask to run a Task at
// a given priority. Equality between requests is by ID alone.
type Request struct {
	ID          string
	Priority    priority.Priority
	Task        Task
	Timestamp   time.Time
	RequesterID string
	Cancellable bool
	Timeout     time.Duration // zero means no timeout
}

// HasTimeout reports whether r carries a nonzero timeout.
func (r *Request) HasTimeout() bool {
	return r.Timeout > 0
}

// Expired reports whether r's timeout has elapsed as of now.
func (r *Request) Expired(now time.Time) bool {
	return r.HasTimeout() && now.Sub(r.Timestamp) >= r.Timeout
}

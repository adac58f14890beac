// Package arbiter implements the Behavior Arbiter (spec §4.C): a
// single-consumer scheduler driven by an externally called Tick. It owns
// the current control mode, the currently running request, a
// suspended-requests map, a paused flag, and statistics.
//
// A mutex guards the small mutable state (current/suspended), while the
// hot-path fact the caller polls every tick — here, the alarm engine's
// critical flag — stays a separate atomic read that takes none of the alarm
// engine's locks (Tick reads it while holding the arbiter's own mutex).
package arbiter

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mxrc/control-core/internal/budget"
	"github.com/mxrc/control-core/internal/mode"
	"github.com/mxrc/control-core/internal/priority"
	"github.com/mxrc/control-core/internal/queue"
	"github.com/mxrc/control-core/internal/task"
)

// AlarmGate is the narrow slice of the alarm engine the arbiter depends on.
// Satisfied by *alarm.Engine; kept as an interface so the arbiter can be
// tested without constructing a full catalog.
type AlarmGate interface {
	HasCriticalAlarm() bool
}

// Statistics is a snapshot of arbiter activity counters.
type Statistics struct {
	TicksProcessed    uint64
	TasksStarted      uint64
	TasksCompleted    uint64
	TasksPreempted    uint64
	TimeoutsDropped   uint64
	CriticalFaultsHit uint64
}

// Arbiter is the Behavior Arbiter.
type Arbiter struct {
	log       *zap.Logger
	alarms    AlarmGate
	pending   *queue.BehaviorPriorityQueue
	now       func() time.Time
	preempts  *budget.Bucket // rate-limits non-emergency preemptions; nil disables limiting

	modeState *mode.Atomic
	paused    atomic.Bool

	mu        sync.Mutex
	current   *task.Request
	suspended map[string]*task.Request

	stats Statistics
}

// New creates an Arbiter. alarms may be nil, in which case the critical
// alarm gate is treated as always-false (useful for unit tests of
// preemption logic in isolation). preempts may be nil, in which case
// preemptions are never budget-limited.
func New(log *zap.Logger, alarms AlarmGate, pendingCapacityPerLane int, preempts *budget.Bucket) *Arbiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Arbiter{
		log:       log,
		alarms:    alarms,
		pending:   queue.NewBehaviorPriorityQueue(pendingCapacityPerLane),
		now:       time.Now,
		preempts:  preempts,
		modeState: mode.NewAtomic(mode.Boot),
		suspended: make(map[string]*task.Request),
	}
}

// RequestBehavior enqueues req. Safe to call from arbitrary goroutines.
// Returns false only if the queue is full or req is malformed (nil task,
// invalid priority).
func (a *Arbiter) RequestBehavior(req *task.Request) bool {
	if req == nil || req.Task == nil || !req.Priority.Valid() {
		return false
	}
	return a.pending.Push(req)
}

// TransitionTo enforces the mode transition table. Entering FAULT also
// cancels the current task and clears pending queues.
func (a *Arbiter) TransitionTo(to mode.Mode) bool {
	if !a.modeState.Transition(to) {
		return false
	}
	if to == mode.Fault {
		a.mu.Lock()
		a.enterFaultLocked()
		a.mu.Unlock()
	}
	return true
}

// GetCurrentMode returns the current control mode. Never blocks.
func (a *Arbiter) GetCurrentMode() mode.Mode {
	return a.modeState.Load()
}

// GetCurrentTaskID returns the id of the currently running request, if any.
func (a *Arbiter) GetCurrentTaskID() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return "", false
	}
	return a.current.ID, true
}

// GetPendingBehaviorCount returns an approximate count of queued requests.
func (a *Arbiter) GetPendingBehaviorCount() int {
	return a.pending.Size()
}

// ClearPendingBehaviors drains the pending queue and returns the count
// removed.
func (a *Arbiter) ClearPendingBehaviors() int {
	return a.pending.Clear()
}

// CancelBehavior cancels the currently running task if its id matches, or
// removes a suspended request with that id. Returns false if id matches
// neither.
func (a *Arbiter) CancelBehavior(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current != nil && a.current.ID == id {
		_ = a.current.Task.Stop()
		a.stats.TasksCompleted++
		a.current = nil
		return true
	}
	if req, ok := a.suspended[id]; ok {
		_ = req.Task.Stop()
		delete(a.suspended, id)
		return true
	}
	return false
}

// Pause stops the arbiter from making further scheduling decisions on
// Tick, without touching the currently running task.
func (a *Arbiter) Pause() {
	a.paused.Store(true)
}

// Resume re-enables Tick's scheduling decisions.
func (a *Arbiter) Resume() {
	a.paused.Store(false)
}

// Statistics returns a snapshot of arbiter counters.
func (a *Arbiter) Statistics() Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Tick runs one scheduling cycle: the critical-alarm gate, pause check,
// timeout sweep, current-task inspection with preemption, and selection
// (spec §4.C). Bounded work per call; intended to be called at a fixed
// rate (10 Hz nominal).
func (a *Arbiter) Tick() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.TicksProcessed++

	// 1. Critical-alarm gate.
	if a.alarms != nil && a.alarms.HasCriticalAlarm() && a.modeState.Load() != mode.Fault {
		a.modeState.Force(mode.Fault)
		a.enterFaultLocked()
		a.stats.CriticalFaultsHit++
		return
	}

	// 2. Pause check.
	if a.paused.Load() {
		return
	}

	// 3. Timeout sweep.
	a.sweepTimeoutsLocked()

	// 4. Current-task inspection.
	if a.current != nil {
		status := a.current.Task.GetStatus()
		if status.Terminal() {
			a.stats.TasksCompleted++
			a.current = nil
		} else if candidate, ok := a.pending.Pop(); ok {
			if a.shouldPreempt(candidate) {
				a.preemptLocked(candidate)
			} else {
				// Not used: push back at the front of its lane.
				a.pending.PushFront(candidate)
			}
			return
		} else {
			return
		}
	}

	// 5. Selection.
	if a.current == nil {
		if next, ok := a.pending.Pop(); ok {
			a.startLocked(next)
		}
	}
}

// shouldPreempt implements the preemption policy (spec §4.C). Caller holds
// mu and a.current is non-nil.
func (a *Arbiter) shouldPreempt(candidate *task.Request) bool {
	if !candidate.Priority.Preemptive() {
		return false
	}
	if !candidate.Priority.HigherThan(a.current.Priority) {
		return false
	}

	allowed := false
	switch candidate.Priority {
	case priority.EmergencyStop, priority.SafetyIssue:
		allowed = true
	case priority.UrgentTask:
		allowed = a.current.Priority == priority.NormalTask || a.current.Priority == priority.Maintenance
	}
	if !allowed {
		return false
	}

	if a.preempts != nil && !a.preempts.ConsumeForPriority(candidate.Priority) {
		a.log.Warn("preemption budget exhausted, deferring candidate",
			zap.String("candidate_id", candidate.ID), zap.String("candidate_priority", candidate.Priority.String()))
		return false
	}
	return true
}

// preemptLocked applies the preemption policy for candidate against the
// current task. Caller holds mu.
func (a *Arbiter) preemptLocked(candidate *task.Request) {
	prior := a.current
	a.stats.TasksPreempted++

	switch candidate.Priority {
	case priority.EmergencyStop:
		_ = prior.Task.Stop()
		a.modeState.Force(mode.Fault)
		a.enterFaultLocked()
	case priority.SafetyIssue, priority.UrgentTask:
		_ = prior.Task.Pause()
		a.suspended[prior.ID] = prior
	}

	a.log.Info("preempting current task",
		zap.String("prior_id", prior.ID), zap.String("prior_priority", prior.Priority.String()),
		zap.String("candidate_id", candidate.ID), zap.String("candidate_priority", candidate.Priority.String()))

	a.startLocked(candidate)
}

// startLocked starts req's task and records it as current. Caller holds mu.
func (a *Arbiter) startLocked(req *task.Request) {
	if err := req.Task.Start(); err != nil {
		a.log.Warn("task start failed", zap.String("id", req.ID), zap.Error(err))
		a.stats.TasksCompleted++
		return
	}
	a.current = req
	a.stats.TasksStarted++
}

// sweepTimeoutsLocked drops any pending request whose timeout has elapsed.
// Caller holds mu.
func (a *Arbiter) sweepTimeoutsLocked() {
	now := a.now()
	survivors := make([]*task.Request, 0)
	for {
		req, ok := a.pending.Pop()
		if !ok {
			break
		}
		if req.Expired(now) {
			a.stats.TimeoutsDropped++
			continue
		}
		survivors = append(survivors, req)
	}
	for _, req := range survivors {
		a.pending.Push(req)
	}
}

// enterFaultLocked cancels the current task (discarded, not suspended) and
// clears both pending and suspended requests. Caller holds mu.
func (a *Arbiter) enterFaultLocked() {
	if a.current != nil {
		_ = a.current.Task.Stop()
		a.current = nil
	}
	for id, req := range a.suspended {
		_ = req.Task.Stop()
		delete(a.suspended, id)
	}
	a.pending.Clear()
}

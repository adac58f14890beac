package arbiter

import (
	"testing"
	"time"

	"github.com/mxrc/control-core/internal/budget"
	"github.com/mxrc/control-core/internal/mode"
	"github.com/mxrc/control-core/internal/priority"
	"github.com/mxrc/control-core/internal/task"
)

type fakeTask struct {
	status   task.Status
	started  bool
	stopped  bool
	paused   bool
	progress float64
}

func (f *fakeTask) Start() error        { f.started = true; f.status = task.Running; return nil }
func (f *fakeTask) Stop() error         { f.stopped = true; f.status = task.Cancelled; return nil }
func (f *fakeTask) Pause() error        { f.paused = true; f.status = task.Paused; return nil }
func (f *fakeTask) Resume() error       { f.status = task.Running; return nil }
func (f *fakeTask) GetStatus() task.Status { return f.status }
func (f *fakeTask) GetProgress() float64   { return f.progress }

type fakeGate struct{ critical bool }

func (g *fakeGate) HasCriticalAlarm() bool { return g.critical }

func newReq(id string, p priority.Priority, t *fakeTask) *task.Request {
	return &task.Request{ID: id, Priority: p, Task: t, Timestamp: time.Now(), Cancellable: true}
}

func TestArbiterSelectsHighestPriorityWhenIdle(t *testing.T) {
	a := New(nil, nil, 8, nil)
	low := &fakeTask{status: task.Idle}
	high := &fakeTask{status: task.Idle}
	a.RequestBehavior(newReq("low", priority.NormalTask, low))
	a.RequestBehavior(newReq("high", priority.UrgentTask, high))

	a.Tick()

	id, ok := a.GetCurrentTaskID()
	if !ok || id != "high" {
		t.Fatalf("current = %q, ok=%v, want high", id, ok)
	}
	if !high.started {
		t.Fatal("selected task should have been started")
	}
}

func TestArbiterUrgentPreemptsNormal(t *testing.T) {
	a := New(nil, nil, 8, nil)
	normal := &fakeTask{status: task.Idle}
	a.RequestBehavior(newReq("normal", priority.NormalTask, normal))
	a.Tick()
	if !normal.started {
		t.Fatal("normal task should have started")
	}

	urgent := &fakeTask{status: task.Idle}
	a.RequestBehavior(newReq("urgent", priority.UrgentTask, urgent))
	a.Tick()

	if !normal.paused {
		t.Fatal("preempted normal task should be paused, not stopped")
	}
	if normal.stopped {
		t.Fatal("preempted normal task must not be stopped (only EMERGENCY_STOP discards)")
	}
	id, _ := a.GetCurrentTaskID()
	if id != "urgent" {
		t.Fatalf("current = %q, want urgent", id)
	}
}

func TestArbiterDeniesPreemptionWhenBudgetExhausted(t *testing.T) {
	bucket := budget.New(1, time.Hour) // urgent-task preemption costs 5; never affordable here
	defer bucket.Close()
	a := New(nil, nil, 8, bucket)

	normal := &fakeTask{status: task.Idle}
	a.RequestBehavior(newReq("normal", priority.NormalTask, normal))
	a.Tick()
	if !normal.started {
		t.Fatal("normal task should have started")
	}

	urgent := &fakeTask{status: task.Idle}
	a.RequestBehavior(newReq("urgent", priority.UrgentTask, urgent))
	a.Tick()

	if normal.paused || urgent.started {
		t.Fatal("preemption should have been denied by the exhausted budget")
	}
	id, _ := a.GetCurrentTaskID()
	if id != "normal" {
		t.Fatalf("current = %q, want normal (preemption denied)", id)
	}
}

func TestArbiterNormalDoesNotPreemptNormal(t *testing.T) {
	a := New(nil, nil, 8, nil)
	first := &fakeTask{status: task.Idle}
	a.RequestBehavior(newReq("first", priority.NormalTask, first))
	a.Tick()

	second := &fakeTask{status: task.Idle}
	a.RequestBehavior(newReq("second", priority.NormalTask, second))
	a.Tick()

	if second.started {
		t.Fatal("NORMAL_TASK must never preempt another NORMAL_TASK")
	}
	id, _ := a.GetCurrentTaskID()
	if id != "first" {
		t.Fatalf("current = %q, want first", id)
	}
}

func TestArbiterEmergencyStopDiscardsCurrent(t *testing.T) {
	a := New(nil, nil, 8, nil)
	normal := &fakeTask{status: task.Idle}
	a.RequestBehavior(newReq("normal", priority.NormalTask, normal))
	a.Tick()

	estop := &fakeTask{status: task.Idle}
	a.RequestBehavior(newReq("estop", priority.EmergencyStop, estop))
	a.Tick()

	if !normal.stopped {
		t.Fatal("EMERGENCY_STOP preemption must stop (discard) the prior task")
	}
	if a.GetCurrentMode() != mode.Fault {
		t.Fatalf("mode = %s, want FAULT", a.GetCurrentMode())
	}
}

func TestArbiterCriticalAlarmForcesFault(t *testing.T) {
	gate := &fakeGate{critical: false}
	a := New(nil, gate, 8, nil)
	running := &fakeTask{status: task.Idle}
	a.RequestBehavior(newReq("running", priority.NormalTask, running))
	a.Tick()
	if !running.started {
		t.Fatal("setup: task should be running")
	}

	gate.critical = true
	a.Tick()

	if a.GetCurrentMode() != mode.Fault {
		t.Fatalf("mode = %s, want FAULT", a.GetCurrentMode())
	}
	if !running.stopped {
		t.Fatal("critical alarm gate should cancel the current task")
	}
	if _, ok := a.GetCurrentTaskID(); ok {
		t.Fatal("current slot should be cleared on FAULT entry")
	}
}

func TestArbiterPauseStopsScheduling(t *testing.T) {
	a := New(nil, nil, 8, nil)
	a.Pause()
	pending := &fakeTask{status: task.Idle}
	a.RequestBehavior(newReq("pending", priority.NormalTask, pending))
	a.Tick()

	if pending.started {
		t.Fatal("paused arbiter must not start new tasks")
	}
	if a.GetPendingBehaviorCount() != 1 {
		t.Fatal("pending request should remain queued while paused")
	}
}

func TestArbiterTimeoutSweepDropsExpired(t *testing.T) {
	a := New(nil, nil, 8, nil)
	base := time.Now()
	a.now = func() time.Time { return base.Add(2 * time.Second) }

	expired := &fakeTask{status: task.Idle}
	r := newReq("expired", priority.NormalTask, expired)
	r.Timestamp = base
	r.Timeout = time.Second
	a.RequestBehavior(r)

	a.Tick()

	if expired.started {
		t.Fatal("expired request must not be started")
	}
	if a.Statistics().TimeoutsDropped != 1 {
		t.Fatalf("timeouts dropped = %d, want 1", a.Statistics().TimeoutsDropped)
	}
}

func TestArbiterCompletedTaskClearsCurrent(t *testing.T) {
	a := New(nil, nil, 8, nil)
	tk := &fakeTask{status: task.Idle}
	a.RequestBehavior(newReq("a", priority.NormalTask, tk))
	a.Tick()

	tk.status = task.Completed
	a.Tick()

	if _, ok := a.GetCurrentTaskID(); ok {
		t.Fatal("completed task should clear the current slot")
	}
	if a.Statistics().TasksCompleted == 0 {
		t.Fatal("completed task should be counted")
	}
}

func TestArbiterCancelBehavior(t *testing.T) {
	a := New(nil, nil, 8, nil)
	tk := &fakeTask{status: task.Idle}
	a.RequestBehavior(newReq("a", priority.NormalTask, tk))
	a.Tick()

	if !a.CancelBehavior("a") {
		t.Fatal("cancel of current task should succeed")
	}
	if !tk.stopped {
		t.Fatal("cancelled task should be stopped")
	}
	if a.CancelBehavior("missing") {
		t.Fatal("cancel of unknown id should fail")
	}
}

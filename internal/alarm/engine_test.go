package alarm

import (
	"errors"
	"testing"
	"time"

	"github.com/mxrc/control-core/internal/coreerr"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	doc := []byte(`
version: 1
alarms:
  - code: W001
    name: low battery
    recurrence_window: 60
    recurrence_threshold: 3
  - code: E001
    name: drive fault
  - code: I001
    name: task started
`)
	cat, err := ParseCatalog(doc)
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	return cat
}

type recordingBus struct {
	events []Event
}

func (b *recordingBus) Publish(e Event) { b.events = append(b.events, e) }

// TestRaiseAlarmEscalatesOnRecurrence mirrors the concrete scenario: three
// W001 raises inside the 60s window with threshold 3 escalate WARNING ->
// WARNING -> CRITICAL, and hasCriticalAlarm flips true on the third.
func TestRaiseAlarmEscalatesOnRecurrence(t *testing.T) {
	cat := testCatalog(t)
	bus := &recordingBus{}
	eng := New(cat, nil, bus)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	eng.now = func() time.Time { return clock }

	a1, err := eng.RaiseAlarm("W001", "battery-monitor", "")
	if err != nil {
		t.Fatalf("raise 1: %v", err)
	}
	if a1.Severity != Warning || a1.RecurrenceCount != 1 {
		t.Fatalf("raise 1 = %+v, want WARNING/count=1", a1)
	}
	if eng.HasCriticalAlarm() {
		t.Fatal("should not be critical yet")
	}

	clock = clock.Add(10 * time.Second)
	a2, err := eng.RaiseAlarm("W001", "battery-monitor", "")
	if err != nil {
		t.Fatalf("raise 2: %v", err)
	}
	if a2.Severity != Warning || a2.RecurrenceCount != 2 {
		t.Fatalf("raise 2 = %+v, want WARNING/count=2", a2)
	}

	clock = clock.Add(10 * time.Second)
	a3, err := eng.RaiseAlarm("W001", "battery-monitor", "")
	if err != nil {
		t.Fatalf("raise 3: %v", err)
	}
	if a3.Severity != Critical || a3.RecurrenceCount != 3 {
		t.Fatalf("raise 3 = %+v, want CRITICAL/count=3", a3)
	}
	if !eng.HasCriticalAlarm() {
		t.Fatal("hasCriticalAlarm should be true after third recurrence")
	}

	stats := eng.GetStatistics()
	if stats.TotalRaised != 3 || stats.ActiveCritical != 1 || stats.ActiveWarning != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	var escalated *Event
	for i := range bus.events {
		if bus.events[i].Kind == EventEscalated {
			escalated = &bus.events[i]
		}
	}
	if escalated == nil {
		t.Fatal("expected an EventEscalated event on the bus")
	}
	if escalated.PriorSeverity != Warning || escalated.Alarm.Severity != Critical {
		t.Fatalf("escalation event = prior %v -> %v, want WARNING -> CRITICAL",
			escalated.PriorSeverity, escalated.Alarm.Severity)
	}
}

func TestRaiseAlarmResetsCountOutsideWindow(t *testing.T) {
	cat := testCatalog(t)
	eng := New(cat, nil, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	eng.now = func() time.Time { return clock }

	if _, err := eng.RaiseAlarm("W001", "x", ""); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(90 * time.Second)
	a, err := eng.RaiseAlarm("W001", "x", "")
	if err != nil {
		t.Fatal(err)
	}
	if a.RecurrenceCount != 1 {
		t.Fatalf("recurrence count should reset outside window, got %d", a.RecurrenceCount)
	}
}

func TestRaiseAlarmUnknownCode(t *testing.T) {
	cat := testCatalog(t)
	eng := New(cat, nil, nil)
	_, err := eng.RaiseAlarm("W999", "x", "")
	if !errors.Is(err, coreerr.ErrUnknownAlarmCode) {
		t.Fatalf("err = %v, want ErrUnknownAlarmCode", err)
	}
	if eng.GetStatistics().UnknownCodeDrops != 1 {
		t.Fatal("unknown code drop not counted")
	}
}

func TestAcknowledgeAndResolve(t *testing.T) {
	cat := testCatalog(t)
	eng := New(cat, nil, nil)
	a, _ := eng.RaiseAlarm("E001", "drive", "overcurrent")

	if err := eng.AcknowledgeAlarm(a.ID, "operator-1"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	got, ok := eng.GetAlarm(a.ID)
	if !ok || got.State != Acknowledged || got.AcknowledgedBy != "operator-1" {
		t.Fatalf("got = %+v", got)
	}

	if err := eng.ResolveAlarm(a.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := eng.GetAlarm(a.ID); ok {
		t.Fatal("resolved alarm must leave the active set")
	}
	if eng.HasCriticalAlarm() {
		t.Fatal("critical flag should clear after resolving the only critical alarm")
	}

	if err := eng.ResolveAlarm(a.ID); !errors.Is(err, coreerr.ErrNotFound) {
		t.Fatalf("double resolve err = %v, want ErrNotFound", err)
	}

	hist := eng.GetAlarmHistory(0)
	if len(hist) != 1 || hist[0].ID != a.ID {
		t.Fatalf("history = %+v", hist)
	}
}

func TestGetActiveAlarmsSortedBySeverity(t *testing.T) {
	cat := testCatalog(t)
	eng := New(cat, nil, nil)
	eng.RaiseAlarm("I001", "x", "")
	eng.RaiseAlarm("E001", "x", "")
	eng.RaiseAlarm("W001", "x", "")

	active := eng.GetActiveAlarms()
	if len(active) != 3 {
		t.Fatalf("len = %d, want 3", len(active))
	}
	if active[0].Severity != Critical || active[1].Severity != Warning || active[2].Severity != Info {
		t.Fatalf("not sorted critical-first: %+v", active)
	}
}

func TestResetAllAlarms(t *testing.T) {
	cat := testCatalog(t)
	eng := New(cat, nil, nil)
	eng.RaiseAlarm("E001", "x", "")
	eng.RaiseAlarm("W001", "x", "")

	n := eng.ResetAllAlarms()
	if n != 2 {
		t.Fatalf("reset count = %d, want 2", n)
	}
	if len(eng.GetActiveAlarms()) != 0 {
		t.Fatal("active set should be empty after reset")
	}
	if eng.HasCriticalAlarm() {
		t.Fatal("critical flag should clear after reset")
	}
}

func TestAcknowledgeUnknownAndNotActive(t *testing.T) {
	cat := testCatalog(t)
	eng := New(cat, nil, nil)

	if err := eng.AcknowledgeAlarm("nope", "op"); !errors.Is(err, coreerr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	a, _ := eng.RaiseAlarm("I001", "x", "")
	if err := eng.AcknowledgeAlarm(a.ID, "op"); err != nil {
		t.Fatal(err)
	}
	if err := eng.AcknowledgeAlarm(a.ID, "op"); !errors.Is(err, coreerr.ErrNotActive) {
		t.Fatalf("double ack err = %v, want ErrNotActive", err)
	}
}

func TestEventBusReceivesLifecycleEvents(t *testing.T) {
	cat := testCatalog(t)
	bus := &recordingBus{}
	eng := New(cat, nil, bus)

	a, _ := eng.RaiseAlarm("I001", "x", "")
	eng.AcknowledgeAlarm(a.ID, "op")
	eng.ResolveAlarm(a.ID)

	var kinds []EventKind
	for _, e := range bus.events {
		kinds = append(kinds, e.Kind)
	}
	want := []EventKind{EventRaised, EventAcknowledged, EventCleared}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
}

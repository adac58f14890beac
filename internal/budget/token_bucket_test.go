package budget

import (
	"testing"
	"time"

	"github.com/mxrc/control-core/internal/priority"
)

func TestConsumeWithinCapacity(t *testing.T) {
	b := New(10, time.Hour)
	defer b.Close()

	if !b.Consume(4) {
		t.Fatal("expected Consume(4) to succeed")
	}
	if got := b.Remaining(); got != 6 {
		t.Fatalf("Remaining() = %d, want 6", got)
	}
	if got := b.ConsumedTotal(); got != 4 {
		t.Fatalf("ConsumedTotal() = %d, want 4", got)
	}
}

func TestConsumeFailsWhenInsufficientTokens(t *testing.T) {
	b := New(5, time.Hour)
	defer b.Close()

	if !b.Consume(5) {
		t.Fatal("expected first Consume(5) to succeed")
	}
	if b.Consume(1) {
		t.Fatal("expected Consume(1) to fail once bucket is drained")
	}
	if got := b.Remaining(); got != 0 {
		t.Fatalf("Remaining() = %d, want 0", got)
	}
}

func TestConsumeForPriorityUsesCostModel(t *testing.T) {
	b := New(10, time.Hour)
	defer b.Close()

	if !b.ConsumeForPriority(priority.EmergencyStop) {
		t.Fatal("emergency stop preemption must always be free")
	}
	if got := b.Remaining(); got != 10 {
		t.Fatalf("Remaining() = %d after free preemption, want 10", got)
	}

	if !b.ConsumeForPriority(priority.UrgentTask) {
		t.Fatal("expected urgent task preemption to succeed with budget available")
	}
	if got := b.Remaining(); got != 5 {
		t.Fatalf("Remaining() = %d, want 5", got)
	}
}

func TestConsumeForPriorityDeniesWhenCostExceedsCapacity(t *testing.T) {
	b := New(5, time.Hour)
	defer b.Close()

	// Maintenance preemptions cost 20, more than this bucket's entire
	// capacity, so they can never be approved until capacity grows.
	if b.ConsumeForPriority(priority.Maintenance) {
		t.Fatal("expected maintenance preemption to be denied when its cost exceeds capacity")
	}
	if got := b.Remaining(); got != 5 {
		t.Fatalf("Remaining() = %d, want unchanged 5", got)
	}
}

func TestRefillRestoresCapacity(t *testing.T) {
	b := New(10, 20*time.Millisecond)
	defer b.Close()

	if !b.Consume(10) {
		t.Fatal("expected full drain to succeed")
	}
	if b.Remaining() != 0 {
		t.Fatalf("Remaining() = %d, want 0", b.Remaining())
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if b.Remaining() == b.Capacity() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if b.Remaining() != b.Capacity() {
		t.Fatalf("Remaining() = %d after refill window, want %d", b.Remaining(), b.Capacity())
	}
	if b.RefillCount() == 0 {
		t.Fatal("expected at least one refill cycle")
	}
}

func TestNewPanicsOnInvalidArguments(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-positive capacity")
		}
	}()
	New(0, time.Second)
}

// Package budget implements a token bucket rate limiter bounding how many
// preemptions the Behavior Arbiter (spec §4.C) may perform in a rolling
// window, so a burst of competing high-priority requests can't thrash the
// running task indefinitely.
//
// Cost model (by preempting request's priority, spec §3 Priority):
//   - EMERGENCY_STOP: cost 0 (never budget-limited — safety always wins)
//   - SAFETY_ISSUE:   cost 1
//   - URGENT_TASK:    cost 5
//   - NORMAL_TASK:    cost 10
//   - MAINTENANCE:    cost 20
//
// Rationale: lower-priority preemptions are rarer by design but more
// disruptive relative to their urgency, so they consume more budget.
// A full refill restores the bucket to capacity every refillPeriod,
// rather than incrementally, so a quiet period fully resets the budget.
//
// Invariants:
//   - tokens ∈ [0, capacity] at all times.
//   - Consume is atomic under mutex.
//   - The refill goroutine runs for the lifetime of the Bucket.
package budget

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mxrc/control-core/internal/priority"
)

// CostModel defines the token cost for a preemption by the preempting
// request's priority. Costs must be non-negative integers.
var CostModel = map[priority.Priority]int{
	priority.EmergencyStop: 0,
	priority.SafetyIssue:   1,
	priority.UrgentTask:    5,
	priority.NormalTask:    10,
	priority.Maintenance:   20,
}

// Bucket is a thread-safe token bucket for rate-limiting arbiter
// preemptions.
type Bucket struct {
	mu           sync.Mutex
	capacity     int
	tokens       int
	refillPeriod time.Duration

	// consumedTotal tracks lifetime tokens consumed (for metrics).
	consumedTotal atomic.Uint64

	// refillCount tracks number of refill cycles (for metrics).
	refillCount atomic.Uint64

	// stop channel for graceful shutdown of the refill goroutine.
	stop chan struct{}
}

// New creates a Bucket with the given capacity and starts the refill
// goroutine. capacity and refillPeriod must be > 0. Call Close to stop the
// refill goroutine.
func New(capacity int, refillPeriod time.Duration) *Bucket {
	if capacity <= 0 {
		panic("budget.Bucket: capacity must be > 0")
	}
	if refillPeriod <= 0 {
		panic("budget.Bucket: refillPeriod must be > 0")
	}
	b := &Bucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		stop:         make(chan struct{}),
	}
	go b.refillLoop()
	return b
}

// refillLoop runs in a dedicated goroutine and refills the bucket to full
// capacity every refillPeriod. Exits when Close is called.
func (b *Bucket) refillLoop() {
	ticker := time.NewTicker(b.refillPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			b.tokens = b.capacity
			b.mu.Unlock()
			b.refillCount.Add(1)
		case <-b.stop:
			return
		}
	}
}

// Consume attempts to consume cost tokens from the bucket. Returns true if
// the tokens were available and consumed; false if the preemption must be
// deferred (the caller should then decline the preemption and leave the
// request queued).
func (b *Bucket) Consume(cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens >= cost {
		b.tokens -= cost
		b.consumedTotal.Add(uint64(cost))
		return true
	}
	return false
}

// ConsumeForPriority consumes the standard cost for a preemption by a
// request at the given priority. Priorities with no defined cost (none,
// currently) are treated as free.
func (b *Bucket) ConsumeForPriority(p priority.Priority) bool {
	cost, ok := CostModel[p]
	if !ok {
		return true
	}
	return b.Consume(cost)
}

// Remaining returns the current token count.
func (b *Bucket) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Capacity returns the maximum token capacity.
func (b *Bucket) Capacity() int {
	return b.capacity // Immutable after construction.
}

// ConsumedTotal returns the lifetime total of tokens consumed.
func (b *Bucket) ConsumedTotal() uint64 {
	return b.consumedTotal.Load()
}

// RefillCount returns the number of refill cycles completed.
func (b *Bucket) RefillCount() uint64 {
	return b.refillCount.Load()
}

// Close stops the refill goroutine. Safe to call once.
func (b *Bucket) Close() {
	close(b.stop)
}

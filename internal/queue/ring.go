// Package queue implements the two priority-queue variants the Behavior
// Arbiter consumes (spec §4.B): a channel-based BehaviorPriorityQueue used
// on the arbiter's single-consumer hot path, and a mutex-protected TaskQueue
// for operator-facing introspection. Both share a five-level layout keyed
// by priority.Priority, with strict priority ordering and FIFO within a
// level.
//
// The BehaviorPriorityQueue's backpressure shape — bounded buffer,
// drop-on-full rather than block — is a buffered channel with a
// select/default on a full queue; each lane is a buffered
// chan *task.Request. This package takes no lock of its own on that path,
// but the queue is not lock-free: the Go runtime guards each channel's
// buffer with an internal lock.
package queue

import (
	"github.com/mxrc/control-core/internal/priority"
	"github.com/mxrc/control-core/internal/task"
)

// BehaviorPriorityQueue is a five-lane, multi-producer single-consumer
// queue. Producers call Push concurrently from arbitrary goroutines; Pop is
// intended for a single consumer (the arbiter's tick), matching spec's MPSC
// contract. Each lane is bounded; Push returns false when its lane is full.
type BehaviorPriorityQueue struct {
	lanes [priority.Levels]chan *task.Request
}

// NewBehaviorPriorityQueue creates a queue with the given per-lane capacity.
// capacity must be > 0.
func NewBehaviorPriorityQueue(capacity int) *BehaviorPriorityQueue {
	if capacity <= 0 {
		panic("queue.NewBehaviorPriorityQueue: capacity must be > 0")
	}
	q := &BehaviorPriorityQueue{}
	for i := range q.lanes {
		q.lanes[i] = make(chan *task.Request, capacity)
	}
	return q
}

// Push enqueues req onto its priority's lane. Returns false if req is nil,
// req.Priority is not one of the five defined levels, or the lane is full.
func (q *BehaviorPriorityQueue) Push(req *task.Request) bool {
	if req == nil || !req.Priority.Valid() {
		return false
	}
	select {
	case q.lanes[req.Priority] <- req:
		return true
	default:
		return false
	}
}

// Pop returns the oldest request from the highest-priority non-empty lane.
// Scans lanes in priority order (EMERGENCY_STOP first). Returns nil, false
// if every lane is empty.
func (q *BehaviorPriorityQueue) Pop() (*task.Request, bool) {
	for _, lane := range q.lanes {
		select {
		case req := <-lane:
			return req, true
		default:
		}
	}
	return nil, false
}

// PushFront re-queues req at the front of its lane, for the arbiter's
// "candidate popped but not used" case. Channels have no true front
// insertion, so this drains the lane into a temporary slice, prepends req,
// and refills — acceptable because lane capacities are small and this path
// only runs once per tick at most.
func (q *BehaviorPriorityQueue) PushFront(req *task.Request) bool {
	if req == nil || !req.Priority.Valid() {
		return false
	}
	lane := q.lanes[req.Priority]
	n := len(lane)
	buf := make([]*task.Request, 0, n)
	for i := 0; i < n; i++ {
		buf = append(buf, <-lane)
	}
	ok := true
	select {
	case lane <- req:
	default:
		ok = false
	}
	for _, r := range buf {
		select {
		case lane <- r:
		default:
			ok = false
		}
	}
	return ok
}

// Size returns an approximate total count across all lanes. Approximate
// because lane lengths can change between the per-lane reads.
func (q *BehaviorPriorityQueue) Size() int {
	total := 0
	for _, lane := range q.lanes {
		total += len(lane)
	}
	return total
}

// IsEmpty reports whether every lane is currently empty.
func (q *BehaviorPriorityQueue) IsEmpty() bool {
	for _, lane := range q.lanes {
		if len(lane) > 0 {
			return false
		}
	}
	return true
}

// Clear drains every lane and returns the number of requests removed. It
// does not stop producers: a request pushed while Clear runs may or may not
// be drained (spec's open question on clear() under concurrent push). The
// arbiter calls it from ClearPendingBehaviors and on entering FAULT, with
// producers still running.
func (q *BehaviorPriorityQueue) Clear() int {
	n := 0
	for _, lane := range q.lanes {
		for {
			select {
			case <-lane:
				n++
			default:
				goto next
			}
		}
	next:
	}
	return n
}

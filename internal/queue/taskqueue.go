package queue

import (
	"sync"

	"github.com/mxrc/control-core/internal/priority"
	"github.com/mxrc/control-core/internal/task"
)

// TaskQueue is the mutex-protected, introspectable counterpart to
// BehaviorPriorityQueue (spec §4.B). It holds owning request handles per
// lane plus a side map from request id to its current lane, giving O(1)
// duplicate detection and lane lookup on removal (removal then scans that
// lane) and preventing the same id from sitting in two lanes at once.
type TaskQueue struct {
	mu    sync.Mutex
	lanes [priority.Levels][]*task.Request
	index map[string]priority.Priority
}

// NewTaskQueue creates an empty TaskQueue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		index: make(map[string]priority.Priority),
	}
}

// Enqueue appends req to its priority lane. Returns false if req is nil,
// carries an invalid priority, or its id is already queued in any lane.
func (q *TaskQueue) Enqueue(req *task.Request) bool {
	if req == nil || !req.Priority.Valid() {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.index[req.ID]; dup {
		return false
	}
	q.lanes[req.Priority] = append(q.lanes[req.Priority], req)
	q.index[req.ID] = req.Priority
	return true
}

// Dequeue removes and returns the oldest request from the
// highest-priority non-empty lane.
func (q *TaskQueue) Dequeue() (*task.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for lvl := range q.lanes {
		lane := q.lanes[lvl]
		if len(lane) == 0 {
			continue
		}
		req := lane[0]
		q.lanes[lvl] = lane[1:]
		delete(q.index, req.ID)
		return req, true
	}
	return nil, false
}

// RemoveByID removes the request with the given id from whichever lane it
// occupies, wherever in the lane it sits (not just the head). Returns
// false if id is not queued.
func (q *TaskQueue) RemoveByID(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	lvl, ok := q.index[id]
	if !ok {
		return false
	}
	lane := q.lanes[lvl]
	for i, req := range lane {
		if req.ID == id {
			q.lanes[lvl] = append(lane[:i], lane[i+1:]...)
			delete(q.index, id)
			return true
		}
	}
	return false
}

// Peek returns the request that Dequeue would return next, without
// removing it.
func (q *TaskQueue) Peek() (*task.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, lane := range q.lanes {
		if len(lane) > 0 {
			return lane[0], true
		}
	}
	return nil, false
}

// Clear empties every lane and returns the number of requests removed.
func (q *TaskQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for lvl := range q.lanes {
		n += len(q.lanes[lvl])
		q.lanes[lvl] = nil
	}
	q.index = make(map[string]priority.Priority)
	return n
}

// GetAllTasks returns a priority-ordered snapshot: all EMERGENCY_STOP
// requests (in FIFO order), then SAFETY_ISSUE, and so on.
func (q *TaskQueue) GetAllTasks() []*task.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*task.Request, 0, len(q.index))
	for _, lane := range q.lanes {
		out = append(out, lane...)
	}
	return out
}

// Len returns the total number of queued requests across all lanes.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.index)
}

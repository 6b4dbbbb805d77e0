package orchestrator

import (
	"github.com/seopilot/seopilot/internal/registry"
)

// waiter is a parked routing request. The assigner delivers either a
// descriptor or nil (with err set first) on ready; ready is buffered
// so delivery never blocks the assigner.
type waiter struct {
	task      *Task
	ready     chan *registry.Descriptor
	err       error
	assigned  bool
	cancelled bool
}

func newWaiter(task *Task) *waiter {
	return &waiter{task: task, ready: make(chan *registry.Descriptor, 1)}
}

// priorityQueues holds the four per-class FIFO queues. Not
// self-locking; the router's mutex guards every call.
type priorityQueues struct {
	ceiling int
	queues  [4][]*waiter
}

func newPriorityQueues(ceiling int) *priorityQueues {
	return &priorityQueues{ceiling: ceiling}
}

// push appends a waiter to its class queue. Reports false when the
// class is at its depth ceiling.
func (pq *priorityQueues) push(w *waiter) bool {
	rank := w.task.Priority.Rank()
	if len(pq.queues[rank]) >= pq.ceiling {
		return false
	}
	pq.queues[rank] = append(pq.queues[rank], w)
	return true
}

// remove deletes a waiter from its class queue, preserving FIFO order
// of the rest. Reports whether the waiter was still queued.
func (pq *priorityQueues) remove(w *waiter) bool {
	rank := w.task.Priority.Rank()
	q := pq.queues[rank]
	for i, cand := range q {
		if cand == w {
			pq.queues[rank] = append(q[:i], q[i+1:]...)
			return true
		}
	}
	return false
}

// scan visits waiters strictly by priority class (critical first) and
// FIFO within a class, until visit returns false. visit may remove the
// current waiter via remove; scan iterates over a snapshot per class.
func (pq *priorityQueues) scan(visit func(w *waiter) bool) {
	for rank := len(pq.queues) - 1; rank >= 0; rank-- {
		snapshot := append([]*waiter(nil), pq.queues[rank]...)
		for _, w := range snapshot {
			if !visit(w) {
				return
			}
		}
	}
}

// depth reports the queued count for one priority class.
func (pq *priorityQueues) depth(p Priority) int {
	return len(pq.queues[p.Rank()])
}

package lowering

import (
	"golang.org/x/tools/container/intsets"

	"github.com/roach88/nodejit/internal/ir"
)

// nodeQueue is the reducer worklist: FIFO over node IDs, each ID queued
// at most once at a time.
//
// The queue is single-threaded; lowering owns the graph exclusively while
// it runs.
type nodeQueue struct {
	ids     []ir.NodeID
	pending intsets.Sparse
}

func newNodeQueue() *nodeQueue {
	return &nodeQueue{ids: make([]ir.NodeID, 0, 64)}
}

// Enqueue adds n to the back of the queue unless it is already waiting.
// Dead nodes are never queued. Reports whether n was added.
func (q *nodeQueue) Enqueue(n *ir.Node) bool {
	if n == nil || n.IsDead() {
		return false
	}
	if !q.pending.Insert(int(n.ID())) {
		return false
	}
	q.ids = append(q.ids, n.ID())
	return true
}

// TryDequeue removes and returns the front ID.
func (q *nodeQueue) TryDequeue() (ir.NodeID, bool) {
	if len(q.ids) == 0 {
		return 0, false
	}
	id := q.ids[0]
	if len(q.ids) == 1 {
		q.ids = q.ids[:0]
	} else {
		q.ids = q.ids[1:]
	}
	q.pending.Remove(int(id))
	return id, true
}

func (q *nodeQueue) Len() int { return len(q.ids) }

// Package interest ranks entities per observer by how urgently their state
// should be replicated.
package interest

import (
	"fmt"
	"iter"
)

// Queue is an indexed binary max-heap of entity ids keyed by priority.
//
// Entity ids index dense arrays directly, so memory grows with the largest
// id pushed. A Queue belongs to a single observer and must not be mutated
// concurrently.
type Queue struct {
	// slots[e] is the heap slot of e plus one; zero means absent.
	slots      []int32
	priorities []float64
	heap       []uint32
}

// New creates an empty queue sized for entity ids below capacity.
func New(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		slots:      make([]int32, capacity),
		priorities: make([]float64, capacity),
		heap:       make([]uint32, 0, capacity),
	}
}

// Len returns the number of queued entities.
func (q *Queue) Len() int {
	return len(q.heap)
}

// IsEmpty reports whether the queue holds no entities.
func (q *Queue) IsEmpty() bool {
	return len(q.heap) == 0
}

// Has reports whether e is queued.
func (q *Queue) Has(e uint32) bool {
	return int(e) < len(q.slots) && q.slots[e] != 0
}

// Priority returns the current priority of e. It panics if e is not queued.
func (q *Queue) Priority(e uint32) float64 {
	if !q.Has(e) {
		panic(fmt.Sprintf("interest: priority of entity %d which is not queued", e))
	}
	return q.priorities[e]
}

// Push inserts e with the given priority, replacing any previous entry.
func (q *Queue) Push(e uint32, priority float64) {
	if q.Has(e) {
		q.Remove(e)
	}
	q.grow(e)

	q.priorities[e] = priority
	q.heap = append(q.heap, e)
	slot := len(q.heap) - 1
	q.slots[e] = int32(slot) + 1
	q.siftUp(slot)
}

// Peek returns the entity with the highest priority without removing it.
func (q *Queue) Peek() (uint32, bool) {
	if len(q.heap) == 0 {
		return 0, false
	}
	return q.heap[0], true
}

// Pop removes and returns the entity with the highest priority.
func (q *Queue) Pop() (uint32, bool) {
	if len(q.heap) == 0 {
		return 0, false
	}
	e := q.heap[0]
	q.removeAt(0)
	return e, true
}

// Remove drops e from the queue. Removing an absent entity is a no-op.
func (q *Queue) Remove(e uint32) {
	if !q.Has(e) {
		return
	}
	q.removeAt(int(q.slots[e] - 1))
}

// Reset removes every entity while keeping the allocated storage.
func (q *Queue) Reset() {
	for _, e := range q.heap {
		q.slots[e] = 0
	}
	q.heap = q.heap[:0]
}

// Entities yields queued entities in heap order. The queue must not be
// mutated while iterating.
func (q *Queue) Entities() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		for _, e := range q.heap {
			if !yield(e) {
				return
			}
		}
	}
}

func (q *Queue) grow(e uint32) {
	if int(e) < len(q.slots) {
		return
	}
	n := max(2*len(q.slots), int(e)+1)
	slots := make([]int32, n)
	copy(slots, q.slots)
	priorities := make([]float64, n)
	copy(priorities, q.priorities)
	q.slots, q.priorities = slots, priorities
}

func (q *Queue) removeAt(slot int) {
	last := len(q.heap) - 1
	e := q.heap[slot]

	if slot != last {
		q.swap(slot, last)
	}
	q.heap = q.heap[:last]
	q.slots[e] = 0

	if slot < last {
		// The moved element may belong above or below its new slot.
		if !q.siftUp(slot) {
			q.siftDown(slot)
		}
	}
}

func (q *Queue) less(a, b int) bool {
	return q.priorities[q.heap[a]] < q.priorities[q.heap[b]]
}

func (q *Queue) swap(a, b int) {
	q.heap[a], q.heap[b] = q.heap[b], q.heap[a]
	q.slots[q.heap[a]] = int32(a) + 1
	q.slots[q.heap[b]] = int32(b) + 1
}

// siftUp reports whether the element moved.
func (q *Queue) siftUp(slot int) bool {
	moved := false
	for slot > 0 {
		parent := (slot - 1) / 2
		if !q.less(parent, slot) {
			break
		}
		q.swap(parent, slot)
		slot = parent
		moved = true
	}
	return moved
}

func (q *Queue) siftDown(slot int) {
	n := len(q.heap)
	for {
		left := 2*slot + 1
		if left >= n {
			return
		}
		child := left
		// Ties go to the right child.
		if right := left + 1; right < n && !q.less(right, left) {
			child = right
		}
		if !q.less(slot, child) {
			return
		}
		q.swap(slot, child)
		slot = child
	}
}

package transport

import (
	"sync"
	"sync/atomic"
)

// Inbox is a bounded FIFO of inbound packets shared between a read pump and
// the replication loop. It drops new packets when full, the same way an
// unreliable transport would.
type Inbox struct {
	mu      sync.Mutex
	queue   [][]byte
	limit   int
	closed  bool
	dropped atomic.Uint64
}

func NewInbox(limit int) *Inbox {
	return &Inbox{limit: max(limit, 1)}
}

// Push queues p and reports whether it was kept.
func (b *Inbox) Push(p []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(b.queue) >= b.limit {
		b.dropped.Add(1)
		return false
	}
	b.queue = append(b.queue, p)
	return true
}

// Pop never blocks.
func (b *Inbox) Pop() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil, false
	}
	p := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	return p, true
}

func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Dropped returns the number of packets rejected so far.
func (b *Inbox) Dropped() uint64 {
	return b.dropped.Load()
}

// Close rejects further pushes. Queued packets can still be popped.
func (b *Inbox) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *Inbox) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

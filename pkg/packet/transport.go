package packet

import (
	"errors"
	"slices"
	"sync"
)

var ErrClosed = errors.New("packet: transport closed")

// Transport moves whole packets. Send is fire and forget; Recv returns the
// next inbound packet in arrival order, or false when none is queued.
type Transport interface {
	Send(p []byte) error
	Recv() ([]byte, bool)
}

// Loopback is an in-memory Transport end. Packets sent on one end of a pipe
// are received on the other.
type Loopback struct {
	mu     sync.Mutex
	inbox  [][]byte
	peer   *Loopback
	closed bool
}

// NewPipe returns two connected Loopback ends.
func NewPipe() (*Loopback, *Loopback) {
	a, b := &Loopback{}, &Loopback{}
	a.peer, b.peer = b, a
	return a, b
}

func (l *Loopback) Send(p []byte) error {
	dst := l.peer
	dst.mu.Lock()
	defer dst.mu.Unlock()
	if dst.closed {
		return ErrClosed
	}
	dst.inbox = append(dst.inbox, slices.Clone(p))
	return nil
}

func (l *Loopback) Recv() ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.inbox) == 0 {
		return nil, false
	}
	p := l.inbox[0]
	l.inbox[0] = nil
	l.inbox = l.inbox[1:]
	return p, true
}

// Len returns the number of queued inbound packets.
func (l *Loopback) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inbox)
}

// Close stops this end from accepting packets. Queued packets can still be
// received.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Package transport serves as a network abstraction at (not necessarily) transport level.
//
// Adapters in the subpackages wrap a connection as a Peer: outbound packets
// go straight to the wire and inbound packets are pumped into an Inbox so
// that Recv never blocks a replication tick.
package transport

import (
	"net"

	"github.com/QYUbit/replix/pkg/packet"
)

const DefaultInboxSize = 1024

type CloseCode uint32

const (
	CloseNormal CloseCode = iota
	CloseGoingAway
	CloseProtocolError
)

type Peer interface {
	packet.Transport
	Close() error
	RemoteAddr() net.Addr
}

type Options struct {
	InboxSize int
}

type Option func(*Options)

// WithInboxSize bounds the number of queued inbound packets.
func WithInboxSize(n int) Option {
	return func(o *Options) {
		o.InboxSize = n
	}
}

func BuildOptions(opts ...Option) Options {
	o := Options{InboxSize: DefaultInboxSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.InboxSize <= 0 {
		o.InboxSize = DefaultInboxSize
	}
	return o
}

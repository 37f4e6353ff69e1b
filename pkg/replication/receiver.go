package replication

import (
	"errors"
	"io"

	"github.com/QYUbit/replix/pkg/axlog"
	"github.com/QYUbit/replix/pkg/codec"
	"github.com/QYUbit/replix/pkg/packet"
)

type ReceiverOption func(*Receiver)

func WithReceiverLogger(log axlog.Logger) ReceiverOption {
	return func(r *Receiver) {
		r.log = log
	}
}

func WithReceiverMetrics(m *Metrics) ReceiverOption {
	return func(r *Receiver) {
		r.metrics = m
	}
}

// WithSink stores values of component in sink instead of a MapSink.
func WithSink(component uint16, sink codec.Sink) ReceiverOption {
	return func(r *Receiver) {
		r.sinks[component] = sink
	}
}

// WithPendingStreams bounds the number of incomplete streams kept while
// waiting for missing packets.
func WithPendingStreams(n int) ReceiverOption {
	return func(r *Receiver) {
		r.reassembler = packet.NewReassembler(n)
	}
}

// WithDespawnHandler is called for every despawn record applied.
func WithDespawnHandler(fn func(entity uint32)) ReceiverOption {
	return func(r *Receiver) {
		r.onDespawn = fn
	}
}

// Receiver applies replicated streams to per component sinks. Tracked
// entities are materialized when first seen; untracked entities only
// update values that already exist and are skipped otherwise.
//
// A Receiver is owned by one goroutine.
type Receiver struct {
	reg         *Registry
	sinks       map[uint16]codec.Sink
	tracked     map[uint32]struct{}
	reassembler *packet.Reassembler
	onDespawn   func(uint32)

	log     axlog.Logger
	metrics *Metrics

	lastTick uint32
	applied  bool
}

func NewReceiver(reg *Registry, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		reg:         reg,
		sinks:       make(map[uint16]codec.Sink),
		tracked:     make(map[uint32]struct{}),
		reassembler: packet.NewReassembler(DefaultConfig().PendingStreams),
		log:         axlog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sink returns the sink of component, creating a MapSink on first use.
func (r *Receiver) Sink(component uint16) codec.Sink {
	s, ok := r.sinks[component]
	if !ok {
		s = codec.MapSink{}
		r.sinks[component] = s
	}
	return s
}

// Value returns the decoded value of component on entity.
func (r *Receiver) Value(entity uint32, component uint16) (any, bool) {
	s, ok := r.sinks[component]
	if !ok {
		return nil, false
	}
	return s.Lookup(entity)
}

func (r *Receiver) Track(entity uint32) {
	r.tracked[entity] = struct{}{}
}

// Untrack stops materializing entity. Values already stored keep being
// updated until the entity is despawned or deleted from the sink.
func (r *Receiver) Untrack(entity uint32) {
	delete(r.tracked, entity)
}

func (r *Receiver) Tracked(entity uint32) bool {
	_, ok := r.tracked[entity]
	return ok
}

// LastTick returns the tick of the newest applied stream.
func (r *Receiver) LastTick() (uint32, bool) {
	return r.lastTick, r.applied
}

// Poll drains t, applies every stream that became complete and returns how
// many were applied. Malformed packets and streams are logged and dropped;
// Poll itself only fails if applying a validated stream fails.
func (r *Receiver) Poll(t packet.Transport) (int, error) {
	for {
		p, ok := t.Recv()
		if !ok {
			break
		}
		if _, err := r.reassembler.Push(p); err != nil {
			r.log.Warn("dropping malformed packet", "bytes", len(p), "error", err)
		}
	}

	applied := 0
	for _, id := range r.reassembler.Pending() {
		payload, ok := r.reassembler.Assemble(id)
		if !ok {
			continue
		}

		tick, err := walk(r.reg, payload, skipVisitor)
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// The last packets have not arrived yet.
			continue
		}
		r.reassembler.Drop(id)
		if err != nil {
			r.log.Warn("dropping malformed stream", "stream", id, "error", err)
			r.metrics.discarded()
			continue
		}
		if r.applied && tick <= r.lastTick {
			r.log.Debug("dropping stale stream", "stream", id, "tick", tick, "last", r.lastTick)
			r.metrics.discarded()
			continue
		}

		if _, err := walk(r.reg, payload, r.applyVisitor()); err != nil {
			return applied, err
		}
		r.lastTick, r.applied = tick, true
		r.metrics.applied()
		applied++
	}
	return applied, nil
}

func (r *Receiver) applyVisitor() visitor {
	return visitor{
		despawn: func(entity uint32) {
			for _, c := range r.reg.Components() {
				r.Sink(c.ID).Delete(entity)
			}
			if r.onDespawn != nil {
				r.onDespawn(entity)
			}
		},
		component: func(entity uint32, c *Component, rd codec.Reader) error {
			return c.Codec.Decode(rd, entity, r.Sink(c.ID), r.Tracked(entity))
		},
	}
}

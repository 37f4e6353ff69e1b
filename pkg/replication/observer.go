package replication

import (
	"github.com/QYUbit/replix/pkg/axlog"
	"github.com/QYUbit/replix/pkg/codec"
	"github.com/QYUbit/replix/pkg/interest"
	"github.com/QYUbit/replix/pkg/packet"
	"github.com/google/uuid"
)

// Observer is one remote viewer. Its queue, known set and scratch buffer are
// only touched by the worker replicating it during a tick.
type Observer struct {
	id        uuid.UUID
	transport packet.Transport
	log       axlog.Logger

	queue    *interest.Queue
	known    map[uint32]struct{}
	despawns []uint32
	seed     []uint32
	scratch  *codec.Buffer
}

func newObserver(t packet.Transport, log axlog.Logger, seed []uint32) *Observer {
	id := uuid.New()
	return &Observer{
		id:        id,
		transport: t,
		log:       log.With("observer", id.String()),
		queue:     interest.New(0),
		known:     make(map[uint32]struct{}),
		seed:      seed,
		scratch:   codec.NewBuffer(),
	}
}

func (o *Observer) ID() uuid.UUID {
	return o.id
}

func (o *Observer) Transport() packet.Transport {
	return o.transport
}

// Known reports whether entity has been sent and not despawned since. Only
// call it between ticks.
func (o *Observer) Known(entity uint32) bool {
	_, ok := o.known[entity]
	return ok
}

// Queued returns the number of entities waiting for budget. Only call it
// between ticks.
func (o *Observer) Queued() int {
	return o.queue.Len()
}

func (o *Observer) forget(entity uint32) {
	o.queue.Remove(entity)
	if _, ok := o.known[entity]; ok {
		delete(o.known, entity)
		o.despawns = append(o.despawns, entity)
	}
}

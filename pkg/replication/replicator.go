package replication

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/QYUbit/replix/pkg/axlog"
	"github.com/QYUbit/replix/pkg/packet"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Source reads component values by wire ids. ecs.World implements it.
type Source interface {
	Value(entity uint32, component uint16) (any, bool)
}

// Interest scores how much observer wants entity right now. A score that is
// not positive drops the entity for that observer.
type Interest func(observer uuid.UUID, entity uint32) float64

type Option func(*options)

type options struct {
	log     axlog.Logger
	metrics *Metrics
}

func WithLogger(log axlog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func buildOptions(opts []Option) options {
	o := options{log: axlog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Replicator fans a tick out to every attached observer.
type Replicator struct {
	cfg     Config
	reg     *Registry
	src     Source
	score   Interest
	log     axlog.Logger
	metrics *Metrics

	tickMu sync.Mutex
	tick   uint32

	mu        sync.Mutex
	observers []*Observer
}

func New(cfg Config, reg *Registry, src Source, score Interest, opts ...Option) (*Replicator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &Replicator{
		cfg:     cfg,
		reg:     reg,
		src:     src,
		score:   score,
		log:     o.log,
		metrics: o.metrics,
	}, nil
}

// AddObserver attaches a transport. The initial entities are scored and
// queued on the observer's first tick.
func (r *Replicator) AddObserver(t packet.Transport, initial ...uint32) *Observer {
	o := newObserver(t, r.log, slices.Clone(initial))

	r.mu.Lock()
	r.observers = append(r.observers, o)
	n := len(r.observers)
	r.mu.Unlock()

	r.metrics.setObservers(n)
	o.log.Info("observer added")
	return o
}

func (r *Replicator) RemoveObserver(id uuid.UUID) bool {
	r.mu.Lock()
	i := slices.IndexFunc(r.observers, func(o *Observer) bool { return o.id == id })
	if i < 0 {
		r.mu.Unlock()
		return false
	}
	o := r.observers[i]
	r.observers = slices.Delete(r.observers, i, i+1)
	n := len(r.observers)
	r.mu.Unlock()

	r.metrics.setObservers(n)
	o.log.Info("observer removed")
	return true
}

func (r *Replicator) Observers() []*Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.observers)
}

// CurrentTick returns the number of the last tick started.
func (r *Replicator) CurrentTick() uint32 {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()
	return r.tick
}

// Tick replicates one simulation tick. changed holds entities whose
// components changed and removed those that were despawned. Observers are
// replicated in parallel, each by a single worker. Transport failures are
// logged and counted; only cancellation and internal errors are returned.
func (r *Replicator) Tick(ctx context.Context, changed, removed []uint32) error {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	start := time.Now()
	r.tick++
	tick := r.tick

	observers := r.Observers()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, o := range observers {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return r.replicate(o, tick, changed, removed)
		})
	}
	err := g.Wait()

	r.metrics.observeTick(time.Since(start))
	return err
}

func (r *Replicator) rescore(o *Observer, entity uint32) {
	if entity == EndOfStream {
		return
	}
	score := r.score(o.id, entity)
	if !(score > 0) {
		o.forget(entity)
		return
	}
	if o.queue.Has(entity) {
		score += o.queue.Priority(entity)
	}
	o.queue.Push(entity, score)
}

func (r *Replicator) replicate(o *Observer, tick uint32, changed, removed []uint32) error {
	for _, e := range removed {
		o.forget(e)
	}
	for _, e := range o.seed {
		r.rescore(o, e)
	}
	o.seed = nil
	for _, e := range changed {
		r.rescore(o, e)
	}

	stream, err := packet.NewStream(r.cfg.MTU)
	if err != nil {
		return err
	}
	stream.WriteU32(tick)

	budget := r.cfg.MaxBytes - 4

	// Records go through the scratch buffer and WriteBytes so that only the
	// end marker can leave a packet short.
	buf := o.scratch
	buf.Reset()
	despawned := 0
	for _, e := range o.despawns {
		if stream.Len()+buf.Len()+recordHeaderSize > budget {
			break
		}
		buf.WriteU32(e)
		buf.WriteU8(DespawnMarker)
		despawned++
	}
	stream.WriteBytes(buf.Bytes())

	components := r.reg.Components()
	sent := 0
	for sent < r.cfg.MaxEntities {
		e, ok := o.queue.Peek()
		if !ok {
			break
		}
		n, err := r.encodeRecord(o, components, e)
		if err != nil {
			o.log.Error("dropping entity that cannot be encoded", "entity", e, "error", err)
			o.queue.Pop()
			continue
		}
		if n == 0 {
			// Nothing registered is present; the entity has no state to send.
			o.queue.Pop()
			continue
		}
		if n > r.cfg.MaxBytes-streamOverhead {
			o.log.Error("dropping entity larger than the stream budget", "entity", e, "bytes", n)
			o.queue.Pop()
			continue
		}
		if stream.Len()+n > budget {
			break
		}
		o.queue.Pop()
		stream.WriteBytes(o.scratch.Bytes())
		o.known[e] = struct{}{}
		sent++
	}
	stream.WriteU32(EndOfStream)

	if err := stream.Err(); err != nil {
		return fmt.Errorf("replication: observer %s tick %d: %w", o.id, tick, err)
	}

	o.despawns = o.despawns[despawned:]
	if len(o.despawns) == 0 {
		o.despawns = nil
	}

	deferred := o.queue.Len()
	if err := stream.Send(o.transport); err != nil {
		o.log.Warn("send failed", "tick", tick, "error", err)
		r.metrics.sendFailed()
		return nil
	}

	bytes := 0
	for _, p := range stream.Packets() {
		bytes += len(p)
	}
	r.metrics.sent(stream.PacketCount(), bytes, sent, deferred)
	o.log.Debug("tick sent", "tick", tick, "entities", sent, "despawns", despawned, "deferred", deferred, "packets", stream.PacketCount())
	return nil
}

// encodeRecord writes the record of entity into the observer's scratch
// buffer and returns its size, or 0 when the entity has no registered
// component values.
func (r *Replicator) encodeRecord(o *Observer, components []*Component, entity uint32) (int, error) {
	buf := o.scratch
	buf.Reset()
	buf.WriteU32(entity)
	buf.WriteU8(0)

	count := 0
	for _, c := range components {
		v, ok := r.src.Value(entity, c.ID)
		if !ok {
			continue
		}
		if count == MaxComponents {
			return 0, fmt.Errorf("more than %d components", MaxComponents)
		}
		buf.WriteU16(c.ID)
		if err := c.Codec.Encode(buf, v); err != nil {
			return 0, fmt.Errorf("component %s: %w", c.Name, err)
		}
		count++
	}
	if count == 0 {
		return 0, nil
	}
	buf.Bytes()[4] = uint8(count)
	return buf.Len(), nil
}

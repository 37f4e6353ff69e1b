package replication

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/QYUbit/replix/pkg/axlog"
	"github.com/QYUbit/replix/pkg/codec"
	"github.com/QYUbit/replix/pkg/ecs"
	"github.com/QYUbit/replix/pkg/packet"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	transformID uint16 = 1
	labelID     uint16 = 2
)

// transformRecordSize is one entity record carrying only a transform.
const transformRecordSize = recordHeaderSize + 2 + 8

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(transformID, "transform", codec.Record(
		codec.F("x", codec.Scalar(codec.F32)),
		codec.F("y", codec.Scalar(codec.F32)),
	)))
	require.NoError(t, reg.Register(labelID, "label", codec.Record(
		codec.F("name", codec.Scalar(codec.String)),
		codec.F("level", codec.Scalar(codec.U8)),
	)))
	return reg
}

func transform(x, y float32) codec.Object {
	return codec.Object{"x": x, "y": y}
}

type testWorld struct {
	*ecs.World
	entities []uint32
}

func newTestWorld(t *testing.T, n int) *testWorld {
	t.Helper()
	w := ecs.NewWorld()
	w.RegisterComponent(ecs.ComponentID(transformID))
	w.RegisterComponent(ecs.ComponentID(labelID))

	tw := &testWorld{World: w}
	for i := 0; i < n; i++ {
		e, err := w.Spawn()
		require.NoError(t, err)
		require.NoError(t, w.Set(e, ecs.ComponentID(transformID), transform(float32(e), -float32(e))))
		tw.entities = append(tw.entities, uint32(e))
	}
	return tw
}

func byEntity(_ uuid.UUID, entity uint32) float64 {
	return float64(entity)
}

func constant(score float64) Interest {
	return func(uuid.UUID, uint32) float64 { return score }
}

func newReplicator(t *testing.T, cfg Config, reg *Registry, src Source, score Interest, opts ...Option) *Replicator {
	t.Helper()
	r, err := New(cfg, reg, src, score, opts...)
	require.NoError(t, err)
	return r
}

func drain(l *packet.Loopback) [][]byte {
	var out [][]byte
	for {
		p, ok := l.Recv()
		if !ok {
			return out
		}
		out = append(out, p)
	}
}

func deliver(t *testing.T, recv *Receiver, packets [][]byte) int {
	t.Helper()
	in, out := packet.NewPipe()
	for _, p := range packets {
		require.NoError(t, in.Send(p))
	}
	n, err := recv.Poll(out)
	require.NoError(t, err)
	return n
}

func trackAll(recv *Receiver, entities []uint32) {
	for _, e := range entities {
		recv.Track(e)
	}
}

func TestReplicateEndToEnd(t *testing.T) {
	reg := testRegistry(t)
	world := newTestWorld(t, 3)
	require.NoError(t, world.Set(2, ecs.ComponentID(labelID), codec.Object{"name": "crate", "level": uint8(4)}))

	r := newReplicator(t, DefaultConfig(), reg, world, byEntity)
	a, b := packet.NewPipe()
	o := r.AddObserver(a)

	recv := NewReceiver(reg)
	trackAll(recv, world.entities)

	require.NoError(t, r.Tick(context.Background(), world.entities, nil))
	n, err := recv.Poll(b)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, e := range world.entities {
		v, ok := recv.Value(e, transformID)
		require.True(t, ok, "entity %d", e)
		assert.Equal(t, transform(float32(e), -float32(e)), v)
		assert.True(t, o.Known(e))
	}
	label, ok := recv.Value(2, labelID)
	require.True(t, ok)
	assert.Equal(t, codec.Object{"name": "crate", "level": uint8(4)}, label)

	tick, ok := recv.LastTick()
	assert.True(t, ok)
	assert.Equal(t, uint32(1), tick)
	assert.Equal(t, 0, o.Queued())
}

func TestUntrackedEntitiesAreSkipped(t *testing.T) {
	reg := testRegistry(t)
	world := newTestWorld(t, 3)

	r := newReplicator(t, DefaultConfig(), reg, world, byEntity)
	a, b := packet.NewPipe()
	r.AddObserver(a)

	existing := transform(0, 0)
	recv := NewReceiver(reg, WithSink(transformID, codec.MapSink{3: existing}))
	recv.Track(1)

	require.NoError(t, r.Tick(context.Background(), world.entities, nil))
	n, err := recv.Poll(b)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, ok := recv.Value(1, transformID)
	assert.True(t, ok, "tracked entity is materialized")
	_, ok = recv.Value(2, transformID)
	assert.False(t, ok, "untracked entity is skipped")
	assert.Equal(t, transform(3, -3), existing, "untracked but present entity is updated in place")
}

func TestByteBudgetTruncates(t *testing.T) {
	reg := testRegistry(t)
	world := newTestWorld(t, 5)

	cfg := DefaultConfig()
	cfg.MaxBytes = streamOverhead + 2*transformRecordSize
	m := NewMetrics(prometheus.NewRegistry())
	r := newReplicator(t, cfg, reg, world, byEntity, WithMetrics(m))
	a, b := packet.NewPipe()
	o := r.AddObserver(a)

	recv := NewReceiver(reg)
	trackAll(recv, world.entities)

	require.NoError(t, r.Tick(context.Background(), world.entities, nil))
	packets := drain(b)
	assert.Equal(t, 1, deliver(t, recv, packets))

	for _, e := range []uint32{4, 5} {
		_, ok := recv.Value(e, transformID)
		assert.True(t, ok, "highest priority entity %d sent first", e)
	}
	_, ok := recv.Value(3, transformID)
	assert.False(t, ok)
	assert.Equal(t, 3, o.Queued())

	payload := 0
	for _, p := range packets {
		payload += len(p) - packet.HeaderSize
	}
	assert.LessOrEqual(t, payload, cfg.MaxBytes)

	// Deferred entities go out on later ticks without being changed again.
	require.NoError(t, r.Tick(context.Background(), nil, nil))
	assert.Equal(t, 1, deliver(t, recv, drain(b)))
	for _, e := range []uint32{2, 3} {
		_, ok := recv.Value(e, transformID)
		assert.True(t, ok, "entity %d", e)
	}
	assert.Equal(t, 1, o.Queued())

	assert.Equal(t, float64(4), testutil.ToFloat64(m.entitiesSent))
	assert.Equal(t, float64(3+1), testutil.ToFloat64(m.entitiesDeferred))
}

func TestEntityBudgetTruncates(t *testing.T) {
	reg := testRegistry(t)
	world := newTestWorld(t, 10)

	cfg := DefaultConfig()
	cfg.MaxEntities = 3
	r := newReplicator(t, cfg, reg, world, byEntity)
	a, _ := packet.NewPipe()
	o := r.AddObserver(a)

	require.NoError(t, r.Tick(context.Background(), world.entities, nil))
	assert.Equal(t, 7, o.Queued())
	for _, e := range []uint32{8, 9, 10} {
		assert.True(t, o.Known(e))
	}
	assert.False(t, o.Known(7))
}

func TestStarvedEntitiesAccumulatePriority(t *testing.T) {
	reg := testRegistry(t)
	world := newTestWorld(t, 2)

	cfg := DefaultConfig()
	cfg.MaxEntities = 1
	scores := map[uint32]float64{1: 3, 2: 2}
	r := newReplicator(t, cfg, reg, world, func(_ uuid.UUID, e uint32) float64 { return scores[e] })
	a, _ := packet.NewPipe()
	o := r.AddObserver(a)

	require.NoError(t, r.Tick(context.Background(), world.entities, nil))
	assert.True(t, o.Known(1))
	assert.False(t, o.Known(2))

	// Entity 2 now has 2+2 and overtakes a fresh 3.
	require.NoError(t, r.Tick(context.Background(), world.entities, nil))
	assert.True(t, o.Known(2))
}

func TestDespawnRemovesValues(t *testing.T) {
	reg := testRegistry(t)
	world := newTestWorld(t, 2)

	r := newReplicator(t, DefaultConfig(), reg, world, byEntity)
	a, b := packet.NewPipe()
	o := r.AddObserver(a)

	var despawned []uint32
	recv := NewReceiver(reg, WithDespawnHandler(func(e uint32) { despawned = append(despawned, e) }))
	trackAll(recv, world.entities)

	require.NoError(t, r.Tick(context.Background(), world.entities, nil))
	_, err := recv.Poll(b)
	require.NoError(t, err)

	require.NoError(t, world.Despawn(1))
	require.NoError(t, r.Tick(context.Background(), nil, []uint32{1}))
	n, err := recv.Poll(b)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := recv.Value(1, transformID)
	assert.False(t, ok)
	_, ok = recv.Value(2, transformID)
	assert.True(t, ok)
	assert.Equal(t, []uint32{1}, despawned)
	assert.False(t, o.Known(1))

	// An entity the observer never saw produces no despawn record.
	require.NoError(t, r.Tick(context.Background(), nil, []uint32{42}))
	_, err = recv.Poll(b)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, despawned)
}

func TestLostInterestDespawns(t *testing.T) {
	reg := testRegistry(t)
	world := newTestWorld(t, 2)

	score := 1.0
	r := newReplicator(t, DefaultConfig(), reg, world, func(uuid.UUID, uint32) float64 { return score })
	a, b := packet.NewPipe()
	o := r.AddObserver(a)
	recv := NewReceiver(reg)
	trackAll(recv, world.entities)

	require.NoError(t, r.Tick(context.Background(), world.entities, nil))
	_, err := recv.Poll(b)
	require.NoError(t, err)

	for _, s := range []float64{0, math.NaN()} {
		score = s
		require.NoError(t, r.Tick(context.Background(), world.entities, nil))
		_, err := recv.Poll(b)
		require.NoError(t, err)

		for _, e := range world.entities {
			assert.False(t, o.Known(e))
			_, ok := recv.Value(e, transformID)
			assert.False(t, ok)
		}
		assert.Equal(t, 0, o.Queued())
	}
}

func TestSeededObserverGetsInitialEntities(t *testing.T) {
	reg := testRegistry(t)
	world := newTestWorld(t, 3)

	r := newReplicator(t, DefaultConfig(), reg, world, byEntity)
	a, b := packet.NewPipe()
	r.AddObserver(a, world.entities...)
	recv := NewReceiver(reg)
	trackAll(recv, world.entities)

	require.NoError(t, r.Tick(context.Background(), nil, nil))
	_, err := recv.Poll(b)
	require.NoError(t, err)
	for _, e := range world.entities {
		_, ok := recv.Value(e, transformID)
		assert.True(t, ok)
	}
}

func TestMultiPacketStreamOutOfOrder(t *testing.T) {
	reg := testRegistry(t)
	world := newTestWorld(t, 40)

	cfg := DefaultConfig()
	cfg.MTU = 32
	cfg.MaxBytes = 4096
	r := newReplicator(t, cfg, reg, world, byEntity)
	a, b := packet.NewPipe()
	r.AddObserver(a)

	require.NoError(t, r.Tick(context.Background(), world.entities, nil))
	packets := drain(b)
	require.Greater(t, len(packets), 10)

	rng := rand.New(rand.NewPCG(9, 9))
	rng.Shuffle(len(packets), func(i, j int) { packets[i], packets[j] = packets[j], packets[i] })

	recv := NewReceiver(reg)
	trackAll(recv, world.entities)
	assert.Equal(t, 1, deliver(t, recv, packets))
	for _, e := range world.entities {
		v, ok := recv.Value(e, transformID)
		require.True(t, ok, "entity %d", e)
		assert.Equal(t, transform(float32(e), -float32(e)), v)
	}
}

func TestIncompleteStreamWaits(t *testing.T) {
	reg := testRegistry(t)
	world := newTestWorld(t, 20)

	cfg := DefaultConfig()
	cfg.MTU = 32
	cfg.MaxBytes = 4096
	r := newReplicator(t, cfg, reg, world, byEntity)
	a, b := packet.NewPipe()
	r.AddObserver(a)

	require.NoError(t, r.Tick(context.Background(), world.entities, nil))
	packets := drain(b)
	last := len(packets) - 1

	recv := NewReceiver(reg)
	trackAll(recv, world.entities)
	assert.Equal(t, 0, deliver(t, recv, packets[:last]))
	_, ok := recv.Value(20, transformID)
	assert.False(t, ok, "nothing applied before the stream is complete")

	assert.Equal(t, 1, deliver(t, recv, packets[last:]))
	_, ok = recv.Value(20, transformID)
	assert.True(t, ok)
}

func TestStaleStreamsAreDiscarded(t *testing.T) {
	reg := testRegistry(t)
	world := newTestWorld(t, 1)

	r := newReplicator(t, DefaultConfig(), reg, world, byEntity)
	a, b := packet.NewPipe()
	r.AddObserver(a)

	require.NoError(t, r.Tick(context.Background(), world.entities, nil))
	first := drain(b)
	require.NoError(t, world.Set(1, ecs.ComponentID(transformID), transform(100, 100)))
	require.NoError(t, r.Tick(context.Background(), world.entities, nil))
	second := drain(b)

	m := NewMetrics(prometheus.NewRegistry())
	recv := NewReceiver(reg, WithReceiverMetrics(m))
	recv.Track(1)

	assert.Equal(t, 1, deliver(t, recv, second))
	assert.Equal(t, 0, deliver(t, recv, first))

	v, _ := recv.Value(1, transformID)
	assert.Equal(t, transform(100, 100), v)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.streamsDiscarded))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.streamsApplied))
}

func TestMalformedInputIsDropped(t *testing.T) {
	reg := testRegistry(t)
	log := axlog.NewRecorder()
	recv := NewReceiver(reg, WithReceiverLogger(log))

	garbage, err := packet.NewStream(packet.DefaultMTU)
	require.NoError(t, err)
	garbage.WriteU32(1)
	garbage.WriteU32(7)
	garbage.WriteU8(1)
	garbage.WriteU16(999)
	garbage.WriteU32(EndOfStream)

	trailing, err := packet.NewStream(packet.DefaultMTU)
	require.NoError(t, err)
	trailing.WriteU32(2)
	trailing.WriteU32(EndOfStream)
	trailing.WriteU8(0)

	packets := [][]byte{{1, 2}}
	packets = append(packets, garbage.Packets()...)
	packets = append(packets, trailing.Packets()...)

	assert.Equal(t, 0, deliver(t, recv, packets))
	assert.Equal(t, 3, log.Count(axlog.LevelWarn))
	_, ok := recv.LastTick()
	assert.False(t, ok)
}

type brokenTransport struct{}

func (brokenTransport) Send([]byte) error    { return errors.New("link down") }
func (brokenTransport) Recv() ([]byte, bool) { return nil, false }

func TestSendErrorsAreLoggedNotReturned(t *testing.T) {
	reg := testRegistry(t)
	world := newTestWorld(t, 2)
	log := axlog.NewRecorder()
	m := NewMetrics(prometheus.NewRegistry())

	r := newReplicator(t, DefaultConfig(), reg, world, byEntity, WithLogger(log), WithMetrics(m))
	r.AddObserver(brokenTransport{})
	healthy, b := packet.NewPipe()
	r.AddObserver(healthy)

	require.NoError(t, r.Tick(context.Background(), world.entities, nil))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sendErrors))
	assert.Equal(t, 1, log.Count(axlog.LevelWarn))
	assert.Positive(t, b.Len())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.observers))
}

func TestEncodeFailureDropsEntity(t *testing.T) {
	reg := testRegistry(t)
	world := newTestWorld(t, 2)
	require.NoError(t, world.Set(1, ecs.ComponentID(labelID), codec.Object{"name": "x", "level": 1000}))
	log := axlog.NewRecorder()

	r := newReplicator(t, DefaultConfig(), reg, world, byEntity, WithLogger(log))
	a, b := packet.NewPipe()
	o := r.AddObserver(a)
	recv := NewReceiver(reg)
	trackAll(recv, world.entities)

	require.NoError(t, r.Tick(context.Background(), world.entities, nil))
	_, err := recv.Poll(b)
	require.NoError(t, err)

	assert.False(t, o.Known(1))
	assert.True(t, o.Known(2))
	assert.Equal(t, 1, log.Count(axlog.LevelError))
	_, ok := recv.Value(2, transformID)
	assert.True(t, ok)
}

func TestTickCanceled(t *testing.T) {
	reg := testRegistry(t)
	world := newTestWorld(t, 1)
	r := newReplicator(t, DefaultConfig(), reg, world, byEntity)
	a, _ := packet.NewPipe()
	r.AddObserver(a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Tick(ctx, world.entities, nil), context.Canceled)
}

func TestManyObserversInParallel(t *testing.T) {
	reg := testRegistry(t)
	world := newTestWorld(t, 50)

	cfg := DefaultConfig()
	cfg.Workers = 3
	r := newReplicator(t, cfg, reg, world, byEntity)

	type pair struct {
		o    *Observer
		in   *packet.Loopback
		recv *Receiver
	}
	var pairs []pair
	for i := 0; i < 12; i++ {
		a, b := packet.NewPipe()
		recv := NewReceiver(reg)
		trackAll(recv, world.entities)
		pairs = append(pairs, pair{o: r.AddObserver(a), in: b, recv: recv})
	}

	for tick := 0; tick < 3; tick++ {
		require.NoError(t, r.Tick(context.Background(), world.entities, nil))
	}
	for _, p := range pairs {
		n, err := p.recv.Poll(p.in)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		last, _ := p.recv.LastTick()
		assert.Equal(t, uint32(3), last)
	}
	assert.Equal(t, uint32(3), r.CurrentTick())
}

func TestRemoveObserver(t *testing.T) {
	reg := testRegistry(t)
	world := newTestWorld(t, 1)
	r := newReplicator(t, DefaultConfig(), reg, world, constant(1))
	a, b := packet.NewPipe()
	o := r.AddObserver(a)

	assert.True(t, r.RemoveObserver(o.ID()))
	assert.False(t, r.RemoveObserver(o.ID()))
	assert.Empty(t, r.Observers())

	require.NoError(t, r.Tick(context.Background(), world.entities, nil))
	assert.Equal(t, 0, b.Len())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MTU = 4
	_, err := New(cfg, NewRegistry(), ecs.NewWorld(), constant(1))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDespawnBurstFitsSmallestPackets(t *testing.T) {
	reg := testRegistry(t)
	world := newTestWorld(t, 500)

	cfg := DefaultConfig()
	cfg.MTU = packet.MinMTU
	cfg.MaxBytes = cfg.Capacity()
	require.NoError(t, cfg.Validate())

	r := newReplicator(t, cfg, reg, world, byEntity)
	a, b := packet.NewPipe()
	o := r.AddObserver(a, world.entities...)

	despawned := 0
	recv := NewReceiver(reg, WithDespawnHandler(func(uint32) { despawned++ }))
	trackAll(recv, world.entities)

	for i := 0; i < 20 && (i == 0 || o.Queued() > 0); i++ {
		require.NoError(t, r.Tick(context.Background(), nil, nil))
		_, err := recv.Poll(b)
		require.NoError(t, err)
	}
	require.Equal(t, 0, o.Queued())
	for _, e := range world.entities {
		require.True(t, o.Known(e), "entity %d", e)
	}

	removed := world.entities
	for i := 0; i < 20 && despawned < len(removed); i++ {
		require.NoError(t, r.Tick(context.Background(), nil, removed))
		removed = nil
		_, err := recv.Poll(b)
		require.NoError(t, err)
	}
	assert.Equal(t, len(world.entities), despawned)
	for _, e := range world.entities {
		_, ok := recv.Value(e, transformID)
		assert.False(t, ok, "entity %d", e)
	}
}

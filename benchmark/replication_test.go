package bench

import (
	"context"
	"testing"

	"github.com/QYUbit/replix/pkg/codec"
	"github.com/QYUbit/replix/pkg/ecs"
	"github.com/QYUbit/replix/pkg/interest"
	"github.com/QYUbit/replix/pkg/packet"
	"github.com/QYUbit/replix/pkg/replication"
	"github.com/google/uuid"
)

const (
	benchTransform ecs.ComponentID = 1
	benchHealth    ecs.ComponentID = 2
)

var transformSchema = codec.Record(
	codec.F("x", codec.Scalar(codec.F32)),
	codec.F("y", codec.Scalar(codec.F32)),
	codec.F("z", codec.Scalar(codec.F32)),
)

func benchWorld(b *testing.B, n int) (*ecs.World, []uint32) {
	b.Helper()
	w := ecs.NewWorld()
	w.RegisterComponent(benchTransform)
	w.RegisterComponent(benchHealth)

	entities := make([]uint32, 0, n)
	for i := range n {
		e, err := w.Spawn()
		if err != nil {
			b.Fatal(err)
		}
		_ = w.Set(e, benchTransform, codec.Object{"x": float32(i), "y": float32(i * 2), "z": float32(i * 3)})
		_ = w.Set(e, benchHealth, &codec.Cell{Value: uint16(100)})
		entities = append(entities, uint32(e))
	}
	return w, entities
}

// BenchmarkEntitySpawn benchmarks entity creation with one component
func BenchmarkEntitySpawn(b *testing.B) {
	w := ecs.NewWorld()
	w.RegisterComponent(benchTransform)
	v := codec.Object{"x": float32(1), "y": float32(2), "z": float32(3)}

	b.ResetTimer()
	for range b.N {
		e, err := w.Spawn()
		if err != nil {
			b.Fatal(err)
		}
		_ = w.Set(e, benchTransform, v)
	}
}

// BenchmarkQueryChanged_1000 benchmarks selecting changed entities among 1000
func BenchmarkQueryChanged_1000(b *testing.B) {
	w, entities := benchWorld(b, 1000)
	w.EndTick()
	for _, e := range entities[:100] {
		_ = w.Mutate(ecs.Entity(e), benchTransform, func(v any) any { return v })
	}

	b.ResetTimer()
	for range b.N {
		_ = w.Query(ecs.Changed(benchTransform), ecs.Is(benchHealth))
	}
}

// BenchmarkQueuePushPop benchmarks one rescore and pop cycle over 1000 entities
func BenchmarkQueuePushPop(b *testing.B) {
	q := interest.New(1000)

	b.ResetTimer()
	for i := range b.N {
		for e := range uint32(1000) {
			q.Push(e, float64((e*7919+uint32(i))%1000))
		}
		for !q.IsEmpty() {
			q.Pop()
		}
	}
}

// BenchmarkEncodeTransform benchmarks encoding a record of three floats
func BenchmarkEncodeTransform(b *testing.B) {
	c := codec.MustCompile(transformSchema)
	buf := codec.NewBuffer()
	v := codec.Object{"x": float32(1), "y": float32(2), "z": float32(3)}

	b.ResetTimer()
	for range b.N {
		buf.Reset()
		if err := c.Encode(buf, v); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkDecodeInPlace benchmarks decoding into an existing value
func BenchmarkDecodeInPlace(b *testing.B) {
	c := codec.MustCompile(transformSchema)
	buf := codec.NewBuffer()
	if err := c.Encode(buf, codec.Object{"x": float32(1), "y": float32(2), "z": float32(3)}); err != nil {
		b.Fatal(err)
	}
	data := buf.Bytes()
	sink := codec.MapSink{1: codec.Object{"x": float32(0), "y": float32(0), "z": float32(0)}}

	b.ResetTimer()
	for range b.N {
		if err := c.Decode(codec.NewBufferFrom(data), 1, sink, false); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkTick_8x1000 benchmarks a tick for 8 observers over 1000 changed entities
func BenchmarkTick_8x1000(b *testing.B) {
	benchmarkTick(b, 8, 1000)
}

// BenchmarkTick_64x1000 benchmarks a tick for 64 observers over 1000 changed entities
func BenchmarkTick_64x1000(b *testing.B) {
	benchmarkTick(b, 64, 1000)
}

func benchmarkTick(b *testing.B, observers, entityCount int) {
	w, entities := benchWorld(b, entityCount)

	reg := replication.NewRegistry()
	reg.MustRegister(uint16(benchTransform), "transform", transformSchema)
	reg.MustRegister(uint16(benchHealth), "health", codec.Scalar(codec.U16))

	score := func(_ uuid.UUID, e uint32) float64 { return float64(e%97 + 1) }
	r, err := replication.New(replication.DefaultConfig(), reg, w, score)
	if err != nil {
		b.Fatal(err)
	}

	outs := make([]*packet.Loopback, 0, observers)
	for range observers {
		a, out := packet.NewPipe()
		r.AddObserver(a)
		outs = append(outs, out)
	}

	ctx := context.Background()
	b.ResetTimer()
	for range b.N {
		if err := r.Tick(ctx, entities, nil); err != nil {
			b.Fatal(err)
		}
		b.StopTimer()
		for _, out := range outs {
			for {
				if _, ok := out.Recv(); !ok {
					break
				}
			}
		}
		b.StartTimer()
	}
}

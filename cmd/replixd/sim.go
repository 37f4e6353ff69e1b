package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/QYUbit/replix/pkg/codec"
	"github.com/QYUbit/replix/pkg/ecs"
	"github.com/QYUbit/replix/pkg/replication"
	"github.com/google/uuid"
)

const (
	transformID uint16 = 1
	labelID     uint16 = 2
)

const (
	transformSchema = `{"x":"f32","y":"f32","heading":"f32"}`
	labelSchema     = `{"name":"string","level":"u8"}`
)

// despawnChance is the per tick probability that one wanderer is replaced.
const despawnChance = 0.05

func newRegistry() (*replication.Registry, error) {
	reg := replication.NewRegistry()
	for _, c := range []struct {
		id     uint16
		name   string
		schema string
	}{
		{transformID, "transform", transformSchema},
		{labelID, "label", labelSchema},
	} {
		s, err := codec.ParseSchema([]byte(c.schema))
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", c.name, err)
		}
		if err := reg.Register(c.id, c.name, s); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

type point struct{ x, y float64 }

// sim moves wanderers around a square world and scores them by distance to
// each observer's camera.
type sim struct {
	world  *ecs.World
	size   float64
	radius float64
	speed  float64

	mu      sync.RWMutex
	cameras map[uuid.UUID]point
}

func newSim(size, radius float64) *sim {
	w := ecs.NewWorld()
	w.RegisterComponent(ecs.ComponentID(transformID))
	w.RegisterComponent(ecs.ComponentID(labelID))
	return &sim{
		world:   w,
		size:    size,
		radius:  radius,
		speed:   size / 200,
		cameras: make(map[uuid.UUID]point),
	}
}

func (s *sim) spawn() (ecs.Entity, error) {
	e, err := s.world.Spawn()
	if err != nil {
		return 0, err
	}
	t := codec.Object{
		"x":       float32(rand.Float64() * s.size),
		"y":       float32(rand.Float64() * s.size),
		"heading": float32(rand.Float64() * 2 * math.Pi),
	}
	if err := s.world.Set(e, ecs.ComponentID(transformID), t); err != nil {
		return 0, err
	}
	l := codec.Object{
		"name":  fmt.Sprintf("wanderer-%d", e),
		"level": uint8(rand.IntN(100)),
	}
	if err := s.world.Set(e, ecs.ComponentID(labelID), l); err != nil {
		return 0, err
	}
	return e, nil
}

func (s *sim) populate(n int) error {
	for i := 0; i < n; i++ {
		if _, err := s.spawn(); err != nil {
			return err
		}
	}
	return nil
}

// step advances the world by one tick and returns what replication needs
// to know about it. Call EndTick once the tick has been replicated.
func (s *sim) step() (changed, removed []uint32, err error) {
	entities := s.world.Select(ecs.Is(ecs.ComponentID(transformID)))

	if len(entities) > 0 && rand.Float64() < despawnChance {
		victim := entities[rand.IntN(len(entities))]
		if err := s.world.Despawn(victim); err != nil {
			return nil, nil, err
		}
		if _, err := s.spawn(); err != nil {
			return nil, nil, err
		}
	}

	for _, e := range entities {
		if !s.world.Alive(e) {
			continue
		}
		err := s.world.Mutate(e, ecs.ComponentID(transformID), func(v any) any {
			t := v.(codec.Object)
			heading := float64(t["heading"].(float32)) + (rand.Float64()-0.5)*0.4
			x := wrap(float64(t["x"].(float32))+math.Cos(heading)*s.speed, s.size)
			y := wrap(float64(t["y"].(float32))+math.Sin(heading)*s.speed, s.size)
			t["x"], t["y"], t["heading"] = float32(x), float32(y), float32(heading)
			return t
		})
		if err != nil {
			return nil, nil, err
		}
	}

	seen := make(map[ecs.Entity]struct{})
	for _, f := range []ecs.Filter{ecs.Changed(ecs.ComponentID(transformID)), ecs.Changed(ecs.ComponentID(labelID))} {
		for _, e := range s.world.Select(f) {
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			changed = append(changed, uint32(e))
		}
	}
	for _, e := range s.world.Despawned() {
		removed = append(removed, uint32(e))
	}
	return changed, removed, nil
}

// visible returns every entity with a transform, used to seed new observers.
func (s *sim) visible() []uint32 {
	var out []uint32
	for _, e := range s.world.Select(ecs.Is(ecs.ComponentID(transformID))) {
		out = append(out, uint32(e))
	}
	return out
}

// camera returns the viewpoint of observer, placing it at random on first
// use.
func (s *sim) camera(observer uuid.UUID) point {
	s.mu.RLock()
	c, ok := s.cameras[observer]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cameras[observer]; ok {
		return c
	}
	c = point{rand.Float64() * s.size, rand.Float64() * s.size}
	s.cameras[observer] = c
	return c
}

func (s *sim) dropCamera(observer uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cameras, observer)
}

// interest scores entities inside the view radius by inverse distance.
func (s *sim) interest(observer uuid.UUID, entity uint32) float64 {
	v, ok := s.world.Value(entity, transformID)
	if !ok {
		return 0
	}
	t := v.(codec.Object)
	c := s.camera(observer)
	d := math.Hypot(float64(t["x"].(float32))-c.x, float64(t["y"].(float32))-c.y)
	if d > s.radius {
		return 0
	}
	return 1 / (1 + d)
}

func wrap(v, size float64) float64 {
	v = math.Mod(v, size)
	if v < 0 {
		v += size
	}
	return v
}

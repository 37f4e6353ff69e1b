// Package ecs is a small entity component store that feeds replication. It
// tracks which components were added, changed or removed during a tick and
// answers Filter queries over those change sets.
package ecs

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

type Entity uint32
type ComponentID uint16

// AnyComponent in an In or Out filter matches every component type.
const AnyComponent ComponentID = 0

// MaxEntity is reserved as the end marker of a replication payload.
const MaxEntity Entity = 0xFFFFFFFE

var (
	ErrEntityNotFound   = errors.New("ecs: entity not found")
	ErrEntitiesExceeded = errors.New("ecs: entity ids exhausted")
)

type ErrUnknownComponent struct {
	ID ComponentID
}

func (e ErrUnknownComponent) Error() string {
	return fmt.Sprintf("ecs: component %d is not registered", e.ID)
}

// World owns entities and their component stores. Mutations must not run
// concurrently with each other; reads through Get and Value may run in
// parallel with each other.
type World struct {
	mu sync.RWMutex

	next      Entity
	entities  map[Entity]struct{}
	despawned []Entity
	stores    map[ComponentID]*store
	order     []ComponentID
}

func NewWorld() *World {
	return &World{
		entities: make(map[Entity]struct{}),
		stores:   make(map[ComponentID]*store),
	}
}

// RegisterComponent creates the store for id. Registering an id twice is a
// no-op; AnyComponent cannot be registered.
func (w *World) RegisterComponent(id ComponentID) {
	if id == AnyComponent {
		panic("ecs: component id 0 is reserved for AnyComponent")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.stores[id]; ok {
		return
	}
	w.stores[id] = newStore(id)
	w.order = append(w.order, id)
	slices.Sort(w.order)
}

// Components returns the registered component ids in ascending order.
func (w *World) Components() []ComponentID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.order)
}

// Spawn allocates a new entity. Ids are never reused.
func (w *World) Spawn() (Entity, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.next == MaxEntity {
		return 0, ErrEntitiesExceeded
	}
	w.next++
	w.entities[w.next] = struct{}{}
	return w.next, nil
}

// Despawn removes e and all of its components. The removals are visible to
// Out filters until the next EndTick.
func (w *World) Despawn(e Entity) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.entities[e]; !ok {
		return fmt.Errorf("%w: %d", ErrEntityNotFound, e)
	}
	for _, id := range w.order {
		w.stores[id].Remove(e)
	}
	delete(w.entities, e)
	w.despawned = append(w.despawned, e)
	return nil
}

// Alive reports whether e has been spawned and not despawned.
func (w *World) Alive(e Entity) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.entities[e]
	return ok
}

func (w *World) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entities)
}

// Despawned returns the entities despawned since the last EndTick.
func (w *World) Despawned() []Entity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.despawned)
}

func (w *World) storeFor(e Entity, id ComponentID) (*store, error) {
	if _, ok := w.entities[e]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrEntityNotFound, e)
	}
	s, ok := w.stores[id]
	if !ok {
		return nil, ErrUnknownComponent{ID: id}
	}
	return s, nil
}

// Set adds or replaces the value of component id on e.
func (w *World) Set(e Entity, id ComponentID, value any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, err := w.storeFor(e, id)
	if err != nil {
		return err
	}
	s.Set(e, value)
	return nil
}

// Mutate replaces the value of component id on e with fn's result and marks
// it changed. fn may modify the value in place and return it.
func (w *World) Mutate(e Entity, id ComponentID, fn func(v any) any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, err := w.storeFor(e, id)
	if err != nil {
		return err
	}
	v, ok := s.Get(e)
	if !ok {
		return fmt.Errorf("%w: entity %d has no component %d", ErrEntityNotFound, e, id)
	}
	s.Set(e, fn(v))
	return nil
}

// Remove detaches component id from e. Removing an absent component is a
// no-op.
func (w *World) Remove(e Entity, id ComponentID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, err := w.storeFor(e, id)
	if err != nil {
		return err
	}
	s.Remove(e)
	return nil
}

func (w *World) Get(e Entity, id ComponentID) (any, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.stores[id]
	if !ok {
		return nil, false
	}
	return s.Get(e)
}

// Value exposes the world as a replication source keyed by wire ids.
func (w *World) Value(entity uint32, component uint16) (any, bool) {
	return w.Get(Entity(entity), ComponentID(component))
}

// EndTick clears all change sets.
func (w *World) EndTick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.stores {
		s.endTick()
	}
	w.despawned = w.despawned[:0]
}

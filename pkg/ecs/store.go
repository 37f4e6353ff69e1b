package ecs

// store is a sparse set of component values with per tick change tracking.
type store struct {
	id     ComponentID
	sparse map[Entity]int
	dense  []Entity
	data   []any
	dirty  []bool

	changed int
	added   map[Entity]struct{}
	removed map[Entity]struct{}
}

func newStore(id ComponentID) *store {
	return &store{
		id:      id,
		sparse:  make(map[Entity]int),
		added:   make(map[Entity]struct{}),
		removed: make(map[Entity]struct{}),
	}
}

func (s *store) Len() int {
	return len(s.dense)
}

func (s *store) HasEntity(id Entity) bool {
	_, ok := s.sparse[id]
	return ok
}

func (s *store) Get(id Entity) (any, bool) {
	idx, ok := s.sparse[id]
	if !ok {
		return nil, false
	}
	return s.data[idx], true
}

// Set stores value and marks it changed. A new value is also recorded as an
// addition.
func (s *store) Set(id Entity, value any) {
	if idx, ok := s.sparse[id]; ok {
		s.data[idx] = value
		s.markDirty(idx)
		return
	}

	newIndex := len(s.data)

	s.data = append(s.data, value)
	s.dense = append(s.dense, id)
	s.dirty = append(s.dirty, false)

	s.sparse[id] = newIndex
	s.markDirty(newIndex)

	delete(s.removed, id)
	s.added[id] = struct{}{}
}

func (s *store) Remove(id Entity) bool {
	idx, exists := s.sparse[id]
	if !exists {
		return false
	}
	if s.dirty[idx] {
		s.changed--
	}

	lastIndex := len(s.data) - 1
	lastEntityID := s.dense[lastIndex]

	if idx != lastIndex {
		s.data[idx] = s.data[lastIndex]
		s.dense[idx] = lastEntityID
		s.dirty[idx] = s.dirty[lastIndex]

		s.sparse[lastEntityID] = idx
	}

	s.data[lastIndex] = nil
	s.data = s.data[:lastIndex]
	s.dense = s.dense[:lastIndex]
	s.dirty = s.dirty[:lastIndex]

	delete(s.sparse, id)
	delete(s.added, id)
	s.removed[id] = struct{}{}
	return true
}

func (s *store) markDirty(idx int) {
	if !s.dirty[idx] {
		s.dirty[idx] = true
		s.changed++
	}
}

func (s *store) isDirty(id Entity) bool {
	idx, ok := s.sparse[id]
	return ok && s.dirty[idx]
}

func (s *store) endTick() {
	clear(s.dirty)
	s.changed = 0
	clear(s.added)
	clear(s.removed)
}

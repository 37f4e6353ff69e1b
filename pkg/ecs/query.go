package ecs

import (
	"iter"
	"math"
	"slices"
)

// Select returns the entities matching f in ascending order.
func (w *World) Select(f Filter) []Entity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Sorted(w.candidates(f))
}

// Query returns the entities matching every filter in ascending order. The
// filter with the smallest candidate set drives the scan; the others are
// checked per entity.
func (w *World) Query(filters ...Filter) []Entity {
	if len(filters) == 0 {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	plan := slices.Clone(filters)
	slices.SortStableFunc(plan, func(a, b Filter) int {
		return w.cost(a) - w.cost(b)
	})

	driver, rest := plan[0], plan[1:]
	var out []Entity
	for e := range w.candidates(driver) {
		match := true
		for _, f := range rest {
			if !w.matches(f, e) {
				match = false
				break
			}
		}
		if match {
			out = append(out, e)
		}
	}
	slices.Sort(out)
	return out
}

// Matches reports whether e satisfies f.
func (w *World) Matches(f Filter, e Entity) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.matches(f, e)
}

func (w *World) cost(f Filter) int {
	switch f.Kind {
	case FilterIs:
		if s, ok := w.stores[f.Type]; ok {
			return s.Len()
		}
		return 0
	case FilterNot:
		if s, ok := w.stores[f.Type]; ok {
			return len(w.entities) - s.Len()
		}
		return len(w.entities)
	case FilterChanged:
		if s, ok := w.stores[f.Type]; ok {
			return s.changed
		}
		return 0
	case FilterIn, FilterOut:
		n := 0
		for _, s := range w.selected(f.Type) {
			if f.Kind == FilterIn {
				n += len(s.added)
			} else {
				n += len(s.removed)
			}
		}
		return n
	}
	return math.MaxInt
}

// selected returns the store for t, or every store for AnyComponent.
func (w *World) selected(t ComponentID) []*store {
	if t == AnyComponent {
		out := make([]*store, 0, len(w.order))
		for _, id := range w.order {
			out = append(out, w.stores[id])
		}
		return out
	}
	if s, ok := w.stores[t]; ok {
		return []*store{s}
	}
	return nil
}

func (w *World) candidates(f Filter) iter.Seq[Entity] {
	return func(yield func(Entity) bool) {
		switch f.Kind {
		case FilterIs, FilterChanged:
			s, ok := w.stores[f.Type]
			if !ok {
				return
			}
			for i, id := range s.dense {
				if f.Kind == FilterChanged && !s.dirty[i] {
					continue
				}
				if !yield(id) {
					return
				}
			}

		case FilterNot:
			for id := range w.entities {
				if w.matches(f, id) && !yield(id) {
					return
				}
			}

		case FilterIn, FilterOut:
			stores := w.selected(f.Type)
			if len(stores) == 1 {
				set := stores[0].added
				if f.Kind == FilterOut {
					set = stores[0].removed
				}
				for id := range set {
					if !yield(id) {
						return
					}
				}
				return
			}

			visited := make(map[Entity]struct{})
			for _, s := range stores {
				set := s.added
				if f.Kind == FilterOut {
					set = s.removed
				}
				for id := range set {
					if _, seen := visited[id]; seen {
						continue
					}
					visited[id] = struct{}{}
					if !yield(id) {
						return
					}
				}
			}
		}
	}
}

func (w *World) matches(f Filter, e Entity) bool {
	switch f.Kind {
	case FilterIs:
		s, ok := w.stores[f.Type]
		return ok && s.HasEntity(e)
	case FilterNot:
		if _, alive := w.entities[e]; !alive {
			return false
		}
		s, ok := w.stores[f.Type]
		return !ok || !s.HasEntity(e)
	case FilterChanged:
		s, ok := w.stores[f.Type]
		return ok && s.isDirty(e)
	case FilterIn:
		for _, s := range w.selected(f.Type) {
			if _, ok := s.added[e]; ok {
				return true
			}
		}
		return false
	case FilterOut:
		for _, s := range w.selected(f.Type) {
			if _, ok := s.removed[e]; ok {
				return true
			}
		}
		return false
	}
	return false
}

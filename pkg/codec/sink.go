package codec

// Object is the in-memory form of a record schema value.
type Object = map[string]any

// Cell holds the value of a top level scalar schema so decodes can update it
// in place.
type Cell struct {
	Value any
}

// Sink stores decoded values by slot, usually an entity id.
type Sink interface {
	Lookup(slot uint32) (any, bool)
	Store(slot uint32, v any)
	Delete(slot uint32)
}

// MapSink is a sparse Sink.
type MapSink map[uint32]any

func (m MapSink) Lookup(slot uint32) (any, bool) {
	v, ok := m[slot]
	return v, ok
}

func (m MapSink) Store(slot uint32, v any) {
	m[slot] = v
}

func (m MapSink) Delete(slot uint32) {
	delete(m, slot)
}

// SliceSink is a dense Sink indexed directly by slot. A nil entry is absent.
type SliceSink struct {
	values []any
	count  int
}

func NewSliceSink(capacity int) *SliceSink {
	return &SliceSink{values: make([]any, capacity)}
}

func (s *SliceSink) Lookup(slot uint32) (any, bool) {
	if int(slot) >= len(s.values) || s.values[slot] == nil {
		return nil, false
	}
	return s.values[slot], true
}

func (s *SliceSink) Store(slot uint32, v any) {
	if v == nil {
		s.Delete(slot)
		return
	}
	if int(slot) >= len(s.values) {
		grown := make([]any, max(2*len(s.values), int(slot)+1))
		copy(grown, s.values)
		s.values = grown
	}
	if s.values[slot] == nil {
		s.count++
	}
	s.values[slot] = v
}

func (s *SliceSink) Delete(slot uint32) {
	if int(slot) < len(s.values) && s.values[slot] != nil {
		s.values[slot] = nil
		s.count--
	}
}

// Len returns the number of present slots.
func (s *SliceSink) Len() int {
	return s.count
}

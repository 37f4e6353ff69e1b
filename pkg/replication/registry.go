package replication

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/QYUbit/replix/pkg/codec"
)

var (
	ErrDuplicateComponent = errors.New("replication: component id already registered")
	ErrReservedComponent  = errors.New("replication: component id 0 is reserved")
)

type ErrUnknownComponent struct {
	ID uint16
}

func (e ErrUnknownComponent) Error() string {
	return fmt.Sprintf("replication: unknown component %d", e.ID)
}

// Component binds a wire id to the codec of its schema.
type Component struct {
	ID    uint16
	Name  string
	Codec *codec.Codec
}

// Registry is the shared component table of a sender and its receivers.
// Both sides must register the same ids with the same schemas.
type Registry struct {
	mu         sync.RWMutex
	components map[uint16]*Component
	ids        []uint16
}

func NewRegistry() *Registry {
	return &Registry{components: make(map[uint16]*Component)}
}

func (r *Registry) Register(id uint16, name string, schema *codec.Schema) error {
	if id == 0 {
		return ErrReservedComponent
	}
	c, err := codec.Compile(schema)
	if err != nil {
		return fmt.Errorf("replication: component %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.components[id]; ok {
		return fmt.Errorf("%w: %d (%s)", ErrDuplicateComponent, id, prev.Name)
	}
	r.components[id] = &Component{ID: id, Name: name, Codec: c}
	r.ids = append(r.ids, id)
	slices.Sort(r.ids)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(id uint16, name string, schema *codec.Schema) {
	if err := r.Register(id, name, schema); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(id uint16) (*Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.components[id]
	return c, ok
}

// Components returns the registered components by ascending id.
func (r *Registry) Components() []*Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Component, len(r.ids))
	for i, id := range r.ids {
		out[i] = r.components[id]
	}
	return out
}

package ecs

import "fmt"

type FilterKind uint8

const (
	// FilterIs selects entities that have the component.
	FilterIs FilterKind = iota
	// FilterNot selects live entities that lack the component.
	FilterNot
	// FilterChanged selects entities whose component was set or mutated
	// since the last EndTick.
	FilterChanged
	// FilterIn selects entities that gained the component since the last
	// EndTick.
	FilterIn
	// FilterOut selects entities that lost the component since the last
	// EndTick, despawned entities included.
	FilterOut
)

var filterKindNames = [...]string{
	FilterIs:      "is",
	FilterNot:     "not",
	FilterChanged: "changed",
	FilterIn:      "in",
	FilterOut:     "out",
}

func (k FilterKind) String() string {
	if int(k) < len(filterKindNames) {
		return filterKindNames[k]
	}
	return fmt.Sprintf("filter(%d)", uint8(k))
}

// Filter is an immutable selection descriptor. The World interprets it;
// a Filter has no behavior of its own.
type Filter struct {
	Kind FilterKind
	Type ComponentID
}

func (f Filter) String() string {
	if f.Type == AnyComponent {
		return f.Kind.String() + "(*)"
	}
	return fmt.Sprintf("%v(%d)", f.Kind, f.Type)
}

func Is(t ComponentID) Filter {
	return Filter{Kind: FilterIs, Type: t}
}

func Not(t ComponentID) Filter {
	return Filter{Kind: FilterNot, Type: t}
}

func Changed(t ComponentID) Filter {
	return Filter{Kind: FilterChanged, Type: t}
}

// In matches additions of t, or of any component when t is omitted. It
// panics when given more than one component.
func In(t ...ComponentID) Filter {
	return Filter{Kind: FilterIn, Type: optional(t)}
}

// Out matches removals of t, or of any component when t is omitted. It
// panics when given more than one component.
func Out(t ...ComponentID) Filter {
	return Filter{Kind: FilterOut, Type: optional(t)}
}

func optional(t []ComponentID) ComponentID {
	switch len(t) {
	case 0:
		return AnyComponent
	case 1:
		return t[0]
	}
	panic(fmt.Sprintf("ecs: filter takes at most one component, got %v", t))
}

// Package replication drives one replication tick per simulation tick: it
// ranks changed entities per observer, encodes the most interesting ones
// into a packet stream and sends it, and applies received streams to
// component sinks on the other side.
//
// A stream payload is
//
//	[u32 tick] record* [u32 0xFFFFFFFF]
//
// where a record is [u32 entity][u8 count] followed by count components,
// each [u16 component id][fields]. A count of 0xFF marks a despawn and has
// no body.
package replication

import (
	"errors"
	"fmt"

	"github.com/QYUbit/replix/pkg/codec"
)

const (
	EndOfStream   uint32 = 0xFFFFFFFF
	DespawnMarker uint8  = 0xFF
	// MaxComponents is the most components one record can carry.
	MaxComponents = int(DespawnMarker) - 1

	recordHeaderSize = 5
)

var ErrTrailingData = errors.New("replication: data after end of stream")

// visitor receives the records of a payload in order. component must
// consume exactly one encoded value from r.
type visitor struct {
	despawn   func(entity uint32)
	component func(entity uint32, c *Component, r codec.Reader) error
}

// walk parses payload and returns its tick. Short input yields
// io.ErrUnexpectedEOF, which for an assembled prefix means more packets are
// due.
func walk(reg *Registry, payload []byte, v visitor) (uint32, error) {
	r := codec.NewBufferFrom(payload)
	tick, err := r.ReadU32()
	if err != nil {
		return 0, err
	}

	for {
		entity, err := r.ReadU32()
		if err != nil {
			return tick, err
		}
		if entity == EndOfStream {
			if r.Remaining() != 0 {
				return tick, fmt.Errorf("%w: %d bytes", ErrTrailingData, r.Remaining())
			}
			return tick, nil
		}

		count, err := r.ReadU8()
		if err != nil {
			return tick, err
		}
		if count == DespawnMarker {
			v.despawn(entity)
			continue
		}

		for i := 0; i < int(count); i++ {
			id, err := r.ReadU16()
			if err != nil {
				return tick, err
			}
			c, ok := reg.Lookup(id)
			if !ok {
				return tick, ErrUnknownComponent{ID: id}
			}
			if err := v.component(entity, c, r); err != nil {
				return tick, fmt.Errorf("entity %d component %s: %w", entity, c.Name, err)
			}
		}
	}
}

var skipVisitor = visitor{
	despawn: func(uint32) {},
	component: func(_ uint32, c *Component, r codec.Reader) error {
		return c.Codec.Skip(r)
	},
}

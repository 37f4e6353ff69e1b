// Package codec compiles declarative schemas into matched binary encoders
// and decoders.
//
// A compiled Codec is immutable and safe for concurrent use: all cursor
// state lives in the Reader or Writer passed to it. Numeric leaves are fixed
// width little-endian; strings are a u32 byte length followed by the raw
// UTF-8 bytes.
//
// Decode supports a skip mode for receivers that share a stream with other
// observers: when the target slot is absent and create is false, the value
// is consumed without allocating or touching the sink, so the cursor stays
// aligned for the next record.
package codec

import (
	"fmt"
	"sync"
)

type (
	encodeFunc func(w Writer, v any) error
	decodeFunc func(r Reader, dst any) (any, error)
	skipFunc   func(r Reader) error
	sizeFunc   func(v any) (int, error)
)

// Codec is a compiled encode/decode pair for one schema shape.
type Codec struct {
	schema *Schema
	key    string
	fixed  int // -1 when variable width

	encode encodeFunc
	decode decodeFunc
	skip   skipFunc
	size   sizeFunc
}

// Schema returns the schema the codec was compiled from.
func (c *Codec) Schema() *Schema {
	return c.schema
}

// FixedSize returns the encoded width when it does not depend on the value.
func (c *Codec) FixedSize() (int, bool) {
	return c.fixed, c.fixed >= 0
}

// Encode writes v in schema declaration order. A scalar may be passed bare
// or wrapped in a *Cell.
func (c *Codec) Encode(w Writer, v any) error {
	return c.encode(w, c.unwrap(v))
}

// Size returns the number of bytes Encode would write for v.
func (c *Codec) Size(v any) (int, error) {
	if c.fixed >= 0 {
		return c.fixed, nil
	}
	return c.size(c.unwrap(v))
}

func (c *Codec) unwrap(v any) any {
	if cell, ok := v.(*Cell); ok && c.schema.kind != KindRecord {
		return cell.Value
	}
	return v
}

// Skip consumes one encoded value without materializing it.
func (c *Codec) Skip(r Reader) error {
	return c.skip(r)
}

// Decode reads one value into sink at slot.
//
// A present value is updated in place. An absent value is allocated and
// stored when create is set, and skipped otherwise. A present value of the
// wrong shape is skipped and reported as ErrShapeMismatch. A short read while
// updating in place may leave the value partially written.
func (c *Codec) Decode(r Reader, slot uint32, sink Sink, create bool) error {
	cur, ok := sink.Lookup(slot)
	if !ok {
		if !create {
			return c.skip(r)
		}
		v, err := c.decode(r, nil)
		if err != nil {
			return err
		}
		if c.schema.kind != KindRecord {
			v = &Cell{Value: v}
		}
		sink.Store(slot, v)
		return nil
	}

	if c.schema.kind != KindRecord {
		cell, ok := cur.(*Cell)
		if !ok {
			return c.mismatch(r, slot, cur, "*codec.Cell")
		}
		v, err := c.decode(r, nil)
		if err != nil {
			return err
		}
		cell.Value = v
		return nil
	}

	if _, ok := cur.(Object); !ok {
		return c.mismatch(r, slot, cur, "codec.Object")
	}
	_, err := c.decode(r, cur)
	return err
}

// mismatch consumes the value so the reader stays aligned on the next one.
func (c *Codec) mismatch(r Reader, slot uint32, cur any, want string) error {
	if err := c.skip(r); err != nil {
		return err
	}
	return fmt.Errorf("%w: slot %d holds %T, want %s", ErrShapeMismatch, slot, cur, want)
}

// Cache memoizes compiled codecs by schema shape.
type Cache struct {
	mu     sync.RWMutex
	codecs map[uint64][]*Codec
}

func NewCache() *Cache {
	return &Cache{codecs: make(map[uint64][]*Codec)}
}

var defaultCache = NewCache()

// Compile returns the process wide codec for the shape of s.
func Compile(s *Schema) (*Codec, error) {
	return defaultCache.Compile(s)
}

// MustCompile is like Compile but panics on an invalid schema.
func MustCompile(s *Schema) *Codec {
	c, err := Compile(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Compile returns the cached codec for the shape of s, compiling it on first
// use. Structurally identical schemas share one Codec.
func (cc *Cache) Compile(s *Schema) (*Codec, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	key := s.String()
	fp := s.Fingerprint()

	cc.mu.RLock()
	c := cc.lookup(fp, key)
	cc.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	if c := cc.lookup(fp, key); c != nil {
		return c, nil
	}

	c = compile(s)
	c.key = key
	cc.codecs[fp] = append(cc.codecs[fp], c)
	return c, nil
}

// Len returns the number of distinct compiled shapes.
func (cc *Cache) Len() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	n := 0
	for _, cs := range cc.codecs {
		n += len(cs)
	}
	return n
}

func (cc *Cache) lookup(fp uint64, key string) *Codec {
	for _, c := range cc.codecs[fp] {
		if c.key == key {
			return c
		}
	}
	return nil
}

func compile(s *Schema) *Codec {
	if s.kind != KindRecord {
		return &Codec{
			schema: s,
			fixed:  fixedSize(s),
			encode: scalarEncoder(s.kind),
			decode: scalarDecoder(s.kind),
			skip:   scalarSkipper(s.kind),
			size:   scalarSizer(s.kind),
		}
	}

	children := make([]*Codec, len(s.fields))
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		children[i] = compile(f.Schema)
		names[i] = f.Name
	}

	c := &Codec{schema: s, fixed: fixedSize(s)}

	c.encode = func(w Writer, v any) error {
		rec, ok := v.(Object)
		if !ok {
			return fmt.Errorf("%w: got %T, want codec.Object", ErrShapeMismatch, v)
		}
		for i, child := range children {
			fv, ok := rec[names[i]]
			if !ok {
				return fmt.Errorf("%w: missing field %q", ErrShapeMismatch, names[i])
			}
			if err := child.encode(w, fv); err != nil {
				return fmt.Errorf("field %q: %w", names[i], err)
			}
		}
		return nil
	}

	c.decode = func(r Reader, dst any) (any, error) {
		var rec Object
		if dst == nil {
			rec = make(Object, len(children))
		} else {
			var ok bool
			if rec, ok = dst.(Object); !ok {
				return nil, fmt.Errorf("%w: got %T, want codec.Object", ErrShapeMismatch, dst)
			}
		}
		for i, child := range children {
			var prev any
			if child.schema.kind == KindRecord {
				prev = rec[names[i]]
			}
			v, err := child.decode(r, prev)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", names[i], err)
			}
			rec[names[i]] = v
		}
		return rec, nil
	}

	if c.fixed >= 0 {
		n := c.fixed
		c.skip = func(r Reader) error { return r.Skip(n) }
	} else {
		c.skip = func(r Reader) error {
			for _, child := range children {
				if err := child.skip(r); err != nil {
					return err
				}
			}
			return nil
		}
	}

	c.size = func(v any) (int, error) {
		rec, ok := v.(Object)
		if !ok {
			return 0, fmt.Errorf("%w: got %T, want codec.Object", ErrShapeMismatch, v)
		}
		total := 0
		for i, child := range children {
			n, err := child.Size(rec[names[i]])
			if err != nil {
				return 0, fmt.Errorf("field %q: %w", names[i], err)
			}
			total += n
		}
		return total, nil
	}

	return c
}

func fixedSize(s *Schema) int {
	if s.kind != KindRecord {
		if n := s.kind.Size(); n > 0 {
			return n
		}
		return -1
	}
	total := 0
	for _, f := range s.fields {
		n := fixedSize(f.Schema)
		if n < 0 {
			return -1
		}
		total += n
	}
	return total
}

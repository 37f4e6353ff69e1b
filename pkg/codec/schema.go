package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Schema describes the binary shape of a value: either a scalar leaf or an
// ordered record of named fields.
type Schema struct {
	kind   Kind
	fields []Field
}

// Field is a named member of a record schema.
type Field struct {
	Name   string
	Schema *Schema
}

// Scalar returns a leaf schema of the given kind.
func Scalar(kind Kind) *Schema {
	return &Schema{kind: kind}
}

// Record returns a branch schema. Field order is the wire order.
func Record(fields ...Field) *Schema {
	return &Schema{kind: KindRecord, fields: fields}
}

// F is shorthand for a Field.
func F(name string, schema *Schema) Field {
	return Field{Name: name, Schema: schema}
}

func (s *Schema) Kind() Kind {
	return s.kind
}

// Fields returns the record fields in declaration order. The slice must not
// be modified.
func (s *Schema) Fields() []Field {
	return s.fields
}

// Validate checks that s is a well formed tree.
func (s *Schema) Validate() error {
	return s.validate("")
}

func (s *Schema) validate(path string) error {
	if s == nil {
		return fmt.Errorf("%w: nil schema at %q", ErrInvalidSchema, path)
	}
	if s.kind.Scalar() {
		return nil
	}
	if s.kind != KindRecord {
		return fmt.Errorf("%w: %v at %q", ErrUnknownKind, s.kind, path)
	}
	if len(s.fields) == 0 {
		return fmt.Errorf("%w: empty record at %q", ErrInvalidSchema, path)
	}

	seen := make(map[string]struct{}, len(s.fields))
	for _, f := range s.fields {
		if f.Name == "" {
			return fmt.Errorf("%w: unnamed field in %q", ErrInvalidSchema, path)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: duplicate field %q in %q", ErrInvalidSchema, f.Name, path)
		}
		seen[f.Name] = struct{}{}

		if err := f.Schema.validate(joinPath(path, f.Name)); err != nil {
			return err
		}
	}
	return nil
}

// String returns the canonical form of s, e.g. {x:f64,y:f64}.
func (s *Schema) String() string {
	var sb strings.Builder
	s.canonical(&sb)
	return sb.String()
}

func (s *Schema) canonical(sb *strings.Builder) {
	if s == nil {
		sb.WriteString("<nil>")
		return
	}
	if s.kind != KindRecord {
		sb.WriteString(s.kind.String())
		return
	}
	sb.WriteByte('{')
	for i, f := range s.fields {
		if i > 0 {
			sb.WriteByte(',')
		}
		if strings.ContainsAny(f.Name, `{}:,"`) {
			sb.WriteString(strconv.Quote(f.Name))
		} else {
			sb.WriteString(f.Name)
		}
		sb.WriteByte(':')
		f.Schema.canonical(sb)
	}
	sb.WriteByte('}')
}

// Fingerprint is a structural hash: schemas with the same shape and field
// order share a fingerprint.
func (s *Schema) Fingerprint() uint64 {
	return xxhash.Sum64String(s.String())
}

// ParseSchema reads the declarative JSON form of a schema. A leaf is a tag
// string ("f64"); a record is an object whose key order is the field order.
func ParseSchema(data []byte) (*Schema, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	s, err := parseSchema(dec, "")
	if err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidSchema)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseSchema(dec *json.Decoder, path string) (*Schema, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	switch v := tok.(type) {
	case string:
		kind, err := ParseKind(v)
		if err != nil {
			return nil, fmt.Errorf("at %q: %w", path, err)
		}
		return Scalar(kind), nil

	case json.Delim:
		if v != '{' {
			return nil, fmt.Errorf("%w: unexpected %v at %q", ErrInvalidSchema, v, path)
		}
		var fields []Field
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
			}
			name, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("%w: non-string key at %q", ErrInvalidSchema, path)
			}
			child, err := parseSchema(dec, joinPath(path, name))
			if err != nil {
				return nil, err
			}
			fields = append(fields, F(name, child))
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
		}
		return Record(fields...), nil
	}

	return nil, fmt.Errorf("%w: unexpected %v at %q", ErrInvalidSchema, tok, path)
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

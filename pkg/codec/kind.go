package codec

import "fmt"

// Kind tags a schema leaf with its wire encoding. KindRecord marks a branch.
type Kind uint8

const (
	KindRecord Kind = iota
	I8
	I16
	I32
	I64
	U8
	U16
	U32
	U64
	F32
	F64
	Bool
	String
)

var kindNames = [...]string{
	KindRecord: "record",
	I8:         "i8",
	I16:        "i16",
	I32:        "i32",
	I64:        "i64",
	U8:         "u8",
	U16:        "u16",
	U32:        "u32",
	U64:        "u64",
	F32:        "f32",
	F64:        "f64",
	Bool:       "bool",
	String:     "string",
}

var kindSizes = [...]int{
	I8:   1,
	I16:  2,
	I32:  4,
	I64:  8,
	U8:   1,
	U16:  2,
	U32:  4,
	U64:  8,
	F32:  4,
	F64:  8,
	Bool: 1,
}

// StringPrefixSize is the width of the u32 length prefix written before
// string bytes.
const StringPrefixSize = 4

// MaxStringLen bounds encoded and decoded strings.
const MaxStringLen = 64 << 10

// ParseKind resolves a scalar tag name such as "f64".
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if k != int(KindRecord) && n == name {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Size returns the fixed encoded width of k, or 0 for variable width kinds
// and records.
func (k Kind) Size() int {
	if int(k) < len(kindSizes) {
		return kindSizes[k]
	}
	return 0
}

// Scalar reports whether k is a leaf kind.
func (k Kind) Scalar() bool {
	return k > KindRecord && k <= String
}

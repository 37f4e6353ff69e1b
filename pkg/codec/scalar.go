package codec

import (
	"fmt"
	"math"
)

func scalarEncoder(kind Kind) encodeFunc {
	switch kind {
	case I8:
		return func(w Writer, v any) error {
			n, err := signed(v, math.MinInt8, math.MaxInt8)
			if err == nil {
				w.WriteU8(uint8(int8(n)))
			}
			return err
		}
	case I16:
		return func(w Writer, v any) error {
			n, err := signed(v, math.MinInt16, math.MaxInt16)
			if err == nil {
				w.WriteU16(uint16(int16(n)))
			}
			return err
		}
	case I32:
		return func(w Writer, v any) error {
			n, err := signed(v, math.MinInt32, math.MaxInt32)
			if err == nil {
				w.WriteU32(uint32(int32(n)))
			}
			return err
		}
	case I64:
		return func(w Writer, v any) error {
			n, err := signed(v, math.MinInt64, math.MaxInt64)
			if err == nil {
				w.WriteU64(uint64(n))
			}
			return err
		}
	case U8:
		return func(w Writer, v any) error {
			n, err := unsigned(v, math.MaxUint8)
			if err == nil {
				w.WriteU8(uint8(n))
			}
			return err
		}
	case U16:
		return func(w Writer, v any) error {
			n, err := unsigned(v, math.MaxUint16)
			if err == nil {
				w.WriteU16(uint16(n))
			}
			return err
		}
	case U32:
		return func(w Writer, v any) error {
			n, err := unsigned(v, math.MaxUint32)
			if err == nil {
				w.WriteU32(uint32(n))
			}
			return err
		}
	case U64:
		return func(w Writer, v any) error {
			n, err := unsigned(v, math.MaxUint64)
			if err == nil {
				w.WriteU64(n)
			}
			return err
		}
	case F32:
		return func(w Writer, v any) error {
			if f, ok := v.(float32); ok {
				w.WriteF32(f)
				return nil
			}
			f, err := float(v)
			if err == nil {
				w.WriteF32(float32(f))
			}
			return err
		}
	case F64:
		return func(w Writer, v any) error {
			f, err := float(v)
			if err == nil {
				w.WriteF64(f)
			}
			return err
		}
	case Bool:
		return func(w Writer, v any) error {
			b, ok := v.(bool)
			if !ok {
				return mismatch(v, kind)
			}
			if b {
				w.WriteU8(1)
			} else {
				w.WriteU8(0)
			}
			return nil
		}
	case String:
		return func(w Writer, v any) error {
			s, ok := v.(string)
			if !ok {
				return mismatch(v, kind)
			}
			if len(s) > MaxStringLen {
				return fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
			}
			w.WriteU32(uint32(len(s)))
			w.WriteBytes([]byte(s))
			return nil
		}
	}
	panic(fmt.Sprintf("codec: no encoder for %v", kind))
}

func scalarDecoder(kind Kind) decodeFunc {
	switch kind {
	case I8:
		return func(r Reader, _ any) (any, error) {
			v, err := r.ReadU8()
			return int8(v), err
		}
	case I16:
		return func(r Reader, _ any) (any, error) {
			v, err := r.ReadU16()
			return int16(v), err
		}
	case I32:
		return func(r Reader, _ any) (any, error) {
			v, err := r.ReadU32()
			return int32(v), err
		}
	case I64:
		return func(r Reader, _ any) (any, error) {
			v, err := r.ReadU64()
			return int64(v), err
		}
	case U8:
		return func(r Reader, _ any) (any, error) {
			return r.ReadU8()
		}
	case U16:
		return func(r Reader, _ any) (any, error) {
			return r.ReadU16()
		}
	case U32:
		return func(r Reader, _ any) (any, error) {
			return r.ReadU32()
		}
	case U64:
		return func(r Reader, _ any) (any, error) {
			return r.ReadU64()
		}
	case F32:
		return func(r Reader, _ any) (any, error) {
			return r.ReadF32()
		}
	case F64:
		return func(r Reader, _ any) (any, error) {
			return r.ReadF64()
		}
	case Bool:
		return func(r Reader, _ any) (any, error) {
			v, err := r.ReadU8()
			return v != 0, err
		}
	case String:
		return func(r Reader, _ any) (any, error) {
			n, err := readStringLen(r)
			if err != nil {
				return "", err
			}
			p, err := r.ReadBytes(n)
			if err != nil {
				return "", err
			}
			return string(p), nil
		}
	}
	panic(fmt.Sprintf("codec: no decoder for %v", kind))
}

func scalarSkipper(kind Kind) skipFunc {
	if kind == String {
		return func(r Reader) error {
			n, err := readStringLen(r)
			if err != nil {
				return err
			}
			return r.Skip(n)
		}
	}
	n := kind.Size()
	return func(r Reader) error {
		return r.Skip(n)
	}
}

func scalarSizer(kind Kind) sizeFunc {
	if kind == String {
		return func(v any) (int, error) {
			s, ok := v.(string)
			if !ok {
				return 0, mismatch(v, kind)
			}
			return StringPrefixSize + len(s), nil
		}
	}
	n := kind.Size()
	return func(any) (int, error) {
		return n, nil
	}
}

func readStringLen(r Reader) (int, error) {
	n, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if n > MaxStringLen {
		return 0, fmt.Errorf("%w: %d bytes", ErrStringTooLong, n)
	}
	return int(n), nil
}

func mismatch(v any, kind Kind) error {
	return fmt.Errorf("%w: got %T, want %v", ErrShapeMismatch, v, kind)
}

func signed(v any, lo, hi int64) (int64, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d", ErrOutOfRange, x)
		}
		n = int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d", ErrOutOfRange, x)
		}
		n = int64(x)
	default:
		return 0, fmt.Errorf("%w: got %T, want integer", ErrShapeMismatch, v)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfRange, n, lo, hi)
	}
	return n, nil
}

func unsigned(v any, hi uint64) (uint64, error) {
	var n uint64
	switch x := v.(type) {
	case uint:
		n = uint64(x)
	case uint8:
		n = uint64(x)
	case uint16:
		n = uint64(x)
	case uint32:
		n = uint64(x)
	case uint64:
		n = x
	case int, int8, int16, int32, int64:
		s, _ := signed(x, math.MinInt64, math.MaxInt64)
		if s < 0 {
			return 0, fmt.Errorf("%w: %d is negative", ErrOutOfRange, s)
		}
		n = uint64(s)
	default:
		return 0, fmt.Errorf("%w: got %T, want unsigned integer", ErrShapeMismatch, v)
	}
	if n > hi {
		return 0, fmt.Errorf("%w: %d exceeds %d", ErrOutOfRange, n, hi)
	}
	return n, nil
}

func float(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("%w: got %T, want float", ErrShapeMismatch, v)
}

package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Writer is the sink of an encode pass. Writes cannot fail; bounded
// writers record their own errors.
type Writer interface {
	WriteU8(v uint8)
	WriteU16(v uint16)
	WriteU32(v uint32)
	WriteU64(v uint64)
	WriteF32(v float32)
	WriteF64(v float64)
	WriteBytes(p []byte)
}

// Reader is the source of a decode pass. Short input yields
// io.ErrUnexpectedEOF and leaves the cursor where it was.
type Reader interface {
	ReadU8() (uint8, error)
	ReadU16() (uint16, error)
	ReadU32() (uint32, error)
	ReadU64() (uint64, error)
	ReadF32() (float32, error)
	ReadF64() (float64, error)
	ReadBytes(n int) ([]byte, error)
	Skip(n int) error
	Remaining() int
}

// Implements Reader & Writer
type Buffer struct {
	buf []byte
	pos int
}

func NewBuffer() *Buffer {
	return &Buffer{buf: make([]byte, 0, 256)}
}

// NewBufferFrom reads from data without copying it.
func NewBufferFrom(data []byte) *Buffer {
	return &Buffer{buf: data}
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer[pos=%d len=%d cap=%d]", b.pos, len(b.buf), cap(b.buf))
}

func (b *Buffer) Bytes() []byte {
	return b.buf
}

func (b *Buffer) Len() int {
	return len(b.buf)
}

// Position returns the read cursor.
func (b *Buffer) Position() int {
	return b.pos
}

func (b *Buffer) Remaining() int {
	return len(b.buf) - b.pos
}

func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.pos = 0
}

func (b *Buffer) WriteU8(v uint8) {
	b.buf = append(b.buf, v)
}

func (b *Buffer) WriteU16(v uint16) {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
}

func (b *Buffer) WriteU32(v uint32) {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
}

func (b *Buffer) WriteU64(v uint64) {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, v)
}

func (b *Buffer) WriteF32(v float32) {
	b.WriteU32(math.Float32bits(v))
}

func (b *Buffer) WriteF64(v float64) {
	b.WriteU64(math.Float64bits(v))
}

func (b *Buffer) WriteBytes(p []byte) {
	b.buf = append(b.buf, p...)
}

func (b *Buffer) take(n int) ([]byte, error) {
	if n < 0 || b.Remaining() < n {
		return nil, io.ErrUnexpectedEOF
	}
	p := b.buf[b.pos : b.pos+n]
	b.pos += n
	return p, nil
}

func (b *Buffer) ReadU8() (uint8, error) {
	p, err := b.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *Buffer) ReadU16() (uint16, error) {
	p, err := b.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (b *Buffer) ReadU32() (uint32, error) {
	p, err := b.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (b *Buffer) ReadU64() (uint64, error) {
	p, err := b.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

func (b *Buffer) ReadF32() (float32, error) {
	v, err := b.ReadU32()
	return math.Float32frombits(v), err
}

func (b *Buffer) ReadF64() (float64, error) {
	v, err := b.ReadU64()
	return math.Float64frombits(v), err
}

// ReadBytes returns the next n bytes, aliasing the buffer.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	return b.take(n)
}

func (b *Buffer) Skip(n int) error {
	_, err := b.take(n)
	return err
}

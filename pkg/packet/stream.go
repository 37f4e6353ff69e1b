// Package packet splits an encode pass into MTU bounded datagrams and puts
// them back together on the receiving side.
//
// Every packet starts with a 5 byte header: the u32 little-endian stream id
// followed by the 1-based packet index. A packet's index is fixed when the
// packet is opened and is never rewritten.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

const (
	HeaderSize = 5
	DefaultMTU = 1300
	// MinMTU holds the header and the widest scalar.
	MinMTU     = HeaderSize + 8
	MaxPackets = math.MaxUint8
)

var (
	ErrMTUTooSmall   = errors.New("packet: mtu cannot hold the widest scalar")
	ErrStreamTooLong = errors.New("packet: stream exceeds maximum packet count")
)

var lastStreamID atomic.Uint32

// Stream is a codec.Writer that segments everything written to it into
// packets of at most mtu bytes. A Stream is owned by a single encode pass and
// is not safe for concurrent use.
type Stream struct {
	id      uint32
	mtu     int
	packets [][]byte
	size    int
	err     error
}

func NewStream(mtu int) (*Stream, error) {
	if mtu < MinMTU {
		return nil, fmt.Errorf("%w: %d < %d", ErrMTUTooSmall, mtu, MinMTU)
	}
	s := &Stream{
		id:  lastStreamID.Add(1),
		mtu: mtu,
	}
	s.open()
	return s, nil
}

func (s *Stream) ID() uint32 {
	return s.id
}

// Len returns the number of payload bytes written so far.
func (s *Stream) Len() int {
	return s.size
}

func (s *Stream) PacketCount() int {
	return len(s.packets)
}

// Packets returns the packets in creation order, headers included. The
// slices alias the stream and must not be modified.
func (s *Stream) Packets() [][]byte {
	return s.packets
}

// Err returns the sticky error that stopped the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Send hands every packet to t in index order and stops at the first error.
func (s *Stream) Send(t Transport) error {
	if s.err != nil {
		return s.err
	}
	for i, p := range s.packets {
		if err := t.Send(p); err != nil {
			return fmt.Errorf("packet: send %d/%d of stream %d: %w", i+1, len(s.packets), s.id, err)
		}
	}
	return nil
}

func (s *Stream) open() bool {
	if len(s.packets) == MaxPackets {
		s.err = ErrStreamTooLong
		return false
	}
	p := make([]byte, HeaderSize, s.mtu)
	binary.LittleEndian.PutUint32(p, s.id)
	p[4] = byte(len(s.packets) + 1)
	s.packets = append(s.packets, p)
	return true
}

// reserve returns n writable bytes in one packet, opening a new packet when
// the current one cannot hold all of them.
func (s *Stream) reserve(n int) []byte {
	if s.err != nil {
		return nil
	}
	last := len(s.packets) - 1
	if len(s.packets[last])+n > s.mtu {
		if !s.open() {
			return nil
		}
		last++
	}
	cur := s.packets[last]
	at := len(cur)
	s.packets[last] = cur[:at+n]
	s.size += n
	return s.packets[last][at:]
}

func (s *Stream) WriteU8(v uint8) {
	if p := s.reserve(1); p != nil {
		p[0] = v
	}
}

func (s *Stream) WriteU16(v uint16) {
	if p := s.reserve(2); p != nil {
		binary.LittleEndian.PutUint16(p, v)
	}
}

func (s *Stream) WriteU32(v uint32) {
	if p := s.reserve(4); p != nil {
		binary.LittleEndian.PutUint32(p, v)
	}
}

func (s *Stream) WriteU64(v uint64) {
	if p := s.reserve(8); p != nil {
		binary.LittleEndian.PutUint64(p, v)
	}
}

func (s *Stream) WriteF32(v float32) {
	s.WriteU32(math.Float32bits(v))
}

func (s *Stream) WriteF64(v float64) {
	s.WriteU64(math.Float64bits(v))
}

// WriteBytes fills the current packet and continues into new ones, so raw
// bytes may straddle a packet boundary.
func (s *Stream) WriteBytes(p []byte) {
	for len(p) > 0 && s.err == nil {
		last := len(s.packets) - 1
		free := s.mtu - len(s.packets[last])
		if free == 0 {
			if !s.open() {
				return
			}
			continue
		}
		n := min(free, len(p))
		s.packets[last] = append(s.packets[last], p[:n]...)
		s.size += n
		p = p[n:]
	}
}

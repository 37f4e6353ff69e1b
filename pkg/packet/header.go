package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrShortPacket  = errors.New("packet: shorter than header")
	ErrInvalidIndex = errors.New("packet: index must be 1-based")
)

type Header struct {
	StreamID uint32
	Index    uint8
}

func (h Header) String() string {
	return fmt.Sprintf("stream %d #%d", h.StreamID, h.Index)
}

// ParseHeader splits p into its header and payload. The payload aliases p.
func ParseHeader(p []byte) (Header, []byte, error) {
	if len(p) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(p))
	}
	h := Header{
		StreamID: binary.LittleEndian.Uint32(p),
		Index:    p[4],
	}
	if h.Index == 0 {
		return h, nil, fmt.Errorf("%w: stream %d", ErrInvalidIndex, h.StreamID)
	}
	return h, p[HeaderSize:], nil
}

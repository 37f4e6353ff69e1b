package packet

import (
	"slices"
)

type partial struct {
	parts map[uint8][]byte
	max   uint8
	size  int
}

// Reassembler groups inbound packets by stream id and orders them by index.
// It keeps at most maxStreams incomplete streams; the stream that started
// first is evicted to make room for a new one.
type Reassembler struct {
	maxStreams int
	streams    map[uint32]*partial
	arrival    []uint32
}

func NewReassembler(maxStreams int) *Reassembler {
	return &Reassembler{
		maxStreams: max(maxStreams, 1),
		streams:    make(map[uint32]*partial),
	}
}

// Push stores a copy of the payload of p and returns its stream id.
// Duplicate packets are ignored.
func (r *Reassembler) Push(p []byte) (uint32, error) {
	h, payload, err := ParseHeader(p)
	if err != nil {
		return 0, err
	}

	st, ok := r.streams[h.StreamID]
	if !ok {
		if len(r.streams) >= r.maxStreams {
			r.Drop(r.arrival[0])
		}
		st = &partial{parts: make(map[uint8][]byte)}
		r.streams[h.StreamID] = st
		r.arrival = append(r.arrival, h.StreamID)
	}
	if _, dup := st.parts[h.Index]; dup {
		return h.StreamID, nil
	}

	st.parts[h.Index] = slices.Clone(payload)
	st.max = max(st.max, h.Index)
	st.size += len(payload)
	return h.StreamID, nil
}

// Assemble concatenates the payloads of id once packets 1 through the
// highest index seen have all arrived. The stream stays pending until
// dropped.
func (r *Reassembler) Assemble(id uint32) ([]byte, bool) {
	st, ok := r.streams[id]
	if !ok || len(st.parts) != int(st.max) {
		return nil, false
	}
	out := make([]byte, 0, st.size)
	for i := 1; i <= int(st.max); i++ {
		out = append(out, st.parts[uint8(i)]...)
	}
	return out, true
}

// Pending returns the ids of buffered streams in ascending order.
func (r *Reassembler) Pending() []uint32 {
	ids := slices.Clone(r.arrival)
	slices.Sort(ids)
	return ids
}

func (r *Reassembler) Drop(id uint32) {
	if _, ok := r.streams[id]; !ok {
		return
	}
	delete(r.streams, id)
	if i := slices.Index(r.arrival, id); i >= 0 {
		r.arrival = slices.Delete(r.arrival, i, i+1)
	}
}

func (r *Reassembler) Len() int {
	return len(r.streams)
}

package routing

import (
	"errors"
	"strings"
)

var (
	// ErrHopIndexUnderflow is returned when retreating a header already at its first hop.
	ErrHopIndexUnderflow = errors.New("hop index underflow")
	// ErrOutOfBounds is returned when a requested hop range exceeds the route.
	ErrOutOfBounds = errors.New("hop range out of bounds")
)

// Header is a source routing header: the full route chosen by the sender and
// a cursor pointing at the hop currently processing the packet.
//
// Hops[0] is the source of the route and Hops[len(Hops)-1] its destination.
// The header is valid only while HopIndex < len(Hops).
type Header struct {
	Hops     []NodeID `json:"hops"`
	HopIndex int      `json:"hop_index"`
}

// NewHeader creates a header over hops with the given cursor.
func NewHeader(hops []NodeID, hopIndex int) Header {
	if hopIndex < 0 {
		hopIndex = 0
	}
	return Header{Hops: hops, HopIndex: hopIndex}
}

// Initialize creates a header whose cursor points at the source.
func Initialize(hops []NodeID) Header {
	return NewHeader(hops, 0)
}

// WithFirstHop creates a header whose cursor points at the hop after the
// source. It is used when the creator is itself hops[0].
func WithFirstHop(hops []NodeID) Header {
	return NewHeader(hops, 1)
}

// Len returns the number of hops of the route.
func (h Header) Len() int {
	return len(h.Hops)
}

// IsEmpty reports whether the route has no hops.
func (h Header) IsEmpty() bool {
	return len(h.Hops) == 0
}

// IsValid reports whether the cursor points inside the route.
func (h Header) IsValid() bool {
	return h.HopIndex >= 0 && h.HopIndex < len(h.Hops)
}

// IsFirstHop reports whether the cursor points at the source.
func (h Header) IsFirstHop() bool {
	return h.IsValid() && h.HopIndex == 0
}

// IsLastHop reports whether the cursor points at the destination.
func (h Header) IsLastHop() bool {
	return h.IsValid() && h.HopIndex == len(h.Hops)-1
}

func (h Header) hop(i int) (NodeID, bool) {
	if i < 0 || i >= len(h.Hops) {
		return 0, false
	}
	return h.Hops[i], true
}

// CurrentHop returns the hop at the cursor.
func (h Header) CurrentHop() (NodeID, bool) {
	return h.hop(h.HopIndex)
}

// NextHop returns the hop after the cursor.
func (h Header) NextHop() (NodeID, bool) {
	return h.hop(h.HopIndex + 1)
}

// PreviousHop returns the hop before the cursor.
func (h Header) PreviousHop() (NodeID, bool) {
	return h.hop(h.HopIndex - 1)
}

// Source returns the first hop of the route.
func (h Header) Source() (NodeID, bool) {
	return h.hop(0)
}

// Destination returns the last hop of the route.
func (h Header) Destination() (NodeID, bool) {
	return h.hop(len(h.Hops) - 1)
}

// Advance moves the cursor one hop forward.
func (h *Header) Advance() {
	h.HopIndex++
}

// Retreat moves the cursor one hop backwards. Callers are expected to check
// IsFirstHop beforehand.
func (h *Header) Retreat() error {
	if h.HopIndex <= 0 {
		return ErrHopIndexUnderflow
	}
	h.HopIndex--
	return nil
}

// ResetHopIndex moves the cursor back to the source.
func (h *Header) ResetHopIndex() {
	h.HopIndex = 0
}

// AppendHop appends id as the new destination of the route.
func (h *Header) AppendHop(id NodeID) {
	h.Hops = append(h.Hops, id)
}

// Clone returns a deep copy of h.
func (h Header) Clone() Header {
	return Header{Hops: append([]NodeID(nil), h.Hops...), HopIndex: h.HopIndex}
}

// Reverse reverses the route in place. The hop at the cursor stays at the
// cursor, which turns a delivery route into its return route.
func (h *Header) Reverse() {
	n := len(h.Hops)
	if n == 0 {
		return
	}
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		h.Hops[i], h.Hops[j] = h.Hops[j], h.Hops[i]
	}
	if h.HopIndex < n {
		h.HopIndex = n - h.HopIndex - 1
	}
}

// Reversed returns a reversed copy of h.
func (h Header) Reversed() Header {
	r := h.Clone()
	r.Reverse()
	return r
}

// SubRoute extracts the hops in [start, end). When start > end the hops are
// walked backwards, from index start down to index end+1, which yields the
// reversed slice. The cursor is rebased so that it keeps pointing at the same
// hop when that hop is part of the result, and is clamped to the closest end
// of the result otherwise.
func (h Header) SubRoute(start, end int) (Header, error) {
	if start <= end {
		if start < 0 || end > len(h.Hops) {
			return Header{}, ErrOutOfBounds
		}
		hops := append([]NodeID(nil), h.Hops[start:end]...)
		return Header{Hops: hops, HopIndex: clamp(h.HopIndex-start, len(hops))}, nil
	}

	if start >= len(h.Hops) || end < -1 {
		return Header{}, ErrOutOfBounds
	}
	hops := make([]NodeID, 0, start-end)
	for i := start; i > end; i-- {
		hops = append(hops, h.Hops[i])
	}
	return Header{Hops: hops, HopIndex: clamp(start-h.HopIndex, len(hops))}, nil
}

func clamp(i, n int) int {
	switch {
	case i < 0 || n == 0:
		return 0
	case i >= n:
		return n - 1
	default:
		return i
	}
}

// WithoutLoops returns the route with every loop removed. Hops are scanned
// left to right; a hop already present truncates the built route back to its
// earlier occurrence before being appended again. A cursor that pointed inside
// a removed loop ends up on the hop that closed the loop.
func (h Header) WithoutLoops() Header {
	hops := make([]NodeID, 0, len(h.Hops))
	pos := make(map[NodeID]int, len(h.Hops))
	collapsed := make([]int, len(h.Hops))

	for i, id := range h.Hops {
		p, ok := pos[id]
		if ok {
			for _, dropped := range hops[p:] {
				delete(pos, dropped)
			}
			hops = hops[:p]
			for k := 0; k < i; k++ {
				if collapsed[k] > p {
					collapsed[k] = p
				}
			}
		} else {
			p = len(hops)
		}
		pos[id] = p
		hops = append(hops, id)
		collapsed[i] = p
	}

	if len(hops) == 0 {
		return Header{}
	}
	out := Header{Hops: hops, HopIndex: len(hops)}
	if h.IsValid() {
		out.HopIndex = collapsed[h.HopIndex]
	}
	return out
}

// HasLoops reports whether a node appears more than once in the route.
func (h Header) HasLoops() bool {
	seen := make(map[NodeID]struct{}, len(h.Hops))
	for _, id := range h.Hops {
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}

// String renders the route, wrapping the current hop in parentheses:
// [ 1 -> (2) -> 3 ].
func (h Header) String() string {
	var b strings.Builder
	b.WriteString("[ ")
	for i, id := range h.Hops {
		if i > 0 {
			b.WriteString(" -> ")
		}
		if i == h.HopIndex {
			b.WriteString("(" + id.String() + ")")
		} else {
			b.WriteString(id.String())
		}
	}
	b.WriteString(" ]")
	return b.String()
}

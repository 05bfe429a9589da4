package packet

import (
	"fmt"
	"strings"

	"github.com/skycoin/skydrone/pkg/routing"
)

// TraceEntry is one hop recorded by a flood: the node and its role.
type TraceEntry struct {
	ID   routing.NodeID   `json:"id"`
	Kind routing.NodeKind `json:"kind"`
}

func (e TraceEntry) String() string {
	return fmt.Sprintf("%s(%s)", e.Kind, e.ID)
}

// Trace is the ordered path followed by a flood.
type Trace []TraceEntry

// IDs returns the node ids of the trace.
func (t Trace) IDs() []routing.NodeID {
	ids := make([]routing.NodeID, len(t))
	for i, e := range t {
		ids[i] = e.ID
	}
	return ids
}

// Clone returns a copy of t.
func (t Trace) Clone() Trace {
	if t == nil {
		return nil
	}
	return append(Trace(nil), t...)
}

func (t Trace) String() string {
	parts := make([]string, len(t))
	for i, e := range t {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// FloodRequest explores the network on behalf of the initiator.
type FloodRequest struct {
	FloodID     uint64         `json:"flood_id"`
	InitiatorID routing.NodeID `json:"initiator_id"`
	PathTrace   Trace          `json:"path_trace"`
}

// Increment appends a node to the path trace.
func (r *FloodRequest) Increment(id routing.NodeID, kind routing.NodeKind) {
	r.PathTrace = append(r.PathTrace, TraceEntry{ID: id, Kind: kind})
}

// Incremented returns a copy of r with the node appended to the path trace.
func (r FloodRequest) Incremented(id routing.NodeID, kind routing.NodeKind) FloodRequest {
	out := FloodRequest{FloodID: r.FloodID, InitiatorID: r.InitiatorID, PathTrace: r.PathTrace.Clone()}
	out.Increment(id, kind)
	return out
}

// Sender returns the last node of the path trace, which is the node the
// request was received from.
func (r FloodRequest) Sender() (routing.NodeID, bool) {
	if len(r.PathTrace) == 0 {
		return 0, false
	}
	return r.PathTrace[len(r.PathTrace)-1].ID, true
}

// Type implements Payload.
func (FloodRequest) Type() Type { return TypeFloodRequest }

func (r FloodRequest) clone() Payload {
	r.PathTrace = r.PathTrace.Clone()
	return r
}

func (r FloodRequest) String() string {
	return fmt.Sprintf("FloodRequest(%d from %s, trace: %s)", r.FloodID, r.InitiatorID, r.PathTrace)
}

// FloodResponse carries a completed path trace back to the initiator.
type FloodResponse struct {
	FloodID   uint64 `json:"flood_id"`
	PathTrace Trace  `json:"path_trace"`
}

// Type implements Payload.
func (FloodResponse) Type() Type { return TypeFloodResponse }

func (r FloodResponse) clone() Payload {
	r.PathTrace = r.PathTrace.Clone()
	return r
}

func (r FloodResponse) String() string {
	return fmt.Sprintf("FloodResponse(%d, trace: %s)", r.FloodID, r.PathTrace)
}

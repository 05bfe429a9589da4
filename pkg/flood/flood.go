// Package flood implements flood based topology discovery: building and
// answering flood requests on relays, and collecting responses on initiators.
package flood

import (
	"github.com/skycoin/skydrone/pkg/packet"
	"github.com/skycoin/skydrone/pkg/routing"
)

// NewRequest creates the request an initiator sends to all of its neighbors.
func NewRequest(floodID uint64, initiator routing.NodeID, kind routing.NodeKind) packet.FloodRequest {
	return packet.FloodRequest{
		FloodID:     floodID,
		InitiatorID: initiator,
		PathTrace:   packet.Trace{{ID: initiator, Kind: kind}},
	}
}

// Respond turns req into a response retracing the path trace back to the
// initiator. The returned header points at the responder, which is expected
// to be the last trace entry.
func Respond(req packet.FloodRequest, sessionID uint64) packet.Packet {
	ids := req.PathTrace.IDs()
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}

	h := routing.Initialize(ids)
	if dst, ok := h.Destination(); ok && dst != req.InitiatorID {
		h.AppendHop(req.InitiatorID)
	}

	return packet.NewFloodResponse(h, sessionID, packet.FloodResponse{
		FloodID:   req.FloodID,
		PathTrace: req.PathTrace.Clone(),
	})
}

type floodKey struct {
	initiator routing.NodeID
	floodID   uint64
}

// Tracker remembers which floods a relay already took part in. It is owned by
// a single relay and is not safe for concurrent use.
type Tracker struct {
	seen map[floodKey]struct{}
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[floodKey]struct{})}
}

// Observe records req and reports whether it is the first time its flood is seen.
func (t *Tracker) Observe(req packet.FloodRequest) bool {
	k := floodKey{initiator: req.InitiatorID, floodID: req.FloodID}
	if _, ok := t.seen[k]; ok {
		return false
	}
	t.seen[k] = struct{}{}
	return true
}

// Len returns the number of distinct floods observed.
func (t *Tracker) Len() int {
	return len(t.seen)
}

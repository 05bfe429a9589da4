// Package packet defines the atomic transport unit of the drone network and
// its closed set of payloads.
package packet

import (
	"fmt"

	"github.com/skycoin/skydrone/pkg/routing"
)

// Type represents the payload type of a Packet.
type Type byte

const (
	// TypeFragment is the payload type of a message fragment.
	TypeFragment Type = iota
	// TypeAck is the payload type of a fragment acknowledgment.
	TypeAck
	// TypeNack is the payload type of a negative acknowledgment.
	TypeNack
	// TypeFloodRequest is the payload type of a flood request.
	TypeFloodRequest
	// TypeFloodResponse is the payload type of a flood response.
	TypeFloodResponse
)

func (t Type) String() string {
	switch t {
	case TypeFragment:
		return "Fragment"
	case TypeAck:
		return "Ack"
	case TypeNack:
		return "Nack"
	case TypeFloodRequest:
		return "FloodRequest"
	case TypeFloodResponse:
		return "FloodResponse"
	default:
		return fmt.Sprintf("Unknown(%d)", byte(t))
	}
}

// Payload is implemented by Fragment, Ack, Nack, FloodRequest and FloodResponse only.
type Payload interface {
	Type() Type
	fmt.Stringer
	clone() Payload
}

// Packet is the unit relays forward. The header is consumed hop by hop, the
// session id correlates fragments with their acks and nacks and never changes
// across hops.
type Packet struct {
	Header    routing.Header
	SessionID uint64
	Payload   Payload
}

// NewFragmentPacket wraps a fragment into a Packet.
func NewFragmentPacket(h routing.Header, sessionID uint64, f Fragment) Packet {
	return Packet{Header: h, SessionID: sessionID, Payload: f}
}

// NewAck creates an acknowledgment packet for the given fragment.
func NewAck(h routing.Header, sessionID uint64, fragmentIndex uint64) Packet {
	return Packet{Header: h, SessionID: sessionID, Payload: Ack{FragmentIndex: fragmentIndex}}
}

// NewNack creates a negative acknowledgment packet.
func NewNack(h routing.Header, sessionID uint64, nack Nack) Packet {
	return Packet{Header: h, SessionID: sessionID, Payload: nack}
}

// NewFloodRequestPacket wraps a flood request into a Packet.
func NewFloodRequestPacket(h routing.Header, sessionID uint64, req FloodRequest) Packet {
	return Packet{Header: h, SessionID: sessionID, Payload: req}
}

// NewFloodResponse wraps a flood response into a Packet.
func NewFloodResponse(h routing.Header, sessionID uint64, resp FloodResponse) Packet {
	return Packet{Header: h, SessionID: sessionID, Payload: resp}
}

// Type returns the payload type of the packet.
func (p Packet) Type() Type {
	if p.Payload == nil {
		return Type(0xff)
	}
	return p.Payload.Type()
}

// FragmentIndex returns the fragment index carried by the payload. Packets that
// are not fragment related are considered as a whole and report 0.
func (p Packet) FragmentIndex() uint64 {
	switch pl := p.Payload.(type) {
	case Fragment:
		return pl.Index
	case Ack:
		return pl.FragmentIndex
	case Nack:
		return pl.FragmentIndex
	default:
		return 0
	}
}

// Clone returns a deep copy of p. Every packet put on the wire is expected to
// own its header.
func (p Packet) Clone() Packet {
	out := Packet{Header: p.Header.Clone(), SessionID: p.SessionID}
	if p.Payload != nil {
		out.Payload = p.Payload.clone()
	}
	return out
}

func (p Packet) String() string {
	return fmt.Sprintf("Packet(%d){header: %s, payload: %v}", p.SessionID, p.Header, p.Payload)
}

// Ack confirms delivery of one fragment.
type Ack struct {
	FragmentIndex uint64 `json:"fragment_index"`
}

// Type implements Payload.
func (Ack) Type() Type { return TypeAck }

func (a Ack) clone() Payload { return a }

func (a Ack) String() string {
	return fmt.Sprintf("Ack(%d)", a.FragmentIndex)
}

package packet

import (
	"fmt"

	"github.com/skycoin/skydrone/pkg/routing"
)

// NackType is the reason a packet was not delivered.
type NackType byte

const (
	// NackErrorInRouting means the next hop is not a neighbor of the reporting relay.
	NackErrorInRouting NackType = iota
	// NackDestinationIsDrone means the route terminated at a relay.
	NackDestinationIsDrone
	// NackDropped means the fragment was dropped on purpose.
	NackDropped
	// NackUnexpectedRecipient means the packet reached a node that is not the current hop.
	NackUnexpectedRecipient
)

func (t NackType) String() string {
	switch t {
	case NackErrorInRouting:
		return "ErrorInRouting"
	case NackDestinationIsDrone:
		return "DestinationIsDrone"
	case NackDropped:
		return "Dropped"
	case NackUnexpectedRecipient:
		return "UnexpectedRecipient"
	default:
		return fmt.Sprintf("Unknown(%d)", byte(t))
	}
}

// HasNode reports whether nacks of this type carry a node id.
func (t NackType) HasNode() bool {
	return t == NackErrorInRouting || t == NackUnexpectedRecipient
}

// Nack reports that a fragment, or a whole non-fragment packet, was not delivered.
// Node is only meaningful for ErrorInRouting (the missing neighbor) and
// UnexpectedRecipient (the reporting node).
type Nack struct {
	FragmentIndex uint64
	Kind          NackType
	Node          routing.NodeID
}

// ErrorInRoutingNack reports that node is not reachable from the reporting relay.
func ErrorInRoutingNack(fragmentIndex uint64, node routing.NodeID) Nack {
	return Nack{FragmentIndex: fragmentIndex, Kind: NackErrorInRouting, Node: node}
}

// DestinationIsDroneNack reports a route that terminates at a relay.
func DestinationIsDroneNack(fragmentIndex uint64) Nack {
	return Nack{FragmentIndex: fragmentIndex, Kind: NackDestinationIsDrone}
}

// DroppedNack reports a fragment dropped by loss simulation.
func DroppedNack(fragmentIndex uint64) Nack {
	return Nack{FragmentIndex: fragmentIndex, Kind: NackDropped}
}

// UnexpectedRecipientNack reports a packet received by node while it was not the current hop.
func UnexpectedRecipientNack(fragmentIndex uint64, node routing.NodeID) Nack {
	return Nack{FragmentIndex: fragmentIndex, Kind: NackUnexpectedRecipient, Node: node}
}

// Type implements Payload.
func (Nack) Type() Type { return TypeNack }

func (n Nack) clone() Payload { return n }

func (n Nack) String() string {
	if n.Kind.HasNode() {
		return fmt.Sprintf("Nack(%d, %s(%s))", n.FragmentIndex, n.Kind, n.Node)
	}
	return fmt.Sprintf("Nack(%d, %s)", n.FragmentIndex, n.Kind)
}

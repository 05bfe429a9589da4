package control

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/skycoin/skydrone/pkg/packet"
	"github.com/skycoin/skydrone/pkg/routing"
)

// EventType defines type of a node event.
type EventType byte

func (et EventType) String() string {
	switch et {
	case EventPacketForwarded:
		return "PacketForwarded"
	case EventPacketDropped:
		return "PacketDropped"
	case EventPacketReceivedAtRelay:
		return "PacketReceivedAtRelay"
	case EventCrashed:
		return "Crashed"
	case EventFloodTraceObserved:
		return "FloodTraceObserved"
	case EventCommandRejected:
		return "CommandRejected"
	}
	return fmt.Sprintf("Unknown(%d)", byte(et))
}

const (
	// EventPacketForwarded is emitted for every packet a node puts on a neighbor's channel.
	EventPacketForwarded EventType = iota
	// EventPacketDropped is emitted when a packet is discarded, either by loss
	// simulation or because it could not be delivered.
	EventPacketDropped
	// EventPacketReceivedAtRelay is emitted when a route terminates at a relay.
	EventPacketReceivedAtRelay
	// EventCrashed is emitted once a node processes Crash.
	EventCrashed
	// EventFloodTraceObserved is emitted when a node handles a flood request.
	EventFloodTraceObserved
	// EventCommandRejected is emitted when a command carries invalid configuration.
	EventCommandRejected
)

// AllEventTypes returns every event type.
func AllEventTypes() []EventType {
	return []EventType{
		EventPacketForwarded,
		EventPacketDropped,
		EventPacketReceivedAtRelay,
		EventCrashed,
		EventFloodTraceObserved,
		EventCommandRejected,
	}
}

// ParseEventType parses the name of an event type, case insensitive.
func ParseEventType(s string) (EventType, error) {
	for _, et := range AllEventTypes() {
		if strings.EqualFold(s, et.String()) {
			return et, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// MarshalJSON implements json.Marshaler.
func (et EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(et.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (et *EventType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseEventType(s)
	if err != nil {
		return err
	}
	*et = v
	return nil
}

// Event reports something a node did. Packet holds a copy of the packet
// involved, as it was handed to Peer for forwarded packets.
type Event struct {
	Node   routing.NodeID  `json:"node"`
	Type   EventType       `json:"type"`
	Packet *packet.Packet  `json:"packet,omitempty"`
	Peer   *routing.NodeID `json:"peer,omitempty"`
	Reason string          `json:"reason,omitempty"`
	Time   time.Time       `json:"time"`
}

// NewEvent creates an event stamped with the current time. p is cloned.
func NewEvent(node routing.NodeID, t EventType, p *packet.Packet, reason string) Event {
	ev := Event{Node: node, Type: t, Reason: reason, Time: time.Now()}
	if p != nil {
		c := p.Clone()
		ev.Packet = &c
	}
	return ev
}

// PacketForwarded reports p being sent to peer.
func PacketForwarded(node, peer routing.NodeID, p packet.Packet) Event {
	ev := NewEvent(node, EventPacketForwarded, &p, "")
	ev.Peer = &peer
	return ev
}

// PacketDropped reports p being discarded.
func PacketDropped(node routing.NodeID, p packet.Packet, reason string) Event {
	return NewEvent(node, EventPacketDropped, &p, reason)
}

// PacketReceivedAtRelay reports a route terminating at node.
func PacketReceivedAtRelay(node routing.NodeID, p packet.Packet) Event {
	return NewEvent(node, EventPacketReceivedAtRelay, &p, "")
}

// Crashed reports node processing Crash.
func Crashed(node routing.NodeID) Event {
	return NewEvent(node, EventCrashed, nil, "")
}

// FloodTraceObserved reports node handling a flood request.
func FloodTraceObserved(node routing.NodeID, p packet.Packet, reason string) Event {
	return NewEvent(node, EventFloodTraceObserved, &p, reason)
}

// CommandRejected reports an invalid command.
func CommandRejected(node routing.NodeID, cmd Command, err error) Event {
	return NewEvent(node, EventCommandRejected, nil, fmt.Sprintf("%s: %v", cmd, err))
}

func (ev Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s at %s", ev.Type, ev.Node)
	if ev.Peer != nil {
		fmt.Fprintf(&b, " to %s", *ev.Peer)
	}
	if ev.Packet != nil {
		fmt.Fprintf(&b, ": %s", ev.Packet)
	}
	if ev.Reason != "" {
		fmt.Fprintf(&b, " (%s)", ev.Reason)
	}
	return b.String()
}

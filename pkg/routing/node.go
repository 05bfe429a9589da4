// Package routing defines source routing related entities: node identities,
// the routing header carried by every packet and the endpoint route table.
package routing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NodeID identifies a simulated node. Ids are unique across the network.
type NodeID uint8

func (id NodeID) String() string {
	return strconv.Itoa(int(id))
}

// MarshalJSON implements json.Marshaler. It keeps []NodeID encoded as a list
// of numbers rather than as a byte string.
func (id NodeID) MarshalJSON() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *NodeID) UnmarshalJSON(b []byte) error {
	var v uint8
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*id = NodeID(v)
	return nil
}

// NodeKind is the role of a node in the network.
type NodeKind byte

const (
	// KindClient represents an endpoint originating requests.
	KindClient NodeKind = iota
	// KindDrone represents a forwarding-only relay.
	KindDrone
	// KindServer represents an endpoint answering requests.
	KindServer
)

func (k NodeKind) String() string {
	switch k {
	case KindClient:
		return "Client"
	case KindDrone:
		return "Drone"
	case KindServer:
		return "Server"
	}
	return fmt.Sprintf("Unknown(%d)", byte(k))
}

// IsEndpoint reports whether k originates or terminates traffic.
func (k NodeKind) IsEndpoint() bool {
	return k == KindClient || k == KindServer
}

// MarshalJSON implements json.Marshaler.
func (k NodeKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.ToLower(k.String()))
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *NodeKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	kind, err := ParseNodeKind(s)
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseNodeKind parses the lower or title case name of a NodeKind.
func ParseNodeKind(s string) (NodeKind, error) {
	switch strings.ToLower(s) {
	case "client":
		return KindClient, nil
	case "drone", "relay":
		return KindDrone, nil
	case "server":
		return KindServer, nil
	}
	return 0, fmt.Errorf("unknown node kind %q", s)
}

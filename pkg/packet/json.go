package packet

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/skycoin/skydrone/pkg/routing"
)

// ParseType parses the name of a payload type, case insensitive.
func ParseType(s string) (Type, error) {
	for t := TypeFragment; t <= TypeFloodResponse; t++ {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown packet type %q", s)
}

// ParseNackType parses the name of a nack type, case insensitive.
func ParseNackType(s string) (NackType, error) {
	for t := NackErrorInRouting; t <= NackUnexpectedRecipient; t++ {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown nack type %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Type) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

type fragmentJSON struct {
	Index  uint64 `json:"index"`
	Total  uint64 `json:"total"`
	Length uint8  `json:"length"`
	Data   []byte `json:"data"`
}

// MarshalJSON implements json.Marshaler. Only the used part of the buffer is encoded.
func (f Fragment) MarshalJSON() ([]byte, error) {
	return json.Marshal(fragmentJSON{Index: f.Index, Total: f.Total, Length: f.Length, Data: f.Bytes()})
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Fragment) UnmarshalJSON(b []byte) error {
	var v fragmentJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if int(v.Length) != len(v.Data) {
		return fmt.Errorf("fragment length %d does not match data size %d", v.Length, len(v.Data))
	}
	out, err := NewFragment(v.Index, v.Total, v.Data)
	if err != nil {
		return err
	}
	*f = out
	return nil
}

type nackJSON struct {
	FragmentIndex uint64          `json:"fragment_index"`
	Kind          string          `json:"kind"`
	Node          *routing.NodeID `json:"node,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (n Nack) MarshalJSON() ([]byte, error) {
	v := nackJSON{FragmentIndex: n.FragmentIndex, Kind: n.Kind.String()}
	if n.Kind.HasNode() {
		node := n.Node
		v.Node = &node
	}
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Nack) UnmarshalJSON(b []byte) error {
	var v nackJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	kind, err := ParseNackType(v.Kind)
	if err != nil {
		return err
	}
	*n = Nack{FragmentIndex: v.FragmentIndex, Kind: kind}
	if v.Node != nil {
		n.Node = *v.Node
	}
	return nil
}

type packetJSON struct {
	Header    routing.Header  `json:"header"`
	SessionID uint64          `json:"session_id"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalJSON implements json.Marshaler. The payload is tagged with its type.
func (p Packet) MarshalJSON() ([]byte, error) {
	if p.Payload == nil {
		return nil, fmt.Errorf("packet %d has no payload", p.SessionID)
	}
	raw, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(packetJSON{
		Header:    p.Header,
		SessionID: p.SessionID,
		Type:      p.Payload.Type(),
		Payload:   raw,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Packet) UnmarshalJSON(b []byte) error {
	var v packetJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	var (
		payload Payload
		err     error
	)
	switch v.Type {
	case TypeFragment:
		var f Fragment
		err = json.Unmarshal(v.Payload, &f)
		payload = f
	case TypeAck:
		var a Ack
		err = json.Unmarshal(v.Payload, &a)
		payload = a
	case TypeNack:
		var n Nack
		err = json.Unmarshal(v.Payload, &n)
		payload = n
	case TypeFloodRequest:
		var r FloodRequest
		err = json.Unmarshal(v.Payload, &r)
		payload = r
	case TypeFloodResponse:
		var r FloodResponse
		err = json.Unmarshal(v.Payload, &r)
		payload = r
	default:
		return fmt.Errorf("unknown packet type %d", v.Type)
	}
	if err != nil {
		return fmt.Errorf("invalid %s payload: %s", v.Type, err)
	}

	*p = Packet{Header: v.Header, SessionID: v.SessionID, Payload: payload}
	return nil
}

package packet

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skydrone/pkg/routing"
)

func TestNewFragment(t *testing.T) {
	f, err := NewFragment(0, 2, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, uint8(5), f.Length)
	assert.Equal(t, []byte("hello"), f.Bytes())
	assert.Equal(t, make([]byte, FragmentSize-5), f.Data[5:])

	_, err = NewFragment(2, 2, nil)
	assert.Equal(t, ErrFragmentIndex, err)

	_, err = NewFragment(0, 1, make([]byte, FragmentSize+1))
	assert.Equal(t, ErrFragmentTooLarge, err)
}

func TestFragmentFromBytes(t *testing.T) {
	data := bytes.Repeat([]byte{0xab}, FragmentSize+10)
	f, err := FragmentFromBytes(1, 3, data)
	require.NoError(t, err)
	assert.Equal(t, uint8(FragmentSize), f.Length)
	assert.Equal(t, data[:FragmentSize], f.Bytes())

	f, err = FragmentFromBytes(0, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), f.Length)
	assert.Empty(t, f.Bytes())
}

func TestFragmentBytesClampsLength(t *testing.T) {
	f := Fragment{Total: 1, Length: 200}
	f.Data[FragmentSize-1] = 0xff
	b := f.Bytes()
	assert.Len(t, b, FragmentSize)
	assert.Equal(t, byte(0xff), b[FragmentSize-1])
	assert.Contains(t, f.String(), "other 108 bytes")
}

func TestFragmentString(t *testing.T) {
	f, err := NewFragment(0, 2, []byte{0xde, 0xad})
	require.NoError(t, err)
	assert.Equal(t, "Fragment{index: 1 out of 2, data: 0xdead}", f.String())

	f, err = NewFragment(1, 2, bytes.Repeat([]byte{0x01}, 80))
	require.NoError(t, err)
	assert.Equal(t,
		"Fragment{index: 2 out of 2, data: 0x0101010101010101010101010101010101010101... + other 60 bytes}",
		f.String())
}

func TestPacketFragmentIndex(t *testing.T) {
	h := routing.WithFirstHop([]routing.NodeID{1, 2, 3})
	f, err := NewFragment(4, 5, []byte("x"))
	require.NoError(t, err)

	assert.Equal(t, uint64(4), NewFragmentPacket(h, 1, f).FragmentIndex())
	assert.Equal(t, uint64(7), NewAck(h, 1, 7).FragmentIndex())
	assert.Equal(t, uint64(3), NewNack(h, 1, DroppedNack(3)).FragmentIndex())
	assert.Equal(t, uint64(0), NewFloodResponse(h, 1, FloodResponse{FloodID: 9}).FragmentIndex())
}

func TestPacketClone(t *testing.T) {
	req := FloodRequest{FloodID: 1, InitiatorID: 1}
	req.Increment(1, routing.KindClient)
	p := NewFloodRequestPacket(routing.Initialize([]routing.NodeID{1, 2}), 5, req)

	c := p.Clone()
	assert.Equal(t, p, c)

	c.Header.Hops[0] = 9
	c.Payload.(FloodRequest).PathTrace[0].ID = 9
	assert.Equal(t, routing.NodeID(1), p.Header.Hops[0])
	assert.Equal(t, routing.NodeID(1), p.Payload.(FloodRequest).PathTrace[0].ID)
}

func TestFloodRequest(t *testing.T) {
	req := FloodRequest{FloodID: 3, InitiatorID: 1, PathTrace: Trace{{ID: 1, Kind: routing.KindClient}}}

	_, ok := FloodRequest{}.Sender()
	assert.False(t, ok)

	next := req.Incremented(11, routing.KindDrone)
	assert.Len(t, req.PathTrace, 1)
	assert.Equal(t, []routing.NodeID{1, 11}, next.PathTrace.IDs())

	sender, ok := next.Sender()
	require.True(t, ok)
	assert.Equal(t, routing.NodeID(11), sender)
}

func TestNackString(t *testing.T) {
	assert.Equal(t, "Nack(2, ErrorInRouting(7))", ErrorInRoutingNack(2, 7).String())
	assert.Equal(t, "Nack(0, Dropped)", DroppedNack(0).String())
	assert.Equal(t, "Nack(1, UnexpectedRecipient(4))", UnexpectedRecipientNack(1, 4).String())
	assert.Equal(t, "Nack(1, DestinationIsDrone)", DestinationIsDroneNack(1).String())
}

func TestPacketJSON(t *testing.T) {
	h := routing.WithFirstHop([]routing.NodeID{1, 11, 12, 21})
	f, err := NewFragment(0, 1, []byte("payload"))
	require.NoError(t, err)

	packets := []Packet{
		NewFragmentPacket(h, 1, f),
		NewAck(h, 2, 3),
		NewNack(h, 3, ErrorInRoutingNack(1, 12)),
		NewNack(h, 4, DroppedNack(0)),
		NewFloodRequestPacket(routing.Header{}, 5, FloodRequest{
			FloodID:     8,
			InitiatorID: 1,
			PathTrace:   Trace{{ID: 1, Kind: routing.KindClient}, {ID: 11, Kind: routing.KindDrone}},
		}),
		NewFloodResponse(h, 6, FloodResponse{FloodID: 8, PathTrace: Trace{{ID: 21, Kind: routing.KindServer}}}),
	}
	for _, p := range packets {
		t.Run(p.Type().String(), func(t *testing.T) {
			raw, err := json.Marshal(p)
			require.NoError(t, err)

			var got Packet
			require.NoError(t, json.Unmarshal(raw, &got))
			assert.Equal(t, p, got)
		})
	}

	_, err = json.Marshal(Packet{})
	assert.Error(t, err)

	var p Packet
	assert.Error(t, json.Unmarshal([]byte(`{"type":"Teleport","payload":{}}`), &p))
}

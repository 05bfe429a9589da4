package control

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skydrone/pkg/packet"
	"github.com/skycoin/skydrone/pkg/routing"
)

func TestValidateDropRate(t *testing.T) {
	for _, rate := range []float64{0, 0.25, 1} {
		assert.NoError(t, ValidateDropRate(rate), rate)
	}
	for _, rate := range []float64{-0.1, 1.01, math.NaN(), math.Inf(1)} {
		assert.Equal(t, ErrInvalidDropRate, ValidateDropRate(rate), rate)
	}
}

func TestCommandType(t *testing.T) {
	cmds := []Command{AddNeighbor{ID: 1}, RemoveNeighbor{ID: 1}, SetDropRate{Rate: 0.5}, Crash{}}
	want := []string{"AddNeighbor", "RemoveNeighbor", "SetDropRate", "Crash"}
	for i, cmd := range cmds {
		assert.Equal(t, want[i], cmd.Type().String())
	}
	assert.Equal(t, "SetDropRate(0.5)", SetDropRate{Rate: 0.5}.String())
	assert.Equal(t, "Unknown(9)", CommandType(9).String())
}

func TestEventClonesPacket(t *testing.T) {
	p := packet.NewAck(routing.WithFirstHop([]routing.NodeID{1, 2, 3}), 4, 0)
	ev := PacketForwarded(2, 3, p)

	p.Header.Hops[0] = 9
	require.NotNil(t, ev.Packet)
	assert.Equal(t, routing.NodeID(1), ev.Packet.Header.Hops[0])
	require.NotNil(t, ev.Peer)
	assert.Equal(t, routing.NodeID(3), *ev.Peer)
	assert.Equal(t, "PacketForwarded at 2 to 3: Packet(4){header: [ 9 -> (2) -> 3 ], payload: Ack(0)}",
		PacketForwarded(2, 3, p).String())
}

func TestEventJSON(t *testing.T) {
	p := packet.NewNack(routing.Initialize([]routing.NodeID{2, 1}), 7, packet.DroppedNack(0))
	events := []Event{
		PacketDropped(2, p, "dropped by loss simulation"),
		Crashed(3),
		CommandRejected(3, SetDropRate{Rate: 2}, ErrInvalidDropRate),
	}
	for _, ev := range events {
		raw, err := json.Marshal(ev)
		require.NoError(t, err)

		var got Event
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, ev.Type, got.Type)
		assert.Equal(t, ev.Node, got.Node)
		assert.Equal(t, ev.Packet, got.Packet)
		assert.Equal(t, ev.Reason, got.Reason)
		assert.True(t, ev.Time.Equal(got.Time))
	}

	_, err := ParseEventType("nope")
	assert.Error(t, err)
	assert.Contains(t, CommandRejected(1, Crash{}, errors.New("boom")).Reason, "Crash: boom")
}

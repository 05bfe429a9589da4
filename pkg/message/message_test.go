package message

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skydrone/pkg/packet"
	"github.com/skycoin/skydrone/pkg/routing"
)

func TestDisassemble(t *testing.T) {
	h := routing.WithFirstHop([]routing.NodeID{1, 11, 21})

	cases := []struct {
		size  int
		total int
	}{
		{0, 1},
		{1, 1},
		{packet.FragmentSize, 1},
		{packet.FragmentSize + 1, 2},
		{10 * packet.FragmentSize, 10},
	}
	for _, tc := range cases {
		data := bytes.Repeat([]byte{0x42}, tc.size)
		pkts := Disassemble(h, 3, data)
		require.Len(t, pkts, tc.total, "size %d", tc.size)

		for i, p := range pkts {
			f, ok := p.Payload.(packet.Fragment)
			require.True(t, ok)
			assert.Equal(t, uint64(i), f.Index)
			assert.Equal(t, uint64(tc.total), f.Total)
			assert.Equal(t, h, p.Header)
			assert.Equal(t, uint64(3), p.SessionID)
		}
	}

	pkts := Disassemble(h, 1, []byte("ab"))
	pkts[0].Header.Hops[0] = 9
	assert.Equal(t, routing.NodeID(1), h.Hops[0])
}

func TestAssembler(t *testing.T) {
	data := make([]byte, 5*packet.FragmentSize+17)
	_, err := rand.Read(data)
	require.NoError(t, err)

	pkts := Disassemble(routing.Header{}, 8, data)
	rand.Shuffle(len(pkts), func(i, j int) { pkts[i], pkts[j] = pkts[j], pkts[i] })

	a := NewAssembler()
	for i, p := range pkts {
		msg, done, err := a.Add(p)
		require.NoError(t, err)
		if i < len(pkts)-1 {
			assert.False(t, done)
			assert.Equal(t, 1, a.Pending())

			_, done, err = a.Add(p)
			require.NoError(t, err)
			assert.False(t, done, "duplicate completed the session")
			continue
		}
		require.True(t, done)
		assert.Equal(t, data, msg)
	}
	assert.Equal(t, 0, a.Pending())
}

func TestAssemblerEmptyMessage(t *testing.T) {
	a := NewAssembler()
	msg, done, err := a.Add(Disassemble(routing.Header{}, 1, nil)[0])
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []byte{}, msg)
}

func TestAssemblerErrors(t *testing.T) {
	a := NewAssembler()

	_, _, err := a.Add(packet.NewAck(routing.Header{}, 1, 0))
	assert.Error(t, err)

	f1, err := packet.NewFragment(0, 3, []byte("a"))
	require.NoError(t, err)
	f2, err := packet.NewFragment(1, 4, []byte("b"))
	require.NoError(t, err)

	_, _, err = a.Add(packet.NewFragmentPacket(routing.Header{}, 1, f1))
	require.NoError(t, err)
	_, _, err = a.Add(packet.NewFragmentPacket(routing.Header{}, 1, f2))
	assert.Equal(t, ErrTotalMismatch, err)

	_, _, err = a.Add(packet.NewFragmentPacket(routing.Header{}, 2, packet.Fragment{Index: 2, Total: 1}))
	assert.Equal(t, packet.ErrFragmentIndex, err)
}

func TestAssemblerLargeTotal(t *testing.T) {
	a := NewAssembler()

	f, err := packet.FragmentFromBytes(0, 1<<32, []byte("x"))
	require.NoError(t, err)
	msg, done, err := a.Add(packet.NewFragmentPacket(routing.Header{}, 1, f))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Nil(t, msg)
	assert.Equal(t, 1, a.Pending())
}

func TestAssemblerOversizedLength(t *testing.T) {
	a := NewAssembler()

	f := packet.Fragment{Index: 0, Total: 1, Length: 200}
	msg, done, err := a.Add(packet.NewFragmentPacket(routing.Header{}, 1, f))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Len(t, msg, packet.FragmentSize)
}

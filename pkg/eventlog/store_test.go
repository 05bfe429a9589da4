package eventlog

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skydrone/pkg/control"
	"github.com/skycoin/skydrone/pkg/packet"
	"github.com/skycoin/skydrone/pkg/routing"
)

func StoreSuite(t *testing.T, s Store) {
	t.Helper()

	p := packet.NewAck(routing.WithFirstHop([]routing.NodeID{21, 12, 11, 1}), 3, 0)
	events := []control.Event{
		control.PacketForwarded(12, 11, p),
		control.PacketDropped(12, p, "dropped"),
		control.Crashed(12),
		{Node: 4, Type: control.EventCommandRejected},
	}
	for i, ev := range events {
		seq, err := s.Record(ev)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), seq)
	}
	assert.Equal(t, len(events), s.Count())

	var got []Record
	require.NoError(t, s.Range(0, func(r Record) bool {
		got = append(got, r)
		return true
	}))
	require.Len(t, got, len(events))
	for i, r := range got {
		assert.Equal(t, uint64(i+1), r.Seq)
		assert.Equal(t, events[i].Type, r.Event.Type)
		assert.Equal(t, events[i].Node, r.Event.Node)
		assert.Equal(t, events[i].Packet, r.Event.Packet)
		assert.False(t, r.Event.Time.IsZero())
	}

	var seqs []uint64
	require.NoError(t, s.Range(2, func(r Record) bool {
		seqs = append(seqs, r.Seq)
		return len(seqs) < 2
	}))
	assert.Equal(t, []uint64{2, 3}, seqs)

	require.NoError(t, s.Close())
}

func TestInMemoryStore(t *testing.T) {
	StoreSuite(t, InMemoryStore())
}

func TestBoltDBStore(t *testing.T) {
	dir, err := ioutil.TempDir("", "eventlog")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, os.RemoveAll(dir))
	}()
	path := filepath.Join(dir, "trace.db")

	s, err := BoltDBStore(path, "run-1")
	require.NoError(t, err)
	StoreSuite(t, s)

	s, err = BoltDBStore(path, "run-2")
	require.NoError(t, err)
	_, err = s.Record(control.Crashed(1))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	runs, err := Runs(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"run-1", "run-2"}, runs)

	count := 0
	require.NoError(t, ReadRun(path, "run-1", 0, func(r Record) bool {
		count++
		return true
	}))
	assert.Equal(t, 4, count)

	assert.Error(t, ReadRun(path, "run-3", 0, func(Record) bool { return true }))
}

package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TableSuite(t *testing.T, tbl Table) {
	t.Helper()

	route := WithFirstHop([]NodeID{1, 2, 3, 4})
	require.NoError(t, tbl.SetRoute(4, route))
	assert.Equal(t, 1, tbl.Count())

	r, err := tbl.Route(4)
	require.NoError(t, err)
	assert.Equal(t, route, r)

	r.Hops[1] = 9
	r, err = tbl.Route(4)
	require.NoError(t, err)
	assert.Equal(t, route, r)

	route2 := WithFirstHop([]NodeID{1, 5, 6})
	require.NoError(t, tbl.SetRoute(6, route2))
	assert.Equal(t, 2, tbl.Count())

	require.NoError(t, tbl.SetRoute(4, route))
	assert.Equal(t, 2, tbl.Count())

	dsts := make([]NodeID, 0)
	require.NoError(t, tbl.RangeRoutes(func(dst NodeID, _ Header) bool {
		dsts = append(dsts, dst)
		return true
	}))
	require.ElementsMatch(t, []NodeID{4, 6}, dsts)

	_, err = tbl.Route(7)
	assert.Error(t, err)

	require.NoError(t, tbl.DeleteRoutes(4, 6, 7))
	assert.Equal(t, 0, tbl.Count())

	require.NoError(t, tbl.Close())
}

func TestInMemoryTable(t *testing.T) {
	TableSuite(t, InMemoryTable())
}

package routing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeKind(t *testing.T) {
	for _, kind := range []NodeKind{KindClient, KindDrone, KindServer} {
		raw, err := json.Marshal(kind)
		require.NoError(t, err)

		var got NodeKind
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, kind, got)
	}

	k, err := ParseNodeKind("relay")
	require.NoError(t, err)
	assert.Equal(t, KindDrone, k)
	assert.False(t, k.IsEndpoint())

	_, err = ParseNodeKind("satellite")
	assert.Error(t, err)
}

func TestHeaderJSON(t *testing.T) {
	h := WithFirstHop([]NodeID{1, 20, 3})
	raw, err := json.Marshal(h)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hops":[1,20,3],"hop_index":1}`, string(raw))

	var got Header
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, h, got)
}

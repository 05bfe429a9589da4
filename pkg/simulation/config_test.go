package simulation

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skydrone/pkg/routing"
	"github.com/skycoin/skydrone/pkg/util/pathutil"
)

func lineConfig() *Config {
	conf := &Config{
		Drones: []DroneConfig{
			{ID: 11, ConnectedNodeIDs: []routing.NodeID{1, 12, 13}},
			{ID: 12, ConnectedNodeIDs: []routing.NodeID{11, 13, 21}},
			{ID: 13, ConnectedNodeIDs: []routing.NodeID{11, 12}},
		},
		Clients: []EndpointConfig{{ID: 1, ConnectedDroneIDs: []routing.NodeID{11}}},
		Servers: []EndpointConfig{{ID: 21, ConnectedDroneIDs: []routing.NodeID{12}}},
	}
	conf.DiscoverTimeout = Duration(3 * time.Second)
	return conf
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, lineConfig().Validate())

	cases := []struct {
		name   string
		modify func(c *Config)
	}{
		{"empty", func(c *Config) { *c = Config{} }},
		{"duplicate_id", func(c *Config) { c.Servers[0].ID = 11 }},
		{"self_loop", func(c *Config) { c.Drones[2].ConnectedNodeIDs = append(c.Drones[2].ConnectedNodeIDs, 13) }},
		{"duplicate_link", func(c *Config) { c.Drones[2].ConnectedNodeIDs = append(c.Drones[2].ConnectedNodeIDs, 11) }},
		{"unknown_neighbor", func(c *Config) { c.Drones[2].ConnectedNodeIDs = append(c.Drones[2].ConnectedNodeIDs, 99) }},
		{"asymmetric_link", func(c *Config) { c.Drones[2].ConnectedNodeIDs = []routing.NodeID{11} }},
		{"endpoint_to_endpoint", func(c *Config) {
			c.Clients[0].ConnectedDroneIDs = append(c.Clients[0].ConnectedDroneIDs, 21)
			c.Servers[0].ConnectedDroneIDs = append(c.Servers[0].ConnectedDroneIDs, 1)
		}},
		{"pdr_too_high", func(c *Config) { c.Drones[0].PDR = 1.5 }},
		{"pdr_negative", func(c *Config) { c.Drones[0].PDR = -0.1 }},
		{"unknown_trace", func(c *Config) { c.Trace.Type = "file" }},
		{"boltdb_without_location", func(c *Config) { c.Trace.Type = TraceBoltDB }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conf := lineConfig()
			tc.modify(conf)
			assert.Error(t, conf.Validate())
		})
	}
}

func TestConfigEdges(t *testing.T) {
	assert.Equal(t, []Edge{{1, 11}, {11, 12}, {11, 13}, {12, 13}, {12, 21}}, lineConfig().Edges())

	kinds := lineConfig().Kinds()
	assert.Len(t, kinds, 5)
	assert.Equal(t, routing.KindClient, kinds[1])
	assert.Equal(t, routing.KindDrone, kinds[13])
	assert.Equal(t, routing.KindServer, kinds[21])
}

func TestReadConfig(t *testing.T) {
	dir, err := ioutil.TempDir("", "simulation")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, os.RemoveAll(dir))
	}()

	path := filepath.Join(dir, "skydrone-config.json")
	require.NoError(t, pathutil.WriteJSONConfig(DefaultConfig(), path, false))

	conf, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), conf)
	assert.Equal(t, Duration(5*time.Second), conf.DiscoverTimeout)

	bad := lineConfig()
	bad.Drones[0].PDR = 2
	require.NoError(t, pathutil.WriteJSONConfig(bad, path, true))
	_, err = ReadConfig(path)
	assert.Error(t, err)

	_, err = ReadConfig(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, Duration(90*time.Second), d)

	require.NoError(t, json.Unmarshal([]byte(`1000`), &d))
	assert.Equal(t, Duration(time.Microsecond), d)

	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	raw, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(raw))
}

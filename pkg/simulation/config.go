package simulation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/skycoin/skydrone/pkg/control"
	"github.com/skycoin/skydrone/pkg/routing"
)

// Trace store types.
const (
	TraceMemory = "memory"
	TraceBoltDB = "boltdb"
)

// DroneConfig describes a relay of the network.
type DroneConfig struct {
	ID               routing.NodeID   `json:"id"`
	PDR              float64          `json:"pdr"`
	ConnectedNodeIDs []routing.NodeID `json:"connected_node_ids"`
}

// EndpointConfig describes a client or a server of the network.
type EndpointConfig struct {
	ID                routing.NodeID   `json:"id"`
	ConnectedDroneIDs []routing.NodeID `json:"connected_drone_ids"`
}

// Config defines the topology of a simulated network and the way it is run.
type Config struct {
	Drones  []DroneConfig    `json:"drones"`
	Clients []EndpointConfig `json:"clients"`
	Servers []EndpointConfig `json:"servers"`

	Trace struct {
		Type     string `json:"type"`
		Location string `json:"location"`
	} `json:"trace"`

	HTTPAddr        string   `json:"http_addr"`
	DiscoverTimeout Duration `json:"discover_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout"` // time value, examples: 10s, 1m, etc

	LogLevel string `json:"log_level"`
}

// DefaultConfig returns a small network: two clients and two servers joined
// by a ring of five drones.
func DefaultConfig() *Config {
	conf := &Config{
		Drones: []DroneConfig{
			{ID: 11, PDR: 0.05, ConnectedNodeIDs: []routing.NodeID{12, 15, 1}},
			{ID: 12, PDR: 0.05, ConnectedNodeIDs: []routing.NodeID{11, 13, 2}},
			{ID: 13, PDR: 0, ConnectedNodeIDs: []routing.NodeID{12, 14, 21}},
			{ID: 14, PDR: 0.1, ConnectedNodeIDs: []routing.NodeID{13, 15, 21, 22}},
			{ID: 15, PDR: 0, ConnectedNodeIDs: []routing.NodeID{14, 11, 22}},
		},
		Clients: []EndpointConfig{
			{ID: 1, ConnectedDroneIDs: []routing.NodeID{11}},
			{ID: 2, ConnectedDroneIDs: []routing.NodeID{12}},
		},
		Servers: []EndpointConfig{
			{ID: 21, ConnectedDroneIDs: []routing.NodeID{13, 14}},
			{ID: 22, ConnectedDroneIDs: []routing.NodeID{14, 15}},
		},
		HTTPAddr:        "localhost:8090",
		DiscoverTimeout: Duration(5 * time.Second),
		ShutdownTimeout: Duration(10 * time.Second),
		LogLevel:        "info",
	}
	conf.Trace.Type = TraceMemory
	return conf
}

// ReadConfig reads and validates the config at path.
func ReadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to open config")
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.WithError(err).Warn("Failed to close config file")
		}
	}()

	conf := &Config{}
	if err := json.NewDecoder(f).Decode(conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to decode %s", path)
	}
	if err := conf.Validate(); err != nil {
		return nil, pkgerrors.Wrapf(err, "invalid config %s", path)
	}
	return conf, nil
}

// Kinds returns the kind of every configured node.
func (c *Config) Kinds() map[routing.NodeID]routing.NodeKind {
	kinds := make(map[routing.NodeID]routing.NodeKind, len(c.Drones)+len(c.Clients)+len(c.Servers))
	for _, d := range c.Drones {
		kinds[d.ID] = routing.KindDrone
	}
	for _, e := range c.Clients {
		kinds[e.ID] = routing.KindClient
	}
	for _, e := range c.Servers {
		kinds[e.ID] = routing.KindServer
	}
	return kinds
}

// Edges returns every configured link once, lower id first.
func (c *Config) Edges() []Edge {
	seen := make(map[Edge]struct{})
	var edges []Edge
	add := func(a routing.NodeID, ids []routing.NodeID) {
		for _, b := range ids {
			e := NewEdge(a, b)
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			edges = append(edges, e)
		}
	}
	for _, d := range c.Drones {
		add(d.ID, d.ConnectedNodeIDs)
	}
	for _, e := range c.Clients {
		add(e.ID, e.ConnectedDroneIDs)
	}
	for _, e := range c.Servers {
		add(e.ID, e.ConnectedDroneIDs)
	}
	return edges
}

// Validate checks that the config describes a consistent network: ids are
// unique, every link is declared on both ends and endpoints only attach to
// drones.
func (c *Config) Validate() error {
	if len(c.Drones)+len(c.Clients)+len(c.Servers) == 0 {
		return errors.New("no nodes configured")
	}

	kinds := make(map[routing.NodeID]routing.NodeKind)
	links := make(map[routing.NodeID][]routing.NodeID)
	declare := func(id routing.NodeID, kind routing.NodeKind, ids []routing.NodeID) error {
		if _, ok := kinds[id]; ok {
			return fmt.Errorf("node %s is declared more than once", id)
		}
		kinds[id] = kind
		links[id] = ids
		return nil
	}
	for _, d := range c.Drones {
		if err := control.ValidateDropRate(d.PDR); err != nil {
			return fmt.Errorf("drone %s: %v", d.ID, err)
		}
		if err := declare(d.ID, routing.KindDrone, d.ConnectedNodeIDs); err != nil {
			return err
		}
	}
	for _, e := range c.Clients {
		if err := declare(e.ID, routing.KindClient, e.ConnectedDroneIDs); err != nil {
			return err
		}
	}
	for _, e := range c.Servers {
		if err := declare(e.ID, routing.KindServer, e.ConnectedDroneIDs); err != nil {
			return err
		}
	}

	for id, ids := range links {
		seen := make(map[routing.NodeID]struct{}, len(ids))
		for _, n := range ids {
			if n == id {
				return fmt.Errorf("node %s is connected to itself", id)
			}
			if _, ok := seen[n]; ok {
				return fmt.Errorf("node %s lists %s more than once", id, n)
			}
			seen[n] = struct{}{}

			kind, ok := kinds[n]
			if !ok {
				return fmt.Errorf("node %s is connected to unknown node %s", id, n)
			}
			if kinds[id].IsEndpoint() && kind != routing.KindDrone {
				return fmt.Errorf("%s %s is connected to %s %s", kinds[id], id, kind, n)
			}
			if !contains(links[n], id) {
				return fmt.Errorf("link %s-%s is not declared by %s", id, n, n)
			}
		}
	}

	switch c.Trace.Type {
	case "", TraceMemory:
	case TraceBoltDB:
		if c.Trace.Location == "" {
			return errors.New("boltdb trace requires a location")
		}
	default:
		return fmt.Errorf("unknown trace type %q", c.Trace.Type)
	}
	return nil
}

func contains(ids []routing.NodeID, id routing.NodeID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Duration wraps around time.Duration to allow parsing from and to JSON
type Duration time.Duration

// MarshalJSON implements json marshaling
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements unmarshal from json
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return errors.New("invalid duration")
	}
}

package flood

import (
	"errors"
	"sync"

	"github.com/skycoin/skydrone/pkg/packet"
	"github.com/skycoin/skydrone/pkg/routing"
)

var (
	// ErrUnknownFlood is returned for responses to floods the collector did not issue.
	ErrUnknownFlood = errors.New("response to unknown flood")
	// ErrForeignTrace is returned for responses whose trace does not start at the collector.
	ErrForeignTrace = errors.New("path trace does not start at initiator")
)

// Collector issues flood requests on behalf of an initiator and learns the
// topology out of the responses. It is safe for concurrent use.
type Collector struct {
	self routing.NodeID
	kind routing.NodeKind
	topo *Topology

	mu     sync.Mutex
	nextID uint64
	issued map[uint64]int
}

// NewCollector creates a Collector for the initiator self.
func NewCollector(self routing.NodeID, kind routing.NodeKind) *Collector {
	topo := NewTopology()
	topo.AddNode(self, kind)
	return &Collector{
		self:   self,
		kind:   kind,
		topo:   topo,
		issued: make(map[uint64]int),
	}
}

// NewRequest issues a request with a flood id unique to this initiator.
func (c *Collector) NewRequest() packet.FloodRequest {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.issued[id] = 0
	c.mu.Unlock()

	return NewRequest(id, c.self, c.kind)
}

// Responses returns the number of responses accepted for floodID.
func (c *Collector) Responses(floodID uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.issued[floodID]
}

// Add accepts a response, feeds the topology with the edges it traveled and
// returns the loop-free route from the initiator to the responder.
func (c *Collector) Add(resp packet.FloodResponse) (routing.Header, error) {
	c.mu.Lock()
	n, ok := c.issued[resp.FloodID]
	if ok {
		c.issued[resp.FloodID] = n + 1
	}
	c.mu.Unlock()

	if !ok {
		return routing.Header{}, ErrUnknownFlood
	}
	if len(resp.PathTrace) == 0 || resp.PathTrace[0].ID != c.self {
		return routing.Header{}, ErrForeignTrace
	}

	for i, e := range resp.PathTrace {
		c.topo.AddNode(e.ID, e.Kind)
		if i > 0 {
			c.topo.AddEdge(resp.PathTrace[i-1].ID, e.ID)
		}
	}

	return routing.WithFirstHop(resp.PathTrace.IDs()).WithoutLoops(), nil
}

// Topology returns the topology learned so far.
func (c *Collector) Topology() *Topology {
	return c.topo
}

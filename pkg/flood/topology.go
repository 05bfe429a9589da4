package flood

import (
	"errors"
	"sort"
	"sync"

	"github.com/skycoin/skydrone/pkg/routing"
)

// ErrNoPath is returned when no relay path connects two nodes.
var ErrNoPath = errors.New("no path between nodes")

// Topology is an undirected graph of the nodes learned through floods.
type Topology struct {
	mu    sync.RWMutex
	kinds map[routing.NodeID]routing.NodeKind
	edges map[routing.NodeID]map[routing.NodeID]struct{}
}

// NewTopology creates an empty Topology.
func NewTopology() *Topology {
	return &Topology{
		kinds: make(map[routing.NodeID]routing.NodeKind),
		edges: make(map[routing.NodeID]map[routing.NodeID]struct{}),
	}
}

// AddNode records id with its kind.
func (t *Topology) AddNode(id routing.NodeID, kind routing.NodeKind) {
	t.mu.Lock()
	t.kinds[id] = kind
	t.mu.Unlock()
}

// AddEdge records a link between a and b.
func (t *Topology) AddEdge(a, b routing.NodeID) {
	if a == b {
		return
	}
	t.mu.Lock()
	t.link(a, b)
	t.link(b, a)
	t.mu.Unlock()
}

func (t *Topology) link(a, b routing.NodeID) {
	if t.edges[a] == nil {
		t.edges[a] = make(map[routing.NodeID]struct{})
	}
	t.edges[a][b] = struct{}{}
}

// RemoveEdge forgets the link between a and b.
func (t *Topology) RemoveEdge(a, b routing.NodeID) {
	t.mu.Lock()
	delete(t.edges[a], b)
	delete(t.edges[b], a)
	t.mu.Unlock()
}

// RemoveNode forgets id and all of its links.
func (t *Topology) RemoveNode(id routing.NodeID) {
	t.mu.Lock()
	for n := range t.edges[id] {
		delete(t.edges[n], id)
	}
	delete(t.edges, id)
	delete(t.kinds, id)
	t.mu.Unlock()
}

// Kind returns the kind of id.
func (t *Topology) Kind(id routing.NodeID) (routing.NodeKind, bool) {
	t.mu.RLock()
	k, ok := t.kinds[id]
	t.mu.RUnlock()
	return k, ok
}

// Nodes returns the ids of the known nodes of the given kind in ascending order.
func (t *Topology) Nodes(kind routing.NodeKind) []routing.NodeID {
	t.mu.RLock()
	ids := make([]routing.NodeID, 0, len(t.kinds))
	for id, k := range t.kinds {
		if k == kind {
			ids = append(ids, id)
		}
	}
	t.mu.RUnlock()

	sortIDs(ids)
	return ids
}

// Neighbors returns the ids linked to id in ascending order.
func (t *Topology) Neighbors(id routing.NodeID) []routing.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.neighbors(id)
}

func (t *Topology) neighbors(id routing.NodeID) []routing.NodeID {
	ids := make([]routing.NodeID, 0, len(t.edges[id]))
	for n := range t.edges[id] {
		ids = append(ids, n)
	}
	sortIDs(ids)
	return ids
}

// Route computes a shortest route from one node to another. Only relays are
// used as transit nodes. The returned header points at the first hop after from.
func (t *Topology) Route(from, to routing.NodeID) (routing.Header, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if from == to {
		return routing.WithFirstHop([]routing.NodeID{from}), nil
	}

	prev := map[routing.NodeID]routing.NodeID{from: from}
	queue := []routing.NodeID{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, n := range t.neighbors(cur) {
			if _, ok := prev[n]; ok {
				continue
			}
			prev[n] = cur
			if n == to {
				return routing.WithFirstHop(walkBack(prev, from, to)), nil
			}
			if t.kinds[n] == routing.KindDrone {
				queue = append(queue, n)
			}
		}
	}
	return routing.Header{}, ErrNoPath
}

func walkBack(prev map[routing.NodeID]routing.NodeID, from, to routing.NodeID) []routing.NodeID {
	var hops []routing.NodeID
	for n := to; n != from; n = prev[n] {
		hops = append(hops, n)
	}
	hops = append(hops, from)
	for i, j := 0, len(hops)-1; i < j; i, j = i+1, j-1 {
		hops[i], hops[j] = hops[j], hops[i]
	}
	return hops
}

func sortIDs(ids []routing.NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

package routing

import (
	"fmt"
	"sync"
)

// RangeFunc is used by RangeRoutes to iterate over routes.
type RangeFunc func(dst NodeID, route Header) (next bool)

// Table stores the routes an endpoint knows, one per destination.
type Table interface {
	// SetRoute sets the route used to reach dst.
	SetRoute(dst NodeID, route Header) error

	// Route returns the route used to reach dst.
	Route(dst NodeID) (Header, error)

	// DeleteRoutes removes the routes to the given destinations.
	DeleteRoutes(dsts ...NodeID) error

	// RangeRoutes iterates over all routes and yields values to the rangeFunc until `next` is false.
	RangeRoutes(rangeFunc RangeFunc) error

	// Count returns the number of routes stored.
	Count() int

	// Close safely closes the routing table.
	Close() error
}

type inMemoryTable struct {
	sync.RWMutex

	routes map[NodeID]Header
}

// InMemoryTable returns an in-memory Table implementation.
func InMemoryTable() Table {
	return &inMemoryTable{
		routes: map[NodeID]Header{},
	}
}

func (rt *inMemoryTable) SetRoute(dst NodeID, route Header) error {
	rt.Lock()
	rt.routes[dst] = route.Clone()
	rt.Unlock()

	return nil
}

func (rt *inMemoryTable) Route(dst NodeID) (Header, error) {
	rt.RLock()
	route, ok := rt.routes[dst]
	rt.RUnlock()
	if !ok {
		return Header{}, fmt.Errorf("route to %v not found", dst)
	}
	return route.Clone(), nil
}

func (rt *inMemoryTable) RangeRoutes(rangeFunc RangeFunc) error {
	rt.RLock()
	for dst, route := range rt.routes {
		if !rangeFunc(dst, route.Clone()) {
			break
		}
	}
	rt.RUnlock()

	return nil
}

func (rt *inMemoryTable) DeleteRoutes(dsts ...NodeID) error {
	rt.Lock()
	for _, dst := range dsts {
		delete(rt.routes, dst)
	}
	rt.Unlock()

	return nil
}

func (rt *inMemoryTable) Count() int {
	rt.RLock()
	count := len(rt.routes)
	rt.RUnlock()
	return count
}

func (rt *inMemoryTable) Close() error {
	return nil
}

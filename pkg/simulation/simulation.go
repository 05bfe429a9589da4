// Package simulation spawns a network of drones and endpoints from a
// topology config and supervises it: it reconfigures nodes through control
// commands and collects the events they emit.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/skydrone/internal/metrics"
	"github.com/skycoin/skydrone/pkg/channel"
	"github.com/skycoin/skydrone/pkg/control"
	"github.com/skycoin/skydrone/pkg/drone"
	"github.com/skycoin/skydrone/pkg/endpoint"
	"github.com/skycoin/skydrone/pkg/eventlog"
	"github.com/skycoin/skydrone/pkg/packet"
	"github.com/skycoin/skydrone/pkg/routing"
)

var log = logging.MustGetLogger("simulation")

var (
	// ErrUnknownNode is returned when referring to a node that is not part of the network.
	ErrUnknownNode = errors.New("unknown node")
	// ErrNotDrone is returned when a drone-only operation targets an endpoint.
	ErrNotDrone = errors.New("node is not a drone")
	// ErrNodeCrashed is returned when reconfiguring a crashed node.
	ErrNodeCrashed = errors.New("node crashed")
	// ErrEdgeExists is returned when adding an existing link.
	ErrEdgeExists = errors.New("link already exists")
	// ErrNoEdge is returned when removing a missing link.
	ErrNoEdge = errors.New("link does not exist")
	// ErrInvalidEdge is returned for self links and links between endpoints.
	ErrInvalidEdge = errors.New("invalid link")
	// ErrClosed is returned by operations on a closed simulation.
	ErrClosed = errors.New("simulation closed")
)

// Edge is an undirected link, lower id first.
type Edge struct {
	A routing.NodeID `json:"a"`
	B routing.NodeID `json:"b"`
}

// NewEdge creates the edge between a and b.
func NewEdge(a, b routing.NodeID) Edge {
	if a > b {
		a, b = b, a
	}
	return Edge{A: a, B: b}
}

func (e Edge) String() string {
	return fmt.Sprintf("%s-%s", e.A, e.B)
}

// NodeInfo describes the state of a node as seen by the supervisor.
type NodeInfo struct {
	ID        routing.NodeID   `json:"id"`
	Kind      routing.NodeKind `json:"kind"`
	PDR       float64          `json:"pdr"`
	Crashed   bool             `json:"crashed"`
	Neighbors []routing.NodeID `json:"neighbors"`
}

// Topology is a snapshot of the supervised network.
type Topology struct {
	Nodes []NodeInfo `json:"nodes"`
	Edges []Edge     `json:"edges"`
}

type node struct {
	id       routing.NodeID
	kind     routing.NodeKind
	pdr      float64
	crashed  bool
	packets  *control.PacketSender
	commands *control.CommandSender
}

// Option configures a Simulation.
type Option func(s *Simulation) error

// WithDroneFactory spawns drones with f instead of drone.NewRunner.
func WithDroneFactory(f drone.Factory) Option {
	return func(s *Simulation) error {
		if f == nil {
			return errors.New("nil drone factory")
		}
		s.factory = f
		return nil
	}
}

// WithStore records events into store. The simulation owns the store and
// closes it on Close.
func WithStore(store eventlog.Store) Option {
	return func(s *Simulation) error {
		s.store = store
		return nil
	}
}

// WithMetrics records event metrics with m.
func WithMetrics(m metrics.Recorder) Option {
	return func(s *Simulation) error {
		s.metrics = m
		return nil
	}
}

// WithMasterLogger derives node loggers from ml.
func WithMasterLogger(ml *logging.MasterLogger) Option {
	return func(s *Simulation) error {
		s.masterLogger = ml
		s.log = ml.PackageLogger("simulation")
		return nil
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(s *Simulation) error {
		s.runID = id
		return nil
	}
}

// Simulation is the supervisor of a running network. Every node runs on its
// own goroutine and only ever hears from the supervisor through its command
// channel.
type Simulation struct {
	runID        string
	log          *logging.Logger
	masterLogger *logging.MasterLogger
	factory      drone.Factory
	store        eventlog.Store
	metrics      metrics.Recorder

	eventTx *control.EventSender
	eventRx *control.EventReceiver

	mu        sync.RWMutex
	nodes     map[routing.NodeID]*node
	edges     map[Edge]struct{}
	endpoints map[routing.NodeID]*endpoint.Endpoint
	closed    bool

	subsMu  sync.Mutex
	subs    map[uint64]*control.EventSender
	nextSub uint64

	nodesWG   sync.WaitGroup
	fanInDone chan struct{}
	closeOnce sync.Once
}

// New validates conf, spawns every node it describes and links them.
func New(conf *Config, opts ...Option) (*Simulation, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	s := &Simulation{
		runID:     uuid.New().String(),
		log:       log,
		factory:   drone.NewRunner,
		nodes:     make(map[routing.NodeID]*node),
		edges:     make(map[Edge]struct{}),
		endpoints: make(map[routing.NodeID]*endpoint.Endpoint),
		subs:      make(map[uint64]*control.EventSender),
		fanInDone: make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.store == nil {
		s.store = eventlog.InMemoryStore()
	}
	if s.metrics == nil {
		s.metrics = metrics.NewDummy()
	}
	s.eventTx, s.eventRx = channel.New[control.Event]()

	var runners []func()
	for _, d := range conf.Drones {
		n, cmdRx, pktRx := s.newNode(d.ID, routing.KindDrone)
		n.pdr = d.PDR
		r, err := s.factory(drone.Config{
			ID:             d.ID,
			ControllerSend: s.eventTx,
			ControllerRecv: cmdRx,
			PacketRecv:     pktRx,
			DropRate:       d.PDR,
			Logger:         s.nodeLogger("drone", d.ID),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to spawn drone %s: %v", d.ID, err)
		}
		runners = append(runners, r.Run)
	}

	spawnEndpoints := func(confs []EndpointConfig, kind routing.NodeKind) error {
		for _, ec := range confs {
			_, cmdRx, pktRx := s.newNode(ec.ID, kind)
			e, err := endpoint.New(endpoint.Config{
				ID:              ec.ID,
				Kind:            kind,
				ControllerSend:  s.eventTx,
				ControllerRecv:  cmdRx,
				PacketRecv:      pktRx,
				Logger:          s.nodeLogger(strings.ToLower(kind.String()), ec.ID),
				DiscoverTimeout: time.Duration(conf.DiscoverTimeout),
			})
			if err != nil {
				return fmt.Errorf("failed to spawn %s %s: %v", kind, ec.ID, err)
			}
			s.endpoints[ec.ID] = e
			runners = append(runners, e.Run)
		}
		return nil
	}
	if err := spawnEndpoints(conf.Clients, routing.KindClient); err != nil {
		return nil, err
	}
	if err := spawnEndpoints(conf.Servers, routing.KindServer); err != nil {
		return nil, err
	}

	for _, e := range conf.Edges() {
		if err := s.link(e); err != nil {
			return nil, err
		}
	}

	go s.fanIn()
	for _, run := range runners {
		s.nodesWG.Add(1)
		go func(run func()) {
			defer s.nodesWG.Done()
			run()
		}(run)
	}

	s.log.WithField("run_id", s.runID).Infof("Spawned %d nodes and %d links", len(s.nodes), len(s.edges))
	return s, nil
}

func (s *Simulation) newNode(id routing.NodeID, kind routing.NodeKind) (*node, *control.CommandReceiver, *control.PacketReceiver) {
	cmdTx, cmdRx := channel.New[control.Command]()
	pktTx, pktRx := channel.New[packet.Packet]()
	n := &node{id: id, kind: kind, packets: pktTx, commands: cmdTx}
	s.nodes[id] = n
	return n, cmdRx, pktRx
}

func (s *Simulation) nodeLogger(kind string, id routing.NodeID) *logging.Logger {
	if s.masterLogger == nil {
		return nil
	}
	return s.masterLogger.PackageLogger(fmt.Sprintf("%s.%s", kind, id))
}

// RunID returns the unique id of this run.
func (s *Simulation) RunID() string {
	return s.runID
}

// Store returns the event store of the run.
func (s *Simulation) Store() eventlog.Store {
	return s.store
}

// Client returns the client endpoint with the given id.
func (s *Simulation) Client(id routing.NodeID) (*endpoint.Endpoint, error) {
	return s.endpoint(id, routing.KindClient)
}

// Server returns the server endpoint with the given id.
func (s *Simulation) Server(id routing.NodeID) (*endpoint.Endpoint, error) {
	return s.endpoint(id, routing.KindServer)
}

func (s *Simulation) endpoint(id routing.NodeID, kind routing.NodeKind) (*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.endpoints[id]
	if !ok || e.Kind() != kind {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrUnknownNode)
	}
	return e, nil
}

// lookup returns a running node. Callers hold mu.
func (s *Simulation) lookup(id routing.NodeID) (*node, error) {
	if s.closed {
		return nil, ErrClosed
	}
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrUnknownNode)
	}
	if n.crashed {
		return nil, fmt.Errorf("node %s: %w", id, ErrNodeCrashed)
	}
	return n, nil
}

func (s *Simulation) command(n *node, cmd control.Command) error {
	if err := n.commands.Send(cmd); err != nil {
		return fmt.Errorf("failed to send %s to %s: %v", cmd, n.id, err)
	}
	return nil
}

// link adds e and sends AddNeighbor on both ends. Callers hold mu.
func (s *Simulation) link(e Edge) error {
	a, err := s.lookup(e.A)
	if err != nil {
		return err
	}
	b, err := s.lookup(e.B)
	if err != nil {
		return err
	}
	if a.id == b.id || (a.kind.IsEndpoint() && b.kind.IsEndpoint()) {
		return fmt.Errorf("link %s: %w", e, ErrInvalidEdge)
	}
	if _, ok := s.edges[e]; ok {
		return fmt.Errorf("link %s: %w", e, ErrEdgeExists)
	}

	if err := s.command(a, control.AddNeighbor{ID: b.id, Sender: b.packets}); err != nil {
		return err
	}
	if err := s.command(b, control.AddNeighbor{ID: a.id, Sender: a.packets}); err != nil {
		return err
	}
	s.edges[e] = struct{}{}
	return nil
}

// AddEdge links a and b.
func (s *Simulation) AddEdge(a, b routing.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.link(NewEdge(a, b)); err != nil {
		return err
	}
	s.log.Infof("Linked %s and %s", a, b)
	return nil
}

// RemoveEdge unlinks a and b.
func (s *Simulation) RemoveEdge(a, b routing.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	e := NewEdge(a, b)
	if _, ok := s.edges[e]; !ok {
		return fmt.Errorf("link %s: %w", e, ErrNoEdge)
	}
	delete(s.edges, e)

	var result error
	for _, pair := range [][2]routing.NodeID{{a, b}, {b, a}} {
		if n, ok := s.nodes[pair[0]]; ok && !n.crashed {
			if err := s.command(n, control.RemoveNeighbor{ID: pair[1]}); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	s.log.Infof("Unlinked %s and %s", a, b)
	return result
}

// SetDropRate changes the packet drop rate of drone id.
func (s *Simulation) SetDropRate(id routing.NodeID, rate float64) error {
	if err := control.ValidateDropRate(rate); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.lookup(id)
	if err != nil {
		return err
	}
	if n.kind != routing.KindDrone {
		return fmt.Errorf("node %s: %w", id, ErrNotDrone)
	}
	if err := s.command(n, control.SetDropRate{Rate: rate}); err != nil {
		return err
	}
	n.pdr = rate
	s.log.Infof("Drop rate of %s set to %.2f", id, rate)
	return nil
}

// Crash detaches node id from all of its neighbors and then crashes it, so
// that no neighbor sends it new packets while it drains its queue.
func (s *Simulation) Crash(id routing.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.lookup(id)
	if err != nil {
		return err
	}

	var result error
	for e := range s.edges {
		var peer routing.NodeID
		switch id {
		case e.A:
			peer = e.B
		case e.B:
			peer = e.A
		default:
			continue
		}
		delete(s.edges, e)
		if p, ok := s.nodes[peer]; ok && !p.crashed {
			if err := s.command(p, control.RemoveNeighbor{ID: id}); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	if err := s.command(n, control.Crash{}); err != nil {
		result = multierror.Append(result, err)
	}
	n.crashed = true
	s.log.Infof("Crashed %s %s", n.kind, id)
	return result
}

// Topology returns a snapshot of the supervised network.
func (s *Simulation) Topology() Topology {
	s.mu.RLock()
	defer s.mu.RUnlock()

	neighbors := make(map[routing.NodeID][]routing.NodeID)
	edges := make([]Edge, 0, len(s.edges))
	for e := range s.edges {
		edges = append(edges, e)
		neighbors[e.A] = append(neighbors[e.A], e.B)
		neighbors[e.B] = append(neighbors[e.B], e.A)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].A != edges[j].A {
			return edges[i].A < edges[j].A
		}
		return edges[i].B < edges[j].B
	})

	nodes := make([]NodeInfo, 0, len(s.nodes))
	for _, n := range s.nodes {
		ids := neighbors[n.id]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if ids == nil {
			ids = []routing.NodeID{}
		}
		nodes = append(nodes, NodeInfo{ID: n.id, Kind: n.kind, PDR: n.pdr, Crashed: n.crashed, Neighbors: ids})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	return Topology{Nodes: nodes, Edges: edges}
}

// Subscribe returns a feed of every event emitted from now on. The feed is
// closed by cancel or when the simulation closes.
func (s *Simulation) Subscribe() (feed *control.EventReceiver, cancel func()) {
	tx, rx := channel.New[control.Event]()

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	if s.subs == nil {
		tx.Close()
	} else {
		s.subs[id] = tx
	}
	s.subsMu.Unlock()

	return rx, func() {
		s.subsMu.Lock()
		if sub, ok := s.subs[id]; ok {
			sub.Close()
			delete(s.subs, id)
		}
		s.subsMu.Unlock()
	}
}

// fanIn collects the events of every node until the event channel closes.
func (s *Simulation) fanIn() {
	defer close(s.fanInDone)

	for {
		ev, err := s.eventRx.Recv(context.Background())
		if err != nil {
			break
		}
		if _, err := s.store.Record(ev); err != nil {
			s.log.WithError(err).Warn("Failed to record event")
		}
		s.metrics.RecordEvent(ev)
		s.log.Debug(ev)

		s.subsMu.Lock()
		for id, sub := range s.subs {
			if err := sub.Send(ev); err != nil {
				delete(s.subs, id)
			}
		}
		s.subsMu.Unlock()
	}

	s.subsMu.Lock()
	for _, sub := range s.subs {
		sub.Close()
	}
	s.subs = nil
	s.subsMu.Unlock()
}

// Close stops every node, waits up to timeout for them to exit, flushes the
// remaining events and closes the store. A non-positive timeout waits
// indefinitely.
func (s *Simulation) Close(timeout time.Duration) error {
	var result error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for _, n := range s.nodes {
			n.commands.Close()
			n.packets.Close()
		}
		s.mu.Unlock()

		done := make(chan struct{})
		go func() {
			s.nodesWG.Wait()
			close(done)
		}()
		var expired <-chan time.Time
		if timeout > 0 {
			expired = time.After(timeout)
		}
		select {
		case <-done:
		case <-expired:
			result = multierror.Append(result, errors.New("timeout reached waiting for nodes to stop"))
		}

		s.eventTx.Close()
		<-s.fanInDone

		count := s.store.Count()
		if err := s.store.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		s.log.WithField("run_id", s.runID).Infof("Simulation closed with %d recorded events", count)
	})
	return result
}

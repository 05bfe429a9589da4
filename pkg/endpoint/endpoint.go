// Package endpoint implements the reference client and server nodes: they
// discover routes by flooding, send fragmented messages along them and
// acknowledge what they receive.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/skydrone/internal/netutil"
	"github.com/skycoin/skydrone/pkg/channel"
	"github.com/skycoin/skydrone/pkg/control"
	"github.com/skycoin/skydrone/pkg/flood"
	"github.com/skycoin/skydrone/pkg/message"
	"github.com/skycoin/skydrone/pkg/packet"
	"github.com/skycoin/skydrone/pkg/routing"
)

const (
	// DefaultDiscoverBackoff is the initial delay between floods of Discover.
	DefaultDiscoverBackoff = 100 * time.Millisecond
	// DefaultDiscoverTimeout is the time after which Discover gives up.
	DefaultDiscoverTimeout = 5 * time.Second
)

var (
	// ErrNoRoute is returned when no route to a destination is known.
	ErrNoRoute = errors.New("no route to destination")
	// ErrNoNeighbors is returned when flooding from an endpoint without neighbors.
	ErrNoNeighbors = errors.New("endpoint has no neighbors")
	// ErrNotEndpoint is returned when configuring an endpoint with the relay kind.
	ErrNotEndpoint = errors.New("node kind is not an endpoint")
	// ErrCrashed is returned by operations on a crashed endpoint.
	ErrCrashed = errors.New("endpoint crashed")
)

// Config configures an Endpoint.
type Config struct {
	ID              routing.NodeID
	Kind            routing.NodeKind
	ControllerSend  *control.EventSender
	ControllerRecv  *control.CommandReceiver
	PacketRecv      *control.PacketReceiver
	Logger          *logging.Logger
	Routes          routing.Table
	DiscoverBackoff time.Duration
	DiscoverTimeout time.Duration
}

// Message is a reassembled message received by an endpoint.
type Message struct {
	Source    routing.NodeID `json:"source"`
	SessionID uint64         `json:"session_id"`
	Data      []byte         `json:"data"`
}

// Report is an ack or nack received for a fragment sent by the endpoint.
type Report struct {
	SessionID uint64         `json:"session_id"`
	Reporter  routing.NodeID `json:"reporter"`
	Payload   packet.Payload `json:"payload"`
}

// Endpoint is a client or server node.
type Endpoint struct {
	id       routing.NodeID
	kind     routing.NodeKind
	log      *logging.Logger
	events   *control.EventSender
	commands *control.CommandReceiver
	packets  *control.PacketReceiver

	routes    routing.Table
	collector *flood.Collector
	assembler *message.Assembler
	retrier   *netutil.Retrier

	msgTx *channel.Sender[Message]
	msgRx *channel.Receiver[Message]
	repTx *channel.Sender[Report]
	repRx *channel.Receiver[Report]

	session uint64

	mu        sync.Mutex
	neighbors map[routing.NodeID]*control.PacketSender
	alive     bool

	runOnce sync.Once
}

// New constructs an Endpoint.
func New(conf Config) (*Endpoint, error) {
	if !conf.Kind.IsEndpoint() {
		return nil, ErrNotEndpoint
	}
	if conf.ControllerSend == nil || conf.ControllerRecv == nil || conf.PacketRecv == nil {
		return nil, fmt.Errorf("endpoint %s: missing channel", conf.ID)
	}

	logger := conf.Logger
	if logger == nil {
		logger = logging.MustGetLogger(fmt.Sprintf("endpoint.%s", conf.ID))
	}
	routes := conf.Routes
	if routes == nil {
		routes = routing.InMemoryTable()
	}
	backoff, timeout := conf.DiscoverBackoff, conf.DiscoverTimeout
	if backoff <= 0 {
		backoff = DefaultDiscoverBackoff
	}
	if timeout <= 0 {
		timeout = DefaultDiscoverTimeout
	}

	e := &Endpoint{
		id:        conf.ID,
		kind:      conf.Kind,
		log:       logger,
		events:    conf.ControllerSend,
		commands:  conf.ControllerRecv,
		packets:   conf.PacketRecv,
		routes:    routes,
		collector: flood.NewCollector(conf.ID, conf.Kind),
		assembler: message.NewAssembler(),
		retrier:   netutil.NewRetrier(logger, backoff, timeout, 2).WithErrWhitelist(ErrCrashed),
		neighbors: make(map[routing.NodeID]*control.PacketSender),
		alive:     true,
	}
	e.msgTx, e.msgRx = channel.New[Message]()
	e.repTx, e.repRx = channel.New[Report]()
	return e, nil
}

// ID returns the id of the endpoint.
func (e *Endpoint) ID() routing.NodeID { return e.id }

// Kind returns the kind of the endpoint.
func (e *Endpoint) Kind() routing.NodeKind { return e.kind }

// Messages returns the channel reassembled messages are delivered on.
func (e *Endpoint) Messages() *channel.Receiver[Message] { return e.msgRx }

// Reports returns the channel acks and nacks are delivered on.
func (e *Endpoint) Reports() *channel.Receiver[Report] { return e.repRx }

// Routes returns the route table of the endpoint.
func (e *Endpoint) Routes() routing.Table { return e.routes }

// Topology returns the topology learned by the endpoint.
func (e *Endpoint) Topology() *flood.Topology { return e.collector.Topology() }

// nextSession returns a session id unique across the network: the endpoint id
// occupies the top byte.
func (e *Endpoint) nextSession() uint64 {
	return uint64(e.id)<<56 | atomic.AddUint64(&e.session, 1)
}

// Flood sends a new flood request to every neighbor and returns its flood id.
func (e *Endpoint) Flood() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.alive {
		return 0, ErrCrashed
	}
	if len(e.neighbors) == 0 {
		return 0, ErrNoNeighbors
	}

	req := e.collector.NewRequest()
	p := packet.NewFloodRequestPacket(routing.Header{}, e.nextSession(), req)
	for id, sender := range e.neighbors {
		out := p.Clone()
		if err := sender.Send(out); err != nil {
			e.log.WithError(err).Warnf("Failed to flood neighbor %s", id)
			continue
		}
		e.emit(control.PacketForwarded(e.id, id, out))
	}
	e.log.Debugf("Flood %d started", req.FloodID)
	return req.FloodID, nil
}

// Discover floods the network until a route to dst is known. It gives up
// with ErrNoRoute once the discover timeout passes. An endpoint without
// neighbors keeps retrying as neighbors may still be added.
func (e *Endpoint) Discover(ctx context.Context, dst routing.NodeID) (routing.Header, error) {
	var route routing.Header
	err := e.retrier.Do(ctx, func() error {
		r, err := e.routes.Route(dst)
		if err == nil {
			route = r
			return nil
		}
		if _, err := e.Flood(); err != nil {
			return err
		}
		return ErrNoRoute
	})
	if err == netutil.ErrThresholdReached {
		return routing.Header{}, ErrNoRoute
	}
	return route, err
}

// Send fragments data and sends it along the known route to dst.
func (e *Endpoint) Send(dst routing.NodeID, data []byte) (uint64, error) {
	route, err := e.routes.Route(dst)
	if err != nil {
		return 0, ErrNoRoute
	}

	sessionID := e.nextSession()
	for _, p := range message.Disassemble(route, sessionID, data) {
		if err := e.send(p); err != nil {
			return sessionID, err
		}
	}
	return sessionID, nil
}

// send hands p to the neighbor at its current hop.
func (e *Endpoint) send(p packet.Packet) error {
	next, ok := p.Header.CurrentHop()
	if !ok {
		return ErrNoRoute
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.alive {
		return ErrCrashed
	}
	sender, ok := e.neighbors[next]
	if !ok {
		return fmt.Errorf("%s is not a neighbor of %s", next, e.id)
	}
	if err := sender.Send(p); err != nil {
		return fmt.Errorf("send to %s: %v", next, err)
	}
	e.emit(control.PacketForwarded(e.id, next, p))
	return nil
}

// reply advances the cursor of p, which points at this endpoint, and sends it.
func (e *Endpoint) reply(p packet.Packet) {
	p.Header.Advance()
	if err := e.send(p); err != nil {
		e.log.WithError(err).Debugf("Failed to reply %s", p.Type())
		e.emit(control.PacketDropped(e.id, p, err.Error()))
	}
}

// Run processes commands and packets until the endpoint crashes or both
// inbound channels are closed. Commands take priority over packets.
func (e *Endpoint) Run() {
	e.runOnce.Do(e.run)
}

func (e *Endpoint) run() {
	e.log.WithField("kind", e.kind).Info("Endpoint started")
	defer e.log.Info("Endpoint stopped")

	cmdReady, pktReady := e.commands.Ready(), e.packets.Ready()
	for {
		cmd, cmdErr := e.commands.TryRecv()
		if cmdErr == nil {
			if !e.handleCommand(cmd) {
				if left := e.packets.Disconnect(); len(left) > 0 {
					e.log.Debugf("Discarded %d queued packets", len(left))
				}
				e.msgTx.Close()
				e.repTx.Close()
				return
			}
			continue
		}

		p, pktErr := e.packets.TryRecv()
		if pktErr == nil {
			e.handlePacket(p)
			continue
		}

		if cmdErr == channel.ErrClosed {
			cmdReady = nil
		}
		if pktErr == channel.ErrClosed {
			pktReady = nil
		}
		if cmdReady == nil && pktReady == nil {
			e.msgTx.Close()
			e.repTx.Close()
			return
		}

		select {
		case <-cmdReady:
		case <-pktReady:
		}
	}
}

// handleCommand applies cmd and reports whether the endpoint keeps running.
func (e *Endpoint) handleCommand(cmd control.Command) bool {
	switch c := cmd.(type) {
	case control.AddNeighbor:
		if c.Sender == nil {
			e.emit(control.CommandRejected(e.id, c, fmt.Errorf("no channel towards %s", c.ID)))
			return true
		}
		e.mu.Lock()
		e.neighbors[c.ID] = c.Sender
		e.mu.Unlock()
	case control.RemoveNeighbor:
		e.mu.Lock()
		delete(e.neighbors, c.ID)
		e.mu.Unlock()
	case control.SetDropRate:
		e.emit(control.CommandRejected(e.id, c, errors.New("endpoints do not drop packets")))
	case control.Crash:
		e.mu.Lock()
		e.alive = false
		e.mu.Unlock()
		e.emit(control.Crashed(e.id))
		return false
	}
	return true
}

func (e *Endpoint) handlePacket(p packet.Packet) {
	if req, ok := p.Payload.(packet.FloodRequest); ok {
		e.handleFloodRequest(p, req)
		return
	}

	if cur, ok := p.Header.CurrentHop(); !ok || cur != e.id || !p.Header.IsLastHop() {
		e.log.Debugf("Unexpected %s with route %s", p.Type(), p.Header)
		e.emit(control.PacketDropped(e.id, p, "endpoint is not the destination"))
		return
	}

	switch pl := p.Payload.(type) {
	case packet.Fragment:
		e.handleFragment(p)
	case packet.FloodResponse:
		e.handleFloodResponse(pl)
	case packet.Ack:
		e.report(p)
	case packet.Nack:
		e.handleNack(p, pl)
	}
}

func (e *Endpoint) handleFloodRequest(p packet.Packet, req packet.FloodRequest) {
	if req.InitiatorID == e.id {
		e.emit(control.PacketDropped(e.id, p, "own flood request"))
		return
	}
	resp := flood.Respond(req.Incremented(e.id, e.kind), p.SessionID)
	e.emit(control.FloodTraceObserved(e.id, resp, "endpoint reached"))
	e.reply(resp)
}

func (e *Endpoint) handleFloodResponse(resp packet.FloodResponse) {
	route, err := e.collector.Add(resp)
	if err != nil {
		e.log.WithError(err).Debugf("Ignored flood response %d", resp.FloodID)
		return
	}
	e.log.Debugf("Flood %d reached %s", resp.FloodID, route)
	e.refreshRoutes()
}

func (e *Endpoint) handleFragment(p packet.Packet) {
	e.reply(packet.NewAck(p.Header.Reversed(), p.SessionID, p.FragmentIndex()))

	data, done, err := e.assembler.Add(p)
	if err != nil {
		e.log.WithError(err).Warnf("Dropped fragment of session %d", p.SessionID)
		return
	}
	if !done {
		return
	}
	src, _ := p.Header.Source()
	if err := e.msgTx.Send(Message{Source: src, SessionID: p.SessionID, Data: data}); err != nil {
		e.log.WithError(err).Debug("Message lost")
	}
}

func (e *Endpoint) handleNack(p packet.Packet, n packet.Nack) {
	if n.Kind == packet.NackErrorInRouting {
		if reporter, ok := p.Header.Source(); ok {
			e.collector.Topology().RemoveEdge(reporter, n.Node)
			e.refreshRoutes()
		}
	}
	e.report(p)
}

func (e *Endpoint) report(p packet.Packet) {
	reporter, _ := p.Header.Source()
	if err := e.repTx.Send(Report{SessionID: p.SessionID, Reporter: reporter, Payload: p.Payload}); err != nil {
		e.log.WithError(err).Debug("Report lost")
	}
}

// refreshRoutes recomputes the shortest route towards every known endpoint.
func (e *Endpoint) refreshRoutes() {
	topo := e.collector.Topology()
	for _, kind := range []routing.NodeKind{routing.KindClient, routing.KindServer} {
		for _, dst := range topo.Nodes(kind) {
			if dst == e.id {
				continue
			}
			route, err := topo.Route(e.id, dst)
			if err != nil {
				if err := e.routes.DeleteRoutes(dst); err != nil {
					e.log.WithError(err).Warnf("Failed to delete route to %s", dst)
				}
				continue
			}
			if err := e.routes.SetRoute(dst, route); err != nil {
				e.log.WithError(err).Warnf("Failed to set route to %s", dst)
			}
		}
	}
}

func (e *Endpoint) emit(ev control.Event) {
	if err := e.events.Send(ev); err != nil {
		e.log.WithError(err).Debugf("Event %s lost", ev.Type)
	}
}

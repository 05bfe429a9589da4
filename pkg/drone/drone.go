// Package drone implements the relay forwarding engine: one goroutine per
// relay, consuming packets and control commands and forwarding packets along
// their source route.
package drone

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/skycoin/skydrone/pkg/channel"
	"github.com/skycoin/skydrone/pkg/control"
	"github.com/skycoin/skydrone/pkg/flood"
	"github.com/skycoin/skydrone/pkg/packet"
	"github.com/skycoin/skydrone/pkg/routing"
)

// Rand is the source of randomness used for loss simulation.
type Rand interface {
	Float64() float64
}

// Config configures a Drone.
type Config struct {
	ID             routing.NodeID
	ControllerSend *control.EventSender
	ControllerRecv *control.CommandReceiver
	PacketRecv     *control.PacketReceiver
	DropRate       float64
	Logger         *logging.Logger
	Rand           Rand
}

// Runner is a relay implementation the simulation can spawn.
type Runner interface {
	ID() routing.NodeID
	Run()
}

// Factory spawns relays.
type Factory func(conf Config) (Runner, error)

// NewRunner is the Factory of Drone.
func NewRunner(conf Config) (Runner, error) {
	return New(conf)
}

// Drone is a forwarding-only relay. All of its state is owned by the
// goroutine executing Run.
type Drone struct {
	id       routing.NodeID
	log      *logging.Logger
	events   *control.EventSender
	commands *control.CommandReceiver
	packets  *control.PacketReceiver
	rand     Rand

	neighbors map[routing.NodeID]*control.PacketSender
	dropRate  float64
	alive     bool
	floods    *flood.Tracker

	runOnce sync.Once
}

// New constructs a Drone. Its neighbor set starts empty and is populated
// through AddNeighbor commands.
func New(conf Config) (*Drone, error) {
	if conf.ControllerSend == nil || conf.ControllerRecv == nil || conf.PacketRecv == nil {
		return nil, fmt.Errorf("drone %s: missing channel", conf.ID)
	}
	if err := control.ValidateDropRate(conf.DropRate); err != nil {
		return nil, fmt.Errorf("drone %s: %s", conf.ID, err)
	}

	logger := conf.Logger
	if logger == nil {
		logger = logging.MustGetLogger(fmt.Sprintf("drone.%s", conf.ID))
	}
	rnd := conf.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano() + int64(conf.ID)))
	}

	return &Drone{
		id:        conf.ID,
		log:       logger,
		events:    conf.ControllerSend,
		commands:  conf.ControllerRecv,
		packets:   conf.PacketRecv,
		rand:      rnd,
		neighbors: make(map[routing.NodeID]*control.PacketSender),
		dropRate:  conf.DropRate,
		alive:     true,
		floods:    flood.NewTracker(),
	}, nil
}

// ID returns the id of the relay.
func (d *Drone) ID() routing.NodeID {
	return d.id
}

// Run processes commands and packets until the relay crashed and drained its
// data channel, or until both inbound channels are closed. Commands always
// take priority over packets.
func (d *Drone) Run() {
	d.runOnce.Do(d.run)
}

func (d *Drone) run() {
	d.log.WithField("drop_rate", d.dropRate).Info("Relay started")
	defer d.log.Info("Relay stopped")

	cmdReady, pktReady := d.commands.Ready(), d.packets.Ready()
	for {
		cmd, cmdErr := d.commands.TryRecv()
		if cmdErr == nil {
			d.handleCommand(cmd)
			continue
		}
		if !d.alive {
			d.drain()
			return
		}

		p, pktErr := d.packets.TryRecv()
		if pktErr == nil {
			d.handlePacket(p)
			continue
		}

		if cmdErr == channel.ErrClosed {
			cmdReady = nil
		}
		if pktErr == channel.ErrClosed {
			pktReady = nil
		}
		if cmdReady == nil && pktReady == nil {
			return
		}

		select {
		case <-cmdReady:
		case <-pktReady:
		}
	}
}

// drain completes the crash sequence: packets already queued are processed,
// fragments are refused, then the data channel is disconnected. Packets that
// raced the disconnect are handled the same way.
func (d *Drone) drain() {
	for {
		if cmd, err := d.commands.TryRecv(); err == nil {
			d.handleCommand(cmd)
			continue
		}
		p, err := d.packets.TryRecv()
		if err != nil {
			break
		}
		d.handlePacket(p)
	}
	for _, p := range d.packets.Disconnect() {
		d.handlePacket(p)
	}
}

func (d *Drone) handleCommand(cmd control.Command) {
	log := d.log.WithField("command", cmd.Type())
	switch c := cmd.(type) {
	case control.AddNeighbor:
		if c.Sender == nil {
			d.emit(control.CommandRejected(d.id, c, fmt.Errorf("no channel towards %s", c.ID)))
			return
		}
		d.neighbors[c.ID] = c.Sender
		log.Debugf("Neighbor %s added", c.ID)
	case control.RemoveNeighbor:
		delete(d.neighbors, c.ID)
		log.Debugf("Neighbor %s removed", c.ID)
	case control.SetDropRate:
		if err := control.ValidateDropRate(c.Rate); err != nil {
			log.WithError(err).Warnf("Rejected drop rate %v", c.Rate)
			d.emit(control.CommandRejected(d.id, c, err))
			return
		}
		d.dropRate = c.Rate
		log.Debugf("Drop rate set to %v", c.Rate)
	case control.Crash:
		if !d.alive {
			return
		}
		d.alive = false
		log.Info("Crashing")
		d.emit(control.Crashed(d.id))
	}
}

func (d *Drone) handlePacket(p packet.Packet) {
	if req, ok := p.Payload.(packet.FloodRequest); ok {
		if !d.alive {
			d.emit(control.PacketDropped(d.id, p, "relay crashed"))
			return
		}
		d.handleFloodRequest(p, req)
		return
	}

	if cur, ok := p.Header.CurrentHop(); !ok || cur != d.id {
		d.unexpectedRecipient(p)
		return
	}

	if p.Header.IsLastHop() {
		d.emit(control.PacketReceivedAtRelay(d.id, p))
		if p.Type() == packet.TypeFragment {
			d.nack(p, p.Header.HopIndex, packet.DestinationIsDroneNack(p.FragmentIndex()))
		}
		return
	}

	if p.Type() == packet.TypeFragment {
		if !d.alive {
			d.nack(p, p.Header.HopIndex, packet.ErrorInRoutingNack(p.FragmentIndex(), d.id))
			return
		}
		if d.rand.Float64() < d.dropRate {
			d.emit(control.PacketDropped(d.id, p, "dropped by loss simulation"))
			d.nack(p, p.Header.HopIndex, packet.DroppedNack(p.FragmentIndex()))
			return
		}
	}

	d.forward(p)
}

// forward advances the cursor and sends p to the next hop. p must be owned by
// the caller.
func (d *Drone) forward(p packet.Packet) {
	self := p.Header.HopIndex
	p.Header.Advance()
	next, ok := p.Header.CurrentHop()
	if !ok {
		d.emit(control.PacketDropped(d.id, p, "route has no next hop"))
		return
	}

	sender, ok := d.neighbors[next]
	if !ok {
		d.undeliverable(p, self, next, fmt.Sprintf("%s is not a neighbor", next))
		return
	}
	if err := sender.Send(p); err != nil {
		d.undeliverable(p, self, next, fmt.Sprintf("send to %s: %v", next, err))
		return
	}
	d.emit(control.PacketForwarded(d.id, next, p))
}

// undeliverable handles a packet that could not be handed to next. Fragments
// are answered with ErrorInRouting, anything else is reported to the
// supervisor only so that nacks never generate more nacks.
func (d *Drone) undeliverable(p packet.Packet, self int, next routing.NodeID, reason string) {
	d.log.WithField("packet", p.Type()).Debugf("Cannot forward to %s: %s", next, reason)
	if p.Type() != packet.TypeFragment {
		d.emit(control.PacketDropped(d.id, p, reason))
		return
	}
	d.nack(p, self, packet.ErrorInRoutingNack(p.FragmentIndex(), next))
}

// nack sends n back to the source of p along the hops preceding position self.
func (d *Drone) nack(p packet.Packet, self int, n packet.Nack) {
	h := p.Header.Clone()
	h.HopIndex = self
	back, err := h.SubRoute(self, -1)
	if err != nil {
		d.log.WithError(err).Warnf("Cannot build return route out of %s", p.Header)
		d.emit(control.PacketDropped(d.id, p, "no return route"))
		return
	}
	d.forward(packet.NewNack(back, p.SessionID, n))
}

// unexpectedRecipient answers a packet whose current hop is not this relay.
// The return route starts here and retraces the hops before the cursor,
// skipping trailing occurrences of this relay.
func (d *Drone) unexpectedRecipient(p packet.Packet) {
	reason := fmt.Sprintf("unexpected recipient of %s", p.Header)
	if p.Type() != packet.TypeFragment {
		d.emit(control.PacketDropped(d.id, p, reason))
		return
	}

	k := p.Header.HopIndex
	if k > p.Header.Len() {
		k = p.Header.Len()
	}
	for k > 0 && p.Header.Hops[k-1] == d.id {
		k--
	}
	hops := []routing.NodeID{d.id}
	for i := k - 1; i >= 0; i-- {
		hops = append(hops, p.Header.Hops[i])
	}
	if len(hops) < 2 {
		d.emit(control.PacketDropped(d.id, p, reason))
		return
	}
	d.forward(packet.NewNack(routing.Initialize(hops), p.SessionID,
		packet.UnexpectedRecipientNack(p.FragmentIndex(), d.id)))
}

// handleFloodRequest rebroadcasts the first request of every flood to all
// neighbors but the sender, and answers any other request.
func (d *Drone) handleFloodRequest(p packet.Packet, req packet.FloodRequest) {
	sender, hasSender := req.Sender()
	req = req.Incremented(d.id, routing.KindDrone)

	first := d.floods.Observe(req)
	var targets []routing.NodeID
	for id := range d.neighbors {
		if !hasSender || id != sender {
			targets = append(targets, id)
		}
	}

	if first && len(targets) > 0 {
		fwd := packet.NewFloodRequestPacket(p.Header, p.SessionID, req)
		d.emit(control.FloodTraceObserved(d.id, fwd, "rebroadcast"))
		for _, id := range targets {
			out := fwd.Clone()
			if err := d.neighbors[id].Send(out); err != nil {
				d.emit(control.PacketDropped(d.id, out, fmt.Sprintf("send to %s: %v", id, err)))
				continue
			}
			d.emit(control.PacketForwarded(d.id, id, out))
		}
		return
	}

	reason := "already seen"
	if first {
		reason = "no other neighbor"
	}
	resp := flood.Respond(req, p.SessionID)
	d.emit(control.FloodTraceObserved(d.id, resp, reason))
	d.forward(resp)
}

func (d *Drone) emit(ev control.Event) {
	if err := d.events.Send(ev); err != nil {
		d.log.WithError(err).Debugf("Event %s lost", ev.Type)
	}
}

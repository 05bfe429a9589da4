package endpoint

import (
	"bytes"
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycoin/skydrone/internal/testhelpers"
	"github.com/skycoin/skydrone/pkg/channel"
	"github.com/skycoin/skydrone/pkg/control"
	"github.com/skycoin/skydrone/pkg/drone"
	"github.com/skycoin/skydrone/pkg/packet"
	"github.com/skycoin/skydrone/pkg/routing"
)

func TestMain(m *testing.M) {
	loggingLevel, ok := os.LookupEnv("TEST_LOGGING_LEVEL")
	if ok {
		lvl, err := logging.LevelFromString(loggingLevel)
		if err != nil {
			log.Fatal(err)
		}
		logging.SetLevel(lvl)
	} else {
		logging.SetLevel(logrus.TraceLevel)
		logging.Disable()
	}

	os.Exit(m.Run())
}

type node struct {
	cmd *control.CommandSender
	pkt *control.PacketSender
}

type network struct {
	t      *testing.T
	evTx   *control.EventSender
	events *control.EventReceiver
	nodes  map[routing.NodeID]node
	eps    map[routing.NodeID]*Endpoint
	wg     sync.WaitGroup
}

func newNetwork(t *testing.T) *network {
	evTx, events := channel.New[control.Event]()
	return &network{
		t:      t,
		evTx:   evTx,
		events: events,
		nodes:  make(map[routing.NodeID]node),
		eps:    make(map[routing.NodeID]*Endpoint),
	}
}

func (n *network) run(r interface{ Run() }) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		r.Run()
	}()
}

func (n *network) addDrone(id routing.NodeID) {
	cmdTx, cmdRx := channel.New[control.Command]()
	pktTx, pktRx := channel.New[packet.Packet]()
	d, err := drone.New(drone.Config{ID: id, ControllerSend: n.evTx, ControllerRecv: cmdRx, PacketRecv: pktRx})
	require.NoError(n.t, err)
	n.nodes[id] = node{cmd: cmdTx, pkt: pktTx}
	n.run(d)
}

func (n *network) addEndpoint(id routing.NodeID, kind routing.NodeKind, timeout time.Duration) *Endpoint {
	cmdTx, cmdRx := channel.New[control.Command]()
	pktTx, pktRx := channel.New[packet.Packet]()
	e, err := New(Config{
		ID:              id,
		Kind:            kind,
		ControllerSend:  n.evTx,
		ControllerRecv:  cmdRx,
		PacketRecv:      pktRx,
		DiscoverBackoff: 200 * time.Millisecond,
		DiscoverTimeout: timeout,
	})
	require.NoError(n.t, err)
	n.nodes[id] = node{cmd: cmdTx, pkt: pktTx}
	n.eps[id] = e
	n.run(e)
	return e
}

func (n *network) link(a, b routing.NodeID) {
	require.NoError(n.t, n.nodes[a].cmd.Send(control.AddNeighbor{ID: b, Sender: n.nodes[b].pkt}))
}

func (n *network) connect(a, b routing.NodeID) {
	n.link(a, b)
	n.link(b, a)
}

func (n *network) close() {
	for _, nd := range n.nodes {
		require.NoError(n.t, nd.cmd.Send(control.Crash{}))
	}
	n.wg.Wait()
}

// C(1) - R(11) - R(12) - S(21)
func lineNetwork(t *testing.T) (*network, *Endpoint, *Endpoint) {
	n := newNetwork(t)
	c := n.addEndpoint(1, routing.KindClient, time.Second)
	s := n.addEndpoint(21, routing.KindServer, time.Second)
	n.addDrone(11)
	n.addDrone(12)
	n.connect(1, 11)
	n.connect(11, 12)
	n.connect(12, 21)
	return n, c, s
}

func TestEndpointDiscoverAndSend(t *testing.T) {
	n, c, s := lineNetwork(t)
	defer n.close()

	route, err := c.Discover(context.Background(), 21)
	require.NoError(t, err)
	assert.Equal(t, routing.WithFirstHop([]routing.NodeID{1, 11, 12, 21}), route)

	data := bytes.Repeat([]byte("drone"), 60)
	sessionID, err := c.Send(21, data)
	require.NoError(t, err)

	msg := testhelpers.Recv(t, s.Messages())
	assert.Equal(t, routing.NodeID(1), msg.Source)
	assert.Equal(t, sessionID, msg.SessionID)
	assert.Equal(t, data, msg.Data)

	acked := map[uint64]bool{}
	for len(acked) < 3 {
		rep := testhelpers.Recv(t, c.Reports())
		assert.Equal(t, sessionID, rep.SessionID)
		assert.Equal(t, routing.NodeID(21), rep.Reporter)
		ack, ok := rep.Payload.(packet.Ack)
		require.True(t, ok, "got %v", rep.Payload)
		acked[ack.FragmentIndex] = true
	}

	assert.Equal(t, []routing.NodeID{11, 12}, c.Topology().Nodes(routing.KindDrone))
	assert.Equal(t, 1, c.Routes().Count())
}

func TestFloodTraceReversesToRoute(t *testing.T) {
	n := newNetwork(t)
	c := n.addEndpoint(1, routing.KindClient, time.Second)
	n.addEndpoint(21, routing.KindServer, time.Second)
	for _, id := range []routing.NodeID{11, 12, 13} {
		n.addDrone(id)
	}
	n.connect(1, 11)
	n.connect(11, 12)
	n.connect(12, 13)
	n.connect(13, 21)
	defer n.close()

	full := []routing.NodeID{1, 11, 12, 13, 21}

	route, err := c.Discover(context.Background(), 21)
	require.NoError(t, err)
	assert.Equal(t, routing.WithFirstHop(full), route)

	ev, _ := testhelpers.RecvUntil(t, n.events, func(ev control.Event) bool {
		return ev.Type == control.EventFloodTraceObserved && ev.Node == 21
	})
	require.NotNil(t, ev.Packet)
	resp, ok := ev.Packet.Payload.(packet.FloodResponse)
	require.True(t, ok, "got %v", ev.Packet.Payload)
	assert.Equal(t, full, resp.PathTrace.IDs())
	assert.Equal(t, []routing.NodeID{21, 13, 12, 11, 1}, ev.Packet.Header.Hops)
	assert.Equal(t, full, ev.Packet.Header.Reversed().WithoutLoops().Hops)
}

func TestEndpointNackInvalidatesRoute(t *testing.T) {
	n, c, _ := lineNetwork(t)
	defer n.close()

	_, err := c.Discover(context.Background(), 21)
	require.NoError(t, err)

	require.NoError(t, n.nodes[11].cmd.Send(control.RemoveNeighbor{ID: 12}))
	_, err = c.Send(21, []byte("lost"))
	require.NoError(t, err)

	rep := testhelpers.Recv(t, c.Reports())
	assert.Equal(t, packet.ErrorInRoutingNack(0, 12), rep.Payload)
	assert.Equal(t, routing.NodeID(11), rep.Reporter)

	_, err = c.Send(21, []byte("lost"))
	assert.Equal(t, ErrNoRoute, err)
}

func TestEndpointDiscoverGivesUp(t *testing.T) {
	n := newNetwork(t)
	defer n.close()

	lonely := n.addEndpoint(1, routing.KindClient, 100*time.Millisecond)
	_, err := lonely.Flood()
	assert.Equal(t, ErrNoNeighbors, err)
	_, err = lonely.Discover(context.Background(), 21)
	assert.Equal(t, ErrNoRoute, err)

	n.addDrone(11)
	n.connect(1, 11)
	_, err = lonely.Discover(context.Background(), 21)
	assert.Equal(t, ErrNoRoute, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = lonely.Discover(ctx, 21)
	assert.Equal(t, context.Canceled, err)

	_, err = lonely.Send(21, []byte("x"))
	assert.Equal(t, ErrNoRoute, err)
}

func TestEndpointCommands(t *testing.T) {
	n := newNetwork(t)
	e := n.addEndpoint(2, routing.KindServer, time.Second)

	require.NoError(t, n.nodes[2].cmd.Send(control.SetDropRate{Rate: 0.5}))
	ev := testhelpers.Recv(t, n.events)
	assert.Equal(t, control.EventCommandRejected, ev.Type)

	require.NoError(t, n.nodes[2].cmd.Send(control.Crash{}))
	ev, _ = testhelpers.RecvUntil(t, n.events, func(ev control.Event) bool { return ev.Type == control.EventCrashed })
	assert.Equal(t, routing.NodeID(2), ev.Node)
	n.wg.Wait()

	_, err := e.Flood()
	assert.Equal(t, ErrCrashed, err)
	_, err = e.Messages().TryRecv()
	assert.Equal(t, channel.ErrClosed, err)
}

func TestNewEndpoint(t *testing.T) {
	evTx, _ := channel.New[control.Event]()
	_, cmdRx := channel.New[control.Command]()
	_, pktRx := channel.New[packet.Packet]()

	_, err := New(Config{ID: 1, Kind: routing.KindDrone, ControllerSend: evTx, ControllerRecv: cmdRx, PacketRecv: pktRx})
	assert.Equal(t, ErrNotEndpoint, err)

	_, err = New(Config{ID: 1, Kind: routing.KindClient})
	assert.Error(t, err)

	e, err := New(Config{ID: 7, Kind: routing.KindClient, ControllerSend: evTx, ControllerRecv: cmdRx, PacketRecv: pktRx})
	require.NoError(t, err)
	first, second := e.nextSession(), e.nextSession()
	assert.NotEqual(t, first, second)
	assert.Equal(t, uint64(7), first>>56)
}

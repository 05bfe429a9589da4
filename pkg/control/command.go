// Package control defines the control-plane vocabulary exchanged between the
// supervisor and every node: commands flowing down, events flowing up.
package control

import (
	"errors"
	"fmt"
	"math"

	"github.com/skycoin/skydrone/pkg/channel"
	"github.com/skycoin/skydrone/pkg/packet"
	"github.com/skycoin/skydrone/pkg/routing"
)

// ErrInvalidDropRate is returned for drop rates outside [0, 1].
var ErrInvalidDropRate = errors.New("drop rate must be within [0, 1]")

// Channel ends used by the network.
type (
	PacketSender    = channel.Sender[packet.Packet]
	PacketReceiver  = channel.Receiver[packet.Packet]
	CommandSender   = channel.Sender[Command]
	CommandReceiver = channel.Receiver[Command]
	EventSender     = channel.Sender[Event]
	EventReceiver   = channel.Receiver[Event]
)

// CommandType defines type of a control command.
type CommandType byte

func (ct CommandType) String() string {
	switch ct {
	case CmdAddNeighbor:
		return "AddNeighbor"
	case CmdRemoveNeighbor:
		return "RemoveNeighbor"
	case CmdSetDropRate:
		return "SetDropRate"
	case CmdCrash:
		return "Crash"
	}
	return fmt.Sprintf("Unknown(%d)", byte(ct))
}

const (
	// CmdAddNeighbor represents AddNeighbor command.
	CmdAddNeighbor CommandType = iota
	// CmdRemoveNeighbor represents RemoveNeighbor command.
	CmdRemoveNeighbor
	// CmdSetDropRate represents SetDropRate command.
	CmdSetDropRate
	// CmdCrash represents Crash command.
	CmdCrash
)

// Command is implemented by AddNeighbor, RemoveNeighbor, SetDropRate and Crash.
type Command interface {
	Type() CommandType
	fmt.Stringer
	isCommand()
}

// AddNeighbor inserts or replaces the outbound channel towards ID.
type AddNeighbor struct {
	ID     routing.NodeID
	Sender *PacketSender
}

// RemoveNeighbor forgets the outbound channel towards ID. Removing an unknown
// neighbor is a no-op.
type RemoveNeighbor struct {
	ID routing.NodeID
}

// SetDropRate replaces the probability of dropping fragments.
type SetDropRate struct {
	Rate float64
}

// Crash makes a node stop forwarding fragments and exit once its inbound
// data channel is drained.
type Crash struct{}

// Type implements Command.
func (AddNeighbor) Type() CommandType { return CmdAddNeighbor }

// Type implements Command.
func (RemoveNeighbor) Type() CommandType { return CmdRemoveNeighbor }

// Type implements Command.
func (SetDropRate) Type() CommandType { return CmdSetDropRate }

// Type implements Command.
func (Crash) Type() CommandType { return CmdCrash }

func (AddNeighbor) isCommand()    {}
func (RemoveNeighbor) isCommand() {}
func (SetDropRate) isCommand()    {}
func (Crash) isCommand()          {}

func (c AddNeighbor) String() string    { return fmt.Sprintf("AddNeighbor(%s)", c.ID) }
func (c RemoveNeighbor) String() string { return fmt.Sprintf("RemoveNeighbor(%s)", c.ID) }
func (c SetDropRate) String() string    { return fmt.Sprintf("SetDropRate(%g)", c.Rate) }
func (Crash) String() string            { return "Crash" }

// ValidateDropRate checks that rate is a probability.
func ValidateDropRate(rate float64) error {
	if math.IsNaN(rate) || rate < 0 || rate > 1 {
		return ErrInvalidDropRate
	}
	return nil
}

// Package message splits endpoint messages into fragment packets and
// reassembles them on the receiving side.
package message

import (
	"errors"
	"fmt"
	"sync"

	"github.com/skycoin/skydrone/pkg/packet"
	"github.com/skycoin/skydrone/pkg/routing"
)

// ErrTotalMismatch is returned when fragments of one session disagree on the fragment count.
var ErrTotalMismatch = errors.New("fragment count mismatch within session")

// Disassemble splits data into fragment packets sharing h and sessionID.
// Empty data yields a single empty fragment.
func Disassemble(h routing.Header, sessionID uint64, data []byte) []packet.Packet {
	total := (len(data) + packet.FragmentSize - 1) / packet.FragmentSize
	if total == 0 {
		total = 1
	}

	out := make([]packet.Packet, 0, total)
	for i := 0; i < total; i++ {
		end := (i + 1) * packet.FragmentSize
		if end > len(data) {
			end = len(data)
		}
		f, err := packet.NewFragment(uint64(i), uint64(total), data[i*packet.FragmentSize:end])
		if err != nil {
			panic(fmt.Sprintf("fragment %d/%d: %s", i, total, err))
		}
		out = append(out, packet.NewFragmentPacket(h.Clone(), sessionID, f))
	}
	return out
}

type session struct {
	total     uint64
	fragments map[uint64][]byte
}

// Assembler collects fragments by session id. It is safe for concurrent use.
type Assembler struct {
	mu       sync.Mutex
	sessions map[uint64]*session
}

// NewAssembler creates an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{sessions: make(map[uint64]*session)}
}

// Add records the fragment carried by p. Once every fragment of the session
// is present the message is returned with done set and the session is
// forgotten. Duplicate fragments are ignored.
func (a *Assembler) Add(p packet.Packet) (msg []byte, done bool, err error) {
	f, ok := p.Payload.(packet.Fragment)
	if !ok {
		return nil, false, fmt.Errorf("cannot assemble %s payload", p.Type())
	}
	if f.Index >= f.Total {
		return nil, false, packet.ErrFragmentIndex
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sessions[p.SessionID]
	if !ok {
		s = &session{total: f.Total, fragments: make(map[uint64][]byte)}
		a.sessions[p.SessionID] = s
	}
	if s.total != f.Total {
		return nil, false, ErrTotalMismatch
	}
	if _, dup := s.fragments[f.Index]; !dup {
		s.fragments[f.Index] = f.Bytes()
	}
	if uint64(len(s.fragments)) < s.total {
		return nil, false, nil
	}

	delete(a.sessions, p.SessionID)
	for i := uint64(0); i < s.total; i++ {
		msg = append(msg, s.fragments[i]...)
	}
	if msg == nil {
		msg = []byte{}
	}
	return msg, true, nil
}

// Pending returns the number of sessions still missing fragments.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

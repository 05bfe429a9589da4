package packet

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// FragmentSize is the capacity of a fragment data buffer.
const FragmentSize = 128

// fragmentPreview is the number of data bytes rendered by Fragment.String.
const fragmentPreview = 20

var (
	// ErrFragmentIndex is returned when a fragment index is not lower than the fragment count.
	ErrFragmentIndex = errors.New("fragment index out of range")
	// ErrFragmentTooLarge is returned when data does not fit into a single fragment.
	ErrFragmentTooLarge = errors.New("fragment data exceeds capacity")
)

// Fragment is one piece of a larger message.
type Fragment struct {
	Index  uint64
	Total  uint64
	Length uint8
	Data   [FragmentSize]byte
}

// NewFragment creates a fragment holding exactly data.
func NewFragment(index, total uint64, data []byte) (Fragment, error) {
	if len(data) > FragmentSize {
		return Fragment{}, ErrFragmentTooLarge
	}
	return FragmentFromBytes(index, total, data)
}

// FragmentFromBytes creates a fragment out of data, truncating it to
// FragmentSize. The unused part of the buffer is zeroed.
func FragmentFromBytes(index, total uint64, data []byte) (Fragment, error) {
	if index >= total {
		return Fragment{}, ErrFragmentIndex
	}
	f := Fragment{Index: index, Total: total}
	f.Length = uint8(copy(f.Data[:], data))
	return f, nil
}

// Bytes returns a copy of the meaningful part of the buffer. A Length past
// FragmentSize is clamped.
func (f Fragment) Bytes() []byte {
	return append([]byte(nil), f.Data[:f.size()]...)
}

func (f Fragment) size() int {
	if n := int(f.Length); n < FragmentSize {
		return n
	}
	return FragmentSize
}

// Type implements Payload.
func (Fragment) Type() Type { return TypeFragment }

func (f Fragment) clone() Payload { return f }

// String renders something like:
// Fragment{index: 1 out of 2, data: 0xf219a352ddfc1b4a... + other 60 bytes}
func (f Fragment) String() string {
	n := f.size()
	if n <= fragmentPreview {
		return fmt.Sprintf("Fragment{index: %d out of %d, data: 0x%s}",
			f.Index+1, f.Total, hex.EncodeToString(f.Data[:n]))
	}
	return fmt.Sprintf("Fragment{index: %d out of %d, data: 0x%s... + other %d bytes}",
		f.Index+1, f.Total, hex.EncodeToString(f.Data[:fragmentPreview]), n-fragmentPreview)
}

// Package channel implements the unbounded multi-producer single-consumer
// channels nodes of the network talk over.
package channel

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrDisconnected is returned by Send once the receiving side is gone.
	ErrDisconnected = errors.New("receiver disconnected")
	// ErrClosed is returned by Send on a closed channel, and by receives once
	// a closed channel is drained.
	ErrClosed = errors.New("channel closed")
	// ErrEmpty is returned by TryRecv when nothing is queued.
	ErrEmpty = errors.New("channel empty")
)

type queue[T any] struct {
	mu           sync.Mutex
	items        []T
	closed       bool
	disconnected bool

	// notEmpty holds a token whenever a receive may succeed.
	notEmpty chan struct{}
}

func (q *queue[T]) signal() {
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}

// Sender is the producing side of a channel. It is safe for concurrent use
// and may be copied and handed to any number of producers.
type Sender[T any] struct {
	q *queue[T]
}

// Receiver is the consuming side of a channel. It must be used by a single
// goroutine.
type Receiver[T any] struct {
	q *queue[T]
}

// New creates an unbounded channel.
func New[T any]() (*Sender[T], *Receiver[T]) {
	q := &queue[T]{notEmpty: make(chan struct{}, 1)}
	return &Sender[T]{q: q}, &Receiver[T]{q: q}
}

// Send queues v without blocking.
func (s *Sender[T]) Send(v T) error {
	s.q.mu.Lock()
	switch {
	case s.q.disconnected:
		s.q.mu.Unlock()
		return ErrDisconnected
	case s.q.closed:
		s.q.mu.Unlock()
		return ErrClosed
	}
	s.q.items = append(s.q.items, v)
	s.q.mu.Unlock()

	s.q.signal()
	return nil
}

// Close stops accepting values. Values already queued are still delivered.
func (s *Sender[T]) Close() {
	s.q.mu.Lock()
	s.q.closed = true
	s.q.mu.Unlock()

	s.q.signal()
}

// TryRecv dequeues a value without blocking. It returns ErrEmpty when nothing
// is queued, and ErrClosed when the channel is closed and drained.
func (r *Receiver[T]) TryRecv() (T, error) {
	var zero T

	r.q.mu.Lock()
	defer r.q.mu.Unlock()

	if len(r.q.items) == 0 {
		if r.q.closed || r.q.disconnected {
			return zero, ErrClosed
		}
		return zero, ErrEmpty
	}
	v := r.q.items[0]
	r.q.items[0] = zero
	r.q.items = r.q.items[1:]
	if len(r.q.items) == 0 {
		r.q.items = nil
	}
	return v, nil
}

// Ready returns a channel that fires when a receive may succeed. A fired
// channel does not guarantee a value; callers retry TryRecv.
func (r *Receiver[T]) Ready() <-chan struct{} {
	return r.q.notEmpty
}

// Recv dequeues a value, blocking until one is queued, the channel is closed
// and drained (ErrClosed), or ctx is done.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	for {
		v, err := r.TryRecv()
		if err != ErrEmpty {
			return v, err
		}
		select {
		case <-r.q.notEmpty:
		case <-ctx.Done():
			return v, ctx.Err()
		}
	}
}

// Len returns the number of queued values.
func (r *Receiver[T]) Len() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return len(r.q.items)
}

// Disconnect makes every later Send fail with ErrDisconnected and returns the
// values still queued. No value accepted by Send is lost between the last
// receive and Disconnect.
func (r *Receiver[T]) Disconnect() []T {
	r.q.mu.Lock()
	r.q.disconnected = true
	left := r.q.items
	r.q.items = nil
	r.q.mu.Unlock()

	r.q.signal()
	return left
}

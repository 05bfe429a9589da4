// Package eventlog stores the events emitted by the nodes of a simulation
// run, for live inspection and post-run audit.
package eventlog

import (
	"sync"
	"time"

	"github.com/skycoin/skydrone/pkg/control"
)

// Record is a stored event.
type Record struct {
	Seq   uint64        `json:"seq"`
	Event control.Event `json:"event"`
}

// RangeFunc is used by Range to iterate over records.
type RangeFunc func(r Record) (next bool)

// Store records events in arrival order.
type Store interface {
	// Record appends ev and returns its sequence number, starting at 1.
	Record(ev control.Event) (uint64, error)

	// Range iterates over records with a sequence number of at least from,
	// in order, until `next` is false.
	Range(from uint64, rangeFunc RangeFunc) error

	// Count returns the number of records stored.
	Count() int

	// Close safely closes the store.
	Close() error
}

type inMemoryStore struct {
	sync.RWMutex

	records []Record
}

// InMemoryStore returns an in-memory Store implementation.
func InMemoryStore() Store {
	return &inMemoryStore{}
}

func (s *inMemoryStore) Record(ev control.Event) (uint64, error) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	s.Lock()
	seq := uint64(len(s.records)) + 1
	s.records = append(s.records, Record{Seq: seq, Event: ev})
	s.Unlock()

	return seq, nil
}

func (s *inMemoryStore) Range(from uint64, rangeFunc RangeFunc) error {
	s.RLock()
	records := s.records
	s.RUnlock()

	if from > 0 {
		from--
	}
	for i := from; i < uint64(len(records)); i++ {
		if !rangeFunc(records[i]) {
			break
		}
	}
	return nil
}

func (s *inMemoryStore) Count() int {
	s.RLock()
	count := len(s.records)
	s.RUnlock()
	return count
}

func (s *inMemoryStore) Close() error {
	return nil
}

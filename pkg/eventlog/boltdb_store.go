package eventlog

import (
	"encoding/binary"
	"encoding/json"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"
	"go.etcd.io/bbolt"

	"github.com/skycoin/skydrone/pkg/control"
)

var log = logging.MustGetLogger("eventlog")

// boltDBStore implements Store on top of BoltDB. Every simulation run gets
// its own bucket, named after the run id.
type boltDBStore struct {
	db     *bbolt.DB
	bucket []byte
}

// BoltDBStore opens the BoltDB file at path and stores events of run runID.
func BoltDBStore(path, runID string) (Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open trace db %s", path)
	}

	bucket := []byte(runID)
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return pkgerrors.Wrap(err, "failed to create bucket")
		}
		return nil
	})
	if err != nil {
		if cErr := db.Close(); cErr != nil {
			log.WithError(cErr).Warn("Failed to close trace db")
		}
		return nil, err
	}

	return &boltDBStore{db: db, bucket: bucket}, nil
}

// Record appends ev under the next sequence number of the run bucket.
func (s *boltDBStore) Record(ev control.Event) (seq uint64, err error) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		seq, err = b.NextSequence()
		if err != nil {
			return err
		}

		raw, err := json.Marshal(Record{Seq: seq, Event: ev})
		if err != nil {
			return err
		}
		return b.Put(binarySeq(seq), raw)
	})
	return seq, pkgerrors.Wrap(err, "failed to record event")
}

// Range iterates over the records of the run bucket in sequence order.
func (s *boltDBStore) Range(from uint64, rangeFunc RangeFunc) error {
	return rangeBucket(s.db, s.bucket, from, rangeFunc)
}

func rangeBucket(db *bbolt.DB, bucket []byte, from uint64, rangeFunc RangeFunc) error {
	return db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return pkgerrors.Errorf("run %s not found", bucket)
		}

		c := b.Cursor()
		for k, v := c.Seek(binarySeq(from)); k != nil; k, v = c.Next() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				log.WithError(err).Warnf("Skipping corrupted record %d", binary.BigEndian.Uint64(k))
				continue
			}
			if !rangeFunc(r) {
				return nil
			}
		}
		return nil
	})
}

// Count returns the number of records of the run bucket.
func (s *boltDBStore) Count() (count int) {
	err := s.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket(s.bucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0
	}
	return count
}

// Close closes underlying BoltDB instance.
func (s *boltDBStore) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Runs lists the run ids stored in the BoltDB file at path.
func Runs(path string) ([]string, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open trace db %s", path)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("Failed to close trace db")
		}
	}()

	var runs []string
	err = db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			runs = append(runs, string(name))
			return nil
		})
	})
	return runs, err
}

// ReadRun iterates over the records of run runID stored in the BoltDB file at path.
func ReadRun(path, runID string, from uint64, rangeFunc RangeFunc) error {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second, ReadOnly: true})
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open trace db %s", path)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("Failed to close trace db")
		}
	}()

	return rangeBucket(db, []byte(runID), from, rangeFunc)
}

func binarySeq(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

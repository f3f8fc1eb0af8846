package oracle

import (
	"encoding/binary"
	"time"

	"github.com/guildnet/gnoracle/ledger"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	bbolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

// State is the lifecycle of a request as seen by this operator.
type State int32

const (
	// Open requests are delegated to us and not answered yet.
	Open State = iota
	// Answered requests were accepted by the ledger.
	Answered
	// Expired requests were refused by the ledger as expired or unknown.
	Expired
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Answered:
		return "answered"
	case Expired:
		return "expired"
	}
	return "unknown"
}

// Closed is true for requests that must not be answered again.
func (s State) Closed() bool {
	return s == Answered || s == Expired
}

// Record is the answer log entry of a request.
type Record struct {
	RequestID uint64
	State     State
	Result    []byte
	// BatchID is the batch the answer was submitted in.
	BatchID string
	// Height is the block the request was seen in.
	Height uint64
}

var defaultBucket = []byte("gnoracle-answers")

// AnswerLog remembers which requests were handled so that a restarted
// operator does not answer twice.
type AnswerLog struct {
	db     *bbolt.DB
	bucket []byte
	owned  bool
}

// OpenAnswerLog opens or creates the database file.
func OpenAnswerLog(path string) (*AnswerLog, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, xerrors.Errorf("opening answer log: %w", err)
	}
	l, err := NewAnswerLog(db, defaultBucket)
	if err != nil {
		db.Close()
		return nil, err
	}
	l.owned = true
	return l, nil
}

// NewAnswerLog uses a bucket of an open database.
func NewAnswerLog(db *bbolt.DB, bucket []byte) (*AnswerLog, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, xerrors.Errorf("creating bucket: %w", err)
	}
	return &AnswerLog{db: db, bucket: bucket}, nil
}

// Close closes the database if it was opened by OpenAnswerLog.
func (l *AnswerLog) Close() error {
	if !l.owned {
		return nil
	}
	return l.db.Close()
}

func recordKey(id ledger.RequestID) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

// Get returns the record of the request, or nil.
func (l *AnswerLog) Get(id ledger.RequestID) (*Record, error) {
	var rec *Record
	err := l.db.View(func(tx *bbolt.Tx) error {
		buf := tx.Bucket(l.bucket).Get(recordKey(id))
		if buf == nil {
			return nil
		}
		rec = &Record{}
		return protobuf.Decode(buf, rec)
	})
	if err != nil {
		return nil, xerrors.Errorf("reading record %d: %w", id, err)
	}
	return rec, nil
}

// Closed returns whether the request was answered or expired.
func (l *AnswerLog) Closed(id ledger.RequestID) (bool, error) {
	rec, err := l.Get(id)
	if err != nil || rec == nil {
		return false, err
	}
	return rec.State.Closed(), nil
}

// Put stores the records in one transaction. A closed record is never
// reopened.
func (l *AnswerLog) Put(recs ...Record) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(l.bucket)
		for _, rec := range recs {
			key := recordKey(ledger.RequestID(rec.RequestID))
			if old := b.Get(key); old != nil && rec.State == Open {
				var prev Record
				if err := protobuf.Decode(old, &prev); err == nil && prev.State.Closed() {
					log.Lvl3("Keeping closed record", rec.RequestID)
					continue
				}
			}
			buf, err := protobuf.Encode(&rec)
			if err != nil {
				return xerrors.Errorf("encoding record: %w", err)
			}
			if err := b.Put(key, buf); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of records per state.
func (l *AnswerLog) Count() (map[State]int, error) {
	counts := make(map[State]int)
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(l.bucket).ForEach(func(k, v []byte) error {
			var rec Record
			if err := protobuf.Decode(v, &rec); err != nil {
				return err
			}
			counts[rec.State]++
			return nil
		})
	})
	return counts, err
}

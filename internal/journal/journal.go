// Package journal keeps an append-only log of chat activity in a bbolt file.
// Records are protobuf wire encoded and tagged with the id of the server run
// that wrote them. The journal is write-mostly: the server never reads it
// back to rebuild state.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	eventsBucket = []byte("events")

	// ErrClosed is returned when recording into a closed journal.
	ErrClosed = errors.New("journal is closed")
)

// Kind identifies what happened.
type Kind int32

const (
	KindUnknown Kind = iota
	KindConnect
	KindDisconnect
	KindJoin
	KindLeave
	KindNick
	KindMessage
	KindPrivate
)

var kindNames = map[Kind]string{
	KindConnect:    "connect",
	KindDisconnect: "disconnect",
	KindJoin:       "join",
	KindLeave:      "leave",
	KindNick:       "nick",
	KindMessage:    "message",
	KindPrivate:    "private",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int32(k))
}

// Event is one piece of chat activity.
type Event struct {
	Kind    Kind
	Session int
	Name    string
	Text    string
	Remote  string
	Target  int
	Time    time.Time
}

// Record is an Event as read back from storage.
type Record struct {
	Seq uint64
	Run string
	Event
}

// Recorder accepts chat events.
type Recorder interface {
	Record(Event) error
}

type discard struct{}

func (discard) Record(Event) error { return nil }

// Discard is a Recorder that drops every event.
var Discard Recorder = discard{}

// Journal is a bbolt-backed Recorder.
type Journal struct {
	db  *bolt.DB
	run string
}

// Open creates or opens the journal file at path.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(eventsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal bucket: %w", err)
	}

	return &Journal{db: db, run: uuid.NewString()}, nil
}

// Run returns the id stamped on every record written through this Journal.
func (j *Journal) Run() string { return j.run }

// Record appends ev. A zero Time is replaced with the current time.
// Concurrent callers share one commit, so sessions recording at the same
// time wait on a single disk sync.
func (j *Journal) Record(ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	data := Marshal(j.run, ev)

	err := j.db.Batch(func(tx *bolt.Tx) error {
		b := tx.Bucket(eventsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

// Replay calls fn for every stored record in write order. It stops at the
// first error returned by fn.
func (j *Journal) Replay(fn func(Record) error) error {
	return j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(eventsBucket).ForEach(func(k, v []byte) error {
			rec, err := Unmarshal(v)
			if err != nil {
				return fmt.Errorf("record %x: %w", k, err)
			}
			rec.Seq = binary.BigEndian.Uint64(k)
			return fn(rec)
		})
	})
}

// Count returns the number of stored records.
func (j *Journal) Count() int {
	var n int
	_ = j.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(eventsBucket).Stats().KeyN
		return nil
	})
	return n
}

// Close releases the underlying file.
func (j *Journal) Close() error {
	return j.db.Close()
}

func seqKey(seq uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	return key[:]
}

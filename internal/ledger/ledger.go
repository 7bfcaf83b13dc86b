// Package ledger persists the recovery ledger: the append-only sequence of
// recording ids this node has already replayed into its state. The ledger
// survives restarts so a restarted node does not re-apply history.
package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"

	"github.com/flowmesh/clusternode/internal/logger"
)

const entryKeyLength = 8

// Ledger is a durable append-only sequence of recording ids backed by a
// Pebble database. Entries are keyed by a monotone sequence number so
// ForEach observes them in append order. There is no delete operation.
type Ledger struct {
	db      *pebble.DB
	nextSeq uint64
	log     zerolog.Logger
}

// Open opens (or creates) the ledger database in dir and positions the
// append sequence after the last durable entry.
func Open(dir string) (*Ledger, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	l := &Ledger{
		db:  db,
		log: logger.WithComponent("ledger"),
	}

	iter, err := db.NewIter(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create ledger iterator: %w", err)
	}
	defer iter.Close()

	if iter.Last() && iter.Valid() {
		key := iter.Key()
		if len(key) != entryKeyLength {
			_ = db.Close()
			return nil, CorruptEntryError{KeyLen: len(key), ValueLen: len(iter.Value())}
		}
		l.nextSeq = binary.BigEndian.Uint64(key) + 1
	}

	l.log.Info().Str("dir", dir).Uint64("entries", l.nextSeq).Msg("Recovery ledger opened")

	return l, nil
}

// Append durably records one more replayed recording id. The entry is
// synced before Append returns, so it is observed by ForEach on any
// subsequent Open.
func (l *Ledger) Append(recordingID int64) error {
	var key [entryKeyLength]byte
	var value [8]byte
	binary.BigEndian.PutUint64(key[:], l.nextSeq)
	binary.BigEndian.PutUint64(value[:], uint64(recordingID))

	if err := l.db.Set(key[:], value[:], pebble.Sync); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	l.log.Debug().Int64("recording_id", recordingID).Uint64("seq", l.nextSeq).Msg("Ledger entry appended")
	l.nextSeq++

	return nil
}

// ForEach visits every recorded id in append order. Iteration stops on the
// first error the visitor returns.
func (l *Ledger) ForEach(fn func(recordingID int64) error) error {
	iter, err := l.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("failed to create ledger iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value := iter.Value()
		if len(value) != 8 {
			return CorruptEntryError{
				Seq:      binary.BigEndian.Uint64(iter.Key()),
				KeyLen:   len(iter.Key()),
				ValueLen: len(value),
			}
		}

		if err := fn(int64(binary.BigEndian.Uint64(value))); err != nil {
			return err
		}
	}

	return iter.Error()
}

// Last returns the most recently appended recording id, or ok=false when
// the ledger is empty.
func (l *Ledger) Last() (recordingID int64, ok bool, err error) {
	iter, err := l.db.NewIter(nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create ledger iterator: %w", err)
	}
	defer iter.Close()

	if !iter.Last() || !iter.Valid() {
		return 0, false, iter.Error()
	}

	value := iter.Value()
	if len(value) != 8 {
		return 0, false, CorruptEntryError{
			Seq:      binary.BigEndian.Uint64(iter.Key()),
			KeyLen:   len(iter.Key()),
			ValueLen: len(value),
		}
	}

	return int64(binary.BigEndian.Uint64(value)), true, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

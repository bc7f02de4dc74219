// SPDX-License-Identifier: MIT
package archive

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"rosettas/internal/log"

	badger "github.com/dgraph-io/badger/v4"
)

var (
	entryPrefix = []byte("entry/")
	seqKey      = []byte("meta/seq")
)

// Badger is a Store backed by an embedded BadgerDB. Keys are
// entry/<unix nanos><save sequence>, both big endian, so key order is save
// order; values are JSON.
type Badger struct {
	db       *badger.DB
	seq      *badger.Sequence
	capacity int
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool

	Capacity int
}

func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("archive: BadgerOptions.Dir is required for on-disk mode")
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}

	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(log.Badger())
	if opts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("archive: failed to open badger at %q: %w", opts.Dir, err)
	}

	seq, err := db.GetSequence(seqKey, 16)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: failed to lease sequence: %w", err)
	}

	return &Badger{db: db, seq: seq, capacity: opts.Capacity}, nil
}

func entryKey(e Entry, seq uint64) []byte {
	k := make([]byte, 0, len(entryPrefix)+16)
	k = append(k, entryPrefix...)
	k = binary.BigEndian.AppendUint64(k, uint64(e.Timestamp.UnixNano()))
	return binary.BigEndian.AppendUint64(k, seq)
}

func (b *Badger) Save(_ context.Context, e Entry) error {
	n, err := b.seq.Next()
	if err != nil {
		return fmt.Errorf("archive: sequence: %w", err)
	}
	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("archive: encode entry: %w", err)
	}

	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e, n), val)
	}); err != nil {
		return fmt.Errorf("archive: save: %w", err)
	}
	return b.prune()
}

// prune deletes the oldest entries beyond capacity.
func (b *Badger) prune() error {
	return b.db.Update(func(txn *badger.Txn) error {
		var keys [][]byte
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		iterOpts.Prefix = entryPrefix
		it := txn.NewIterator(iterOpts)
		for it.Seek(entryPrefix); it.ValidForPrefix(entryPrefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys[:max(0, len(keys)-b.capacity)] {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) List(_ context.Context) ([]Entry, error) {
	var entries []Entry
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Reverse = true
		iterOpts.Prefix = entryPrefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		seek := append(append([]byte(nil), entryPrefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(entryPrefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e Entry
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	return entries, nil
}

func (b *Badger) Clear(_ context.Context) error {
	if err := b.db.DropPrefix(entryPrefix); err != nil {
		return fmt.Errorf("archive: clear: %w", err)
	}
	return nil
}

func (b *Badger) Close() error {
	err := b.seq.Release()
	return errors.Join(err, b.db.Close())
}

var _ Store = (*Badger)(nil)

// SPDX-License-Identifier: MPL-2.0

package store

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/invowk/upkeep/internal/clock"
)

// keyPrefix namespaces every key written by this package.
const keyPrefix = "upkeep:"

type (
	// Badger is an OptionStore and EphemeralStore backed by a BadgerDB
	// database. Every write runs in its own transaction, so a value is
	// always replaced as a whole.
	Badger struct {
		db    *badger.DB
		clock clock.Clock
	}

	// BadgerOption configures a Badger store during construction.
	BadgerOption func(*badgerConfig)

	badgerConfig struct {
		clock    clock.Clock
		inMemory bool
	}
)

var (
	_ OptionStore    = (*Badger)(nil)
	_ EphemeralStore = (*Badger)(nil)
)

// WithClock sets the clock used to evaluate expiry.
func WithClock(c clock.Clock) BadgerOption {
	return func(cfg *badgerConfig) {
		cfg.clock = c
	}
}

// WithInMemory keeps the database in memory only; the directory is ignored.
func WithInMemory() BadgerOption {
	return func(cfg *badgerConfig) {
		cfg.inMemory = true
	}
}

// OpenBadger opens (or creates) a BadgerDB database in dir.
func OpenBadger(dir string, opts ...BadgerOption) (*Badger, error) {
	cfg := badgerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	var bopts badger.Options
	if cfg.inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory %s: %w", dir, err)
		}
		bopts = badger.DefaultOptions(dir)
	}
	bopts = bopts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(bopts)
	if err != nil {
		// badger reports a held directory lock only through its message.
		if strings.Contains(err.Error(), "directory lock") {
			return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
		}
		return nil, fmt.Errorf("opening badger database: %w", err)
	}

	return &Badger{db: db, clock: clock.OrReal(cfg.clock)}, nil
}

// Close flushes and closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}

// Get returns a live value for key.
func (b *Badger) Get(key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}

	var (
		value []byte
		found bool
	)
	err := b.db.View(func(txn *badger.Txn) error {
		raw, ok, err := readRaw(txn, key)
		if err != nil || !ok {
			return err
		}
		value, found = decodeEnvelope(raw, b.clock.Now())
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", key, err)
	}
	return value, found, nil
}

// Set stores value without expiry.
func (b *Badger) Set(key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dbKey(key), encodeEnvelope(value, time.Time{}))
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// SetWithTTL stores value until ttl elapses.
func (b *Badger) SetWithTTL(key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(b.ttlEntry(key, value, ttl))
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// SetIfAbsent stores value only when key has no live entry. A concurrent
// writer that commits first makes this call report false.
func (b *Badger) SetIfAbsent(key string, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	written := false
	err := b.db.Update(func(txn *badger.Txn) error {
		raw, ok, err := readRaw(txn, key)
		if err != nil {
			return err
		}
		if ok {
			if _, live := decodeEnvelope(raw, b.clock.Now()); live {
				return nil
			}
		}
		written = true
		return txn.SetEntry(b.ttlEntry(key, value, ttl))
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("writing %s: %w", key, err)
	}
	return written, nil
}

// CompareAndSwap stores value only when the live entry for key equals old.
// A concurrent writer that commits first makes this call report false.
func (b *Badger) CompareAndSwap(key string, old, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	swapped := false
	err := b.db.Update(func(txn *badger.Txn) error {
		raw, ok, err := readRaw(txn, key)
		if err != nil || !ok {
			return err
		}
		current, live := decodeEnvelope(raw, b.clock.Now())
		if !live || !bytes.Equal(current, old) {
			return nil
		}
		swapped = true
		return txn.SetEntry(b.ttlEntry(key, value, ttl))
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("writing %s: %w", key, err)
	}
	return swapped, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (b *Badger) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dbKey(key))
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// ttlEntry builds an entry whose envelope expiry follows the injected clock;
// badger's own TTL lets compaction reclaim it.
func (b *Badger) ttlEntry(key string, value []byte, ttl time.Duration) *badger.Entry {
	envelope := encodeEnvelope(value, b.clock.Now().Add(ttl))
	return badger.NewEntry(dbKey(key), envelope).WithTTL(ttl)
}

func readRaw(txn *badger.Txn, key string) ([]byte, bool, error) {
	item, err := txn.Get(dbKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func dbKey(key string) []byte {
	return []byte(keyPrefix + key)
}

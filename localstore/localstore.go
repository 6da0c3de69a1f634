// Package localstore is the device-local persistence layer.  Each collection
// is stored as a single JSON blob under one badger key, so a crash mid-write
// leaves either the old or the new collection, never a mix.
package localstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger"

	"github.com/israfil-hossain/mediremind/dbtypes"
)

// Key prefixes that denote the different tables in the key-value store.
const (
	keyPrefixCollection = "c/"
	keyPrefixMeta       = "m/"
)

func collectionKey(col dbtypes.Collection) []byte {
	return []byte(keyPrefixCollection + string(col))
}

func metaKey(name string) []byte {
	return []byte(keyPrefixMeta + name)
}

// Well-known meta entries shared by the storage and sync layers.
const (
	// UserProfileMeta holds the signed-in user's health profile as JSON.
	UserProfileMeta = "profile/user"

	// ActiveProfileMeta holds the id of the currently selected family
	// profile.
	ActiveProfileMeta = "profile/active"
)

// Store is a collection-blob store over badger.  Writers to the same
// collection are serialized by a per-collection mutex, so concurrent
// read-modify-write cycles cannot lose updates.
type Store struct {
	db *badger.DB

	mu     sync.Mutex
	colMu  map[dbtypes.Collection]*sync.Mutex
	metaMu sync.Mutex
}

// Open opens (creating if needed) the store rooted at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("while opening badger at %q: %w", dir, err)
	}
	return &Store{
		db:    db,
		colMu: map[dbtypes.Collection]*sync.Mutex{},
	}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) lockFor(col dbtypes.Collection) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.colMu[col]
	if !ok {
		mu = &sync.Mutex{}
		s.colMu[col] = mu
	}
	return mu
}

func (s *Store) readRaw(key []byte) ([]byte, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("while reading %q: %w", key, err)
	}
	return raw, nil
}

func (s *Store) writeRaw(key, val []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
	if err != nil {
		return fmt.Errorf("while writing %q: %w", key, err)
	}
	return nil
}

// List decodes the collection into out, which must be a pointer to a slice.
// A missing or corrupt collection yields an empty slice and no error: the UI
// must treat empty as "no data yet", never as proof of deletion.
func (s *Store) List(col dbtypes.Collection, out any) error {
	mu := s.lockFor(col)
	mu.Lock()
	defer mu.Unlock()
	return s.listLocked(col, out)
}

func (s *Store) listLocked(col dbtypes.Collection, out any) error {
	raw, err := s.readRaw(collectionKey(col))
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		// Fail open: a corrupt blob reads as empty rather than wedging
		// every caller.
		slog.Warn("Ignoring corrupt collection blob", slog.String("collection", string(col)), slog.Any("err", err))
		return nil
	}
	return nil
}

// Put replaces the whole collection with v.
func (s *Store) Put(col dbtypes.Collection, v any) error {
	mu := s.lockFor(col)
	mu.Lock()
	defer mu.Unlock()
	return s.putLocked(col, v)
}

func (s *Store) putLocked(col dbtypes.Collection, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("while marshaling collection %q: %w", col, err)
	}
	return s.writeRaw(collectionKey(col), raw)
}

// Update runs a read-modify-write cycle on the collection under its lock.
// out must be a pointer to a slice; mutate edits it in place and reports
// whether the collection should be written back.
func (s *Store) Update(col dbtypes.Collection, out any, mutate func() (bool, error)) error {
	mu := s.lockFor(col)
	mu.Lock()
	defer mu.Unlock()

	if err := s.listLocked(col, out); err != nil {
		return err
	}
	write, err := mutate()
	if err != nil {
		return err
	}
	if !write {
		return nil
	}
	return s.putLocked(col, out)
}

// GetMeta reads a scalar metadata value.  The second return is false when the
// key has never been written.
func (s *Store) GetMeta(name string) ([]byte, bool, error) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	raw, err := s.readRaw(metaKey(name))
	if err != nil {
		return nil, false, err
	}
	return raw, raw != nil, nil
}

// SetMeta writes a scalar metadata value.
func (s *Store) SetMeta(name string, val []byte) error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	return s.writeRaw(metaKey(name), val)
}

// DeleteMeta removes a scalar metadata value.
func (s *Store) DeleteMeta(name string) error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(metaKey(name))
	})
	if err != nil {
		return fmt.Errorf("while deleting %q: %w", name, err)
	}
	return nil
}

// Copyright (c) 2018-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fees

import (
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// stateKey is the key under which the estimate stream is kept.
var stateKey = []byte("feeestimates")

// Store persists a single estimate stream blob.
type Store interface {
	// Get returns the stored blob or nil when nothing was stored yet.
	Get() ([]byte, error)

	// Put replaces the stored blob.
	Put(blob []byte) error

	// Close releases the underlying database.
	Close() error
}

// LevelDBStore is a Store backed by goleveldb.
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDBStore opens (creating when missing) a goleveldb database at
// path.
func OpenLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if ldberrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open fee database %s", path)
	}
	return &LevelDBStore{db: db}, nil
}

// Get returns the stored blob.
func (s *LevelDBStore) Get() ([]byte, error) {
	blob, err := s.db.Get(stateKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read fee estimates")
	}
	return blob, nil
}

// Put replaces the stored blob.
func (s *LevelDBStore) Put(blob []byte) error {
	err := s.db.Put(stateKey, blob, &opt.WriteOptions{Sync: true})
	return errors.Wrap(err, "write fee estimates")
}

// Close closes the database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

// PebbleStore is a Store backed by pebble.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebbleStore opens (creating when missing) a pebble database at path.
func OpenPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open fee database %s", path)
	}
	return &PebbleStore{db: db}, nil
}

// Get returns the stored blob.
func (s *PebbleStore) Get() ([]byte, error) {
	val, closer, err := s.db.Get(stateKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read fee estimates")
	}
	defer closer.Close()
	blob := make([]byte, len(val))
	copy(blob, val)
	return blob, nil
}

// Put replaces the stored blob.
func (s *PebbleStore) Put(blob []byte) error {
	return errors.Wrap(s.db.Set(stateKey, blob, pebble.Sync),
		"write fee estimates")
}

// Close closes the database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// OpenStore opens a store of the named backend ("leveldb" or "pebble").
func OpenStore(backend, path string) (Store, error) {
	switch backend {
	case "", "leveldb":
		return OpenLevelDBStore(path)
	case "pebble":
		return OpenPebbleStore(path)
	}
	return nil, errors.Errorf("unknown fee database backend %q", backend)
}

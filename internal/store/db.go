// Package store wraps the embedded LevelDB engine that backs every
// persisted prefix named in §6 of the specification: functions/, triggers/,
// tasks/, ledger/, nonce/, follower/. The oracle cache is the one entry in
// §6 explicitly marked volatile and lives only in the oracle package's
// in-memory LRU.
package store

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned when a key is absent.
var ErrNotFound = leveldb.ErrNotFound

// DB is a thin typed wrapper over a LevelDB handle. All higher-level stores
// (FunctionStore, TaskStore, ...) are namespaced views over one DB.
type DB struct {
	ldb *leveldb.DB
}

// Open opens (creating if absent) the LevelDB data directory.
func Open(dir string) (*DB, error) {
	ldb, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", dir, err)
	}
	return &DB{ldb: ldb}, nil
}

// Close releases the underlying handle.
func (d *DB) Close() error { return d.ldb.Close() }

// Get fetches a raw value, translating leveldb.ErrNotFound to store.ErrNotFound.
func (d *DB) Get(key []byte) ([]byte, error) {
	v, err := d.ldb.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

// Put writes a raw value.
func (d *DB) Put(key, value []byte) error {
	return d.ldb.Put(key, value, nil)
}

// Delete removes a key.
func (d *DB) Delete(key []byte) error {
	return d.ldb.Delete(key, nil)
}

// Has reports whether key is present.
func (d *DB) Has(key []byte) (bool, error) {
	return d.ldb.Has(key, nil)
}

// IteratePrefix returns a fresh iterator over all keys sharing prefix.
// Callers must call Release().
func (d *DB) IteratePrefix(prefix []byte) iterator.Iterator {
	return d.ldb.NewIterator(util.BytesPrefix(prefix), nil)
}

// Batch groups several writes into one atomic leveldb batch.
type Batch struct {
	b *leveldb.Batch
}

// NewBatch starts an empty batch.
func (d *DB) NewBatch() *Batch { return &Batch{b: new(leveldb.Batch)} }

// Put stages a write.
func (b *Batch) Put(key, value []byte) { b.b.Put(key, value) }

// Delete stages a removal.
func (b *Batch) Delete(key []byte) { b.b.Delete(key) }

// Commit applies the batch atomically.
func (d *DB) Commit(b *Batch) error {
	return d.ldb.Write(b.b, nil)
}

// Package kv abstracts an ordered, transactional, embedded key-value store.
// Every layer above this package talks only to the Store/Txn interfaces
// (range iteration is Txn.Iterate); no concrete store product is referenced outside this package
// and its default Badger-backed adapter.
package kv

import "errors"

// ErrKeyNotFound is returned by Txn.Get when the key is absent from the table.
var ErrKeyNotFound = errors.New("kv: key not found")

// Table is a one-byte tag that partitions the store's single flat keyspace
// into independent, contiguously-iterable ranges.
type Table byte

// Store is an abstract ordered key-value store supporting explicit
// read/write transactions with durable commit.
type Store interface {
	// View runs fn in a read-only transaction. Concurrent Views may run
	// alongside an in-flight Update (snapshot isolation).
	View(fn func(Txn) error) error

	// Update runs fn in the single write transaction. Only one Update may
	// be in flight per Store at a time; the implementation serializes
	// callers. A durable commit happens iff fn returns nil.
	Update(fn func(Txn) error) error

	// Close releases the store's resources, including any advisory lock
	// held on the backing directory.
	Close() error
}

// Txn is a single read or write transaction against the store.
type Txn interface {
	// Get returns the value stored for key in table, or ErrKeyNotFound.
	Get(table Table, key []byte) ([]byte, error)

	// Set writes value for key in table. Only valid inside Store.Update.
	Set(table Table, key, value []byte) error

	// Delete removes key from table, if present. Only valid inside
	// Store.Update.
	Delete(table Table, key []byte) error

	// Iterate calls fn for every key in table with the given prefix, in
	// ascending lexicographic key order, until fn returns an error or the
	// prefix range is exhausted. The value slice is only valid for the
	// duration of the call.
	Iterate(table Table, prefix []byte, fn func(key, value []byte) error) error
}

package kv

import (
	"bytes"
	"sort"
	"sync"
)

// MemStore is an in-memory Store implementation used by package tests that
// exercise the layers above kv without needing an on-disk Badger instance.
// It provides the same table/prefix-iteration semantics as BadgerStore but
// no durability and no MVCC snapshot isolation between concurrent
// transactions — callers holding it for tests are expected to be
// single-threaded per Update/View call, which is all the test suites need.
type MemStore struct {
	mu   sync.RWMutex
	data map[Table]map[string][]byte
}

// NewMemStore returns an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[Table]map[string][]byte)}
}

func (s *MemStore) View(fn func(Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTxn{store: s})
}

func (s *MemStore) Update(fn func(Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// fn writes into a copy of the tables, so an error leaves the store as it
	// was: the commit-iff-nil contract of Store.Update.
	committed := s.data
	staged := make(map[Table]map[string][]byte, len(committed))
	for table, tbl := range committed {
		cp := make(map[string][]byte, len(tbl))
		for k, v := range tbl {
			cp[k] = v
		}
		staged[table] = cp
	}
	s.data = staged
	if err := fn(&memTxn{store: s}); err != nil {
		s.data = committed
		return err
	}
	return nil
}

func (s *MemStore) Close() error {
	return nil
}

type memTxn struct {
	store *MemStore
}

func (t *memTxn) Get(table Table, key []byte) ([]byte, error) {
	tbl, ok := t.store.data[table]
	if !ok {
		return nil, ErrKeyNotFound
	}
	v, ok := tbl[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (t *memTxn) Set(table Table, key, value []byte) error {
	tbl, ok := t.store.data[table]
	if !ok {
		tbl = make(map[string][]byte)
		t.store.data[table] = tbl
	}
	tbl[string(key)] = append([]byte(nil), value...)
	return nil
}

func (t *memTxn) Delete(table Table, key []byte) error {
	tbl, ok := t.store.data[table]
	if !ok {
		return nil
	}
	delete(tbl, string(key))
	return nil
}

func (t *memTxn) Iterate(table Table, prefix []byte, fn func(key, value []byte) error) error {
	tbl, ok := t.store.data[table]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(tbl))
	for k := range tbl {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), tbl[k]); err != nil {
			return err
		}
	}
	return nil
}

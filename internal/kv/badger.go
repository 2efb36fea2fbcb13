package kv

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	derrors "github.com/jgaa/deldupes/internal/common/errors"
	"github.com/jgaa/deldupes/internal/common/logger"
)

// BadgerStore implements Store using an embedded BadgerDB instance. Tables
// are modeled as a one-byte tag prepended to every key, since Badger itself
// has a single flat keyspace; this keeps per-table range iteration a
// contiguous lexicographic range.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (creating if necessary) a BadgerDB at dir. Badger itself
// acquires an advisory directory lock (its own LOCK file) on open, which
// backs this module's single-writer guarantee (§4.H); a second process
// opening the same directory receives badger's lock-held error, translated
// here to derrors.ErrLockBusy.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // the teacher disables badger's own logger in favor of zap

	db, err := badger.Open(opts)
	if err != nil {
		if isLockHeldErr(err) {
			return nil, derrors.E("kv.OpenBadger", derrors.ErrLockBusy, err, dir)
		}
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	logger.L().Info("badger db opened")

	return &BadgerStore{db: db}, nil
}

// isLockHeldErr reports whether err indicates another process already holds
// the directory lock. Badger's own error text is the only signal it exposes
// for this condition across platforms.
func isLockHeldErr(err error) bool {
	if err == nil {
		return false
	}
	return bytes.Contains([]byte(err.Error()), []byte("Cannot acquire directory lock"))
}

func (s *BadgerStore) View(fn func(Txn) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn})
	})
}

func (s *BadgerStore) Update(fn func(Txn) error) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTxn{txn: txn})
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

type badgerTxn struct {
	txn *badger.Txn
}

func tableKey(table Table, key []byte) []byte {
	buf := make([]byte, 0, len(key)+1)
	buf = append(buf, byte(table))
	buf = append(buf, key...)
	return buf
}

func (t *badgerTxn) Get(table Table, key []byte) ([]byte, error) {
	item, err := t.txn.Get(tableKey(table, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}

	var value []byte
	err = item.Value(func(val []byte) error {
		value = append([]byte(nil), val...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (t *badgerTxn) Set(table Table, key, value []byte) error {
	return t.txn.Set(tableKey(table, key), value)
}

func (t *badgerTxn) Delete(table Table, key []byte) error {
	err := t.txn.Delete(tableKey(table, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (t *badgerTxn) Iterate(table Table, prefix []byte, fn func(key, value []byte) error) error {
	fullPrefix := tableKey(table, prefix)

	opts := badger.DefaultIteratorOptions
	opts.Prefix = fullPrefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(fullPrefix); it.ValidForPrefix(fullPrefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)[1:] // strip the table tag
		var value []byte
		if err := item.Value(func(val []byte) error {
			value = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

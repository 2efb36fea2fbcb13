// Package lifecycle implements database open/create/close and the schema
// and hashing-policy validation performed on every open (§4.H). The
// advisory single-writer lock itself is delegated to the embedded store's
// own directory lock (internal/kv), grounded on the observation that the
// teacher's own store already acquires one and surfaces a distinguishable
// error when it is held.
package lifecycle

import (
	"os"
	"path/filepath"
	"time"

	"github.com/jgaa/deldupes/internal/codec"
	derrors "github.com/jgaa/deldupes/internal/common/errors"
	"github.com/jgaa/deldupes/internal/common/logger"
	"github.com/jgaa/deldupes/internal/kv"
	"github.com/jgaa/deldupes/internal/repo"

	"go.uber.org/zap"
)

// SchemaVersion is the current on-disk schema version this binary writes
// and the maximum it accepts on open.
const SchemaVersion byte = 1

const databaseMetaKeyName = "meta"

var databaseMetaKey = []byte(databaseMetaKeyName)

// Database is an opened deldupes index: the repository plus the resources
// (store, advisory lock) that must be released on Close.
type Database struct {
	Repo  *repo.Repo
	Meta  codec.DatabaseMeta
	store kv.Store
}

// Close releases the database's resources, including the advisory lock on
// its directory.
func (d *Database) Close() error {
	return d.store.Close()
}

// Open opens the deldupes database at dir, creating it if it does not
// exist. If dir exists but was never initialized by this package, Open
// fails with ErrNotADatabase rather than repurposing a foreign directory.
// If dir's recorded hashing policy disagrees with the policy this binary
// implements, Open fails rather than silently mixing incompatible digests
// into the index.
func Open(dir string) (*Database, error) {
	preexisting, err := dirHasContent(dir)
	if err != nil {
		return nil, derrors.E("lifecycle.Open", derrors.ErrIoError, err, dir)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, derrors.E("lifecycle.Open", derrors.ErrIoError, err, dir)
	}

	store, err := kv.OpenBadger(dir)
	if err != nil {
		return nil, derrors.Wrap("lifecycle.Open", err)
	}

	r := repo.New(store)

	meta, existed, err := loadOrCreateMeta(store)
	if err != nil {
		_ = store.Close()
		return nil, derrors.Wrap("lifecycle.Open", err)
	}

	if !existed && preexisting {
		_ = store.Close()
		return nil, derrors.E("lifecycle.Open", derrors.ErrNotADatabase, nil, dir)
	}

	if err := validateMeta(meta); err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.L().Info("database opened",
		zap.String("dir", dir),
		zap.Uint8("schema_version", meta.SchemaVersion),
	)

	return &Database{Repo: r, Meta: meta, store: store}, nil
}

func dirHasContent(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

func loadOrCreateMeta(store kv.Store) (codec.DatabaseMeta, bool, error) {
	var (
		meta    codec.DatabaseMeta
		existed bool
	)
	err := store.Update(func(txn kv.Txn) error {
		raw, err := txn.Get(repo.TableDatabaseMeta, databaseMetaKey)
		if err == nil {
			decoded, decErr := codec.DecodeDatabaseMeta(raw)
			if decErr != nil {
				return decErr
			}
			meta = decoded
			existed = true
			return nil
		}
		if err != kv.ErrKeyNotFound {
			return err
		}

		meta = codec.DatabaseMeta{
			SchemaVersion:   SchemaVersion,
			HashAlgo:        codec.HashAlgoBlake3,
			PrefixAlgo:      codec.PrefixAlgoSHA1,
			PrefixThreshold: 32 * 1024,
			CreatedUnix:     uint64(time.Now().Unix()),
		}
		return txn.Set(repo.TableDatabaseMeta, databaseMetaKey, codec.EncodeDatabaseMeta(meta))
	})
	return meta, existed, err
}

func validateMeta(meta codec.DatabaseMeta) error {
	if meta.SchemaVersion > SchemaVersion {
		return derrors.E("lifecycle.validateMeta", derrors.ErrNotADatabase, nil,
			"database schema version is newer than this binary understands")
	}
	if meta.HashAlgo != codec.HashAlgoBlake3 || meta.PrefixAlgo != codec.PrefixAlgoSHA1 {
		return derrors.E("lifecycle.validateMeta", derrors.ErrNotADatabase, nil,
			"database was created with a different hashing policy; a full rescan under a matching binary is required")
	}
	return nil
}

// EnsureParent creates dir's parent directories if needed. Open does not
// call it; Open creates dir and its parents itself.
func EnsureParent(dir string) error {
	return os.MkdirAll(filepath.Dir(dir), 0755)
}

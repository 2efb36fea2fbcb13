// Package repo implements the Index Repository (§4.D): the high-level
// operations on the data model of §3, built atop the abstract kv.Store and
// the codec layer. Every mutating operation here runs inside one kv.Store
// write transaction so the §3 invariants hold atomically across a commit.
package repo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/jgaa/deldupes/internal/codec"
	derrors "github.com/jgaa/deldupes/internal/common/errors"
	"github.com/jgaa/deldupes/internal/kv"
	"github.com/jgaa/deldupes/internal/model"
)

// Tables partition the store's flat keyspace (§4.A).
const (
	TablePathToID      kv.Table = 1 // normalized path bytes -> path_id (8 bytes BE)
	TableIDToPath      kv.Table = 2 // path_id (8 bytes BE) -> normalized path bytes
	TablePathCurrent   kv.Table = 3 // path_id (8 bytes BE) -> PathCurrent record
	TableFileMeta      kv.Table = 4 // file_id (8 bytes BE) -> FileMeta record
	TableFileState     kv.Table = 5 // file_id (8 bytes BE) -> FileState record
	TableContentGroup  kv.Table = 6 // hash256 (32 bytes) -> id list record
	TablePrefixGroup   kv.Table = 7 // prefix20 (20 bytes) -> id list record
	TableCounters      kv.Table = 8 // counter name -> next value (8 bytes BE)
	TableDatabaseMeta  kv.Table = 9 // single key -> DatabaseMeta record (owned by lifecycle)
)

var (
	counterPathID = []byte("path_id")
	counterFileID = []byte("file_id")
)

// Repo is the Index Repository, implementing the operations of §4.D.
type Repo struct {
	store kv.Store
}

// New wraps store with the Index Repository operations.
func New(store kv.Store) *Repo {
	return &Repo{store: store}
}

func idKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func idFromKey(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// nextCounter allocates and persists the next value of the named monotonic
// counter within txn. Values start at 1; 0 is never allocated, keeping it
// free as a sentinel for "no id".
func nextCounter(txn kv.Txn, name []byte) (uint64, error) {
	raw, err := txn.Get(TableCounters, name)
	var cur uint64
	if err != nil {
		if !errors.Is(err, kv.ErrKeyNotFound) {
			return 0, err
		}
	} else {
		cur = binary.BigEndian.Uint64(raw)
	}
	next := cur + 1
	if err := txn.Set(TableCounters, name, idKey(next)); err != nil {
		return 0, err
	}
	return next, nil
}

// InternPath implements intern_path: idempotent path_id allocation.
func (r *Repo) InternPath(path string) (model.PathID, error) {
	var result model.PathID
	err := r.store.Update(func(txn kv.Txn) error {
		key := []byte(path)
		if raw, err := txn.Get(TablePathToID, key); err == nil {
			result = model.PathID(idFromKey(raw))
			return nil
		} else if !errors.Is(err, kv.ErrKeyNotFound) {
			return err
		}

		id, err := nextCounter(txn, counterPathID)
		if err != nil {
			return err
		}
		if err := txn.Set(TablePathToID, key, idKey(id)); err != nil {
			return err
		}
		if err := txn.Set(TableIDToPath, idKey(id), key); err != nil {
			return err
		}
		result = model.PathID(id)
		return nil
	})
	if err != nil {
		return 0, derrors.Wrap("repo.InternPath", err)
	}
	return result, nil
}

// LookupPath is the read-only counterpart to InternPath: it returns the
// existing path_id for path without allocating one if the path has never
// been observed. Callers that must not mutate the database (e.g.
// check_by_path) use this instead of InternPath.
func (r *Repo) LookupPath(path string) (model.PathID, bool, error) {
	var (
		result model.PathID
		found  bool
	)
	err := r.store.View(func(txn kv.Txn) error {
		raw, err := txn.Get(TablePathToID, []byte(path))
		if err != nil {
			if errors.Is(err, kv.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		result = model.PathID(idFromKey(raw))
		found = true
		return nil
	})
	if err != nil {
		return 0, false, derrors.Wrap("repo.LookupPath", err)
	}
	return result, found, nil
}

// PathString returns the normalized path string for path_id.
func (r *Repo) PathString(pathID model.PathID) (string, error) {
	var result string
	err := r.store.View(func(txn kv.Txn) error {
		raw, err := txn.Get(TableIDToPath, idKey(uint64(pathID)))
		if err != nil {
			if errors.Is(err, kv.ErrKeyNotFound) {
				return derrors.E("repo.PathString", derrors.ErrNotFound, err)
			}
			return err
		}
		result = string(raw)
		return nil
	})
	return result, err
}

// CurrentVersion implements current_version: the Live file_id for path_id,
// if one exists.
func (r *Repo) CurrentVersion(pathID model.PathID) (model.FileID, bool, error) {
	var (
		fileID model.FileID
		found  bool
	)
	err := r.store.View(func(txn kv.Txn) error {
		raw, err := txn.Get(TablePathCurrent, idKey(uint64(pathID)))
		if err != nil {
			if errors.Is(err, kv.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		id, decErr := codec.DecodePathCurrent(raw)
		if decErr != nil {
			return decErr
		}
		fileID = id
		found = true
		return nil
	})
	if err != nil {
		return 0, false, derrors.Wrap("repo.CurrentVersion", err)
	}
	return fileID, found, nil
}

// Observation is the input to RecordObservation.
type Observation struct {
	PathID     model.PathID
	Size       uint64
	MtimeSecs  uint64
	Hash256    model.Hash256
	HasPrefix  bool
	Sha1Prefix model.Prefix20
}

// RecordObservation implements record_observation (§4.D).
func (r *Repo) RecordObservation(obs Observation) (fileID model.FileID, created bool, err error) {
	err = r.store.Update(func(txn kv.Txn) error {
		fileID, created, err = recordObservationTxn(txn, obs)
		return err
	})
	if err != nil {
		return 0, false, derrors.Wrap("repo.RecordObservation", err)
	}
	return fileID, created, nil
}

// BatchResult is one observation's outcome within an ApplyBatch call.
type BatchResult struct {
	PathID  model.PathID
	FileID  model.FileID
	Created bool
}

// ApplyBatch applies every observation in obs inside a single write
// transaction, giving the scan pipeline's writer stage the batched, durable
// commit boundary described in §4.E: either the whole batch commits, or
// none of it does.
func (r *Repo) ApplyBatch(obs []Observation) ([]BatchResult, error) {
	results := make([]BatchResult, 0, len(obs))
	err := r.store.Update(func(txn kv.Txn) error {
		for _, o := range obs {
			fid, created, err := recordObservationTxn(txn, o)
			if err != nil {
				return err
			}
			results = append(results, BatchResult{PathID: o.PathID, FileID: fid, Created: created})
		}
		return nil
	})
	if err != nil {
		return nil, derrors.Wrap("repo.ApplyBatch", err)
	}
	return results, nil
}

func recordObservationTxn(txn kv.Txn, obs Observation) (fileID model.FileID, created bool, err error) {
	if raw, getErr := txn.Get(TablePathCurrent, idKey(uint64(obs.PathID))); getErr == nil {
		curID, decErr := codec.DecodePathCurrent(raw)
		if decErr != nil {
			return 0, false, decErr
		}
		metaRaw, metaErr := txn.Get(TableFileMeta, idKey(uint64(curID)))
		if metaErr != nil {
			return 0, false, metaErr
		}
		curMeta, decErr := codec.DecodeFileMeta(metaRaw)
		if decErr != nil {
			return 0, false, decErr
		}
		if curMeta.MatchesIdentity(obs.Size, obs.MtimeSecs) && curMeta.Hash256 == obs.Hash256 {
			return curID, false, nil
		}

		if err := txn.Set(TableFileState, idKey(uint64(curID)), codec.EncodeFileState(model.Replaced)); err != nil {
			return 0, false, err
		}
	} else if !errors.Is(getErr, kv.ErrKeyNotFound) {
		return 0, false, getErr
	}

	newID, allocErr := nextCounter(txn, counterFileID)
	if allocErr != nil {
		return 0, false, allocErr
	}
	nf := model.FileID(newID)

	meta := model.FileMeta{
		Size:       obs.Size,
		MtimeSecs:  obs.MtimeSecs,
		Hash256:    obs.Hash256,
		HasPrefix:  obs.HasPrefix,
		Sha1Prefix: obs.Sha1Prefix,
		PathID:     obs.PathID,
	}
	if err := txn.Set(TableFileMeta, idKey(newID), codec.EncodeFileMeta(meta)); err != nil {
		return 0, false, err
	}
	if err := txn.Set(TableFileState, idKey(newID), codec.EncodeFileState(model.Live)); err != nil {
		return 0, false, err
	}

	if err := insertIntoGroup(txn, TableContentGroup, obs.Hash256[:], nf); err != nil {
		return 0, false, err
	}
	if obs.HasPrefix {
		if err := insertIntoGroup(txn, TablePrefixGroup, obs.Sha1Prefix[:], nf); err != nil {
			return 0, false, err
		}
	}

	if err := txn.Set(TablePathCurrent, idKey(uint64(obs.PathID)), codec.EncodePathCurrent(nf)); err != nil {
		return 0, false, err
	}

	return nf, true, nil
}

func insertIntoGroup(txn kv.Txn, table kv.Table, key []byte, id model.FileID) error {
	raw, err := txn.Get(table, key)
	var ids []model.FileID
	if err != nil {
		if !errors.Is(err, kv.ErrKeyNotFound) {
			return err
		}
	} else {
		ids, err = codec.DecodeIDList(raw)
		if err != nil {
			return err
		}
	}
	ids = insertSortedUnique(ids, id)
	return txn.Set(table, key, codec.EncodeIDList(ids))
}

func insertSortedUnique(ids []model.FileID, id model.FileID) []model.FileID {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		return ids
	}
	out := make([]model.FileID, len(ids)+1)
	copy(out, ids[:i])
	out[i] = id
	copy(out[i+1:], ids[i:])
	return out
}

// MarkMissing implements mark_missing (§4.D).
func (r *Repo) MarkMissing(fileID model.FileID) error {
	err := r.store.Update(func(txn kv.Txn) error {
		metaRaw, err := txn.Get(TableFileMeta, idKey(uint64(fileID)))
		if err != nil {
			if errors.Is(err, kv.ErrKeyNotFound) {
				return derrors.E("repo.MarkMissing", derrors.ErrNotFound, err)
			}
			return err
		}
		meta, err := codec.DecodeFileMeta(metaRaw)
		if err != nil {
			return err
		}

		stateRaw, err := txn.Get(TableFileState, idKey(uint64(fileID)))
		if err != nil {
			return err
		}
		state, err := codec.DecodeFileState(stateRaw)
		if err != nil {
			return err
		}

		if state == model.Live {
			if err := txn.Set(TableFileState, idKey(uint64(fileID)), codec.EncodeFileState(model.Missing)); err != nil {
				return err
			}
		}

		curRaw, err := txn.Get(TablePathCurrent, idKey(uint64(meta.PathID)))
		if err != nil {
			if errors.Is(err, kv.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		curID, err := codec.DecodePathCurrent(curRaw)
		if err != nil {
			return err
		}
		if curID == fileID {
			return txn.Delete(TablePathCurrent, idKey(uint64(meta.PathID)))
		}
		return nil
	})
	if err != nil {
		return derrors.Wrap("repo.MarkMissing", err)
	}
	return nil
}

// ListContentGroup implements list_content_group.
func (r *Repo) ListContentGroup(hash model.Hash256) ([]model.FileID, error) {
	return r.listGroup(TableContentGroup, hash[:])
}

// ListPrefixGroup implements list_prefix_group.
func (r *Repo) ListPrefixGroup(prefix model.Prefix20) ([]model.FileID, error) {
	return r.listGroup(TablePrefixGroup, prefix[:])
}

func (r *Repo) listGroup(table kv.Table, key []byte) ([]model.FileID, error) {
	var ids []model.FileID
	err := r.store.View(func(txn kv.Txn) error {
		raw, err := txn.Get(table, key)
		if err != nil {
			if errors.Is(err, kv.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		decoded, err := codec.DecodeIDList(raw)
		if err != nil {
			return err
		}
		ids = decoded
		return nil
	})
	if err != nil {
		return nil, derrors.Wrap("repo.listGroup", err)
	}
	return ids, nil
}

// AllContentHashes visits every hash256 with a non-empty ContentGroup.
func (r *Repo) AllContentHashes(fn func(model.Hash256) error) error {
	return r.store.View(func(txn kv.Txn) error {
		return txn.Iterate(TableContentGroup, nil, func(key, value []byte) error {
			var h model.Hash256
			if len(key) != model.HashSize {
				return derrors.E("repo.AllContentHashes", derrors.ErrCorruptRecord,
					fmt.Errorf("content group key has unexpected length %d", len(key)))
			}
			copy(h[:], key)
			return fn(h)
		})
	})
}

// AllPrefixes visits every sha1_prefix with a non-empty PrefixGroup.
func (r *Repo) AllPrefixes(fn func(model.Prefix20) error) error {
	return r.store.View(func(txn kv.Txn) error {
		return txn.Iterate(TablePrefixGroup, nil, func(key, value []byte) error {
			var p model.Prefix20
			if len(key) != model.PrefixSize {
				return derrors.E("repo.AllPrefixes", derrors.ErrCorruptRecord,
					fmt.Errorf("prefix group key has unexpected length %d", len(key)))
			}
			copy(p[:], key)
			return fn(p)
		})
	})
}

// GetMeta implements get_meta.
func (r *Repo) GetMeta(fileID model.FileID) (model.FileMeta, error) {
	var meta model.FileMeta
	err := r.store.View(func(txn kv.Txn) error {
		raw, err := txn.Get(TableFileMeta, idKey(uint64(fileID)))
		if err != nil {
			if errors.Is(err, kv.ErrKeyNotFound) {
				return derrors.E("repo.GetMeta", derrors.ErrNotFound, err)
			}
			return err
		}
		decoded, err := codec.DecodeFileMeta(raw)
		if err != nil {
			return err
		}
		meta = decoded
		return nil
	})
	if err != nil {
		return model.FileMeta{}, derrors.Wrap("repo.GetMeta", err)
	}
	return meta, nil
}

// GetState implements get_state.
func (r *Repo) GetState(fileID model.FileID) (model.State, error) {
	var state model.State
	err := r.store.View(func(txn kv.Txn) error {
		raw, err := txn.Get(TableFileState, idKey(uint64(fileID)))
		if err != nil {
			if errors.Is(err, kv.ErrKeyNotFound) {
				return derrors.E("repo.GetState", derrors.ErrNotFound, err)
			}
			return err
		}
		decoded, err := codec.DecodeFileState(raw)
		if err != nil {
			return err
		}
		state = decoded
		return nil
	})
	if err != nil {
		return 0, derrors.Wrap("repo.GetState", err)
	}
	return state, nil
}

// Store exposes the underlying kv.Store for packages that need to compose
// their own transactions against repo's table layout. The planner goes
// through MarkMissing and lifecycle keeps its own kv.Store handle, so
// neither calls it.
func (r *Repo) Store() kv.Store {
	return r.store
}

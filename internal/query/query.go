// Package query implements the Duplicate Query component (§4.F):
// read-only enumeration of exact and potential duplicate groups, plus
// point lookups by path or hash.
package query

import (
	"sort"
	"strings"

	derrors "github.com/jgaa/deldupes/internal/common/errors"
	"github.com/jgaa/deldupes/internal/fsops"
	"github.com/jgaa/deldupes/internal/hashing"
	"github.com/jgaa/deldupes/internal/model"
	"github.com/jgaa/deldupes/internal/pathnorm"
	"github.com/jgaa/deldupes/internal/repo"
)

// Member is one Live file version participating in a reported group.
type Member struct {
	FileID model.FileID
	Path   string
	Meta   model.FileMeta
}

// Group is a set of Live members sharing either a content hash (exact) or a
// prefix digest (potential). Members are ordered by ascending file_id.
type Group struct {
	Hash256    model.Hash256
	HasPrefix  bool
	Sha1Prefix model.Prefix20
	Members    []Member
}

// Query answers read-only questions against a repo.
type Query struct {
	repo *repo.Repo
	fs   fsops.Filesystem
	hash hashing.Hasher
}

// New returns a Query bound to repo, and optionally a filesystem for
// CheckByPath's on-disk re-stat; with a nil fs, CheckByPath reports database
// facts only. hash is stored but not used: no query rehashes file content.
func New(r *repo.Repo, fs fsops.Filesystem, hash hashing.Hasher) *Query {
	return &Query{repo: r, fs: fs, hash: hash}
}

func (q *Query) liveMembers(ids []model.FileID) ([]Member, error) {
	var members []Member
	for _, id := range ids {
		state, err := q.repo.GetState(id)
		if err != nil {
			return nil, err
		}
		if state != model.Live {
			continue
		}
		meta, err := q.repo.GetMeta(id)
		if err != nil {
			return nil, err
		}
		path, err := q.repo.PathString(meta.PathID)
		if err != nil {
			return nil, err
		}
		members = append(members, Member{FileID: id, Path: path, Meta: meta})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].FileID < members[j].FileID })
	return members, nil
}

func underScope(path string, scope []string) bool {
	if len(scope) == 0 {
		return true
	}
	for _, prefix := range scope {
		if path == prefix || strings.HasPrefix(path, strings.TrimRight(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

// ExactDuplicates implements exact_duplicates(scope?) (§4.F).
func (q *Query) ExactDuplicates(scope []string) ([]Group, error) {
	var groups []Group
	err := q.repo.AllContentHashes(func(h model.Hash256) error {
		ids, err := q.repo.ListContentGroup(h)
		if err != nil {
			return err
		}
		members, err := q.liveMembers(ids)
		if err != nil {
			return err
		}
		if len(members) < 2 {
			return nil
		}
		if len(scope) > 0 {
			inScope := false
			for _, m := range members {
				if underScope(m.Path, scope) {
					inScope = true
					break
				}
			}
			if !inScope {
				return nil
			}
		}
		groups = append(groups, Group{Hash256: h, Members: members})
		return nil
	})
	if err != nil {
		return nil, derrors.Wrap("query.ExactDuplicates", err)
	}
	sort.Slice(groups, func(i, j int) bool {
		return string(groups[i].Hash256[:]) < string(groups[j].Hash256[:])
	})
	return groups, nil
}

// PotentialDuplicates implements potential_duplicates() (§4.F): prefix
// groups with >= 2 Live members whose hashes are not all identical (those
// are already reported by ExactDuplicates).
func (q *Query) PotentialDuplicates() ([]Group, error) {
	var groups []Group
	err := q.repo.AllPrefixes(func(p model.Prefix20) error {
		ids, err := q.repo.ListPrefixGroup(p)
		if err != nil {
			return err
		}
		members, err := q.liveMembers(ids)
		if err != nil {
			return err
		}
		if len(members) < 2 {
			return nil
		}
		if allSameHash(members) {
			return nil
		}
		groups = append(groups, Group{HasPrefix: true, Sha1Prefix: p, Members: members})
		return nil
	})
	if err != nil {
		return nil, derrors.Wrap("query.PotentialDuplicates", err)
	}
	sort.Slice(groups, func(i, j int) bool {
		return string(groups[i].Sha1Prefix[:]) < string(groups[j].Sha1Prefix[:])
	})
	return groups, nil
}

func allSameHash(members []Member) bool {
	if len(members) == 0 {
		return true
	}
	first := members[0].Meta.Hash256
	for _, m := range members[1:] {
		if m.Meta.Hash256 != first {
			return false
		}
	}
	return true
}

// PathFact is the result of CheckByPath: the database's recorded facts for
// a path, plus a live re-stat when the file still exists on disk.
type PathFact struct {
	PathID        model.PathID
	CurrentFileID model.FileID
	HasCurrent    bool
	Meta          model.FileMeta
	State         model.State
	OnDiskSize    int64
	OnDiskMtime   int64
	OnDisk        bool
	IdentityStale bool
}

// CheckByPath implements check_by_path(path) (§4.F). It never mutates the
// database: an unobserved path is reported with HasCurrent=false rather than
// interned, and a stale identity is reported, not repaired. The file is
// stat'ed again but not rehashed, so IdentityStale compares (size, mtime) only.
func (q *Query) CheckByPath(path string) (PathFact, error) {
	norm, err := pathnorm.Normalize(path)
	if err != nil {
		return PathFact{}, err
	}

	pathID, known, err := q.repo.LookupPath(norm)
	if err != nil {
		return PathFact{}, err
	}

	var fact PathFact
	var found bool
	if known {
		fact.PathID = pathID

		curID, curFound, err := q.repo.CurrentVersion(pathID)
		if err != nil {
			return PathFact{}, err
		}
		found = curFound
		fact.HasCurrent = found
		if found {
			fact.CurrentFileID = curID
			meta, err := q.repo.GetMeta(curID)
			if err != nil {
				return PathFact{}, err
			}
			fact.Meta = meta
			state, err := q.repo.GetState(curID)
			if err != nil {
				return PathFact{}, err
			}
			fact.State = state
		}
	}

	if q.fs == nil {
		return fact, nil
	}
	info, statErr := q.fs.Stat(norm)
	if statErr != nil {
		if derrors.IsNotFound(statErr) {
			return fact, nil
		}
		return PathFact{}, statErr
	}
	fact.OnDisk = true
	fact.OnDiskSize = info.Size
	fact.OnDiskMtime = info.MtimeUnix
	if found {
		fact.IdentityStale = !fact.Meta.MatchesIdentity(uint64(info.Size), uint64(info.MtimeUnix))
	} else {
		fact.IdentityStale = true
	}
	return fact, nil
}

// CheckByHash implements check_by_hash(h) (§4.F): the Live and non-Live
// members of a content group.
func (q *Query) CheckByHash(h model.Hash256) ([]Member, error) {
	ids, err := q.repo.ListContentGroup(h)
	if err != nil {
		return nil, err
	}
	var members []Member
	for _, id := range ids {
		meta, err := q.repo.GetMeta(id)
		if err != nil {
			return nil, err
		}
		path, err := q.repo.PathString(meta.PathID)
		if err != nil {
			return nil, err
		}
		members = append(members, Member{FileID: id, Path: path, Meta: meta})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].FileID < members[j].FileID })
	return members, nil
}

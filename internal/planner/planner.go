// Package planner implements the Deletion Planner (§4.G): scope filtering,
// preserve-strategy selection, the last-copy invariant, and the apply phase
// that unlinks files and marks their versions Missing.
package planner

import (
	"fmt"
	"sort"
	"strings"

	derrors "github.com/jgaa/deldupes/internal/common/errors"
	"github.com/jgaa/deldupes/internal/common/logger"
	"github.com/jgaa/deldupes/internal/fsops"
	"github.com/jgaa/deldupes/internal/model"
	"github.com/jgaa/deldupes/internal/query"
	"github.com/jgaa/deldupes/internal/repo"

	"go.uber.org/zap"
)

// Strategy is a preserve strategy (§4.G): the deterministic rule for
// choosing which Live member of an in-scope content group to keep.
type Strategy string

// The enumerated preserve strategies. Ties are always broken, last, by
// ascending file_id.
const (
	StrategyOldest       Strategy = "oldest"
	StrategyNewest       Strategy = "newest"
	StrategyShortestPath Strategy = "shortest_path"
	StrategyLongestPath  Strategy = "longest_path"
	StrategyAlphaFirst   Strategy = "alpha_first"
	StrategyAlphaLast    Strategy = "alpha_last"

	// DefaultStrategy is used when the caller does not specify one.
	DefaultStrategy = StrategyOldest
)

// Entry is one content group's deletion plan: exactly the keepers and
// deletes computed by §4.G's algorithm.
type Entry struct {
	Hash256 model.Hash256
	Keepers []query.Member
	Deletes []query.Member
}

// PlanResult is the full output of Plan(): one Entry per eligible content group.
// ScopeEmpty is set, not as an error, when a non-empty scope was given and
// it produced no deletion candidates at all (§7's ErrScopeEmpty condition).
type PlanResult struct {
	Entries    []Entry
	ScopeEmpty bool
}

// Plan computes a deletion plan over groups (normally query.ExactDuplicates'
// output restricted to the caller's scope) using strategy to pick a keeper
// when no member lies outside scope.
func Plan(groups []query.Group, scopePrefixes []string, strategy Strategy) (PlanResult, error) {
	if strategy == "" {
		strategy = DefaultStrategy
	}

	var plan PlanResult
	for _, g := range groups {
		entry, err := planGroup(g, scopePrefixes, strategy)
		if err != nil {
			return PlanResult{}, err
		}
		if entry == nil {
			continue
		}
		plan.Entries = append(plan.Entries, *entry)
	}

	if err := checkLastCopyInvariant(plan); err != nil {
		return PlanResult{}, err
	}

	if len(scopePrefixes) > 0 && len(plan.Entries) == 0 {
		plan.ScopeEmpty = true
	}

	return plan, nil
}

func planGroup(g query.Group, scopePrefixes []string, strategy Strategy) (*Entry, error) {
	var inside, outside []query.Member
	for _, m := range g.Members {
		if inScope(m.Path, scopePrefixes) {
			inside = append(inside, m)
		} else {
			outside = append(outside, m)
		}
	}

	if len(inside) == 0 {
		return nil, nil
	}

	var keepers, deletes []query.Member
	if len(outside) > 0 {
		keepers = outside
		deletes = inside
	} else {
		keeper := choose(inside, strategy)
		for _, m := range inside {
			if m.FileID == keeper.FileID {
				keepers = append(keepers, m)
			} else {
				deletes = append(deletes, m)
			}
		}
	}

	if len(deletes) == 0 {
		return nil, nil
	}

	return &Entry{
		Hash256: g.Hash256,
		Keepers: keepers,
		Deletes: deletes,
	}, nil
}

func inScope(path string, scopePrefixes []string) bool {
	if len(scopePrefixes) == 0 {
		return true
	}
	for _, prefix := range scopePrefixes {
		if path == prefix || strings.HasPrefix(path, strings.TrimRight(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

// choose applies strategy to pick exactly one keeper, breaking every tie
// by ascending file_id.
func choose(members []query.Member, strategy Strategy) query.Member {
	candidates := append([]query.Member(nil), members...)

	var less func(i, j int) bool
	switch strategy {
	case StrategyOldest:
		less = func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if a.Meta.MtimeSecs != b.Meta.MtimeSecs {
				return a.Meta.MtimeSecs < b.Meta.MtimeSecs
			}
			if a.Path != b.Path {
				return a.Path < b.Path
			}
			return a.FileID < b.FileID
		}
	case StrategyNewest:
		less = func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if a.Meta.MtimeSecs != b.Meta.MtimeSecs {
				return a.Meta.MtimeSecs > b.Meta.MtimeSecs
			}
			if a.Path != b.Path {
				return a.Path < b.Path
			}
			return a.FileID < b.FileID
		}
	case StrategyShortestPath:
		less = func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if len(a.Path) != len(b.Path) {
				return len(a.Path) < len(b.Path)
			}
			if a.Path != b.Path {
				return a.Path < b.Path
			}
			return a.FileID < b.FileID
		}
	case StrategyLongestPath:
		less = func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if len(a.Path) != len(b.Path) {
				return len(a.Path) > len(b.Path)
			}
			if a.Path != b.Path {
				return a.Path < b.Path
			}
			return a.FileID < b.FileID
		}
	case StrategyAlphaFirst:
		less = func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if a.Path != b.Path {
				return a.Path < b.Path
			}
			return a.FileID < b.FileID
		}
	case StrategyAlphaLast:
		less = func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if a.Path != b.Path {
				return a.Path > b.Path
			}
			return a.FileID < b.FileID
		}
	default:
		less = func(i, j int) bool { return candidates[i].FileID < candidates[j].FileID }
	}

	sort.Slice(candidates, less)
	return candidates[0]
}

func checkLastCopyInvariant(plan PlanResult) error {
	for _, e := range plan.Entries {
		if len(e.Keepers) == 0 {
			return derrors.E("planner.checkLastCopyInvariant", derrors.ErrInvariantViolation, nil,
				fmt.Sprintf("plan entry has no keeper (hash %x)", e.Hash256))
		}
	}
	return nil
}

// DeletionOutcome records what happened to a single planned deletion.
type DeletionOutcome struct {
	Member  query.Member
	Deleted bool
	Skipped bool
	Reason  string
}

// Apply executes plan's deletions (§4.G apply phase), in deterministic
// order (by hash, then path). It never touches a keeper. Each deletion
// either succeeds (unlink + mark_missing), is skipped (the on-disk file
// changed since planning), or fails (I/O error, left unmarked).
func Apply(r *repo.Repo, fs fsops.Filesystem, plan PlanResult) ([]DeletionOutcome, error) {
	type deletion struct {
		hash   model.Hash256
		member query.Member
	}
	var deletions []deletion
	for _, e := range plan.Entries {
		for _, m := range e.Deletes {
			deletions = append(deletions, deletion{hash: e.Hash256, member: m})
		}
	}
	sort.Slice(deletions, func(i, j int) bool {
		hi, hj := string(deletions[i].hash[:]), string(deletions[j].hash[:])
		if hi != hj {
			return hi < hj
		}
		return deletions[i].member.Path < deletions[j].member.Path
	})

	log := logger.WithComponent("planner")
	var outcomes []DeletionOutcome
	for _, d := range deletions {
		m := d.member
		info, err := fs.Stat(m.Path)
		if err != nil {
			outcomes = append(outcomes, DeletionOutcome{Member: m, Skipped: true, Reason: "no longer present"})
			continue
		}
		if uint64(info.Size) != m.Meta.Size || uint64(info.MtimeUnix) != m.Meta.MtimeSecs {
			outcomes = append(outcomes, DeletionOutcome{Member: m, Skipped: true, Reason: "changed since planning"})
			continue
		}

		if err := fs.Remove(m.Path); err != nil {
			log.Warn("unlink failed", zap.String("path", m.Path), zap.Error(err))
			outcomes = append(outcomes, DeletionOutcome{Member: m, Reason: err.Error()})
			continue
		}

		if err := r.MarkMissing(m.FileID); err != nil {
			return outcomes, derrors.Wrap("planner.Apply", err)
		}
		outcomes = append(outcomes, DeletionOutcome{Member: m, Deleted: true})
	}
	return outcomes, nil
}

package planner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jgaa/deldupes/internal/fsops"
	"github.com/jgaa/deldupes/internal/kv"
	"github.com/jgaa/deldupes/internal/model"
	"github.com/jgaa/deldupes/internal/query"
	"github.com/jgaa/deldupes/internal/repo"
)

func hashOf(b byte) model.Hash256 {
	var h model.Hash256
	h[0] = b
	return h
}

func member(path string, fileID model.FileID, mtime uint64) query.Member {
	return query.Member{
		FileID: fileID,
		Path:   path,
		Meta:   model.FileMeta{MtimeSecs: mtime, Size: 10},
	}
}

func TestPlanAllInsideChoosesKeeperByStrategy(t *testing.T) {
	g := query.Group{
		Hash256: hashOf(1),
		Members: []query.Member{
			member("/scope/a", 1, 3000),
			member("/scope/b", 2, 1000), // oldest
			member("/scope/c", 3, 2000),
		},
	}

	plan, err := Plan([]query.Group{g}, []string{"/scope"}, StrategyOldest)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(plan.Entries))
	}
	e := plan.Entries[0]
	if len(e.Keepers) != 1 || e.Keepers[0].Path != "/scope/b" {
		t.Fatalf("keeper = %+v, want /scope/b", e.Keepers)
	}
	if len(e.Deletes) != 2 {
		t.Fatalf("got %d deletes, want 2", len(e.Deletes))
	}
}

func TestPlanOneOutsideKeepsAllOutside(t *testing.T) {
	g := query.Group{
		Hash256: hashOf(1),
		Members: []query.Member{
			member("/scope/a", 1, 3000),
			member("/scope/b", 2, 1000),
			member("/other/c", 3, 2000),
		},
	}

	plan, err := Plan([]query.Group{g}, []string{"/scope"}, StrategyOldest)
	if err != nil {
		t.Fatal(err)
	}
	e := plan.Entries[0]
	if len(e.Keepers) != 1 || e.Keepers[0].Path != "/other/c" {
		t.Fatalf("keeper = %+v, want /other/c", e.Keepers)
	}
	if len(e.Deletes) != 2 {
		t.Fatalf("got %d deletes, want 2", len(e.Deletes))
	}
}

func TestPlanTieBreaksByPathThenFileID(t *testing.T) {
	g := query.Group{
		Hash256: hashOf(1),
		Members: []query.Member{
			member("/scope/b", 2, 1000),
			member("/scope/a", 1, 1000),
		},
	}
	plan, err := Plan([]query.Group{g}, []string{"/scope"}, StrategyOldest)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Entries[0].Keepers[0].Path != "/scope/a" {
		t.Fatalf("expected lexicographically-first path to win the tie, got %+v", plan.Entries[0].Keepers)
	}
}

func TestPlanDeletesSoleInsideMemberWhenOutsideCopyExists(t *testing.T) {
	g := query.Group{
		Hash256: hashOf(1),
		Members: []query.Member{
			member("/scope/a", 1, 1000),
			member("/other/b", 2, 1000),
		},
	}
	plan, err := Plan([]query.Group{g}, []string{"/scope"}, StrategyOldest)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Entries) != 1 {
		t.Fatalf("got %d entries, want 1 (the inside member is deleted, the outside copy kept)", len(plan.Entries))
	}
	e := plan.Entries[0]
	if len(e.Keepers) != 1 || e.Keepers[0].Path != "/other/b" {
		t.Fatalf("keepers = %+v, want /other/b", e.Keepers)
	}
	if len(e.Deletes) != 1 || e.Deletes[0].Path != "/scope/a" {
		t.Fatalf("deletes = %+v, want /scope/a", e.Deletes)
	}
}

func TestAlphaFirstAndAlphaLast(t *testing.T) {
	g := query.Group{
		Hash256: hashOf(1),
		Members: []query.Member{
			member("/scope/z", 1, 1000),
			member("/scope/a", 2, 1000),
			member("/scope/m", 3, 1000),
		},
	}

	planFirst, err := Plan([]query.Group{g}, []string{"/scope"}, StrategyAlphaFirst)
	if err != nil {
		t.Fatal(err)
	}
	if planFirst.Entries[0].Keepers[0].Path != "/scope/a" {
		t.Fatalf("alpha_first keeper = %+v", planFirst.Entries[0].Keepers)
	}

	planLast, err := Plan([]query.Group{g}, []string{"/scope"}, StrategyAlphaLast)
	if err != nil {
		t.Fatal(err)
	}
	if planLast.Entries[0].Keepers[0].Path != "/scope/z" {
		t.Fatalf("alpha_last keeper = %+v", planLast.Entries[0].Keepers)
	}
}

func TestPlanReportsScopeEmpty(t *testing.T) {
	g := query.Group{
		Hash256: hashOf(1),
		Members: []query.Member{
			member("/other/a", 1, 1000),
			member("/other/b", 2, 1000),
		},
	}
	plan, err := Plan([]query.Group{g}, []string{"/scope"}, StrategyOldest)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Entries) != 0 {
		t.Fatalf("expected no entries when scope matches nothing, got %d", len(plan.Entries))
	}
	if !plan.ScopeEmpty {
		t.Fatal("expected ScopeEmpty=true when a non-empty scope yields no deletion candidates")
	}
}

func TestApplyDeletesAndMarksMissing(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a")
	pathB := filepath.Join(dir, "b")
	if err := os.WriteFile(pathA, []byte("xxxxxxxxxx"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pathB, []byte("xxxxxxxxxx"), 0644); err != nil {
		t.Fatal(err)
	}

	r := repo.New(kv.NewMemStore())
	pidA, err := r.InternPath(pathA)
	if err != nil {
		t.Fatal(err)
	}
	pidB, err := r.InternPath(pathB)
	if err != nil {
		t.Fatal(err)
	}

	fsAdapter := fsops.NewOSFilesystem()
	infoA, err := fsAdapter.Stat(pathA)
	if err != nil {
		t.Fatal(err)
	}
	infoB, err := fsAdapter.Stat(pathB)
	if err != nil {
		t.Fatal(err)
	}

	h := hashOf(1)
	fidA, _, err := r.RecordObservation(repo.Observation{
		PathID: pidA, Size: uint64(infoA.Size), MtimeSecs: uint64(infoA.MtimeUnix), Hash256: h,
	})
	if err != nil {
		t.Fatal(err)
	}
	fidB, _, err := r.RecordObservation(repo.Observation{
		PathID: pidB, Size: uint64(infoB.Size), MtimeSecs: uint64(infoB.MtimeUnix), Hash256: h,
	})
	if err != nil {
		t.Fatal(err)
	}

	entry := Entry{
		Hash256: h,
		Keepers: []query.Member{{FileID: fidB, Path: pathB, Meta: model.FileMeta{Size: uint64(infoB.Size), MtimeSecs: uint64(infoB.MtimeUnix)}}},
		Deletes: []query.Member{{FileID: fidA, Path: pathA, Meta: model.FileMeta{Size: uint64(infoA.Size), MtimeSecs: uint64(infoA.MtimeUnix)}}},
	}

	outcomes, err := Apply(r, fsAdapter, PlanResult{Entries: []Entry{entry}})
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 1 || !outcomes[0].Deleted {
		t.Fatalf("outcomes = %+v, want a single deleted outcome", outcomes)
	}

	if _, err := os.Stat(pathA); !os.IsNotExist(err) {
		t.Fatal("expected file to be unlinked")
	}

	state, err := r.GetState(fidA)
	if err != nil {
		t.Fatal(err)
	}
	if state != model.Missing {
		t.Fatalf("state = %v, want Missing", state)
	}
}

func TestApplySkipsWhenChangedSincePlanning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a")
	if err := os.WriteFile(path, []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}

	r := repo.New(kv.NewMemStore())
	fsAdapter := fsops.NewOSFilesystem()
	pid, err := r.InternPath(path)
	if err != nil {
		t.Fatal(err)
	}
	info, err := fsAdapter.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	h := hashOf(1)
	fid, _, err := r.RecordObservation(repo.Observation{
		PathID: pid, Size: uint64(info.Size), MtimeSecs: uint64(info.MtimeUnix), Hash256: h,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a change after planning: rewrite the file with more bytes so
	// its size no longer matches the planned FileMeta.
	if err := os.WriteFile(path, []byte("original-plus-more-bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	entry := Entry{
		Hash256: h,
		Keepers: []query.Member{{FileID: 999, Path: "/keeper", Meta: model.FileMeta{}}},
		Deletes: []query.Member{{FileID: fid, Path: path, Meta: model.FileMeta{Size: uint64(info.Size), MtimeSecs: uint64(info.MtimeUnix)}}},
	}

	outcomes, err := Apply(r, fsAdapter, PlanResult{Entries: []Entry{entry}})
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 1 || !outcomes[0].Skipped {
		t.Fatalf("outcomes = %+v, want a single skipped outcome", outcomes)
	}

	state, err := r.GetState(fid)
	if err != nil {
		t.Fatal(err)
	}
	if state != model.Live {
		t.Fatalf("state = %v, want Live (skip must not mark missing)", state)
	}
}

package repo

import (
	"testing"

	"github.com/jgaa/deldupes/internal/kv"
	"github.com/jgaa/deldupes/internal/model"
)

func newTestRepo() *Repo {
	return New(kv.NewMemStore())
}

func hashOf(b byte) model.Hash256 {
	var h model.Hash256
	h[0] = b
	return h
}

func TestInternPathIdempotent(t *testing.T) {
	r := newTestRepo()
	id1, err := r.InternPath("/a/b")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := r.InternPath("/a/b")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("InternPath not idempotent: %d != %d", id1, id2)
	}

	other, err := r.InternPath("/a/c")
	if err != nil {
		t.Fatal(err)
	}
	if other == id1 {
		t.Fatal("distinct paths got the same path_id")
	}
}

func TestRecordObservationCreatesAndReplaces(t *testing.T) {
	r := newTestRepo()
	pid, err := r.InternPath("/a/x")
	if err != nil {
		t.Fatal(err)
	}

	f1, created, err := r.RecordObservation(Observation{
		PathID: pid, Size: 100, MtimeSecs: 1000, Hash256: hashOf(1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected created=true on first observation")
	}

	state, err := r.GetState(f1)
	if err != nil {
		t.Fatal(err)
	}
	if state != model.Live {
		t.Fatalf("state = %v, want Live", state)
	}

	f2, created, err := r.RecordObservation(Observation{
		PathID: pid, Size: 101, MtimeSecs: 2000, Hash256: hashOf(2),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected created=true for changed identity")
	}
	if f2 == f1 {
		t.Fatal("expected a new file_id for changed identity")
	}

	f1State, err := r.GetState(f1)
	if err != nil {
		t.Fatal(err)
	}
	if f1State != model.Replaced {
		t.Fatalf("previous version state = %v, want Replaced", f1State)
	}

	cur, found, err := r.CurrentVersion(pid)
	if err != nil {
		t.Fatal(err)
	}
	if !found || cur != f2 {
		t.Fatalf("CurrentVersion = (%v, %v), want (%v, true)", cur, found, f2)
	}
}

func TestRecordObservationIdempotentSameIdentity(t *testing.T) {
	r := newTestRepo()
	pid, err := r.InternPath("/a/x")
	if err != nil {
		t.Fatal(err)
	}

	f1, _, err := r.RecordObservation(Observation{
		PathID: pid, Size: 100, MtimeSecs: 1000, Hash256: hashOf(1),
	})
	if err != nil {
		t.Fatal(err)
	}

	f2, created, err := r.RecordObservation(Observation{
		PathID: pid, Size: 100, MtimeSecs: 1000, Hash256: hashOf(1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("expected created=false for identical observation")
	}
	if f1 != f2 {
		t.Fatalf("expected same file_id, got %v and %v", f1, f2)
	}
}

func TestContentGroupSortedUnique(t *testing.T) {
	r := newTestRepo()
	h := hashOf(9)

	var ids []model.FileID
	for _, p := range []string{"/a", "/b", "/c"} {
		pid, err := r.InternPath(p)
		if err != nil {
			t.Fatal(err)
		}
		fid, _, err := r.RecordObservation(Observation{
			PathID: pid, Size: 5, MtimeSecs: 1, Hash256: h,
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, fid)
	}

	group, err := r.ListContentGroup(h)
	if err != nil {
		t.Fatal(err)
	}
	if len(group) != 3 {
		t.Fatalf("group size = %d, want 3", len(group))
	}
	for i := 1; i < len(group); i++ {
		if group[i-1] >= group[i] {
			t.Fatalf("group not sorted ascending: %v", group)
		}
	}
}

func TestMarkMissingClearsPathCurrent(t *testing.T) {
	r := newTestRepo()
	pid, err := r.InternPath("/a/x")
	if err != nil {
		t.Fatal(err)
	}
	fid, _, err := r.RecordObservation(Observation{
		PathID: pid, Size: 5, MtimeSecs: 1, Hash256: hashOf(3),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := r.MarkMissing(fid); err != nil {
		t.Fatal(err)
	}

	state, err := r.GetState(fid)
	if err != nil {
		t.Fatal(err)
	}
	if state != model.Missing {
		t.Fatalf("state = %v, want Missing", state)
	}

	_, found, err := r.CurrentVersion(pid)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected PathCurrent to be cleared after MarkMissing")
	}
}

func TestMarkMissingNoOpOnAlreadyReplaced(t *testing.T) {
	r := newTestRepo()
	pid, err := r.InternPath("/a/x")
	if err != nil {
		t.Fatal(err)
	}
	f1, _, err := r.RecordObservation(Observation{
		PathID: pid, Size: 5, MtimeSecs: 1, Hash256: hashOf(1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.RecordObservation(Observation{
		PathID: pid, Size: 6, MtimeSecs: 2, Hash256: hashOf(2),
	}); err != nil {
		t.Fatal(err)
	}

	if err := r.MarkMissing(f1); err != nil {
		t.Fatal(err)
	}
	state, err := r.GetState(f1)
	if err != nil {
		t.Fatal(err)
	}
	if state != model.Replaced {
		t.Fatalf("state = %v, want Replaced (unchanged)", state)
	}
}

func TestApplyBatchCommitsAllObservationsTogether(t *testing.T) {
	r := newTestRepo()
	pid1, err := r.InternPath("/a")
	if err != nil {
		t.Fatal(err)
	}
	pid2, err := r.InternPath("/b")
	if err != nil {
		t.Fatal(err)
	}

	results, err := r.ApplyBatch([]Observation{
		{PathID: pid1, Size: 10, MtimeSecs: 1, Hash256: hashOf(1)},
		{PathID: pid2, Size: 20, MtimeSecs: 2, Hash256: hashOf(2)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, res := range results {
		if !res.Created {
			t.Fatalf("expected created=true for a fresh observation: %+v", res)
		}
	}

	cur1, found, err := r.CurrentVersion(pid1)
	if err != nil || !found || cur1 != results[0].FileID {
		t.Fatalf("CurrentVersion mismatch for pid1: %v %v %v", cur1, found, err)
	}
}

func TestScanOfUnchangedTreeAllocatesNoNewFileIDs(t *testing.T) {
	r := newTestRepo()
	pid, err := r.InternPath("/a/x")
	if err != nil {
		t.Fatal(err)
	}
	f1, _, err := r.RecordObservation(Observation{
		PathID: pid, Size: 5, MtimeSecs: 1, Hash256: hashOf(1),
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		f2, created, err := r.RecordObservation(Observation{
			PathID: pid, Size: 5, MtimeSecs: 1, Hash256: hashOf(1),
		})
		if err != nil {
			t.Fatal(err)
		}
		if created || f2 != f1 {
			t.Fatalf("rescan of unchanged file allocated a new version: %v %v", f2, created)
		}
	}
}

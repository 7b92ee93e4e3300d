package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/papapumpkin/assasdb/internal/archive"
	"github.com/papapumpkin/assasdb/internal/catalog"
	"github.com/papapumpkin/assasdb/internal/document"
)

func TestRefresh_IndexesEveryArchive(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.writeArchive(t, "LOCA.bin", map[string]string{
		"LOCA.bin.mdat":  "mdat",
		"logs/run.log":   "log",
		"conf/input.dat": "input",
	})
	e.writeArchive(t, "sbo/SBO.bin", map[string]string{
		"SBO.bin.mdat": "mdat",
	})

	rep, err := e.mgr.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := rep.Scan.Count(ClassNew); got != 2 {
		t.Errorf("new archives = %d, want 2", got)
	}
	for _, id := range []string{"LOCA.bin", "sbo/SBO.bin"} {
		res, ok := rep.Reindex[id]
		if !ok {
			t.Fatalf("no reindex result for %s", id)
		}
		if res.Outcome != OutcomeIndexed || res.Err != nil {
			t.Errorf("%s: outcome=%s err=%v", id, res.Outcome, res.Err)
		}
		if a := mustArchive(t, e.mgr, id); a.Status != catalog.StatusIndexed {
			t.Errorf("%s: status = %s, want indexed", id, a.Status)
		}
	}

	got := findPaths(t, e.mgr, catalog.Predicate{})
	want := []string{
		"LOCA.bin:LOCA.bin.mdat",
		"LOCA.bin:conf/input.dat",
		"LOCA.bin:logs/run.log",
		"sbo/SBO.bin:SBO.bin.mdat",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Find mismatch (-want +got):\n%s", diff)
	}
}

func TestRefresh_Idempotent(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.writeArchive(t, "A.bin", map[string]string{"a.dat": "1", "b.dat": "22"})
	ctx := context.Background()

	if _, err := e.mgr.Refresh(ctx); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	before := findPaths(t, e.mgr, catalog.Predicate{})
	gen := mustArchive(t, e.mgr, "A.bin").Generation

	rep, err := e.mgr.Refresh(ctx)
	if err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	if got := rep.Scan["A.bin"].Class; got != ClassUnchanged {
		t.Errorf("class = %s, want unchanged", got)
	}
	if len(rep.Reindex) != 0 {
		t.Errorf("second refresh reindexed %d archives", len(rep.Reindex))
	}
	if diff := cmp.Diff(before, findPaths(t, e.mgr, catalog.Predicate{})); diff != "" {
		t.Errorf("catalog changed (-before +after):\n%s", diff)
	}
	if got := mustArchive(t, e.mgr, "A.bin").Generation; got != gen {
		t.Errorf("generation = %d, want %d", got, gen)
	}
}

func TestScan_ChangedArchiveGoesStaleThenReindexes(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	dirA := e.writeArchive(t, "A.bin", map[string]string{"keep.dat": "k", "drop.dat": "d"})
	e.writeArchive(t, "B.bin", map[string]string{"b.dat": "b"})
	ctx := context.Background()

	if _, err := e.mgr.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := os.Remove(filepath.Join(dirA, "drop.dat")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dirA, "new.log"), "fresh", fileTime.Add(time.Hour))

	scan, err := e.mgr.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := scan["A.bin"]; got.Class != ClassChanged || got.Status != catalog.StatusStale || !got.NeedsIndex {
		t.Errorf("A.bin scan = %+v, want changed/stale/needs index", got)
	}
	if got := scan["B.bin"].Class; got != ClassUnchanged {
		t.Errorf("B.bin class = %s, want unchanged", got)
	}
	if diff := cmp.Diff([]string{"A.bin"}, scan.Pending()); diff != "" {
		t.Errorf("Pending mismatch (-want +got):\n%s", diff)
	}

	// Stale archives keep answering from their last completed reindex.
	stale := findPaths(t, e.mgr, catalog.Predicate{ArchiveIDs: []string{"A.bin"}})
	if diff := cmp.Diff([]string{"A.bin:drop.dat", "A.bin:keep.dat"}, stale); diff != "" {
		t.Errorf("stale Find mismatch (-want +got):\n%s", diff)
	}

	rep, err := e.mgr.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := rep.Reindex["A.bin"]; got.Outcome != OutcomeIndexed || got.Documents != 2 {
		t.Errorf("A.bin reindex = %+v, want indexed with 2 documents", got)
	}
	fresh := findPaths(t, e.mgr, catalog.Predicate{ArchiveIDs: []string{"A.bin"}})
	if diff := cmp.Diff([]string{"A.bin:keep.dat", "A.bin:new.log"}, fresh); diff != "" {
		t.Errorf("reindexed Find mismatch (-want +got):\n%s", diff)
	}
}

func TestScan_RemovedArchiveDropsDocuments(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	dir := e.writeArchive(t, "gone.bin", map[string]string{"x.dat": "x", "y.dat": "y"})
	e.writeArchive(t, "kept.bin", map[string]string{"z.dat": "z"})
	ctx := context.Background()

	if _, err := e.mgr.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	scan, err := e.mgr.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := scan["gone.bin"]; got.Class != ClassRemoved || got.Removed != 2 {
		t.Errorf("gone.bin = %+v, want removed with 2 documents", got)
	}
	if _, err := e.mgr.Archive(ctx, "gone.bin"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("Archive(gone.bin) err = %v, want ErrNotFound", err)
	}
	if _, err := e.mgr.Get(ctx, document.ID("gone.bin", "x.dat")); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("Get(removed doc) err = %v, want ErrNotFound", err)
	}
	if got := findPaths(t, e.mgr, catalog.Predicate{}); !cmp.Equal(got, []string{"kept.bin:z.dat"}) {
		t.Errorf("Find = %v, want only kept.bin", got)
	}
}

func TestScan_MissingRootFailsWithoutRemovingArchives(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.writeArchive(t, "A.bin", map[string]string{"a.dat": "a"})
	ctx := context.Background()
	if _, err := e.mgr.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := os.RemoveAll(e.root); err != nil {
		t.Fatal(err)
	}
	if _, err := e.mgr.Scan(ctx); err == nil {
		t.Fatal("Scan of missing root succeeded")
	}
	if a := mustArchive(t, e.mgr, "A.bin"); a.Status != catalog.StatusIndexed {
		t.Errorf("status = %s, want indexed", a.Status)
	}
}

func TestScan_LockedArchiveIsUnavailable(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	dir := e.writeArchive(t, "busy.bin", map[string]string{"a.dat": "a"})
	writeFile(t, filepath.Join(dir, ".lock"), "", fileTime)
	e.writeArchive(t, "ok.bin", map[string]string{"b.dat": "b"})

	rep, err := e.mgr.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	busy := rep.Scan["busy.bin"]
	if busy.Class != ClassUnavailable || busy.NeedsIndex {
		t.Errorf("busy.bin = %+v, want unavailable without pending index", busy)
	}
	if !errors.Is(busy.Err, archive.ErrArchiveLocked) {
		t.Errorf("busy.bin err = %v, want ErrArchiveLocked", busy.Err)
	}
	a := mustArchive(t, e.mgr, "busy.bin")
	if a.Status != catalog.StatusUnindexed || a.LastError == "" {
		t.Errorf("busy.bin archive = status %s, last error %q", a.Status, a.LastError)
	}
	if got := rep.Reindex["ok.bin"].Outcome; got != OutcomeIndexed {
		t.Errorf("ok.bin outcome = %s, want indexed", got)
	}

	// Once the lock is gone the archive is picked up.
	if err := os.Remove(filepath.Join(dir, ".lock")); err != nil {
		t.Fatal(err)
	}
	rep, err = e.mgr.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := rep.Reindex["busy.bin"].Outcome; got != OutcomeIndexed {
		t.Errorf("busy.bin outcome after unlock = %s, want indexed", got)
	}
}

func TestScan_FailedArchiveWaitsForRetry(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.writeArchive(t, "A.bin", map[string]string{"a.dat": "a"})
	ctx := context.Background()
	if _, err := e.mgr.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if err := e.cat.SetArchiveStatus(ctx, "A.bin", catalog.StatusFailed, "boom"); err != nil {
		t.Fatalf("SetArchiveStatus: %v", err)
	}

	scan, err := e.mgr.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got := scan["A.bin"]; got.Class != ClassFailed || got.NeedsIndex {
		t.Errorf("A.bin = %+v, want failed without pending index", got)
	}

	retrying := New(e.cat, e.root, WithRetryFailed(true))
	scan, err = retrying.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan with retry: %v", err)
	}
	if got := scan["A.bin"]; got.Class != ClassPending || got.Status != catalog.StatusUnindexed || !got.NeedsIndex {
		t.Errorf("A.bin = %+v, want pending unindexed", got)
	}
}

func TestScanReport_Pending(t *testing.T) {
	t.Parallel()
	r := ScanReport{
		"c": {Class: ClassChanged, NeedsIndex: true},
		"a": {Class: ClassNew, NeedsIndex: true},
		"b": {Class: ClassUnchanged},
		"d": {Class: ClassRemoved},
	}
	if diff := cmp.Diff([]string{"a", "c"}, r.Pending()); diff != "" {
		t.Errorf("Pending mismatch (-want +got):\n%s", diff)
	}
	if got := r.Count(ClassRemoved); got != 1 {
		t.Errorf("Count(removed) = %d, want 1", got)
	}
}

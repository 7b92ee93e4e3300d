package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/papapumpkin/assasdb/internal/archive"
	"github.com/papapumpkin/assasdb/internal/document"
)

// baseTime anchors fixture timestamps.
var baseTime = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

// testHandler creates a Handler backed by a temp-dir database.
func testHandler(t *testing.T) *Handler {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	h, err := Open(context.Background(), dbPath, WithClock(func() time.Time { return baseTime }))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

// seedArchive registers an archive with the given status.
func seedArchive(t *testing.T, h *Handler, id string, status Status) {
	t.Helper()
	if err := h.PutArchive(context.Background(), Archive{
		ID:        id,
		Path:      "/archive/" + id,
		Format:    archive.FormatDir,
		Signature: archive.Signature("stat:" + id),
		Status:    status,
	}); err != nil {
		t.Fatalf("PutArchive(%s): %v", id, err)
	}
}

// makeEntry builds an entry for path inside archiveID.
func makeEntry(t *testing.T, archiveID, path string, size int64, gen int64, at time.Time) Entry {
	t.Helper()
	doc, err := document.New(archiveID, archive.RawRecord{
		Path:    path,
		Size:    size,
		ModTime: baseTime.Add(time.Duration(size) * time.Minute),
		Fields:  map[string]string{"mode": "644"},
	})
	if err != nil {
		t.Fatalf("document.New(%s, %s): %v", archiveID, path, err)
	}
	e, err := NewEntry(doc, gen, at)
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	return e
}

// mustUpsert upserts e and returns the change.
func mustUpsert(t *testing.T, h *Handler, e Entry) Change {
	t.Helper()
	c, err := h.Upsert(context.Background(), e)
	if err != nil {
		t.Fatalf("Upsert(%s): %v", e.Path, err)
	}
	return c
}

// queryPaths runs a query and returns archive:path keys.
func queryPaths(t *testing.T, h *Handler, p Predicate) []string {
	t.Helper()
	var out []string
	for e, err := range h.Query(context.Background(), p) {
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		out = append(out, e.ArchiveID+":"+e.Path)
	}
	return out
}

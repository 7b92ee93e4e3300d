package document

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/papapumpkin/assasdb/internal/archive"
)

var mtime = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

func TestNewDerivesFields(t *testing.T) {
	t.Parallel()

	raw := archive.RawRecord{
		Path:    "./output/LOCA_12/primary.H5",
		Size:    3 * 1024 * 1024,
		ModTime: mtime.In(time.FixedZone("CET", 3600)),
		Fields:  map[string]string{" Mode ": " 640 ", "OWNER": "astec", "": "dropped"},
	}
	got, err := New("campaign/LOCA_12.bin", raw)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	want := Document{
		ID:        ID("campaign/LOCA_12.bin", "output/LOCA_12/primary.H5"),
		ArchiveID: "campaign/LOCA_12.bin",
		Path:      "output/LOCA_12/primary.H5",
		Category:  CategoryDataset,
		Name:      "primary.H5",
		Ext:       "h5",
		Dir:       "output/LOCA_12",
		Depth:     2,
		Size:      3 * 1024 * 1024,
		SizeHuman: "3.0 MiB",
		ModTime:   mtime,
		Fields:    map[string]string{"mode": "640", "owner": "astec"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Document mismatch (-want +got):\n%s", diff)
	}
	if got.ModTime.Location() != time.UTC {
		t.Errorf("ModTime location = %v, want UTC", got.ModTime.Location())
	}
}

func TestNewIsPure(t *testing.T) {
	t.Parallel()

	raw := archive.RawRecord{Path: "a/b.log", Size: 10, ModTime: mtime, Fields: map[string]string{"k": "v"}}
	a, err := New("run.tar", raw)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New("run.tar", raw)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("New not deterministic (-a +b):\n%s", diff)
	}

	fa, err := a.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	fb, err := b.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if fa != fb {
		t.Errorf("fingerprints differ: %s vs %s", fa, fb)
	}

	b.Size++
	fc, err := b.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if fc == fa {
		t.Error("fingerprint unchanged after size change")
	}
}

func TestIDStability(t *testing.T) {
	t.Parallel()

	// Equivalent spellings of a path map to one identifier; archive and path
	// both participate in the identifier.
	spellings := []string{"data/x.bin", "./data/x.bin", "/data/x.bin", "data//x.bin", "data/sub/../x.bin", `data\x.bin`}
	var ids []string
	for _, p := range spellings {
		d, err := New("A.bin", archive.RawRecord{Path: p})
		if err != nil {
			t.Fatalf("New(%q): %v", p, err)
		}
		ids = append(ids, d.ID)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[0] {
			t.Errorf("ID(%q) = %s, want %s", spellings[i], ids[i], ids[0])
		}
	}

	other, err := New("B.bin", archive.RawRecord{Path: "data/x.bin"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if other.ID == ids[0] {
		t.Error("same path in different archives must not share an ID")
	}

	u, err := uuid.Parse(ids[0])
	if err != nil {
		t.Fatalf("uuid.Parse(%q): %v", ids[0], err)
	}
	if u.Version() != 5 {
		t.Errorf("ID version = %d, want 5", u.Version())
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		archiveID string
		raw       archive.RawRecord
		wantErr   error
	}{
		{"empty path", "A.bin", archive.RawRecord{Path: ""}, ErrInvalidPath},
		{"blank path", "A.bin", archive.RawRecord{Path: "   "}, ErrInvalidPath},
		{"root", "A.bin", archive.RawRecord{Path: "./"}, ErrInvalidPath},
		{"escape", "A.bin", archive.RawRecord{Path: "../etc/passwd"}, ErrInvalidPath},
		{"nested escape", "A.bin", archive.RawRecord{Path: "a/../../b"}, ErrInvalidPath},
		{"negative size", "A.bin", archive.RawRecord{Path: "a", Size: -1}, ErrInvalidRecord},
		{"no archive", "", archive.RawRecord{Path: "a"}, ErrInvalidRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.archiveID, tt.raw)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := map[string]Category{
		"h5":    CategoryDataset,
		".HDF5": CategoryDataset,
		"bin":   CategorySave,
		"mdat":  CategoryData,
		"log":   CategoryLog,
		"yaml":  CategoryConfig,
		"pdf":   CategoryReport,
		"":      CategoryOther,
		"xyz":   CategoryOther,
	}
	for ext, want := range tests {
		if got := Classify(ext); got != want {
			t.Errorf("Classify(%q) = %q, want %q", ext, got, want)
		}
	}
}

func TestParseCategory(t *testing.T) {
	t.Parallel()

	if c, err := ParseCategory(" Dataset "); err != nil || c != CategoryDataset {
		t.Errorf("ParseCategory = (%q, %v), want dataset", c, err)
	}
	if _, err := ParseCategory("video"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestIDSetDuplicate(t *testing.T) {
	t.Parallel()

	set := NewIDSet()
	raws := []string{"data/x.bin", "./data/x.bin", "data/y.bin"}
	var dups []error
	for _, p := range raws {
		d, err := New("A.bin", archive.RawRecord{Path: p})
		if err != nil {
			t.Fatalf("New(%q): %v", p, err)
		}
		if err := set.Add(d, p); err != nil {
			dups = append(dups, err)
		}
	}

	if len(dups) != 1 {
		t.Fatalf("got %d duplicate errors, want 1", len(dups))
	}
	if !errors.Is(dups[0], ErrDuplicateIdentifier) {
		t.Errorf("err = %v, want ErrDuplicateIdentifier", dups[0])
	}
	var de *DuplicateError
	if !errors.As(dups[0], &de) {
		t.Fatalf("err is %T, want *DuplicateError", dups[0])
	}
	if de.First != "data/x.bin" || de.Second != "./data/x.bin" {
		t.Errorf("DuplicateError = %+v", de)
	}
	if set.Len() != 2 {
		t.Errorf("Len = %d, want 2", set.Len())
	}
}

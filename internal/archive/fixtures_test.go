package archive

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// fixtureTime is the modification time stamped on every fixture entry.
var fixtureTime = time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC)

type fixtureFile struct {
	name string
	body string
}

// writeDirArchive creates an ASTEC-style output directory under parent.
func writeDirArchive(t *testing.T, parent, name string, files []fixtureFile) string {
	t.Helper()
	dir := filepath.Join(parent, name)
	for _, f := range files {
		path := filepath.Join(dir, filepath.FromSlash(f.name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(path, []byte(f.body), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if err := os.Chtimes(path, fixtureTime, fixtureTime); err != nil {
			t.Fatalf("Chtimes: %v", err)
		}
	}
	return dir
}

// tarBytes builds an uncompressed tarball with a directory entry followed by
// the given files.
func tarBytes(t *testing.T, files []fixtureFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name:     "output/",
		Typeflag: tar.TypeDir,
		Mode:     0o755,
		ModTime:  fixtureTime,
	}); err != nil {
		t.Fatalf("WriteHeader dir: %v", err)
	}
	for _, f := range files {
		hdr := &tar.Header{
			Name:     f.name,
			Typeflag: tar.TypeReg,
			Mode:     0o640,
			Size:     int64(len(f.body)),
			ModTime:  fixtureTime,
			Uname:    "astec",
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader %s: %v", f.name, err)
		}
		if _, err := io.WriteString(tw, f.body); err != nil {
			t.Fatalf("write %s: %v", f.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	return buf.Bytes()
}

// writeTarArchive writes files as a tarball compressed according to format.
func writeTarArchive(t *testing.T, parent, name string, format Format, files []fixtureFile) string {
	t.Helper()
	raw := tarBytes(t, files)

	var buf bytes.Buffer
	switch format {
	case FormatTar:
		buf.Write(raw)
	case FormatTarGz:
		zw := gzip.NewWriter(&buf)
		zw.Write(raw)
		if err := zw.Close(); err != nil {
			t.Fatalf("gzip close: %v", err)
		}
	case FormatTarZst:
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			t.Fatalf("zstd.NewWriter: %v", err)
		}
		zw.Write(raw)
		if err := zw.Close(); err != nil {
			t.Fatalf("zstd close: %v", err)
		}
	case FormatTarLz4:
		zw := lz4.NewWriter(&buf)
		zw.Write(raw)
		if err := zw.Close(); err != nil {
			t.Fatalf("lz4 close: %v", err)
		}
	default:
		t.Fatalf("unsupported fixture format %q", format)
	}

	path := filepath.Join(parent, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// writeZipArchive writes files as a zip archive.
func writeZipArchive(t *testing.T, parent, name string, files []fixtureFile) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if _, err := zw.CreateHeader(&zip.FileHeader{Name: "output/", Modified: fixtureTime}); err != nil {
		t.Fatalf("create dir entry: %v", err)
	}
	for _, f := range files {
		hdr := &zip.FileHeader{Name: f.name, Method: zip.Deflate, Modified: fixtureTime}
		hdr.SetMode(0o640)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("CreateHeader %s: %v", f.name, err)
		}
		if _, err := io.WriteString(w, f.body); err != nil {
			t.Fatalf("write %s: %v", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	path := filepath.Join(parent, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// collect drains seq and returns the records and the terminal error.
func collect(seq Sequence) ([]RawRecord, error) {
	var recs []RawRecord
	for rec, err := range seq {
		if err != nil {
			return recs, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// paths returns the Path of every record.
func paths(recs []RawRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Path
	}
	return out
}

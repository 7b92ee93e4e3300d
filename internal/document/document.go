// Package document turns raw archive records into catalog documents. The
// transformation is pure: the same archive ID and raw record always produce
// the same Document, including its identifier.
package document

import (
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/papapumpkin/assasdb/internal/archive"
	"github.com/papapumpkin/assasdb/internal/codec"
)

// namespace scopes document identifiers. Changing it changes every ID.
var namespace = uuid.UUID{
	0x6f, 0x1c, 0x2b, 0x9e, 0x4a, 0x57, 0x5d, 0x0e,
	0x9b, 0x43, 0x2f, 0x8e, 0x61, 0xa7, 0xc0, 0xd4,
}

// Document is one file of a simulation archive as the catalog sees it.
type Document struct {
	ID        string            `cbor:"id"`
	ArchiveID string            `cbor:"archive"`
	Path      string            `cbor:"path"`
	Category  Category          `cbor:"category"`
	Name      string            `cbor:"name"`
	Ext       string            `cbor:"ext,omitempty"`
	Dir       string            `cbor:"dir,omitempty"`
	Depth     int               `cbor:"depth"`
	Size      int64             `cbor:"size"`
	SizeHuman string            `cbor:"size_human"`
	ModTime   time.Time         `cbor:"mtime"`
	Fields    map[string]string `cbor:"fields,omitempty"`
}

// New builds the Document for raw inside the archive identified by archiveID.
func New(archiveID string, raw archive.RawRecord) (Document, error) {
	if archiveID == "" {
		return Document{}, fmt.Errorf("%w: empty archive id", ErrInvalidRecord)
	}
	p, err := NormalizePath(raw.Path)
	if err != nil {
		return Document{}, err
	}
	if raw.Size < 0 {
		return Document{}, fmt.Errorf("%w: %s: negative size %d", ErrInvalidRecord, p, raw.Size)
	}

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	dir := path.Dir(p)
	if dir == "." {
		dir = ""
	}
	mtime := raw.ModTime
	if !mtime.IsZero() {
		mtime = mtime.UTC()
	}

	return Document{
		ID:        ID(archiveID, p),
		ArchiveID: archiveID,
		Path:      p,
		Category:  Classify(ext),
		Name:      path.Base(p),
		Ext:       ext,
		Dir:       dir,
		Depth:     strings.Count(p, "/"),
		Size:      raw.Size,
		SizeHuman: humanize.IBytes(uint64(raw.Size)),
		ModTime:   mtime,
		Fields:    normalizeFields(raw.Fields),
	}, nil
}

// ID returns the identifier of the document at the normalized path p inside
// archiveID.
func ID(archiveID, p string) string {
	return uuid.NewSHA1(namespace, []byte(archiveID+"\x00"+p)).String()
}

// NormalizePath cleans an archive-relative path: backslashes become slashes,
// "." and ".." elements are resolved, and leading "/" is stripped. Empty
// paths and paths escaping the archive return ErrInvalidPath.
func NormalizePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	c := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	c = strings.TrimLeft(c, "/")
	switch {
	case c == "" || c == ".":
		return "", fmt.Errorf("%w: %q names the archive root", ErrInvalidPath, p)
	case c == ".." || strings.HasPrefix(c, "../"):
		return "", fmt.Errorf("%w: %q escapes the archive", ErrInvalidPath, p)
	}
	return c, nil
}

// Fingerprint hashes the deterministic encoding of d. Equal documents have
// equal fingerprints.
func (d Document) Fingerprint() (string, error) {
	data, err := codec.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("document: fingerprint %s: %w", d.ID, err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// normalizeFields lower-cases and trims keys and trims values. When two keys
// collide after normalization the one that sorts first wins.
func normalizeFields(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(in))
	for _, k := range keys {
		nk := strings.ToLower(strings.TrimSpace(k))
		if nk == "" {
			continue
		}
		if _, dup := out[nk]; dup {
			continue
		}
		out[nk] = strings.TrimSpace(in[k])
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Package archive reads ASTEC simulation archives. An archive is treated as an
// opaque, enumerable source: a Reader streams one RawRecord per regular file
// without loading the archive into memory and without writing to it.
package archive

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"time"
)

// Format identifies how an archive is laid out on disk.
type Format string

// Supported archive formats.
const (
	FormatDir    Format = "dir"     // ASTEC .bin output directory
	FormatTar    Format = "tar"     // uncompressed tarball
	FormatTarGz  Format = "tar.gz"  // gzip-compressed tarball
	FormatTarZst Format = "tar.zst" // zstd-compressed tarball
	FormatTarLz4 Format = "tar.lz4" // lz4-compressed tarball
	FormatZip    Format = "zip"     // zip archive
)

// Locator addresses one archive under the archive root.
type Locator struct {
	ID     string // root-relative, slash-separated path; stable across scans
	Path   string // absolute filesystem path
	Format Format
}

// RawRecord describes a single file inside an archive as the reader found it.
// Path is archive-relative and not yet normalized.
type RawRecord struct {
	Path    string
	Size    int64
	ModTime time.Time
	Fields  map[string]string
}

// Sequence is a lazy, finite stream of raw records. Every range over a
// Sequence reopens the archive, so a Sequence can be consumed more than once.
// A non-nil error is always the last element yielded.
type Sequence = iter.Seq2[RawRecord, error]

// Reader opens one archive format.
type Reader interface {
	// Format reports the archive format this reader understands.
	Format() Format
	// Records returns the record stream for loc. Errors opening or decoding
	// the archive are yielded as ErrSourceUnavailable; cancellation of ctx is
	// yielded as ctx.Err().
	Records(ctx context.Context, loc Locator) Sequence
}

// Registry maps formats to their readers.
type Registry struct {
	readers map[Format]Reader
}

// NewRegistry returns a registry containing the given readers. Later readers
// replace earlier ones registered for the same format.
func NewRegistry(readers ...Reader) *Registry {
	r := &Registry{readers: make(map[Format]Reader, len(readers))}
	for _, rd := range readers {
		r.Register(rd)
	}
	return r
}

// DefaultRegistry returns a registry with every built-in reader.
func DefaultRegistry() *Registry {
	return NewRegistry(
		DirReader{},
		TarReader{Compression: FormatTar},
		TarReader{Compression: FormatTarGz},
		TarReader{Compression: FormatTarZst},
		TarReader{Compression: FormatTarLz4},
		ZipReader{},
	)
}

// Register adds rd, replacing any reader for the same format.
func (r *Registry) Register(rd Reader) {
	r.readers[rd.Format()] = rd
}

// Lookup returns the reader for f.
func (r *Registry) Lookup(f Format) (Reader, error) {
	rd, ok := r.readers[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	return rd, nil
}

// Formats returns the registered formats in sorted order.
func (r *Registry) Formats() []Format {
	out := make([]Format, 0, len(r.readers))
	for f := range r.readers {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Records dispatches to the reader registered for loc.Format. An unknown
// format yields a single ErrSourceUnavailable error.
func (r *Registry) Records(ctx context.Context, loc Locator) Sequence {
	rd, err := r.Lookup(loc.Format)
	if err != nil {
		return failed(unavailable("open", loc.Path, err))
	}
	return rd.Records(ctx, loc)
}

// failed returns a sequence that yields only err.
func failed(err error) Sequence {
	return func(yield func(RawRecord, error) bool) {
		yield(RawRecord{}, err)
	}
}

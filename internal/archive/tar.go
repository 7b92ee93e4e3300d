package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// TarReader streams tarballs header by header. Compression selects the
// decompressor and must be one of the tar formats.
type TarReader struct {
	Compression Format
}

// Format reports the tar variant this reader handles.
func (r TarReader) Format() Format { return r.Compression }

// Records streams regular-file headers. Entry contents are skipped, never
// buffered. A truncated or corrupt stream yields ErrSourceUnavailable.
func (r TarReader) Records(ctx context.Context, loc Locator) Sequence {
	return func(yield func(RawRecord, error) bool) {
		if err := checkLock(loc); err != nil {
			yield(RawRecord{}, err)
			return
		}

		f, err := os.Open(loc.Path)
		if err != nil {
			yield(RawRecord{}, unavailable("open", loc.Path, err))
			return
		}
		defer f.Close()

		stream, closeStream, err := decompress(r.Compression, f)
		if err != nil {
			yield(RawRecord{}, unavailable("decompress", loc.Path, err))
			return
		}
		defer closeStream()

		tr := tar.NewReader(stream)
		for {
			if err := ctx.Err(); err != nil {
				yield(RawRecord{}, err)
				return
			}
			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(RawRecord{}, unavailable("read", loc.Path, err))
				return
			}
			if hdr.Typeflag != tar.TypeReg {
				continue
			}
			rec := RawRecord{
				Path:    hdr.Name,
				Size:    hdr.Size,
				ModTime: hdr.ModTime.UTC(),
				Fields:  tarFields(hdr),
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// decompress wraps src in the decompressor for format.
func decompress(format Format, src io.Reader) (io.Reader, func(), error) {
	switch format {
	case FormatTar:
		return src, func() {}, nil
	case FormatTarGz:
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() { zr.Close() }, nil
	case FormatTarZst:
		zr, err := zstd.NewReader(src)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case FormatTarLz4:
		return lz4.NewReader(src), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q is not a tar format", ErrUnknownFormat, format)
	}
}

func tarFields(hdr *tar.Header) map[string]string {
	fields := map[string]string{
		"mode": strconv.FormatInt(hdr.Mode&0o777, 8),
	}
	if hdr.Uname != "" {
		fields["owner"] = hdr.Uname
	}
	if hdr.Gname != "" {
		fields["group"] = hdr.Gname
	}
	for k, v := range hdr.PAXRecords {
		fields["pax."+k] = v
	}
	return fields
}

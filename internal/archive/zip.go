package archive

import (
	"context"
	"strconv"

	"github.com/klauspost/compress/zip"
)

// ZipReader reads zip archives in central-directory order.
type ZipReader struct{}

// Format reports FormatZip.
func (ZipReader) Format() Format { return FormatZip }

// Records lists regular files from the central directory. Only the directory
// is read; entry data is never decompressed.
func (ZipReader) Records(ctx context.Context, loc Locator) Sequence {
	return func(yield func(RawRecord, error) bool) {
		if err := checkLock(loc); err != nil {
			yield(RawRecord{}, err)
			return
		}

		zr, err := zip.OpenReader(loc.Path)
		if err != nil {
			yield(RawRecord{}, unavailable("open", loc.Path, err))
			return
		}
		defer zr.Close()

		for _, f := range zr.File {
			if err := ctx.Err(); err != nil {
				yield(RawRecord{}, err)
				return
			}
			if !f.Mode().IsRegular() {
				continue
			}
			rec := RawRecord{
				Path:    f.Name,
				Size:    int64(f.UncompressedSize64),
				ModTime: f.Modified.UTC(),
				Fields: map[string]string{
					"mode":       strconv.FormatUint(uint64(f.Mode().Perm()), 8),
					"compressed": strconv.FormatUint(f.CompressedSize64, 10),
					"method":     strconv.FormatUint(uint64(f.Method), 10),
				},
			}
			if f.Comment != "" {
				rec.Fields["comment"] = f.Comment
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

package archive

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strconv"
)

// DirReader reads ASTEC output directories. Records are the regular files
// below the directory in lexical walk order.
type DirReader struct{}

// Format reports FormatDir.
func (DirReader) Format() Format { return FormatDir }

// Records walks the directory lazily. Symlinks and special files are skipped.
func (DirReader) Records(ctx context.Context, loc Locator) Sequence {
	return func(yield func(RawRecord, error) bool) {
		if err := checkLock(loc); err != nil {
			yield(RawRecord{}, err)
			return
		}

		stopped := false
		err := filepath.WalkDir(loc.Path, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return unavailable("walk", path, walkErr)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(loc.Path, path)
			if err != nil {
				return unavailable("walk", path, err)
			}
			rel = filepath.ToSlash(rel)
			if isControlFile(rel) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return unavailable("stat", path, err)
			}
			rec := RawRecord{
				Path:    rel,
				Size:    info.Size(),
				ModTime: info.ModTime().UTC(),
				Fields: map[string]string{
					"mode": strconv.FormatUint(uint64(info.Mode().Perm()), 8),
				},
			}
			if !yield(rec, nil) {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil && !stopped {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				yield(RawRecord{}, err)
				return
			}
			yield(RawRecord{}, unavailable("read", loc.Path, err))
		}
	}
}

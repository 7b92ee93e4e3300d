package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// lockNames are files whose presence inside a directory archive means the
// simulation tool is still writing it.
var lockNames = []string{".lock", "LOCK"}

// suffixes maps file name suffixes to formats. Longer suffixes are listed
// first so ".tar.gz" wins over ".gz"-less matches.
var suffixes = []struct {
	suffix string
	format Format
}{
	{".tar.gz", FormatTarGz},
	{".tgz", FormatTarGz},
	{".tar.zst", FormatTarZst},
	{".tzst", FormatTarZst},
	{".tar.lz4", FormatTarLz4},
	{".tar", FormatTar},
	{".zip", FormatZip},
}

// Detect classifies a filesystem entry by name. Directories are archives
// when they carry the ASTEC ".bin" suffix.
func Detect(name string, isDir bool) (Format, bool) {
	lower := strings.ToLower(name)
	if isDir {
		if strings.HasSuffix(lower, ".bin") {
			return FormatDir, true
		}
		return "", false
	}
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.format, true
		}
	}
	return "", false
}

// Discovery is the result of walking an archive root.
type Discovery struct {
	// Archives holds every candidate archive in lexical order.
	Archives []Locator
	// Unreadable holds the root-relative slash paths of directories whose
	// entries could not be listed. Archives below them are unknown, not gone.
	Unreadable []string
}

// Covers reports whether id lies below one of the unreadable directories.
func (d Discovery) Covers(id string) bool {
	for _, dir := range d.Unreadable {
		if strings.HasPrefix(id, dir+"/") {
			return true
		}
	}
	return false
}

// Discover walks root and returns every candidate archive. It never descends
// into an archive directory and skips hidden entries. Only a root that
// cannot be read fails the walk; unreadable subdirectories are reported in
// Discovery.Unreadable.
func Discover(ctx context.Context, root string) (Discovery, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Discovery{}, fmt.Errorf("archive: resolve root %s: %w", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return Discovery{}, fmt.Errorf("archive: stat root %s: %w", absRoot, err)
	}
	if !info.IsDir() {
		return Discovery{}, fmt.Errorf("archive: root %s is not a directory", absRoot)
	}
	return DiscoverFS(ctx, os.DirFS(absRoot), absRoot)
}

// DiscoverFS walks fsys, whose entries live below absRoot on disk, with the
// rules of Discover.
func DiscoverFS(ctx context.Context, fsys fs.FS, absRoot string) (Discovery, error) {
	var out Discovery
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == "." {
			return walkErr
		}
		if walkErr != nil {
			out.Unreadable = append(out.Unreadable, p)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		format, ok := Detect(d.Name(), d.IsDir())
		if !ok {
			return nil
		}
		out.Archives = append(out.Archives, Locator{
			ID:     p,
			Path:   filepath.Join(absRoot, filepath.FromSlash(p)),
			Format: format,
		})
		if d.IsDir() {
			return fs.SkipDir
		}
		return nil
	})
	if err != nil {
		return Discovery{}, fmt.Errorf("archive: discover %s: %w", absRoot, err)
	}
	return out, nil
}

// Locate builds a Locator for an archive identified by its root-relative ID.
// IDs that are not clean local slash paths return fs.ErrInvalid; a missing
// entry returns ErrSourceUnavailable wrapping fs.ErrNotExist.
func Locate(root, id string) (Locator, error) {
	if id == "" || path.Clean(id) != id || !filepath.IsLocal(filepath.FromSlash(id)) {
		return Locator{}, fmt.Errorf("archive: locate %q: %w", id, fs.ErrInvalid)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Locator{}, fmt.Errorf("archive: resolve root %s: %w", root, err)
	}
	full := filepath.Join(absRoot, filepath.FromSlash(id))
	info, err := os.Stat(full)
	if err != nil {
		return Locator{}, unavailable("stat", full, err)
	}
	format, ok := Detect(info.Name(), info.IsDir())
	if !ok {
		return Locator{}, fmt.Errorf("%w: %s", ErrUnknownFormat, id)
	}
	return Locator{ID: id, Path: full, Format: format}, nil
}

// checkLock reports ErrArchiveLocked when a lock marker exists for loc.
func checkLock(loc Locator) error {
	candidates := []string{loc.Path + ".lock"}
	if loc.Format == FormatDir {
		for _, n := range lockNames {
			candidates = append(candidates, filepath.Join(loc.Path, n))
		}
	}
	for _, c := range candidates {
		_, err := os.Lstat(c)
		if err == nil {
			return fmt.Errorf("archive: %s: %w", loc.ID, ErrArchiveLocked)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return unavailable("check lock", c, err)
		}
	}
	return nil
}

// isLockFile reports whether rel is a root-level lock marker.
func isLockFile(rel string) bool {
	for _, n := range lockNames {
		if rel == n {
			return true
		}
	}
	return false
}

// isControlFile reports whether a root-level entry of a directory archive is
// bookkeeping rather than simulation output.
func isControlFile(rel string) bool {
	if strings.Contains(rel, "/") {
		return false
	}
	if isLockFile(rel) {
		return true
	}
	for _, n := range manifestNames {
		if rel == n {
			return true
		}
	}
	return false
}

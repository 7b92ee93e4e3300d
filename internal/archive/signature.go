package archive

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
)

// Signature summarizes an archive's on-disk state. Two signatures are equal
// exactly when the archive is considered unchanged.
type Signature string

// SignatureMode selects how signatures are computed.
type SignatureMode string

// Signature modes.
const (
	// SignatureStat hashes names, sizes and modification times. Cheap, and
	// the default.
	SignatureStat SignatureMode = "stat"
	// SignatureContent hashes file contents. Detects in-place rewrites that
	// preserve size and mtime, at the cost of reading every byte.
	SignatureContent SignatureMode = "content"
)

// ParseSignatureMode validates a configured mode. An empty string selects
// SignatureStat.
func ParseSignatureMode(s string) (SignatureMode, error) {
	switch SignatureMode(s) {
	case "", SignatureStat:
		return SignatureStat, nil
	case SignatureContent:
		return SignatureContent, nil
	default:
		return "", fmt.Errorf("archive: unknown signature mode %q", s)
	}
}

// Snapshot is the result of inspecting an archive on disk.
type Snapshot struct {
	Signature Signature
	Size      int64
	Files     int
	ModTime   time.Time
}

// Inspect computes the snapshot of loc. A locked or unreadable archive
// returns ErrSourceUnavailable.
func Inspect(ctx context.Context, loc Locator, mode SignatureMode) (Snapshot, error) {
	if err := checkLock(loc); err != nil {
		return Snapshot{}, err
	}
	h := blake3.New()
	var snap Snapshot

	add := func(rel string, info fs.FileInfo, path string) error {
		writeString(h, rel)
		writeInt(h, info.Size())
		snap.Size += info.Size()
		snap.Files++
		if mt := info.ModTime().UTC(); mt.After(snap.ModTime) {
			snap.ModTime = mt
		}
		if mode == SignatureContent {
			return hashContent(ctx, h, path)
		}
		writeInt(h, info.ModTime().UnixNano())
		return nil
	}

	info, err := os.Stat(loc.Path)
	if err != nil {
		return Snapshot{}, unavailable("stat", loc.Path, err)
	}
	if !info.IsDir() {
		if err := add(filepath.Base(loc.Path), info, loc.Path); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Snapshot{}, ctxErr
			}
			return Snapshot{}, unavailable("hash", loc.Path, err)
		}
	} else {
		err = filepath.WalkDir(loc.Path, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(loc.Path, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if isLockFile(rel) {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			return add(rel, fi, path)
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Snapshot{}, ctxErr
			}
			return Snapshot{}, unavailable("hash", loc.Path, err)
		}
	}

	snap.Signature = Signature(string(mode) + ":" + hex.EncodeToString(h.Sum(nil)))
	return snap, nil
}

func hashContent(ctx context.Context, h hash.Hash, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(h, ctxReader{ctx: ctx, r: f})
	return err
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func writeString(h hash.Hash, s string) {
	writeInt(h, int64(len(s)))
	h.Write([]byte(s))
}

func writeInt(h hash.Hash, v int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	h.Write(buf[:])
}

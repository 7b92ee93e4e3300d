package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/papapumpkin/assasdb/internal/codec"
)

const (
	dumpMagic   = "assasdb-dump"
	dumpVersion = 1
)

type dumpHeader struct {
	Magic     string    `cbor:"magic"`
	Version   int       `cbor:"version"`
	CreatedAt time.Time `cbor:"created_at"`
}

// dumpRecord is one element of the dump stream. Exactly one field is set;
// End marks the trailer carrying the totals.
type dumpRecord struct {
	Archive  *Archive `cbor:"archive,omitempty"`
	Entry    *Entry   `cbor:"entry,omitempty"`
	End      bool     `cbor:"end,omitempty"`
	Archives int      `cbor:"archives,omitempty"`
	Entries  int      `cbor:"entries,omitempty"`
}

// BackupStats counts what a Dump wrote or a Restore read.
type BackupStats struct {
	Archives int
	Entries  int
}

// Dump writes every archive and entry to w as a zstd-compressed CBOR
// stream. Writes that run concurrently with Dump may or may not be included.
func (h *Handler) Dump(ctx context.Context, w io.Writer) (BackupStats, error) {
	var st BackupStats
	archives, err := h.ListArchives(ctx)
	if err != nil {
		return st, err
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return st, fmt.Errorf("catalog: dump: %w", err)
	}
	enc := codec.NewEncoder(zw)
	if err := enc.Encode(dumpHeader{Magic: dumpMagic, Version: dumpVersion, CreatedAt: h.now().UTC()}); err != nil {
		zw.Close()
		return st, fmt.Errorf("catalog: dump header: %w", err)
	}

	for i := range archives {
		if err := enc.Encode(dumpRecord{Archive: &archives[i]}); err != nil {
			zw.Close()
			return st, fmt.Errorf("catalog: dump archive %s: %w", archives[i].ID, err)
		}
		st.Archives++
	}
	for e, err := range h.Query(ctx, Predicate{}) {
		if err != nil {
			zw.Close()
			return st, err
		}
		if err := enc.Encode(dumpRecord{Entry: &e}); err != nil {
			zw.Close()
			return st, fmt.Errorf("catalog: dump entry %s: %w", e.ID, err)
		}
		st.Entries++
	}

	if err := enc.Encode(dumpRecord{End: true, Archives: st.Archives, Entries: st.Entries}); err != nil {
		zw.Close()
		return st, fmt.Errorf("catalog: dump trailer: %w", err)
	}
	if err := zw.Close(); err != nil {
		return st, fmt.Errorf("catalog: dump flush: %w", err)
	}
	return st, nil
}

// Restore replays a Dump stream. Archives are replaced wholesale; entries go
// through Upsert, so a restored entry never overwrites a newer one. A stream
// that is not a dump, or ends before its trailer, returns ErrBadDump.
func (h *Handler) Restore(ctx context.Context, r io.Reader) (BackupStats, error) {
	var st BackupStats
	if err := h.check(); err != nil {
		return st, err
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return st, fmt.Errorf("%w: %w", ErrBadDump, err)
	}
	defer zr.Close()
	dec := codec.NewDecoder(zr)

	var hdr dumpHeader
	if err := dec.Decode(&hdr); err != nil {
		return st, fmt.Errorf("%w: header: %w", ErrBadDump, err)
	}
	if hdr.Magic != dumpMagic {
		return st, fmt.Errorf("%w: magic %q", ErrBadDump, hdr.Magic)
	}
	if hdr.Version != dumpVersion {
		return st, fmt.Errorf("%w: unsupported version %d", ErrBadDump, hdr.Version)
	}

	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		var rec dumpRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return st, fmt.Errorf("%w: truncated after %d archives, %d entries", ErrBadDump, st.Archives, st.Entries)
			}
			return st, fmt.Errorf("%w: %w", ErrBadDump, err)
		}
		switch {
		case rec.End:
			if rec.Archives != st.Archives || rec.Entries != st.Entries {
				return st, fmt.Errorf("%w: trailer counts %d/%d, read %d/%d",
					ErrBadDump, rec.Archives, rec.Entries, st.Archives, st.Entries)
			}
			return st, nil
		case rec.Archive != nil:
			if err := h.restoreArchive(ctx, *rec.Archive); err != nil {
				return st, err
			}
			st.Archives++
		case rec.Entry != nil:
			if _, err := h.Upsert(ctx, *rec.Entry); err != nil {
				return st, err
			}
			st.Entries++
		}
	}
}

// restoreArchive writes every column of a.
func (h *Handler) restoreArchive(ctx context.Context, a Archive) error {
	if _, err := ParseStatus(string(a.Status)); err != nil {
		return fmt.Errorf("%w: archive %s: %w", ErrBadDump, a.ID, err)
	}
	manifest, err := encodeManifest(a.Manifest)
	if err != nil {
		return fmt.Errorf("catalog: restore archive %s: %w", a.ID, err)
	}
	const q = `
		INSERT INTO archives (id, path, format, size, files, mod_time, signature, indexed_signature,
			status, prior_status, last_error, attempts, generation, doc_count, manifest,
			discovered_at, indexed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path, format = excluded.format, size = excluded.size,
			files = excluded.files, mod_time = excluded.mod_time, signature = excluded.signature,
			indexed_signature = excluded.indexed_signature, status = excluded.status,
			prior_status = excluded.prior_status, last_error = excluded.last_error,
			attempts = excluded.attempts, generation = excluded.generation,
			doc_count = excluded.doc_count, manifest = excluded.manifest,
			discovered_at = excluded.discovered_at, indexed_at = excluded.indexed_at,
			updated_at = excluded.updated_at`
	if _, err := h.db.ExecContext(ctx, q,
		a.ID, a.Path, string(a.Format), a.Size, a.Files, toNanos(a.ModTime), string(a.Signature),
		string(a.IndexedSignature), string(a.Status), string(a.PriorStatus), a.LastError,
		a.Attempts, a.Generation, a.DocCount, manifest,
		toNanos(a.DiscoveredAt), toNanos(a.IndexedAt), toNanos(a.UpdatedAt),
	); err != nil {
		return h.fail(fmt.Errorf("catalog: restore archive %s: %w", a.ID, err))
	}
	return nil
}

// Purge removes every archive and document.
func (h *Handler) Purge(ctx context.Context) error {
	if err := h.check(); err != nil {
		return err
	}
	return h.fail(h.inTx(ctx, "purge", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM archives")
		return err
	}))
}

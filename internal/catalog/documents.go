package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/papapumpkin/assasdb/internal/codec"
	"github.com/papapumpkin/assasdb/internal/document"
)

// entryColumns is the column list matching scanEntry.
const entryColumns = `d.id, d.archive_id, d.path, d.category, d.name, d.ext, d.dir, d.depth,
	d.size, d.size_human, d.mod_time, d.fields, d.fingerprint, d.generation,
	d.first_seen, d.last_verified, d.updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Upsert writes e atomically. A write older than the stored one (by
// UpdatedAt) is ignored. An unchanged fingerprint refreshes only the
// bookkeeping columns. FirstSeen of an existing document is preserved. The
// owning archive must exist; an ID already used by a different archive or
// path returns document.ErrDuplicateIdentifier.
func (h *Handler) Upsert(ctx context.Context, e Entry) (Change, error) {
	if err := h.check(); err != nil {
		return 0, err
	}
	if e.ID == "" || e.ArchiveID == "" || e.Path == "" {
		return 0, fmt.Errorf("catalog: upsert: %w: missing id, archive or path", document.ErrInvalidRecord)
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = h.now().UTC()
	}
	change, err := h.upsert(ctx, e)
	return change, h.fail(err)
}

func (h *Handler) upsert(ctx context.Context, e Entry) (Change, error) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("catalog: begin tx for upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM archives WHERE id = ?", e.ArchiveID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("catalog: upsert %s: archive %q: %w", e.ID, e.ArchiveID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("catalog: upsert %s: lookup archive: %w", e.ID, err)
	}

	var (
		curArchive, curPath, curFingerprint string
		curUpdated                          int64
	)
	err = tx.QueryRowContext(ctx,
		"SELECT archive_id, path, fingerprint, updated_at FROM documents WHERE id = ?", e.ID,
	).Scan(&curArchive, &curPath, &curFingerprint, &curUpdated)

	var change Change
	switch {
	case errors.Is(err, sql.ErrNoRows):
		change = ChangeInserted
	case err != nil:
		return 0, fmt.Errorf("catalog: upsert %s: lookup: %w", e.ID, err)
	case curArchive != e.ArchiveID || curPath != e.Path:
		return 0, &document.DuplicateError{
			ID:        e.ID,
			ArchiveID: e.ArchiveID,
			Path:      e.Path,
			First:     curArchive + ":" + curPath,
			Second:    e.ArchiveID + ":" + e.Path,
		}
	case toNanos(e.UpdatedAt) < curUpdated:
		return ChangeIgnored, nil
	case curFingerprint == e.Fingerprint:
		change = ChangeUnchanged
	default:
		change = ChangeUpdated
	}

	if change == ChangeUnchanged {
		const q = `UPDATE documents SET generation = ?, last_verified = ?, updated_at = ? WHERE id = ?`
		if _, err := tx.ExecContext(ctx, q, e.Generation, toNanos(e.UpdatedAt), toNanos(e.UpdatedAt), e.ID); err != nil {
			return 0, fmt.Errorf("catalog: refresh %s: %w", e.ID, err)
		}
	} else {
		var fields []byte
		if len(e.Fields) > 0 {
			fields, err = codec.Marshal(e.Fields)
			if err != nil {
				return 0, fmt.Errorf("catalog: encode fields of %s: %w", e.ID, err)
			}
		}
		firstSeen := e.FirstSeen
		if firstSeen.IsZero() {
			firstSeen = e.UpdatedAt
		}
		lastVerified := e.LastVerified
		if lastVerified.IsZero() {
			lastVerified = e.UpdatedAt
		}
		const q = `
			INSERT INTO documents (id, archive_id, path, category, name, ext, dir, depth,
				size, size_human, mod_time, fields, fingerprint, generation,
				first_seen, last_verified, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				category      = excluded.category,
				name          = excluded.name,
				ext           = excluded.ext,
				dir           = excluded.dir,
				depth         = excluded.depth,
				size          = excluded.size,
				size_human    = excluded.size_human,
				mod_time      = excluded.mod_time,
				fields        = excluded.fields,
				fingerprint   = excluded.fingerprint,
				generation    = excluded.generation,
				last_verified = excluded.last_verified,
				updated_at    = excluded.updated_at`
		if _, err := tx.ExecContext(ctx, q,
			e.ID, e.ArchiveID, e.Path, string(e.Category), e.Name, e.Ext, e.Dir, e.Depth,
			e.Size, e.SizeHuman, toNanos(e.ModTime), fields, e.Fingerprint, e.Generation,
			toNanos(firstSeen), toNanos(lastVerified), toNanos(e.UpdatedAt),
		); err != nil {
			return 0, fmt.Errorf("catalog: upsert %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("catalog: commit upsert %s: %w", e.ID, err)
	}
	return change, nil
}

// Get returns the entry with the given ID, or ErrNotFound.
func (h *Handler) Get(ctx context.Context, id string) (Entry, error) {
	if err := h.check(); err != nil {
		return Entry{}, err
	}
	row := h.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM documents d WHERE d.id = ?", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("catalog: get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Entry{}, h.fail(fmt.Errorf("catalog: get %s: %w", id, err))
	}
	return e, nil
}

// Delete removes the entry with the given ID, or returns ErrNotFound.
func (h *Handler) Delete(ctx context.Context, id string) error {
	if err := h.check(); err != nil {
		return err
	}
	res, err := h.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return h.fail(fmt.Errorf("catalog: delete %s: %w", id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: delete %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("catalog: delete %s: %w", id, ErrNotFound)
	}
	return nil
}

// scanEntry decodes one documents row. Undecodable values are reported as
// ErrStorageCorruption.
func scanEntry(row rowScanner) (Entry, error) {
	var (
		e                                       Entry
		category                                string
		fields                                  []byte
		modTime, firstSeen, verified, updatedAt int64
	)
	if err := row.Scan(
		&e.ID, &e.ArchiveID, &e.Path, &category, &e.Name, &e.Ext, &e.Dir, &e.Depth,
		&e.Size, &e.SizeHuman, &modTime, &fields, &e.Fingerprint, &e.Generation,
		&firstSeen, &verified, &updatedAt,
	); err != nil {
		return Entry{}, err
	}

	cat, err := document.ParseCategory(category)
	if err != nil || string(cat) != category {
		return Entry{}, corrupt("document %s: category %q", e.ID, category)
	}
	e.Category = cat
	if len(fields) > 0 {
		if err := codec.Unmarshal(fields, &e.Fields); err != nil {
			return Entry{}, corrupt("document %s: fields: %v", e.ID, err)
		}
	}
	e.ModTime = fromNanos(modTime)
	e.FirstSeen = fromNanos(firstSeen)
	e.LastVerified = fromNanos(verified)
	e.UpdatedAt = fromNanos(updatedAt)
	return e, nil
}

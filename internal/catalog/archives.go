package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/papapumpkin/assasdb/internal/archive"
	"github.com/papapumpkin/assasdb/internal/codec"
)

// archiveColumns is the column list matching scanArchive.
const archiveColumns = `id, path, format, size, files, mod_time, signature, indexed_signature,
	status, prior_status, last_error, attempts, generation, doc_count, manifest,
	discovered_at, indexed_at, updated_at`

// PutArchive records an observation of an archive on disk. A new archive is
// inserted with a.Status (StatusUnindexed when empty). For an existing archive
// only the observed columns (path, format, size, files, mtime, signature,
// manifest) change; status and indexing bookkeeping are left alone.
func (h *Handler) PutArchive(ctx context.Context, a Archive) error {
	if err := h.check(); err != nil {
		return err
	}
	if a.ID == "" {
		return fmt.Errorf("catalog: put archive: empty id")
	}
	status := a.Status
	if status == "" {
		status = StatusUnindexed
	}
	manifest, err := encodeManifest(a.Manifest)
	if err != nil {
		return fmt.Errorf("catalog: put archive %s: %w", a.ID, err)
	}
	now := h.now().UTC()
	discovered := a.DiscoveredAt
	if discovered.IsZero() {
		discovered = now
	}

	const q = `
		INSERT INTO archives (id, path, format, size, files, mod_time, signature, status,
			manifest, discovered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path       = excluded.path,
			format     = excluded.format,
			size       = excluded.size,
			files      = excluded.files,
			mod_time   = excluded.mod_time,
			signature  = excluded.signature,
			manifest   = excluded.manifest,
			updated_at = excluded.updated_at`
	if _, err := h.db.ExecContext(ctx, q,
		a.ID, a.Path, string(a.Format), a.Size, a.Files, toNanos(a.ModTime), string(a.Signature),
		string(status), manifest, toNanos(discovered), toNanos(now),
	); err != nil {
		return h.fail(fmt.Errorf("catalog: put archive %s: %w", a.ID, err))
	}
	return nil
}

// GetArchive returns the archive with the given ID, or ErrNotFound.
func (h *Handler) GetArchive(ctx context.Context, id string) (Archive, error) {
	if err := h.check(); err != nil {
		return Archive{}, err
	}
	a, err := getArchive(ctx, h.db, id)
	if err != nil {
		return Archive{}, h.fail(err)
	}
	return a, nil
}

// ListArchives returns every archive ordered by ID.
func (h *Handler) ListArchives(ctx context.Context) ([]Archive, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	rows, err := h.db.QueryContext(ctx, "SELECT "+archiveColumns+" FROM archives ORDER BY id")
	if err != nil {
		return nil, h.fail(fmt.Errorf("catalog: list archives: %w", err))
	}
	defer rows.Close()

	var out []Archive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, h.fail(fmt.Errorf("catalog: scan archive: %w", err))
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, h.fail(fmt.Errorf("catalog: iterate archives: %w", err))
	}
	return out, nil
}

// SetArchiveStatus moves an archive to status to. Moving to StatusFailed
// records reason and the status being left, so a retry can restore it.
// Leaving StatusFailed is only allowed towards that recorded prior status;
// use RetryArchive for that.
func (h *Handler) SetArchiveStatus(ctx context.Context, id string, to Status, reason string) error {
	if err := h.check(); err != nil {
		return err
	}
	return h.fail(h.inTx(ctx, "set status of "+id, func(tx *sql.Tx) error {
		cur, err := getArchive(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.Status == to && to != StatusFailed {
			return nil
		}
		prior := cur.PriorStatus
		if prior == "" {
			prior = StatusUnindexed
		}
		leavingFailed := cur.Status == StatusFailed && to != StatusFailed
		if !CanTransition(cur.Status, to) || (leavingFailed && to != prior) {
			return &TransitionError{ArchiveID: id, From: cur.Status, To: to}
		}

		now := toNanos(h.now().UTC())
		if to == StatusFailed {
			if cur.Status != StatusFailed {
				prior = cur.Status
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE archives SET status = ?, prior_status = ?, last_error = ?,
					attempts = attempts + 1, updated_at = ?
				WHERE id = ?`, string(to), string(prior), reason, now, id)
		} else {
			_, err = tx.ExecContext(ctx,
				"UPDATE archives SET status = ?, prior_status = '', updated_at = ? WHERE id = ?",
				string(to), now, id)
		}
		return err
	}))
}

// RetryArchive moves a failed archive back to the status it had before it
// failed and returns that status.
func (h *Handler) RetryArchive(ctx context.Context, id string) (Status, error) {
	a, err := h.GetArchive(ctx, id)
	if err != nil {
		return "", err
	}
	if a.Status != StatusFailed {
		return "", &TransitionError{ArchiveID: id, From: a.Status, To: a.Status}
	}
	prior := a.PriorStatus
	if prior == "" {
		prior = StatusUnindexed
	}
	if err := h.SetArchiveStatus(ctx, id, prior, ""); err != nil {
		return "", err
	}
	return prior, nil
}

// RecordArchiveError notes a retryable failure without changing the status.
func (h *Handler) RecordArchiveError(ctx context.Context, id, reason string) error {
	if err := h.check(); err != nil {
		return err
	}
	res, err := h.db.ExecContext(ctx,
		"UPDATE archives SET last_error = ?, attempts = attempts + 1, updated_at = ? WHERE id = ?",
		reason, toNanos(h.now().UTC()), id)
	if err != nil {
		return h.fail(fmt.Errorf("catalog: record error for %s: %w", id, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("catalog: record error for %s: %w", id, ErrNotFound)
	}
	return nil
}

// BeginGeneration reserves the document generation for a new reindex run of
// archive id. Every call returns a number above any generation already used
// by the archive or its documents, whether or not earlier runs completed.
func (h *Handler) BeginGeneration(ctx context.Context, id string) (int64, error) {
	if err := h.check(); err != nil {
		return 0, err
	}
	var gen int64
	err := h.inTx(ctx, "begin generation for "+id, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT MAX(a.generation, a.run_generation,
				COALESCE((SELECT MAX(d.generation) FROM documents d WHERE d.archive_id = a.id), 0)) + 1
			FROM archives a WHERE a.id = ?`, id).Scan(&gen)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("archive %q: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE archives SET run_generation = ?, updated_at = ? WHERE id = ?",
			gen, toNanos(h.now().UTC()), id)
		return err
	})
	if err != nil {
		return 0, h.fail(err)
	}
	return gen, nil
}

// CompleteArchive finishes a successful reindex in one transaction: entries
// of the archive older than generation gen are pruned and the archive becomes
// indexed at signature sig. It returns the number of remaining documents.
func (h *Handler) CompleteArchive(ctx context.Context, id string, gen int64, sig archive.Signature) (int, error) {
	if err := h.check(); err != nil {
		return 0, err
	}
	var count int
	err := h.inTx(ctx, "complete "+id, func(tx *sql.Tx) error {
		cur, err := getArchive(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.Status == StatusFailed || !CanTransition(cur.Status, StatusIndexed) {
			return &TransitionError{ArchiveID: id, From: cur.Status, To: StatusIndexed}
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM documents WHERE archive_id = ? AND generation < ?", id, gen); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM documents WHERE archive_id = ?", id).Scan(&count); err != nil {
			return err
		}
		now := toNanos(h.now().UTC())
		_, err = tx.ExecContext(ctx, `
			UPDATE archives SET status = ?, prior_status = '', last_error = '', attempts = 0,
				generation = ?, signature = ?, indexed_signature = ?, doc_count = ?,
				indexed_at = ?, updated_at = ?
			WHERE id = ?`,
			string(StatusIndexed), gen, string(sig), string(sig), count, now, now, id)
		return err
	})
	if err != nil {
		return 0, h.fail(err)
	}
	return count, nil
}

// DeleteArchive removes an archive and, in the same transaction, every one
// of its documents. It returns how many documents were removed.
func (h *Handler) DeleteArchive(ctx context.Context, id string) (int, error) {
	if err := h.check(); err != nil {
		return 0, err
	}
	var removed int64
	err := h.inTx(ctx, "delete archive "+id, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE archive_id = ?", id)
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		res, err = tx.ExecContext(ctx, "DELETE FROM archives WHERE id = ?", id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("archive %q: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return 0, h.fail(err)
	}
	return int(removed), nil
}

// inTx runs fn in a transaction, committing when it returns nil.
func (h *Handler) inTx(ctx context.Context, what string, fn func(*sql.Tx) error) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin tx to %s: %w", what, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		var te *TransitionError
		if errors.As(err, &te) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorageCorruption) {
			return err
		}
		return fmt.Errorf("catalog: %s: %w", what, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: commit %s: %w", what, err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getArchive(ctx context.Context, q querier, id string) (Archive, error) {
	row := q.QueryRowContext(ctx, "SELECT "+archiveColumns+" FROM archives WHERE id = ?", id)
	a, err := scanArchive(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Archive{}, fmt.Errorf("catalog: archive %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Archive{}, fmt.Errorf("catalog: get archive %q: %w", id, err)
	}
	return a, nil
}

// scanArchive decodes one archives row. Undecodable values are reported as
// ErrStorageCorruption.
func scanArchive(row rowScanner) (Archive, error) {
	var (
		a                                       Archive
		format, sig, indexedSig, status, prior  string
		manifest                                []byte
		modTime, discovered, indexedAt, updated int64
	)
	if err := row.Scan(
		&a.ID, &a.Path, &format, &a.Size, &a.Files, &modTime, &sig, &indexedSig,
		&status, &prior, &a.LastError, &a.Attempts, &a.Generation, &a.DocCount, &manifest,
		&discovered, &indexedAt, &updated,
	); err != nil {
		return Archive{}, err
	}

	st, err := ParseStatus(status)
	if err != nil {
		return Archive{}, corrupt("archive %s: status %q", a.ID, status)
	}
	a.Status = st
	if prior != "" {
		if a.PriorStatus, err = ParseStatus(prior); err != nil {
			return Archive{}, corrupt("archive %s: prior status %q", a.ID, prior)
		}
	}
	if len(manifest) > 0 {
		if err := codec.Unmarshal(manifest, &a.Manifest); err != nil {
			return Archive{}, corrupt("archive %s: manifest: %v", a.ID, err)
		}
	}
	a.Format = archive.Format(format)
	a.Signature = archive.Signature(sig)
	a.IndexedSignature = archive.Signature(indexedSig)
	a.ModTime = fromNanos(modTime)
	a.DiscoveredAt = fromNanos(discovered)
	a.IndexedAt = fromNanos(indexedAt)
	a.UpdatedAt = fromNanos(updated)
	return a, nil
}

func encodeManifest(m archive.Manifest) ([]byte, error) {
	if m.IsZero() {
		return nil, nil
	}
	return codec.Marshal(m)
}

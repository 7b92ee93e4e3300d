package manager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"github.com/papapumpkin/assasdb/internal/archive"
	"github.com/papapumpkin/assasdb/internal/catalog"
	"github.com/papapumpkin/assasdb/internal/document"
	"github.com/papapumpkin/assasdb/internal/telemetry"
)

// Outcome summarizes how a reindex run ended.
type Outcome string

// Reindex outcomes.
const (
	OutcomeIndexed     Outcome = "indexed"     // all records indexed; archive is indexed
	OutcomeSkipped     Outcome = "skipped"     // signature unchanged; nothing read
	OutcomeUnavailable Outcome = "unavailable" // source unreadable; status unchanged
	OutcomeFailed      Outcome = "failed"      // bad or duplicate records; archive is failed
	OutcomeCancelled   Outcome = "cancelled"   // context ended; status unchanged
	OutcomeError       Outcome = "error"       // catalog error
)

// ReindexResult reports one reindex run.
type ReindexResult struct {
	ArchiveID string
	Outcome   Outcome
	Status    catalog.Status // archive status after the run
	Inserted  int
	Updated   int
	Unchanged int
	Ignored   int
	Skipped   int // records rejected as invalid or duplicate
	Documents int // documents held by the archive after a completed run
	Seconds   float64
	Err       error
}

// Upserted is the number of records written this run.
func (r ReindexResult) Upserted() int {
	return r.Inserted + r.Updated + r.Unchanged + r.Ignored
}

// Reindex reads every record of the archive and upserts it into the catalog.
// Unless force is set an indexed archive whose signature still matches is
// skipped. A run that ends early because the source became unavailable or
// the context ended keeps the archive's status and leaves the documents it
// already wrote in place. Invalid or duplicate records are skipped, the rest
// are indexed, and the archive ends failed.
func (m *Manager) Reindex(ctx context.Context, id string, force bool) (ReindexResult, error) {
	if _, busy := m.inflight.LoadOrStore(id, struct{}{}); busy {
		return ReindexResult{ArchiveID: id, Outcome: OutcomeError, Err: ErrReindexInProgress}, ErrReindexInProgress
	}
	defer m.inflight.Delete(id)

	res := m.reindex(ctx, newRunID(), id, force)
	m.metrics.reindexes.WithLabelValues(string(res.Outcome)).Inc()
	if res.Outcome != OutcomeSkipped {
		m.metrics.reindexTime.Observe(res.Seconds)
	}
	return res, res.Err
}

func (m *Manager) reindex(ctx context.Context, runID, id string, force bool) ReindexResult {
	start := m.now()
	res := ReindexResult{ArchiveID: id}
	finish := func(o Outcome, status catalog.Status, err error) ReindexResult {
		res.Outcome, res.Status, res.Err = o, status, err
		res.Seconds = m.elapsedSince(start)
		fields := []zap.Field{
			zap.String("archive", id),
			zap.String("outcome", string(o)),
			zap.Int("upserted", res.Upserted()),
			zap.Int("skipped", res.Skipped),
			zap.Float64("seconds", res.Seconds),
		}
		if err != nil {
			m.logger.Warn("reindex ended", append(fields, zap.Error(err))...)
		} else {
			m.logger.Info("reindex ended", fields...)
		}
		if o != OutcomeSkipped {
			m.record(telemetry.KindReindexDone, runID, id, map[string]any{
				"outcome":  o,
				"status":   status,
				"upserted": res.Upserted(),
				"skipped":  res.Skipped,
			})
		}
		return res
	}

	a, err := m.catalog.GetArchive(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		a, err = m.register(ctx, runID, id, err)
	}
	if err != nil {
		return finish(OutcomeError, "", err)
	}
	if a.Status == catalog.StatusFailed {
		return finish(OutcomeError, a.Status, fmt.Errorf("%w: %s", ErrArchiveFailed, id))
	}
	loc := archive.Locator{ID: a.ID, Path: a.Path, Format: a.Format}

	before, err := archive.Inspect(ctx, loc, m.mode)
	if err != nil {
		return m.interrupted(ctx, finish, a, err)
	}
	if !force && a.Status == catalog.StatusIndexed && before.Signature == a.IndexedSignature {
		res.Documents = a.DocCount
		return finish(OutcomeSkipped, a.Status, nil)
	}

	gen, err := m.catalog.BeginGeneration(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return m.interrupted(ctx, finish, a, ctx.Err())
		}
		return finish(OutcomeError, a.Status, err)
	}
	m.record(telemetry.KindReindexStart, runID, id, map[string]any{"generation": gen, "force": force})
	ids := document.NewIDSet()
	var problems []error
	var readErr error
	for raw, err := range m.source.Records(ctx, loc) {
		if err != nil {
			readErr = err
			break
		}
		doc, err := document.New(id, raw)
		if err != nil {
			res.Skipped++
			problems = append(problems, err)
			m.logger.Warn("skipping invalid record", zap.String("archive", id), zap.String("path", raw.Path), zap.Error(err))
			continue
		}
		if err := ids.Add(doc, raw.Path); err != nil {
			res.Skipped++
			problems = append(problems, err)
			m.metrics.duplicates.Inc()
			m.logger.Warn("skipping duplicate record", zap.String("archive", id), zap.String("path", raw.Path), zap.Error(err))
			m.record(telemetry.KindDuplicateSkipped, runID, id, map[string]string{"id": doc.ID, "path": raw.Path})
			continue
		}
		entry, err := catalog.NewEntry(doc, gen, m.now())
		if err != nil {
			res.Skipped++
			problems = append(problems, err)
			continue
		}
		change, err := m.catalog.Upsert(ctx, entry)
		if err != nil {
			if errors.Is(err, document.ErrDuplicateIdentifier) {
				res.Skipped++
				problems = append(problems, err)
				continue
			}
			readErr = err
			break
		}
		m.count(&res, change)
	}

	if readErr != nil {
		if isFatal(readErr) {
			return finish(OutcomeError, a.Status, readErr)
		}
		return m.interrupted(ctx, finish, a, readErr)
	}

	after, err := archive.Inspect(ctx, loc, m.mode)
	if err != nil {
		return m.interrupted(ctx, finish, a, err)
	}
	if after.Signature != before.Signature {
		return m.interrupted(ctx, finish, a, fmt.Errorf("%w: %s", ErrArchiveChanged, id))
	}

	if len(problems) > 0 {
		cause := errors.Join(problems...)
		if err := m.catalog.SetArchiveStatus(ctx, id, catalog.StatusFailed, cause.Error()); err != nil {
			return finish(OutcomeError, a.Status, err)
		}
		m.record(telemetry.KindArchiveStatus, runID, id, map[string]string{"from": string(a.Status), "to": string(catalog.StatusFailed)})
		return finish(OutcomeFailed, catalog.StatusFailed, fmt.Errorf("manager: reindex %s: %w", id, cause))
	}

	n, err := m.catalog.CompleteArchive(ctx, id, gen, before.Signature)
	if err != nil {
		if ctx.Err() != nil {
			return m.interrupted(ctx, finish, a, ctx.Err())
		}
		return finish(OutcomeError, a.Status, err)
	}
	res.Documents = n
	if a.Status != catalog.StatusIndexed {
		m.record(telemetry.KindArchiveStatus, runID, id, map[string]string{"from": string(a.Status), "to": string(catalog.StatusIndexed)})
	}
	return finish(OutcomeIndexed, catalog.StatusIndexed, nil)
}

// register adds an archive that exists below the root but has not been
// scanned yet. When there is no archive at id either, notFound is returned.
func (m *Manager) register(ctx context.Context, runID, id string, notFound error) (catalog.Archive, error) {
	loc, err := archive.Locate(m.root, id)
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrInvalid), errors.Is(err, archive.ErrUnknownFormat):
		return catalog.Archive{}, notFound
	case err != nil:
		return catalog.Archive{}, err
	}
	if err := m.catalog.PutArchive(ctx, catalog.Archive{ID: loc.ID, Path: loc.Path, Format: loc.Format}); err != nil {
		return catalog.Archive{}, err
	}
	m.logger.Info("archive registered", zap.String("archive", id), zap.String("format", string(loc.Format)))
	m.record(telemetry.KindArchiveDiscovered, runID, id, map[string]any{"format": loc.Format})
	return m.catalog.GetArchive(ctx, id)
}

// interrupted handles a run that stopped before completion. The archive
// keeps its status; the cause is recorded as its last error.
func (m *Manager) interrupted(ctx context.Context, finish func(Outcome, catalog.Status, error) ReindexResult, a catalog.Archive, cause error) ReindexResult {
	outcome := OutcomeUnavailable
	if ctx.Err() != nil || errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		outcome = OutcomeCancelled
	} else if !errors.Is(cause, archive.ErrSourceUnavailable) {
		outcome = OutcomeError
	}
	if err := m.catalog.RecordArchiveError(context.WithoutCancel(ctx), a.ID, cause.Error()); err != nil {
		m.logger.Error("recording archive error failed", zap.String("archive", a.ID), zap.Error(err))
	}
	return finish(outcome, a.Status, cause)
}

func (m *Manager) count(res *ReindexResult, c catalog.Change) {
	switch c {
	case catalog.ChangeInserted:
		res.Inserted++
	case catalog.ChangeUpdated:
		res.Updated++
	case catalog.ChangeUnchanged:
		res.Unchanged++
	case catalog.ChangeIgnored:
		res.Ignored++
	}
	m.metrics.documents.WithLabelValues(c.String()).Inc()
}

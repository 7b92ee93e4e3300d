package manager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/papapumpkin/assasdb/internal/archive"
	"github.com/papapumpkin/assasdb/internal/catalog"
	"github.com/papapumpkin/assasdb/internal/telemetry"
)

// Class describes what a scan observed for one archive.
type Class string

// Scan classifications.
const (
	ClassNew         Class = "new"         // first seen; now unindexed
	ClassChanged     Class = "changed"     // signature moved since the last reindex; now stale
	ClassPending     Class = "pending"     // unindexed or stale from an earlier scan
	ClassUnchanged   Class = "unchanged"   // indexed and signature matches
	ClassFailed      Class = "failed"      // failed; waits for an explicit retry
	ClassUnavailable Class = "unavailable" // locked or unreadable right now
	ClassRemoved     Class = "removed"     // gone from disk; dropped from the catalog
	ClassError       Class = "error"       // catalog write failed for this archive
)

// ScanEntry is the scan outcome for one archive.
type ScanEntry struct {
	ArchiveID  string
	Class      Class
	Status     catalog.Status // after the scan; empty when removed
	NeedsIndex bool
	Removed    int // documents dropped with a removed archive
	Err        error
}

// ScanReport maps archive IDs to their scan outcome.
type ScanReport map[string]ScanEntry

// Pending returns the sorted IDs of archives that need reindexing.
func (r ScanReport) Pending() []string {
	var ids []string
	for id, e := range r {
		if e.NeedsIndex {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Count returns how many entries have class c.
func (r ScanReport) Count(c Class) int {
	n := 0
	for _, e := range r {
		if e.Class == c {
			n++
		}
	}
	return n
}

// Scan walks the archive root, records every archive it finds, marks changed
// archives stale and drops archives that disappeared. Known archives below a
// directory that could not be listed are reported unavailable, not removed.
// It reads no records.
// The scan fails as a whole only when the root cannot be listed, the context
// ends, or the catalog is unusable.
func (m *Manager) Scan(ctx context.Context) (ScanReport, error) {
	return m.scan(ctx, newRunID())
}

func (m *Manager) scan(ctx context.Context, runID string) (ScanReport, error) {
	start := m.now()
	m.record(telemetry.KindScanStart, runID, "", map[string]string{"root": m.root})

	found, err := m.discover(ctx, m.root)
	if err != nil {
		return nil, err
	}
	locs := found.Archives
	for _, dir := range found.Unreadable {
		m.logger.Warn("directory unreadable; archives below it are kept", zap.String("dir", dir))
	}
	known, err := m.catalog.ListArchives(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]catalog.Archive, len(known))
	for _, a := range known {
		byID[a.ID] = a
	}

	report := make(ScanReport, len(locs)+len(known))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for _, loc := range locs {
		prev, seen := byID[loc.ID]
		g.Go(func() error {
			entry, err := m.observe(gctx, runID, loc, prev, seen)
			if err != nil {
				return err
			}
			mu.Lock()
			report[loc.ID] = entry
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, a := range known {
		if _, ok := report[a.ID]; ok {
			continue
		}
		if found.Covers(a.ID) {
			loc := archive.Locator{ID: a.ID, Path: a.Path, Format: a.Format}
			cause := fmt.Errorf("%w: a parent directory of %s could not be listed", archive.ErrSourceUnavailable, a.ID)
			entry, err := m.unavailable(ctx, loc, a, true, cause)
			if err != nil {
				return nil, err
			}
			report[a.ID] = entry
			continue
		}
		n, err := m.catalog.DeleteArchive(ctx, a.ID)
		if err != nil {
			if isFatal(err) || ctx.Err() != nil {
				return nil, err
			}
			report[a.ID] = ScanEntry{ArchiveID: a.ID, Class: ClassError, Status: a.Status, Err: err}
			continue
		}
		m.metrics.removed.Inc()
		m.logger.Info("archive removed", zap.String("archive", a.ID), zap.Int("documents", n))
		m.record(telemetry.KindArchiveRemoved, runID, a.ID, map[string]int{"documents": n})
		report[a.ID] = ScanEntry{ArchiveID: a.ID, Class: ClassRemoved, Removed: n}
	}

	m.metrics.scans.Inc()
	m.observeStatuses(report)
	m.logger.Info("scan complete",
		zap.String("root", m.root),
		zap.Int("archives", len(locs)),
		zap.Int("pending", len(report.Pending())),
		zap.Int("removed", report.Count(ClassRemoved)),
		zap.Duration("elapsed", m.now().Sub(start)),
	)
	m.record(telemetry.KindScanDone, runID, "", map[string]int{
		"archives": len(locs),
		"pending":  len(report.Pending()),
		"removed":  report.Count(ClassRemoved),
	})
	return report, nil
}

// observe inspects one discovered archive and reconciles its catalog record.
// Only fatal errors are returned; everything else lands in the entry.
func (m *Manager) observe(ctx context.Context, runID string, loc archive.Locator, prev catalog.Archive, seen bool) (ScanEntry, error) {
	entry := ScanEntry{ArchiveID: loc.ID, Status: prev.Status}

	snap, err := archive.Inspect(ctx, loc, m.mode)
	if err != nil {
		if ctx.Err() != nil {
			return entry, ctx.Err()
		}
		return m.unavailable(ctx, loc, prev, seen, err)
	}

	manifest, err := archive.ReadManifest(loc)
	if err != nil {
		m.logger.Warn("ignoring unreadable manifest", zap.String("archive", loc.ID), zap.Error(err))
	}

	obs := catalog.Archive{
		ID:        loc.ID,
		Path:      loc.Path,
		Format:    loc.Format,
		Size:      snap.Size,
		Files:     snap.Files,
		ModTime:   snap.ModTime,
		Signature: snap.Signature,
		Manifest:  manifest,
	}
	if err := m.catalog.PutArchive(ctx, obs); err != nil {
		return m.scanError(entry, err)
	}

	if !seen {
		m.logger.Info("archive discovered", zap.String("archive", loc.ID), zap.String("format", string(loc.Format)))
		m.record(telemetry.KindArchiveDiscovered, runID, loc.ID, map[string]any{"format": loc.Format, "files": snap.Files})
		entry.Class, entry.Status, entry.NeedsIndex = ClassNew, catalog.StatusUnindexed, true
		return entry, nil
	}

	status := prev.Status
	if status == catalog.StatusFailed {
		if !m.retryFailed {
			entry.Class = ClassFailed
			return entry, nil
		}
		if status, err = m.catalog.RetryArchive(ctx, loc.ID); err != nil {
			return m.scanError(entry, err)
		}
		m.record(telemetry.KindArchiveStatus, runID, loc.ID, map[string]string{"from": string(catalog.StatusFailed), "to": string(status)})
		entry.Status = status
	}

	switch status {
	case catalog.StatusIndexed:
		if snap.Signature == prev.IndexedSignature {
			entry.Class = ClassUnchanged
			return entry, nil
		}
		if err := m.catalog.SetArchiveStatus(ctx, loc.ID, catalog.StatusStale, ""); err != nil {
			return m.scanError(entry, err)
		}
		m.logger.Info("archive changed", zap.String("archive", loc.ID))
		m.record(telemetry.KindArchiveStatus, runID, loc.ID, map[string]string{"from": string(catalog.StatusIndexed), "to": string(catalog.StatusStale)})
		entry.Class, entry.Status, entry.NeedsIndex = ClassChanged, catalog.StatusStale, true
	default:
		entry.Class, entry.NeedsIndex = ClassPending, true
	}
	return entry, nil
}

// unavailable records that an archive could not be inspected. Its status is
// left alone so it is picked up again by the next scan.
func (m *Manager) unavailable(ctx context.Context, loc archive.Locator, prev catalog.Archive, seen bool, cause error) (ScanEntry, error) {
	entry := ScanEntry{ArchiveID: loc.ID, Class: ClassUnavailable, Status: prev.Status, Err: cause}
	m.logger.Warn("archive unavailable", zap.String("archive", loc.ID), zap.Error(cause))
	if !seen {
		obs := catalog.Archive{ID: loc.ID, Path: loc.Path, Format: loc.Format}
		if err := m.catalog.PutArchive(ctx, obs); err != nil {
			return m.scanError(entry, err)
		}
		entry.Status = catalog.StatusUnindexed
	}
	if err := m.catalog.RecordArchiveError(ctx, loc.ID, cause.Error()); err != nil {
		return m.scanError(entry, err)
	}
	return entry, nil
}

func (m *Manager) scanError(entry ScanEntry, err error) (ScanEntry, error) {
	if isFatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return entry, err
	}
	m.logger.Error("scan: catalog update failed", zap.String("archive", entry.ArchiveID), zap.Error(err))
	entry.Class = ClassError
	entry.NeedsIndex = false
	entry.Err = fmt.Errorf("manager: scan %s: %w", entry.ArchiveID, err)
	return entry, nil
}

func (m *Manager) observeStatuses(r ScanReport) {
	counts := map[catalog.Status]int{
		catalog.StatusUnindexed: 0,
		catalog.StatusIndexed:   0,
		catalog.StatusStale:     0,
		catalog.StatusFailed:    0,
	}
	for _, e := range r {
		if e.Status != "" {
			counts[e.Status]++
		}
	}
	for s, n := range counts {
		m.metrics.archives.WithLabelValues(string(s)).Set(float64(n))
	}
}

// elapsedSince is the wall time since start in seconds.
func (m *Manager) elapsedSince(start time.Time) float64 {
	return m.now().Sub(start).Seconds()
}

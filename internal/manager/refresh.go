package manager

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/papapumpkin/assasdb/internal/telemetry"
)

// RefreshReport is the outcome of a scan followed by reindexing every
// pending archive.
type RefreshReport struct {
	Scan    ScanReport
	Reindex map[string]ReindexResult
}

// Failed returns how many reindex runs did not end indexed or skipped.
func (r RefreshReport) Failed() int {
	n := 0
	for _, res := range r.Reindex {
		if res.Outcome != OutcomeIndexed && res.Outcome != OutcomeSkipped {
			n++
		}
	}
	return n
}

// Refresh scans the archive root and reindexes every archive the scan marked
// as pending, up to the configured number at a time. A failure in one
// archive never stops the others; only catalog corruption or the end of ctx
// aborts the run.
func (m *Manager) Refresh(ctx context.Context) (RefreshReport, error) {
	runID := newRunID()
	m.record(telemetry.KindRefreshStart, runID, "", nil)

	scan, err := m.scan(ctx, runID)
	if err != nil {
		return RefreshReport{}, err
	}
	report := RefreshReport{Scan: scan, Reindex: make(map[string]ReindexResult)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for _, id := range scan.Pending() {
		g.Go(func() error {
			res, err := m.Reindex(gctx, id, false)
			mu.Lock()
			report.Reindex[id] = res
			mu.Unlock()
			if err != nil && isFatal(err) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	m.logger.Info("refresh complete",
		zap.Int("reindexed", len(report.Reindex)),
		zap.Int("failed", report.Failed()),
	)
	m.record(telemetry.KindRefreshDone, runID, "", map[string]int{
		"reindexed": len(report.Reindex),
		"failed":    report.Failed(),
	})
	return report, nil
}

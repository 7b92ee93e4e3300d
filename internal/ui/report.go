package ui

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/papapumpkin/assasdb/internal/catalog"
	"github.com/papapumpkin/assasdb/internal/manager"
)

// ScanReport prints the classification of every archive a scan touched,
// omitting unchanged archives unless verbose is set.
func (p *Printer) ScanReport(r manager.ScanReport, verbose bool) {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	t := p.table("ARCHIVE", "CLASS", "STATUS", "NOTE")
	rows := 0
	for _, id := range ids {
		e := r[id]
		if e.Class == manager.ClassUnchanged && !verbose {
			continue
		}
		note := ""
		switch {
		case e.Err != nil:
			note = e.Err.Error()
		case e.Class == manager.ClassRemoved:
			note = humanize.Comma(int64(e.Removed)) + " documents dropped"
		case e.NeedsIndex:
			note = "needs reindex"
		}
		t.Row(id, string(e.Class), p.status(e.Status), note)
		rows++
	}
	if rows > 0 {
		fmt.Fprintln(p.w, t.Render())
	}
	p.Info(fmt.Sprintf("%d archives: %d new, %d changed, %d pending, %d unavailable, %d removed, %d failed",
		len(r)-r.Count(manager.ClassRemoved),
		r.Count(manager.ClassNew), r.Count(manager.ClassChanged), r.Count(manager.ClassPending),
		r.Count(manager.ClassUnavailable), r.Count(manager.ClassRemoved), r.Count(manager.ClassFailed)))
}

// ReindexResult prints the outcome of one reindex run.
func (p *Printer) ReindexResult(res manager.ReindexResult) {
	summary := fmt.Sprintf("%s: %s (%d inserted, %d updated, %d unchanged, %d skipped) in %.2fs",
		res.ArchiveID, res.Outcome, res.Inserted, res.Updated, res.Unchanged, res.Skipped, res.Seconds)
	switch res.Outcome {
	case manager.OutcomeIndexed:
		p.Success(summary + ", " + humanize.Comma(int64(res.Documents)) + " documents")
	case manager.OutcomeSkipped:
		p.Info(res.ArchiveID + ": unchanged, skipped")
	case manager.OutcomeFailed, manager.OutcomeError:
		p.Error(summary)
		if res.Err != nil {
			p.Info("  " + res.Err.Error())
		}
	default:
		p.Warn(summary)
		if res.Err != nil {
			p.Info("  " + res.Err.Error())
		}
	}
}

// RefreshReport prints a scan report followed by every reindex outcome.
func (p *Printer) RefreshReport(r manager.RefreshReport, verbose bool) {
	if r.Scan != nil {
		p.ScanReport(r.Scan, verbose)
	}
	ids := make([]string, 0, len(r.Reindex))
	for id := range r.Reindex {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		p.ReindexResult(r.Reindex[id])
	}
	if failed := r.Failed(); failed > 0 {
		p.Warn(strconv.Itoa(failed) + " archive(s) did not finish indexing")
	}
}

// Backup prints the counts of a dump or restore.
func (p *Printer) Backup(verb string, s catalog.BackupStats) {
	p.Success(fmt.Sprintf("%s %s archives, %s documents", verb,
		humanize.Comma(int64(s.Archives)), humanize.Comma(int64(s.Entries))))
}

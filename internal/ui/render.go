package ui

import (
	"fmt"
	"iter"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/papapumpkin/assasdb/internal/catalog"
	"github.com/papapumpkin/assasdb/internal/document"
)

const timeLayout = "2006-01-02 15:04:05"

// status renders an archive status with its icon and color.
func (p *Printer) status(s catalog.Status) string {
	switch s {
	case catalog.StatusIndexed:
		return p.st.success.Render(iconDone + " " + string(s))
	case catalog.StatusStale:
		return p.st.warn.Render(iconStale + " " + string(s))
	case catalog.StatusFailed:
		return p.st.danger.Render(iconFailed + " " + string(s))
	case "":
		return p.st.muted.Render(iconRemoved)
	default:
		return p.st.muted.Render(iconWaiting + " " + string(s))
	}
}

func (p *Printer) table(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(p.st.muted).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.st.header
			}
			return p.st.cell
		})
}

// Archives prints one row per archive.
func (p *Printer) Archives(archives []catalog.Archive) {
	if len(archives) == 0 {
		p.Info("no archives in catalog")
		return
	}
	t := p.table("ARCHIVE", "FORMAT", "STATUS", "DOCS", "SIZE", "INDEXED")
	for _, a := range archives {
		t.Row(a.ID, string(a.Format), p.status(a.Status), humanize.Comma(int64(a.DocCount)),
			humanize.IBytes(uint64(max(a.Size, 0))), formatTime(a.IndexedAt))
	}
	fmt.Fprintln(p.w, t.Render())
}

// Archive prints the full record of one archive.
func (p *Printer) Archive(a catalog.Archive) {
	fmt.Fprintln(p.w, p.st.heading.Render(a.ID))
	p.field("path", a.Path)
	p.field("format", a.Format)
	p.field("status", p.status(a.Status))
	if a.Status == catalog.StatusFailed {
		p.field("prior", a.PriorStatus)
	}
	p.field("documents", humanize.Comma(int64(a.DocCount)))
	p.field("files", humanize.Comma(int64(a.Files)))
	p.field("size", humanize.IBytes(uint64(max(a.Size, 0))))
	p.field("modified", formatTime(a.ModTime))
	p.field("indexed", formatTime(a.IndexedAt))
	p.field("generation", a.Generation)
	if a.LastError != "" {
		p.field("last error", p.st.danger.Render(a.LastError))
		p.field("attempts", a.Attempts)
	}
	if m := a.Manifest; !m.IsZero() {
		p.field("name", m.Name)
		p.field("group", m.Group)
		p.field("date", m.Date)
		if len(m.Variables) > 0 {
			p.field("variables", fmt.Sprintf("%v", m.Variables))
		}
	}
}

// Entry prints one catalog entry.
func (p *Printer) Entry(e catalog.Entry) {
	fmt.Fprintln(p.w, p.st.heading.Render(e.ArchiveID+":"+e.Path))
	p.field("id", e.ID)
	p.field("category", e.Category)
	p.field("size", e.SizeHuman)
	p.field("modified", formatTime(e.ModTime))
	p.field("first seen", formatTime(e.FirstSeen))
	p.field("verified", formatTime(e.LastVerified))
	p.field("generation", e.Generation)
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		p.field(k, e.Fields[k])
	}
}

// Results streams one line per entry as entries arrive and returns how many
// were printed. The first error stops printing and is returned.
func (p *Printer) Results(seq iter.Seq2[catalog.Entry, error]) (int, error) {
	n := 0
	for e, err := range seq {
		if err != nil {
			return n, err
		}
		fmt.Fprintf(p.w, "%s  %s  %s  %s\n",
			p.st.heading.Render(e.ArchiveID)+":"+e.Path,
			p.st.muted.Render(fmt.Sprintf("%-8s", e.Category)),
			fmt.Sprintf("%10s", e.SizeHuman),
			p.st.muted.Render(formatTime(e.ModTime)))
		n++
	}
	if n == 0 {
		p.Info("no matching documents")
	}
	return n, nil
}

// Stats prints catalog totals.
func (p *Printer) Stats(s catalog.Stats) {
	fmt.Fprintln(p.w, p.st.heading.Render("catalog"))
	p.field("archives", humanize.Comma(int64(s.Archives)))
	p.field("documents", humanize.Comma(int64(s.Documents)))
	p.field("total size", humanize.IBytes(uint64(max(s.TotalSize, 0))))

	st := p.table("STATUS", "ARCHIVES")
	for _, s2 := range []catalog.Status{catalog.StatusUnindexed, catalog.StatusIndexed, catalog.StatusStale, catalog.StatusFailed} {
		st.Row(p.status(s2), strconv.Itoa(s.ByStatus[s2]))
	}
	fmt.Fprintln(p.w, st.Render())

	ct := p.table("CATEGORY", "DOCUMENTS")
	for _, c := range document.Categories() {
		if n := s.ByCategory[c]; n > 0 {
			ct.Row(string(c), humanize.Comma(int64(n)))
		}
	}
	fmt.Fprintln(p.w, ct.Render())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

package catalog

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/papapumpkin/assasdb/internal/document"
)

// pageSize bounds how many rows Query reads per round trip.
const pageSize = 256

// Query returns the entries matching p ordered by archive and path. Results
// are read lazily in pages; no database connection is held while the caller
// consumes a page, so the caller may issue other catalog calls mid-iteration.
func (h *Handler) Query(ctx context.Context, p Predicate) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if err := h.check(); err != nil {
			yield(Entry{}, err)
			return
		}

		var lastArchive, lastPath string
		first := true
		remaining := p.Limit
		for {
			limit := pageSize
			if p.Limit > 0 && remaining < limit {
				limit = remaining
			}
			if p.Limit > 0 && limit <= 0 {
				return
			}

			page, err := h.queryPage(ctx, p, first, lastArchive, lastPath, limit)
			if err != nil {
				yield(Entry{}, h.fail(err))
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < limit {
				return
			}
			last := page[len(page)-1]
			lastArchive, lastPath = last.ArchiveID, last.Path
			first = false
			remaining -= len(page)
		}
	}
}

// queryPage reads one page after the (archive, path) cursor.
func (h *Handler) queryPage(ctx context.Context, p Predicate, first bool, afterArchive, afterPath string, limit int) ([]Entry, error) {
	where, args := p.where()
	if !first {
		where = append(where, "(d.archive_id, d.path) > (?, ?)")
		args = append(args, afterArchive, afterPath)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(entryColumns)
	b.WriteString(" FROM documents d JOIN archives a ON a.id = d.archive_id")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY d.archive_id, d.path LIMIT ?")
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: query: %w", err)
	}
	defer rows.Close()

	page := make([]Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan document: %w", err)
		}
		page = append(page, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate documents: %w", err)
	}
	return page, nil
}

// where renders the predicate as SQL conditions over documents d joined with
// archives a.
func (p Predicate) where() ([]string, []any) {
	var (
		conds []string
		args  []any
	)
	if len(p.ArchiveIDs) > 0 {
		conds = append(conds, "d.archive_id IN ("+placeholders(len(p.ArchiveIDs))+")")
		for _, id := range p.ArchiveIDs {
			args = append(args, id)
		}
	}
	if len(p.Categories) > 0 {
		conds = append(conds, "d.category IN ("+placeholders(len(p.Categories))+")")
		for _, c := range p.Categories {
			args = append(args, string(c))
		}
	}
	if p.PathPrefix != "" {
		conds = append(conds, "instr(d.path, ?) = 1")
		args = append(args, p.PathPrefix)
	}
	if !p.ModifiedAfter.IsZero() {
		conds = append(conds, "d.mod_time >= ?")
		args = append(args, toNanos(p.ModifiedAfter))
	}
	if !p.ModifiedBefore.IsZero() {
		conds = append(conds, "d.mod_time < ?")
		args = append(args, toNanos(p.ModifiedBefore))
	}
	if len(p.ArchiveStatuses) > 0 {
		conds = append(conds, "a.status IN ("+placeholders(len(p.ArchiveStatuses))+")")
		for _, s := range p.ArchiveStatuses {
			args = append(args, string(s))
		}
	}
	return conds, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// ListArchiveDocuments returns every entry of one archive ordered by path.
func (h *Handler) ListArchiveDocuments(ctx context.Context, archiveID string) ([]Entry, error) {
	var out []Entry
	for e, err := range h.Query(ctx, Predicate{ArchiveIDs: []string{archiveID}}) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Stats summarizes the catalog.
func (h *Handler) Stats(ctx context.Context) (Stats, error) {
	if err := h.check(); err != nil {
		return Stats{}, err
	}
	st := Stats{
		ByStatus:   make(map[Status]int),
		ByCategory: make(map[document.Category]int),
	}

	rows, err := h.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM archives GROUP BY status")
	if err != nil {
		return Stats{}, h.fail(fmt.Errorf("catalog: stats: %w", err))
	}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			rows.Close()
			return Stats{}, fmt.Errorf("catalog: stats: %w", err)
		}
		st.ByStatus[Status(s)] = n
		st.Archives += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, h.fail(fmt.Errorf("catalog: stats: %w", err))
	}

	rows, err = h.db.QueryContext(ctx, "SELECT category, COUNT(*), COALESCE(SUM(size), 0) FROM documents GROUP BY category")
	if err != nil {
		return Stats{}, h.fail(fmt.Errorf("catalog: stats: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var c string
		var n int
		var size int64
		if err := rows.Scan(&c, &n, &size); err != nil {
			return Stats{}, fmt.Errorf("catalog: stats: %w", err)
		}
		st.ByCategory[document.Category(c)] = n
		st.Documents += n
		st.TotalSize += size
	}
	if err := rows.Err(); err != nil {
		return Stats{}, h.fail(fmt.Errorf("catalog: stats: %w", err))
	}
	return st, nil
}

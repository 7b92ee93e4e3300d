package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/assasdb/internal/catalog"
	"github.com/papapumpkin/assasdb/internal/document"
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "List documents matching filters",
	Long: `Streams documents from archives whose last reindex completed. By default only
indexed and stale archives are searched: documents of failed or unindexed
archives are left out even when they are in the catalog. Pass --status to
choose the archive statuses yourself, e.g. --status failed.

Filters combine with AND; repeated --archive, --category or --status values
combine with OR. Times accept RFC 3339 or YYYY-MM-DD.`,
	Args: cobra.NoArgs,
	RunE: runFind,
}

var getCmd = &cobra.Command{
	Use:   "get <document-id> | get <archive> <path>",
	Short: "Show one document",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runGet,
}

var archivesCmd = &cobra.Command{
	Use:   "archives [archive]",
	Short: "List archives, or show one archive in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runArchives,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog totals",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	f := findCmd.Flags()
	f.StringSlice("archive", nil, "restrict to these archive IDs")
	f.StringSlice("category", nil, "restrict to these categories")
	f.StringSlice("status", nil, "archive statuses to include (default indexed,stale)")
	f.String("prefix", "", "restrict to paths with this prefix")
	f.String("after", "", "modified at or after this time")
	f.String("before", "", "modified before this time")
	f.Int("limit", 0, "stop after this many documents")

	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(archivesCmd)
	rootCmd.AddCommand(statsCmd)
}

// predicateFromFlags builds a catalog predicate from find's flags.
func predicateFromFlags(cmd *cobra.Command) (catalog.Predicate, error) {
	f := cmd.Flags()
	var p catalog.Predicate
	p.ArchiveIDs, _ = f.GetStringSlice("archive")
	p.PathPrefix, _ = f.GetString("prefix")
	p.Limit, _ = f.GetInt("limit")
	if p.Limit < 0 {
		return p, fmt.Errorf("find: --limit must not be negative")
	}

	cats, _ := f.GetStringSlice("category")
	for _, c := range cats {
		cat, err := document.ParseCategory(c)
		if err != nil {
			return p, err
		}
		p.Categories = append(p.Categories, cat)
	}
	statuses, _ := f.GetStringSlice("status")
	for _, s := range statuses {
		st, err := catalog.ParseStatus(s)
		if err != nil {
			return p, err
		}
		p.ArchiveStatuses = append(p.ArchiveStatuses, st)
	}

	var err error
	after, _ := f.GetString("after")
	if p.ModifiedAfter, err = parseTime(after); err != nil {
		return p, fmt.Errorf("find: --after: %w", err)
	}
	before, _ := f.GetString("before")
	if p.ModifiedBefore, err = parseTime(before); err != nil {
		return p, fmt.Errorf("find: --before: %w", err)
	}
	return p, nil
}

// parseTime accepts RFC 3339 timestamps and bare dates (UTC midnight).
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

func runFind(cmd *cobra.Command, _ []string) (err error) {
	p, err := predicateFromFlags(cmd)
	if err != nil {
		return err
	}
	s, err := openSession(cmd, false)
	if err != nil {
		return err
	}
	defer func() { err = finish(s, err) }()

	_, err = s.printer.Results(s.manager.Find(cmd.Context(), p))
	return err
}

func runGet(cmd *cobra.Command, args []string) (err error) {
	id := args[0]
	if len(args) == 2 {
		path, err := document.NormalizePath(args[1])
		if err != nil {
			return err
		}
		id = document.ID(args[0], path)
	}

	s, err := openSession(cmd, false)
	if err != nil {
		return err
	}
	defer func() { err = finish(s, err) }()

	e, err := s.manager.Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	s.printer.Entry(e)
	return nil
}

func runArchives(cmd *cobra.Command, args []string) (err error) {
	s, err := openSession(cmd, false)
	if err != nil {
		return err
	}
	defer func() { err = finish(s, err) }()

	if len(args) == 1 {
		a, err := s.manager.Archive(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		s.printer.Archive(a)
		return nil
	}
	archives, err := s.manager.Archives(cmd.Context())
	if err != nil {
		return err
	}
	s.printer.Archives(archives)
	return nil
}

func runStats(cmd *cobra.Command, _ []string) (err error) {
	s, err := openSession(cmd, false)
	if err != nil {
		return err
	}
	defer func() { err = finish(s, err) }()

	st, err := s.catalog.Stats(cmd.Context())
	if err != nil {
		return err
	}
	s.printer.Stats(st)
	return nil
}

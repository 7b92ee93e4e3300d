package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover archives and mark changed ones for reindexing",
	Long: `Walks the archive root, records every archive it finds, marks archives whose
contents changed since their last reindex as stale, and drops archives that
disappeared. No records are read.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Scan the archive root and reindex every pending archive",
	Args:  cobra.NoArgs,
	RunE:  runRefresh,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(refreshCmd)
}

func runScan(cmd *cobra.Command, _ []string) (err error) {
	s, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer func() { err = finish(s, err) }()

	rep, err := s.manager.Scan(cmd.Context())
	if err != nil {
		return err
	}
	s.printer.ScanReport(rep, s.cfg.Verbose)
	return nil
}

func runRefresh(cmd *cobra.Command, _ []string) (err error) {
	s, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer func() { err = finish(s, err) }()

	rep, err := s.manager.Refresh(cmd.Context())
	s.printer.RefreshReport(rep, s.cfg.Verbose)
	if err != nil {
		return err
	}
	if n := rep.Failed(); n > 0 {
		return fmt.Errorf("refresh: %d archive(s) did not finish indexing", n)
	}
	return nil
}

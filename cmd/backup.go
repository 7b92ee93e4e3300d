package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Write a compressed snapshot of the catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Load a catalog snapshot written by dump",
	Long: `Loads every archive and document from a snapshot. With --purge the catalog
is emptied first; otherwise snapshot rows are merged over existing ones.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().Bool("purge", false, "empty the catalog before restoring")
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(restoreCmd)
}

func runDump(cmd *cobra.Command, args []string) (err error) {
	s, err := openSession(cmd, false)
	if err != nil {
		return err
	}
	defer func() { err = finish(s, err) }()

	f, err := os.Create(args[0])
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	st, err := s.catalog.Dump(cmd.Context(), f)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("dump: %w", cerr)
	}
	if err != nil {
		os.Remove(args[0])
		return err
	}
	s.printer.Backup("dumped", st)
	return nil
}

func runRestore(cmd *cobra.Command, args []string) (err error) {
	purge, _ := cmd.Flags().GetBool("purge")

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	defer f.Close()

	s, err := openSession(cmd, false)
	if err != nil {
		return err
	}
	defer func() { err = finish(s, err) }()

	if purge {
		if err := s.catalog.Purge(cmd.Context()); err != nil {
			return err
		}
	}
	st, err := s.catalog.Restore(cmd.Context(), f)
	if err != nil {
		return err
	}
	s.printer.Backup("restored", st)
	return nil
}

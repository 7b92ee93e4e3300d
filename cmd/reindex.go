package cmd

import (
	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex <archive>",
	Short: "Reindex one archive",
	Long: `Reads every record of the archive and updates the catalog. An indexed archive
whose signature has not changed is skipped unless --force is given. Failed
archives must be retried with "assasdb retry".`,
	Args: cobra.ExactArgs(1),
	RunE: runReindex,
}

var retryCmd = &cobra.Command{
	Use:   "retry <archive>",
	Short: "Clear a failed archive and reindex it",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

func init() {
	reindexCmd.Flags().BoolP("force", "f", false, "reindex even when the archive is unchanged")
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(retryCmd)
}

func runReindex(cmd *cobra.Command, args []string) (err error) {
	force, _ := cmd.Flags().GetBool("force")

	s, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer func() { err = finish(s, err) }()

	res, err := s.manager.Reindex(cmd.Context(), args[0], force)
	if res.Outcome != "" {
		s.printer.ReindexResult(res)
	}
	return err
}

func runRetry(cmd *cobra.Command, args []string) (err error) {
	s, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer func() { err = finish(s, err) }()

	res, err := s.manager.Retry(cmd.Context(), args[0])
	if res.Outcome != "" {
		s.printer.ReindexResult(res)
	}
	return err
}

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/papapumpkin/assasdb/internal/manager"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the catalog current as archives change",
	Long: `Refreshes once, then watches the archive root and refreshes again whenever
filesystem activity has settled for the debounce interval. Stops on interrupt.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Duration("debounce", 0, "quiet period before a refresh (default 2s)")
	if err := viper.BindPFlag("watch_debounce", watchCmd.Flags().Lookup("debounce")); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) (err error) {
	s, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer func() { err = finish(s, err) }()

	s.printer.Info("watching " + s.manager.Root())
	return s.manager.Watch(cmd.Context(), func(rep manager.RefreshReport, err error) {
		if err != nil {
			s.logger.Error("refresh failed", zap.Error(err))
			s.printer.Error(err.Error())
			return
		}
		s.printer.RefreshReport(rep, s.cfg.Verbose)
	})
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papapumpkin/assasdb/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "assasdb",
	Short: "Metadata catalog for ASSAS simulation archives",
	Long: `assasdb indexes the simulation archives stored under an archive root
(ASTEC output directories, tarballs and zip files) into a local catalog, and
answers queries against it.

Run "assasdb refresh" to scan the root and index every new or changed archive.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default .assasdb.yaml)")
	pf.String("archive-root", "", "directory holding the simulation archives")
	pf.String("catalog", "", "path of the catalog database")
	pf.Int("workers", 0, "archives indexed concurrently")
	pf.String("signature-mode", "", "archive change detection: stat or content")
	pf.Bool("retry-failed", false, "reindex failed archives during refresh")
	pf.String("telemetry", "", "append JSONL events to this file")
	pf.String("metrics-file", "", "write Prometheus metrics to this file on exit")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: console or json")
	pf.BoolP("verbose", "v", false, "verbose output")

	bindFlag("archive_root", "archive-root")
	bindFlag("catalog_path", "catalog")
	bindFlag("workers", "workers")
	bindFlag("signature_mode", "signature-mode")
	bindFlag("retry_failed", "retry-failed")
	bindFlag("telemetry_path", "telemetry")
	bindFlag("metrics_file", "metrics-file")
	bindFlag("log_level", "log-level")
	bindFlag("log_format", "log-format")
	bindFlag("verbose", "verbose")
}

// bindFlag binds a persistent flag to a viper key. Flags only override the
// config file and environment when set explicitly.
func bindFlag(key, flag string) {
	if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

func initConfig() {
	if cfgFile, _ := rootCmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".assasdb")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// It's fine if no config file is found; we use defaults.
	_ = viper.ReadInConfig()
}

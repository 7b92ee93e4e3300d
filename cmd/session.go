package cmd

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papapumpkin/assasdb/internal/archive"
	"github.com/papapumpkin/assasdb/internal/catalog"
	"github.com/papapumpkin/assasdb/internal/config"
	"github.com/papapumpkin/assasdb/internal/logging"
	"github.com/papapumpkin/assasdb/internal/manager"
	"github.com/papapumpkin/assasdb/internal/telemetry"
	"github.com/papapumpkin/assasdb/internal/ui"
)

// session bundles everything one command invocation needs.
type session struct {
	cfg      config.Config
	logger   *zap.Logger
	catalog  *catalog.Handler
	emitter  *telemetry.Emitter
	registry *prometheus.Registry
	manager  *manager.Manager
	printer  *ui.Printer
}

// openSession loads configuration and opens the catalog. When needRoot is
// set the archive root must be configured.
func openSession(cmd *cobra.Command, needRoot bool) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if needRoot {
		if _, err := cfg.RequireArchiveRoot(); err != nil {
			return nil, err
		}
	}
	mode, err := archive.ParseSignatureMode(cfg.SignatureMode)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Verbose(cfg.LogLevel, cfg.Verbose), cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		printer:  ui.New(cmd.OutOrStdout()),
	}
	s.registry.MustRegister(collectors.NewGoCollector())

	s.catalog, err = catalog.Open(cmd.Context(), cfg.CatalogPath, catalog.WithLogger(logger))
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	if cfg.TelemetryPath != "" {
		s.emitter, err = telemetry.NewEmitter(cfg.TelemetryPath)
		if err != nil {
			s.catalog.Close()
			_ = logger.Sync()
			return nil, err
		}
	}

	s.manager = manager.New(s.catalog, cfg.ArchiveRoot,
		manager.WithWorkers(cfg.Workers),
		manager.WithSignatureMode(mode),
		manager.WithRetryFailed(cfg.RetryFailed),
		manager.WithDebounce(cfg.WatchDebounce),
		manager.WithLogger(logger),
		manager.WithEmitter(s.emitter),
		manager.WithMetrics(s.registry),
	)
	logger.Debug("session opened",
		zap.String("archive_root", cfg.ArchiveRoot),
		zap.String("catalog", cfg.CatalogPath),
		zap.Int("workers", cfg.Workers),
		zap.String("signature_mode", string(mode)),
	)
	return s, nil
}

// Close writes the metrics file, if configured, and releases resources.
func (s *session) Close() error {
	var errs []error
	if s.cfg.MetricsFile != "" {
		errs = append(errs, manager.WriteMetrics(s.cfg.MetricsFile, s.registry))
	}
	errs = append(errs, s.emitter.Close(), s.catalog.Close())
	_ = s.logger.Sync()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// finish closes s, keeping the command's error when there is one.
func finish(s *session, err error) error {
	if cerr := s.Close(); cerr != nil && err == nil {
		return cerr
	}
	return err
}

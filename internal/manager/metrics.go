package manager

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "assasdb"

type metrics struct {
	scans       prometheus.Counter
	archives    *prometheus.GaugeVec
	reindexes   *prometheus.CounterVec
	documents   *prometheus.CounterVec
	duplicates  prometheus.Counter
	removed     prometheus.Counter
	reindexTime prometheus.Histogram
}

// newMetrics builds the manager collectors and registers them with reg when
// it is non-nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		scans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "scans_total",
			Help:      "Completed archive root scans.",
		}),
		archives: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "archives",
			Help:      "Archives by status after the last scan.",
		}, []string{"status"}),
		reindexes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "reindexes_total",
			Help:      "Reindex runs by outcome.",
		}, []string{"outcome"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "documents_total",
			Help:      "Document upserts by change kind.",
		}, []string{"change"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "duplicates_skipped_total",
			Help:      "Records skipped because their identifier was already taken.",
		}),
		removed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "archives_removed_total",
			Help:      "Archives dropped from the catalog after vanishing from disk.",
		}),
		reindexTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "manager",
			Name:      "reindex_duration_seconds",
			Help:      "Wall time of reindex runs.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.scans, m.archives, m.reindexes, m.documents, m.duplicates, m.removed, m.reindexTime)
	}
	return m
}

// WriteMetrics writes every metric gathered by g to path in the Prometheus
// text format, for pickup by a node exporter textfile collector.
func WriteMetrics(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("manager: write metrics: %w", err)
	}
	return nil
}

// Package manager orchestrates indexing of the simulation archive root. It
// discovers archives, decides which need (re)indexing, streams their records
// through the document model into the catalog, and serves queries against the
// last completed scan.
package manager

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/papapumpkin/assasdb/internal/archive"
	"github.com/papapumpkin/assasdb/internal/catalog"
	"github.com/papapumpkin/assasdb/internal/telemetry"
)

var (
	// ErrReindexInProgress is returned when a reindex of the same archive is
	// already running.
	ErrReindexInProgress = errors.New("manager: reindex already in progress")

	// ErrArchiveFailed is returned when reindexing an archive that is in the
	// failed state. It must be retried explicitly first.
	ErrArchiveFailed = errors.New("manager: archive is failed; retry it first")

	// ErrArchiveChanged is returned when an archive's signature changed
	// while its records were being read.
	ErrArchiveChanged = fmt.Errorf("%w: archive changed while indexing", archive.ErrSourceUnavailable)
)

// Catalog is the subset of the catalog handler the manager drives.
type Catalog interface {
	Upsert(ctx context.Context, e catalog.Entry) (catalog.Change, error)
	Get(ctx context.Context, id string) (catalog.Entry, error)
	Query(ctx context.Context, p catalog.Predicate) iter.Seq2[catalog.Entry, error]
	PutArchive(ctx context.Context, a catalog.Archive) error
	GetArchive(ctx context.Context, id string) (catalog.Archive, error)
	ListArchives(ctx context.Context) ([]catalog.Archive, error)
	SetArchiveStatus(ctx context.Context, id string, to catalog.Status, reason string) error
	RetryArchive(ctx context.Context, id string) (catalog.Status, error)
	RecordArchiveError(ctx context.Context, id, reason string) error
	BeginGeneration(ctx context.Context, id string) (int64, error)
	CompleteArchive(ctx context.Context, id string, gen int64, sig archive.Signature) (int, error)
	DeleteArchive(ctx context.Context, id string) (int, error)
}

// Source streams the raw records of an archive.
type Source interface {
	Records(ctx context.Context, loc archive.Locator) archive.Sequence
}

// Manager coordinates discovery, reindexing and lookup.
type Manager struct {
	catalog     Catalog
	root        string
	source      Source
	workers     int
	mode        archive.SignatureMode
	retryFailed bool
	debounce    time.Duration
	logger      *zap.Logger
	emitter     *telemetry.Emitter
	metrics     *metrics
	now         func() time.Time
	inflight    *xsync.MapOf[string, struct{}]
	discover    func(ctx context.Context, root string) (archive.Discovery, error)
}

// New creates a Manager over the archives below root.
func New(cat Catalog, root string, opts ...Option) *Manager {
	m := &Manager{
		catalog:  cat,
		root:     root,
		source:   archive.DefaultRegistry(),
		workers:  4,
		mode:     archive.SignatureStat,
		debounce: 2 * time.Second,
		logger:   zap.NewNop(),
		now:      time.Now,
		inflight: xsync.NewMapOf[string, struct{}](),
		discover: archive.Discover,
	}
	for _, o := range opts {
		o(m)
	}
	if m.workers < 1 {
		m.workers = 1
	}
	if m.metrics == nil {
		m.metrics = newMetrics(nil)
	}
	return m
}

// Root returns the archive root the manager scans.
func (m *Manager) Root() string { return m.root }

// Get returns the catalog entry for a document ID.
func (m *Manager) Get(ctx context.Context, id string) (catalog.Entry, error) {
	return m.catalog.Get(ctx, id)
}

// Archive returns the catalog record of one archive.
func (m *Manager) Archive(ctx context.Context, id string) (catalog.Archive, error) {
	return m.catalog.GetArchive(ctx, id)
}

// Archives lists every archive known to the catalog, ordered by ID.
func (m *Manager) Archives(ctx context.Context) ([]catalog.Archive, error) {
	return m.catalog.ListArchives(ctx)
}

// Find streams documents matching p. Unless p names archive statuses
// explicitly, only archives whose last reindex completed (indexed or stale)
// contribute results.
func (m *Manager) Find(ctx context.Context, p catalog.Predicate) iter.Seq2[catalog.Entry, error] {
	if len(p.ArchiveStatuses) == 0 {
		p.ArchiveStatuses = []catalog.Status{catalog.StatusIndexed, catalog.StatusStale}
	}
	return m.catalog.Query(ctx, p)
}

// Retry clears the failed state of an archive and reindexes it.
func (m *Manager) Retry(ctx context.Context, id string) (ReindexResult, error) {
	prior, err := m.catalog.RetryArchive(ctx, id)
	if err != nil {
		return ReindexResult{ArchiveID: id}, err
	}
	m.logger.Info("retrying archive", zap.String("archive", id), zap.String("status", string(prior)))
	m.record(telemetry.KindArchiveStatus, "", id, map[string]string{"from": string(catalog.StatusFailed), "to": string(prior)})
	return m.Reindex(ctx, id, true)
}

// record emits a telemetry event, logging rather than returning failures.
func (m *Manager) record(kind, runID, archiveID string, data any) {
	if err := m.emitter.Record(kind, runID, archiveID, data); err != nil {
		m.logger.Warn("telemetry emit failed", zap.String("kind", kind), zap.Error(err))
	}
}

func newRunID() string {
	return uuid.NewString()
}

// isFatal reports whether err must abort a whole run rather than a single
// archive.
func isFatal(err error) bool {
	return errors.Is(err, catalog.ErrStorageCorruption) || errors.Is(err, catalog.ErrClosed)
}

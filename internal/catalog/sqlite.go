package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// connPragmas is appended to the database path so the driver applies the
// settings to every connection it opens, including ones the pool replaces.
const connPragmas = "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

// schema contains the DDL executed on every open. Times are stored as Unix
// nanoseconds, 0 meaning unset.
const schema = `
CREATE TABLE IF NOT EXISTS archives (
    id                TEXT PRIMARY KEY,
    path              TEXT NOT NULL,
    format            TEXT NOT NULL,
    size              INTEGER NOT NULL DEFAULT 0,
    files             INTEGER NOT NULL DEFAULT 0,
    mod_time          INTEGER NOT NULL DEFAULT 0,
    signature         TEXT NOT NULL DEFAULT '',
    indexed_signature TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT 'unindexed',
    prior_status      TEXT NOT NULL DEFAULT '',
    last_error        TEXT NOT NULL DEFAULT '',
    attempts          INTEGER NOT NULL DEFAULT 0,
    generation        INTEGER NOT NULL DEFAULT 0,
    run_generation    INTEGER NOT NULL DEFAULT 0,
    doc_count         INTEGER NOT NULL DEFAULT 0,
    manifest          BLOB,
    discovered_at     INTEGER NOT NULL DEFAULT 0,
    indexed_at        INTEGER NOT NULL DEFAULT 0,
    updated_at        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS documents (
    id            TEXT PRIMARY KEY,
    archive_id    TEXT NOT NULL REFERENCES archives(id) ON DELETE CASCADE,
    path          TEXT NOT NULL,
    category      TEXT NOT NULL,
    name          TEXT NOT NULL,
    ext           TEXT NOT NULL DEFAULT '',
    dir           TEXT NOT NULL DEFAULT '',
    depth         INTEGER NOT NULL DEFAULT 0,
    size          INTEGER NOT NULL DEFAULT 0,
    size_human    TEXT NOT NULL DEFAULT '',
    mod_time      INTEGER NOT NULL DEFAULT 0,
    fields        BLOB,
    fingerprint   TEXT NOT NULL,
    generation    INTEGER NOT NULL DEFAULT 0,
    first_seen    INTEGER NOT NULL,
    last_verified INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL,
    UNIQUE(archive_id, path)
);

CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);
CREATE INDEX IF NOT EXISTS idx_documents_mod_time ON documents(mod_time);
CREATE INDEX IF NOT EXISTS idx_archives_status ON archives(status);
`

// Handler implements the catalog on a local SQLite database in WAL mode. It
// is safe for concurrent use; writes are serialized by the single pooled
// connection.
type Handler struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	fault  error // sticky ErrStorageCorruption
	closed bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used to report corruption.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithClock overrides the time source for archive bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// Open opens (or creates) the catalog at dbPath. A file that is not a
// database or fails the integrity check returns ErrStorageCorruption.
func Open(ctx context.Context, dbPath string, opts ...Option) (*Handler, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("catalog: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+connPragmas)
	if err != nil {
		return nil, fmt.Errorf("catalog: open database: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)

	h := &Handler{db: db, logger: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(h)
	}

	steps := []struct {
		what string
		stmt string
	}{
		{"enable WAL mode", "PRAGMA journal_mode=WAL"},
		{"create schema", schema},
	}
	for _, s := range steps {
		if _, err := db.ExecContext(ctx, s.stmt); err != nil {
			db.Close()
			if isCorruptionCode(err) {
				return nil, fmt.Errorf("%w: %s: %w", ErrStorageCorruption, dbPath, err)
			}
			return nil, fmt.Errorf("catalog: %s: %w", s.what, err)
		}
	}

	if err := h.integrityCheck(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: open %s: %w", dbPath, err)
	}
	return h, nil
}

// integrityCheck runs PRAGMA quick_check.
func (h *Handler) integrityCheck(ctx context.Context) error {
	var result string
	err := h.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result)
	if err != nil {
		if isCorruptionCode(err) {
			return fmt.Errorf("%w: %w", ErrStorageCorruption, err)
		}
		return fmt.Errorf("catalog: integrity check: %w", err)
	}
	if result != "ok" {
		return corrupt("integrity check: %s", result)
	}
	return nil
}

// Close releases the database. Later calls return ErrClosed.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.db.Close(); err != nil {
		return fmt.Errorf("catalog: close: %w", err)
	}
	return nil
}

// check returns the sticky fault, or ErrClosed after Close.
func (h *Handler) check() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fault != nil {
		return h.fault
	}
	if h.closed {
		return ErrClosed
	}
	return nil
}

// fail records err as the sticky fault when it indicates corruption and
// returns the error callers should see.
func (h *Handler) fail(err error) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrStorageCorruption) && !isCorruptionCode(err) {
		return err
	}
	if !errors.Is(err, ErrStorageCorruption) {
		err = fmt.Errorf("%w: %w", ErrStorageCorruption, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fault == nil {
		h.fault = err
		h.logger.Error("catalog corrupted; refusing further operations", zap.Error(err))
	}
	return h.fault
}

// toNanos converts t for storage; the zero time is stored as 0.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// fromNanos is the inverse of toNanos. Stored times are returned in UTC.
func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

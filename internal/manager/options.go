package manager

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/papapumpkin/assasdb/internal/archive"
	"github.com/papapumpkin/assasdb/internal/telemetry"
)

// Option configures a Manager.
type Option func(*Manager)

// WithSource replaces the record source. The default is
// archive.DefaultRegistry.
func WithSource(s Source) Option {
	return func(m *Manager) { m.source = s }
}

// WithWorkers sets how many archives Refresh reindexes concurrently.
func WithWorkers(n int) Option {
	return func(m *Manager) { m.workers = n }
}

// WithSignatureMode selects how archive signatures are computed.
func WithSignatureMode(mode archive.SignatureMode) Option {
	return func(m *Manager) { m.mode = mode }
}

// WithRetryFailed makes Scan move failed archives back to their prior status
// so they are reindexed again.
func WithRetryFailed(retry bool) Option {
	return func(m *Manager) { m.retryFailed = retry }
}

// WithDebounce sets how long Watch waits for filesystem activity to settle
// before refreshing.
func WithDebounce(d time.Duration) Option {
	return func(m *Manager) { m.debounce = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithEmitter sets the telemetry emitter. A nil emitter disables telemetry.
func WithEmitter(e *telemetry.Emitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// WithMetrics registers the manager's collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(m *Manager) { m.metrics = newMetrics(reg) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

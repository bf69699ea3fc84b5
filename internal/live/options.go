package live

import (
	"log/slog"

	"github.com/roach88/livekv/internal/mutation"
)

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = l
	}
}

// WithViewEviction drops views from their cache once they have no
// subscribers and no read in flight. Failed views are never evicted.
// Default: false, views live as long as the driver.
func WithViewEviction(enabled bool) Option {
	return func(d *Driver) {
		d.evictViews = enabled
	}
}

// WithMetrics records driver activity in m.
func WithMetrics(m *Metrics) Option {
	return func(d *Driver) {
		d.metrics = m
	}
}

// WithRequestIDs sets the request ID generator used by the pipeline.
// Default: mutation.UUIDv7Generator.
func WithRequestIDs(g mutation.IDGenerator) Option {
	return func(d *Driver) {
		d.ids = g
	}
}

// WithClock sets the logical clock that stamps event sequence numbers.
func WithClock(c *mutation.Clock) Option {
	return func(d *Driver) {
		d.clock = c
	}
}

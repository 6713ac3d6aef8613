package telemetry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Logger exposes the free-form logging used by client components.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

// Printf implements Logger for LoggerFunc.
func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// NopLogger discards everything.
func NopLogger() Logger {
	return LoggerFunc(func(string, ...any) {})
}

// WrapZerolog adapts a zerolog logger to the Logger interface. Lines are
// written at info level under the given component name.
func WrapZerolog(logger *zerolog.Logger, component string) Logger {
	if logger == nil {
		return &zerologAdapter{}
	}
	scoped := logger.With().Str("component", component).Logger()
	return &zerologAdapter{logger: &scoped}
}

type zerologAdapter struct {
	logger *zerolog.Logger
}

func (l *zerologAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Info().Msg(fmt.Sprintf(format, args...))
}

// Metrics exposes the counters and gauges recorded by client components.
// Add accumulates a counter; Store sets a gauge.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// NopMetrics discards every measurement.
func NopMetrics() Metrics {
	return nopMetrics{}
}

type nopMetrics struct{}

func (nopMetrics) Add(string, uint64)   {}
func (nopMetrics) Store(string, uint64) {}

// Counters is an in-process Metrics implementation that keeps the latest
// values for snapshots and tests.
type Counters struct {
	mu     sync.Mutex
	values map[string]uint64
}

// NewCounters constructs an empty counter set.
func NewCounters() *Counters {
	return &Counters{values: make(map[string]uint64)}
}

func (c *Counters) Add(key string, delta uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]uint64)
	}
	c.values[key] += delta
}

func (c *Counters) Store(key string, value uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]uint64)
	}
	c.values[key] = value
}

// Get returns a single value.
func (c *Counters) Get(key string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key]
}

// Snapshot copies every value.
func (c *Counters) Snapshot() map[string]uint64 {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Keys lists recorded keys in sorted order.
func (c *Counters) Keys() []string {
	snapshot := c.Snapshot()
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fanout forwards every measurement to each non-nil target.
func Fanout(targets ...Metrics) Metrics {
	filtered := make([]Metrics, 0, len(targets))
	for _, target := range targets {
		if target != nil {
			filtered = append(filtered, target)
		}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return fanout(filtered)
}

type fanout []Metrics

func (f fanout) Add(key string, delta uint64) {
	for _, m := range f {
		m.Add(key, delta)
	}
}

func (f fanout) Store(key string, value uint64) {
	for _, m := range f {
		m.Store(key, value)
	}
}

package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads wall-clock time.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// Router hands each event to every sink's worker goroutine, so Publish never
// waits on I/O. It is safe for concurrent use.
type Router struct {
	cfg      Config
	clock    Clock
	fallback zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	workers []*sinkWorker
	wg      sync.WaitGroup

	published atomic.Uint64
	filtered  atomic.Uint64
}

// RouterStats counts events by outcome. Dropped and Failed are keyed by sink.
type RouterStats struct {
	Published uint64
	Filtered  uint64
	Dropped   map[string]uint64
	Failed    map[string]uint64
}

func NewRouter(clock Clock, cfg Config, namedSinks []NamedSink) (*Router, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	cfg = cfg.withDefaults()
	fallback := zerolog.New(os.Stderr).With().Timestamp().Str("component", "logging").Logger()
	if cfg.Fallback != nil {
		fallback = cfg.Fallback.With().Str("component", "logging").Logger()
	}
	r := &Router{cfg: cfg, clock: clock, fallback: fallback}

	seen := make(map[string]bool, len(namedSinks))
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		if seen[named.Name] {
			return nil, fmt.Errorf("duplicate sink %q", named.Name)
		}
		seen[named.Name] = true
		w := &sinkWorker{
			name:      named.Name,
			sink:      named.Sink,
			events:    make(chan Event, cfg.Backlog),
			fallback:  &r.fallback,
			warnEvery: cfg.DropWarnInterval,
		}
		r.workers = append(r.workers, w)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			w.run()
		}()
	}
	return r, nil
}

// Publish filters, stamps and enqueues event for every sink. Events below
// the minimum severity or published after Close are discarded.
func (r *Router) Publish(_ context.Context, event Event) {
	if event.Type == "" {
		return
	}
	if event.Severity < r.cfg.MinimumSeverity {
		r.filtered.Add(1)
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	event = mergeFields(event, r.cfg.Fields)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	r.published.Add(1)
	for _, w := range r.workers {
		w.offer(event)
	}
}

// Close flushes queued events and closes every sink. It returns ctx.Err if
// the workers do not drain in time.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, w := range r.workers {
		close(w.events)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	for _, w := range r.workers {
		if err := w.sink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s sink: %w", w.name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Router) Stats() RouterStats {
	stats := RouterStats{
		Published: r.published.Load(),
		Filtered:  r.filtered.Load(),
		Dropped:   make(map[string]uint64, len(r.workers)),
		Failed:    make(map[string]uint64, len(r.workers)),
	}
	for _, w := range r.workers {
		stats.Dropped[w.name] = w.dropped.Load()
		stats.Failed[w.name] = w.failed.Load()
	}
	return stats
}

func (r *Router) Sink(name string) Sink {
	for _, w := range r.workers {
		if w.name == name {
			return w.sink
		}
	}
	return nil
}

// sinkWorker owns one sink. After a failed write the sink is suspended with
// exponential backoff and events arriving meanwhile are dropped.
type sinkWorker struct {
	name      string
	sink      Sink
	events    chan Event
	fallback  *zerolog.Logger
	warnEvery time.Duration

	dropped  atomic.Uint64
	failed   atomic.Uint64
	lastWarn atomic.Int64

	failures       int
	suspendedUntil time.Time
}

func (w *sinkWorker) offer(event Event) {
	select {
	case w.events <- cloneEvent(event):
	default:
		w.drop(event, "sink backlog full, dropping event")
	}
}

func (w *sinkWorker) drop(event Event, msg string) {
	total := w.dropped.Add(1)
	now := time.Now().UnixNano()
	last := w.lastWarn.Load()
	if now-last < w.warnEvery.Nanoseconds() || !w.lastWarn.CompareAndSwap(last, now) {
		return
	}
	w.fallback.Warn().
		Str("sink", w.name).
		Str("type", string(event.Type)).
		Uint64("dropped", total).
		Msg(msg)
}

func (w *sinkWorker) run() {
	for event := range w.events {
		if !w.suspendedUntil.IsZero() && time.Now().Before(w.suspendedUntil) {
			w.drop(event, "sink suspended, dropping event")
			continue
		}
		if err := w.sink.Write(event); err != nil {
			w.failed.Add(1)
			w.failures++
			backoff := time.Duration(1<<min(w.failures-1, 5)) * time.Second
			w.suspendedUntil = time.Now().Add(backoff)
			w.fallback.Error().Err(err).Str("sink", w.name).Dur("suspendFor", backoff).Msg("sink write failed")
			continue
		}
		w.failures = 0
		w.suspendedUntil = time.Time{}
	}
}

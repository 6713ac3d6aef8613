package recorder

import (
	"context"
	"sync"
	"sync/atomic"

	"arena/netsync/internal/telemetry"
)

const defaultQueueSize = 256

type job func(ctx context.Context) error

// Async serializes writes to a backend on one worker goroutine. Submitting
// never blocks: a full queue drops the record and counts it.
type Async struct {
	next    Recorder
	logger  telemetry.Logger
	metrics telemetry.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan job
	done   chan struct{}
	drops  atomic.Uint64
}

// NewAsync starts the worker. size <= 0 selects a default queue length.
func NewAsync(next Recorder, size int, logger telemetry.Logger, metrics telemetry.Metrics) *Async {
	if size <= 0 {
		size = defaultQueueSize
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	a := &Async{
		next:    next,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan job, size),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	ctx := context.Background()
	for fn := range a.queue {
		if err := fn(ctx); err != nil {
			a.logger.Printf("recorder write failed: %v", err)
		}
	}
}

func (a *Async) submit(fn job) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- fn:
		return nil
	default:
		a.drops.Add(1)
		a.metrics.Add(telemetry.KeyRecorderDrops, 1)
		return ErrQueueFull
	}
}

func (a *Async) RecordStats(_ context.Context, sample StatsSample) error {
	return a.submit(func(ctx context.Context) error {
		return a.next.RecordStats(ctx, sample)
	})
}

func (a *Async) RecordEvent(_ context.Context, event EventRecord) error {
	return a.submit(func(ctx context.Context) error {
		return a.next.RecordEvent(ctx, event)
	})
}

// Dropped reports how many records were discarded because the queue was full.
func (a *Async) Dropped() uint64 {
	return a.drops.Load()
}

// Close drains queued records and closes the backend.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	<-a.done
	return a.next.Close()
}

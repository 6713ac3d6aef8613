package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "arena/netsync/internal/telemetry"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// OtelMetrics records Metrics calls as OpenTelemetry instruments: Add feeds an
// Int64Counter and Store an Int64Gauge. Instruments are created lazily per key
// from the global meter provider, which is a no-op unless the binary installs
// one.
type OtelMetrics struct {
	meter    metric.Meter
	attrs    metric.MeasurementOption
	mu       sync.Mutex
	counters map[string]metric.Int64Counter
	gauges   map[string]metric.Int64Gauge
	onError  func(error)
}

// NewOtelMetrics builds metrics on the global meter. identity is attached to
// every measurement as the client.identity attribute.
func NewOtelMetrics(identity string, onError func(error)) *OtelMetrics {
	return newOtelMetrics(meter(), identity, onError)
}

func newOtelMetrics(m metric.Meter, identity string, onError func(error)) *OtelMetrics {
	if onError == nil {
		onError = func(error) {}
	}
	return &OtelMetrics{
		meter:    m,
		attrs:    metric.WithAttributes(attribute.String("client.identity", identity)),
		counters: make(map[string]metric.Int64Counter),
		gauges:   make(map[string]metric.Int64Gauge),
		onError:  onError,
	}
}

func (o *OtelMetrics) Add(key string, delta uint64) {
	if o == nil {
		return
	}
	counter, err := o.counter(key)
	if err != nil {
		o.onError(err)
		return
	}
	counter.Add(context.Background(), int64(delta), o.attrs)
}

func (o *OtelMetrics) Store(key string, value uint64) {
	if o == nil {
		return
	}
	gauge, err := o.gauge(key)
	if err != nil {
		o.onError(err)
		return
	}
	gauge.Record(context.Background(), int64(value), o.attrs)
}

func (o *OtelMetrics) counter(key string) (metric.Int64Counter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.counters[key]; ok {
		return c, nil
	}
	c, err := o.meter.Int64Counter(key, metric.WithDescription("netsync counter "+key))
	if err != nil {
		return nil, fmt.Errorf("creating counter %s: %w", key, err)
	}
	o.counters[key] = c
	return c, nil
}

func (o *OtelMetrics) gauge(key string) (metric.Int64Gauge, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if g, ok := o.gauges[key]; ok {
		return g, nil
	}
	g, err := o.meter.Int64Gauge(key, metric.WithDescription("netsync gauge "+key))
	if err != nil {
		return nil, fmt.Errorf("creating gauge %s: %w", key, err)
	}
	o.gauges[key] = g
	return g, nil
}

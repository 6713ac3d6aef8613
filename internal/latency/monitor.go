package latency

import "time"

const (
	// SampleWindow is the number of round-trip samples averaged.
	SampleWindow = 10
	// MinInterpolationDelay floors the adaptive interpolation delay.
	MinInterpolationDelay = 50 * time.Millisecond
	// DefaultDelay is used before any round-trip sample exists.
	DefaultDelay = 100 * time.Millisecond
)

// Features toggles the client-side smoothing techniques.
type Features struct {
	Prediction     bool
	Reconciliation bool
	Extrapolation  bool
}

// DefaultFeatures enables every technique.
func DefaultFeatures() Features {
	return Features{Prediction: true, Reconciliation: true, Extrapolation: true}
}

// Profile is a point-in-time view of the monitor.
type Profile struct {
	Samples               []time.Duration
	Average               time.Duration
	Jitter                time.Duration
	InterpolationDelay    time.Duration
	PredictionEnabled     bool
	ReconciliationEnabled bool
	ExtrapolationEnabled  bool
}

// Monitor tracks recent round-trip times and derives the interpolation delay.
// It is owned by the synchronizer goroutine.
type Monitor struct {
	samples  [SampleWindow]time.Duration
	next     int
	count    int
	features Features
	last     time.Duration
}

// NewMonitor constructs a monitor with the provided feature flags.
func NewMonitor(features Features) *Monitor {
	return &Monitor{features: features}
}

// RecordPing appends a round-trip sample, evicting the oldest when the window
// is full. Negative samples are ignored.
func (m *Monitor) RecordPing(sample time.Duration) bool {
	if m == nil || sample < 0 {
		return false
	}
	m.samples[m.next] = sample
	m.next = (m.next + 1) % SampleWindow
	if m.count < SampleWindow {
		m.count++
	}
	m.last = sample
	return true
}

// SampleCount reports how many samples are in the window.
func (m *Monitor) SampleCount() int {
	if m == nil {
		return 0
	}
	return m.count
}

// Last returns the most recent sample.
func (m *Monitor) Last() time.Duration {
	if m == nil {
		return 0
	}
	return m.last
}

// AveragePing returns the arithmetic mean of the retained samples.
func (m *Monitor) AveragePing() time.Duration {
	if m == nil || m.count == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < m.count; i++ {
		total += m.samples[i]
	}
	return total / time.Duration(m.count)
}

// Jitter returns the mean absolute deviation from the average.
func (m *Monitor) Jitter() time.Duration {
	if m == nil || m.count < 2 {
		return 0
	}
	avg := m.AveragePing()
	var total time.Duration
	for i := 0; i < m.count; i++ {
		diff := m.samples[i] - avg
		if diff < 0 {
			diff = -diff
		}
		total += diff
	}
	return total / time.Duration(m.count)
}

// InterpolationDelay returns max(50ms, average/2), or DefaultDelay before the
// first sample.
func (m *Monitor) InterpolationDelay() time.Duration {
	if m == nil || m.count == 0 {
		return DefaultDelay
	}
	delay := m.AveragePing() / 2
	if delay < MinInterpolationDelay {
		return MinInterpolationDelay
	}
	return delay
}

// Features returns the current feature flags.
func (m *Monitor) Features() Features {
	if m == nil {
		return Features{}
	}
	return m.features
}

// SetFeatures replaces the feature flags.
func (m *Monitor) SetFeatures(features Features) {
	if m == nil {
		return
	}
	m.features = features
}

// Samples returns the retained samples, oldest first.
func (m *Monitor) Samples() []time.Duration {
	if m == nil || m.count == 0 {
		return nil
	}
	out := make([]time.Duration, 0, m.count)
	start := 0
	if m.count == SampleWindow {
		start = m.next
	}
	for i := 0; i < m.count; i++ {
		out = append(out, m.samples[(start+i)%SampleWindow])
	}
	return out
}

// Profile captures the monitor state.
func (m *Monitor) Profile() Profile {
	features := m.Features()
	return Profile{
		Samples:               m.Samples(),
		Average:               m.AveragePing(),
		Jitter:                m.Jitter(),
		InterpolationDelay:    m.InterpolationDelay(),
		PredictionEnabled:     features.Prediction,
		ReconciliationEnabled: features.Reconciliation,
		ExtrapolationEnabled:  features.Extrapolation,
	}
}

// Reset discards every sample while keeping the feature flags.
func (m *Monitor) Reset() {
	if m == nil {
		return
	}
	m.samples = [SampleWindow]time.Duration{}
	m.next = 0
	m.count = 0
	m.last = 0
}

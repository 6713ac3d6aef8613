package netsync

import (
	"context"
	"errors"
	"time"

	"arena/netsync/internal/latency"
	"arena/netsync/internal/recorder"
	"arena/netsync/internal/telemetry"
)

// NetworkStats is the consolidated connection-quality view refreshed at the
// end of every tick.
type NetworkStats struct {
	State              State
	Ping               time.Duration
	AveragePing        time.Duration
	Jitter             time.Duration
	InterpolationDelay time.Duration
	PingSamples        int
	Features           latency.Features
	ClockOffset        time.Duration

	MessagesReceived     uint64
	MessagesSent         uint64
	BytesReceived        uint64
	BytesSent            uint64
	MalformedMessages    uint64
	DroppedMessages      uint64
	SendErrors           uint64
	OutOfOrderSnapshots  uint64
	StaleAcknowledgments uint64
	UnknownEntityUpdates uint64
	ResyncRequests       uint64
	Faults               uint64
	ConsumedEvents       uint64
	ExpiredEvents        uint64
	ExpiredProjectiles   uint64

	PendingInputs    int
	LastAcknowledged uint64
	HasAcknowledged  bool
	LastCorrection   float64
	RemoteEntities   int
	Projectiles      int
	LedgerEvents     int
}

// NetworkStats returns the statistics as of the last tick.
func (s *Synchronizer) NetworkStats() NetworkStats {
	return s.stats
}

func (s *Synchronizer) refreshStats(now time.Time) {
	profile := s.monitor.Profile()
	stats := NetworkStats{
		State:              s.state,
		Ping:               s.monitor.Last(),
		AveragePing:        profile.Average,
		Jitter:             profile.Jitter,
		InterpolationDelay: profile.InterpolationDelay,
		PingSamples:        len(profile.Samples),
		Features:           s.monitor.Features(),
		ClockOffset:        s.clockOffset,

		MessagesReceived:     s.counters.received,
		MessagesSent:         s.counters.sent,
		BytesReceived:        s.counters.bytesReceived,
		BytesSent:            s.counters.bytesSent,
		MalformedMessages:    s.counters.malformed,
		DroppedMessages:      s.counters.dropped,
		SendErrors:           s.counters.sendErrors,
		OutOfOrderSnapshots:  s.counters.outOfOrder,
		UnknownEntityUpdates: s.counters.unknownUpdates,
		ResyncRequests:       s.counters.resyncRequests,
		Faults:               s.counters.faults,
		ConsumedEvents:       s.counters.consumedEvents,
		ExpiredEvents:        s.counters.expiredEvents,
		ExpiredProjectiles:   s.counters.expiredProjectiles,

		RemoteEntities: len(s.remotes),
		Projectiles:    s.projectiles.Len(),
		LedgerEvents:   s.ledger.Len(),
	}
	if s.engine != nil {
		stats.PendingInputs = len(s.engine.Pending())
		stats.LastAcknowledged, stats.HasAcknowledged = s.engine.LastAcknowledged()
		stats.StaleAcknowledgments = s.engine.StaleAcknowledgments()
		stats.LastCorrection = s.engine.LastCorrection()
	}
	s.stats = stats

	s.metrics.Add(telemetry.KeyTicks, 1)
	s.metrics.Store(telemetry.KeyPingMillis, uint64(stats.AveragePing.Milliseconds()))
	s.metrics.Store(telemetry.KeyJitterMillis, uint64(stats.Jitter.Milliseconds()))
	s.metrics.Store(telemetry.KeyInterpolationDelay, uint64(stats.InterpolationDelay.Milliseconds()))
	s.metrics.Store(telemetry.KeyPendingInputs, uint64(stats.PendingInputs))
	s.metrics.Store(telemetry.KeyRemoteEntities, uint64(stats.RemoteEntities))
	s.metrics.Store(telemetry.KeyProjectiles, uint64(stats.Projectiles))

	if s.lastRecord.IsZero() || now.Sub(s.lastRecord) >= s.cfg.RecordInterval {
		s.lastRecord = now
		s.recordSample(now, stats)
	}
}

func (s *Synchronizer) recordSample(now time.Time, stats NetworkStats) {
	err := s.recorder.RecordStats(context.Background(), recorder.StatsSample{
		Identity:                 s.cfg.Identity,
		At:                       now,
		State:                    stats.State.String(),
		PingMillis:               float64(stats.AveragePing) / float64(time.Millisecond),
		JitterMillis:             float64(stats.Jitter) / float64(time.Millisecond),
		InterpolationDelayMillis: float64(stats.InterpolationDelay) / float64(time.Millisecond),
		MessagesReceived:         stats.MessagesReceived,
		MessagesSent:             stats.MessagesSent,
		MalformedMessages:        stats.MalformedMessages,
		OutOfOrderSnapshots:      stats.OutOfOrderSnapshots,
		StaleAcknowledgments:     stats.StaleAcknowledgments,
		UnknownEntityUpdates:     stats.UnknownEntityUpdates,
		PendingInputs:            stats.PendingInputs,
		RemoteEntities:           stats.RemoteEntities,
		Projectiles:              stats.Projectiles,
		CorrectionMeters:         stats.LastCorrection,
	})
	if err != nil && !errors.Is(err, recorder.ErrQueueFull) {
		s.logger.Printf("[netsync] record stats: %v", err)
	}
}

package app

import (
	"context"
	"fmt"
	"time"

	"arena/netsync/internal/netsync"
	"arena/netsync/internal/telemetry"
	"arena/netsync/logging"
)

type client interface {
	Connect(ctx context.Context, address, identity string) error
}

// supervisor runs inside the synchronizer loop via OnFrame. It reconnects
// after the session drops and logs connection quality periodically.
type supervisor struct {
	ctx      context.Context
	sync     client
	address  string
	identity string
	logger   telemetry.Logger
	clock    logging.Clock

	delay     time.Duration
	retryAt   time.Time
	lastState netsync.State
	lastStats time.Time
}

func (s *supervisor) onFrame(frame netsync.Frame) {
	if frame.State == netsync.StateActive && s.lastState != netsync.StateActive {
		s.delay = minReconnectDelay
	}
	if frame.State == netsync.StateDisconnected && s.lastState != netsync.StateDisconnected {
		s.scheduleRetry(frame.Now, "session lost")
	}
	s.lastState = frame.State

	if frame.State == netsync.StateDisconnected && !frame.Now.Before(s.retryAt) {
		s.connect(frame.Now)
	}

	if frame.State == netsync.StateActive && frame.Now.Sub(s.lastStats) >= statsInterval {
		s.lastStats = frame.Now
		s.logger.Printf("network: %s", formatStats(frame.Stats))
	}
}

func (s *supervisor) connect(now time.Time) {
	if s.ctx.Err() != nil {
		return
	}
	if err := s.sync.Connect(s.ctx, s.address, s.identity); err != nil {
		s.scheduleRetry(now, err.Error())
		return
	}
	s.lastState = netsync.StateSyncing
	s.logger.Printf("connected to %s, waiting for initial state", s.address)
}

func (s *supervisor) scheduleRetry(now time.Time, reason string) {
	if s.delay <= 0 {
		s.delay = minReconnectDelay
	}
	s.retryAt = now.Add(s.delay)
	s.logger.Printf("reconnecting in %s: %s", s.delay, reason)
	s.delay *= 2
	if s.delay > maxReconnectDelay {
		s.delay = maxReconnectDelay
	}
}

func formatStats(stats netsync.NetworkStats) string {
	return fmt.Sprintf(
		"state=%s ping=%s jitter=%s delay=%s remotes=%d projectiles=%d pending=%d ack=%d correction=%.3fm recv=%d sent=%d malformed=%d out_of_order=%d stale_acks=%d faults=%d",
		stats.State,
		stats.AveragePing,
		stats.Jitter,
		stats.InterpolationDelay,
		stats.RemoteEntities,
		stats.Projectiles,
		stats.PendingInputs,
		stats.LastAcknowledged,
		stats.LastCorrection,
		stats.MessagesReceived,
		stats.MessagesSent,
		stats.MalformedMessages,
		stats.OutOfOrderSnapshots,
		stats.StaleAcknowledgments,
		stats.Faults,
	)
}

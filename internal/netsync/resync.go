package netsync

import (
	"context"
	"fmt"
	"time"

	"arena/netsync/internal/net/proto"
	"arena/netsync/internal/telemetry"
	"arena/netsync/logging/network"
)

type resyncSignal struct {
	UnknownUpdates uint64
	TotalUpdates   uint64
	Entities       []string
}

// resyncPolicy watches for updates addressed to entities the client never saw
// join. A few are expected around joins; a sustained ratio means the client
// missed a lifecycle message and needs a fresh initial state.
type resyncPolicy struct {
	totalUpdates   uint64
	unknownUpdates uint64
	pending        bool
	requestedAt    time.Time
	entities       []string
}

const (
	unknownUpdateThresholdPerTenThousand = 100
	minUnknownUpdates                    = 3
	resyncEntityLimit                    = 8
	resyncRetryInterval                  = 5 * time.Second
)

func newResyncPolicy() *resyncPolicy {
	return &resyncPolicy{entities: make([]string, 0, resyncEntityLimit)}
}

func (p *resyncPolicy) noteUpdate() {
	if p == nil {
		return
	}
	if p.totalUpdates == ^uint64(0) {
		p.totalUpdates = p.totalUpdates / 2
		p.unknownUpdates = p.unknownUpdates / 2
	}
	p.totalUpdates++
}

func (p *resyncPolicy) noteUnknown(entityID string, now time.Time) {
	if p == nil {
		return
	}
	p.unknownUpdates++
	if len(p.entities) < resyncEntityLimit && !contains(p.entities, entityID) {
		p.entities = append(p.entities, entityID)
	}
	p.evaluate(now)
}

func (p *resyncPolicy) evaluate(now time.Time) {
	if p == nil || p.pending || p.unknownUpdates < minUnknownUpdates {
		return
	}
	if !p.requestedAt.IsZero() && now.Sub(p.requestedAt) < resyncRetryInterval {
		return
	}
	total := p.totalUpdates
	if total == 0 {
		total = 1
	}
	if p.unknownUpdates*10000 >= total*unknownUpdateThresholdPerTenThousand {
		p.pending = true
	}
}

func (p *resyncPolicy) consume(now time.Time) (resyncSignal, bool) {
	if p == nil || !p.pending {
		return resyncSignal{}, false
	}
	signal := resyncSignal{
		UnknownUpdates: p.unknownUpdates,
		TotalUpdates:   p.totalUpdates,
		Entities:       append([]string(nil), p.entities...),
	}
	p.pending = false
	p.requestedAt = now
	p.totalUpdates = 0
	p.unknownUpdates = 0
	p.entities = p.entities[:0]
	return signal, true
}

// reset forgets all history, including an outstanding request.
func (p *resyncPolicy) reset() {
	if p == nil {
		return
	}
	p.totalUpdates = 0
	p.unknownUpdates = 0
	p.pending = false
	p.requestedAt = time.Time{}
	p.entities = p.entities[:0]
}

func (s resyncSignal) summary() string {
	if s.UnknownUpdates == 0 && s.TotalUpdates == 0 {
		return ""
	}
	return fmt.Sprintf("unknown_updates=%d total_updates=%d entities=%v", s.UnknownUpdates, s.TotalUpdates, s.Entities)
}

func (s *Synchronizer) maybeRequestResync(now time.Time) {
	signal, ok := s.resync.consume(now)
	if !ok {
		return
	}
	var lastAck uint64
	if s.engine != nil {
		lastAck, _ = s.engine.LastAcknowledged()
	}
	reason := signal.summary()
	s.counters.resyncRequests++
	s.metrics.Add(telemetry.KeyResyncRequests, 1)
	network.ResyncRequested(context.Background(), s.publisher, s.tick, network.ResyncPayload{
		Reason:         reason,
		UnknownUpdates: signal.UnknownUpdates,
		TotalUpdates:   signal.TotalUpdates,
	}, nil)
	if err := s.send(proto.ResyncRequest{Reason: reason, LastAck: lastAck}); err != nil {
		s.logger.Printf("[netsync] resync request failed: %v", err)
	}
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

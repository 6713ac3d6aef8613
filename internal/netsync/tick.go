package netsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arena/netsync/internal/interp"
	"arena/netsync/internal/ledger"
	"arena/netsync/internal/recorder"
	"arena/netsync/internal/state"
	"arena/netsync/internal/telemetry"
	"arena/netsync/logging/network"
	"arena/netsync/logging/simulation"
)

// RemoteView pairs a remote entity's authoritative state with its render
// transform for the tick.
type RemoteView struct {
	Entity   state.RemoteEntity
	Render   interp.RenderState
	Rendered bool
}

// Frame is the consolidated result of one tick. Everything in it reflects the
// same logical instant.
type Frame struct {
	Tick        uint64
	Now         time.Time
	Delta       time.Duration
	State       State
	Local       state.LocalEntityState
	HasLocal    bool
	Remotes     []RemoteView
	Projectiles []state.ProjectileState
	Match       state.MatchState
	HasMatch    bool
	Consumed    []ledger.Event
	Live        []ledger.Event
	Stats       NetworkStats
	Duration    time.Duration
	Budget      time.Duration
}

// Tick advances the synchronizer to now. While active it interpolates remote
// entities, integrates projectiles, drains the event ledger, evicts stale
// snapshots and refreshes statistics, in that order. Each step is isolated:
// a panic is logged and counted and the remaining steps still run.
func (s *Synchronizer) Tick(now time.Time) Frame {
	start := s.clock.Now()
	s.tick++
	frame := Frame{
		Tick:   s.tick,
		Now:    now,
		Delta:  s.advanceClock(now),
		Budget: s.budget,
	}

	if s.state == StateSyncing {
		s.checkInitialStateTimeout(now)
	}
	if s.state == StateActive {
		s.step("interpolate", func() { s.interpolate(now) })
		s.step("projectiles", func() { s.advanceProjectiles(frame.Delta) })
		s.step("ledger", func() { frame.Consumed, frame.Live = s.drainLedger(now) })
		s.step("evict", func() { s.buffers.EvictAllOlderThan(now.Add(-s.cfg.BufferRetention)) })
	}
	s.step("stats", func() { s.refreshStats(now) })

	s.fillFrame(&frame)
	frame.Duration = s.clock.Now().Sub(start)
	s.checkBudget(frame)
	s.lastFrame = frame
	return frame
}

// advanceClock returns the integration step since the previous tick. A
// non-positive step falls back to the nominal budget and stalls are clamped.
func (s *Synchronizer) advanceClock(now time.Time) time.Duration {
	delta := s.budget
	if !s.lastTick.IsZero() {
		delta = now.Sub(s.lastTick)
		if delta <= 0 {
			delta = s.budget
		} else if delta > maxTickDelta {
			delta = maxTickDelta
		}
	}
	s.lastTick = now
	return delta
}

func (s *Synchronizer) checkInitialStateTimeout(now time.Time) {
	waited := now.Sub(s.syncStarted)
	if waited <= s.cfg.InitialStateTimeout {
		return
	}
	network.InitialStateTimeout(context.Background(), s.publisher, s.tick, network.TimeoutPayload{
		WaitedMillis: waited.Milliseconds(),
	}, nil)
	s.logger.Printf("[netsync] no initial state after %s, dropping session", waited)
	if err := s.transport.Disconnect(); err != nil {
		s.logger.Printf("[netsync] disconnect after initial state timeout: %v", err)
	}
	s.conn = 0
	s.resetRemote("initial state timeout")
	s.setState(StateDisconnected, "initial state timeout")
}

func (s *Synchronizer) interpolate(now time.Time) {
	s.renders = s.interp.RenderAll(s.remoteIDs(), now)
}

func (s *Synchronizer) advanceProjectiles(delta time.Duration) {
	result := s.projectiles.Advance(delta)
	if n := len(result.Expired); n > 0 {
		s.counters.expiredProjectiles += uint64(n)
		s.metrics.Add(telemetry.KeyExpiredProjectiles, uint64(n))
	}
}

func (s *Synchronizer) drainLedger(now time.Time) ([]ledger.Event, []ledger.Event) {
	result := s.ledger.Drain(now)
	if n := len(result.Consumed); n > 0 {
		s.counters.consumedEvents += uint64(n)
		s.metrics.Add(telemetry.KeyConsumedEvents, uint64(n))
	}
	if result.Expired > 0 {
		s.counters.expiredEvents += uint64(result.Expired)
		s.metrics.Add(telemetry.KeyExpiredEvents, uint64(result.Expired))
	}
	for _, event := range result.Consumed {
		err := s.recorder.RecordEvent(context.Background(), recorder.EventRecord{
			Identity:   s.cfg.Identity,
			Kind:       string(event.Kind),
			Timestamp:  event.Timestamp,
			ServerTime: event.ServerTime,
			Payload:    event.Payload,
		})
		if err != nil && !errors.Is(err, recorder.ErrQueueFull) {
			s.logger.Printf("[netsync] record %s event: %v", event.Kind, err)
		}
	}
	return result.Consumed, result.Live
}

func (s *Synchronizer) fillFrame(frame *Frame) {
	frame.State = s.state
	if s.engine != nil {
		frame.Local = s.engine.CurrentState()
		frame.HasLocal = true
	}
	frame.Remotes = s.RemoteEntities()
	frame.Projectiles = s.projectiles.All()
	frame.Match = s.match.Clone()
	frame.HasMatch = s.hasMatch
	frame.Stats = s.stats
}

func (s *Synchronizer) checkBudget(frame Frame) {
	if frame.Budget <= 0 || frame.Duration <= frame.Budget {
		s.overruns = 0
		return
	}
	s.overruns++
	simulation.TickBudgetOverrun(context.Background(), s.publisher, frame.Tick, simulation.TickBudgetOverrunPayload{
		DurationMillis: frame.Duration.Milliseconds(),
		BudgetMillis:   frame.Budget.Milliseconds(),
		Ratio:          float64(frame.Duration) / float64(frame.Budget),
		Streak:         s.overruns,
	}, nil)
}

func (s *Synchronizer) step(name string, fn func()) {
	defer s.recoverFault(name)
	fn()
}

func (s *Synchronizer) recoverFault(step string) {
	r := recover()
	if r == nil {
		return
	}
	s.counters.faults++
	s.metrics.Add(telemetry.KeyStepPanics, 1)
	simulation.StepPanic(context.Background(), s.publisher, s.tick, simulation.StepPanicPayload{
		Step:  step,
		Panic: fmt.Sprint(r),
	}, nil)
	s.logger.Printf("[netsync] recovered panic in %s: %v", step, r)
}

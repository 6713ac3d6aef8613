package netsync

import (
	"context"
	"time"

	"arena/netsync/internal/interp"
	"arena/netsync/internal/ledger"
	"arena/netsync/internal/net/proto"
	"arena/netsync/internal/projectile"
	"arena/netsync/internal/state"
	"arena/netsync/internal/telemetry"
	"arena/netsync/internal/vmath"
	"arena/netsync/logging/combat"
	"arena/netsync/logging/lifecycle"
	"arena/netsync/logging/network"
)

// HandleMessage decodes and applies one inbound frame stamped with the
// current clock. Malformed frames and handler panics are logged, counted and
// dropped.
func (s *Synchronizer) HandleMessage(frame []byte) {
	s.handleFrame(frame, s.clock.Now())
}

func (s *Synchronizer) handleFrame(frame []byte, arrival time.Time) {
	defer s.recoverFault("message")

	s.counters.received++
	s.counters.bytesReceived += uint64(len(frame))
	s.metrics.Add(telemetry.KeyMessagesReceived, 1)
	s.metrics.Add(telemetry.KeyBytesReceived, uint64(len(frame)))

	msg, err := proto.Decode(s.codec, frame)
	if err != nil {
		s.counters.malformed++
		s.metrics.Add(telemetry.KeyMalformedMessages, 1)
		network.MalformedMessage(context.Background(), s.publisher, s.tick, network.MalformedPayload{
			Error: err.Error(),
			Bytes: len(frame),
		}, nil)
		return
	}
	if !s.accepts(msg) {
		s.counters.dropped++
		s.metrics.Add(telemetry.KeyDroppedMessages, 1)
		return
	}
	s.dispatch(msg, arrival)
}

// accepts gates messages on the lifecycle phase. Until the initial state
// arrives only the snapshot itself and round-trip probes are meaningful.
func (s *Synchronizer) accepts(msg proto.Message) bool {
	switch s.state {
	case StateActive:
		return true
	case StateSyncing:
		switch msg.MessageType() {
		case proto.TypeInitialState, proto.TypePing, proto.TypePong:
			return true
		}
	}
	return false
}

func (s *Synchronizer) dispatch(msg proto.Message, arrival time.Time) {
	switch m := msg.(type) {
	case proto.InitialState:
		s.onInitialState(m, arrival)
	case proto.EntityJoined:
		s.onEntityJoined(m, arrival)
	case proto.EntityLeft:
		s.onEntityLeft(m)
	case proto.EntityUpdate:
		s.onEntityUpdate(m, arrival)
	case proto.WeaponFired:
		s.onWeaponFired(m, arrival)
	case proto.GrenadeThrown:
		s.onGrenadeThrown(m, arrival)
	case proto.EntityHit:
		s.onEntityHit(m, arrival)
	case proto.EntityKilled:
		s.onEntityKilled(m, arrival)
	case proto.MatchStateUpdate:
		s.match = matchFromPayload(m.MatchPayload)
		s.hasMatch = true
	case proto.ReconciliationAck:
		s.onReconciliationAck(m, arrival)
	case proto.Ping:
		if err := s.send(proto.Pong{ClientTime: m.ClientTime, ServerTime: arrival.UnixMilli()}); err != nil {
			s.logger.Printf("[netsync] pong failed: %v", err)
		}
	case proto.Pong:
		s.onPong(m, arrival)
	case proto.ProjectileRemoved:
		s.projectiles.Remove(m.ProjectileID)
	case proto.ObjectiveCaptured:
		s.ledger.Record(ledger.Event{
			Kind:       ledger.KindObjectiveCaptured,
			Timestamp:  arrival,
			ServerTime: serverStamp(m.Timestamp),
			Position:   m.Position,
			Payload: ledger.ObjectivePayload{
				ObjectiveID: m.ObjectiveID,
				Team:        m.Team,
				CapturedBy:  m.CapturedBy,
			},
		})
	case proto.EntityStateChange:
		s.onEntityStateChange(m, arrival)
	default:
		s.logger.Printf("[netsync] no handler for %s", msg.MessageType())
	}
}

func (s *Synchronizer) onInitialState(m proto.InitialState, arrival time.Time) {
	resync := s.state == StateActive

	s.remotes = make(map[string]*state.RemoteEntity, len(m.Entities))
	s.renders = make(map[string]interp.RenderState)
	s.buffers.Clear()
	s.resync.reset()
	if m.ServerTime > 0 {
		s.clockOffset = arrival.Sub(time.UnixMilli(m.ServerTime))
		s.hasOffset = true
	}

	var local state.EntityState
	for _, payload := range m.Entities {
		entity := entityFromPayload(payload, arrival)
		if payload.ID == m.LocalEntityID {
			local = entity
			continue
		}
		s.remotes[entity.ID] = &state.RemoteEntity{EntityState: entity}
		s.buffers.Push(entity.ID, state.Snapshot{Transform: entity.Transform, Timestamp: arrival})
	}

	s.localID = m.LocalEntityID
	s.seedLocal(local, m.Ack, resync)
	if m.Match != nil {
		s.match = matchFromPayload(*m.Match)
		s.hasMatch = true
	}

	if s.state == StateSyncing {
		s.setState(StateActive, "initial state received")
	}
	s.logger.Printf("[netsync] initial state: local=%s remotes=%d resync=%t", s.localID, len(s.remotes), resync)
}

// seedLocal installs the local entity from a full snapshot. The first snapshot
// creates the prediction engine; later ones rebase it so sequence numbers keep
// advancing across reconnects and resyncs.
func (s *Synchronizer) seedLocal(local state.EntityState, ack *uint64, resync bool) {
	if s.engine == nil {
		s.engine = s.newEngine(state.LocalEntityState{EntityState: local})
		return
	}
	if s.engine.CurrentState().ID != local.ID {
		s.engine.Reset(state.LocalEntityState{EntityState: local})
		return
	}
	if ack != nil {
		s.reconcile(local, *ack)
		return
	}
	if last, ok := s.engine.LastAcknowledged(); ok && resync {
		s.reconcile(local, last)
		return
	}
	s.engine.Reset(state.LocalEntityState{EntityState: local})
}

func (s *Synchronizer) onEntityJoined(m proto.EntityJoined, arrival time.Time) {
	if m.Entity.ID == s.localID {
		return
	}
	entity := entityFromPayload(m.Entity, arrival)
	s.buffers.Remove(entity.ID)
	delete(s.renders, entity.ID)
	s.remotes[entity.ID] = &state.RemoteEntity{EntityState: entity}
	s.buffers.Push(entity.ID, state.Snapshot{
		Transform: entity.Transform,
		Timestamp: s.localTime(m.Timestamp, arrival),
	})
	lifecycle.EntityJoined(context.Background(), s.publisher, s.tick, s.entityRef(entity.ID), lifecycle.EntityJoinedPayload{
		Team:   entity.Team,
		SpawnX: entity.Transform.Position.X,
		SpawnY: entity.Transform.Position.Y,
		SpawnZ: entity.Transform.Position.Z,
	}, nil)
}

func (s *Synchronizer) onEntityLeft(m proto.EntityLeft) {
	if _, ok := s.remotes[m.EntityID]; !ok {
		return
	}
	delete(s.remotes, m.EntityID)
	delete(s.renders, m.EntityID)
	s.buffers.Remove(m.EntityID)
	lifecycle.EntityLeft(context.Background(), s.publisher, s.tick, s.entityRef(m.EntityID), lifecycle.EntityLeftPayload{
		Reason: m.Reason,
	}, nil)
}

func (s *Synchronizer) onEntityUpdate(m proto.EntityUpdate, arrival time.Time) {
	if m.EntityID == s.localID {
		s.onLocalUpdate(m, arrival)
		return
	}
	s.resync.noteUpdate()
	remote, ok := s.remotes[m.EntityID]
	if !ok {
		s.counters.unknownUpdates++
		s.metrics.Add(telemetry.KeyUnknownEntities, 1)
		s.resync.noteUnknown(m.EntityID, arrival)
		s.maybeRequestResync(arrival)
		return
	}
	transform := mergeTransform(remote.Transform, m).Normalized()
	snapshot := state.Snapshot{Transform: transform, Timestamp: s.localTime(m.Timestamp, arrival)}
	if !s.buffers.Push(m.EntityID, snapshot) {
		s.counters.outOfOrder++
		s.metrics.Add(telemetry.KeyOutOfOrder, 1)
		return
	}
	remote.Transform = transform
	applyVitals(&remote.EntityState, m)
	remote.LastUpdate = arrival
}

// onLocalUpdate treats a sequenced authoritative update of the local entity
// as a reconciliation point. An update without a sequence may already include
// inputs past the last ack, so its transform is ignored and only vitals apply.
func (s *Synchronizer) onLocalUpdate(m proto.EntityUpdate, arrival time.Time) {
	if s.engine == nil {
		return
	}
	if m.Sequence == nil {
		s.engine.MutateVitals(func(e *state.EntityState) {
			applyVitals(e, m)
		})
		return
	}
	auth := s.engine.CurrentState().EntityState
	auth.Transform = mergeTransform(auth.Transform, m)
	applyVitals(&auth, m)
	auth.LastUpdate = arrival
	s.reconcile(auth, *m.Sequence)
}

func (s *Synchronizer) onReconciliationAck(m proto.ReconciliationAck, arrival time.Time) {
	if s.engine == nil {
		return
	}
	ack := *m.Sequence
	if m.State != nil {
		auth := entityFromPayload(*m.State, arrival)
		if auth.ID == "" {
			auth.ID = s.localID
		}
		s.reconcile(auth, ack)
		return
	}
	prev, _ := s.engine.LastAcknowledged()
	if !s.engine.Acknowledge(ack) {
		s.noteStaleAck(prev, ack)
		return
	}
	if ack > prev {
		network.AckAdvanced(context.Background(), s.publisher, s.tick, s.entityRef(s.localID), network.AckPayload{
			Previous: prev,
			Ack:      ack,
		}, nil)
	}
}

// reconcile rebases the local entity on auth and reports the outcome.
func (s *Synchronizer) reconcile(auth state.EntityState, ack uint64) {
	prev, _ := s.engine.LastAcknowledged()
	result, ok := s.engine.OnServerState(auth, ack)
	if !ok {
		s.noteStaleAck(prev, ack)
		return
	}
	s.metrics.Add(telemetry.KeyReconciliations, 1)
	s.metrics.Store(telemetry.KeyCorrectionMillimeters, uint64(result.Correction*1000))
	if ack > prev || result.Correction > 0 {
		network.AckAdvanced(context.Background(), s.publisher, s.tick, s.entityRef(s.localID), network.AckPayload{
			Previous:   prev,
			Ack:        ack,
			Replayed:   result.Replayed,
			Correction: result.Correction,
		}, nil)
	}
}

func (s *Synchronizer) noteStaleAck(prev, ack uint64) {
	s.metrics.Add(telemetry.KeyStaleAcks, 1)
	network.AckRegression(context.Background(), s.publisher, s.tick, s.entityRef(s.localID), network.AckPayload{
		Previous: prev,
		Ack:      ack,
	}, nil)
}

func (s *Synchronizer) onWeaponFired(m proto.WeaponFired, arrival time.Time) {
	spawned := s.spawnRemote(projectile.Spawn{
		ID:         m.ProjectileID,
		OwnerID:    m.ShooterID,
		WeaponType: m.WeaponType,
		Origin:     m.Origin,
		Direction:  m.Direction,
	})
	origin := m.Origin
	s.ledger.Record(ledger.Event{
		Kind:       ledger.KindWeaponFired,
		Timestamp:  arrival,
		ServerTime: serverStamp(m.Timestamp),
		Position:   &origin,
		Payload: ledger.ShotPayload{
			ShooterID:    m.ShooterID,
			WeaponType:   m.WeaponType,
			ProjectileID: spawned.ID,
		},
	})
}

// spawnRemote spawns a server-announced projectile. The echo of a shot this
// client already predicted keeps the local tracer where it has travelled to.
func (s *Synchronizer) spawnRemote(spawn projectile.Spawn) state.ProjectileState {
	if spawn.ID != "" && spawn.OwnerID == s.localID {
		if existing, ok := s.projectiles.Get(spawn.ID); ok {
			return existing
		}
	}
	return s.projectiles.Spawn(spawn)
}

func (s *Synchronizer) onGrenadeThrown(m proto.GrenadeThrown, arrival time.Time) {
	spawn := projectile.Spawn{
		ID:         m.ProjectileID,
		OwnerID:    m.ThrowerID,
		WeaponType: m.GrenadeType,
		Grenade:    true,
		Origin:     m.Origin,
		Velocity:   m.Velocity,
	}
	if m.FuseMs > 0 {
		spawn.Lifetime = time.Duration(m.FuseMs) * time.Millisecond
	}
	spawned := s.spawnRemote(spawn)
	origin := m.Origin
	s.ledger.Record(ledger.Event{
		Kind:       ledger.KindGrenadeThrown,
		Timestamp:  arrival,
		ServerTime: serverStamp(m.Timestamp),
		Position:   &origin,
		Payload: ledger.ShotPayload{
			ShooterID:    m.ThrowerID,
			WeaponType:   m.GrenadeType,
			ProjectileID: spawned.ID,
		},
	})
}

// onEntityHit applies damage on arrival rather than on the next tick so a
// dead entity is never presented alive.
func (s *Synchronizer) onEntityHit(m proto.EntityHit, arrival time.Time) {
	health, _ := s.mutateEntity(m.TargetID, func(e *state.EntityState) {
		e.ApplyDamage(m.Damage)
	})
	s.ledger.Record(ledger.Event{
		Kind:       ledger.KindHit,
		Timestamp:  arrival,
		ServerTime: serverStamp(m.Timestamp),
		Position:   m.Position,
		Payload: ledger.HitPayload{
			AttackerID: m.AttackerID,
			TargetID:   m.TargetID,
			Damage:     m.Damage,
			Headshot:   m.Headshot,
			Weapon:     m.Weapon,
		},
	})
	combat.Hit(context.Background(), s.publisher, s.tick, s.entityRef(m.AttackerID), s.entityRef(m.TargetID), combat.HitPayload{
		Weapon:       m.Weapon,
		Amount:       m.Damage,
		TargetHealth: health,
		Headshot:     m.Headshot,
	}, nil)
}

func (s *Synchronizer) onEntityKilled(m proto.EntityKilled, arrival time.Time) {
	s.mutateEntity(m.VictimID, func(e *state.EntityState) {
		e.Kill()
	})
	s.ledger.Record(ledger.Event{
		Kind:       ledger.KindKill,
		Timestamp:  arrival,
		ServerTime: serverStamp(m.Timestamp),
		Position:   m.Position,
		Payload: ledger.KillPayload{
			KillerID: m.KillerID,
			VictimID: m.VictimID,
			Weapon:   m.Weapon,
			Headshot: m.Headshot,
		},
	})
	combat.Kill(context.Background(), s.publisher, s.tick, s.entityRef(m.KillerID), s.entityRef(m.VictimID), combat.KillPayload{
		Weapon:   m.Weapon,
		Headshot: m.Headshot,
	}, nil)
}

func (s *Synchronizer) onEntityStateChange(m proto.EntityStateChange, arrival time.Time) {
	s.mutateEntity(m.EntityID, func(e *state.EntityState) {
		e.AnimationState = m.To
	})
	s.ledger.Record(ledger.Event{
		Kind:       ledger.KindStateChange,
		Timestamp:  arrival,
		ServerTime: serverStamp(m.Timestamp),
		Payload: ledger.StateChangePayload{
			EntityID: m.EntityID,
			From:     m.From,
			To:       m.To,
		},
	})
}

func (s *Synchronizer) onPong(m proto.Pong, arrival time.Time) {
	rtt := arrival.Sub(time.UnixMilli(m.ClientTime))
	if !s.monitor.RecordPing(rtt) {
		return
	}
	if m.ServerTime <= 0 {
		return
	}
	// The offset keeps the one-way transit so mapped snapshot stamps stay in
	// the arrival domain the interpolation delay is measured against.
	estimate := arrival.Sub(time.UnixMilli(m.ServerTime))
	if !s.hasOffset {
		s.clockOffset = estimate
		s.hasOffset = true
		return
	}
	s.clockOffset += (estimate - s.clockOffset) / 8
}

// mutateEntity applies fn to the local or remote entity with id and reports
// its resulting health.
func (s *Synchronizer) mutateEntity(id string, fn func(*state.EntityState)) (float64, bool) {
	if id != "" && id == s.localID && s.engine != nil {
		s.engine.MutateVitals(fn)
		return s.engine.CurrentState().Health, true
	}
	remote, ok := s.remotes[id]
	if !ok {
		return 0, false
	}
	fn(&remote.EntityState)
	return remote.Health, true
}

func entityFromPayload(p proto.EntityPayload, now time.Time) state.EntityState {
	return state.EntityState{
		ID:   p.ID,
		Team: p.Team,
		Transform: state.Transform{
			Position:    p.Position,
			Orientation: p.Rotation,
			Velocity:    p.Velocity,
		}.Normalized(),
		Health:         p.Health,
		Armor:          p.Armor,
		Alive:          p.IsAlive(),
		Weapon:         p.Weapon,
		Ammo:           p.Ammo,
		ReserveAmmo:    p.ReserveAmmo,
		AnimationState: p.AnimationState,
		LastUpdate:     now,
	}
}

func matchFromPayload(p proto.MatchPayload) state.MatchState {
	status, _ := state.ParseMatchStatus(p.Status)
	match := state.MatchState{
		Mode:          p.Mode,
		TimeRemaining: time.Duration(p.TimeRemainingMs) * time.Millisecond,
		Round:         p.Round,
		Status:        status,
		Winner:        p.Winner,
	}
	if p.Score != nil {
		match.Score = make(map[string]int, len(p.Score))
		for team, score := range p.Score {
			match.Score[team] = score
		}
	}
	return match
}

// mergeTransform overlays the fields present in an update on base.
func mergeTransform(base state.Transform, m proto.EntityUpdate) state.Transform {
	base.Position = *m.Position
	if m.Rotation != nil {
		base.Orientation = *m.Rotation
	}
	if m.Velocity != nil {
		base.Velocity = *m.Velocity
	} else {
		base.Velocity = vmath.Vec3{}
	}
	return base
}

func applyVitals(e *state.EntityState, m proto.EntityUpdate) {
	if m.Health != nil {
		e.Health = *m.Health
	}
	if m.Armor != nil {
		e.Armor = *m.Armor
	}
	if m.Alive != nil {
		e.Alive = *m.Alive
	}
	if m.Weapon != nil {
		e.Weapon = *m.Weapon
	}
	if m.Ammo != nil {
		e.Ammo = *m.Ammo
	}
	if m.ReserveAmmo != nil {
		e.ReserveAmmo = *m.ReserveAmmo
	}
	if m.AnimationState != nil {
		e.AnimationState = *m.AnimationState
	}
}

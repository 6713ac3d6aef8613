package netsync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"arena/netsync/internal/interp"
	"arena/netsync/internal/latency"
	"arena/netsync/internal/ledger"
	"arena/netsync/internal/net/proto"
	"arena/netsync/internal/net/transport"
	"arena/netsync/internal/state"
	"arena/netsync/internal/telemetry"
	"arena/netsync/internal/vmath"
	"arena/netsync/logging"
	"arena/netsync/logging/network"
	"arena/netsync/logging/simulation"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNewRequiresTransport(t *testing.T) {
	if _, err := New(DefaultConfig(), Deps{}); err == nil {
		t.Fatalf("expected error without transport")
	}
}

func TestConnectLifecycle(t *testing.T) {
	h := newHarness(t)
	if h.sync.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", h.sync.State())
	}
	h.connect()
	if h.sync.State() != StateSyncing {
		t.Fatalf("expected syncing after handshake, got %s", h.sync.State())
	}
	h.deliver(h.initialState(entity("r1", 5)))
	if h.sync.State() != StateActive {
		t.Fatalf("expected active after initial state, got %s", h.sync.State())
	}

	var transitions []string
	for _, event := range h.events.OfType(network.EventConnectionState) {
		payload := event.Payload.(network.ConnectionStatePayload)
		transitions = append(transitions, payload.From+">"+payload.To)
	}
	want := []string{"disconnected>connecting", "connecting>syncing", "syncing>active"}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Fatalf("expected transitions %v, got %v", want, transitions)
	}

	if err := h.sync.Connect(context.Background(), "ws://arena.test/ws", ""); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestConnectFailureReturnsToDisconnected(t *testing.T) {
	h := newHarness(t)
	h.transport.connectErr = fmt.Errorf("%w: ws://arena.test after 10s", transport.ErrConnectionTimeout)

	err := h.sync.Connect(context.Background(), "ws://arena.test/ws", "tester")
	if !errors.Is(err, transport.ErrConnectionTimeout) {
		t.Fatalf("expected connection timeout, got %v", err)
	}
	if h.sync.State() != StateDisconnected {
		t.Fatalf("expected disconnected after failure, got %s", h.sync.State())
	}
	if h.transport.connects != 1 {
		t.Fatalf("expected no automatic retry, got %d attempts", h.transport.connects)
	}

	h.transport.connectErr = nil
	h.connect()
	if h.sync.State() != StateSyncing {
		t.Fatalf("expected caller retry to succeed, got %s", h.sync.State())
	}
}

func TestInitialStateTimeoutFailsSession(t *testing.T) {
	h := newHarness(t)
	h.connect()

	h.sync.Tick(t0.Add(5 * time.Second))
	if h.sync.State() != StateSyncing {
		t.Fatalf("expected to keep waiting before the timeout, got %s", h.sync.State())
	}

	frame := h.sync.Tick(t0.Add(DefaultInitialStateTimeout + time.Millisecond))
	if frame.State != StateDisconnected {
		t.Fatalf("expected disconnected after timeout, got %s", frame.State)
	}
	if h.transport.disconnects != 1 {
		t.Fatalf("expected transport to be closed once, got %d", h.transport.disconnects)
	}
	if got := len(h.events.OfType(network.EventInitialStateTimeout)); got != 1 {
		t.Fatalf("expected one timeout event, got %d", got)
	}
}

func TestMessagesBeforeInitialStateAreDropped(t *testing.T) {
	h := newHarness(t)
	h.deliver(proto.EntityJoined{Entity: entity("r1", 0)})
	h.connect()
	h.deliver(proto.EntityJoined{Entity: entity("r2", 0)})

	if _, err := h.sync.ApplyInput(state.Input{Forward: 1, DT: 0.016}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before initial state, got %v", err)
	}
	frame := h.sync.Tick(t0)
	if len(frame.Remotes) != 0 {
		t.Fatalf("expected no remotes before initial state, got %d", len(frame.Remotes))
	}
	if frame.Stats.DroppedMessages != 2 {
		t.Fatalf("expected 2 dropped messages, got %d", frame.Stats.DroppedMessages)
	}
}

func TestInitialStateSeedsEntitiesAndMatch(t *testing.T) {
	h := newHarness(t)
	h.connect()
	msg := h.initialState(entity("r1", 3), entity("r2", -3))
	msg.Match = &proto.MatchPayload{Mode: "tdm", TimeRemainingMs: 90_000, Score: map[string]int{"red": 2}, Status: "in_progress"}
	h.deliver(msg)

	local, ok := h.sync.LocalState()
	if !ok || local.ID != localID || local.Health != 100 {
		t.Fatalf("unexpected local state %+v (ok=%t)", local, ok)
	}
	if h.sync.LocalEntityID() != localID {
		t.Fatalf("expected local id %q, got %q", localID, h.sync.LocalEntityID())
	}
	remotes := h.sync.RemoteEntities()
	if len(remotes) != 2 || remotes[0].Entity.ID != "r1" || remotes[1].Entity.ID != "r2" {
		t.Fatalf("expected remotes r1 and r2 in order, got %+v", remotes)
	}
	match, ok := h.sync.MatchState()
	if !ok || match.Status != state.MatchInProgress || match.TimeRemaining != 90*time.Second || match.Score["red"] != 2 {
		t.Fatalf("unexpected match %+v (ok=%t)", match, ok)
	}

	h.deliver(proto.MatchStateUpdate{MatchPayload: proto.MatchPayload{Mode: "tdm", Status: "finished", Winner: "red"}})
	match, _ = h.sync.MatchState()
	if match.Status != state.MatchFinished || match.Winner != "red" || match.Score != nil {
		t.Fatalf("expected match to be replaced wholesale, got %+v", match)
	}
}

func TestRemoteEntityInterpolatesBetweenSnapshots(t *testing.T) {
	h := newHarness(t)
	h.activate(entity("r1", 0))
	h.deliver(proto.EntityUpdate{EntityID: "r1", Position: &vmath.Vec3{X: 1}, Timestamp: ms(t0, 100)})
	h.deliver(proto.EntityUpdate{EntityID: "r1", Position: &vmath.Vec3{X: 2}, Timestamp: ms(t0, 200)})

	frame := h.sync.Tick(t0.Add(250 * time.Millisecond))
	if len(frame.Remotes) != 1 || !frame.Remotes[0].Rendered {
		t.Fatalf("expected one rendered remote, got %+v", frame.Remotes)
	}
	render := frame.Remotes[0].Render
	if render.Mode != interp.ModeInterpolated {
		t.Fatalf("expected interpolated render, got %s", render.Mode)
	}
	if !approx(render.Transform.Position.X, 1.5) {
		t.Fatalf("expected x=1.5 at render time now-100ms, got %.4f", render.Transform.Position.X)
	}
	if frame.Remotes[0].Entity.Transform.Position.X != 2 {
		t.Fatalf("expected authoritative transform untouched by rendering, got %.2f", frame.Remotes[0].Entity.Transform.Position.X)
	}
}

func TestOutOfOrderUpdateIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.activate(entity("r1", 0))
	h.deliver(proto.EntityUpdate{EntityID: "r1", Position: &vmath.Vec3{X: 2}, Timestamp: ms(t0, 200), Health: ptr(90.0)})
	h.deliver(proto.EntityUpdate{EntityID: "r1", Position: &vmath.Vec3{X: 1}, Timestamp: ms(t0, 150), Health: ptr(10.0)})

	view, ok := h.sync.RemoteEntity("r1")
	if !ok {
		t.Fatalf("expected r1 to exist")
	}
	if view.Entity.Transform.Position.X != 2 || view.Entity.Health != 90 {
		t.Fatalf("expected stale update to be ignored, got %+v", view.Entity)
	}
	frame := h.sync.Tick(t0.Add(300 * time.Millisecond))
	if frame.Stats.OutOfOrderSnapshots != 1 {
		t.Fatalf("expected one out-of-order snapshot, got %d", frame.Stats.OutOfOrderSnapshots)
	}
	if h.metrics.Get(telemetry.KeyOutOfOrder) != 1 {
		t.Fatalf("expected out-of-order metric, got %d", h.metrics.Get(telemetry.KeyOutOfOrder))
	}
}

func TestEntityJoinAndLeave(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.deliver(proto.EntityJoined{Entity: entity("r9", 4), Timestamp: ms(t0, 10)})
	if _, ok := h.sync.RemoteEntity("r9"); !ok {
		t.Fatalf("expected joined entity")
	}
	h.sync.Tick(t0.Add(20 * time.Millisecond))

	h.deliver(proto.EntityLeft{EntityID: "r9", Reason: "quit"})
	if _, ok := h.sync.RemoteEntity("r9"); ok {
		t.Fatalf("expected entity removed")
	}
	if h.sync.buffers.Has("r9") {
		t.Fatalf("expected buffer dropped with the entity")
	}
	if _, ok := h.sync.renders["r9"]; ok {
		t.Fatalf("expected render state dropped with the entity")
	}

	h.deliver(proto.EntityJoined{Entity: entity(localID, 0)})
	if _, ok := h.sync.RemoteEntity(localID); ok {
		t.Fatalf("expected local entity never to be mirrored as remote")
	}
}

func TestEvictionKeepsLatestForHold(t *testing.T) {
	h := newHarness(t)
	h.activate(entity("r1", 0))
	h.deliver(proto.EntityUpdate{EntityID: "r1", Position: &vmath.Vec3{X: 1}, Timestamp: ms(t0, 100)})

	h.sync.Tick(t0.Add(2 * time.Second))
	if n := h.sync.buffers.Len("r1"); n != 0 {
		t.Fatalf("expected stale samples evicted, %d remain", n)
	}
	frame := h.sync.Tick(t0.Add(2100 * time.Millisecond))
	render := frame.Remotes[0].Render
	if render.Mode != interp.ModeHeld || render.Transform.Position.X != 1 {
		t.Fatalf("expected hold at last known position, got %s x=%.2f", render.Mode, render.Transform.Position.X)
	}
}

func TestPredictionAndReconciliation(t *testing.T) {
	h := newHarness(t)
	h.activate()

	for i := 0; i < 3; i++ {
		seq, err := h.sync.ApplyInput(state.Input{Forward: 1, DT: 0.1})
		if err != nil {
			t.Fatalf("ApplyInput failed: %v", err)
		}
		if seq != uint64(i) {
			t.Fatalf("expected sequence %d, got %d", i, seq)
		}
	}
	local, _ := h.sync.LocalState()
	if !approx(local.Transform.Position.Z, -1.5) {
		t.Fatalf("expected predicted z=-1.5, got %.4f", local.Transform.Position.Z)
	}

	var sent proto.InputUpdate
	h.lastSent(proto.TypeEntityUpdate, &sent)
	if sent.Sequence != 2 || sent.EntityID != localID || !approx(sent.Position.Z, -1.5) || !approx(sent.DTMillis, 100) {
		t.Fatalf("unexpected outbound input %+v", sent)
	}

	auth := entity(localID, 0)
	auth.Position = vmath.Vec3{Z: -0.8}
	h.deliver(proto.ReconciliationAck{Sequence: ptr(uint64(1)), State: &auth})

	local, _ = h.sync.LocalState()
	if len(local.Pending) != 1 || local.Pending[0].Sequence != 2 {
		t.Fatalf("expected only sequence 2 pending, got %+v", local.Pending)
	}
	if !approx(local.Transform.Position.Z, -1.3) {
		t.Fatalf("expected authoritative -0.8 plus one replayed step, got %.4f", local.Transform.Position.Z)
	}
	frame := h.sync.Tick(t0.Add(16 * time.Millisecond))
	if frame.Stats.LastAcknowledged != 1 || !frame.Stats.HasAcknowledged {
		t.Fatalf("expected last ack 1, got %d", frame.Stats.LastAcknowledged)
	}
	if !approx(frame.Stats.LastCorrection, 0.2) {
		t.Fatalf("expected correction 0.2, got %.4f", frame.Stats.LastCorrection)
	}
	if got := len(h.events.OfType(network.EventAckAdvanced)); got != 1 {
		t.Fatalf("expected one ack advanced event, got %d", got)
	}
}

func TestLocalEntityUpdateReconciles(t *testing.T) {
	h := newHarness(t)
	h.activate()
	for i := 0; i < 2; i++ {
		if _, err := h.sync.ApplyInput(state.Input{Forward: 1, DT: 0.1}); err != nil {
			t.Fatalf("ApplyInput failed: %v", err)
		}
	}
	h.deliver(proto.EntityUpdate{
		EntityID:  localID,
		Position:  &vmath.Vec3{Z: -0.5},
		Timestamp: ms(t0, 50),
		Sequence:  ptr(uint64(0)),
		Ammo:      ptr(12),
	})
	local, _ := h.sync.LocalState()
	if !approx(local.Transform.Position.Z, -1.0) || local.Ammo != 12 {
		t.Fatalf("expected rebase to -0.5 plus replay and ammo 12, got z=%.3f ammo=%d", local.Transform.Position.Z, local.Ammo)
	}
	if len(h.sync.RemoteEntities()) != 0 {
		t.Fatalf("expected local update not to create a remote")
	}
}

func TestUnsequencedLocalUpdateAppliesVitalsOnly(t *testing.T) {
	h := newHarness(t)
	h.activate()
	for i := 0; i < 3; i++ {
		if _, err := h.sync.ApplyInput(state.Input{Forward: 1, DT: 0.1}); err != nil {
			t.Fatalf("ApplyInput failed: %v", err)
		}
	}
	auth := entity(localID, 0)
	auth.Position = vmath.Vec3{Z: -0.5}
	h.deliver(proto.ReconciliationAck{Sequence: ptr(uint64(0)), State: &auth})
	local, _ := h.sync.LocalState()
	if !approx(local.Transform.Position.Z, -1.5) {
		t.Fatalf("expected ack rebase plus two replayed steps, got z=%.4f", local.Transform.Position.Z)
	}

	h.deliver(proto.EntityUpdate{
		EntityID:  localID,
		Position:  &vmath.Vec3{Z: -1.5},
		Timestamp: ms(t0, 300),
		Health:    ptr(80.0),
	})
	local, _ = h.sync.LocalState()
	if !approx(local.Transform.Position.Z, -1.5) {
		t.Fatalf("expected position left to prediction, got z=%.4f", local.Transform.Position.Z)
	}
	if local.Health != 80 {
		t.Fatalf("expected health 80 from update, got %.1f", local.Health)
	}
	if len(local.Pending) != 2 {
		t.Fatalf("expected inputs 1 and 2 still pending, got %+v", local.Pending)
	}
}

func TestStaleAcknowledgmentIgnored(t *testing.T) {
	h := newHarness(t)
	h.activate()
	for i := 0; i < 4; i++ {
		if _, err := h.sync.ApplyInput(state.Input{Forward: 1, DT: 0.05}); err != nil {
			t.Fatalf("ApplyInput failed: %v", err)
		}
	}
	h.deliver(proto.ReconciliationAck{Sequence: ptr(uint64(2))})
	before, _ := h.sync.LocalState()
	h.deliver(proto.ReconciliationAck{Sequence: ptr(uint64(1))})
	after, _ := h.sync.LocalState()

	if len(after.Pending) != 1 || after.Transform.Position != before.Transform.Position {
		t.Fatalf("expected stale ack to leave state untouched, got %+v", after)
	}
	frame := h.sync.Tick(t0)
	if frame.Stats.StaleAcknowledgments != 1 || frame.Stats.LastAcknowledged != 2 {
		t.Fatalf("expected one stale ack and last ack 2, got %+v", frame.Stats)
	}
	if got := len(h.events.OfType(network.EventAckRegression)); got != 1 {
		t.Fatalf("expected one ack regression event, got %d", got)
	}
}

func TestHitAndKillApplyImmediately(t *testing.T) {
	h := newHarness(t)
	h.activate(entity("r1", 0))

	h.clock.Advance(time.Millisecond)
	h.deliver(proto.EntityHit{AttackerID: localID, TargetID: "r1", Damage: 30, Weapon: "rifle"})
	view, _ := h.sync.RemoteEntity("r1")
	if view.Entity.Health != 70 || !view.Entity.Alive {
		t.Fatalf("expected health 70 before any tick, got %+v", view.Entity)
	}

	h.clock.Advance(time.Millisecond)
	h.deliver(proto.EntityKilled{KillerID: localID, VictimID: "r1", Weapon: "rifle", Headshot: true})
	view, _ = h.sync.RemoteEntity("r1")
	if view.Entity.Alive || view.Entity.Health != 0 {
		t.Fatalf("expected r1 dead before any tick, got %+v", view.Entity)
	}

	frame := h.sync.Tick(h.clock.now)
	if len(frame.Consumed) != 2 || frame.Consumed[0].Kind != ledger.KindHit || frame.Consumed[1].Kind != ledger.KindKill {
		t.Fatalf("expected hit then kill, got %+v", frame.Consumed)
	}
	if next := h.sync.Tick(h.clock.Advance(16 * time.Millisecond)); len(next.Consumed) != 0 {
		t.Fatalf("expected one-shot events consumed once, got %+v", next.Consumed)
	}
	if len(h.recorder.events) != 2 || h.recorder.events[0].Kind != "hit" || h.recorder.events[0].Identity != "tester" {
		t.Fatalf("expected consumed events recorded, got %+v", h.recorder.events)
	}

	h.deliver(proto.EntityHit{AttackerID: "r1", TargetID: localID, Damage: 25})
	local, _ := h.sync.LocalState()
	if local.Health != 75 {
		t.Fatalf("expected local health 75, got %.1f", local.Health)
	}
}

func TestLedgerRetainsNonConsumableEventsUntilTTL(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.deliver(proto.ObjectiveCaptured{ObjectiveID: "alpha", Team: "red"})
	h.deliver(proto.EntityStateChange{EntityID: localID, From: "idle", To: "reloading"})

	local, _ := h.sync.LocalState()
	if local.AnimationState != "reloading" {
		t.Fatalf("expected animation state applied, got %q", local.AnimationState)
	}

	frame := h.sync.Tick(t0.Add(time.Second))
	if len(frame.Live) != 2 || len(frame.Consumed) != 0 {
		t.Fatalf("expected two live events, got live=%d consumed=%d", len(frame.Live), len(frame.Consumed))
	}
	frame = h.sync.Tick(t0.Add(ledger.DefaultTTL + time.Millisecond))
	if len(frame.Live) != 0 || frame.Stats.ExpiredEvents != 2 {
		t.Fatalf("expected events expired after ttl, got live=%d expired=%d", len(frame.Live), frame.Stats.ExpiredEvents)
	}
}

func TestProjectilesIntegrateAndExpire(t *testing.T) {
	h := newHarness(t)
	h.activate(entity("r1", 0))
	h.deliver(proto.WeaponFired{ShooterID: "r1", WeaponType: "pistol", Direction: vmath.Vec3{Z: -1}, ProjectileID: "p1"})
	h.deliver(proto.GrenadeThrown{ThrowerID: "r1", GrenadeType: "frag", Velocity: vmath.Vec3{X: 5, Y: 5}, ProjectileID: "g1", FuseMs: 400})

	frame := h.sync.Tick(t0)
	if len(frame.Projectiles) != 2 || frame.Projectiles[0].ID != "g1" || frame.Projectiles[1].ID != "p1" {
		t.Fatalf("expected g1 and p1, got %+v", frame.Projectiles)
	}
	if len(frame.Consumed) != 1 || frame.Consumed[0].Kind != ledger.KindWeaponFired {
		t.Fatalf("expected weapon fired consumed, got %+v", frame.Consumed)
	}
	if len(frame.Live) != 1 || frame.Live[0].Kind != ledger.KindGrenadeThrown {
		t.Fatalf("expected grenade throw retained, got %+v", frame.Live)
	}

	now := t0
	for i := 0; i < 2; i++ {
		now = now.Add(200 * time.Millisecond)
		frame = h.sync.Tick(now)
	}
	if len(frame.Projectiles) != 1 || frame.Projectiles[0].ID != "p1" {
		t.Fatalf("expected grenade fuse to expire first, got %+v", frame.Projectiles)
	}
	if frame.Projectiles[0].Position.Z >= 0 {
		t.Fatalf("expected bullet to travel along -z, got %+v", frame.Projectiles[0].Position)
	}

	for i := 0; i < 4; i++ {
		now = now.Add(200 * time.Millisecond)
		frame = h.sync.Tick(now)
	}
	if len(frame.Projectiles) != 0 || frame.Stats.ExpiredProjectiles != 2 {
		t.Fatalf("expected all projectiles expired, got %d (expired %d)", len(frame.Projectiles), frame.Stats.ExpiredProjectiles)
	}

	h.deliver(proto.WeaponFired{ShooterID: "r1", WeaponType: "rifle", Direction: vmath.Vec3{X: 1}, ProjectileID: "p2"})
	h.deliver(proto.ProjectileRemoved{ProjectileID: "p2", Reason: "impact"})
	if len(h.sync.Projectiles()) != 0 {
		t.Fatalf("expected explicit removal")
	}
}

func TestTransportDisconnectClearsRemoteState(t *testing.T) {
	h := newHarness(t)
	h.activate(entity("r1", 0))
	h.deliver(proto.WeaponFired{ShooterID: "r1", WeaponType: "rifle", Direction: vmath.Vec3{X: 1}, ProjectileID: "p1"})
	h.deliver(proto.ObjectiveCaptured{ObjectiveID: "alpha", Team: "red"})
	if _, err := h.sync.ApplyInput(state.Input{Forward: 1, DT: 0.1}); err != nil {
		t.Fatalf("ApplyInput failed: %v", err)
	}

	h.sync.HandleEvent(transport.Event{Kind: transport.EventDisconnected, Conn: 99, Err: errors.New("stale")})
	if h.sync.State() != StateActive {
		t.Fatalf("expected disconnect for another connection to be ignored, got %s", h.sync.State())
	}

	h.sync.HandleEvent(transport.Event{Kind: transport.EventDisconnected, Conn: h.transport.current, Err: errors.New("eof")})
	if h.sync.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", h.sync.State())
	}
	if len(h.sync.RemoteEntities()) != 0 || len(h.sync.Projectiles()) != 0 || h.sync.ledger.Len() != 0 {
		t.Fatalf("expected remote entities, projectiles and ledger cleared")
	}
	if len(h.sync.buffers.Entities()) != 0 {
		t.Fatalf("expected state buffers cleared")
	}
	local, ok := h.sync.LocalState()
	if !ok || !approx(local.Transform.Position.Z, -0.5) {
		t.Fatalf("expected local state preserved, got %+v (ok=%t)", local, ok)
	}

	h.sync.HandleEvent(transport.Event{Kind: transport.EventDisconnected, Conn: 1})
	if got := len(h.events.OfType(network.EventConnectionState)); got != 4 {
		t.Fatalf("expected a single transition to disconnected, got %d transitions", got)
	}
}

func TestReconnectKeepsSequenceCounter(t *testing.T) {
	h := newHarness(t)
	h.activate()
	for i := 0; i < 3; i++ {
		if _, err := h.sync.ApplyInput(state.Input{Forward: 1, DT: 0.05}); err != nil {
			t.Fatalf("ApplyInput failed: %v", err)
		}
	}
	if err := h.sync.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if err := h.sync.Disconnect(); err != nil {
		t.Fatalf("second Disconnect should be a no-op, got %v", err)
	}
	if h.transport.disconnects != 1 {
		t.Fatalf("expected one transport disconnect, got %d", h.transport.disconnects)
	}

	h.activate(entity("r1", 1))
	seq, err := h.sync.ApplyInput(state.Input{Forward: 1, DT: 0.05})
	if err != nil {
		t.Fatalf("ApplyInput failed: %v", err)
	}
	if seq != 3 {
		t.Fatalf("expected sequence numbers never reused, got %d", seq)
	}
	local, _ := h.sync.LocalState()
	if len(local.Pending) != 1 {
		t.Fatalf("expected pending inputs from the old session dropped, got %d", len(local.Pending))
	}
}

func TestMessagesFromOldConnectionAreIgnored(t *testing.T) {
	h := newHarness(t)
	h.activate()
	frame, err := proto.Encode(proto.JSONCodec{}, proto.EntityJoined{Entity: entity("r1", 0)})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	h.sync.HandleEvent(transport.Event{Kind: transport.EventMessage, Conn: 42, Payload: frame, At: t0})
	if _, ok := h.sync.RemoteEntity("r1"); ok {
		t.Fatalf("expected message from another connection ignored")
	}
	h.sync.HandleEvent(transport.Event{Kind: transport.EventMessage, Conn: h.transport.current, Payload: frame, At: t0})
	if _, ok := h.sync.RemoteEntity("r1"); !ok {
		t.Fatalf("expected message from the current connection applied")
	}
}

func TestMalformedMessageIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.sync.HandleMessage([]byte("{not json"))
	h.sync.HandleMessage([]byte(`{"ver":1,"type":"entityUpdate","data":{"entityId":"r1"}}`))
	h.sync.HandleMessage([]byte(`{"ver":1,"type":"teleport","data":{}}`))
	h.deliver(proto.EntityJoined{Entity: entity("r1", 0)})

	if _, ok := h.sync.RemoteEntity("r1"); !ok {
		t.Fatalf("expected valid message after malformed ones to apply")
	}
	frame := h.sync.Tick(t0)
	if frame.Stats.MalformedMessages != 3 {
		t.Fatalf("expected 3 malformed messages, got %d", frame.Stats.MalformedMessages)
	}
	if got := len(h.events.OfType(network.EventMalformedMessage)); got != 3 {
		t.Fatalf("expected 3 malformed events, got %d", got)
	}
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	h := newHarness(t, func(cfg *Config, deps *Deps) {
		cfg.Features = latency.Features{Prediction: false, Reconciliation: true}
		deps.Apply = func(current state.EntityState, input state.Input) state.EntityState {
			if input.Sprint {
				panic("sprint replay exploded")
			}
			return current
		}
	})
	h.activate()
	for i := 0; i < 2; i++ {
		if _, err := h.sync.ApplyInput(state.Input{Forward: 1, Sprint: true, DT: 0.05}); err != nil {
			t.Fatalf("ApplyInput failed: %v", err)
		}
	}
	auth := entity(localID, 0)
	h.deliver(proto.ReconciliationAck{Sequence: ptr(uint64(0)), State: &auth})
	h.deliver(proto.EntityJoined{Entity: entity("r1", 0)})

	if _, ok := h.sync.RemoteEntity("r1"); !ok {
		t.Fatalf("expected processing to continue after a handler panic")
	}
	frame := h.sync.Tick(t0)
	if frame.Stats.Faults != 1 {
		t.Fatalf("expected one isolated fault, got %d", frame.Stats.Faults)
	}
	panics := h.events.OfType(simulation.EventStepPanic)
	if len(panics) != 1 || panics[0].Payload.(simulation.StepPanicPayload).Step != "message" {
		t.Fatalf("expected a message step panic event, got %+v", panics)
	}
}

func TestLagSpikeWidensInterpolationDelay(t *testing.T) {
	h := newHarness(t)
	h.activate()
	deliverPongs := func(rtt time.Duration) {
		for i := 0; i < latency.SampleWindow; i++ {
			now := h.clock.Advance(100 * time.Millisecond)
			h.deliver(proto.Pong{ClientTime: now.Add(-rtt).UnixMilli()})
		}
	}

	deliverPongs(60 * time.Millisecond)
	frame := h.sync.Tick(h.clock.now)
	if frame.Stats.AveragePing != 60*time.Millisecond || frame.Stats.InterpolationDelay != latency.MinInterpolationDelay {
		t.Fatalf("expected 60ms ping and floored delay, got %s / %s", frame.Stats.AveragePing, frame.Stats.InterpolationDelay)
	}

	deliverPongs(400 * time.Millisecond)
	frame = h.sync.Tick(h.clock.now)
	if frame.Stats.InterpolationDelay != 200*time.Millisecond {
		t.Fatalf("expected delay to widen to 200ms, got %s", frame.Stats.InterpolationDelay)
	}
	if h.metrics.Get(telemetry.KeyInterpolationDelay) != 200 {
		t.Fatalf("expected delay gauge 200, got %d", h.metrics.Get(telemetry.KeyInterpolationDelay))
	}
}

func TestInterpolationSurvivesClockRefinement(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *Deps) {
		cfg.Features.Extrapolation = false
	})
	const oneWay = 100 * time.Millisecond
	h.connect()
	initial := h.initialState(entity("r1", 0))
	initial.ServerTime = h.clock.now.Add(-oneWay).UnixMilli()
	h.deliver(initial)

	for i := 0; i < 40; i++ {
		now := h.clock.Advance(50 * time.Millisecond)
		h.deliver(proto.Pong{
			ClientTime: now.Add(-2 * oneWay).UnixMilli(),
			ServerTime: now.Add(-oneWay).UnixMilli(),
		})
	}

	x := 0.0
	for i := 0; i < 20; i++ {
		now := h.clock.Advance(50 * time.Millisecond)
		x += 0.5
		h.deliver(proto.EntityUpdate{EntityID: "r1", Position: &vmath.Vec3{X: x}, Timestamp: now.Add(-oneWay).UnixMilli()})
		if i < 2 {
			continue
		}
		frame := h.sync.Tick(now.Add(25 * time.Millisecond))
		if len(frame.Remotes) != 1 {
			t.Fatalf("expected one remote, got %+v", frame.Remotes)
		}
		if mode := frame.Remotes[0].Render.Mode; mode != interp.ModeInterpolated {
			t.Fatalf("update %d: expected interpolated render after pongs, got %s", i, mode)
		}
	}
	if delay := h.sync.NetworkStats().InterpolationDelay; delay != oneWay {
		t.Fatalf("expected delay of half the 200ms round trip, got %s", delay)
	}
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	h := newHarness(t)
	h.connect()
	h.deliver(proto.Ping{ClientTime: 12345})

	var pong proto.Pong
	h.lastSent(proto.TypePong, &pong)
	if pong.ClientTime != 12345 || pong.ServerTime != t0.UnixMilli() {
		t.Fatalf("unexpected pong %+v", pong)
	}
}

func TestUnknownEntityUpdatesRequestResync(t *testing.T) {
	h := newHarness(t)
	h.activate(entity("r1", 0))
	if _, err := h.sync.ApplyInput(state.Input{Forward: 1, DT: 0.05}); err != nil {
		t.Fatalf("ApplyInput failed: %v", err)
	}
	h.deliver(proto.ReconciliationAck{Sequence: ptr(uint64(0))})

	for i := 1; i <= 6; i++ {
		h.deliver(proto.EntityUpdate{EntityID: "ghost", Position: &vmath.Vec3{X: float64(i)}, Timestamp: ms(t0, i*10)})
	}
	var request proto.ResyncRequest
	h.lastSent(proto.TypeResyncRequest, &request)
	if request.LastAck != 0 || request.Reason == "" {
		t.Fatalf("unexpected resync request %+v", request)
	}
	count := 0
	for _, msgType := range h.sentTypes() {
		if msgType == proto.TypeResyncRequest {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected a single outstanding resync request, got %d", count)
	}

	h.deliver(h.initialState(entity("r1", 0), entity("ghost", 7)))
	if h.sync.State() != StateActive {
		t.Fatalf("expected resync to keep the session active, got %s", h.sync.State())
	}
	if _, ok := h.sync.RemoteEntity("ghost"); !ok {
		t.Fatalf("expected resync to add the missing entity")
	}
	frame := h.sync.Tick(t0.Add(100 * time.Millisecond))
	if frame.Stats.UnknownEntityUpdates != 6 || frame.Stats.ResyncRequests != 1 {
		t.Fatalf("unexpected stats %+v", frame.Stats)
	}
	if got := len(h.events.OfType(network.EventResyncRequested)); got != 1 {
		t.Fatalf("expected one resync event, got %d", got)
	}
}

func TestOutboundIntents(t *testing.T) {
	h := newHarness(t)
	if _, err := h.sync.FireWeapon("rifle", vmath.Vec3{}, vmath.Vec3{X: 1}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	h.activate()

	id, err := h.sync.FireWeapon("rifle", vmath.Vec3{Y: 1}, vmath.Vec3{X: 1})
	if err != nil {
		t.Fatalf("FireWeapon failed: %v", err)
	}
	var shot proto.WeaponFired
	h.lastSent(proto.TypeWeaponFired, &shot)
	if shot.ProjectileID != id || shot.ShooterID != localID || shot.Sequence != nil {
		t.Fatalf("unexpected shot %+v", shot)
	}
	if projectiles := h.sync.Projectiles(); len(projectiles) != 1 || projectiles[0].ID != id {
		t.Fatalf("expected local projectile %s, got %+v", id, projectiles)
	}
	local, _ := h.sync.LocalState()
	if local.Ammo != 29 {
		t.Fatalf("expected ammo 29 after firing, got %d", local.Ammo)
	}

	if _, err := h.sync.FireWeapon("rifle", vmath.Vec3{}, vmath.Vec3{}); !errors.Is(err, proto.ErrMalformedMessage) {
		t.Fatalf("expected zero direction rejected, got %v", err)
	}
	if len(h.sync.Projectiles()) != 1 {
		t.Fatalf("expected rejected shot not to spawn")
	}

	grenadeID, err := h.sync.ThrowGrenade("smoke", vmath.Vec3{}, vmath.Vec3{X: 3, Y: 4})
	if err != nil {
		t.Fatalf("ThrowGrenade failed: %v", err)
	}
	var throw proto.GrenadeThrown
	h.lastSent(proto.TypeGrenadeThrown, &throw)
	if throw.ProjectileID != grenadeID || throw.FuseMs != 3000 {
		t.Fatalf("unexpected throw %+v", throw)
	}

	if err := h.sync.ReportHit("r1", 25, "rifle", true, nil); err != nil {
		t.Fatalf("ReportHit failed: %v", err)
	}
	var hit proto.EntityHit
	h.lastSent(proto.TypeEntityHit, &hit)
	if hit.AttackerID != localID || hit.TargetID != "r1" || hit.Damage != 25 || !hit.Headshot {
		t.Fatalf("unexpected hit %+v", hit)
	}

	h.transport.sendErr = transport.ErrSendQueueFull
	if err := h.sync.ReportHit("r1", 25, "rifle", false, nil); !errors.Is(err, transport.ErrSendQueueFull) {
		t.Fatalf("expected send error surfaced, got %v", err)
	}
	frame := h.sync.Tick(t0)
	if frame.Stats.SendErrors != 1 || frame.Stats.MessagesSent != 3 {
		t.Fatalf("unexpected send stats %+v", frame.Stats)
	}
}

func TestServerEchoKeepsLocalTracer(t *testing.T) {
	h := newHarness(t)
	h.activate()
	id, err := h.sync.FireWeapon("rifle", vmath.Vec3{Y: 1}, vmath.Vec3{X: 1})
	if err != nil {
		t.Fatalf("FireWeapon failed: %v", err)
	}
	h.sync.Tick(t0)
	h.sync.Tick(t0.Add(50 * time.Millisecond))
	before := h.sync.Projectiles()
	if len(before) != 1 || before[0].Position.X <= 0 {
		t.Fatalf("expected tracer to have travelled, got %+v", before)
	}

	h.deliver(proto.WeaponFired{
		ShooterID:    localID,
		WeaponType:   "rifle",
		Origin:       vmath.Vec3{Y: 1},
		Direction:    vmath.Vec3{X: 1},
		ProjectileID: id,
	})
	after := h.sync.Projectiles()
	if len(after) != 1 || after[0].Position != before[0].Position {
		t.Fatalf("expected echo to keep tracer at %+v, got %+v", before[0].Position, after)
	}
	if h.sync.ledger.Len() != 1 {
		t.Fatalf("expected echoed shot recorded in the ledger")
	}
}

func TestFeatureTogglesApplyLive(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.sync.SetFeatures(latency.Features{Prediction: false, Reconciliation: true, Extrapolation: true})

	if _, err := h.sync.ApplyInput(state.Input{Forward: 1, DT: 0.1}); err != nil {
		t.Fatalf("ApplyInput failed: %v", err)
	}
	local, _ := h.sync.LocalState()
	if local.Transform.Position.Z != 0 || len(local.Pending) != 1 {
		t.Fatalf("expected input queued but not predicted, got z=%.2f pending=%d", local.Transform.Position.Z, len(local.Pending))
	}
	if h.sync.Features().Prediction {
		t.Fatalf("expected prediction disabled")
	}
}

func TestTickBudgetOverrunIsReported(t *testing.T) {
	h := newHarness(t)
	h.clock.step = 20 * time.Millisecond
	frame := h.sync.Tick(t0)
	if frame.Duration <= frame.Budget {
		t.Fatalf("expected stepping clock to overrun budget, got %s <= %s", frame.Duration, frame.Budget)
	}
	overruns := h.events.OfType(simulation.EventTickBudgetOverrun)
	if len(overruns) != 1 || overruns[0].Payload.(simulation.TickBudgetOverrunPayload).Streak != 1 {
		t.Fatalf("expected one overrun event, got %+v", overruns)
	}
}

func TestStatsSamplesAreRecordedOnInterval(t *testing.T) {
	h := newHarness(t)
	h.activate()
	h.sync.Tick(t0)
	h.sync.Tick(t0.Add(time.Second))
	h.sync.Tick(t0.Add(5 * time.Second))
	if len(h.recorder.stats) != 2 {
		t.Fatalf("expected samples at t0 and t0+5s, got %d", len(h.recorder.stats))
	}
	if h.recorder.stats[1].State != "active" || h.recorder.stats[1].Identity != "tester" {
		t.Fatalf("unexpected sample %+v", h.recorder.stats[1])
	}
}

func TestLastFrameMatchesTick(t *testing.T) {
	h := newHarness(t)
	h.activate(entity("r1", 0))
	frame := h.sync.Tick(t0.Add(10 * time.Millisecond))
	last := h.sync.LastFrame()
	if last.Tick != frame.Tick || len(last.Remotes) != 1 || !last.HasLocal {
		t.Fatalf("expected last frame to match, got %+v", last)
	}
	if h.sync.NetworkStats().RemoteEntities != 1 {
		t.Fatalf("expected network stats to report one remote")
	}
}

func TestRunSerializesEventsAndTicks(t *testing.T) {
	frames := make(chan Frame, 64)
	h := newHarness(t, func(cfg *Config, deps *Deps) {
		cfg.TickRate = 200
		deps.Clock = logging.SystemClock{}
		deps.OnFrame = func(frame Frame) {
			select {
			case frames <- frame:
			default:
			}
		}
	})
	h.connect()
	payload, err := proto.Encode(proto.JSONCodec{}, h.initialState(entity("r1", 2)))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.sync.Run(ctx) }()

	h.transport.events <- transport.Event{Kind: transport.EventMessage, Conn: 1, Payload: payload, At: time.Now()}

	deadline := time.After(2 * time.Second)
	for active := false; !active; {
		select {
		case frame := <-frames:
			active = frame.State == StateActive && len(frame.Remotes) == 1
		case <-deadline:
			t.Fatalf("timed out waiting for an active frame")
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if h.transport.disconnects != 1 {
		t.Fatalf("expected Run to close the transport on shutdown, got %d", h.transport.disconnects)
	}
}

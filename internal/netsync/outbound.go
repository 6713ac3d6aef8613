package netsync

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"arena/netsync/internal/net/proto"
	"arena/netsync/internal/net/transport"
	"arena/netsync/internal/predict"
	"arena/netsync/internal/projectile"
	"arena/netsync/internal/state"
	"arena/netsync/internal/telemetry"
	"arena/netsync/internal/vmath"
)

// ApplyInput predicts input locally and sends it to the server. The input is
// queued for reconciliation even when sending fails, since its sequence
// number is already spent.
func (s *Synchronizer) ApplyInput(input state.Input) (uint64, error) {
	if s.state != StateActive || s.engine == nil {
		return 0, ErrNotConnected
	}
	now := s.clock.Now()
	seq := s.engine.ApplyInput(input, now)
	clamped := input.Clamped(predict.MaxStep)
	local := s.engine.CurrentState()
	err := s.send(proto.InputUpdate{
		EntityID:  s.localID,
		Sequence:  seq,
		Forward:   clamped.Forward,
		Strafe:    clamped.Strafe,
		Vertical:  clamped.Vertical,
		Yaw:       clamped.Yaw,
		Pitch:     clamped.Pitch,
		Sprint:    clamped.Sprint,
		Crouch:    clamped.Crouch,
		DTMillis:  clamped.DT * 1000,
		Position:  local.Transform.Position,
		Rotation:  local.Transform.Orientation,
		Timestamp: now.UnixMilli(),
	})
	s.metrics.Store(telemetry.KeyPendingInputs, uint64(len(local.Pending)))
	return seq, err
}

// FireWeapon spawns a local tracer and announces the shot. The returned ID
// matches the projectile the server is expected to echo.
func (s *Synchronizer) FireWeapon(weaponType string, origin, direction vmath.Vec3) (string, error) {
	if s.state != StateActive || s.engine == nil {
		return "", ErrNotConnected
	}
	now := s.clock.Now()
	msg := proto.WeaponFired{
		ShooterID:    s.localID,
		WeaponType:   weaponType,
		Origin:       origin,
		Direction:    direction,
		ProjectileID: uuid.NewString(),
		Timestamp:    now.UnixMilli(),
	}
	if next := s.engine.NextSequence(); next > 0 {
		last := next - 1
		msg.Sequence = &last
	}
	frame, err := s.encode(msg)
	if err != nil {
		return "", err
	}
	s.projectiles.Spawn(projectile.Spawn{
		ID:         msg.ProjectileID,
		OwnerID:    s.localID,
		WeaponType: weaponType,
		Origin:     origin,
		Direction:  direction,
	})
	s.engine.MutateVitals(func(e *state.EntityState) {
		if e.Ammo > 0 {
			e.Ammo--
		}
	})
	return msg.ProjectileID, s.transmit(msg.MessageType(), frame)
}

// ThrowGrenade spawns a local grenade and announces the throw.
func (s *Synchronizer) ThrowGrenade(grenadeType string, origin, velocity vmath.Vec3) (string, error) {
	if s.state != StateActive || s.engine == nil {
		return "", ErrNotConnected
	}
	profile := projectile.LookupProfile(grenadeType, true)
	msg := proto.GrenadeThrown{
		ThrowerID:    s.localID,
		GrenadeType:  grenadeType,
		Origin:       origin,
		Velocity:     velocity,
		ProjectileID: uuid.NewString(),
		FuseMs:       profile.Lifetime.Milliseconds(),
		Timestamp:    s.clock.Now().UnixMilli(),
	}
	frame, err := s.encode(msg)
	if err != nil {
		return "", err
	}
	s.projectiles.Spawn(projectile.Spawn{
		ID:         msg.ProjectileID,
		OwnerID:    s.localID,
		WeaponType: grenadeType,
		Grenade:    true,
		Origin:     origin,
		Velocity:   velocity,
		Lifetime:   profile.Lifetime,
	})
	return msg.ProjectileID, s.transmit(msg.MessageType(), frame)
}

// ReportHit claims a hit on target. Damage is applied only when the server
// confirms it with an entityHit.
func (s *Synchronizer) ReportHit(targetID string, damage float64, weapon string, headshot bool, position *vmath.Vec3) error {
	if s.state != StateActive || s.engine == nil {
		return ErrNotConnected
	}
	return s.send(proto.EntityHit{
		AttackerID: s.localID,
		TargetID:   targetID,
		Damage:     damage,
		Headshot:   headshot,
		Weapon:     weapon,
		Position:   position,
		Timestamp:  s.clock.Now().UnixMilli(),
	})
}

func (s *Synchronizer) send(msg proto.Message) error {
	frame, err := s.encode(msg)
	if err != nil {
		return err
	}
	return s.transmit(msg.MessageType(), frame)
}

func (s *Synchronizer) encode(msg proto.Message) ([]byte, error) {
	frame, err := proto.Encode(s.codec, msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	return frame, nil
}

func (s *Synchronizer) transmit(msgType string, frame []byte) error {
	if err := s.transport.Send(frame); err != nil {
		s.counters.sendErrors++
		s.metrics.Add(telemetry.KeyDroppedMessages, 1)
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	s.counters.sent++
	s.counters.bytesSent += uint64(len(frame))
	s.metrics.Add(telemetry.KeyMessagesSent, 1)
	s.metrics.Add(telemetry.KeyBytesSent, uint64(len(frame)))
	return nil
}

// PingProbe builds the transport keep-alive probe: a ping stamped with the
// send time so the echoed pong yields a round-trip sample.
func PingProbe(codec proto.Codec) transport.ProbeFunc {
	if codec == nil {
		codec = proto.JSONCodec{}
	}
	return func(now time.Time) ([]byte, error) {
		return proto.Encode(codec, proto.Ping{ClientTime: now.UnixMilli()})
	}
}

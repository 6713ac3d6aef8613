package predict

import (
	"arena/netsync/internal/state"
	"arena/netsync/internal/vmath"
)

const (
	// WalkSpeed is the base planar speed in metres per second.
	WalkSpeed = 5.0
	// SprintMultiplier scales WalkSpeed while sprinting.
	SprintMultiplier = 1.6
	// CrouchMultiplier scales WalkSpeed while crouched. Crouch wins over sprint.
	CrouchMultiplier = 0.5
	// ClimbSpeed scales the vertical axis (ladders, swimming, noclip spectators).
	ClimbSpeed = 3.0
	// MaxStep bounds the simulated duration of a single input in seconds.
	MaxStep = 0.25
)

// ApplyFunc advances an entity by one input. It must be deterministic: the
// same state and input always yield the same result, because reconciliation
// replays unacknowledged inputs through it.
type ApplyFunc func(current state.EntityState, input state.Input) state.EntityState

// Move is the default movement rule. Forward/strafe intent is normalized so
// diagonals are not faster, rotated by yaw and integrated over input.DT.
func Move(current state.EntityState, input state.Input) state.EntityState {
	input = input.Clamped(MaxStep)
	next := current
	next.Transform.Orientation = vmath.FromYawPitch(input.Yaw, input.Pitch)
	if !current.Alive {
		next.Transform.Velocity = vmath.Vec3{}
		return next
	}

	// Local frame: forward is -Z, right is +X.
	intent := vmath.Vec3{X: input.Strafe, Z: -input.Forward}
	if intent.LenSq() > 1 {
		intent = intent.Normalize()
	}
	heading := vmath.FromYawPitch(input.Yaw, 0)
	planar := heading.Rotate(intent).Scale(WalkSpeed * speedMultiplier(input))

	velocity := vmath.Vec3{X: planar.X, Y: input.Vertical * ClimbSpeed, Z: planar.Z}
	next.Transform.Velocity = velocity
	next.Transform.Position = current.Transform.Position.Add(velocity.Scale(input.DT))
	return next
}

func speedMultiplier(input state.Input) float64 {
	switch {
	case input.Crouch:
		return CrouchMultiplier
	case input.Sprint:
		return SprintMultiplier
	default:
		return 1
	}
}

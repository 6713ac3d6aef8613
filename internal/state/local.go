package state

import (
	"time"

	"arena/netsync/internal/vmath"
)

// Input is one frame of local control intent. DT is the simulated duration
// the input covers so replays reproduce the original integration step.
type Input struct {
	Forward  float64
	Strafe   float64
	Vertical float64
	Yaw      float64
	Pitch    float64
	Sprint   bool
	Crouch   bool
	DT       float64
}

// Clamped returns the input with axis values restricted to [-1,1] and a
// non-negative step.
func (in Input) Clamped(maxDT float64) Input {
	in.Forward = vmath.Clamp(in.Forward, -1, 1)
	in.Strafe = vmath.Clamp(in.Strafe, -1, 1)
	in.Vertical = vmath.Clamp(in.Vertical, -1, 1)
	in.DT = vmath.Clamp(in.DT, 0, maxDT)
	return in
}

// InputRecord is an applied input awaiting server acknowledgement.
type InputRecord struct {
	Sequence uint64
	Input    Input
	SentAt   time.Time
}

// LocalEntityState is the predicted state of the local player plus the inputs
// the server has not yet acknowledged.
type LocalEntityState struct {
	EntityState
	Pending []InputRecord
}

// Clone returns a copy that does not share the pending slice.
func (s LocalEntityState) Clone() LocalEntityState {
	cloned := s
	if len(s.Pending) > 0 {
		cloned.Pending = append([]InputRecord(nil), s.Pending...)
	} else {
		cloned.Pending = nil
	}
	return cloned
}

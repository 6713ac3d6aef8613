package state

import (
	"time"

	"arena/netsync/internal/vmath"
)

// Transform captures the spatial state of an entity.
type Transform struct {
	Position    vmath.Vec3
	Orientation vmath.Quat
	Velocity    vmath.Vec3
}

// Normalized returns the transform with a valid unit orientation.
func (t Transform) Normalized() Transform {
	if t.Orientation.IsZero() {
		t.Orientation = vmath.Identity()
	} else {
		t.Orientation = t.Orientation.Normalize()
	}
	return t
}

// EntityState is the authoritative shape shared by remote and local entities.
type EntityState struct {
	ID             string
	Team           string
	Transform      Transform
	Health         float64
	Armor          float64
	Alive          bool
	Weapon         string
	Ammo           int
	ReserveAmmo    int
	AnimationState string
	LastUpdate     time.Time
}

// RemoteEntity mirrors another player in the match. The synchronizer owns the
// only copy; render transforms are derived separately and never written back.
type RemoteEntity struct {
	EntityState
}

// ApplyDamage subtracts damage from health, clamping at zero. A lethal hit
// clears the alive flag.
func (e *EntityState) ApplyDamage(damage float64) {
	if e == nil || damage <= 0 {
		return
	}
	e.Health -= damage
	if e.Health <= 0 {
		e.Health = 0
		e.Alive = false
	}
}

// Kill marks the entity as dead.
func (e *EntityState) Kill() {
	if e == nil {
		return
	}
	e.Health = 0
	e.Alive = false
}

// Snapshot is a timestamped authoritative transform sample for one entity.
type Snapshot struct {
	EntityID  string
	Transform Transform
	Timestamp time.Time
}

package state

import (
	"time"

	"arena/netsync/internal/vmath"
)

// ProjectileKind distinguishes hitscan tracers from thrown ordnance.
type ProjectileKind string

const (
	ProjectileBullet  ProjectileKind = "bullet"
	ProjectileGrenade ProjectileKind = "grenade"
)

// ProjectileState tracks a client-side projectile between its spawn message
// and its expiry or explicit removal.
type ProjectileState struct {
	ID         string
	OwnerID    string
	Kind       ProjectileKind
	WeaponType string
	Position   vmath.Vec3
	Velocity   vmath.Vec3
	Damage     float64
	Lifetime   time.Duration
	Gravity    bool
}

// Expired reports whether the projectile has no lifetime left.
func (p ProjectileState) Expired() bool {
	return p.Lifetime <= 0
}

package projectile

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"arena/netsync/internal/state"
	"arena/netsync/internal/vmath"
)

// Gravity is the downward acceleration applied to thrown ordnance in m/s².
const Gravity = 9.81

// Spawn describes a projectile announced by the server.
type Spawn struct {
	ID         string
	OwnerID    string
	WeaponType string
	Grenade    bool
	Origin     vmath.Vec3
	Direction  vmath.Vec3
	// Velocity overrides Direction × profile speed when non-zero.
	Velocity vmath.Vec3
	// Lifetime overrides the profile lifetime when positive.
	Lifetime time.Duration
}

// AdvanceResult reports projectiles removed during an integration step.
type AdvanceResult struct {
	Expired []string
}

// Store tracks live client-side projectiles. It is not safe for concurrent
// use.
type Store struct {
	projectiles map[string]*state.ProjectileState
	newID       func() string
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		projectiles: make(map[string]*state.ProjectileState),
		newID:       uuid.NewString,
	}
}

// Spawn inserts a projectile. A missing ID is replaced with a generated one;
// an existing ID is overwritten.
func (s *Store) Spawn(spawn Spawn) state.ProjectileState {
	profile := LookupProfile(spawn.WeaponType, spawn.Grenade)
	id := spawn.ID
	if id == "" {
		id = s.newID()
	}
	velocity := spawn.Velocity
	if velocity.LenSq() == 0 {
		velocity = spawn.Direction.Normalize().Scale(profile.Speed)
	}
	lifetime := spawn.Lifetime
	if lifetime <= 0 {
		lifetime = profile.Lifetime
	}
	kind := state.ProjectileBullet
	if spawn.Grenade || profile.Kind == kindGrenade {
		kind = state.ProjectileGrenade
	}
	projectile := &state.ProjectileState{
		ID:         id,
		OwnerID:    spawn.OwnerID,
		Kind:       kind,
		WeaponType: spawn.WeaponType,
		Position:   spawn.Origin,
		Velocity:   velocity,
		Damage:     profile.Damage,
		Lifetime:   lifetime,
		Gravity:    kind == state.ProjectileGrenade,
	}
	s.projectiles[id] = projectile
	return *projectile
}

// Advance integrates every projectile by dt and removes those whose lifetime
// is exhausted.
func (s *Store) Advance(dt time.Duration) AdvanceResult {
	var result AdvanceResult
	if dt <= 0 {
		return result
	}
	seconds := dt.Seconds()
	for id, projectile := range s.projectiles {
		if projectile.Gravity {
			projectile.Velocity.Y -= Gravity * seconds
		}
		projectile.Position = projectile.Position.Add(projectile.Velocity.Scale(seconds))
		projectile.Lifetime -= dt
		if projectile.Expired() {
			delete(s.projectiles, id)
			result.Expired = append(result.Expired, id)
		}
	}
	sort.Strings(result.Expired)
	return result
}

// Remove deletes a projectile, reporting whether it existed.
func (s *Store) Remove(id string) bool {
	if _, ok := s.projectiles[id]; !ok {
		return false
	}
	delete(s.projectiles, id)
	return true
}

// Get returns a copy of the projectile.
func (s *Store) Get(id string) (state.ProjectileState, bool) {
	projectile, ok := s.projectiles[id]
	if !ok {
		return state.ProjectileState{}, false
	}
	return *projectile, true
}

// All returns copies of every projectile ordered by ID.
func (s *Store) All() []state.ProjectileState {
	if len(s.projectiles) == 0 {
		return nil
	}
	out := make([]state.ProjectileState, 0, len(s.projectiles))
	for _, projectile := range s.projectiles {
		out = append(out, *projectile)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the number of live projectiles.
func (s *Store) Len() int {
	return len(s.projectiles)
}

// Clear drops every projectile.
func (s *Store) Clear() {
	s.projectiles = make(map[string]*state.ProjectileState)
}

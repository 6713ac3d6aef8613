package projectile

import "time"

// Profile is the client-side ballistic description of a weapon.
type Profile struct {
	Speed    float64
	Lifetime time.Duration
	Damage   float64
	Kind     string
}

const (
	kindBullet  = "bullet"
	kindGrenade = "grenade"
)

var profiles = map[string]Profile{
	"rifle":   {Speed: 900, Lifetime: 1500 * time.Millisecond, Damage: 30, Kind: kindBullet},
	"smg":     {Speed: 400, Lifetime: 1000 * time.Millisecond, Damage: 20, Kind: kindBullet},
	"pistol":  {Speed: 350, Lifetime: 1000 * time.Millisecond, Damage: 25, Kind: kindBullet},
	"shotgun": {Speed: 300, Lifetime: 500 * time.Millisecond, Damage: 12, Kind: kindBullet},
	"sniper":  {Speed: 1200, Lifetime: 2 * time.Second, Damage: 90, Kind: kindBullet},
	"frag":    {Speed: 18, Lifetime: 3 * time.Second, Damage: 100, Kind: kindGrenade},
	"smoke":   {Speed: 16, Lifetime: 3 * time.Second, Kind: kindGrenade},
	"flash":   {Speed: 16, Lifetime: 2 * time.Second, Kind: kindGrenade},
}

var (
	defaultBullet  = Profile{Speed: 500, Lifetime: time.Second, Damage: 20, Kind: kindBullet}
	defaultGrenade = Profile{Speed: 15, Lifetime: 3 * time.Second, Damage: 80, Kind: kindGrenade}
)

// LookupProfile resolves a weapon profile, falling back to a generic bullet
// or grenade when the weapon is unknown.
func LookupProfile(weaponType string, grenade bool) Profile {
	if profile, ok := profiles[weaponType]; ok {
		return profile
	}
	if grenade {
		return defaultGrenade
	}
	return defaultBullet
}

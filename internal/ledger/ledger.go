package ledger

import (
	"sort"
	"time"

	"arena/netsync/internal/vmath"
)

// DefaultTTL bounds how long retained events stay visible.
const DefaultTTL = 5 * time.Second

// Kind classifies a ledger event.
type Kind string

const (
	KindHit               Kind = "hit"
	KindKill              Kind = "kill"
	KindWeaponFired       Kind = "weapon_fired"
	KindGrenadeThrown     Kind = "grenade_thrown"
	KindObjectiveCaptured Kind = "objective_captured"
	KindStateChange       Kind = "state_change"
)

// Consumable reports whether events of this kind are handed out once and
// removed on the next drain.
func (k Kind) Consumable() bool {
	switch k {
	case KindHit, KindKill, KindWeaponFired:
		return true
	default:
		return false
	}
}

// HitPayload describes damage dealt to an entity.
type HitPayload struct {
	AttackerID string  `json:"attackerId"`
	TargetID   string  `json:"targetId"`
	Damage     float64 `json:"damage"`
	Headshot   bool    `json:"headshot,omitempty"`
	Weapon     string  `json:"weapon,omitempty"`
}

// KillPayload describes an elimination.
type KillPayload struct {
	KillerID string `json:"killerId"`
	VictimID string `json:"victimId"`
	Weapon   string `json:"weapon,omitempty"`
	Headshot bool   `json:"headshot,omitempty"`
}

// ShotPayload describes a weapon discharge or grenade throw.
type ShotPayload struct {
	ShooterID    string `json:"shooterId"`
	WeaponType   string `json:"weaponType"`
	ProjectileID string `json:"projectileId,omitempty"`
}

// ObjectivePayload describes a captured objective.
type ObjectivePayload struct {
	ObjectiveID string `json:"objectiveId"`
	Team        string `json:"team"`
	CapturedBy  string `json:"capturedBy,omitempty"`
}

// StateChangePayload describes a discrete entity state transition such as a
// reload or weapon swap.
type StateChangePayload struct {
	EntityID string `json:"entityId"`
	From     string `json:"from,omitempty"`
	To       string `json:"to"`
}

// Event is a discrete occurrence reported by the server.
type Event struct {
	Kind       Kind
	Timestamp  time.Time
	ServerTime time.Time
	Position   *vmath.Vec3
	Payload    any
}

// DrainResult splits the ledger into one-shot events that were just consumed
// and retained events still within the TTL.
type DrainResult struct {
	Consumed []Event
	Live     []Event
	Expired  int
}

// Ledger is a time-bounded log of server events owned by the synchronizer
// goroutine.
type Ledger struct {
	ttl    time.Duration
	events []Event
	now    func() time.Time
}

// New constructs a ledger. A non-positive ttl selects DefaultTTL.
func New(ttl time.Duration, now func() time.Time) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{ttl: ttl, now: now}
}

// TTL returns the retention window.
func (l *Ledger) TTL() time.Duration {
	return l.ttl
}

// Record appends an event, stamping the arrival time when it has none.
func (l *Ledger) Record(event Event) {
	if l == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}
	l.events = append(l.events, event)
}

// Drain removes consumable events and events older than the TTL. Expired
// events are never returned, whatever their kind. Both returned slices are
// ordered by timestamp.
func (l *Ledger) Drain(now time.Time) DrainResult {
	var result DrainResult
	if l == nil || len(l.events) == 0 {
		return result
	}
	sort.SliceStable(l.events, func(i, j int) bool {
		return l.events[i].Timestamp.Before(l.events[j].Timestamp)
	})
	kept := l.events[:0]
	for _, event := range l.events {
		switch {
		case now.Sub(event.Timestamp) > l.ttl:
			result.Expired++
		case event.Kind.Consumable():
			result.Consumed = append(result.Consumed, event)
		default:
			kept = append(kept, event)
			result.Live = append(result.Live, event)
		}
	}
	for i := len(kept); i < len(l.events); i++ {
		l.events[i] = Event{}
	}
	l.events = kept
	return result
}

// Len reports the number of stored events.
func (l *Ledger) Len() int {
	if l == nil {
		return 0
	}
	return len(l.events)
}

// Clear drops every event.
func (l *Ledger) Clear() {
	if l == nil {
		return
	}
	l.events = nil
}

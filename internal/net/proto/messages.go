package proto

import (
	"fmt"

	"arena/netsync/internal/vmath"
)

// Version tracks the wire-protocol revision spoken by the client.
const Version = 1

// Message type identifiers.
const (
	TypeInitialState      = "initialState"
	TypeEntityJoined      = "entityJoined"
	TypeEntityLeft        = "entityLeft"
	TypeEntityUpdate      = "entityUpdate"
	TypeWeaponFired       = "weaponFired"
	TypeGrenadeThrown     = "grenadeThrown"
	TypeEntityHit         = "entityHit"
	TypeEntityKilled      = "entityKilled"
	TypeMatchStateUpdate  = "matchStateUpdate"
	TypeReconciliationAck = "reconciliationAck"
	TypePing              = "ping"
	TypePong              = "pong"
	TypeProjectileRemoved = "projectileRemoved"
	TypeObjectiveCaptured = "objectiveCaptured"
	TypeEntityStateChange = "entityStateChange"
	TypeResyncRequest     = "resyncRequest"
)

// Message is implemented by every wire payload.
type Message interface {
	MessageType() string
	Validate() error
}

func missing(msgType, field string) error {
	return fmt.Errorf("%w: %s missing %s", ErrMalformedMessage, msgType, field)
}

// EntityPayload is the full description of one entity.
type EntityPayload struct {
	ID             string     `json:"id" msgpack:"id"`
	Team           string     `json:"team,omitempty" msgpack:"team,omitempty"`
	Position       vmath.Vec3 `json:"position" msgpack:"position"`
	Rotation       vmath.Quat `json:"rotation" msgpack:"rotation"`
	Velocity       vmath.Vec3 `json:"velocity" msgpack:"velocity"`
	Health         float64    `json:"health" msgpack:"health"`
	Armor          float64    `json:"armor,omitempty" msgpack:"armor,omitempty"`
	Alive          *bool      `json:"alive,omitempty" msgpack:"alive,omitempty"`
	Weapon         string     `json:"weapon,omitempty" msgpack:"weapon,omitempty"`
	Ammo           int        `json:"ammo,omitempty" msgpack:"ammo,omitempty"`
	ReserveAmmo    int        `json:"reserveAmmo,omitempty" msgpack:"reserveAmmo,omitempty"`
	AnimationState string     `json:"animationState,omitempty" msgpack:"animationState,omitempty"`
}

// IsAlive reports the alive flag, defaulting to true when omitted.
func (e EntityPayload) IsAlive() bool {
	return e.Alive == nil || *e.Alive
}

// MatchPayload carries the match state.
type MatchPayload struct {
	Mode            string         `json:"mode" msgpack:"mode"`
	TimeRemainingMs int64          `json:"timeRemaining" msgpack:"timeRemaining"`
	Score           map[string]int `json:"score,omitempty" msgpack:"score,omitempty"`
	Round           int            `json:"round,omitempty" msgpack:"round,omitempty"`
	Status          string         `json:"status" msgpack:"status"`
	Winner          string         `json:"winner,omitempty" msgpack:"winner,omitempty"`
}

// InitialState is the full snapshot sent after connecting or on resync.
type InitialState struct {
	LocalEntityID string          `json:"localEntityId" msgpack:"localEntityId"`
	Entities      []EntityPayload `json:"entities" msgpack:"entities"`
	Match         *MatchPayload   `json:"match,omitempty" msgpack:"match,omitempty"`
	ServerTime    int64           `json:"serverTime,omitempty" msgpack:"serverTime,omitempty"`
	Ack           *uint64         `json:"ack,omitempty" msgpack:"ack,omitempty"`
}

func (InitialState) MessageType() string { return TypeInitialState }

// Validate requires the local entity to be present in the entity list.
func (m InitialState) Validate() error {
	if m.LocalEntityID == "" {
		return missing(TypeInitialState, "localEntityId")
	}
	found := false
	for _, entity := range m.Entities {
		if entity.ID == "" {
			return missing(TypeInitialState, "entities[].id")
		}
		if entity.ID == m.LocalEntityID {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: initialState does not describe local entity %q", ErrMalformedMessage, m.LocalEntityID)
	}
	if m.Match != nil {
		return m.Match.validate(TypeInitialState)
	}
	return nil
}

// EntityJoined announces a new remote entity.
type EntityJoined struct {
	Entity    EntityPayload `json:"entity" msgpack:"entity"`
	Timestamp int64         `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
}

func (EntityJoined) MessageType() string { return TypeEntityJoined }

func (m EntityJoined) Validate() error {
	if m.Entity.ID == "" {
		return missing(TypeEntityJoined, "entity.id")
	}
	return nil
}

// EntityLeft announces a departed entity.
type EntityLeft struct {
	EntityID string `json:"entityId" msgpack:"entityId"`
	Reason   string `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

func (EntityLeft) MessageType() string { return TypeEntityLeft }

func (m EntityLeft) Validate() error {
	if m.EntityID == "" {
		return missing(TypeEntityLeft, "entityId")
	}
	return nil
}

// EntityUpdate is an authoritative transform sample. Vital fields are optional
// and only applied when present. Sequence, when present on an update for the
// local entity, is the highest input the server has processed.
type EntityUpdate struct {
	EntityID       string      `json:"entityId" msgpack:"entityId"`
	Position       *vmath.Vec3 `json:"position" msgpack:"position"`
	Rotation       *vmath.Quat `json:"rotation,omitempty" msgpack:"rotation,omitempty"`
	Velocity       *vmath.Vec3 `json:"velocity,omitempty" msgpack:"velocity,omitempty"`
	Timestamp      int64       `json:"timestamp" msgpack:"timestamp"`
	Sequence       *uint64     `json:"sequence,omitempty" msgpack:"sequence,omitempty"`
	Health         *float64    `json:"health,omitempty" msgpack:"health,omitempty"`
	Armor          *float64    `json:"armor,omitempty" msgpack:"armor,omitempty"`
	Alive          *bool       `json:"alive,omitempty" msgpack:"alive,omitempty"`
	Weapon         *string     `json:"weapon,omitempty" msgpack:"weapon,omitempty"`
	Ammo           *int        `json:"ammo,omitempty" msgpack:"ammo,omitempty"`
	ReserveAmmo    *int        `json:"reserveAmmo,omitempty" msgpack:"reserveAmmo,omitempty"`
	AnimationState *string     `json:"animationState,omitempty" msgpack:"animationState,omitempty"`
}

func (EntityUpdate) MessageType() string { return TypeEntityUpdate }

func (m EntityUpdate) Validate() error {
	switch {
	case m.EntityID == "":
		return missing(TypeEntityUpdate, "entityId")
	case m.Position == nil:
		return missing(TypeEntityUpdate, "position")
	case m.Timestamp <= 0:
		return missing(TypeEntityUpdate, "timestamp")
	}
	return nil
}

// InputUpdate is the client's outbound entityUpdate: the applied input and
// the resulting predicted transform.
type InputUpdate struct {
	EntityID  string     `json:"entityId" msgpack:"entityId"`
	Sequence  uint64     `json:"sequence" msgpack:"sequence"`
	Forward   float64    `json:"forward" msgpack:"forward"`
	Strafe    float64    `json:"strafe" msgpack:"strafe"`
	Vertical  float64    `json:"vertical,omitempty" msgpack:"vertical,omitempty"`
	Yaw       float64    `json:"yaw" msgpack:"yaw"`
	Pitch     float64    `json:"pitch" msgpack:"pitch"`
	Sprint    bool       `json:"sprint,omitempty" msgpack:"sprint,omitempty"`
	Crouch    bool       `json:"crouch,omitempty" msgpack:"crouch,omitempty"`
	DTMillis  float64    `json:"dt" msgpack:"dt"`
	Position  vmath.Vec3 `json:"position" msgpack:"position"`
	Rotation  vmath.Quat `json:"rotation" msgpack:"rotation"`
	Timestamp int64      `json:"timestamp" msgpack:"timestamp"`
}

func (InputUpdate) MessageType() string { return TypeEntityUpdate }

func (m InputUpdate) Validate() error {
	if m.EntityID == "" {
		return missing(TypeEntityUpdate, "entityId")
	}
	return nil
}

// WeaponFired reports a weapon discharge. Outbound it carries the local
// player's shot; inbound it spawns a projectile.
type WeaponFired struct {
	ShooterID    string     `json:"shooterId" msgpack:"shooterId"`
	WeaponType   string     `json:"weaponType" msgpack:"weaponType"`
	Origin       vmath.Vec3 `json:"origin" msgpack:"origin"`
	Direction    vmath.Vec3 `json:"direction" msgpack:"direction"`
	ProjectileID string     `json:"projectileId,omitempty" msgpack:"projectileId,omitempty"`
	Sequence     *uint64    `json:"sequence,omitempty" msgpack:"sequence,omitempty"`
	Timestamp    int64      `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
}

func (WeaponFired) MessageType() string { return TypeWeaponFired }

func (m WeaponFired) Validate() error {
	switch {
	case m.ShooterID == "":
		return missing(TypeWeaponFired, "shooterId")
	case m.WeaponType == "":
		return missing(TypeWeaponFired, "weaponType")
	case m.Direction.LenSq() == 0:
		return missing(TypeWeaponFired, "direction")
	}
	return nil
}

// GrenadeThrown reports a thrown grenade.
type GrenadeThrown struct {
	ThrowerID    string     `json:"throwerId" msgpack:"throwerId"`
	GrenadeType  string     `json:"grenadeType" msgpack:"grenadeType"`
	Origin       vmath.Vec3 `json:"origin" msgpack:"origin"`
	Velocity     vmath.Vec3 `json:"velocity" msgpack:"velocity"`
	ProjectileID string     `json:"projectileId,omitempty" msgpack:"projectileId,omitempty"`
	FuseMs       int64      `json:"fuseMs,omitempty" msgpack:"fuseMs,omitempty"`
	Timestamp    int64      `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
}

func (GrenadeThrown) MessageType() string { return TypeGrenadeThrown }

func (m GrenadeThrown) Validate() error {
	switch {
	case m.ThrowerID == "":
		return missing(TypeGrenadeThrown, "throwerId")
	case m.GrenadeType == "":
		return missing(TypeGrenadeThrown, "grenadeType")
	}
	return nil
}

// EntityHit reports damage. Outbound it is the client's hit claim.
type EntityHit struct {
	AttackerID string      `json:"attackerId" msgpack:"attackerId"`
	TargetID   string      `json:"targetId" msgpack:"targetId"`
	Damage     float64     `json:"damage" msgpack:"damage"`
	Headshot   bool        `json:"headshot,omitempty" msgpack:"headshot,omitempty"`
	Weapon     string      `json:"weapon,omitempty" msgpack:"weapon,omitempty"`
	Position   *vmath.Vec3 `json:"position,omitempty" msgpack:"position,omitempty"`
	Timestamp  int64       `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
}

func (EntityHit) MessageType() string { return TypeEntityHit }

func (m EntityHit) Validate() error {
	switch {
	case m.TargetID == "":
		return missing(TypeEntityHit, "targetId")
	case m.Damage < 0:
		return fmt.Errorf("%w: entityHit has negative damage", ErrMalformedMessage)
	}
	return nil
}

// EntityKilled reports an elimination.
type EntityKilled struct {
	KillerID  string      `json:"killerId" msgpack:"killerId"`
	VictimID  string      `json:"victimId" msgpack:"victimId"`
	Weapon    string      `json:"weapon,omitempty" msgpack:"weapon,omitempty"`
	Headshot  bool        `json:"headshot,omitempty" msgpack:"headshot,omitempty"`
	Position  *vmath.Vec3 `json:"position,omitempty" msgpack:"position,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
}

func (EntityKilled) MessageType() string { return TypeEntityKilled }

func (m EntityKilled) Validate() error {
	if m.VictimID == "" {
		return missing(TypeEntityKilled, "victimId")
	}
	return nil
}

// MatchStateUpdate replaces the match state wholesale.
type MatchStateUpdate struct {
	MatchPayload `msgpack:",inline"`
}

func (MatchStateUpdate) MessageType() string { return TypeMatchStateUpdate }

func (m MatchStateUpdate) Validate() error {
	return m.MatchPayload.validate(TypeMatchStateUpdate)
}

func (m MatchPayload) validate(msgType string) error {
	if m.Status == "" {
		return missing(msgType, "status")
	}
	if !validStatus(m.Status) {
		return fmt.Errorf("%w: %s has unknown status %q", ErrMalformedMessage, msgType, m.Status)
	}
	return nil
}

func validStatus(status string) bool {
	switch status {
	case "waiting", "in_progress", "finished", "intermission":
		return true
	default:
		return false
	}
}

// ReconciliationAck acknowledges processed inputs for the local entity and
// optionally carries its authoritative state.
type ReconciliationAck struct {
	Sequence  *uint64        `json:"sequence" msgpack:"sequence"`
	State     *EntityPayload `json:"state,omitempty" msgpack:"state,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
}

func (ReconciliationAck) MessageType() string { return TypeReconciliationAck }

func (m ReconciliationAck) Validate() error {
	if m.Sequence == nil {
		return missing(TypeReconciliationAck, "sequence")
	}
	return nil
}

// Ping carries the sender's clock for round-trip measurement.
type Ping struct {
	ClientTime int64 `json:"clientTime" msgpack:"clientTime"`
}

func (Ping) MessageType() string { return TypePing }

func (m Ping) Validate() error {
	if m.ClientTime <= 0 {
		return missing(TypePing, "clientTime")
	}
	return nil
}

// Pong echoes a ping's clientTime.
type Pong struct {
	ClientTime int64 `json:"clientTime" msgpack:"clientTime"`
	ServerTime int64 `json:"serverTime,omitempty" msgpack:"serverTime,omitempty"`
}

func (Pong) MessageType() string { return TypePong }

func (m Pong) Validate() error {
	if m.ClientTime <= 0 {
		return missing(TypePong, "clientTime")
	}
	return nil
}

// ProjectileRemoved ends a projectile early (impact or detonation).
type ProjectileRemoved struct {
	ProjectileID string `json:"projectileId" msgpack:"projectileId"`
	Reason       string `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

func (ProjectileRemoved) MessageType() string { return TypeProjectileRemoved }

func (m ProjectileRemoved) Validate() error {
	if m.ProjectileID == "" {
		return missing(TypeProjectileRemoved, "projectileId")
	}
	return nil
}

// ObjectiveCaptured reports an objective changing hands.
type ObjectiveCaptured struct {
	ObjectiveID string      `json:"objectiveId" msgpack:"objectiveId"`
	Team        string      `json:"team" msgpack:"team"`
	CapturedBy  string      `json:"capturedBy,omitempty" msgpack:"capturedBy,omitempty"`
	Position    *vmath.Vec3 `json:"position,omitempty" msgpack:"position,omitempty"`
	Timestamp   int64       `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
}

func (ObjectiveCaptured) MessageType() string { return TypeObjectiveCaptured }

func (m ObjectiveCaptured) Validate() error {
	switch {
	case m.ObjectiveID == "":
		return missing(TypeObjectiveCaptured, "objectiveId")
	case m.Team == "":
		return missing(TypeObjectiveCaptured, "team")
	}
	return nil
}

// EntityStateChange reports a discrete state transition such as a reload.
type EntityStateChange struct {
	EntityID  string `json:"entityId" msgpack:"entityId"`
	From      string `json:"from,omitempty" msgpack:"from,omitempty"`
	To        string `json:"to" msgpack:"to"`
	Timestamp int64  `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
}

func (EntityStateChange) MessageType() string { return TypeEntityStateChange }

func (m EntityStateChange) Validate() error {
	switch {
	case m.EntityID == "":
		return missing(TypeEntityStateChange, "entityId")
	case m.To == "":
		return missing(TypeEntityStateChange, "to")
	}
	return nil
}

// ResyncRequest asks the server for a fresh initialState.
type ResyncRequest struct {
	Reason  string `json:"reason" msgpack:"reason"`
	LastAck uint64 `json:"lastAck" msgpack:"lastAck"`
}

func (ResyncRequest) MessageType() string { return TypeResyncRequest }

func (ResyncRequest) Validate() error { return nil }

package combat

import (
	"context"

	"arena/netsync/logging"
)

const (
	// EventHit is emitted when the server reports damage.
	EventHit logging.EventType = "combat.hit"
	// EventKill is emitted when the server reports an elimination.
	EventKill logging.EventType = "combat.kill"
)

// HitPayload captures the damage and the target's remaining health.
type HitPayload struct {
	Weapon       string  `json:"weapon,omitempty"`
	Amount       float64 `json:"amount"`
	TargetHealth float64 `json:"targetHealth"`
	Headshot     bool    `json:"headshot,omitempty"`
}

// KillPayload describes the context for an elimination.
type KillPayload struct {
	Weapon   string `json:"weapon,omitempty"`
	Headshot bool   `json:"headshot,omitempty"`
}

// Hit publishes a damage event for a single target.
func Hit(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, target logging.EntityRef, payload HitPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventHit,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCombat,
		Payload:  payload,
		Extra:    extra,
	})
}

// Kill publishes an elimination event.
func Kill(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, target logging.EntityRef, payload KillPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventKill,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCombat,
		Payload:  payload,
		Extra:    extra,
	})
}

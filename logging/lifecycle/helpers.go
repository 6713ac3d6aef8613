package lifecycle

import (
	"context"

	"arena/netsync/logging"
)

const (
	// EventEntityJoined is emitted when a remote entity enters the match.
	EventEntityJoined logging.EventType = "lifecycle.entity_joined"
	// EventEntityLeft is emitted when a remote entity leaves the match.
	EventEntityLeft logging.EventType = "lifecycle.entity_left"
	// EventSessionReset is emitted when remote state is discarded.
	EventSessionReset logging.EventType = "lifecycle.session_reset"
)

// EntityJoinedPayload captures spawn metadata for a remote entity.
type EntityJoinedPayload struct {
	Team   string  `json:"team,omitempty"`
	SpawnX float64 `json:"spawnX"`
	SpawnY float64 `json:"spawnY"`
	SpawnZ float64 `json:"spawnZ"`
}

// EntityLeftPayload captures the reason an entity left.
type EntityLeftPayload struct {
	Reason string `json:"reason,omitempty"`
}

// SessionResetPayload summarises the discarded state.
type SessionResetPayload struct {
	Reason      string `json:"reason"`
	Entities    int    `json:"entities"`
	Projectiles int    `json:"projectiles"`
	Events      int    `json:"events"`
}

// EntityJoined publishes a join event.
func EntityJoined(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload EntityJoinedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEntityJoined,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

// EntityLeft publishes a departure event.
func EntityLeft(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload EntityLeftPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEntityLeft,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

// SessionReset publishes the remote state teardown.
func SessionReset(ctx context.Context, pub logging.Publisher, tick uint64, payload SessionResetPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSessionReset,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindSession},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

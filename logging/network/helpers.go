package network

import (
	"context"

	"arena/netsync/logging"
)

const (
	// EventConnectionState is emitted on every synchronizer state transition.
	EventConnectionState logging.EventType = "network.connection_state"
	// EventAckAdvanced is emitted when the server acknowledges newer inputs.
	EventAckAdvanced logging.EventType = "network.ack_advanced"
	// EventAckRegression is emitted when an acknowledgement older than the last one arrives.
	EventAckRegression logging.EventType = "network.ack_regression"
	// EventMalformedMessage is emitted when an inbound frame cannot be decoded.
	EventMalformedMessage logging.EventType = "network.malformed_message"
	// EventResyncRequested is emitted when the client asks the server for a full snapshot.
	EventResyncRequested logging.EventType = "network.resync_requested"
	// EventInitialStateTimeout is emitted when the server never sends the initial snapshot.
	EventInitialStateTimeout logging.EventType = "network.initial_state_timeout"
)

// ConnectionStatePayload captures a state transition.
type ConnectionStatePayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// AckPayload captures acknowledgement progression details.
type AckPayload struct {
	Previous   uint64  `json:"previous"`
	Ack        uint64  `json:"ack"`
	Replayed   int     `json:"replayed,omitempty"`
	Correction float64 `json:"correction,omitempty"`
}

// MalformedPayload describes a dropped frame.
type MalformedPayload struct {
	Error string `json:"error"`
	Bytes int    `json:"bytes"`
}

// ResyncPayload captures why a resync was requested.
type ResyncPayload struct {
	Reason         string `json:"reason"`
	UnknownUpdates uint64 `json:"unknownUpdates"`
	TotalUpdates   uint64 `json:"totalUpdates"`
}

// TimeoutPayload captures how long the client waited.
type TimeoutPayload struct {
	WaitedMillis int64 `json:"waitedMillis"`
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	event.Category = logging.CategoryNetwork
	pub.Publish(ctx, event)
}

// ConnectionState publishes a state transition.
func ConnectionState(ctx context.Context, pub logging.Publisher, tick uint64, payload ConnectionStatePayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventConnectionState,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindSession},
		Severity: logging.SeverityInfo,
		Payload:  payload,
		Extra:    extra,
	})
}

// AckAdvanced publishes a debug event when an acknowledgement advances.
func AckAdvanced(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload AckPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventAckAdvanced,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Payload:  payload,
		Extra:    extra,
	})
}

// AckRegression publishes a warning event when an acknowledgement regresses.
func AckRegression(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload AckPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventAckRegression,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Payload:  payload,
		Extra:    extra,
	})
}

// MalformedMessage publishes a warning for a dropped frame.
func MalformedMessage(ctx context.Context, pub logging.Publisher, tick uint64, payload MalformedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventMalformedMessage,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindSession},
		Severity: logging.SeverityWarn,
		Payload:  payload,
		Extra:    extra,
	})
}

// ResyncRequested publishes a warning when a full resync is requested.
func ResyncRequested(ctx context.Context, pub logging.Publisher, tick uint64, payload ResyncPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventResyncRequested,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindSession},
		Severity: logging.SeverityWarn,
		Payload:  payload,
		Extra:    extra,
	})
}

// InitialStateTimeout publishes a warning when the session gives up waiting.
func InitialStateTimeout(ctx context.Context, pub logging.Publisher, tick uint64, payload TimeoutPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventInitialStateTimeout,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindSession},
		Severity: logging.SeverityWarn,
		Payload:  payload,
		Extra:    extra,
	})
}

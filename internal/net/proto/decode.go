package proto

import "fmt"

var inbound = map[string]func() Message{
	TypeInitialState:      func() Message { return &InitialState{} },
	TypeEntityJoined:      func() Message { return &EntityJoined{} },
	TypeEntityLeft:        func() Message { return &EntityLeft{} },
	TypeEntityUpdate:      func() Message { return &EntityUpdate{} },
	TypeWeaponFired:       func() Message { return &WeaponFired{} },
	TypeGrenadeThrown:     func() Message { return &GrenadeThrown{} },
	TypeEntityHit:         func() Message { return &EntityHit{} },
	TypeEntityKilled:      func() Message { return &EntityKilled{} },
	TypeMatchStateUpdate:  func() Message { return &MatchStateUpdate{} },
	TypeReconciliationAck: func() Message { return &ReconciliationAck{} },
	TypePing:              func() Message { return &Ping{} },
	TypePong:              func() Message { return &Pong{} },
	TypeProjectileRemoved: func() Message { return &ProjectileRemoved{} },
	TypeObjectiveCaptured: func() Message { return &ObjectiveCaptured{} },
	TypeEntityStateChange: func() Message { return &EntityStateChange{} },
}

// InboundTypes lists every message type the client accepts.
func InboundTypes() []string {
	return []string{
		TypeInitialState, TypeEntityJoined, TypeEntityLeft, TypeEntityUpdate,
		TypeWeaponFired, TypeGrenadeThrown, TypeEntityHit, TypeEntityKilled,
		TypeMatchStateUpdate, TypeReconciliationAck, TypePing, TypePong,
		TypeProjectileRemoved, TypeObjectiveCaptured, TypeEntityStateChange,
	}
}

// Decode parses an inbound frame into its typed message. Every failure wraps
// ErrMalformedMessage. Version 0 is treated as the current version.
func Decode(codec Codec, frame []byte) (Message, error) {
	header, data, err := codec.DecodeEnvelope(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if header.Ver == 0 {
		header.Ver = Version
	}
	if header.Ver != Version {
		return nil, fmt.Errorf("%w: unsupported protocol version %d", ErrMalformedMessage, header.Ver)
	}
	factory, ok := inbound[header.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, header.Type)
	}
	msg := factory()
	if err := codec.UnmarshalPayload(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, header.Type, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return deref(msg), nil
}

// Encode validates and frames an outbound message.
func Encode(codec Codec, msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformedMessage)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return codec.EncodeEnvelope(msg.MessageType(), msg)
}

// deref returns value types so callers can type-switch on structs.
func deref(msg Message) Message {
	switch m := msg.(type) {
	case *InitialState:
		return *m
	case *EntityJoined:
		return *m
	case *EntityLeft:
		return *m
	case *EntityUpdate:
		return *m
	case *WeaponFired:
		return *m
	case *GrenadeThrown:
		return *m
	case *EntityHit:
		return *m
	case *EntityKilled:
		return *m
	case *MatchStateUpdate:
		return *m
	case *ReconciliationAck:
		return *m
	case *Ping:
		return *m
	case *Pong:
		return *m
	case *ProjectileRemoved:
		return *m
	case *ObjectiveCaptured:
		return *m
	case *EntityStateChange:
		return *m
	default:
		return msg
	}
}

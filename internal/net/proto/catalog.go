package proto

// Direction describes which side of the connection sends a message.
type Direction string

const (
	Inbound       Direction = "inbound"
	Outbound      Direction = "outbound"
	Bidirectional Direction = "both"
)

// CatalogEntry pairs a message type with a zero value of its payload.
type CatalogEntry struct {
	Type      string
	Direction Direction
	Payload   Message
}

// Catalog lists every wire payload, used to publish the protocol schema.
func Catalog() []CatalogEntry {
	return []CatalogEntry{
		{Type: TypeInitialState, Direction: Inbound, Payload: InitialState{}},
		{Type: TypeEntityJoined, Direction: Inbound, Payload: EntityJoined{}},
		{Type: TypeEntityLeft, Direction: Inbound, Payload: EntityLeft{}},
		{Type: TypeEntityUpdate, Direction: Inbound, Payload: EntityUpdate{}},
		{Type: TypeEntityUpdate, Direction: Outbound, Payload: InputUpdate{}},
		{Type: TypeWeaponFired, Direction: Bidirectional, Payload: WeaponFired{}},
		{Type: TypeGrenadeThrown, Direction: Bidirectional, Payload: GrenadeThrown{}},
		{Type: TypeEntityHit, Direction: Bidirectional, Payload: EntityHit{}},
		{Type: TypeEntityKilled, Direction: Inbound, Payload: EntityKilled{}},
		{Type: TypeMatchStateUpdate, Direction: Inbound, Payload: MatchStateUpdate{}},
		{Type: TypeReconciliationAck, Direction: Inbound, Payload: ReconciliationAck{}},
		{Type: TypePing, Direction: Bidirectional, Payload: Ping{}},
		{Type: TypePong, Direction: Bidirectional, Payload: Pong{}},
		{Type: TypeProjectileRemoved, Direction: Inbound, Payload: ProjectileRemoved{}},
		{Type: TypeObjectiveCaptured, Direction: Inbound, Payload: ObjectiveCaptured{}},
		{Type: TypeEntityStateChange, Direction: Inbound, Payload: EntityStateChange{}},
		{Type: TypeResyncRequest, Direction: Outbound, Payload: ResyncRequest{}},
	}
}

package telemetry

// Counter keys.
const (
	KeyMessagesReceived   = "netsync.messages.received"
	KeyMessagesSent       = "netsync.messages.sent"
	KeyBytesReceived      = "netsync.bytes.received"
	KeyBytesSent          = "netsync.bytes.sent"
	KeyMalformedMessages  = "netsync.messages.malformed"
	KeyDroppedMessages    = "netsync.messages.dropped"
	KeyOutOfOrder         = "netsync.snapshots.out_of_order"
	KeyStaleAcks          = "netsync.acks.stale"
	KeyUnknownEntities    = "netsync.updates.unknown_entity"
	KeyResyncRequests     = "netsync.resync.requests"
	KeyReconciliations    = "netsync.reconciliations"
	KeyStepPanics         = "netsync.tick.step_panics"
	KeyTicks              = "netsync.ticks"
	KeyRecorderDrops      = "netsync.recorder.dropped"
	KeyConsumedEvents     = "netsync.ledger.consumed"
	KeyExpiredEvents      = "netsync.ledger.expired"
	KeyExpiredProjectiles = "netsync.projectiles.expired"
)

// Gauge keys.
const (
	KeyPingMillis            = "netsync.ping.ms"
	KeyJitterMillis          = "netsync.jitter.ms"
	KeyInterpolationDelay    = "netsync.interpolation.delay_ms"
	KeyPendingInputs         = "netsync.inputs.pending"
	KeyRemoteEntities        = "netsync.entities.remote"
	KeyProjectiles           = "netsync.projectiles.live"
	KeyCorrectionMillimeters = "netsync.reconciliation.correction_mm"
)

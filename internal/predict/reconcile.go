package predict

import (
	"arena/netsync/internal/state"
	"arena/netsync/internal/vmath"
)

// Reconciliation summarises one authoritative correction.
type Reconciliation struct {
	Ack        uint64
	Discarded  int
	Replayed   int
	Correction float64
	Snapped    bool
}

// OnServerState rebases the local entity on an authoritative state carrying
// acknowledgement ack. Inputs with sequence <= ack are dropped and the rest
// are replayed in order. An ack below the last processed one is stale and
// leaves the engine untouched.
func (e *Engine) OnServerState(authoritative state.EntityState, ack uint64) (Reconciliation, bool) {
	if e.hasAck && ack < e.lastAck {
		e.staleAcks++
		return Reconciliation{Ack: ack}, false
	}

	predicted := e.local.Transform.Position
	result := Reconciliation{Ack: ack}

	kept := e.local.Pending[:0]
	for _, record := range e.local.Pending {
		if record.Sequence <= ack {
			result.Discarded++
			continue
		}
		kept = append(kept, record)
	}
	e.local.Pending = kept

	if authoritative.ID == "" {
		authoritative.ID = e.local.ID
	}
	e.local.EntityState = authoritative
	e.local.Transform = authoritative.Transform.Normalized()

	if !e.reconciliationEnabled() {
		result.Snapped = true
		e.local.Pending = nil
	} else {
		for _, record := range e.local.Pending {
			e.local.EntityState = e.apply(e.local.EntityState, record.Input)
			result.Replayed++
		}
	}

	e.lastAck = ack
	e.hasAck = true
	result.Correction = vmath.Distance(predicted, e.local.Transform.Position)
	e.correction = result.Correction
	return result, true
}

// Acknowledge trims the pending queue up to ack without changing state. It is
// used for acknowledgements that carry no authoritative transform.
func (e *Engine) Acknowledge(ack uint64) bool {
	if e.hasAck && ack < e.lastAck {
		e.staleAcks++
		return false
	}
	kept := e.local.Pending[:0]
	for _, record := range e.local.Pending {
		if record.Sequence > ack {
			kept = append(kept, record)
		}
	}
	e.local.Pending = kept
	e.lastAck = ack
	e.hasAck = true
	return true
}

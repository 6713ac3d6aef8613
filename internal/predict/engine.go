package predict

import (
	"time"

	"arena/netsync/internal/state"
)

// Options configures a prediction engine.
type Options struct {
	// Apply is the deterministic movement rule. Defaults to Move.
	Apply ApplyFunc
	// Predict reports whether inputs are applied locally before the server
	// confirms them. Nil means always.
	Predict func() bool
	// Reconcile reports whether unacknowledged inputs are replayed on top of
	// authoritative state. Nil means always.
	Reconcile func() bool
}

// Engine owns the predicted local entity and its unacknowledged input queue.
// Sequence numbers start at zero and are never reused for the lifetime of the
// engine, including across reconnects.
type Engine struct {
	local     state.LocalEntityState
	apply     ApplyFunc
	predict   func() bool
	reconcile func() bool

	nextSeq    uint64
	lastAck    uint64
	hasAck     bool
	staleAcks  uint64
	correction float64
}

// NewEngine constructs an engine seeded with initial.
func NewEngine(initial state.LocalEntityState, opts Options) *Engine {
	apply := opts.Apply
	if apply == nil {
		apply = Move
	}
	return &Engine{
		local:     initial.Clone(),
		apply:     apply,
		predict:   opts.Predict,
		reconcile: opts.Reconcile,
	}
}

func (e *Engine) predictionEnabled() bool {
	return e.predict == nil || e.predict()
}

func (e *Engine) reconciliationEnabled() bool {
	return e.reconcile == nil || e.reconcile()
}

// ApplyInput assigns the next sequence number, applies the input to the local
// state when prediction is enabled and queues it for acknowledgement.
func (e *Engine) ApplyInput(input state.Input, now time.Time) uint64 {
	input = input.Clamped(MaxStep)
	seq := e.nextSeq
	e.nextSeq++
	if e.predictionEnabled() {
		e.local.EntityState = e.apply(e.local.EntityState, input)
		e.local.LastUpdate = now
	}
	e.local.Pending = append(e.local.Pending, state.InputRecord{
		Sequence: seq,
		Input:    input,
		SentAt:   now,
	})
	return seq
}

// CurrentState returns a copy of the predicted local state.
func (e *Engine) CurrentState() state.LocalEntityState {
	return e.local.Clone()
}

// Pending returns a copy of the unacknowledged inputs in sequence order.
func (e *Engine) Pending() []state.InputRecord {
	if len(e.local.Pending) == 0 {
		return nil
	}
	return append([]state.InputRecord(nil), e.local.Pending...)
}

// NextSequence reports the sequence number the next input will receive.
func (e *Engine) NextSequence() uint64 {
	return e.nextSeq
}

// LastAcknowledged returns the highest processed acknowledgement.
func (e *Engine) LastAcknowledged() (uint64, bool) {
	return e.lastAck, e.hasAck
}

// StaleAcknowledgments counts acknowledgements ignored for regressing.
func (e *Engine) StaleAcknowledgments() uint64 {
	return e.staleAcks
}

// LastCorrection reports the distance the most recent reconciliation moved
// the local entity.
func (e *Engine) LastCorrection() float64 {
	return e.correction
}

// Reset replaces the local entity, e.g. from an initial-state message. The
// pending queue is discarded but the sequence counter keeps advancing.
func (e *Engine) Reset(local state.LocalEntityState) {
	e.local = local.Clone()
	e.local.Pending = nil
	e.correction = 0
}

// MutateVitals applies an immediate non-movement change (damage, death,
// ammo) to the local entity.
func (e *Engine) MutateVitals(mutate func(*state.EntityState)) {
	if mutate == nil {
		return
	}
	mutate(&e.local.EntityState)
}

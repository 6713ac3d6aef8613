package buffer

import (
	"sort"
	"time"

	"arena/netsync/internal/state"
)

const (
	// DefaultCapacity bounds the number of snapshots retained per entity.
	DefaultCapacity = 60
	// DefaultRetention is the history window kept behind the current time.
	DefaultRetention = time.Second
)

// ring stores snapshots for one entity in a fixed-size ring ordered by
// timestamp. latest survives eviction so late packets stay rejected and the
// interpolator always has a hold position.
type ring struct {
	data      []state.Snapshot
	head      int
	count     int
	latest    state.Snapshot
	hasLatest bool
}

func newRing(capacity int) *ring {
	return &ring{data: make([]state.Snapshot, capacity)}
}

func (r *ring) push(snap state.Snapshot) bool {
	if r.hasLatest && !snap.Timestamp.After(r.latest.Timestamp) {
		return false
	}
	if r.count == len(r.data) {
		r.head = (r.head + 1) % len(r.data)
		r.count--
	}
	idx := (r.head + r.count) % len(r.data)
	r.data[idx] = snap
	r.count++
	r.latest = snap
	r.hasLatest = true
	return true
}

func (r *ring) at(i int) state.Snapshot {
	return r.data[(r.head+i)%len(r.data)]
}

func (r *ring) samples() []state.Snapshot {
	if r.count == 0 {
		return nil
	}
	out := make([]state.Snapshot, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.at(i)
	}
	return out
}

func (r *ring) evictOlderThan(cutoff time.Time) int {
	evicted := 0
	for r.count > 0 && r.at(0).Timestamp.Before(cutoff) {
		r.data[r.head] = state.Snapshot{}
		r.head = (r.head + 1) % len(r.data)
		r.count--
		evicted++
	}
	if r.count == 0 {
		r.head = 0
	}
	return evicted
}

// StateBuffer keeps a bounded, time-ordered snapshot history per remote
// entity. It has a single writer (inbound dispatch) and is not safe for
// concurrent use.
type StateBuffer struct {
	capacity int
	rings    map[string]*ring
}

// New constructs a buffer retaining up to capacity snapshots per entity.
func New(capacity int) *StateBuffer {
	if capacity < 2 {
		capacity = DefaultCapacity
	}
	return &StateBuffer{
		capacity: capacity,
		rings:    make(map[string]*ring),
	}
}

// Capacity reports the per-entity snapshot limit.
func (b *StateBuffer) Capacity() int {
	if b == nil {
		return 0
	}
	return b.capacity
}

// Push appends a snapshot for the entity. Snapshots whose timestamp does not
// advance past the newest stored one are ignored and Push returns false. When
// the ring is full the oldest sample is dropped.
func (b *StateBuffer) Push(entityID string, snap state.Snapshot) bool {
	if b == nil || entityID == "" {
		return false
	}
	r, ok := b.rings[entityID]
	if !ok {
		r = newRing(b.capacity)
		b.rings[entityID] = r
	}
	snap.EntityID = entityID
	return r.push(snap)
}

// SamplesFor returns a copy of the buffered snapshots in ascending timestamp
// order.
func (b *StateBuffer) SamplesFor(entityID string) []state.Snapshot {
	if b == nil {
		return nil
	}
	r, ok := b.rings[entityID]
	if !ok {
		return nil
	}
	return r.samples()
}

// Latest returns the newest snapshot ever accepted for the entity, even if it
// has since been evicted from the history window.
func (b *StateBuffer) Latest(entityID string) (state.Snapshot, bool) {
	if b == nil {
		return state.Snapshot{}, false
	}
	r, ok := b.rings[entityID]
	if !ok || !r.hasLatest {
		return state.Snapshot{}, false
	}
	return r.latest, true
}

// Len reports the number of buffered snapshots for the entity.
func (b *StateBuffer) Len(entityID string) int {
	if b == nil {
		return 0
	}
	if r, ok := b.rings[entityID]; ok {
		return r.count
	}
	return 0
}

// Has reports whether the entity has a buffer.
func (b *StateBuffer) Has(entityID string) bool {
	if b == nil {
		return false
	}
	_, ok := b.rings[entityID]
	return ok
}

// EvictOlderThan drops snapshots for the entity with timestamps before cutoff
// and returns how many were removed.
func (b *StateBuffer) EvictOlderThan(entityID string, cutoff time.Time) int {
	if b == nil {
		return 0
	}
	r, ok := b.rings[entityID]
	if !ok {
		return 0
	}
	return r.evictOlderThan(cutoff)
}

// EvictAllOlderThan applies EvictOlderThan to every entity.
func (b *StateBuffer) EvictAllOlderThan(cutoff time.Time) int {
	if b == nil {
		return 0
	}
	total := 0
	for _, r := range b.rings {
		total += r.evictOlderThan(cutoff)
	}
	return total
}

// Remove drops the entity's buffer entirely.
func (b *StateBuffer) Remove(entityID string) {
	if b == nil {
		return
	}
	delete(b.rings, entityID)
}

// Clear drops every buffer.
func (b *StateBuffer) Clear() {
	if b == nil {
		return
	}
	b.rings = make(map[string]*ring)
}

// Entities lists the buffered entity IDs in sorted order.
func (b *StateBuffer) Entities() []string {
	if b == nil || len(b.rings) == 0 {
		return nil
	}
	ids := make([]string, 0, len(b.rings))
	for id := range b.rings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

package interp

import (
	"time"

	"arena/netsync/internal/state"
	"arena/netsync/internal/vmath"
)

// DefaultMaxExtrapolation caps how far past the newest sample a transform is
// projected.
const DefaultMaxExtrapolation = 250 * time.Millisecond

// Mode reports how a render transform was produced.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeInterpolated
	ModeExtrapolated
	ModeHeld
)

func (m Mode) String() string {
	switch m {
	case ModeInterpolated:
		return "interpolated"
	case ModeExtrapolated:
		return "extrapolated"
	case ModeHeld:
		return "held"
	default:
		return "none"
	}
}

// RenderState is the smoothed transform for one entity at one frame. It is
// derived data and never fed back into authoritative state.
type RenderState struct {
	EntityID   string
	Transform  state.Transform
	Mode       Mode
	Alpha      float64
	RenderTime time.Time
}

// Source supplies buffered snapshots. *buffer.StateBuffer satisfies it.
type Source interface {
	SamplesFor(entityID string) []state.Snapshot
	Latest(entityID string) (state.Snapshot, bool)
}

// Config wires the interpolator to the adaptive delay and feature flags.
type Config struct {
	Delay            func() time.Duration
	Extrapolate      func() bool
	MaxExtrapolation time.Duration
}

// Interpolator computes render transforms from buffered snapshots.
type Interpolator struct {
	source           Source
	delay            func() time.Duration
	extrapolate      func() bool
	maxExtrapolation time.Duration
}

// New constructs an interpolator reading from source.
func New(source Source, cfg Config) *Interpolator {
	maxExtra := cfg.MaxExtrapolation
	if maxExtra <= 0 {
		maxExtra = DefaultMaxExtrapolation
	}
	return &Interpolator{
		source:           source,
		delay:            cfg.Delay,
		extrapolate:      cfg.Extrapolate,
		maxExtrapolation: maxExtra,
	}
}

// Delay returns the delay currently applied behind wall-clock time.
func (i *Interpolator) Delay() time.Duration {
	if i == nil || i.delay == nil {
		return 0
	}
	return i.delay()
}

func (i *Interpolator) extrapolationEnabled() bool {
	return i.extrapolate != nil && i.extrapolate()
}

// Render computes the transform for entityID at renderTime = now - delay.
// Unknown entities report false.
func (i *Interpolator) Render(entityID string, now time.Time) (RenderState, bool) {
	if i == nil || i.source == nil {
		return RenderState{}, false
	}
	renderTime := now.Add(-i.Delay())
	samples := i.source.SamplesFor(entityID)
	if len(samples) == 0 {
		latest, ok := i.source.Latest(entityID)
		if !ok {
			return RenderState{}, false
		}
		return held(entityID, latest, renderTime), true
	}

	oldest := samples[0]
	// Before the window, hold the oldest sample: jumping to the newest would
	// snap forward and then replay the same path once render time catches up.
	if renderTime.Before(oldest.Timestamp) {
		return held(entityID, oldest, renderTime), true
	}

	for idx := 0; idx+1 < len(samples); idx++ {
		from := samples[idx]
		to := samples[idx+1]
		if renderTime.Before(from.Timestamp) || renderTime.After(to.Timestamp) {
			continue
		}
		alpha := fraction(from.Timestamp, to.Timestamp, renderTime)
		return RenderState{
			EntityID:   entityID,
			Transform:  Blend(from.Transform, to.Transform, alpha),
			Mode:       ModeInterpolated,
			Alpha:      alpha,
			RenderTime: renderTime,
		}, true
	}

	newest := samples[len(samples)-1]
	if len(samples) >= 2 && i.extrapolationEnabled() {
		prev := samples[len(samples)-2]
		return RenderState{
			EntityID:   entityID,
			Transform:  i.project(prev, newest, renderTime),
			Mode:       ModeExtrapolated,
			Alpha:      1,
			RenderTime: renderTime,
		}, true
	}
	return held(entityID, newest, renderTime), true
}

// RenderAll renders every entity in ids, skipping the unknown ones.
func (i *Interpolator) RenderAll(ids []string, now time.Time) map[string]RenderState {
	out := make(map[string]RenderState, len(ids))
	for _, id := range ids {
		if rs, ok := i.Render(id, now); ok {
			out[id] = rs
		}
	}
	return out
}

// project extends the motion between prev and newest past the newest sample.
// Orientation is held at the newest value.
func (i *Interpolator) project(prev, newest state.Snapshot, renderTime time.Time) state.Transform {
	span := newest.Timestamp.Sub(prev.Timestamp).Seconds()
	ahead := renderTime.Sub(newest.Timestamp)
	if ahead > i.maxExtrapolation {
		ahead = i.maxExtrapolation
	}
	out := newest.Transform.Normalized()
	if span <= 0 || ahead <= 0 {
		return out
	}
	velocity := newest.Transform.Position.Sub(prev.Transform.Position).Scale(1 / span)
	out.Position = newest.Transform.Position.Add(velocity.Scale(ahead.Seconds()))
	out.Velocity = velocity
	return out
}

// Blend interpolates two transforms: positions and velocities linearly,
// orientation spherically. alpha is clamped to [0,1].
func Blend(from, to state.Transform, alpha float64) state.Transform {
	alpha = vmath.Clamp(alpha, 0, 1)
	a := from.Normalized()
	b := to.Normalized()
	return state.Transform{
		Position:    vmath.Lerp(a.Position, b.Position, alpha),
		Orientation: vmath.Slerp(a.Orientation, b.Orientation, alpha),
		Velocity:    vmath.Lerp(a.Velocity, b.Velocity, alpha),
	}
}

func held(entityID string, snap state.Snapshot, renderTime time.Time) RenderState {
	return RenderState{
		EntityID:   entityID,
		Transform:  snap.Transform.Normalized(),
		Mode:       ModeHeld,
		Alpha:      1,
		RenderTime: renderTime,
	}
}

func fraction(from, to, at time.Time) float64 {
	span := to.Sub(from)
	if span <= 0 {
		return 1
	}
	return vmath.Clamp(float64(at.Sub(from))/float64(span), 0, 1)
}

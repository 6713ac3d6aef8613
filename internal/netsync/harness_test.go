package netsync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"arena/netsync/internal/net/proto"
	"arena/netsync/internal/net/transport"
	"arena/netsync/internal/recorder"
	"arena/netsync/internal/telemetry"
	"arena/netsync/internal/vmath"
	"arena/netsync/logging/sinks"
)

var t0 = time.UnixMilli(1_700_000_000_000)

const localID = "local"

type fakeClock struct {
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.now = c.now.Add(d)
	return c.now
}

type fakeTransport struct {
	events      chan transport.Event
	sent        [][]byte
	connectErr  error
	sendErr     error
	connects    int
	disconnects int
	nextID      uint64
	current     uint64
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan transport.Event, 16)}
}

func (f *fakeTransport) Connect(_ context.Context, _, _ string) error {
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.nextID++
	f.current = f.nextID
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.disconnects++
	if f.current == 0 {
		return transport.ErrNotConnected
	}
	f.current = 0
	return nil
}

func (f *fakeTransport) Send(frame []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeTransport) Events() <-chan transport.Event { return f.events }

func (f *fakeTransport) ConnectionID() uint64 { return f.current }

type captureRecorder struct {
	stats  []recorder.StatsSample
	events []recorder.EventRecord
}

func (c *captureRecorder) RecordStats(_ context.Context, sample recorder.StatsSample) error {
	c.stats = append(c.stats, sample)
	return nil
}

func (c *captureRecorder) RecordEvent(_ context.Context, event recorder.EventRecord) error {
	c.events = append(c.events, event)
	return nil
}

func (c *captureRecorder) Close() error { return nil }

type harness struct {
	t         *testing.T
	sync      *Synchronizer
	transport *fakeTransport
	clock     *fakeClock
	events    *sinks.MemorySink
	metrics   *telemetry.Counters
	recorder  *captureRecorder
}

func newHarness(t *testing.T, configure ...func(*Config, *Deps)) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		transport: newFakeTransport(),
		clock:     &fakeClock{now: t0},
		events:    sinks.NewMemorySink(),
		metrics:   telemetry.NewCounters(),
		recorder:  &captureRecorder{},
	}
	cfg := DefaultConfig()
	cfg.Identity = "tester"
	deps := Deps{
		Transport: h.transport,
		Codec:     proto.JSONCodec{},
		Clock:     h.clock,
		Publisher: h.events,
		Metrics:   h.metrics,
		Recorder:  h.recorder,
	}
	for _, fn := range configure {
		fn(&cfg, &deps)
	}
	s, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.sync = s
	return h
}

func (h *harness) connect() {
	h.t.Helper()
	if err := h.sync.Connect(context.Background(), "ws://arena.test/ws", "tester"); err != nil {
		h.t.Fatalf("connect failed: %v", err)
	}
}

func (h *harness) deliver(msg proto.Message) {
	h.t.Helper()
	frame, err := proto.Encode(proto.JSONCodec{}, msg)
	if err != nil {
		h.t.Fatalf("encode %s failed: %v", msg.MessageType(), err)
	}
	h.sync.HandleMessage(frame)
}

func entity(id string, x float64) proto.EntityPayload {
	return proto.EntityPayload{
		ID:       id,
		Team:     "red",
		Position: vmath.Vec3{X: x},
		Health:   100,
		Weapon:   "rifle",
		Ammo:     30,
	}
}

// activate connects and delivers an initial state containing the local
// entity at the origin plus remotes. The server clock matches the test clock.
func (h *harness) activate(remotes ...proto.EntityPayload) {
	h.t.Helper()
	h.connect()
	h.deliver(h.initialState(remotes...))
	if h.sync.State() != StateActive {
		h.t.Fatalf("expected active after initial state, got %s", h.sync.State())
	}
}

func (h *harness) initialState(remotes ...proto.EntityPayload) proto.InitialState {
	entities := append([]proto.EntityPayload{entity(localID, 0)}, remotes...)
	return proto.InitialState{
		LocalEntityID: localID,
		Entities:      entities,
		ServerTime:    h.clock.now.UnixMilli(),
	}
}

func (h *harness) sentTypes() []string {
	var types []string
	for _, frame := range h.transport.sent {
		header, _, err := proto.JSONCodec{}.DecodeEnvelope(frame)
		if err != nil {
			h.t.Fatalf("sent frame is not an envelope: %v", err)
		}
		types = append(types, header.Type)
	}
	return types
}

func (h *harness) lastSent(msgType string, v any) {
	h.t.Helper()
	for i := len(h.transport.sent) - 1; i >= 0; i-- {
		header, payload, err := proto.JSONCodec{}.DecodeEnvelope(h.transport.sent[i])
		if err != nil {
			h.t.Fatalf("sent frame is not an envelope: %v", err)
		}
		if header.Type != msgType {
			continue
		}
		if err := json.Unmarshal(payload, v); err != nil {
			h.t.Fatalf("decode %s payload: %v", msgType, err)
		}
		return
	}
	h.t.Fatalf("no %s frame sent; sent %v", msgType, h.sentTypes())
}

func ms(base time.Time, offset int) int64 {
	return base.Add(time.Duration(offset) * time.Millisecond).UnixMilli()
}

func ptr[T any](v T) *T {
	return &v
}

// Package netsync keeps the client's view of a match consistent with the
// authoritative server. A Synchronizer owns every piece of mutable netcode
// state and is driven from a single goroutine: transport events and the fixed
// rate tick are serialized by Run.
package netsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"arena/netsync/internal/buffer"
	"arena/netsync/internal/interp"
	"arena/netsync/internal/latency"
	"arena/netsync/internal/ledger"
	"arena/netsync/internal/net/proto"
	"arena/netsync/internal/net/transport"
	"arena/netsync/internal/predict"
	"arena/netsync/internal/projectile"
	"arena/netsync/internal/recorder"
	"arena/netsync/internal/state"
	"arena/netsync/internal/telemetry"
	"arena/netsync/logging"
	"arena/netsync/logging/lifecycle"
	"arena/netsync/logging/network"
)

const (
	// DefaultTickRate is the reference update frequency in hertz.
	DefaultTickRate = 60
	// DefaultInitialStateTimeout bounds the wait for the first full snapshot.
	DefaultInitialStateTimeout = 10 * time.Second
	// maxTickDelta caps the integration step after a stall.
	maxTickDelta = 250 * time.Millisecond
)

var (
	// ErrNotConnected reports an intent issued while the session is not active.
	ErrNotConnected = errors.New("synchronizer not active")
	// ErrAlreadyConnected reports Connect outside the Disconnected state.
	ErrAlreadyConnected = errors.New("synchronizer already connected")
)

// State is the connection lifecycle phase.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateSyncing
	StateActive
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSyncing:
		return "syncing"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Transport is the connection the synchronizer drives. *transport.Session
// satisfies it.
type Transport interface {
	Connect(ctx context.Context, address, identity string) error
	Disconnect() error
	Send(frame []byte) error
	Events() <-chan transport.Event
	ConnectionID() uint64
}

// Config tunes the synchronizer. Zero values select defaults.
type Config struct {
	Identity            string
	TickRate            int
	BufferCapacity      int
	BufferRetention     time.Duration
	EventTTL            time.Duration
	InitialStateTimeout time.Duration
	MaxExtrapolation    time.Duration
	RecordInterval      time.Duration
	Features            latency.Features
}

// DefaultConfig returns the reference tuning with every smoothing technique
// enabled.
func DefaultConfig() Config {
	return Config{
		TickRate:            DefaultTickRate,
		BufferCapacity:      buffer.DefaultCapacity,
		BufferRetention:     buffer.DefaultRetention,
		EventTTL:            ledger.DefaultTTL,
		InitialStateTimeout: DefaultInitialStateTimeout,
		MaxExtrapolation:    interp.DefaultMaxExtrapolation,
		RecordInterval:      recorder.DefaultInterval,
		Features:            latency.DefaultFeatures(),
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.TickRate <= 0 {
		c.TickRate = defaults.TickRate
	}
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = defaults.BufferCapacity
	}
	if c.BufferRetention <= 0 {
		c.BufferRetention = defaults.BufferRetention
	}
	if c.EventTTL <= 0 {
		c.EventTTL = defaults.EventTTL
	}
	if c.InitialStateTimeout <= 0 {
		c.InitialStateTimeout = defaults.InitialStateTimeout
	}
	if c.MaxExtrapolation <= 0 {
		c.MaxExtrapolation = defaults.MaxExtrapolation
	}
	if c.RecordInterval <= 0 {
		c.RecordInterval = defaults.RecordInterval
	}
	return c
}

// Deps injects collaborators. Only Transport is required.
type Deps struct {
	Transport Transport
	Codec     proto.Codec
	Clock     logging.Clock
	Publisher logging.Publisher
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Recorder  recorder.Recorder
	// Apply overrides the local movement rule used for prediction.
	Apply predict.ApplyFunc
	// OnFrame receives every frame produced by Run.
	OnFrame func(Frame)
}

type counters struct {
	received           uint64
	sent               uint64
	bytesReceived      uint64
	bytesSent          uint64
	malformed          uint64
	dropped            uint64
	outOfOrder         uint64
	unknownUpdates     uint64
	resyncRequests     uint64
	sendErrors         uint64
	faults             uint64
	consumedEvents     uint64
	expiredEvents      uint64
	expiredProjectiles uint64
}

// Synchronizer is the netcode facade. It is not safe for concurrent use:
// every method must be called from the goroutine running Run, or before Run
// starts.
type Synchronizer struct {
	cfg       Config
	transport Transport
	codec     proto.Codec
	clock     logging.Clock
	publisher logging.Publisher
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	recorder  recorder.Recorder
	apply     predict.ApplyFunc
	onFrame   func(Frame)
	budget    time.Duration

	state       State
	conn        uint64
	syncStarted time.Time
	address     string

	tick       uint64
	lastTick   time.Time
	lastRecord time.Time
	overruns   uint64

	monitor     *latency.Monitor
	buffers     *buffer.StateBuffer
	interp      *interp.Interpolator
	engine      *predict.Engine
	localID     string
	remotes     map[string]*state.RemoteEntity
	renders     map[string]interp.RenderState
	projectiles *projectile.Store
	ledger      *ledger.Ledger
	match       state.MatchState
	hasMatch    bool
	resync      *resyncPolicy

	clockOffset time.Duration
	hasOffset   bool

	counters  counters
	stats     NetworkStats
	lastFrame Frame
}

// New constructs a disconnected synchronizer.
func New(cfg Config, deps Deps) (*Synchronizer, error) {
	if deps.Transport == nil {
		return nil, errors.New("netsync: transport is required")
	}
	cfg = cfg.withDefaults()
	codec := deps.Codec
	if codec == nil {
		codec = proto.JSONCodec{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	logger := deps.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	rec := deps.Recorder
	if rec == nil {
		rec = recorder.Nop{}
	}
	if cfg.Identity != "" {
		publisher = logging.WithFields(publisher, map[string]any{"identity": cfg.Identity})
	}

	s := &Synchronizer{
		cfg:         cfg,
		transport:   deps.Transport,
		codec:       codec,
		clock:       clock,
		publisher:   publisher,
		logger:      logger,
		metrics:     metrics,
		recorder:    rec,
		apply:       deps.Apply,
		onFrame:     deps.OnFrame,
		budget:      time.Second / time.Duration(cfg.TickRate),
		monitor:     latency.NewMonitor(cfg.Features),
		buffers:     buffer.New(cfg.BufferCapacity),
		remotes:     make(map[string]*state.RemoteEntity),
		renders:     make(map[string]interp.RenderState),
		projectiles: projectile.NewStore(),
		ledger:      ledger.New(cfg.EventTTL, clock.Now),
		resync:      newResyncPolicy(),
	}
	s.interp = interp.New(s.buffers, interp.Config{
		Delay:            s.monitor.InterpolationDelay,
		Extrapolate:      func() bool { return s.monitor.Features().Extrapolation },
		MaxExtrapolation: cfg.MaxExtrapolation,
	})
	return s, nil
}

// State reports the lifecycle phase.
func (s *Synchronizer) State() State {
	return s.state
}

// Connect opens the transport and waits for the handshake. On success the
// synchronizer is Syncing until the server's initial state arrives. Failures
// return the synchronizer to Disconnected; retrying is the caller's job.
func (s *Synchronizer) Connect(ctx context.Context, address, identity string) error {
	if s.state != StateDisconnected {
		return ErrAlreadyConnected
	}
	if identity == "" {
		identity = s.cfg.Identity
	}
	s.setState(StateConnecting, "connect "+address)
	if err := s.transport.Connect(ctx, address, identity); err != nil {
		s.setState(StateDisconnected, err.Error())
		return fmt.Errorf("connect %s: %w", address, err)
	}
	s.address = address
	s.conn = s.transport.ConnectionID()
	s.syncStarted = s.clock.Now()
	s.setState(StateSyncing, "handshake complete")
	return nil
}

// Disconnect closes the transport and clears remote state. It is idempotent.
func (s *Synchronizer) Disconnect() error {
	if s.state == StateDisconnected {
		return nil
	}
	err := s.transport.Disconnect()
	s.conn = 0
	s.resetRemote("local disconnect")
	s.setState(StateDisconnected, "local disconnect")
	if err != nil && !errors.Is(err, transport.ErrNotConnected) {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// HandleEvent applies one transport event. Events from a connection other
// than the current one are ignored.
func (s *Synchronizer) HandleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		if s.conn == 0 && s.state != StateDisconnected {
			s.conn = ev.Conn
		}
	case transport.EventDisconnected:
		if s.state == StateDisconnected || ev.Conn != s.conn {
			return
		}
		reason := "transport closed"
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		s.conn = 0
		s.resetRemote(reason)
		s.setState(StateDisconnected, reason)
	case transport.EventMessage:
		if ev.Conn != s.conn {
			s.counters.dropped++
			s.metrics.Add(telemetry.KeyDroppedMessages, 1)
			return
		}
		arrival := ev.At
		if arrival.IsZero() {
			arrival = s.clock.Now()
		}
		s.handleFrame(ev.Payload, arrival)
	}
}

func (s *Synchronizer) setState(next State, reason string) {
	if s.state == next {
		return
	}
	prev := s.state
	s.state = next
	network.ConnectionState(context.Background(), s.publisher, s.tick, network.ConnectionStatePayload{
		From:   prev.String(),
		To:     next.String(),
		Reason: reason,
	}, nil)
	s.logger.Printf("[netsync] %s -> %s (%s)", prev, next, reason)
}

// resetRemote drops everything derived from the server session. The local
// entity and its sequence counter survive for the next connection.
func (s *Synchronizer) resetRemote(reason string) {
	payload := lifecycle.SessionResetPayload{
		Reason:      reason,
		Entities:    len(s.remotes),
		Projectiles: s.projectiles.Len(),
		Events:      s.ledger.Len(),
	}
	s.remotes = make(map[string]*state.RemoteEntity)
	s.renders = make(map[string]interp.RenderState)
	s.buffers.Clear()
	s.projectiles.Clear()
	s.ledger.Clear()
	s.resync.reset()
	s.hasOffset = false
	s.clockOffset = 0
	lifecycle.SessionReset(context.Background(), s.publisher, s.tick, payload, nil)
}

// SetFeatures toggles prediction, reconciliation and extrapolation at runtime.
func (s *Synchronizer) SetFeatures(features latency.Features) {
	s.monitor.SetFeatures(features)
}

// Features reports the active smoothing techniques.
func (s *Synchronizer) Features() latency.Features {
	return s.monitor.Features()
}

func (s *Synchronizer) newEngine(local state.LocalEntityState) *predict.Engine {
	return predict.NewEngine(local, predict.Options{
		Apply:     s.apply,
		Predict:   func() bool { return s.monitor.Features().Prediction },
		Reconcile: func() bool { return s.monitor.Features().Reconciliation },
	})
}

// localTime maps a server timestamp in Unix milliseconds onto the client
// clock. The first timestamp seen fixes the offset when no ping has refined
// it yet.
func (s *Synchronizer) localTime(serverMillis int64, arrival time.Time) time.Time {
	if serverMillis <= 0 {
		return arrival
	}
	server := time.UnixMilli(serverMillis)
	if !s.hasOffset {
		s.clockOffset = arrival.Sub(server)
		s.hasOffset = true
	}
	return server.Add(s.clockOffset)
}

func serverStamp(serverMillis int64) time.Time {
	if serverMillis <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(serverMillis)
}

func (s *Synchronizer) remoteIDs() []string {
	ids := make([]string, 0, len(s.remotes))
	for id := range s.remotes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Synchronizer) entityRef(id string) logging.EntityRef {
	if id != "" && id == s.localID {
		return logging.Local(id)
	}
	return logging.Remote(id)
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arena/netsync/internal/telemetry"
)

var (
	// ErrConnectionTimeout reports a handshake that did not finish in time.
	ErrConnectionTimeout = errors.New("connection timeout")
	// ErrNotConnected reports an operation that needs an open connection.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnected reports Connect on an open session.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrSendQueueFull reports a frame dropped because the writer is behind.
	ErrSendQueueFull = errors.New("send queue full")
)

// IdentityHeader carries the client identity during the handshake.
const IdentityHeader = "X-Client-Identity"

// EventKind classifies session events.
type EventKind uint8

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is delivered on the Events channel. Err is the disconnect cause, nil
// for a local Disconnect.
type Event struct {
	Kind    EventKind
	Conn    uint64
	Payload []byte
	Err     error
	At      time.Time
}

// link is one websocket connection and its goroutines.
type link struct {
	id       uint64
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Session owns the websocket connection to the match server. A single write
// goroutine serializes outbound frames; inbound frames and lifecycle changes
// are delivered on Events.
type Session struct {
	cfg    Config
	events chan Event

	mu      sync.Mutex
	current *link
	nextID  uint64
}

// NewSession constructs a disconnected session.
func NewSession(cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:    cfg,
		events: make(chan Event, cfg.EventQueueSize),
	}
}

// Events returns the channel on which connection events are delivered.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Connected reports whether a connection is open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// ConnectionID identifies the open connection, matching Event.Conn. Zero
// means no connection is open.
func (s *Session) ConnectionID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0
	}
	return s.current.id
}

// Connect dials address, identifying as identity. It blocks until the
// handshake completes, ConnectTimeout elapses (ErrConnectionTimeout) or ctx
// is cancelled. There is no automatic retry.
func (s *Session) Connect(ctx context.Context, address, identity string) error {
	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.mu.Unlock()

	target, err := dialURL(address, identity)
	if err != nil {
		return err
	}
	header := s.cfg.Header.Clone()
	if header == nil {
		header = make(map[string][]string)
	}
	if identity != "" {
		header.Set(IdentityHeader, identity)
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	conn, _, err := s.cfg.Dialer.DialContext(dialCtx, target, header)
	if err != nil {
		if ctx.Err() == nil && (dialCtx.Err() != nil || isTimeout(err)) {
			return fmt.Errorf("%w: %s after %s", ErrConnectionTimeout, address, s.cfg.ConnectTimeout)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("dial %s: %w", address, ctx.Err())
		}
		return fmt.Errorf("dial %s: %w", address, err)
	}

	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrAlreadyConnected
	}
	s.nextID++
	l := &link{
		id:   s.nextID,
		conn: conn,
		send: make(chan []byte, s.cfg.SendQueueSize),
		done: make(chan struct{}),
	}
	s.current = l
	s.mu.Unlock()

	s.emit(Event{Kind: EventConnected, Conn: l.id, At: time.Now()})
	s.cfg.Logger.Printf("connected to %s as %q", address, identity)

	l.wg.Add(3)
	go s.writeLoop(l)
	go s.readLoop(l)
	go s.keepAlive(l)
	return nil
}

func dialURL(address, identity string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("invalid websocket URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid websocket URL %q: unsupported scheme", address)
	}
	if identity != "" {
		q := u.Query()
		q.Set("identity", identity)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Send queues a frame for the write goroutine without blocking.
func (s *Session) Send(frame []byte) error {
	s.mu.Lock()
	l := s.current
	s.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}
	select {
	case <-l.done:
		return ErrNotConnected
	default:
	}
	select {
	case l.send <- frame:
		return nil
	default:
		s.cfg.Metrics.Add(telemetry.KeyDroppedMessages, 1)
		return ErrSendQueueFull
	}
}

// Disconnect closes the connection with a normal-closure frame. It is a no-op
// when not connected and returns once the I/O goroutines have stopped.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	l := s.current
	s.mu.Unlock()
	if l == nil {
		return nil
	}
	s.teardown(l, nil, true)
	l.wg.Wait()
	return nil
}

// teardown closes l exactly once and emits its disconnected event.
func (s *Session) teardown(l *link, cause error, graceful bool) {
	stopped := false
	l.stopOnce.Do(func() {
		stopped = true
		close(l.done)
	})
	if !stopped {
		return
	}

	s.mu.Lock()
	if s.current == l {
		s.current = nil
	}
	s.mu.Unlock()

	if graceful {
		deadline := time.Now().Add(s.cfg.WriteTimeout)
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	}
	_ = l.conn.Close()

	if cause != nil {
		s.cfg.Logger.Printf("connection %d lost: %v", l.id, cause)
	}
	s.emitDisconnected(Event{Kind: EventDisconnected, Conn: l.id, Err: cause, At: time.Now()})
}

func (s *Session) writeLoop(l *link) {
	defer l.wg.Done()
	messageType := websocket.TextMessage
	if s.cfg.Binary {
		messageType = websocket.BinaryMessage
	}
	for {
		select {
		case <-l.done:
			return
		case frame := <-l.send:
			if err := l.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.teardown(l, fmt.Errorf("set write deadline: %w", err), false)
				return
			}
			if err := l.conn.WriteMessage(messageType, frame); err != nil {
				s.teardown(l, fmt.Errorf("write: %w", err), false)
				return
			}
			s.cfg.Metrics.Add(telemetry.KeyBytesSent, uint64(len(frame)))
		}
	}
}

func (s *Session) readLoop(l *link) {
	defer l.wg.Done()
	for {
		if err := l.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			s.teardown(l, fmt.Errorf("set read deadline: %w", err), false)
			return
		}
		_, payload, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			s.teardown(l, fmt.Errorf("read: %w", err), false)
			return
		}
		s.cfg.Metrics.Add(telemetry.KeyBytesReceived, uint64(len(payload)))
		select {
		case s.events <- Event{Kind: EventMessage, Conn: l.id, Payload: payload, At: time.Now()}:
		case <-l.done:
			return
		}
	}
}

func (s *Session) keepAlive(l *link) {
	defer l.wg.Done()
	if s.cfg.Probe == nil {
		<-l.done
		return
	}
	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case now := <-ticker.C:
			frame, err := s.cfg.Probe(now)
			if err != nil {
				s.cfg.Logger.Printf("keep-alive probe failed: %v", err)
				continue
			}
			select {
			case l.send <- frame:
			default:
				s.cfg.Metrics.Add(telemetry.KeyDroppedMessages, 1)
			}
		}
	}
}

func (s *Session) emit(ev Event) {
	s.events <- ev
}

// emitDisconnected never blocks the caller; when the queue is full the event
// is handed to a goroutine so a consumer calling Disconnect cannot deadlock.
func (s *Session) emitDisconnected(ev Event) {
	select {
	case s.events <- ev:
	default:
		go func() { s.events <- ev }()
	}
}

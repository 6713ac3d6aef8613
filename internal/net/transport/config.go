package transport

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"arena/netsync/internal/telemetry"
)

const (
	DefaultConnectTimeout    = 10 * time.Second
	DefaultKeepAliveInterval = 2 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultSendQueueSize     = 256
	DefaultEventQueueSize    = 1024
)

// ProbeFunc builds the keep-alive frame sent on every keep-alive tick.
type ProbeFunc func(now time.Time) ([]byte, error)

// Config controls a Session.
type Config struct {
	ConnectTimeout    time.Duration
	KeepAliveInterval time.Duration
	// ReadTimeout closes a connection that stays silent this long. Zero
	// selects three keep-alive intervals.
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	SendQueueSize  int
	EventQueueSize int
	// Binary sends frames as websocket binary messages instead of text.
	Binary bool
	Probe  ProbeFunc
	Header http.Header
	Dialer *websocket.Dialer

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// DefaultConfig returns the stock timeouts and queue sizes.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    DefaultConnectTimeout,
		KeepAliveInterval: DefaultKeepAliveInterval,
		WriteTimeout:      DefaultWriteTimeout,
		SendQueueSize:     DefaultSendQueueSize,
		EventQueueSize:    DefaultEventQueueSize,
	}
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * c.KeepAliveInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = DefaultEventQueueSize
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: c.ConnectTimeout,
		}
	}
	if c.Logger == nil {
		c.Logger = telemetry.NopLogger()
	}
	if c.Metrics == nil {
		c.Metrics = telemetry.NopMetrics()
	}
	return c
}

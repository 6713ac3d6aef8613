// Package recorder persists network-stat samples and consumed domain events
// for post-match lag diagnostics.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arena/netsync/internal/telemetry"
)

// Driver names accepted by Open.
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverInflux   = "influx"
)

// DefaultInterval is how often the synchronizer samples network statistics.
const DefaultInterval = 5 * time.Second

var (
	// ErrQueueFull reports a record dropped because the async writer is behind.
	ErrQueueFull = errors.New("recorder queue full")
	// ErrClosed reports a record submitted after Close.
	ErrClosed = errors.New("recorder closed")
)

// StatsSample is a point-in-time copy of the client's network statistics.
type StatsSample struct {
	Identity                 string
	At                       time.Time
	State                    string
	PingMillis               float64
	JitterMillis             float64
	InterpolationDelayMillis float64
	MessagesReceived         uint64
	MessagesSent             uint64
	MalformedMessages        uint64
	OutOfOrderSnapshots      uint64
	StaleAcknowledgments     uint64
	UnknownEntityUpdates     uint64
	PendingInputs            int
	RemoteEntities           int
	Projectiles              int
	CorrectionMeters         float64
}

// EventRecord is a consumed ledger event.
type EventRecord struct {
	Identity   string
	Kind       string
	Timestamp  time.Time
	ServerTime time.Time
	Payload    any
}

// Recorder stores samples and events. Implementations may block on I/O; wrap
// them in Async before calling from the tick loop.
type Recorder interface {
	RecordStats(ctx context.Context, sample StatsSample) error
	RecordEvent(ctx context.Context, event EventRecord) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordStats(context.Context, StatsSample) error { return nil }
func (Nop) RecordEvent(context.Context, EventRecord) error { return nil }
func (Nop) Close() error                                   { return nil }

// InfluxConfig addresses an InfluxDB v2 bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Config selects and configures a backend.
type Config struct {
	Driver    string
	DSN       string
	Interval  time.Duration
	QueueSize int
	Influx    InfluxConfig
}

// Open builds the configured backend wrapped in an Async writer. An empty
// driver yields Nop.
func Open(cfg Config, logger telemetry.Logger, metrics telemetry.Metrics) (Recorder, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var (
		backend Recorder
		err     error
	)
	switch driver {
	case "", DriverNone:
		return Nop{}, nil
	case DriverSQLite, DriverPostgres:
		db, openErr := OpenDatabase(driver, cfg.DSN)
		if openErr != nil {
			return nil, openErr
		}
		backend, err = NewGorm(db)
	case DriverInflux:
		backend, err = NewInflux(cfg.Influx, logger)
	default:
		return nil, fmt.Errorf("unknown recorder driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return NewAsync(backend, cfg.QueueSize, logger, metrics), nil
}

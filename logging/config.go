package logging

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Sink names understood by the client binary.
const (
	SinkConsole = "console"
	SinkJSON    = "json"
	SinkZerolog = "zerolog"
	SinkGELF    = "gelf"
)

const (
	defaultBacklog          = 256
	defaultDropWarnInterval = 5 * time.Second
)

// Config selects the event sinks and how the router feeds them.
type Config struct {
	Sinks []string
	// Backlog bounds each sink's queue. A full backlog drops the event for
	// that sink only.
	Backlog         int
	MinimumSeverity Severity
	// Fields are merged into every event's Extra without overriding keys the
	// publisher set.
	Fields           map[string]any
	DropWarnInterval time.Duration
	// Fallback receives the router's own warnings. Nil writes to stderr.
	Fallback *zerolog.Logger

	JSON    JSONConfig
	Console ConsoleConfig
	GELF    GELFConfig
}

// JSONConfig configures the NDJSON file sink.
type JSONConfig struct {
	FilePath      string
	FlushInterval time.Duration
}

type ConsoleConfig struct {
	UseColor bool
}

// GELFConfig addresses a Graylog UDP input.
type GELFConfig struct {
	Address string
	Host    string
}

// DefaultConfig routes info and above to the zerolog sink.
func DefaultConfig() Config {
	return Config{
		Sinks:            []string{SinkZerolog},
		Backlog:          defaultBacklog,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: defaultDropWarnInterval,
		JSON:             JSONConfig{FlushInterval: 2 * time.Second},
	}
}

func (c Config) HasSink(name string) bool {
	for _, s := range c.Sinks {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return true
		}
	}
	return false
}

func (c Config) withDefaults() Config {
	if c.Backlog <= 0 {
		c.Backlog = defaultBacklog
	}
	if c.DropWarnInterval <= 0 {
		c.DropWarnInterval = defaultDropWarnInterval
	}
	if len(c.Fields) > 0 {
		fields := make(map[string]any, len(c.Fields))
		for k, v := range c.Fields {
			fields[k] = v
		}
		c.Fields = fields
	}
	return c
}

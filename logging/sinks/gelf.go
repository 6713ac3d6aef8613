package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Graylog2/go-gelf/gelf"

	"arena/netsync/logging"
)

type gelfWriter interface {
	WriteMessage(m *gelf.Message) error
	Close() error
}

// GELF ships events to a Graylog input.
type GELF struct {
	writer gelfWriter
	host   string
}

// NewGELF dials the Graylog UDP input at cfg.Address.
func NewGELF(cfg logging.GELFConfig) (*GELF, error) {
	writer, err := gelf.NewWriter(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("dial gelf %s: %w", cfg.Address, err)
	}
	writer.Facility = "netsync"
	return newGELF(writer, cfg.Host), nil
}

func newGELF(writer gelfWriter, host string) *GELF {
	if host == "" {
		host, _ = os.Hostname()
	}
	return &GELF{writer: writer, host: host}
}

func (s *GELF) Write(event logging.Event) error {
	extra := map[string]interface{}{
		"_tick":     event.Tick,
		"_category": event.Category,
		"_actor":    entityLabel(event.Actor),
	}
	for k, v := range event.Extra {
		extra["_"+k] = v
	}
	full := ""
	if event.Payload != nil {
		if data, err := json.Marshal(event.Payload); err == nil {
			full = string(data)
		}
	}
	ts := event.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return s.writer.WriteMessage(&gelf.Message{
		Version:  "1.1",
		Host:     s.host,
		Short:    string(event.Type),
		Full:     full,
		TimeUnix: float64(ts.UnixNano()) / float64(time.Second),
		Level:    gelfLevel(event.Severity),
		Facility: "netsync",
		Extra:    extra,
	})
}

func (s *GELF) Close(context.Context) error {
	return s.writer.Close()
}

func gelfLevel(sev logging.Severity) int32 {
	switch sev {
	case logging.SeverityDebug:
		return gelf.LOG_DEBUG
	case logging.SeverityWarn:
		return gelf.LOG_WARNING
	case logging.SeverityError:
		return gelf.LOG_ERR
	default:
		return gelf.LOG_INFO
	}
}

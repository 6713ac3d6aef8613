package sinks

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"arena/netsync/logging"
)

// Zerolog forwards events to a zerolog logger at the matching level.
type Zerolog struct {
	logger zerolog.Logger
}

// NewZerolog wraps an existing logger.
func NewZerolog(logger zerolog.Logger) *Zerolog {
	return &Zerolog{logger: logger}
}

// NewZerologConsole builds a human-readable zerolog writer on w.
func NewZerologConsole(w io.Writer, noColor bool) *Zerolog {
	out := zerolog.ConsoleWriter{Out: w, NoColor: noColor, TimeFormat: "15:04:05.000"}
	return NewZerolog(zerolog.New(out).With().Timestamp().Logger())
}

func (s *Zerolog) Write(event logging.Event) error {
	entry := s.logger.WithLevel(level(event.Severity))
	if entry == nil {
		return nil
	}
	entry = entry.
		Time("eventTime", event.Time).
		Uint64("tick", event.Tick).
		Str("category", event.Category).
		Str("actor", entityLabel(event.Actor))
	if len(event.Targets) > 0 {
		targets := make([]string, 0, len(event.Targets))
		for _, target := range event.Targets {
			targets = append(targets, entityLabel(target))
		}
		entry = entry.Strs("targets", targets)
	}
	if event.Payload != nil {
		entry = entry.Interface("payload", event.Payload)
	}
	if len(event.Extra) > 0 {
		entry = entry.Fields(event.Extra)
	}
	entry.Msg(string(event.Type))
	return nil
}

func (s *Zerolog) Close(context.Context) error {
	return nil
}

func level(sev logging.Severity) zerolog.Level {
	switch sev {
	case logging.SeverityDebug:
		return zerolog.DebugLevel
	case logging.SeverityWarn:
		return zerolog.WarnLevel
	case logging.SeverityError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

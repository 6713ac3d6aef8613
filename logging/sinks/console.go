package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"arena/netsync/logging"
)

const consoleTimeLayout = "15:04:05.000"

var severityColors = map[logging.Severity]string{
	logging.SeverityDebug: "\x1b[90m",
	logging.SeverityWarn:  "\x1b[33m",
	logging.SeverityError: "\x1b[31m",
}

// ConsoleSink renders events as single key=value lines for a terminal.
type ConsoleSink struct {
	mu       sync.Mutex
	w        io.Writer
	useColor bool
	buf      strings.Builder
}

func NewConsoleSink(w io.Writer, cfg logging.ConsoleConfig) *ConsoleSink {
	if w == nil {
		w = io.Discard
	}
	return &ConsoleSink{w: w, useColor: cfg.UseColor}
}

func (s *ConsoleSink) Write(event logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Reset()
	s.buf.WriteString(event.Time.Format(consoleTimeLayout))
	s.buf.WriteByte(' ')
	s.writeSeverity(event.Severity)
	fmt.Fprintf(&s.buf, " %-28s tick=%d", event.Type, event.Tick)
	if actor := entityLabel(event.Actor); actor != "" {
		s.buf.WriteString(" actor=")
		s.buf.WriteString(actor)
	}
	if len(event.Targets) > 0 {
		labels := make([]string, len(event.Targets))
		for i, target := range event.Targets {
			labels[i] = entityLabel(target)
		}
		s.buf.WriteString(" targets=")
		s.buf.WriteString(strings.Join(labels, ","))
	}
	if event.Payload != nil {
		s.buf.WriteString(" payload=")
		if data, err := json.Marshal(event.Payload); err == nil {
			s.buf.Write(data)
		} else {
			fmt.Fprintf(&s.buf, "%v", event.Payload)
		}
	}
	keys := make([]string, 0, len(event.Extra))
	for k := range event.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&s.buf, " %s=%v", k, event.Extra[k])
	}
	s.buf.WriteByte('\n')

	_, err := io.WriteString(s.w, s.buf.String())
	return err
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

func (s *ConsoleSink) writeSeverity(sev logging.Severity) {
	label := fmt.Sprintf("%-5s", strings.ToUpper(sev.String()))
	color, ok := severityColors[sev]
	if !s.useColor || !ok {
		s.buf.WriteString(label)
		return
	}
	s.buf.WriteString(color)
	s.buf.WriteString(label)
	s.buf.WriteString("\x1b[0m")
}

func entityLabel(ref logging.EntityRef) string {
	switch {
	case ref.ID == "":
		return string(ref.Kind)
	case ref.Kind == "":
		return ref.ID
	default:
		return string(ref.Kind) + ":" + ref.ID
	}
}

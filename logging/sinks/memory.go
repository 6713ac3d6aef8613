package sinks

import (
	"context"
	"sync"

	"arena/netsync/logging"
)

// MemorySink keeps every event in memory. Tests use it either as a router
// sink or directly as a logging.Publisher.
type MemorySink struct {
	mu     sync.Mutex
	events []logging.Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(event logging.Event) error {
	s.mu.Lock()
	s.events = append(s.events, event.Clone())
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) Publish(_ context.Context, event logging.Event) {
	_ = s.Write(event)
}

// Events returns a snapshot of everything recorded so far.
func (s *MemorySink) Events() []logging.Event {
	return s.filter(func(logging.Event) bool { return true })
}

func (s *MemorySink) OfType(eventType logging.EventType) []logging.Event {
	return s.filter(func(e logging.Event) bool { return e.Type == eventType })
}

func (s *MemorySink) filter(keep func(logging.Event) bool) []logging.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]logging.Event, 0, len(s.events))
	for _, event := range s.events {
		if keep(event) {
			out = append(out, event)
		}
	}
	return out
}

func (s *MemorySink) Close(context.Context) error {
	return nil
}

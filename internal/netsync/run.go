package netsync

import (
	"context"
	"time"
)

// Run serializes transport events and the fixed-rate tick onto the calling
// goroutine until ctx is cancelled. OnFrame, when set, receives each frame
// and may issue intents or reconnect from inside the loop.
func (s *Synchronizer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.budget)
	defer ticker.Stop()

	events := s.transport.Events()
	for {
		select {
		case <-ctx.Done():
			if err := s.Disconnect(); err != nil {
				s.logger.Printf("[netsync] disconnect on shutdown: %v", err)
			}
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.HandleEvent(ev)
		case <-ticker.C:
			frame := s.Tick(s.clock.Now())
			if s.onFrame != nil {
				s.onFrame(frame)
			}
		}
	}
}

package netsync

import (
	"testing"
	"time"
)

func TestResyncPolicySchedulesOnUnknownRatio(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	policy := newResyncPolicy()
	for i := 0; i < 1000; i++ {
		policy.noteUpdate()
	}
	for i := 0; i < 9; i++ {
		policy.noteUnknown("ghost", now)
	}
	if signal, ok := policy.consume(now); ok {
		t.Fatalf("unexpected pending signal below threshold, got %+v", signal)
	}

	policy.noteUnknown("phantom", now)
	signal, ok := policy.consume(now)
	if !ok {
		t.Fatalf("expected resync hint after reaching threshold")
	}
	if signal.UnknownUpdates != 10 {
		t.Fatalf("expected 10 unknown updates, got %d", signal.UnknownUpdates)
	}
	if signal.TotalUpdates != 1000 {
		t.Fatalf("expected 1000 total updates, got %d", signal.TotalUpdates)
	}
	if len(signal.Entities) != 2 || signal.Entities[0] != "ghost" || signal.Entities[1] != "phantom" {
		t.Fatalf("expected distinct entity list, got %v", signal.Entities)
	}
}

func TestResyncPolicyNeedsMinimumUnknowns(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	policy := newResyncPolicy()
	policy.noteUpdate()
	policy.noteUnknown("ghost", now)
	policy.noteUpdate()
	policy.noteUnknown("ghost", now)
	if _, ok := policy.consume(now); ok {
		t.Fatalf("expected two unknown updates to be tolerated")
	}
	policy.noteUpdate()
	policy.noteUnknown("ghost", now)
	if _, ok := policy.consume(now); !ok {
		t.Fatalf("expected third unknown update to trigger")
	}
}

func TestResyncPolicyWaitsBeforeRetrying(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	policy := newResyncPolicy()
	for i := 0; i < minUnknownUpdates; i++ {
		policy.noteUpdate()
		policy.noteUnknown("ghost", now)
	}
	if _, ok := policy.consume(now); !ok {
		t.Fatalf("expected initial request")
	}

	later := now.Add(time.Second)
	for i := 0; i < minUnknownUpdates; i++ {
		policy.noteUpdate()
		policy.noteUnknown("ghost", later)
	}
	if signal, ok := policy.consume(later); ok {
		t.Fatalf("expected retry to wait, got %+v", signal)
	}

	retry := now.Add(resyncRetryInterval)
	policy.noteUpdate()
	policy.noteUnknown("ghost", retry)
	if _, ok := policy.consume(retry); !ok {
		t.Fatalf("expected retry after interval")
	}
}

func TestResyncPolicyResetClearsOutstandingRequest(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	policy := newResyncPolicy()
	for i := 0; i < minUnknownUpdates; i++ {
		policy.noteUnknown("ghost", now)
	}
	if _, ok := policy.consume(now); !ok {
		t.Fatalf("expected request")
	}
	policy.reset()
	for i := 0; i < minUnknownUpdates; i++ {
		policy.noteUnknown("ghost", now)
	}
	if _, ok := policy.consume(now); !ok {
		t.Fatalf("expected reset to allow an immediate request")
	}
}

func TestResyncSignalSummary(t *testing.T) {
	if summary := (resyncSignal{}).summary(); summary != "" {
		t.Fatalf("expected empty summary, got %q", summary)
	}
	summary := resyncSignal{UnknownUpdates: 3, TotalUpdates: 40, Entities: []string{"ghost"}}.summary()
	if summary != "unknown_updates=3 total_updates=40 entities=[ghost]" {
		t.Fatalf("unexpected summary %q", summary)
	}
}

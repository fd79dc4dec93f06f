package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_RejectsBadSpec(t *testing.T) {
	if _, err := New("not a cron", func(context.Context) error { return nil }, nil); err == nil {
		t.Fatalf("expected error for invalid cron spec")
	}
	if _, err := New("@daily", nil, nil); err == nil {
		t.Fatalf("expected error for nil run func")
	}
}

func TestNext(t *testing.T) {
	s, err := New("0 3 * * *", func(context.Context) error { return nil }, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	from := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	next := s.Next(from)
	if next.Hour() != 3 || !next.After(from) {
		t.Fatalf("expected next 03:00 after %v, got %v", from, next)
	}

	daily, err := New("@daily", func(context.Context) error { return nil }, nil)
	if err != nil {
		t.Fatalf("new daily: %v", err)
	}
	if got := daily.Next(from); got.Day() != 2 || got.Hour() != 0 {
		t.Fatalf("expected next midnight, got %v", got)
	}
}

func TestScheduler_FiresAndStops(t *testing.T) {
	var fired atomic.Int32
	// seconds-resolution spec: fires every second
	s, err := New("* * * * * * *", func(context.Context) error {
		fired.Add(1)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	deadline := time.After(5 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("scheduler never fired")
		case <-time.After(50 * time.Millisecond):
		}
	}
	s.Stop()
	after := fired.Load()
	time.Sleep(1500 * time.Millisecond)
	if fired.Load() > after+1 {
		t.Fatalf("scheduler kept firing after Stop: %d -> %d", after, fired.Load())
	}
}

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextAlignsToBoundary(t *testing.T) {
	s := New(Options{Interval: 15 * time.Minute, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2025, 8, 27, 12, 7, 33, 0, time.UTC)
	want := time.Date(2025, 8, 27, 12, 15, 0, 0, time.UTC)
	if got := s.next(now); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}

	// exactly on a boundary schedules the following one
	now = time.Date(2025, 8, 27, 12, 15, 0, 0, time.UTC)
	want = time.Date(2025, 8, 27, 12, 30, 0, 0, time.UTC)
	if got := s.next(now); !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestNextUnalignedOffsetsFromNow(t *testing.T) {
	s := New(Options{Interval: time.Minute}, zerolog.Nop())
	now := time.Date(2025, 8, 27, 12, 7, 33, 0, time.UTC)
	if got := s.next(now); !got.Equal(now.Add(time.Minute)) {
		t.Fatalf("unaligned next should be now+interval, got %s", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error { return nil })
	}()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}

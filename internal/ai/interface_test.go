package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBatchPollerGrowsAndCaps(t *testing.T) {
	p := newBatchPoller(time.Millisecond, 3*time.Millisecond, time.Minute)
	ctx := context.Background()

	prev := time.Duration(0)
	for i := 0; i < 6; i++ {
		if err := p.Wait(ctx, "batch_1"); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
		if p.interval < prev {
			t.Fatalf("interval shrank: %v -> %v", prev, p.interval)
		}
		if p.interval > 3*time.Millisecond {
			t.Fatalf("interval exceeds cap: %v", p.interval)
		}
		prev = p.interval
	}
	if p.interval != 3*time.Millisecond {
		t.Fatalf("interval never reached cap: %v", p.interval)
	}
}

func TestBatchPollerDeadline(t *testing.T) {
	p := newBatchPoller(time.Millisecond, time.Millisecond, 0)
	err := p.Wait(context.Background(), "batch_1")
	if err == nil {
		t.Fatal("expected deadline error")
	}
	// The error names the stuck batch so logs point at the provider side.
	if !strings.Contains(err.Error(), "batch_1") {
		t.Fatalf("batch id missing from error: %v", err)
	}
}

func TestBatchPollerHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newBatchPoller(time.Hour, time.Hour, time.Hour)
	if err := p.Wait(ctx, "batch_1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

package embed

import (
	"context"
	"testing"
	"time"
)

func TestBatchPollerGrowsAndCaps(t *testing.T) {
	p := newBatchPoller(time.Millisecond, 3*time.Millisecond, time.Minute)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if err := p.Wait(ctx, "batch_1"); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
		if p.interval > 3*time.Millisecond {
			t.Fatalf("interval exceeds cap: %v", p.interval)
		}
	}
	if p.interval != 3*time.Millisecond {
		t.Fatalf("interval never reached cap: %v", p.interval)
	}
}

func TestBatchPollerDeadline(t *testing.T) {
	p := newBatchPoller(time.Millisecond, time.Millisecond, 0)
	if err := p.Wait(context.Background(), "batch_1"); err == nil {
		t.Fatal("expected deadline error")
	}
}

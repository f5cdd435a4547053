package services

import (
	"context"
	"testing"
	"time"
)

func TestMessageRateLimiter_BurstThenPaced(t *testing.T) {
	rl := NewMessageRateLimiter(100, 2)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := rl.Wait(ctx, "user-1"); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 5*time.Millisecond {
		t.Errorf("burst should not block, took %v", elapsed)
	}

	// Third message exceeds the burst and must be paced (~10ms at 100/s).
	if err := rl.Wait(ctx, "user-1"); err != nil {
		t.Fatalf("paced wait: %v", err)
	}
}

func TestMessageRateLimiter_IdentitiesIndependent(t *testing.T) {
	rl := NewMessageRateLimiter(1, 1)
	ctx := context.Background()

	if err := rl.Wait(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := rl.Wait(ctx, "user-2"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("user-2 should not be throttled by user-1, took %v", elapsed)
	}
}

func TestMessageRateLimiter_CancelUnblocks(t *testing.T) {
	rl := NewMessageRateLimiter(0.1, 1)

	if err := rl.Wait(context.Background(), "user-1"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx, "user-1"); err == nil {
		t.Fatal("expected cancellation error while throttled")
	}
}

func TestMessageRateLimiter_ForgetResetsBudget(t *testing.T) {
	rl := NewMessageRateLimiter(0.1, 1)
	ctx := context.Background()

	if err := rl.Wait(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}
	rl.Forget("user-1")

	start := time.Now()
	if err := rl.Wait(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("fresh limiter should allow an immediate message, took %v", elapsed)
	}
}

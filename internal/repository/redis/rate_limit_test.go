package redis

import (
	"context"
	"testing"
	"time"
)

func TestRateLimitRepository_Hit(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "rl"})

	ctx := context.Background()
	window := time.Minute
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	first, err := repo.Hit(ctx, "login:10.0.0.1", 2, window, start)
	if err != nil {
		t.Fatalf("Hit returned error: %v", err)
	}
	if !first.Allowed || first.Count != 1 || !first.Oldest.Equal(start) {
		t.Fatalf("unexpected first decision %+v", first)
	}

	second, _ := repo.Hit(ctx, "login:10.0.0.1", 2, window, start.Add(10*time.Second))
	if !second.Allowed || second.Count != 2 {
		t.Fatalf("unexpected second decision %+v", second)
	}

	third, _ := repo.Hit(ctx, "login:10.0.0.1", 2, window, start.Add(20*time.Second))
	if third.Allowed || third.Count != 2 {
		t.Fatalf("expected third attempt to be rejected, got %+v", third)
	}
	if !third.Oldest.Equal(start) {
		t.Fatalf("expected oldest attempt %v, got %v", start, third.Oldest)
	}

	later, _ := repo.Hit(ctx, "login:10.0.0.1", 2, window, start.Add(window+time.Second))
	if !later.Allowed || later.Count != 2 {
		t.Fatalf("expected window to slide, got %+v", later)
	}

	other, _ := repo.Hit(ctx, "login:10.0.0.2", 2, window, start.Add(20*time.Second))
	if !other.Allowed || other.Count != 1 {
		t.Fatalf("identifiers must be isolated, got %+v", other)
	}
}

func TestRateLimitRepository_RejectsInvalidWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{})

	if _, err := repo.Hit(context.Background(), "x", 1, 0, time.Now()); err == nil {
		t.Fatalf("expected error for zero window")
	}
}

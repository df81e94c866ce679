package port

import (
	"context"
	"time"
)

// RateLimitDecision is the outcome of recording an attempt against a sliding window.
type RateLimitDecision struct {
	Allowed bool
	// Count includes the attempt just recorded.
	Count int
	// Oldest is the earliest attempt still inside the window.
	Oldest time.Time
}

// RateLimitStore records attempts and evaluates sliding-window limits atomically.
type RateLimitStore interface {
	Hit(ctx context.Context, identifier string, limit int, window time.Duration, at time.Time) (RateLimitDecision, error)
}

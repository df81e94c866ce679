package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/incplusplus/thermostat-accounts/internal/core/port"
)

type fakeRateLimitStore struct {
	decision port.RateLimitDecision
	err      error

	identifiers []string
	limits      []int
}

func (f *fakeRateLimitStore) Hit(_ context.Context, identifier string, limit int, _ time.Duration, _ time.Time) (port.RateLimitDecision, error) {
	f.identifiers = append(f.identifiers, identifier)
	f.limits = append(f.limits, limit)
	return f.decision, f.err
}

func newLimitedRouter(t *testing.T, store port.RateLimitStore, now time.Time) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return now })

	router := gin.New()
	router.Use(EnrichContext())
	router.POST("/login", limiter.RateLimit(RateLimitRule{
		Name:   "login",
		Limit:  5,
		Window: time.Minute,
		Identifier: func(c *gin.Context) (string, bool) {
			return "192.0.2.1", true
		},
	}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestRateLimiterAllowsWhenBelowLimit(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeRateLimitStore{decision: port.RateLimitDecision{
		Allowed: true,
		Count:   3,
		Oldest:  now.Add(-30 * time.Second),
	}}

	rr := httptest.NewRecorder()
	newLimitedRouter(t, store, now).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Fatalf("expected remaining 2, got %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != "1780308030" {
		t.Fatalf("expected reset at oldest+window, got %q", got)
	}
	if len(store.identifiers) != 1 || store.identifiers[0] != "login:192.0.2.1" || store.limits[0] != 5 {
		t.Fatalf("unexpected store calls %v %v", store.identifiers, store.limits)
	}
}

func TestRateLimiterRejectsWithProblemDetails(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeRateLimitStore{decision: port.RateLimitDecision{
		Allowed: false,
		Count:   5,
		Oldest:  now.Add(-45 * time.Second),
	}}

	rr := httptest.NewRecorder()
	newLimitedRouter(t, store, now).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "15" {
		t.Fatalf("expected Retry-After 15, got %q", got)
	}

	var problem ProblemDetails
	if err := json.Unmarshal(rr.Body.Bytes(), &problem); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if problem.Status != http.StatusTooManyRequests || problem.RetryAfter != 15 || problem.Instance != "/login" {
		t.Fatalf("unexpected problem %+v", problem)
	}
	if problem.TraceID == "" {
		t.Fatalf("expected trace id in problem details")
	}
}

func TestRateLimiterFailsOpenOnStoreError(t *testing.T) {
	store := &fakeRateLimitStore{err: errors.New("redis down")}

	rr := httptest.NewRecorder()
	newLimitedRouter(t, store, time.Now()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/login", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected request to pass when the store fails, got %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Limit") != "" {
		t.Fatalf("no headers expected without a decision")
	}
}

func TestRateLimiterSkipsInvalidRules(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &fakeRateLimitStore{}

	router := gin.New()
	router.GET("/", NewRateLimiter(store, nil).RateLimit(RateLimitRule{Name: "broken", Limit: 0, Window: time.Minute, Identifier: ClientIPIdentifier()}), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusNoContent || len(store.identifiers) != 0 {
		t.Fatalf("expected pass-through without store calls, code=%d calls=%d", rr.Code, len(store.identifiers))
	}
}

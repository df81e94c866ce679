package routes_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/incplusplus/thermostat-accounts/internal/infra/config"
	"github.com/incplusplus/thermostat-accounts/internal/infra/security"
	"github.com/incplusplus/thermostat-accounts/internal/repository/memory"
	redisrepo "github.com/incplusplus/thermostat-accounts/internal/repository/redis"
	"github.com/incplusplus/thermostat-accounts/internal/transport/http/middleware"
	httproutes "github.com/incplusplus/thermostat-accounts/internal/transport/http/routes"
	"github.com/incplusplus/thermostat-accounts/internal/usecase"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		App:     config.AppSettings{Env: "test", BaseURL: "https://console.example.com", CORSOrigins: []string{"https://console.example.com"}},
		Session: config.SessionSettings{CookieName: "THERMOSTAT_SESSION", TTL: time.Hour},
		RateLimit: config.RateLimitSettings{
			Enabled:          true,
			WindowDuration:   time.Minute,
			LoginMaxAttempts: 2,
		},
	}
}

func newAccounts(t *testing.T) *usecase.AccountService {
	t.Helper()
	log := zaptest.NewLogger(t)
	hasher, err := security.NewHasher(security.Argon2Config{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	tokens := usecase.NewTokenService(memory.NewTokenRepository(), usecase.TokenServiceConfig{}, log)
	return usecase.NewAccountService(
		memory.NewAccountRepository(),
		tokens,
		memory.NewSessionRegistry(false),
		hasher,
		security.NewPasswordPolicy(security.DefaultPolicyConfig()),
		nil,
		usecase.AccountServiceConfig{},
		log,
	)
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := httproutes.Register(httproutes.Dependencies{
		Config: testConfig(),
		Logger: zaptest.NewLogger(t),
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestMetricsEndpointServesGatherer(t *testing.T) {
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("http metrics: %v", err)
	}

	r := httproutes.Register(httproutes.Dependencies{
		Config:      testConfig(),
		Logger:      zaptest.NewLogger(t),
		HTTPMetrics: httpMetrics,
		Gatherer:    reg,
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `thermostat_accounts_http_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Fatalf("expected healthz request to be counted, got:\n%s", w.Body.String())
	}
}

func TestProtectedRoutesRequireAuthentication(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := httproutes.Register(httproutes.Dependencies{
		Config:   testConfig(),
		Logger:   zaptest.NewLogger(t),
		Accounts: newAccounts(t),
	})

	for _, target := range []string{"/loggedUsers", "/loggedUsersFromSessionRegistry", "/admin/accounts/abc"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", target, w.Code)
		}
		if w.Header().Get("WWW-Authenticate") == "" {
			t.Fatalf("%s: expected basic challenge", target)
		}
	}
}

func TestLoginIsRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := middleware.NewRateLimiter(
		redisrepo.NewRateLimitRepository(client, redisrepo.SlidingWindowConfig{KeyPrefix: "test:ratelimit"}),
		zaptest.NewLogger(t),
	)

	r := httproutes.Register(httproutes.Dependencies{
		Config:      testConfig(),
		Logger:      zaptest.NewLogger(t),
		Accounts:    newAccounts(t),
		RateLimiter: limiter,
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"carol@example.com","password":"nope"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "203.0.113.7:41000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusUnauthorized || codes[1] != http.StatusUnauthorized {
		t.Fatalf("expected first attempts to reach the handler, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected third attempt to be limited, got %v", codes)
	}
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := httproutes.Register(httproutes.Dependencies{
		Config:   testConfig(),
		Logger:   zaptest.NewLogger(t),
		Accounts: newAccounts(t),
	})

	req := httptest.NewRequest(http.MethodOptions, "/login", nil)
	req.Header.Set("Origin", "https://console.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

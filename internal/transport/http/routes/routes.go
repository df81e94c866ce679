package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/core/port"
	"github.com/incplusplus/thermostat-accounts/internal/infra/config"
	"github.com/incplusplus/thermostat-accounts/internal/infra/telemetry"
	"github.com/incplusplus/thermostat-accounts/internal/transport/http/handlers"
	"github.com/incplusplus/thermostat-accounts/internal/transport/http/middleware"
	"github.com/incplusplus/thermostat-accounts/internal/usecase"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Accounts    *usecase.AccountService
	// Dispatcher delivers notifications returned by account operations.
	// Nil falls back to logging them.
	Dispatcher  port.NotificationDispatcher
	Metrics     *telemetry.Metrics
	HTTPMetrics *middleware.HTTPMetrics
	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
	Database DatabaseChecker
	Cache    CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Config == nil {
		deps.Config = &config.AppConfig{}
	}
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.HTTPMetrics.Handler())
	if len(deps.Config.App.CORSOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.App.CORSOrigins))
	}

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("postgres", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	if deps.Accounts == nil {
		return r
	}

	cookie := middleware.SessionCookie{
		Name:   deps.Config.Session.CookieName,
		Secure: deps.Config.Session.CookieSecure,
		MaxAge: deps.Config.Session.TTL,
	}
	if cookie.Name == "" {
		cookie.Name = "THERMOSTAT_SESSION"
	}
	opts := handlers.HandlerOptions{
		Dispatcher: deps.Dispatcher,
		Metrics:    deps.Metrics,
		Cookie:     cookie,
		BaseURL:    deps.Config.App.BaseURL,
		Logger:     deps.Logger,
	}
	authMiddleware := middleware.RequireAuth(deps.Accounts, cookie, deps.Logger)
	limits := rateLimitRules(deps)

	registrationHandler := handlers.NewRegistrationHandler(deps.Accounts, opts)
	passwordHandler := handlers.NewPasswordHandler(deps.Accounts, opts)
	sessionHandler := handlers.NewSessionHandler(deps.Accounts, opts)
	adminHandler := handlers.NewAdminHandler(deps.Accounts)

	registrationHandler.RegisterRoutes(r, limits("register", deps.Config.RateLimit.RegisterMaxAttempts)...)
	passwordHandler.RegisterRoutes(r, limits("password_reset", deps.Config.RateLimit.PasswordResetMaxAttempts)...)
	sessionHandler.RegisterRoutes(r, limits("login", deps.Config.RateLimit.LoginMaxAttempts)...)

	authed := r.Group("/", authMiddleware)
	passwordHandler.RegisterAuthenticatedRoutes(authed)
	sessionHandler.RegisterAuthenticatedRoutes(authed)

	admin := authed.Group("/", middleware.RequireAuthority(domain.PrivilegeAdmin))
	adminHandler.RegisterRoutes(admin)

	return r
}

// rateLimitRules returns a builder of per-endpoint limiters keyed by client IP.
// The builder yields nothing when limiting is disabled or the limit is unset.
func rateLimitRules(deps Dependencies) func(name string, limit int) []gin.HandlerFunc {
	return func(name string, limit int) []gin.HandlerFunc {
		if deps.RateLimiter == nil || !deps.Config.RateLimit.Enabled || limit <= 0 {
			return nil
		}

		window := deps.Config.RateLimit.WindowDuration
		if window <= 0 {
			window = time.Minute
		}

		rule := middleware.RateLimitRule{
			Name:       name + "_ip",
			Limit:      limit,
			Window:     window,
			Identifier: middleware.ClientIPIdentifier(),
		}
		return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
	}
}

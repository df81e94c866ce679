package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/incplusplus/thermostat-accounts/internal/core/port"
	"github.com/incplusplus/thermostat-accounts/internal/infra/config"
	"github.com/incplusplus/thermostat-accounts/internal/infra/database"
	kafkainfra "github.com/incplusplus/thermostat-accounts/internal/infra/kafka"
	"github.com/incplusplus/thermostat-accounts/internal/infra/logger"
	redisinfra "github.com/incplusplus/thermostat-accounts/internal/infra/redis"
	"github.com/incplusplus/thermostat-accounts/internal/infra/security"
	"github.com/incplusplus/thermostat-accounts/internal/infra/telemetry"
	"github.com/incplusplus/thermostat-accounts/internal/jobs"
	"github.com/incplusplus/thermostat-accounts/internal/repository/memory"
	postgresrepo "github.com/incplusplus/thermostat-accounts/internal/repository/postgres"
	redisrepo "github.com/incplusplus/thermostat-accounts/internal/repository/redis"
	"github.com/incplusplus/thermostat-accounts/internal/transport/http/handlers"
	"github.com/incplusplus/thermostat-accounts/internal/transport/http/middleware"
	"github.com/incplusplus/thermostat-accounts/internal/transport/http/routes"
	"github.com/incplusplus/thermostat-accounts/internal/usecase"
)

// memoryPurgeInterval paces token purging when tokens live in process memory
// and the worker cannot reach them.
const memoryPurgeInterval = time.Hour

type Application struct {
	cfg       *config.AppConfig
	engine    *gin.Engine
	logger    *zap.Logger
	res       *resources
	tokens    *usecase.TokenService
	publisher *kafkainfra.Producer
	jobs      *jobs.Client
}

// resources holds the connections shared by the API and the worker.
type resources struct {
	pool   *pgxpool.Pool
	redis  *redisinfra.Client
	tracer *telemetry.TracerProvider
}

func (r *resources) close(ctx context.Context, log *zap.Logger) {
	if r.tracer != nil {
		if err := r.tracer.Shutdown(ctx); err != nil {
			log.Warn("shutdown tracer provider failed", zap.Error(err))
		}
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	if r.pool != nil {
		r.pool.Close()
	}
}

func openResources(ctx context.Context, cfg *config.AppConfig, log *zap.Logger, needRedis bool) (*resources, error) {
	res := &resources{}

	if cfg.Telemetry.TracingEnabled {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, cfg.App.Env, log)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		res.tracer = tp
	}

	if cfg.App.Storage == "postgres" {
		if cfg.Postgres.AutoMigrate {
			if err := database.Migrate(ctx, cfg.Postgres, log); err != nil {
				res.close(ctx, log)
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres, cfg.App.Name, log)
		if err != nil {
			res.close(ctx, log)
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		res.pool = pool
	}

	if needRedis {
		client, err := redisinfra.NewClient(cfg.Redis, cfg.App.Name, log)
		if err != nil {
			res.close(ctx, log)
			return nil, fmt.Errorf("init redis: %w", err)
		}
		res.redis = client
	}

	return res, nil
}

func (r *resources) accountRepositories() (port.AccountRepository, port.TokenRepository) {
	if r.pool != nil {
		repos := postgresrepo.NewRepositories(r.pool)
		return repos.Accounts, repos.Tokens
	}
	return memory.NewAccountRepository(), memory.NewTokenRepository()
}

func asynqRedisOpts(cfg config.RedisSettings) asynq.RedisClientOpt {
	opts := asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

func newHasher(cfg config.Argon2Settings) (*security.Hasher, error) {
	argonCfg := security.DefaultArgon2Config()
	if cfg.Memory > 0 {
		argonCfg = security.Argon2Config{
			Memory:      cfg.Memory,
			Iterations:  cfg.Iterations,
			Parallelism: cfg.Parallelism,
			SaltLength:  cfg.SaltLength,
			KeyLength:   cfg.KeyLength,
		}
	}
	return security.NewHasher(argonCfg)
}

func newPasswordPolicy(cfg config.PasswordPolicySettings) *security.PasswordPolicy {
	policy := security.DefaultPolicyConfig()
	if cfg.MinLength > 0 {
		policy.MinLength = cfg.MinLength
	}
	if cfg.MaxLength > 0 {
		policy.MaxLength = cfg.MaxLength
	}
	if cfg.MinClasses > 0 {
		policy.MinClasses = cfg.MinClasses
	}
	if cfg.MinScore > 0 {
		policy.MinScore = cfg.MinScore
	}
	return security.NewPasswordPolicy(policy)
}

func newTokenService(repo port.TokenRepository, cfg *config.AppConfig, metrics *telemetry.Metrics, log *zap.Logger) *usecase.TokenService {
	return usecase.NewTokenService(repo, usecase.TokenServiceConfig{
		VerificationTTL: cfg.Tokens.VerificationTTL,
		ResetTTL:        cfg.Tokens.ResetTTL,
		ClockSkew:       cfg.Tokens.ClockSkew,
	}, log).WithMetrics(metrics)
}

// New wires the HTTP API: storage, session registry, event publishing,
// mail dispatch, rate limiting and routes.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	needRedis := cfg.Session.Backend == "redis" || cfg.RateLimit.Enabled || cfg.Mail.Queue != ""
	res, err := openResources(ctx, cfg, log, needRedis)
	if err != nil {
		return nil, err
	}

	metrics, err := telemetry.NewMetrics(prometheus.DefaultRegisterer, "")
	if err != nil {
		res.close(ctx, log)
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		res.close(ctx, log)
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	hasher, err := newHasher(cfg.Argon2)
	if err != nil {
		res.close(ctx, log)
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	accountRepo, tokenRepo := res.accountRepositories()
	tokens := newTokenService(tokenRepo, cfg, metrics, log)

	var sessions port.SessionRegistry
	if cfg.Session.Backend == "redis" {
		sessions = redisrepo.NewSessionRegistry(res.redis.Client(), redisrepo.SessionConfig{
			KeyPrefix:     cfg.Redis.SessionPrefix,
			SingleSession: cfg.Session.SingleSession,
		})
	} else {
		sessions = memory.NewSessionRegistry(cfg.Session.SingleSession)
	}

	var (
		eventPublisher port.EventPublisher
		producer       *kafkainfra.Producer
	)
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, kafkainfra.ProducerOptions{
			ClientID:          cfg.App.Name,
			OnDeliveryFailure: metrics.EventDeliveryFailed,
		}, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka disabled, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	var (
		dispatcher port.NotificationDispatcher
		jobClient  *jobs.Client
	)
	if res.redis != nil && cfg.Mail.Queue != "" {
		jobClient = jobs.NewClient(asynqRedisOpts(cfg.Redis), jobs.ClientOptions{
			Queue:    cfg.Mail.Queue,
			MaxRetry: cfg.Mail.MaxRetry,
			Timeout:  cfg.Mail.Timeout,
		}, log)
		dispatcher = jobClient
	} else {
		dispatcher = handlers.NewLoggingNotificationDispatcher(log)
	}

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(redisrepo.NewRateLimitRepository(res.redis.Client(), redisrepo.SlidingWindowConfig{
			KeyPrefix: cfg.Redis.RateLimitPrefix,
		}), log)
	}

	accounts := usecase.NewAccountService(
		accountRepo,
		tokens,
		sessions,
		hasher,
		newPasswordPolicy(cfg.PasswordPolicy),
		eventPublisher,
		usecase.AccountConfigFrom(cfg),
		log,
	).WithMetrics(metrics)

	deps := routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Accounts:    accounts,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		HTTPMetrics: httpMetrics,
	}
	if res.pool != nil {
		deps.Database = res.pool
	}
	if res.redis != nil {
		deps.Cache = res.redis
	}

	return &Application{
		cfg:       cfg,
		engine:    routes.Register(deps),
		logger:    log,
		res:       res,
		tokens:    tokens,
		publisher: producer,
		jobs:      jobClient,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.res.close(shutdownCtx, a.logger)
	}()
	defer func() {
		if a.jobs != nil {
			_ = a.jobs.Close()
		}
		if a.publisher != nil {
			_ = a.publisher.Close()
		}
	}()

	if a.res.pool == nil {
		go a.purgeTokens(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting account API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("storage", a.cfg.App.Storage),
		zap.String("session_backend", a.cfg.Session.Backend),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// purgeTokens removes inactive tokens from in-memory storage until ctx ends.
func (a *Application) purgeTokens(ctx context.Context) {
	ticker := time.NewTicker(memoryPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.tokens.Purge(ctx, a.cfg.Tokens.Retention)
			if err != nil {
				a.logger.Warn("purge in-memory tokens failed", zap.Error(err))
				continue
			}
			a.logger.Debug("in-memory tokens purged", zap.Int("removed", removed))
		}
	}
}

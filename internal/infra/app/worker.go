package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/incplusplus/thermostat-accounts/internal/infra/config"
	"github.com/incplusplus/thermostat-accounts/internal/infra/logger"
	"github.com/incplusplus/thermostat-accounts/internal/infra/mail"
	"github.com/incplusplus/thermostat-accounts/internal/infra/telemetry"
	"github.com/incplusplus/thermostat-accounts/internal/jobs"
)

// Worker delivers queued account emails and runs the token purge schedule.
type Worker struct {
	worker *jobs.Worker
	logger *zap.Logger
	res    *resources
}

// NewWorker wires the background worker. Token purging is scheduled only
// when tokens are stored in PostgreSQL.
func NewWorker(ctx context.Context, cfg *config.AppConfig) (*Worker, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	res, err := openResources(ctx, cfg, log, false)
	if err != nil {
		return nil, err
	}

	sender, err := mail.NewSMTPSender(cfg.Mail, log)
	if err != nil {
		res.close(ctx, log)
		return nil, fmt.Errorf("init smtp sender: %w", err)
	}

	from := cfg.Mail.From
	if from == "" {
		from = cfg.App.SupportEmail
	}

	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskTypeSendEmail, Handler: jobs.NewMailHandler(sender, from, log)},
	}
	var cron []jobs.CronRegistration

	if res.pool != nil {
		metrics, err := telemetry.NewMetrics(prometheus.DefaultRegisterer, "")
		if err != nil {
			res.close(ctx, log)
			return nil, fmt.Errorf("init metrics: %w", err)
		}
		_, tokenRepo := res.accountRepositories()
		tokens := newTokenService(tokenRepo, cfg, metrics, log)

		handlers = append(handlers, jobs.TaskHandler{
			Type:    jobs.TaskTypePurgeTokens,
			Handler: jobs.NewPurgeHandler(tokens, cfg.Tokens.Retention, log),
		})
		cron = append(cron, jobs.CronRegistration{Spec: cfg.Tokens.PurgeCron, Task: jobs.NewPurgeTokensTask()})
	} else {
		log.Info("token purge not scheduled: tokens are kept in API process memory")
	}

	w, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynqRedisOpts(cfg.Redis),
		Logger:      log,
		Queue:       cfg.Mail.Queue,
		Concurrency: cfg.Mail.Concurrency,
		Handlers:    handlers,
		Cron:        cron,
	})
	if err != nil {
		res.close(ctx, log)
		return nil, fmt.Errorf("init worker: %w", err)
	}

	return &Worker{worker: w, logger: log, res: res}, nil
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	defer func() {
		_ = w.logger.Sync()
	}()
	defer w.res.close(context.Background(), w.logger)

	return w.worker.Run(ctx)
}

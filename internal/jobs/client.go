package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/core/port"
	"github.com/incplusplus/thermostat-accounts/internal/infra/logger"
)

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// ClientOptions tunes how mail tasks are enqueued.
type ClientOptions struct {
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

// Client submits jobs to the queue. It implements port.NotificationDispatcher.
type Client struct {
	client enqueuer
	opts   ClientOptions
	logger *zap.Logger
}

// NewClient constructs an asynq-backed client.
func NewClient(redisOpts asynq.RedisClientOpt, opts ClientOptions, log *zap.Logger) *Client {
	return newClient(asynq.NewClient(redisOpts), opts, log)
}

func newClient(e enqueuer, opts ClientOptions, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Queue == "" {
		opts.Queue = QueueDefault
	}
	return &Client{client: e, opts: opts, logger: log}
}

// EnqueueSendEmail enqueues a send-email task.
func (c *Client) EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error) {
	task, err := NewSendEmailTask(payload)
	if err != nil {
		return nil, err
	}

	options := []asynq.Option{asynq.Queue(c.opts.Queue)}
	if c.opts.MaxRetry > 0 {
		options = append(options, asynq.MaxRetry(c.opts.MaxRetry))
	}
	if c.opts.Timeout > 0 {
		options = append(options, asynq.Timeout(c.opts.Timeout))
	}

	return c.client.EnqueueContext(ctx, task, options...)
}

// Dispatch enqueues the notification for the worker to deliver.
func (c *Client) Dispatch(ctx context.Context, notification domain.Notification) error {
	info, err := c.EnqueueSendEmail(ctx, SendEmailPayload{
		Kind:      string(notification.Kind),
		AccountID: notification.AccountID,
		From:      notification.From,
		To:        notification.To,
		Subject:   notification.Subject,
		Body:      notification.Body,
	})
	if err != nil {
		return fmt.Errorf("enqueue %s email: %w", notification.Kind, err)
	}

	c.logger.Debug("notification enqueued",
		zap.String("kind", string(notification.Kind)),
		zap.String("to", logger.MaskEmail(notification.To)),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
	)
	return nil
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

var _ port.NotificationDispatcher = (*Client)(nil)

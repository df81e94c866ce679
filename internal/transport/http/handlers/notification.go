package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/core/port"
	"github.com/incplusplus/thermostat-accounts/internal/infra/logger"
	"github.com/incplusplus/thermostat-accounts/internal/infra/telemetry"
)

// LoggingNotificationDispatcher records notifications without delivering them.
// It backs setups without a mail queue. Bodies carry tokens and are not logged.
type LoggingNotificationDispatcher struct {
	logger *zap.Logger
}

// NewLoggingNotificationDispatcher constructs a notification dispatcher backed by structured logging.
func NewLoggingNotificationDispatcher(log *zap.Logger) *LoggingNotificationDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoggingNotificationDispatcher{logger: log}
}

func (d *LoggingNotificationDispatcher) Dispatch(_ context.Context, n domain.Notification) error {
	d.logger.Info("notification not delivered: no mail queue configured",
		zap.String("kind", string(n.Kind)),
		zap.String("to", logger.MaskEmail(n.To)),
		zap.String("subject", n.Subject),
	)
	return nil
}

var _ port.NotificationDispatcher = (*LoggingNotificationDispatcher)(nil)

// notifier hands notifications to the dispatcher. Failures are logged and
// never change the response.
type notifier struct {
	dispatcher port.NotificationDispatcher
	metrics    *telemetry.Metrics
	logger     *zap.Logger
}

func newNotifier(dispatcher port.NotificationDispatcher, metrics *telemetry.Metrics, log *zap.Logger) notifier {
	if log == nil {
		log = zap.NewNop()
	}
	if dispatcher == nil {
		dispatcher = NewLoggingNotificationDispatcher(log)
	}
	return notifier{dispatcher: dispatcher, metrics: metrics, logger: log}
}

func (n notifier) send(ctx context.Context, notifications ...domain.Notification) {
	for _, notification := range notifications {
		err := n.dispatcher.Dispatch(ctx, notification)
		n.metrics.NotificationDispatched(string(notification.Kind), err)
		if err != nil {
			n.logger.Warn("dispatch notification failed",
				zap.String("request_id", logger.RequestIDFromContext(ctx)),
				zap.String("kind", string(notification.Kind)),
				zap.String("to", logger.MaskEmail(notification.To)),
				zap.Error(err),
			)
		}
	}
}

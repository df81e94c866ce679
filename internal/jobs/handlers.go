package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/incplusplus/thermostat-accounts/internal/infra/logger"
)

// Sender delivers a single email.
type Sender interface {
	Send(ctx context.Context, payload SendEmailPayload) error
}

// TokenPurger removes tokens that stopped being live before now minus retention.
type TokenPurger interface {
	Purge(ctx context.Context, retention time.Duration) (int, error)
}

var errIncompletePayload = errors.New("send email payload is incomplete")

// MailHandler processes TaskTypeSendEmail tasks.
type MailHandler struct {
	sender      Sender
	defaultFrom string
	logger      *zap.Logger
}

func NewMailHandler(sender Sender, defaultFrom string, log *zap.Logger) *MailHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MailHandler{sender: sender, defaultFrom: defaultFrom, logger: log}
}

// ProcessTask implements asynq.Handler. Malformed payloads are not retried.
func (h *MailHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Warn("dropping malformed email task", zap.Error(err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if payload.From == "" {
		payload.From = h.defaultFrom
	}
	if strings.TrimSpace(payload.To) == "" || payload.From == "" {
		h.logger.Warn("dropping incomplete email task", zap.String("kind", payload.Kind))
		return fmt.Errorf("%w: %w", asynq.SkipRetry, errIncompletePayload)
	}

	if err := h.sender.Send(ctx, payload); err != nil {
		h.logger.Warn("email delivery failed",
			zap.String("kind", payload.Kind),
			zap.String("to", logger.MaskEmail(payload.To)),
			zap.Error(err),
		)
		return fmt.Errorf("deliver email: %w", err)
	}

	h.logger.Info("email delivered",
		zap.String("kind", payload.Kind),
		zap.String("to", logger.MaskEmail(payload.To)),
	)
	return nil
}

// PurgeHandler processes TaskTypePurgeTokens tasks.
type PurgeHandler struct {
	purger    TokenPurger
	retention time.Duration
	logger    *zap.Logger
}

func NewPurgeHandler(purger TokenPurger, retention time.Duration, log *zap.Logger) *PurgeHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PurgeHandler{purger: purger, retention: retention, logger: log}
}

func (h *PurgeHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	removed, err := h.purger.Purge(ctx, h.retention)
	if err != nil {
		return fmt.Errorf("purge tokens: %w", err)
	}
	h.logger.Info("inactive tokens purged",
		zap.Int("removed", removed),
		zap.Duration("retention", h.retention),
	)
	return nil
}

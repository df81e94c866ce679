package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, accountID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("stub event published",
		zap.String("event_type", eventType),
		zap.String("account_id", accountID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

func (p *StubPublisher) PublishAccountRegistered(_ context.Context, event domain.AccountRegisteredEvent) error {
	p.logEvent(EventAccountRegistered, event.AccountID, event.RegisteredAt, map[string]any{
		"status":   event.Status,
		"metadata": event.Metadata,
	})
	return nil
}

func (p *StubPublisher) PublishAccountVerified(_ context.Context, event domain.AccountVerifiedEvent) error {
	p.logEvent(EventAccountVerified, event.AccountID, event.VerifiedAt, map[string]any{
		"metadata": event.Metadata,
	})
	return nil
}

func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.logEvent(EventPasswordChanged, event.AccountID, event.ChangedAt, map[string]any{
		"changed_by":           event.ChangedBy,
		"reset_tokens_revoked": event.ResetTokensRevoked,
		"metadata":             event.Metadata,
	})
	return nil
}

func (p *StubPublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	p.logEvent(EventPasswordResetRequested, event.AccountID, event.RequestedAt, map[string]any{
		"masked_destination": event.MaskedDestination,
		"expires_at":         event.ExpiresAt,
		"metadata":           event.Metadata,
	})
	return nil
}

func (p *StubPublisher) PublishAccountDeleted(_ context.Context, event domain.AccountDeletedEvent) error {
	p.logEvent(EventAccountDeleted, event.AccountID, event.DeletedAt, map[string]any{
		"deleted_by":       event.DeletedBy,
		"sessions_revoked": event.SessionsRevoked,
		"metadata":         event.Metadata,
	})
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)

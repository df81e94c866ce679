package port

import (
	"context"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
)

// EventPublisher publishes account lifecycle events to the message bus.
type EventPublisher interface {
	PublishAccountRegistered(ctx context.Context, event domain.AccountRegisteredEvent) error
	PublishAccountVerified(ctx context.Context, event domain.AccountVerifiedEvent) error
	PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error
	PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error
	PublishAccountDeleted(ctx context.Context, event domain.AccountDeletedEvent) error
}

// NotificationDispatcher hands outbound notifications to the mail transport.
// Implementations must not block on delivery.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, notification domain.Notification) error
}

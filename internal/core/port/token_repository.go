package port

import (
	"context"
	"time"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
)

// TokenRepository persists verification and password reset tokens.
type TokenRepository interface {
	// Replace revokes every live token of the same account and kind and
	// stores token, as one atomic step. It returns the number revoked.
	Replace(ctx context.Context, token domain.Token) (int, error)
	GetByHash(ctx context.Context, hash string) (*domain.Token, error)
	// Consume marks the token used if it is still live. Only one caller
	// observes true for a given hash.
	Consume(ctx context.Context, hash string, at time.Time) (bool, error)
	RevokeForAccount(ctx context.Context, accountID string, kind domain.TokenKind, at time.Time) (int, error)
	// DeleteInactiveBefore removes tokens that expired, were consumed or
	// were revoked before the cutoff.
	DeleteInactiveBefore(ctx context.Context, before time.Time) (int, error)
}

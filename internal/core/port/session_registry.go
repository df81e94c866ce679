package port

import (
	"context"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
)

// SessionRegistry tracks the sessions of currently authenticated principals.
type SessionRegistry interface {
	Register(ctx context.Context, entry domain.SessionEntry) error
	// Unregister removes the session. Unknown handles are ignored.
	Unregister(ctx context.Context, handle string) error
	UnregisterPrincipal(ctx context.Context, principalID string) (int, error)
	Get(ctx context.Context, handle string) (*domain.SessionEntry, error)
	// ListActivePrincipals returns distinct principal ids ordered by the
	// registration time of each principal's oldest live session.
	ListActivePrincipals(ctx context.Context) ([]string, error)
	ListSessions(ctx context.Context, principalID string) ([]domain.SessionEntry, error)
}

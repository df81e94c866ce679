package port

import (
	"context"
	"time"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
)

// AccountRepository persists account records keyed by id and by email.
type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	Save(ctx context.Context, account domain.Account) error
	Delete(ctx context.Context, id string) error
	SetVerified(ctx context.Context, id string, at time.Time) error
	SetPasswordHash(ctx context.Context, id, hash string, at time.Time) error
	List(ctx context.Context) ([]domain.Account, error)
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/core/port"
	"github.com/incplusplus/thermostat-accounts/internal/repository"
)

// AccountRepository keeps accounts in process memory. It backs development
// setups and tests; every method is safe for concurrent use.
type AccountRepository struct {
	mu      sync.RWMutex
	byID    map[string]domain.Account
	byEmail map[string]string
}

// NewAccountRepository constructs an empty repository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		byID:    make(map[string]domain.Account),
		byEmail: make(map[string]string),
	}
}

func (r *AccountRepository) Create(_ context.Context, account domain.Account) error {
	account.Email = domain.NormalizeEmail(account.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[account.Email]; ok {
		return repository.ErrAlreadyExists
	}
	if _, ok := r.byID[account.ID]; ok {
		return repository.ErrAlreadyExists
	}

	r.byID[account.ID] = cloneAccount(account)
	r.byEmail[account.Email] = account.ID
	return nil
}

func (r *AccountRepository) GetByID(_ context.Context, id string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneAccount(account)
	return &out, nil
}

func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[domain.NormalizeEmail(email)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneAccount(r.byID[id])
	return &out, nil
}

// Save replaces the stored record. Last writer wins.
func (r *AccountRepository) Save(_ context.Context, account domain.Account) error {
	account.Email = domain.NormalizeEmail(account.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[account.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if current.Email != account.Email {
		if owner, taken := r.byEmail[account.Email]; taken && owner != account.ID {
			return repository.ErrAlreadyExists
		}
		delete(r.byEmail, current.Email)
		r.byEmail[account.Email] = account.ID
	}

	r.byID[account.ID] = cloneAccount(account)
	return nil
}

func (r *AccountRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(r.byID, id)
	delete(r.byEmail, account.Email)
	return nil
}

func (r *AccountRepository) SetVerified(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	if account.Status == domain.AccountStatusVerified {
		return nil
	}
	account.Status = domain.AccountStatusVerified
	account.UpdatedAt = at
	r.byID[id] = account
	return nil
}

func (r *AccountRepository) SetPasswordHash(_ context.Context, id, hash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	account.PasswordHash = hash
	account.PasswordChangedAt = at
	account.UpdatedAt = at
	r.byID[id] = account
	return nil
}

// List returns accounts ordered by creation time.
func (r *AccountRepository) List(_ context.Context) ([]domain.Account, error) {
	r.mu.RLock()
	out := make([]domain.Account, 0, len(r.byID))
	for _, account := range r.byID {
		out = append(out, cloneAccount(account))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func cloneAccount(account domain.Account) domain.Account {
	roles := make([]domain.Role, 0, len(account.Roles))
	for _, role := range account.Roles {
		roles = append(roles, domain.NewRole(role.Name, role.Privileges...))
	}
	account.Roles = roles
	return account
}

var _ port.AccountRepository = (*AccountRepository)(nil)

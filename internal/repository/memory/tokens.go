package memory

import (
	"context"
	"sync"
	"time"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/core/port"
	"github.com/incplusplus/thermostat-accounts/internal/repository"
)

// TokenRepository keeps tokens in process memory keyed by hash.
// A single mutex makes Replace and Consume atomic.
type TokenRepository struct {
	mu     sync.Mutex
	byHash map[string]*domain.Token
}

// NewTokenRepository constructs an empty repository.
func NewTokenRepository() *TokenRepository {
	return &TokenRepository{byHash: make(map[string]*domain.Token)}
}

func (r *TokenRepository) Replace(_ context.Context, token domain.Token) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byHash[token.TokenHash]; exists {
		return 0, repository.ErrAlreadyExists
	}

	revoked := r.revokeLocked(token.AccountID, token.Kind, token.CreatedAt)
	stored := token
	r.byHash[token.TokenHash] = &stored
	return revoked, nil
}

func (r *TokenRepository) GetByHash(_ context.Context, hash string) (*domain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.byHash[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *token
	return &out, nil
}

func (r *TokenRepository) Consume(_ context.Context, hash string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.byHash[hash]
	if !ok {
		return false, nil
	}
	return token.Consume(at), nil
}

func (r *TokenRepository) RevokeForAccount(_ context.Context, accountID string, kind domain.TokenKind, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.revokeLocked(accountID, kind, at), nil
}

func (r *TokenRepository) DeleteInactiveBefore(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for hash, token := range r.byHash {
		if inactiveBefore(token, before) {
			delete(r.byHash, hash)
			deleted++
		}
	}
	return deleted, nil
}

func (r *TokenRepository) revokeLocked(accountID string, kind domain.TokenKind, at time.Time) int {
	revoked := 0
	for _, token := range r.byHash {
		if token.AccountID != accountID || token.Kind != kind {
			continue
		}
		if token.Revoke(at) {
			revoked++
		}
	}
	return revoked
}

// inactiveBefore matches the purge predicate used by the SQL backend.
func inactiveBefore(token *domain.Token, before time.Time) bool {
	return token.ExpiresAt.Before(before) ||
		(token.ConsumedAt != nil && token.ConsumedAt.Before(before)) ||
		(token.RevokedAt != nil && token.RevokedAt.Before(before))
}

var _ port.TokenRepository = (*TokenRepository)(nil)

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/core/port"
	"github.com/incplusplus/thermostat-accounts/internal/repository"
)

const tokensTable = "account_tokens"

var tokenColumns = []string{
	"id",
	"account_id",
	"kind",
	"token_hash",
	"created_at",
	"expires_at",
	"consumed_at",
	"revoked_at",
}

// TokenRepository implements port.TokenRepository using PostgreSQL tables.
type TokenRepository struct {
	db      DB
	builder squirrel.StatementBuilderType
}

// NewTokenRepository constructs a new token repository.
func NewTokenRepository(db DB) *TokenRepository {
	return &TokenRepository{
		db:      db,
		builder: statementBuilder(),
	}
}

// Replace serialises writers for the (account, kind) pair with a
// transaction-scoped advisory lock, revokes live tokens and inserts token.
func (r *TokenRepository) Replace(ctx context.Context, token domain.Token) (int, error) {
	var revoked int

	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		lockKey := token.AccountID + ":" + string(token.Kind)
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", lockKey); err != nil {
			return fmt.Errorf("lock token slot: %w", err)
		}

		n, err := r.revoke(ctx, tx, token.AccountID, token.Kind, token.CreatedAt)
		if err != nil {
			return err
		}
		revoked = n

		stmt, args, err := r.builder.Insert(tokensTable).
			Columns("id", "account_id", "kind", "token_hash", "created_at", "expires_at").
			Values(token.ID, token.AccountID, string(token.Kind), token.TokenHash, token.CreatedAt, token.ExpiresAt).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert token sql: %w", err)
		}

		if _, err := tx.Exec(ctx, stmt, args...); err != nil {
			if isUniqueViolation(err) {
				return repository.ErrAlreadyExists
			}
			return fmt.Errorf("insert token: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return revoked, nil
}

// GetByHash retrieves a token by its hashed value regardless of state.
func (r *TokenRepository) GetByHash(ctx context.Context, hash string) (*domain.Token, error) {
	stmt, args, err := r.builder.Select(tokenColumns...).
		From(tokensTable).
		Where(squirrel.Eq{"token_hash": hash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select token sql: %w", err)
	}

	var (
		token      domain.Token
		kind       string
		consumedAt sql.NullTime
		revokedAt  sql.NullTime
	)

	if err := r.db.QueryRow(ctx, stmt, args...).Scan(
		&token.ID,
		&token.AccountID,
		&kind,
		&token.TokenHash,
		&token.CreatedAt,
		&token.ExpiresAt,
		&consumedAt,
		&revokedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan token: %w", err)
	}

	token.Kind = domain.TokenKind(kind)
	if consumedAt.Valid {
		t := consumedAt.Time
		token.ConsumedAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		token.RevokedAt = &t
	}

	return &token, nil
}

// Consume is a conditional update; the affected row count picks the single winner.
func (r *TokenRepository) Consume(ctx context.Context, hash string, at time.Time) (bool, error) {
	stmt, args, err := r.builder.Update(tokensTable).
		Set("consumed_at", at).
		Where(squirrel.Eq{"token_hash": hash, "consumed_at": nil, "revoked_at": nil}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build consume token sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("consume token: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// RevokeForAccount revokes all live tokens of the kind for the account.
func (r *TokenRepository) RevokeForAccount(ctx context.Context, accountID string, kind domain.TokenKind, at time.Time) (int, error) {
	return r.revoke(ctx, r.db, accountID, kind, at)
}

func (r *TokenRepository) revoke(ctx context.Context, exec pgExecutor, accountID string, kind domain.TokenKind, at time.Time) (int, error) {
	stmt, args, err := r.builder.Update(tokensTable).
		Set("revoked_at", at).
		Where(squirrel.Eq{
			"account_id":  accountID,
			"kind":        string(kind),
			"consumed_at": nil,
			"revoked_at":  nil,
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke tokens sql: %w", err)
	}

	tag, err := exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke tokens: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// DeleteInactiveBefore purges tokens that expired, were consumed or were revoked before the cutoff.
func (r *TokenRepository) DeleteInactiveBefore(ctx context.Context, before time.Time) (int, error) {
	stmt, args, err := r.builder.Delete(tokensTable).
		Where(squirrel.Or{
			squirrel.Lt{"expires_at": before},
			squirrel.Lt{"consumed_at": before},
			squirrel.Lt{"revoked_at": before},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge tokens sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

var _ port.TokenRepository = (*TokenRepository)(nil)

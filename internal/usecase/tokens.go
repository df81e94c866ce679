package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/core/port"
	"github.com/incplusplus/thermostat-accounts/internal/infra/security"
	"github.com/incplusplus/thermostat-accounts/internal/infra/telemetry"
	"github.com/incplusplus/thermostat-accounts/internal/repository"
)

const (
	defaultVerificationTTL = 24 * time.Hour
	defaultResetTTL        = 30 * time.Minute
)

// TokenServiceConfig holds per-kind lifetimes and the tolerated clock skew.
type TokenServiceConfig struct {
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	ClockSkew       time.Duration
}

// IssuedToken pairs the stored token with its raw value. Raw is never persisted.
type IssuedToken struct {
	Raw   string
	Token domain.Token
}

// TokenValidation reports the state of a raw token without consuming it.
type TokenValidation struct {
	Result    domain.ValidationResult
	AccountID string
	Kind      domain.TokenKind
	Token     *domain.Token
}

// TokenService issues and redeems single-use account tokens.
type TokenService struct {
	repo    port.TokenRepository
	cfg     TokenServiceConfig
	metrics *telemetry.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewTokenService constructs a token service over the repository.
func NewTokenService(repo port.TokenRepository, cfg TokenServiceConfig, logger *zap.Logger) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = defaultVerificationTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = defaultResetTTL
	}
	if cfg.ClockSkew < 0 {
		cfg.ClockSkew = 0
	}
	return &TokenService{
		repo:   repo,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *TokenService) WithClock(clock func() time.Time) *TokenService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithMetrics records issue and validation outcomes.
func (s *TokenService) WithMetrics(m *telemetry.Metrics) *TokenService {
	s.metrics = m
	return s
}

// TTL returns the configured lifetime for the kind.
func (s *TokenService) TTL(kind domain.TokenKind) time.Duration {
	if kind == domain.TokenKindPasswordReset {
		return s.cfg.ResetTTL
	}
	return s.cfg.VerificationTTL
}

// Issue creates a token for the account and supersedes any live token of the same kind.
// A non-positive ttl selects the kind's configured lifetime.
func (s *TokenService) Issue(ctx context.Context, accountID string, kind domain.TokenKind, ttl time.Duration) (IssuedToken, error) {
	if strings.TrimSpace(accountID) == "" {
		return IssuedToken{}, fmt.Errorf("account id is required")
	}
	if !kind.Valid() {
		return IssuedToken{}, fmt.Errorf("unknown token kind %q", kind)
	}
	if ttl <= 0 {
		ttl = s.TTL(kind)
	}

	raw, err := security.GenerateSecureToken(security.TokenBytes)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("generate token: %w", err)
	}

	now := s.now()
	token := domain.Token{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Kind:      kind,
		TokenHash: security.HashToken(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	revoked, err := s.repo.Replace(ctx, token)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("store %s token: %w", kind, err)
	}

	s.metrics.TokenIssued(string(kind))
	s.logger.Debug("token issued",
		zap.String("account_id", accountID),
		zap.String("kind", string(kind)),
		zap.Int("superseded", revoked),
		zap.Time("expires_at", token.ExpiresAt),
	)

	return IssuedToken{Raw: raw, Token: token}, nil
}

// Validate reports whether raw is usable. Consumed and revoked tokens report not found.
func (s *TokenService) Validate(ctx context.Context, raw string) (TokenValidation, error) {
	token, err := s.lookup(ctx, raw)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return TokenValidation{Result: domain.ValidationNotFound}, nil
		}
		return TokenValidation{}, err
	}

	result := TokenValidation{
		AccountID: token.AccountID,
		Kind:      token.Kind,
		Token:     token,
	}
	switch {
	case !token.IsLive():
		result = TokenValidation{Result: domain.ValidationNotFound}
	case token.IsExpired(s.now(), s.cfg.ClockSkew):
		result.Result = domain.ValidationExpired
	default:
		result.Result = domain.ValidationValid
	}

	s.metrics.TokenChecked(string(token.Kind), string(result.Result))
	return result, nil
}

// Consume redeems raw. Exactly one concurrent caller observes true.
func (s *TokenService) Consume(ctx context.Context, raw string) (bool, error) {
	if strings.TrimSpace(raw) == "" {
		return false, nil
	}
	consumed, err := s.repo.Consume(ctx, security.HashToken(strings.TrimSpace(raw)), s.now())
	if err != nil {
		return false, fmt.Errorf("consume token: %w", err)
	}
	return consumed, nil
}

// Reissue replaces the token identified by oldRaw with a fresh one of the same kind.
// Expired and superseded tokens may be reissued; consumed or unknown ones may not.
func (s *TokenService) Reissue(ctx context.Context, oldRaw string) (IssuedToken, error) {
	return s.ReissueAs(ctx, oldRaw, "")
}

// ReissueAs is Reissue restricted to tokens of kind. An empty kind accepts any.
func (s *TokenService) ReissueAs(ctx context.Context, oldRaw string, kind domain.TokenKind) (IssuedToken, error) {
	old, err := s.lookup(ctx, oldRaw)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return IssuedToken{}, ErrInvalidToken
		}
		return IssuedToken{}, err
	}
	if old.IsConsumed() {
		return IssuedToken{}, ErrInvalidToken
	}
	if kind != "" && old.Kind != kind {
		return IssuedToken{}, ErrInvalidToken
	}

	return s.Issue(ctx, old.AccountID, old.Kind, s.TTL(old.Kind))
}

// InvalidateAll revokes every live token of kind for the account.
func (s *TokenService) InvalidateAll(ctx context.Context, accountID string, kind domain.TokenKind) (int, error) {
	revoked, err := s.repo.RevokeForAccount(ctx, accountID, kind, s.now())
	if err != nil {
		return 0, fmt.Errorf("revoke %s tokens: %w", kind, err)
	}
	return revoked, nil
}

// Purge deletes tokens that stopped being live more than retention ago.
func (s *TokenService) Purge(ctx context.Context, retention time.Duration) (int, error) {
	if retention < 0 {
		retention = 0
	}
	removed, err := s.repo.DeleteInactiveBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	s.metrics.TokensPurged(removed)
	return removed, nil
}

func (s *TokenService) lookup(ctx context.Context, raw string) (*domain.Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, repository.ErrNotFound
	}
	token, err := s.repo.GetByHash(ctx, security.HashToken(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	return token, nil
}

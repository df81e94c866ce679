package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/core/port"
	"github.com/incplusplus/thermostat-accounts/internal/infra/config"
	"github.com/incplusplus/thermostat-accounts/internal/infra/logger"
	"github.com/incplusplus/thermostat-accounts/internal/infra/telemetry"
	"github.com/incplusplus/thermostat-accounts/internal/repository"
)

const tracerName = "github.com/incplusplus/thermostat-accounts/internal/usecase"

// AccountServiceConfig carries the settings the account lifecycle depends on.
type AccountServiceConfig struct {
	SupportEmail    string
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	SessionTTL      time.Duration
	DefaultRole     domain.Role
}

// AccountConfigFrom extracts the account lifecycle settings from the application config.
func AccountConfigFrom(cfg *config.AppConfig) AccountServiceConfig {
	return AccountServiceConfig{
		SupportEmail:    cfg.App.SupportEmail,
		VerificationTTL: cfg.Tokens.VerificationTTL,
		ResetTTL:        cfg.Tokens.ResetTTL,
		SessionTTL:      cfg.Session.TTL,
		DefaultRole:     domain.NewRoleFromNames(cfg.Accounts.DefaultRole, cfg.Accounts.DefaultPrivileges...),
	}
}

// AccountService orchestrates registration, verification, password and session flows.
type AccountService struct {
	accounts port.AccountRepository
	tokens   *TokenService
	sessions port.SessionRegistry
	hasher   port.PasswordHasher
	policy   port.PasswordPolicyValidator
	events   port.EventPublisher
	cfg      AccountServiceConfig
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// NewAccountService wires the account lifecycle. events may be nil.
func NewAccountService(
	accounts port.AccountRepository,
	tokens *TokenService,
	sessions port.SessionRegistry,
	hasher port.PasswordHasher,
	policy port.PasswordPolicyValidator,
	events port.EventPublisher,
	cfg AccountServiceConfig,
	logger *zap.Logger,
) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = defaultVerificationTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = defaultResetTTL
	}
	if cfg.DefaultRole.Name == "" {
		cfg.DefaultRole = domain.NewRoleFromNames(domain.RoleUser, domain.PrivilegeRead, domain.PrivilegeChangePassword)
	}
	return &AccountService{
		accounts: accounts,
		tokens:   tokens,
		sessions: sessions,
		hasher:   hasher,
		policy:   policy,
		events:   events,
		cfg:      cfg,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *AccountService) WithClock(clock func() time.Time) *AccountService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithMetrics records login and session counters.
func (s *AccountService) WithMetrics(m *telemetry.Metrics) *AccountService {
	s.metrics = m
	return s
}

// GetAccount loads an account by id.
func (s *AccountService) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	return account, nil
}

// ListAccounts returns every account ordered by creation time. The actor must hold the admin privilege.
func (s *AccountService) ListAccounts(ctx context.Context, actor domain.Principal) ([]domain.Account, error) {
	if !actor.HasAuthority(domain.PrivilegeAdmin) {
		return nil, ErrPermissionDenied
	}
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	return accounts, nil
}

// DeleteAccount removes the account after revoking its sessions and tokens.
// The actor must hold the admin privilege.
func (s *AccountService) DeleteAccount(ctx context.Context, actor domain.Principal, id string) (err error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.DeleteAccount")
	defer func() { endSpan(span, err) }()

	if !actor.HasAuthority(domain.PrivilegeAdmin) {
		return ErrPermissionDenied
	}

	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return err
	}

	revokedSessions, err := s.sessions.UnregisterPrincipal(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	s.metrics.SessionsEnded(revokedSessions)

	for _, kind := range []domain.TokenKind{domain.TokenKindVerification, domain.TokenKindPasswordReset} {
		if _, err := s.tokens.InvalidateAll(ctx, account.ID, kind); err != nil {
			return err
		}
	}

	if err := s.accounts.Delete(ctx, account.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete account: %w", err)
	}

	now := s.now()
	if s.events != nil {
		if err := s.events.PublishAccountDeleted(ctx, domain.AccountDeletedEvent{
			EventID:         uuid.NewString(),
			AccountID:       account.ID,
			DeletedBy:       actor.AccountID,
			DeletedAt:       now,
			SessionsRevoked: revokedSessions,
		}); err != nil {
			s.logger.Warn("publish account deleted event failed", zap.String("account_id", account.ID), zap.Error(err))
		}
	}

	s.log(ctx).Info("account deleted",
		zap.String("account_id", account.ID),
		zap.String("deleted_by", actor.AccountID),
		zap.Int("sessions_revoked", revokedSessions),
	)
	return nil
}

func (s *AccountService) log(ctx context.Context) *zap.Logger {
	if id := logger.RequestIDFromContext(ctx); id != "" {
		return s.logger.With(zap.String("request_id", id))
	}
	return s.logger
}

func (s *AccountService) validatePassword(password string, account domain.PasswordContext) error {
	if s.policy == nil {
		return nil
	}
	if err := s.policy.Validate(password, account); err != nil {
		return fmt.Errorf("%w: %w", ErrPasswordPolicy, err)
	}
	return nil
}

func passwordContextFor(account domain.Account) domain.PasswordContext {
	return domain.PasswordContext{
		Email:     account.Email,
		FirstName: account.FirstName,
		LastName:  account.LastName,
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func accountAttr(id string) attribute.KeyValue {
	return attribute.String("account.id", id)
}

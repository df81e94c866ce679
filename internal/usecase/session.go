package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/core/port"
	"github.com/incplusplus/thermostat-accounts/internal/infra/security"
	"github.com/incplusplus/thermostat-accounts/internal/repository"
)

// Authenticate checks credentials and returns the principal to sign in.
// Legacy hashes are upgraded after a successful check.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (principal *domain.Principal, err error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.Authenticate")
	defer func() { endSpan(span, err) }()

	outcome := "failure"
	defer func() { s.metrics.LoginAttempt(outcome) }()

	account, err := s.accounts.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	ok, err := s.hasher.Verify(password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !account.CanAuthenticate() {
		outcome = "unverified"
		return nil, ErrAccountNotVerified
	}

	s.upgradeHash(ctx, *account, password)

	outcome = "success"
	p := domain.PrincipalFor(*account)
	return &p, nil
}

func (s *AccountService) upgradeHash(ctx context.Context, account domain.Account, password string) {
	checker, ok := s.hasher.(port.RehashChecker)
	if !ok || !checker.NeedsRehash(account.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warn("rehash password failed", zap.String("account_id", account.ID), zap.Error(err))
		return
	}
	if err := s.accounts.SetPasswordHash(ctx, account.ID, hash, account.PasswordChangedAt); err != nil {
		s.logger.Warn("store upgraded password hash failed", zap.String("account_id", account.ID), zap.Error(err))
		return
	}
	s.log(ctx).Info("password hash upgraded", zap.String("account_id", account.ID))
}

// EstablishSession registers a session for the principal. Unverified accounts are refused.
func (s *AccountService) EstablishSession(ctx context.Context, principal domain.Principal) (domain.SessionEntry, error) {
	account, err := s.GetAccount(ctx, principal.AccountID)
	if err != nil {
		return domain.SessionEntry{}, err
	}
	if !account.CanAuthenticate() {
		return domain.SessionEntry{}, ErrAccountNotVerified
	}

	handle, err := security.GenerateSessionHandle()
	if err != nil {
		return domain.SessionEntry{}, fmt.Errorf("generate session handle: %w", err)
	}

	now := s.now()
	entry := domain.SessionEntry{
		Handle:      handle,
		PrincipalID: account.ID,
		Email:       account.Email,
		Authorities: account.Authorities(),
		CreatedAt:   now,
	}
	if s.cfg.SessionTTL > 0 {
		entry.ExpiresAt = now.Add(s.cfg.SessionTTL)
	}

	if err := s.sessions.Register(ctx, entry); err != nil {
		return domain.SessionEntry{}, fmt.Errorf("register session: %w", err)
	}
	s.metrics.SessionEstablished()

	s.log(ctx).Info("session established", zap.String("account_id", account.ID))
	return entry, nil
}

// Logout ends the session. Unknown handles are ignored.
func (s *AccountService) Logout(ctx context.Context, handle string) error {
	if handle == "" {
		return nil
	}
	if _, err := s.sessions.Get(ctx, handle); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup session: %w", err)
	}
	if err := s.sessions.Unregister(ctx, handle); err != nil {
		return fmt.Errorf("unregister session: %w", err)
	}
	s.metrics.SessionsEnded(1)
	return nil
}

// ResolveSession returns the principal bound to a live session handle.
func (s *AccountService) ResolveSession(ctx context.Context, handle string) (*domain.Principal, error) {
	if handle == "" {
		return nil, ErrInvalidCredentials
	}
	entry, err := s.sessions.Get(ctx, handle)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	principal := entry.Principal()
	return &principal, nil
}

// ListActiveSessions returns the ids of principals holding a live session, oldest first.
func (s *AccountService) ListActiveSessions(ctx context.Context) ([]string, error) {
	principals, err := s.sessions.ListActivePrincipals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active principals: %w", err)
	}
	if principals == nil {
		principals = []string{}
	}
	return principals, nil
}

// ListActiveEmails returns the email of every signed-in principal in the order of ListActiveSessions.
func (s *AccountService) ListActiveEmails(ctx context.Context) ([]string, error) {
	principals, err := s.ListActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	emails := make([]string, 0, len(principals))
	for _, id := range principals {
		sessions, err := s.sessions.ListSessions(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		if len(sessions) == 0 {
			continue
		}
		emails = append(emails, sessions[0].Email)
	}
	return emails, nil
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/infra/logger"
	"github.com/incplusplus/thermostat-accounts/internal/repository"
)

const (
	ResetReasonInvalidToken = "invalidToken"
	ResetReasonExpired      = "expired"
)

// PasswordResetRequestResult holds the emails to dispatch. It is empty for unknown addresses.
type PasswordResetRequestResult struct {
	Notifications []domain.Notification
}

// PasswordResetCheck tells whether a reset link may be used, and why not.
type PasswordResetCheck struct {
	Allowed bool
	Reason  string
}

// Err maps a denied check to its sentinel error.
func (c PasswordResetCheck) Err() error {
	switch {
	case c.Allowed:
		return nil
	case c.Reason == ResetReasonExpired:
		return ErrExpiredToken
	default:
		return ErrInvalidToken
	}
}

// UpdatePasswordInput carries a password update by a signed-in account.
type UpdatePasswordInput struct {
	OldPassword string
	NewPassword string
	// ResetToken is consumed when present.
	ResetToken string
}

// RequestPasswordReset issues a reset token when the email belongs to an account. The observable
// outcome does not depend on whether it does.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email, appURL string) (result PasswordResetRequestResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.RequestPasswordReset")
	defer func() { endSpan(span, err) }()

	result = PasswordResetRequestResult{Notifications: []domain.Notification{}}

	normalized := domain.NormalizeEmail(email)
	if normalized == "" {
		return result, ErrInvalidEmail
	}

	s.log(ctx).Info("password reset requested", zap.String("email", logger.MaskEmail(normalized)))

	account, err := s.accounts.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return result, nil
		}
		return result, fmt.Errorf("lookup account: %w", err)
	}
	span.SetAttributes(accountAttr(account.ID))

	issued, err := s.tokens.Issue(ctx, account.ID, domain.TokenKindPasswordReset, s.cfg.ResetTTL)
	if err != nil {
		return result, err
	}

	if s.events != nil {
		if err := s.events.PublishPasswordResetRequested(ctx, domain.PasswordResetRequestedEvent{
			EventID:           uuid.NewString(),
			AccountID:         account.ID,
			RequestedAt:       issued.Token.CreatedAt,
			MaskedDestination: logger.MaskEmail(account.Email),
			ExpiresAt:         issued.Token.ExpiresAt,
		}); err != nil {
			s.logger.Warn("publish password reset requested event failed", zap.String("account_id", account.ID), zap.Error(err))
		}
	}

	result.Notifications = append(result.Notifications, s.resetNotification(*account, appURL, issued.Raw))
	return result, nil
}

// ConfirmPasswordReset checks a reset link without consuming it.
func (s *AccountService) ConfirmPasswordReset(ctx context.Context, accountID, raw string) (PasswordResetCheck, error) {
	validation, err := s.tokens.Validate(ctx, raw)
	if err != nil {
		return PasswordResetCheck{}, err
	}

	denied := PasswordResetCheck{Reason: ResetReasonInvalidToken}
	switch {
	case validation.Result == domain.ValidationNotFound:
		return denied, nil
	case validation.Kind != domain.TokenKindPasswordReset:
		return denied, nil
	case validation.AccountID != strings.TrimSpace(accountID):
		return denied, nil
	case validation.Result == domain.ValidationExpired:
		return PasswordResetCheck{Reason: ResetReasonExpired}, nil
	}
	return PasswordResetCheck{Allowed: true}, nil
}

// ChangePassword sets a new password for the principal's account and revokes outstanding reset tokens.
func (s *AccountService) ChangePassword(ctx context.Context, principal domain.Principal, newPassword string) (err error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.ChangePassword")
	defer func() { endSpan(span, err) }()

	account, err := s.GetAccount(ctx, principal.AccountID)
	if err != nil {
		return err
	}

	hash, err := s.preparePassword(*account, newPassword)
	if err != nil {
		return err
	}
	return s.commitPassword(ctx, *account, hash, principal.AccountID)
}

// UpdatePassword changes the password after verifying the current one.
// The stored hash is untouched when verification fails.
func (s *AccountService) UpdatePassword(ctx context.Context, principal domain.Principal, in UpdatePasswordInput) (err error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.UpdatePassword")
	defer func() { endSpan(span, err) }()

	account, err := s.GetAccount(ctx, principal.AccountID)
	if err != nil {
		return err
	}

	ok, err := s.hasher.Verify(in.OldPassword, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return ErrInvalidOldPassword
	}

	hash, err := s.preparePassword(*account, in.NewPassword)
	if err != nil {
		return err
	}

	if token := strings.TrimSpace(in.ResetToken); token != "" {
		if err := s.redeemResetToken(ctx, account.ID, token); err != nil {
			return err
		}
	}

	return s.commitPassword(ctx, *account, hash, principal.AccountID)
}

// ResetPassword completes the emailed reset flow for accountID.
func (s *AccountService) ResetPassword(ctx context.Context, accountID, raw, newPassword string) (err error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.ResetPassword")
	defer func() { endSpan(span, err) }()

	check, err := s.ConfirmPasswordReset(ctx, accountID, raw)
	if err != nil {
		return err
	}
	if !check.Allowed {
		return check.Err()
	}

	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}

	hash, err := s.preparePassword(*account, newPassword)
	if err != nil {
		return err
	}

	if err := s.redeemResetToken(ctx, account.ID, raw); err != nil {
		return err
	}

	return s.commitPassword(ctx, *account, hash, account.ID)
}

func (s *AccountService) redeemResetToken(ctx context.Context, accountID, raw string) error {
	check, err := s.ConfirmPasswordReset(ctx, accountID, raw)
	if err != nil {
		return err
	}
	if !check.Allowed {
		return check.Err()
	}
	consumed, err := s.tokens.Consume(ctx, raw)
	if err != nil {
		return err
	}
	if !consumed {
		return ErrInvalidToken
	}
	return nil
}

func (s *AccountService) preparePassword(account domain.Account, password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is required", ErrPasswordPolicy)
	}
	if err := s.validatePassword(password, passwordContextFor(account)); err != nil {
		return "", err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

func (s *AccountService) commitPassword(ctx context.Context, account domain.Account, hash, changedBy string) error {
	now := s.now()
	if err := s.accounts.SetPasswordHash(ctx, account.ID, hash, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("update password: %w", err)
	}

	revoked, err := s.tokens.InvalidateAll(ctx, account.ID, domain.TokenKindPasswordReset)
	if err != nil {
		return err
	}

	if s.events != nil {
		if err := s.events.PublishPasswordChanged(ctx, domain.PasswordChangedEvent{
			EventID:            uuid.NewString(),
			AccountID:          account.ID,
			ChangedAt:          now,
			ChangedBy:          changedBy,
			ResetTokensRevoked: revoked,
		}); err != nil {
			s.logger.Warn("publish password changed event failed", zap.String("account_id", account.ID), zap.Error(err))
		}
	}

	s.log(ctx).Info("password changed",
		zap.String("account_id", account.ID),
		zap.Int("reset_tokens_revoked", revoked),
	)
	return nil
}

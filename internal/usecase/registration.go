package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/infra/logger"
	"github.com/incplusplus/thermostat-accounts/internal/repository"
)

// RegistrationInput carries the registration form.
type RegistrationInput struct {
	Email            string
	Password         string
	MatchingPassword string
	FirstName        string
	LastName         string
	// AppURL is the externally visible base URL used to build the confirmation link.
	AppURL string
}

// RegistrationResult is the created account and the confirmation email the caller must dispatch.
type RegistrationResult struct {
	Account      domain.Account
	Notification domain.Notification
}

// ConfirmationStatus is the outcome of redeeming a verification token.
type ConfirmationStatus string

const (
	ConfirmationValid   ConfirmationStatus = "valid"
	ConfirmationInvalid ConfirmationStatus = "invalid"
	ConfirmationExpired ConfirmationStatus = "expired"
)

// ConfirmationResult describes a registration confirmation. Principal and Account are set only when Status is valid.
type ConfirmationResult struct {
	Status    ConfirmationStatus
	Principal *domain.Principal
	Account   *domain.Account
}

// Err maps a non-valid status to its sentinel error.
func (r ConfirmationResult) Err() error {
	switch r.Status {
	case ConfirmationValid:
		return nil
	case ConfirmationExpired:
		return ErrExpiredToken
	default:
		return ErrInvalidToken
	}
}

// Register creates an unverified account and issues its verification token.
func (s *AccountService) Register(ctx context.Context, in RegistrationInput) (result RegistrationResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.Register")
	defer func() { endSpan(span, err) }()

	email, err := normalizeAddress(in.Email)
	if err != nil {
		return RegistrationResult{}, err
	}
	if in.Password == "" {
		return RegistrationResult{}, fmt.Errorf("%w: password is required", ErrPasswordPolicy)
	}
	if in.Password != in.MatchingPassword {
		return RegistrationResult{}, ErrPasswordMismatch
	}

	firstName := strings.TrimSpace(in.FirstName)
	lastName := strings.TrimSpace(in.LastName)
	if err := s.validatePassword(in.Password, domain.PasswordContext{Email: email, FirstName: firstName, LastName: lastName}); err != nil {
		return RegistrationResult{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return RegistrationResult{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	account := domain.NewAccount(s.newID(), email, hash, []domain.Role{s.cfg.DefaultRole}, now)
	account.FirstName = firstName
	account.LastName = lastName

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return RegistrationResult{}, fmt.Errorf("%w: %w", ErrAlreadyExists, err)
		}
		return RegistrationResult{}, fmt.Errorf("create account: %w", err)
	}
	span.SetAttributes(accountAttr(account.ID))

	issued, err := s.tokens.Issue(ctx, account.ID, domain.TokenKindVerification, s.cfg.VerificationTTL)
	if err != nil {
		if delErr := s.accounts.Delete(ctx, account.ID); delErr != nil {
			s.logger.Warn("rollback account after token failure failed", zap.String("account_id", account.ID), zap.Error(delErr))
		}
		return RegistrationResult{}, err
	}

	if s.events != nil {
		if err := s.events.PublishAccountRegistered(ctx, domain.AccountRegisteredEvent{
			EventID:      uuid.NewString(),
			AccountID:    account.ID,
			Email:        account.Email,
			Status:       string(account.Status),
			RegisteredAt: now,
		}); err != nil {
			s.logger.Warn("publish account registered event failed", zap.String("account_id", account.ID), zap.Error(err))
		}
	}

	s.log(ctx).Info("account registered",
		zap.String("account_id", account.ID),
		zap.String("email", logger.MaskEmail(account.Email)),
	)

	return RegistrationResult{
		Account:      account,
		Notification: s.confirmationNotification(domain.NotificationRegistrationConfirmation, account, in.AppURL, issued.Raw),
	}, nil
}

// ConfirmRegistration redeems a verification token, marks the account verified and returns the
// principal to sign in. Expired tokens are reported, never silently replaced.
func (s *AccountService) ConfirmRegistration(ctx context.Context, raw string) (result ConfirmationResult, err error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.ConfirmRegistration")
	defer func() { endSpan(span, err) }()

	invalid := ConfirmationResult{Status: ConfirmationInvalid}

	validation, err := s.tokens.Validate(ctx, raw)
	if err != nil {
		return ConfirmationResult{}, err
	}
	switch {
	case validation.Result == domain.ValidationNotFound:
		return invalid, nil
	case validation.Kind != domain.TokenKindVerification:
		return invalid, nil
	case validation.Result == domain.ValidationExpired:
		return ConfirmationResult{Status: ConfirmationExpired}, nil
	}

	// Verify before burning the token so a failed write leaves it redeemable.
	now := s.now()
	if err := s.accounts.SetVerified(ctx, validation.AccountID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return invalid, nil
		}
		return ConfirmationResult{}, fmt.Errorf("verify account: %w", err)
	}

	consumed, err := s.tokens.Consume(ctx, raw)
	if err != nil {
		return ConfirmationResult{}, err
	}
	if !consumed {
		return invalid, nil
	}

	account, err := s.GetAccount(ctx, validation.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return invalid, nil
		}
		return ConfirmationResult{}, err
	}
	span.SetAttributes(accountAttr(account.ID))

	if s.events != nil {
		if err := s.events.PublishAccountVerified(ctx, domain.AccountVerifiedEvent{
			EventID:    uuid.NewString(),
			AccountID:  account.ID,
			VerifiedAt: now,
		}); err != nil {
			s.logger.Warn("publish account verified event failed", zap.String("account_id", account.ID), zap.Error(err))
		}
	}

	s.log(ctx).Info("account verified", zap.String("account_id", account.ID))

	principal := domain.PrincipalFor(*account)
	return ConfirmationResult{Status: ConfirmationValid, Principal: &principal, Account: account}, nil
}

// ResendVerification replaces a verification token, even an expired or superseded one, and returns
// the email carrying the new link.
func (s *AccountService) ResendVerification(ctx context.Context, oldRaw, appURL string) (notification domain.Notification, err error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.ResendVerification")
	defer func() { endSpan(span, err) }()

	issued, err := s.tokens.ReissueAs(ctx, oldRaw, domain.TokenKindVerification)
	if err != nil {
		return domain.Notification{}, err
	}

	account, err := s.GetAccount(ctx, issued.Token.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.Notification{}, ErrInvalidToken
		}
		return domain.Notification{}, err
	}

	s.log(ctx).Info("verification token reissued", zap.String("account_id", account.ID))
	return s.confirmationNotification(domain.NotificationResendVerification, *account, appURL, issued.Raw), nil
}

var addressValidator = validator.New()

func normalizeAddress(email string) (string, error) {
	normalized := domain.NormalizeEmail(email)
	if err := addressValidator.Var(normalized, "required,email"); err != nil {
		return "", ErrInvalidEmail
	}
	return normalized, nil
}

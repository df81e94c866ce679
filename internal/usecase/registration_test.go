package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/infra/security"
	"github.com/incplusplus/thermostat-accounts/internal/repository/memory"
)

// flakyAccounts fails the next verifyFailures SetVerified calls.
type flakyAccounts struct {
	*memory.AccountRepository
	mu             sync.Mutex
	verifyFailures int
}

func (a *flakyAccounts) SetVerified(ctx context.Context, id string, at time.Time) error {
	a.mu.Lock()
	if a.verifyFailures > 0 {
		a.verifyFailures--
		a.mu.Unlock()
		return errors.New("connection reset")
	}
	a.mu.Unlock()
	return a.AccountRepository.SetVerified(ctx, id, at)
}

func TestRegister_CreatesUnverifiedAccountAndConfirmationEmail(t *testing.T) {
	f := newFixture(t)

	result, raw := f.register(t, "  Carol@Example.com ")

	if result.Account.Email != "carol@example.com" {
		t.Fatalf("expected normalised email, got %q", result.Account.Email)
	}
	if result.Account.IsVerified() {
		t.Fatalf("new accounts must be unverified")
	}
	if result.Account.FirstName != "Carol" || result.Account.LastName != "Shaw" {
		t.Fatalf("names not stored: %+v", result.Account)
	}
	if got := result.Account.Authorities(); len(got) != 2 || got[0] != domain.PrivilegeRead || got[1] != domain.PrivilegeChangePassword {
		t.Fatalf("unexpected default authorities %v", got)
	}

	stored, err := f.accounts.GetByEmail(context.Background(), "CAROL@example.com")
	if err != nil {
		t.Fatalf("account not stored: %v", err)
	}
	if stored.PasswordHash == strongPassword || stored.PasswordHash == "" {
		t.Fatalf("password must be stored hashed")
	}

	n := result.Notification
	if n.Kind != domain.NotificationRegistrationConfirmation || n.To != "carol@example.com" || n.From != "support@thermostat.example.com" {
		t.Fatalf("unexpected notification %+v", n)
	}
	if n.Subject != "Registration Confirmation" {
		t.Fatalf("unexpected subject %q", n.Subject)
	}
	wantLink := " \r\n" + appURL + "/registrationConfirm?token=" + raw
	if !strings.HasSuffix(n.Body, wantLink) {
		t.Fatalf("body %q does not end with %q", n.Body, wantLink)
	}

	if v, _ := f.tokens.Validate(context.Background(), raw); v.Result != domain.ValidationValid || v.Kind != domain.TokenKindVerification {
		t.Fatalf("verification token not live: %+v", v)
	}
	if len(f.events.registered) != 1 || f.events.registered[0].AccountID != result.Account.ID {
		t.Fatalf("expected registered event, got %+v", f.events.registered)
	}
}

func TestRegister_RejectsDuplicateEmailCaseInsensitively(t *testing.T) {
	f := newFixture(t)
	f.register(t, "carol@example.com")

	_, err := f.svc.Register(context.Background(), RegistrationInput{
		Email:            "CAROL@EXAMPLE.COM",
		Password:         otherPassword,
		MatchingPassword: otherPassword,
		AppURL:           appURL,
	})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestRegister_ValidatesInput(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		in   RegistrationInput
		want error
	}{
		{"bad email", RegistrationInput{Email: "not-an-email", Password: strongPassword, MatchingPassword: strongPassword}, ErrInvalidEmail},
		{"display name", RegistrationInput{Email: "Carol <carol@example.com>", Password: strongPassword, MatchingPassword: strongPassword}, ErrInvalidEmail},
		{"mismatch", RegistrationInput{Email: "carol@example.com", Password: strongPassword, MatchingPassword: otherPassword}, ErrPasswordMismatch},
		{"weak", RegistrationInput{Email: "carol@example.com", Password: "password", MatchingPassword: "password"}, ErrPasswordPolicy},
		{"contains email", RegistrationInput{Email: "thermostatfan@example.com", Password: "Thermostatfan!99", MatchingPassword: "Thermostatfan!99"}, ErrPasswordPolicy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	accounts, _ := f.accounts.List(context.Background())
	if len(accounts) != 0 {
		t.Fatalf("rejected registrations must not create accounts, got %d", len(accounts))
	}
}

func TestRegister_PolicyErrorKeepsViolationDetails(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), RegistrationInput{Email: "carol@example.com", Password: "short", MatchingPassword: "short"})
	var violation *security.PasswordValidationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected a password validation error, got %v", err)
	}
	if violation.Code == "" {
		t.Fatalf("expected violation code")
	}
}

func TestConfirmRegistration_VerifiesAndSignsIn(t *testing.T) {
	f := newFixture(t)
	registered, raw := f.register(t, "carol@example.com")

	result, err := f.svc.ConfirmRegistration(context.Background(), raw)
	if err != nil {
		t.Fatalf("ConfirmRegistration returned error: %v", err)
	}
	if result.Status != ConfirmationValid || result.Err() != nil {
		t.Fatalf("unexpected status %s", result.Status)
	}
	if result.Principal == nil || result.Principal.AccountID != registered.Account.ID {
		t.Fatalf("expected principal for account, got %+v", result.Principal)
	}
	if !result.Principal.HasAuthority(domain.PrivilegeRead) {
		t.Fatalf("principal must carry the account authorities: %v", result.Principal.Authorities)
	}
	if result.Account == nil || !result.Account.IsVerified() {
		t.Fatalf("account must be verified")
	}
	if len(f.events.verified) != 1 {
		t.Fatalf("expected verified event")
	}

	again, err := f.svc.ConfirmRegistration(context.Background(), raw)
	if err != nil {
		t.Fatalf("second confirm returned error: %v", err)
	}
	if again.Status != ConfirmationInvalid || !errors.Is(again.Err(), ErrInvalidToken) {
		t.Fatalf("reused token must be invalid, got %s", again.Status)
	}
}

func TestConfirmRegistration_FailedVerifyKeepsTokenRedeemable(t *testing.T) {
	f := newFixture(t)
	registered, raw := f.register(t, "carol@example.com")

	flaky := &flakyAccounts{AccountRepository: f.accounts, verifyFailures: 1}
	svc := NewAccountService(
		flaky,
		f.tokens,
		f.sessions,
		f.hasher,
		security.NewPasswordPolicy(security.DefaultPolicyConfig()),
		f.events,
		AccountServiceConfig{SessionTTL: 12 * time.Hour},
		zaptest.NewLogger(t),
	).WithClock(f.clock.Now)

	if _, err := svc.ConfirmRegistration(context.Background(), raw); err == nil {
		t.Fatalf("expected the storage error to surface")
	}
	stored, err := f.accounts.GetByID(context.Background(), registered.Account.ID)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if stored.IsVerified() {
		t.Fatalf("account must stay unverified after the failed write")
	}

	retry, err := svc.ConfirmRegistration(context.Background(), raw)
	if err != nil {
		t.Fatalf("retry returned error: %v", err)
	}
	if retry.Status != ConfirmationValid || retry.Account == nil || !retry.Account.IsVerified() {
		t.Fatalf("retry must verify the account, got %s", retry.Status)
	}
}

func TestConfirmRegistration_ExpiredTokenIsReportedNotReplaced(t *testing.T) {
	f := newFixture(t)
	registered, raw := f.register(t, "carol@example.com")

	f.clock.Advance(25 * time.Hour)

	result, err := f.svc.ConfirmRegistration(context.Background(), raw)
	if err != nil {
		t.Fatalf("ConfirmRegistration returned error: %v", err)
	}
	if result.Status != ConfirmationExpired || !errors.Is(result.Err(), ErrExpiredToken) {
		t.Fatalf("expected expired, got %s", result.Status)
	}
	if result.Principal != nil {
		t.Fatalf("expired confirmation must not sign in")
	}

	account, _ := f.accounts.GetByID(context.Background(), registered.Account.ID)
	if account.IsVerified() {
		t.Fatalf("account must stay unverified")
	}
	if v, _ := f.tokens.Validate(context.Background(), raw); v.Result != domain.ValidationExpired {
		t.Fatalf("expired token must remain expired rather than replaced, got %s", v.Result)
	}
}

func TestConfirmRegistration_RejectsUnknownAndResetTokens(t *testing.T) {
	f := newFixture(t)
	account := f.registerVerified(t, "carol@example.com")

	if result, _ := f.svc.ConfirmRegistration(context.Background(), "garbage"); result.Status != ConfirmationInvalid {
		t.Fatalf("unknown token must be invalid, got %s", result.Status)
	}

	reset, err := f.tokens.Issue(context.Background(), account.ID, domain.TokenKindPasswordReset, 0)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if result, _ := f.svc.ConfirmRegistration(context.Background(), reset.Raw); result.Status != ConfirmationInvalid {
		t.Fatalf("reset token must not confirm registration, got %s", result.Status)
	}
	if v, _ := f.tokens.Validate(context.Background(), reset.Raw); v.Result != domain.ValidationValid {
		t.Fatalf("rejected confirmation must not consume the reset token")
	}
}

func TestConfirmRegistration_ConcurrentRedemptionHasOneWinner(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	_, raw := f.register(t, "carol@example.com")

	var mu sync.Mutex
	statuses := map[ConfirmationStatus]int{}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.ConfirmRegistration(context.Background(), raw)
			if err != nil {
				t.Errorf("ConfirmRegistration returned error: %v", err)
				return
			}
			mu.Lock()
			statuses[result.Status]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if statuses[ConfirmationValid] != 1 || statuses[ConfirmationInvalid] != 15 {
		t.Fatalf("expected one valid and fifteen invalid, got %v", statuses)
	}
}

func TestResendVerification_ReplacesToken(t *testing.T) {
	f := newFixture(t)
	registered, raw := f.register(t, "carol@example.com")
	f.clock.Advance(30 * time.Hour)

	notification, err := f.svc.ResendVerification(context.Background(), raw, appURL+"/")
	if err != nil {
		t.Fatalf("ResendVerification returned error: %v", err)
	}
	if notification.Kind != domain.NotificationResendVerification || notification.Subject != "Resend Registration Token" {
		t.Fatalf("unexpected notification %+v", notification)
	}
	if notification.To != registered.Account.Email || notification.AccountID != registered.Account.ID {
		t.Fatalf("notification addressed to %q", notification.To)
	}
	if !strings.Contains(notification.Body, " \r\n"+appURL+"/registrationConfirm?token=") {
		t.Fatalf("unexpected body %q", notification.Body)
	}

	fresh := tokenFromBody(t, notification.Body)
	if fresh == raw {
		t.Fatalf("resend must issue a new token")
	}
	if v, _ := f.tokens.Validate(context.Background(), raw); v.Result != domain.ValidationNotFound {
		t.Fatalf("old token must be superseded, got %s", v.Result)
	}

	result, err := f.svc.ConfirmRegistration(context.Background(), fresh)
	if err != nil || result.Status != ConfirmationValid {
		t.Fatalf("fresh token must confirm: status=%s err=%v", result.Status, err)
	}
}

func TestResendVerification_RejectsUnknownAndConsumedTokens(t *testing.T) {
	f := newFixture(t)
	_, raw := f.register(t, "carol@example.com")

	if _, err := f.svc.ResendVerification(context.Background(), "unknown", appURL); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	if _, err := f.svc.ConfirmRegistration(context.Background(), raw); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := f.svc.ResendVerification(context.Background(), raw, appURL); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for consumed token, got %v", err)
	}
}

func TestResendVerification_ConcurrentResendsLeaveOneLiveToken(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	_, raw := f.register(t, "carol@example.com")

	const workers = 8
	raws := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			notification, err := f.svc.ResendVerification(context.Background(), raw, appURL)
			if err != nil {
				t.Errorf("ResendVerification returned error: %v", err)
				return
			}
			raws[i] = tokenFromBody(t, notification.Body)
		}(i)
	}
	wg.Wait()

	live := 0
	for _, r := range raws {
		if v, _ := f.tokens.Validate(context.Background(), r); v.Result == domain.ValidationValid {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("expected exactly one live verification token, got %d", live)
	}
}

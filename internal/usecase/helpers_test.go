package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/infra/security"
	"github.com/incplusplus/thermostat-accounts/internal/repository/memory"
)

const (
	appURL         = "https://console.example.com"
	strongPassword = "Thermo-Stat!2049xq"
	otherPassword  = "Blue-Ocean#7781zp"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu             sync.Mutex
	registered     []domain.AccountRegisteredEvent
	verified       []domain.AccountVerifiedEvent
	changed        []domain.PasswordChangedEvent
	resetRequested []domain.PasswordResetRequestedEvent
	deleted        []domain.AccountDeletedEvent
}

func (p *recordingPublisher) PublishAccountRegistered(_ context.Context, event domain.AccountRegisteredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered = append(p.registered, event)
	return nil
}

func (p *recordingPublisher) PublishAccountVerified(_ context.Context, event domain.AccountVerifiedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verified = append(p.verified, event)
	return nil
}

func (p *recordingPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, event)
	return nil
}

func (p *recordingPublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetRequested = append(p.resetRequested, event)
	return nil
}

func (p *recordingPublisher) PublishAccountDeleted(_ context.Context, event domain.AccountDeletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, event)
	return nil
}

type fixture struct {
	svc       *AccountService
	tokens    *TokenService
	accounts  *memory.AccountRepository
	tokenRepo *memory.TokenRepository
	sessions  *memory.SessionRegistry
	hasher    *security.Hasher
	events    *recordingPublisher
	clock     *testClock
}

type fixtureOption func(*AccountServiceConfig)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	return newFixtureWithLogger(t, zaptest.NewLogger(t), opts...)
}

func newFixtureWithLogger(t *testing.T, log *zap.Logger, opts ...fixtureOption) *fixture {
	t.Helper()

	hasher, err := security.NewHasher(security.Argon2Config{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}

	clock := newTestClock()
	accounts := memory.NewAccountRepository()
	tokenRepo := memory.NewTokenRepository()
	sessions := memory.NewSessionRegistry(false).WithClock(clock.Now)
	events := &recordingPublisher{}

	cfg := AccountServiceConfig{
		SupportEmail:    "support@thermostat.example.com",
		VerificationTTL: 24 * time.Hour,
		ResetTTL:        30 * time.Minute,
		SessionTTL:      12 * time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	tokens := NewTokenService(tokenRepo, TokenServiceConfig{
		VerificationTTL: cfg.VerificationTTL,
		ResetTTL:        cfg.ResetTTL,
	}, log).WithClock(clock.Now)

	svc := NewAccountService(
		accounts,
		tokens,
		sessions,
		hasher,
		security.NewPasswordPolicy(security.DefaultPolicyConfig()),
		events,
		cfg,
		log,
	).WithClock(clock.Now)

	return &fixture{
		svc:       svc,
		tokens:    tokens,
		accounts:  accounts,
		tokenRepo: tokenRepo,
		sessions:  sessions,
		hasher:    hasher,
		events:    events,
		clock:     clock,
	}
}

func (f *fixture) register(t *testing.T, email string) (RegistrationResult, string) {
	t.Helper()
	result, err := f.svc.Register(context.Background(), RegistrationInput{
		Email:            email,
		Password:         strongPassword,
		MatchingPassword: strongPassword,
		FirstName:        "Carol",
		LastName:         "Shaw",
		AppURL:           appURL,
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	return result, tokenFromBody(t, result.Notification.Body)
}

func (f *fixture) registerVerified(t *testing.T, email string) domain.Account {
	t.Helper()
	result, raw := f.register(t, email)
	confirmation, err := f.svc.ConfirmRegistration(context.Background(), raw)
	if err != nil || confirmation.Status != ConfirmationValid {
		t.Fatalf("confirm registration: status=%s err=%v", confirmation.Status, err)
	}
	return result.Account
}

func tokenFromBody(t *testing.T, body string) string {
	t.Helper()
	_, raw, ok := strings.Cut(body, "token=")
	if !ok || raw == "" {
		t.Fatalf("no token in body %q", body)
	}
	return raw
}

package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/incplusplus/thermostat-accounts/internal/infra/config"
	"github.com/incplusplus/thermostat-accounts/internal/jobs"
)

type dialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// SMTPSender delivers queued account emails over SMTP.
type SMTPSender struct {
	client  dialer
	timeout time.Duration
	logger  *zap.Logger
}

// NewSMTPSender builds an SMTP client from the mail settings. Authentication is enabled only when a username is set.
func NewSMTPSender(cfg config.MailSettings, log *zap.Logger) (*SMTPSender, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SMTPHost == "" {
		return nil, fmt.Errorf("mail.smtp_host is required")
	}

	policy, err := tlsPolicy(cfg.TLSPolicy)
	if err != nil {
		return nil, err
	}

	opts := []gomail.Option{
		gomail.WithTLSPolicy(policy),
	}
	if cfg.SMTPPort > 0 {
		opts = append(opts, gomail.WithPort(cfg.SMTPPort))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, gomail.WithTimeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	log.Info("smtp sender configured",
		zap.String("host", cfg.SMTPHost),
		zap.Int("port", cfg.SMTPPort),
		zap.String("tls_policy", policy.String()),
	)

	return &SMTPSender{client: client, timeout: cfg.Timeout, logger: log}, nil
}

func tlsPolicy(name string) (gomail.TLSPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "opportunistic":
		return gomail.TLSOpportunistic, nil
	case "mandatory":
		return gomail.TLSMandatory, nil
	case "none":
		return gomail.NoTLS, nil
	default:
		return gomail.NoTLS, fmt.Errorf("unknown mail.tls_policy %q", name)
	}
}

// Send implements jobs.Sender.
func (s *SMTPSender) Send(ctx context.Context, payload jobs.SendEmailPayload) error {
	msg, err := buildMessage(payload)
	if err != nil {
		return err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func buildMessage(payload jobs.SendEmailPayload) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(payload.From); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(payload.To); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(payload.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, payload.Body)
	return msg, nil
}

var _ jobs.Sender = (*SMTPSender)(nil)

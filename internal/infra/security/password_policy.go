package security

import (
	"strings"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/core/port"
)

// PolicyConfig tunes the password policy.
type PolicyConfig struct {
	MinLength  int
	MaxLength  int
	MinClasses int
	MinScore   int
}

// DefaultPolicyConfig returns the built-in password policy.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MinLength:  10,
		MaxLength:  128,
		MinClasses: 3,
		MinScore:   3,
	}
}

// DefaultPasswordValidator returns a validator for the default policy without account context.
func DefaultPasswordValidator() *PasswordValidator {
	return NewPasswordPolicy(DefaultPolicyConfig()).validator(nil)
}

// PasswordPolicy adapts the password validator to the account-level policy interface.
type PasswordPolicy struct {
	cfg PolicyConfig
}

// NewPasswordPolicy builds a policy that accounts for the account's own attributes when validating passwords.
func NewPasswordPolicy(cfg PolicyConfig) *PasswordPolicy {
	return &PasswordPolicy{cfg: cfg}
}

func (p *PasswordPolicy) validator(inputs []string) *PasswordValidator {
	return NewPasswordValidator(
		MinLengthRule(p.cfg.MinLength),
		MaxLengthRule(p.cfg.MaxLength),
		RequireCharacterClassesRule(p.cfg.MinClasses),
		RejectAccountDataRule(inputs...),
		RequirePasswordStrengthRule(p.cfg.MinScore, inputs...),
	)
}

// Validate ensures the password meets policy requirements.
func (p *PasswordPolicy) Validate(password string, ctx domain.PasswordContext) error {
	inputs := make([]string, 0, 4)
	if email := domain.NormalizeEmail(ctx.Email); email != "" {
		inputs = append(inputs, email)
		if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
			inputs = append(inputs, local)
		}
	}
	if ctx.FirstName != "" {
		inputs = append(inputs, ctx.FirstName)
	}
	if ctx.LastName != "" {
		inputs = append(inputs, ctx.LastName)
	}

	return p.validator(inputs).Validate(password)
}

var _ port.PasswordPolicyValidator = (*PasswordPolicy)(nil)

package port

import "github.com/incplusplus/thermostat-accounts/internal/core/domain"

// PasswordPolicyValidator enforces password strength requirements.
type PasswordPolicyValidator interface {
	Validate(password string, ctx domain.PasswordContext) error
}

// PasswordHasher hashes and verifies secrets using the configured algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encoded string) (bool, error)
}

// RehashChecker is implemented by hashers able to tell when a stored hash
// was produced with outdated parameters or a legacy algorithm.
type RehashChecker interface {
	NeedsRehash(encoded string) bool
}

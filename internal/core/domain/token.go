package domain

import "time"

// TokenKind distinguishes the flows a token may authorise.
type TokenKind string

const (
	TokenKindVerification  TokenKind = "verification"
	TokenKindPasswordReset TokenKind = "password_reset"
)

// Valid reports whether k is a known token kind.
func (k TokenKind) Valid() bool {
	return k == TokenKindVerification || k == TokenKindPasswordReset
}

// Token is a single-use, time-bounded credential bound to an account.
// Only the SHA-256 hash of the raw value is persisted.
type Token struct {
	ID         string
	AccountID  string
	Kind       TokenKind
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	RevokedAt  *time.Time
}

// IsExpired reports whether the token elapsed its validity window.
// skew extends the window to tolerate small clock differences.
func (t Token) IsExpired(at time.Time, skew time.Duration) bool {
	return at.After(t.ExpiresAt.Add(skew))
}

// IsConsumed reports whether the token was already redeemed.
func (t Token) IsConsumed() bool {
	return t.ConsumedAt != nil
}

// IsRevoked reports whether the token was superseded or invalidated.
func (t Token) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsLive reports whether the token is neither consumed nor revoked.
// Expiry is checked separately.
func (t Token) IsLive() bool {
	return !t.IsConsumed() && !t.IsRevoked()
}

// Consume marks the token as used.
// Returns true when the token transitions from live to consumed.
func (t *Token) Consume(at time.Time) bool {
	if !t.IsLive() {
		return false
	}
	timeCopy := at
	t.ConsumedAt = &timeCopy
	return true
}

// Revoke marks the token as revoked.
// Returns true when the token transitions from live to revoked.
func (t *Token) Revoke(at time.Time) bool {
	if !t.IsLive() {
		return false
	}
	timeCopy := at
	t.RevokedAt = &timeCopy
	return true
}

// ValidationResult enumerates the outcomes of validating a raw token.
type ValidationResult string

const (
	ValidationValid    ValidationResult = "valid"
	ValidationExpired  ValidationResult = "expired"
	ValidationNotFound ValidationResult = "not_found"
)

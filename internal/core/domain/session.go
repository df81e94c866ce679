package domain

import "time"

// SessionEntry binds an authenticated principal to a session handle.
type SessionEntry struct {
	Handle      string
	PrincipalID string
	Email       string
	Authorities []string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// IsExpired reports whether the session elapsed its lifetime.
// A zero ExpiresAt never expires.
func (s SessionEntry) IsExpired(at time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !s.ExpiresAt.After(at)
}

// Principal returns the principal bound to the session.
func (s SessionEntry) Principal() Principal {
	authorities := make([]string, len(s.Authorities))
	copy(authorities, s.Authorities)
	return Principal{
		AccountID:     s.PrincipalID,
		Email:         s.Email,
		Authorities:   authorities,
		SessionHandle: s.Handle,
	}
}

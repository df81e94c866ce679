package domain

import "time"

// AccountRegisteredEvent represents the payload for account.registered messages.
type AccountRegisteredEvent struct {
	EventID      string
	AccountID    string
	Email        string
	Status       string
	RegisteredAt time.Time
	Metadata     map[string]any
}

// AccountVerifiedEvent represents the payload for account.verified messages.
type AccountVerifiedEvent struct {
	EventID    string
	AccountID  string
	VerifiedAt time.Time
	Metadata   map[string]any
}

// PasswordChangedEvent represents the payload for account.password.changed messages.
type PasswordChangedEvent struct {
	EventID            string
	AccountID          string
	ChangedAt          time.Time
	ChangedBy          string
	ResetTokensRevoked int
	Metadata           map[string]any
}

// PasswordResetRequestedEvent represents the payload for account.password.reset_requested messages.
type PasswordResetRequestedEvent struct {
	EventID           string
	AccountID         string
	RequestedAt       time.Time
	MaskedDestination string
	ExpiresAt         time.Time
	Metadata          map[string]any
}

// AccountDeletedEvent represents the payload for account.deleted messages.
type AccountDeletedEvent struct {
	EventID         string
	AccountID       string
	DeletedBy       string
	DeletedAt       time.Time
	SessionsRevoked int
	Metadata        map[string]any
}

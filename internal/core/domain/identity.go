package domain

import (
	"strings"
	"time"
)

// AccountStatus enumerates the verification states of an account.
type AccountStatus string

const (
	AccountStatusUnverified AccountStatus = "unverified"
	AccountStatusVerified   AccountStatus = "verified"
)

// Account mirrors the persisted representation in the accounts table.
type Account struct {
	ID                string
	Email             string
	FirstName         string
	LastName          string
	PasswordHash      string
	Status            AccountStatus
	Roles             []Role
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PasswordChangedAt time.Time
}

// NormalizeEmail returns the canonical form used for storage and lookups.
// Email comparison is case-insensitive across the service.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewAccount builds an unverified account with normalised email and roles.
func NewAccount(id, email, passwordHash string, roles []Role, at time.Time) Account {
	normalized := make([]Role, 0, len(roles))
	for _, role := range roles {
		normalized = append(normalized, NewRole(role.Name, role.Privileges...))
	}

	return Account{
		ID:                id,
		Email:             NormalizeEmail(email),
		PasswordHash:      passwordHash,
		Status:            AccountStatusUnverified,
		Roles:             normalized,
		CreatedAt:         at,
		UpdatedAt:         at,
		PasswordChangedAt: at,
	}
}

// IsVerified reports whether the account completed email verification.
func (a Account) IsVerified() bool {
	return a.Status == AccountStatusVerified
}

// CanAuthenticate reports whether the account may establish a session.
func (a Account) CanAuthenticate() bool {
	return a.IsVerified()
}

// Authorities flattens roles into the distinct privilege names granted to the account.
// Order follows the first occurrence of each privilege.
func (a Account) Authorities() []string {
	seen := make(map[string]struct{})
	authorities := make([]string, 0)
	for _, role := range a.Roles {
		for _, privilege := range role.Privileges {
			if _, ok := seen[privilege.Name]; ok {
				continue
			}
			seen[privilege.Name] = struct{}{}
			authorities = append(authorities, privilege.Name)
		}
	}
	return authorities
}

// RoleNames returns the names of the roles assigned to the account.
func (a Account) RoleNames() []string {
	names := make([]string, 0, len(a.Roles))
	for _, role := range a.Roles {
		names = append(names, role.Name)
	}
	return names
}

// Principal is the authenticated identity passed explicitly into operations
// acting on behalf of the current user.
type Principal struct {
	AccountID     string
	Email         string
	Authorities   []string
	SessionHandle string
}

// PrincipalFor builds a principal for the account without a session handle.
func PrincipalFor(account Account) Principal {
	return Principal{
		AccountID:   account.ID,
		Email:       account.Email,
		Authorities: account.Authorities(),
	}
}

// HasAuthority reports whether the principal was granted the named privilege.
func (p Principal) HasAuthority(name string) bool {
	for _, authority := range p.Authorities {
		if authority == name {
			return true
		}
	}
	return false
}

// PasswordContext supplies account attributes that a password must not resemble.
type PasswordContext struct {
	Email     string
	FirstName string
	LastName  string
}

package usecase

import "errors"

var (
	// ErrAlreadyExists indicates an account with the email is already registered.
	ErrAlreadyExists = errors.New("account already exists")
	// ErrInvalidToken indicates the token is unknown, consumed, superseded or of the wrong kind.
	ErrInvalidToken = errors.New("token invalid")
	// ErrExpiredToken indicates the token existed but its validity window elapsed.
	ErrExpiredToken = errors.New("token expired")
	// ErrInvalidOldPassword indicates the current password supplied for an update did not match.
	ErrInvalidOldPassword = errors.New("invalid old password")
	// ErrNotFound indicates the account does not exist.
	ErrNotFound = errors.New("account not found")
	// ErrInvalidCredentials indicates login failed. Unknown emails and wrong passwords are indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountNotVerified indicates the account has not confirmed its email.
	ErrAccountNotVerified = errors.New("account not verified")
	// ErrPasswordPolicy indicates the password does not satisfy the policy.
	ErrPasswordPolicy = errors.New("password does not meet complexity requirements")
	// ErrPasswordMismatch indicates password and confirmation differ.
	ErrPasswordMismatch = errors.New("passwords do not match")
	// ErrInvalidEmail indicates the email address is malformed.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrPermissionDenied indicates the principal lacks the required authority.
	ErrPermissionDenied = errors.New("permission denied")
)

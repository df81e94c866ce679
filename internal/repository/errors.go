package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrAlreadyExists indicates a unique key (such as an account email) is taken.
	ErrAlreadyExists = errors.New("repository: already exists")
)

package services

import "errors"

var (
	// ErrNotFound covers both a missing post and a post owned by someone else.
	ErrNotFound = errors.New("not found")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrConflict           = errors.New("email already registered")
	ErrMissingIdentity    = errors.New("missing identity")

	// ErrInvalidPassword means the password cannot be hashed as given.
	ErrInvalidPassword = errors.New("invalid password")
)

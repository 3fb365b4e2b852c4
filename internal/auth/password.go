package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

var (
	// ErrEmptyPassword is returned when asked to hash an empty password.
	ErrEmptyPassword = errors.New("empty password")
	// ErrPasswordTooLong is returned for passwords over MaxPasswordBytes bytes.
	ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
)

// HashPassword returns the bcrypt hash of password using a per-call random salt.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckPassword reports whether password matches hash. A malformed hash
// is treated as a mismatch.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

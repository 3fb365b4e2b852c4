package types

import "time"

// User represents an account in the system.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Name is the user's display name. It is carried in issued tokens
	// as the username claim.
	Name string `json:"name" db:"name"`

	// Email is the user's email address. It is unique across users and
	// is the login identifier.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Identity is the authenticated principal derived from a verified token.
// It lives for the duration of a single request.
type Identity struct {
	UserID   int    `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

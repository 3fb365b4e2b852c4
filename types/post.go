package types

import "time"

// Post is an article owned by a single user.
// Every read or write is scoped by both ID and UserID.
type Post struct {
	// ID is the unique identifier of the post.
	ID int `json:"id" db:"id"`

	// UserID identifies the owner of the post.
	UserID int `json:"user_id" db:"user_id"`

	Title       string `json:"title" db:"title"`
	Description string `json:"description" db:"description"`
	Article     string `json:"article" db:"article"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PostFields are the user-editable parts of a post.
type PostFields struct {
	Title       string
	Description string
	Article     string
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/quillpress/apiserver/types"
)

// PostRepository handles persistence for posts in the user_data table.
// Every statement that addresses an existing row filters on both id and
// user_id.
type PostRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) *PostRepository {
	return &PostRepository{db: db}
}

func (r *PostRepository) Create(ctx context.Context, post types.Post) (types.Post, error) {
	now := time.Now()
	post.CreatedAt = now
	post.UpdatedAt = now

	const query = `
		INSERT INTO user_data (user_id, title, description, article, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		post.UserID,
		post.Title,
		post.Description,
		post.Article,
		post.CreatedAt,
		post.UpdatedAt,
	).Scan(&post.ID); err != nil {
		return types.Post{}, err
	}
	return post, nil
}

func (r *PostRepository) Get(ctx context.Context, userID, postID int) (types.Post, error) {
	const query = `
		SELECT id, user_id, title, description, article, created_at, updated_at
		FROM user_data
		WHERE id = $1 AND user_id = $2`
	var post types.Post
	err := r.db.QueryRowContext(ctx, query, postID, userID).Scan(
		&post.ID,
		&post.UserID,
		&post.Title,
		&post.Description,
		&post.Article,
		&post.CreatedAt,
		&post.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Post{}, ErrNotFound
		}
		return types.Post{}, err
	}
	return post, nil
}

// CountOwned returns how many rows match (postID, userID); 1 means the
// user owns the post.
func (r *PostRepository) CountOwned(ctx context.Context, userID, postID int) (int, error) {
	const query = `SELECT COUNT(1) FROM user_data WHERE id = $1 AND user_id = $2`
	var count int
	if err := r.db.QueryRowContext(ctx, query, postID, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Update overwrites the editable fields of post and returns the number of
// rows changed.
func (r *PostRepository) Update(ctx context.Context, post types.Post) (int64, error) {
	const query = `
		UPDATE user_data
		SET title = $1,
			description = $2,
			article = $3,
			updated_at = $4
		WHERE id = $5 AND user_id = $6`
	result, err := r.db.ExecContext(
		ctx,
		query,
		post.Title,
		post.Description,
		post.Article,
		post.UpdatedAt,
		post.ID,
		post.UserID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Delete removes the post and returns the number of rows removed.
func (r *PostRepository) Delete(ctx context.Context, userID, postID int) (int64, error) {
	const query = `DELETE FROM user_data WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, postID, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

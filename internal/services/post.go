package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quillpress/apiserver/internal/store"
	"github.com/quillpress/apiserver/types"
)

// PostRepository defines persistence operations for posts. Every method
// that addresses an existing row takes the owner's user ID.
type PostRepository interface {
	Create(ctx context.Context, post types.Post) (types.Post, error)
	Get(ctx context.Context, userID, postID int) (types.Post, error)
	CountOwned(ctx context.Context, userID, postID int) (int, error)
	Update(ctx context.Context, post types.Post) (int64, error)
	Delete(ctx context.Context, userID, postID int) (int64, error)
}

// PostService encapsulates ownership-scoped post use-cases. The identity
// argument must come from a verified token.
type PostService struct {
	repo PostRepository
	now  func() time.Time
}

func NewPostService(repo PostRepository) *PostService {
	return &PostService{repo: repo, now: time.Now}
}

func (s *PostService) Create(ctx context.Context, identity types.Identity, fields types.PostFields) (types.Post, error) {
	if identity.UserID < 1 {
		return types.Post{}, ErrMissingIdentity
	}
	post, err := s.repo.Create(ctx, types.Post{
		UserID:      identity.UserID,
		Title:       fields.Title,
		Description: fields.Description,
		Article:     fields.Article,
	})
	if err != nil {
		return types.Post{}, fmt.Errorf("create post: %w", err)
	}
	return post, nil
}

func (s *PostService) Get(ctx context.Context, identity types.Identity, postID int) (types.Post, error) {
	if identity.UserID < 1 {
		return types.Post{}, ErrMissingIdentity
	}
	post, err := s.repo.Get(ctx, identity.UserID, postID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Post{}, ErrNotFound
		}
		return types.Post{}, fmt.Errorf("get post: %w", err)
	}
	return post, nil
}

// Update checks ownership, then writes. The two statements are not in a
// transaction; both carry the (postID, userID) predicate, so a concurrent
// delete only turns the write into a no-op.
func (s *PostService) Update(ctx context.Context, identity types.Identity, postID int, fields types.PostFields) (types.Post, error) {
	if identity.UserID < 1 {
		return types.Post{}, ErrMissingIdentity
	}

	count, err := s.repo.CountOwned(ctx, identity.UserID, postID)
	if err != nil {
		return types.Post{}, fmt.Errorf("check post ownership: %w", err)
	}
	if count != 1 {
		return types.Post{}, ErrNotFound
	}

	post := types.Post{
		ID:          postID,
		UserID:      identity.UserID,
		Title:       fields.Title,
		Description: fields.Description,
		Article:     fields.Article,
		UpdatedAt:   s.now(),
	}
	affected, err := s.repo.Update(ctx, post)
	if err != nil {
		return types.Post{}, fmt.Errorf("update post: %w", err)
	}
	if affected == 0 {
		return types.Post{}, ErrNotFound
	}

	return s.Get(ctx, identity, postID)
}

func (s *PostService) Delete(ctx context.Context, identity types.Identity, postID int) error {
	if identity.UserID < 1 {
		return ErrMissingIdentity
	}
	affected, err := s.repo.Delete(ctx, identity.UserID, postID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

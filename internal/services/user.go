package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quillpress/apiserver/internal/auth"
	"github.com/quillpress/apiserver/internal/store"
	"github.com/quillpress/apiserver/types"
	"go.uber.org/zap"
)

const notifyTimeout = 10 * time.Second

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, user types.User) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
}

// Notifier delivers the welcome message for a newly created account.
type Notifier interface {
	Welcome(ctx context.Context, user types.User) error
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	User  types.User
	Token string
}

// UserService encapsulates signup and login.
type UserService struct {
	repo     UserRepository
	tokens   *auth.TokenService
	notifier Notifier
	log      *zap.Logger

	wg sync.WaitGroup
}

func NewUserService(repo UserRepository, tokens *auth.TokenService, notifier Notifier, log *zap.Logger) *UserService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &UserService{
		repo:     repo,
		tokens:   tokens,
		notifier: notifier,
		log:      log,
	}
}

// Signup hashes the password, persists the user and fires the welcome
// notification in the background. The returned user carries no hash.
func (s *UserService) Signup(ctx context.Context, name, email, password string) (types.User, error) {
	hashed, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrEmptyPassword) || errors.Is(err, auth.ErrPasswordTooLong) {
			return types.User{}, fmt.Errorf("%w: %w", ErrInvalidPassword, err)
		}
		return types.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.repo.Create(ctx, types.User{
		Name:         strings.TrimSpace(name),
		Email:        normalizeEmail(email),
		PasswordHash: hashed,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return types.User{}, ErrConflict
		}
		return types.User{}, fmt.Errorf("create user: %w", err)
	}
	user.PasswordHash = ""

	s.notifyWelcome(ctx, user)
	return user, nil
}

// Login verifies the credentials and issues a token. An unknown email and a
// wrong password both yield ErrInvalidCredentials.
func (s *UserService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	user, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("find user: %w", err)
	}

	if !auth.CheckPassword(user.PasswordHash, password) {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(types.Identity{
		UserID:   user.ID,
		Username: user.Name,
		Email:    user.Email,
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}

	user.PasswordHash = ""
	return LoginResult{User: user, Token: token}, nil
}

// Wait blocks until all in-flight welcome notifications have finished.
func (s *UserService) Wait() {
	s.wg.Wait()
}

func (s *UserService) notifyWelcome(ctx context.Context, user types.User) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()

		if err := s.notifier.Welcome(ctx, user); err != nil {
			s.log.Warn("welcome notification failed",
				zap.Int("user_id", user.ID),
				zap.Error(err),
			)
		}
	}()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Welcome(context.Context, types.User) error { return nil }

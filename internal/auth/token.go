package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/quillpress/apiserver/types"
)

const DefaultTokenTTL = time.Hour

var (
	// ErrInvalidToken covers every verification failure: bad signature,
	// expiry, malformed input, missing claims.
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingSigningKey means the process has no signing secret configured.
	ErrMissingSigningKey = errors.New("token signing key is not configured")
)

// Claims is the signed claim set carried by access tokens.
type Claims struct {
	UserID   int    `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService constructs a TokenService. A non-positive ttl falls back
// to DefaultTokenTTL. An empty secret is accepted here so that callers can
// surface ErrMissingSigningKey per request; Issue and Verify fail closed.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock returns a copy of s that reads the current time from now.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	clone := *s
	clone.now = now
	return &clone
}

// Configured reports whether a signing key is present.
func (s *TokenService) Configured() bool {
	return s != nil && len(s.secret) > 0
}

// TTL returns the lifetime of issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for the given identity.
func (s *TokenService) Issue(identity types.Identity) (string, error) {
	if !s.Configured() {
		return "", ErrMissingSigningKey
	}

	now := s.now()
	claims := Claims{
		UserID:   identity.UserID,
		Username: identity.Username,
		Email:    identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of tokenString and returns the
// identity it carries.
func (s *TokenService) Verify(tokenString string) (types.Identity, error) {
	if !s.Configured() {
		return types.Identity{}, ErrMissingSigningKey
	}

	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	},
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return types.Identity{}, ErrInvalidToken
	}
	if claims.UserID < 1 {
		return types.Identity{}, ErrInvalidToken
	}

	return types.Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		Email:    claims.Email,
	}, nil
}

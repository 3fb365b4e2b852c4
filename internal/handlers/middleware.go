package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/quillpress/apiserver/internal/auth"
)

const (
	msgNoToken         = "No token provided."
	msgInvalidToken    = "Invalid token."
	msgMisconfigured   = "Server misconfigured: token signing key is unavailable."
	msgMissingIdentity = "User ID not provided in the request"
)

// RequireAuth verifies the bearer token and attaches the caller's identity
// to the request context. It performs no other work.
func RequireAuth(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, msgNoToken)
				return
			}

			if !tokens.Configured() {
				writeError(w, http.StatusInternalServerError, msgMisconfigured)
				return
			}

			identity, err := tokens.Verify(tokenString)
			if err != nil {
				if errors.Is(err, auth.ErrMissingSigningKey) {
					writeError(w, http.StatusInternalServerError, msgMisconfigured)
					return
				}
				writeError(w, http.StatusUnauthorized, msgInvalidToken)
				return
			}

			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}

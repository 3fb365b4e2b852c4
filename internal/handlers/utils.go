package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/quillpress/apiserver/types"
)

type contextKey string

const (
	contextIdentityKey contextKey = "identity"
	contextBodyKey     contextKey = "body"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// MessageResponse is a plain confirmation payload.
type MessageResponse struct {
	Message string `json:"message"`
}

func withIdentity(ctx context.Context, identity types.Identity) context.Context {
	return context.WithValue(ctx, contextIdentityKey, identity)
}

// IdentityFromContext returns the identity attached by RequireAuth.
func IdentityFromContext(ctx context.Context) (types.Identity, bool) {
	identity, ok := ctx.Value(contextIdentityKey).(types.Identity)
	if !ok || identity.UserID < 1 {
		return types.Identity{}, false
	}
	return identity, true
}

func withBody[T any](ctx context.Context, body T) context.Context {
	return context.WithValue(ctx, contextBodyKey, body)
}

func bodyFromContext[T any](ctx context.Context) (T, bool) {
	body, ok := ctx.Value(contextBodyKey).(T)
	return body, ok
}

func parsePostID(r *http.Request) (int, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid post id")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

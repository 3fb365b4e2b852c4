package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/quillpress/apiserver/internal/auth"
	"github.com/quillpress/apiserver/internal/services"
	"github.com/quillpress/apiserver/types"
	"go.uber.org/zap"
)

// AuthHandler provides signup, login and profile endpoints.
type AuthHandler struct {
	userService *services.UserService
	log         *zap.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(userService *services.UserService, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{
		userService: userService,
		log:         log,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(
	r chi.Router,
	userService *services.UserService,
	authMiddleware func(http.Handler) http.Handler,
	v *validator.Validate,
	log *zap.Logger,
) {
	handler := NewAuthHandler(userService, log)

	r.With(ValidateBody[SignupRequest](v)).Post("/signup", handler.Signup)
	r.With(ValidateBody[LoginRequest](v)).Post("/login", handler.Login)
	r.With(authMiddleware).Get("/profile", handler.Profile)
}

// Signup creates a new account. The response never includes the password hash.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	req, ok := bodyFromContext[SignupRequest](r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.userService.Signup(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrConflict) {
			writeError(w, http.StatusConflict, "Email already registered")
			return
		}
		if errors.Is(err, services.ErrInvalidPassword) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "Validation failed",
				Details: []string{fmt.Sprintf("password : Must contain at most %d byte(s)", auth.MaxPasswordBytes)},
			})
			return
		}
		h.log.Error("signup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to add user")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Login verifies credentials and returns a token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := bodyFromContext[LoginRequest](r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	result, err := h.userService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		h.log.Error("login failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to login user")
		return
	}

	writeJSON(w, http.StatusCreated, LoginResponse{LoggedUser: result.User, Token: result.Token})
}

// Profile echoes the caller's verified identity.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, msgInvalidToken)
		return
	}
	writeJSON(w, http.StatusCreated, identity)
}

type SignupRequest struct {
	Name     string `json:"name" validate:"notblank,max=100"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=2,maxbytes=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	LoggedUser types.User `json:"loggedUser"`
	Token      string     `json:"Token"`
}

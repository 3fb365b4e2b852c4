package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/quillpress/apiserver/internal/services"
	"github.com/quillpress/apiserver/types"
	"go.uber.org/zap"
)

// PostHandler provides HTTP handlers for the caller's own posts. The owner
// is always taken from the verified identity, never from the request.
type PostHandler struct {
	postService *services.PostService
	log         *zap.Logger
}

func NewPostHandler(postService *services.PostService, log *zap.Logger) *PostHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostHandler{
		postService: postService,
		log:         log,
	}
}

// PostRouter registers post routes on the given router. Every route is
// behind authMiddleware.
func PostRouter(
	r chi.Router,
	postService *services.PostService,
	authMiddleware func(http.Handler) http.Handler,
	v *validator.Validate,
	log *zap.Logger,
) {
	handler := NewPostHandler(postService, log)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.With(ValidateBody[PostRequest](v)).Post("/create", handler.CreatePost)
		r.Delete("/delete/{id}", handler.DeletePost)
		r.Get("/post/{id}", handler.GetPost)
		r.With(ValidateBody[PostRequest](v)).Put("/update/{id}", handler.UpdatePost)
	})
}

func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, msgMissingIdentity)
		return
	}
	req, ok := bodyFromContext[PostRequest](r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	post, err := h.postService.Create(r.Context(), identity, req.fields())
	if err != nil {
		h.log.Error("create post failed", zap.Int("user_id", identity.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to add data")
		return
	}

	writeJSON(w, http.StatusCreated, post)
}

func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, msgMissingIdentity)
		return
	}
	id, err := parsePostID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid post id")
		return
	}

	post, err := h.postService.Get(r.Context(), identity, id)
	if err != nil {
		h.writePostError(w, identity, "Failed to get Post", err)
		return
	}

	writeJSON(w, http.StatusOK, post)
}

func (h *PostHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, msgMissingIdentity)
		return
	}
	id, err := parsePostID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid post id")
		return
	}
	req, ok := bodyFromContext[PostRequest](r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	post, err := h.postService.Update(r.Context(), identity, id, req.fields())
	if err != nil {
		h.writePostError(w, identity, "Failed to update Post", err)
		return
	}

	writeJSON(w, http.StatusOK, post)
}

func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, msgMissingIdentity)
		return
	}
	id, err := parsePostID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid post id")
		return
	}

	if err := h.postService.Delete(r.Context(), identity, id); err != nil {
		h.writePostError(w, identity, "Failed to delete Post", err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Post deleted"})
}

func (h *PostHandler) writePostError(w http.ResponseWriter, identity types.Identity, message string, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, "Post not found")
	case errors.Is(err, services.ErrMissingIdentity):
		writeError(w, http.StatusBadRequest, msgMissingIdentity)
	default:
		h.log.Error("post operation failed", zap.Int("user_id", identity.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, message)
	}
}

// PostRequest is the body accepted by create and update.
type PostRequest struct {
	Title       string `json:"title" validate:"notblank,max=255"`
	Description string `json:"description" validate:"max=1000"`
	Article     string `json:"article" validate:"notblank"`
}

func (p PostRequest) fields() types.PostFields {
	return types.PostFields{
		Title:       p.Title,
		Description: p.Description,
		Article:     p.Article,
	}
}

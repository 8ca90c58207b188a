package handler

import (
	"encoding/json"
	"net/http"

	"github.com/puppals/mediastore/internal/ctxkeys"
	"github.com/puppals/mediastore/internal/service"
)

const maxPostBody = 64 << 10

type PostHandler struct {
	postService *service.PostService
}

func NewPostHandler(postService *service.PostService) *PostHandler {
	return &PostHandler{
		postService: postService,
	}
}

type createPostRequest struct {
	Content string `json:"content"`
}

// Create handles POST /posts. The author is the authenticated caller.
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPostBody)).Decode(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	post, err := h.postService.Create(r.Context(), ctxkeys.OwnerID(r.Context()), req.Content)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	detail, err := h.postService.ByID(r.Context(), post.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// Get handles GET /posts/{id}.
func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.postService.ByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// List handles GET /posts.
func (h *PostHandler) List(w http.ResponseWriter, r *http.Request) {
	posts, err := h.postService.All(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

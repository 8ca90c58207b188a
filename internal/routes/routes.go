package routes

import (
	"net/http"

	"github.com/puppals/mediastore/internal/app"
	"github.com/puppals/mediastore/internal/handler"
	"github.com/puppals/mediastore/internal/metrics"
	"github.com/puppals/mediastore/internal/middleware"
)

func SetupRoutes(app *app.App) http.Handler {
	// Handlers
	files := handler.NewFileHandler(app.FileService, app.Cfg.MaxUploadBytes)
	posts := handler.NewPostHandler(app.PostService)
	health := handler.NewHealthHandler(app.DB)

	mux := http.NewServeMux()

	// ============================================================================
	// OPERATIONS
	// ============================================================================

	mux.HandleFunc("GET /health", health.Health)
	mux.Handle("GET /metrics", metrics.Handler(app.Registry))

	// ============================================================================
	// PUBLIC ROUTES
	// ============================================================================

	// Media retrieval (GET also answers HEAD)
	mux.HandleFunc("GET /files/{name}", files.Stream)
	mux.HandleFunc("GET /files/post/{postId}", files.ByPost)
	mux.HandleFunc("GET /files/owner/{ownerId}", files.ByOwner)

	// Posts
	mux.HandleFunc("GET /posts", posts.List)
	mux.HandleFunc("GET /posts/{id}", posts.Get)

	// ============================================================================
	// PROTECTED ROUTES
	// ============================================================================

	// Uploads are rate limited per owner, then queued behind the concurrency cap
	rateLimiter := middleware.RateLimit(app.Cfg.UploadRateLimit, app.Cfg.UploadRateWindow)
	uploadSlots := middleware.LimitConcurrency(int64(app.Cfg.MaxConcurrentUploads))

	mux.HandleFunc("POST /upload", middleware.RequireAuth(rateLimiter(uploadSlots(files.Upload))))
	mux.HandleFunc("DELETE /files/{name}", middleware.RequireAuth(files.Delete))
	mux.HandleFunc("POST /posts", middleware.RequireAuth(posts.Create))

	// ============================================================================
	// FALLBACK
	// ============================================================================

	mux.HandleFunc("/", handler.NotFound)

	// Global middleware - executed in order (top to bottom)
	handler := middleware.Chain(
		mux,
		middleware.RequestID,
		middleware.Authenticate(app.AuthService), // Before logging so log lines carry the owner id
		middleware.RequestLogging,
	)

	return handler
}

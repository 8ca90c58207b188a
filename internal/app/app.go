package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puppals/mediastore/internal/config"
	"github.com/puppals/mediastore/internal/db"
	"github.com/puppals/mediastore/internal/metrics"
	"github.com/puppals/mediastore/internal/repository"
	"github.com/puppals/mediastore/internal/service"
	"github.com/puppals/mediastore/internal/storage"
	"github.com/puppals/mediastore/internal/validation"
)

type App struct {
	Cfg         *config.Config
	DB          *sqlx.DB
	Blobs       storage.BlobStore
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	AuthService *service.AuthService
	FileService *service.FileService
	PostService *service.PostService
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Run database migrations
	err = db.RunMigrations(ctx, database.DB, cfg.DBDriver)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a, err := Assemble(ctx, cfg, database)
	if err != nil {
		database.Close()
		return nil, err
	}
	return a, nil
}

// Assemble wires repositories, blob storage, metrics and services on an open, migrated database.
func Assemble(ctx context.Context, cfg *config.Config, database *sqlx.DB) (*App, error) {
	// Repositories
	fileRepository, err := repository.NewCachedFileRepository(repository.NewFileRepository(database), cfg.FileCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file cache: %w", err)
	}
	postRepository := repository.NewPostRepository(database)

	// Storage
	blobs, err := NewBlobStore(ctx, cfg, database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob storage: %w", err)
	}

	// Metrics
	registry := metrics.NewRegistry()
	m := metrics.New(registry)

	// Services
	mimeTypes := cfg.AllowedMimeTypes
	if len(mimeTypes) == 0 {
		mimeTypes = validation.DefaultMediaTypes
	}
	limits := validation.NewConstraints(mimeTypes, cfg.MaxUploadBytes)
	fileService := service.NewFileService(fileRepository, postRepository, blobs, limits, m, cfg.PublicBaseURL)
	postService := service.NewPostService(postRepository, fileRepository)
	authService := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)

	return &App{
		Cfg:         cfg,
		DB:          database,
		Blobs:       blobs,
		Registry:    registry,
		Metrics:     m,
		AuthService: authService,
		FileService: fileService,
		PostService: postService,
	}, nil
}

// NewBlobStore picks the blob backend named by BLOB_BACKEND.
func NewBlobStore(ctx context.Context, cfg *config.Config, database *sqlx.DB) (storage.BlobStore, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendSQL:
		return storage.NewSQLBlobStore(database, cfg.BlobChunkSize), nil
	case config.BlobBackendS3:
		return storage.NewS3FromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

func (a *App) Close() error {
	return db.Close(a.DB)
}

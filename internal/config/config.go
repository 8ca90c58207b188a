package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BlobBackendSQL = "sql"
	BlobBackendS3  = "s3"
)

type Config struct {
	// Application
	AppName       string
	AppEnv        string
	Port          string
	PublicBaseURL string // Prefix for retrieval URLs, empty = relative "/files/..."

	// Database (optional driver switch via ENV, default: sqlite)
	DBDriver     string
	DBConnection string

	// Security
	JWTSecret string
	JWTExpiry time.Duration

	// Observability (optional)
	SentryDSN string

	// Blob storage
	BlobBackend   string // "sql" (chunks in the database) or "s3"
	BlobChunkSize int

	// Storage (S3-compatible: MinIO, AWS S3, Cloudflare R2, DigitalOcean Spaces, etc.)
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string // Optional: for S3-compatible services (MinIO, DO Spaces, R2, etc.)
	S3Prefix    string
	S3PartSize  int64
	S3PathStyle bool // Required for MinIO and most self-hosted endpoints

	// Uploads
	MaxUploadBytes       int64
	AllowedMimeTypes     []string
	MaxConcurrentUploads int
	UploadRateLimit      int
	UploadRateWindow     time.Duration
	FileCacheSize        int
	GCGracePeriod        time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := &Config{
		// Application
		AppName:       envString("APP_NAME", "mediastore"),
		AppEnv:        envRequired("APP_ENV"), // Required: 'development' or 'production'
		Port:          envString("PORT", "8090"),
		PublicBaseURL: strings.TrimSuffix(envString("PUBLIC_BASE_URL", ""), "/"),

		// Database
		DBDriver:     envString("DB_DRIVER", "sqlite"),
		DBConnection: envString("DB_CONNECTION", "./data/media.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"),

		// Security
		JWTSecret: envRequired("JWT_SECRET"),
		JWTExpiry: envDuration("JWT_EXPIRY", 24*time.Hour),

		// Observability
		SentryDSN: envString("SENTRY_DSN", ""),

		// Blob storage
		BlobBackend:   envString("BLOB_BACKEND", BlobBackendSQL),
		BlobChunkSize: envInt("BLOB_CHUNK_SIZE", 255<<10), // 255 KiB, same as GridFS

		// S3 (only read when BLOB_BACKEND=s3)
		S3Region:    envString("S3_REGION", ""),
		S3Bucket:    envString("S3_BUCKET", ""),
		S3AccessKey: envString("S3_ACCESS_KEY", ""),
		S3SecretKey: envString("S3_SECRET_KEY", ""),
		S3Endpoint:  envString("S3_ENDPOINT", ""),
		S3Prefix:    envString("S3_PREFIX", "media/"),
		S3PartSize:  envInt64("S3_PART_SIZE", 8<<20),
		S3PathStyle: envBool("S3_PATH_STYLE", true),

		// Uploads
		MaxUploadBytes:       envInt64("MAX_UPLOAD_BYTES", 50<<20), // 50 MiB
		AllowedMimeTypes:     envList("ALLOWED_MIME_TYPES", nil),   // nil = built-in media allow-list
		MaxConcurrentUploads: envInt("MAX_CONCURRENT_UPLOADS", 16),
		UploadRateLimit:      envInt("UPLOAD_RATE_LIMIT", 30),
		UploadRateWindow:     envDuration("UPLOAD_RATE_WINDOW", time.Minute),
		FileCacheSize:        envInt("FILE_CACHE_SIZE", 1024),
		GCGracePeriod:        envDuration("GC_GRACE_PERIOD", time.Hour),
	}

	if cfg.BlobBackend == BlobBackendS3 {
		validateS3(cfg)
	}

	return cfg
}

// validateS3 ensures the S3 backend has credentials and a bucket before anything connects.
func validateS3(cfg *Config) {
	missing := []string{}
	if cfg.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if cfg.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if cfg.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if cfg.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if len(missing) > 0 {
		slog.Error("BLOB_BACKEND=s3 requires S3 settings", "missing", strings.Join(missing, ","))
		os.Exit(1)
	}
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config invalid bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

// envList reads a comma separated list, dropping blanks.
func envList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func envRequired(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	slog.Error("config required env var missing", "key", key)
	os.Exit(1)
	return ""
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

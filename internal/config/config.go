// Package config loads application configuration from environment variables.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Port     string
	AppEnv   string
	LogLevel string
	LogFile  string

	DBDriver string // "postgres" or "sqlite"
	DSN      string

	SessionSecret    string
	JWTSecret        string
	GoogleKey        string
	GoogleSecret     string
	OAuthCallbackURL string

	// PublicBaseURL is prepended to expiring link paths. When empty the
	// request's own scheme and host are used.
	PublicBaseURL string

	// Blob storage: "s3" (Cloudflare R2 or AWS), "minio" or "fs".
	BlobBackend     string
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	BucketName      string
	S3Endpoint      string
	S3Region        string
	PublicURL       string // fmt pattern with one %s for the object key

	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioBucket     string
	MinioUseSSL     bool
	MinioPublicBase string

	MediaRoot string
	MediaURL  string

	// Thumbnails
	ImageEngine       string // "vips" or "go"
	ThumbnailWorkers  int
	ThumbnailTimeout  time.Duration
	ThumbnailQuality  int
	ThumbnailMaxPix   int64
	AllowedExtensions []string
	MaxUploadBytes    int64

	DefaultTier string
	TiersFile   string

	LinkMinSeconds int
	LinkMaxSeconds int

	// Link cache: "redis", "memory" or "none".
	CacheBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitPerMinute int
}

// Load reads configuration from a .env file (if present) and environment variables.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, reading from environment")
	}

	return &Config{
		Port:     getEnv("PORT", "3000"),
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		DBDriver: getEnv("DB_DRIVER", "postgres"),
		DSN:      getEnv("DSN", "host=localhost user=postgres password=postgres dbname=images port=5432 sslmode=disable"),

		SessionSecret:    getEnv("SESSION_SECRET", "change_me_in_production"),
		JWTSecret:        getEnv("JWT_SECRET_KEY", "change_me_in_production"),
		GoogleKey:        getEnv("GOOGLE_KEY", ""),
		GoogleSecret:     getEnv("GOOGLE_SECRET", ""),
		OAuthCallbackURL: getEnv("OAUTH_CALLBACK_URL", "http://localhost:3000/auth/google/callback"),

		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),

		BlobBackend:     getEnv("BLOB_BACKEND", "fs"),
		AccountID:       getEnv("ACCOUNT_ID", ""),
		AccessKeyID:     getEnv("ACCESS_KEY_ID", ""),
		AccessKeySecret: getEnv("ACCESS_KEY_SECRET", ""),
		BucketName:      getEnv("BUCKET_NAME", "images"),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3Region:        getEnv("S3_REGION", "auto"),
		PublicURL:       getEnv("PUBLIC_URL", ""),

		MinioEndpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey:  getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey:  getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:     getEnv("MINIO_BUCKET", "images"),
		MinioUseSSL:     getBool("MINIO_USE_SSL", false),
		MinioPublicBase: getEnv("MINIO_PUBLIC_BASE", "http://localhost:9000/images"),

		MediaRoot: getEnv("MEDIA_ROOT", "media"),
		MediaURL:  getEnv("MEDIA_URL", "http://localhost:3000/media"),

		ImageEngine:       getEnv("IMAGE_ENGINE", "vips"),
		ThumbnailWorkers:  getInt("THUMBNAIL_WORKERS", 4),
		ThumbnailTimeout:  getDuration("THUMBNAIL_TIMEOUT", 30*time.Second),
		ThumbnailQuality:  getInt("THUMBNAIL_QUALITY", 85),
		ThumbnailMaxPix:   int64(getInt("THUMBNAIL_MAX_PIXELS", 50_000_000)),
		AllowedExtensions: getList("ALLOWED_EXTENSIONS", []string{"jpg", "png"}),
		MaxUploadBytes:    int64(getInt("MAX_UPLOAD_BYTES", 10<<20)),

		DefaultTier: getEnv("DEFAULT_TIER", "Basic"),
		TiersFile:   getEnv("TIERS_FILE", ""),

		LinkMinSeconds: getInt("LINK_MIN_SECONDS", 1),
		LinkMaxSeconds: getInt("LINK_MAX_SECONDS", 30000),

		CacheBackend:  getEnv("CACHE_BACKEND", "none"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 20),
	}
}

// IsProduction returns true when the app is running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v)
		return fallback
	}
	return d
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int
	JWTSecret   string

	// Dispatch / callback contract with the external editing workflow.
	DispatchWebhookURL string
	DispatchTimeout    time.Duration
	PublicBaseURL      string
	CallbackSecret     string
	CronSecret         string

	// Staleness reaper.
	StaleThreshold time.Duration
	ReaperInterval time.Duration

	// Object storage for uploaded input images.
	StorageBackend  string // "local" or "s3"
	StoragePath     string
	StorageBaseURL  string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3PathStyle     bool
	S3PublicBaseURL string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:  getEnvInt("DB_MIN_CONNS", 1),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		DispatchWebhookURL: os.Getenv("DISPATCH_WEBHOOK_URL"),
		DispatchTimeout:    time.Second * time.Duration(getEnvInt("DISPATCH_TIMEOUT_SECONDS", 60)),
		PublicBaseURL:      getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		CallbackSecret:     os.Getenv("CALLBACK_SECRET"),
		CronSecret:         os.Getenv("CRON_SECRET"),

		StaleThreshold: getEnvDuration("STALE_THRESHOLD", time.Hour),
		ReaperInterval: getEnvDuration("REAPER_INTERVAL", 15*time.Minute),

		StorageBackend:  getEnv("STORAGE_BACKEND", "local"),
		StoragePath:     getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:  getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3Region:        getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3PathStyle:     getEnv("S3_PATH_STYLE", "") == "true",
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 90)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		CORSAllowedOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.StorageBackend == "s3" && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
	}

	return cfg, nil
}

// CallbackURL is the endpoint the external workflow reports results to.
func (c *Config) CallbackURL() string {
	return c.PublicBaseURL + "/api/webhook/callback"
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

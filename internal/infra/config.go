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
	LogLevel    string

	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiImageModel string
	GeminiEditModel  string
	GeminiVideoModel string
	PollInterval     time.Duration
	MaxPolls         int
	ChainPolicy      string

	StorageBackend string
	StoragePath    string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	RedisURL   string
	FFmpegPath string

	WorkerPollInterval time.Duration
	CancelCheckEvery   time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	return loadConfig(true)
}

// LoadLocalConfig is LoadConfig for tools that run without a database.
func LoadLocalConfig() (*Config, error) {
	return loadConfig(false)
}

func loadConfig(needDatabase bool) (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		LogLevel:    os.Getenv("LOG_LEVEL"),

		GeminiAPIKey:     strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiImageModel: getEnv("GEMINI_IMAGE_MODEL", "imagen-4.0-generate-001"),
		GeminiEditModel:  getEnv("GEMINI_EDIT_MODEL", "gemini-2.5-flash-image-preview"),
		GeminiVideoModel: getEnv("GEMINI_VIDEO_MODEL", "veo-2.0-generate-001"),
		PollInterval:     time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 10)),
		MaxPolls:         getEnvInt("MAX_POLLS", 30),
		ChainPolicy:      getEnv("CHAIN_POLICY", "strict"),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", "filesystem")),
		StoragePath:    getEnv("STORAGE_PATH", "./data/assets"),
		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "studio-results"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		RedisURL:   os.Getenv("REDIS_URL"),
		FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),

		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", 2*time.Second),
		CancelCheckEvery:   getEnvDuration("CANCEL_CHECK_INTERVAL", 2*time.Second),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		CORSOrigins:      splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
	}

	if needDatabase && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that do not depend on the database.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be positive")
	}
	if c.MaxPolls <= 0 {
		return fmt.Errorf("MAX_POLLS must be positive")
	}
	switch c.StorageBackend {
	case "filesystem":
		if strings.TrimSpace(c.StoragePath) == "" {
			return fmt.Errorf("STORAGE_PATH is required for the filesystem backend")
		}
	case "minio":
		if c.MinioEndpoint == "" {
			return fmt.Errorf("MINIO_ENDPOINT is required for the minio backend")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be filesystem or minio, got %q", c.StorageBackend)
	}
	switch strings.ToLower(c.ChainPolicy) {
	case "strict", "lenient":
	default:
		return fmt.Errorf("CHAIN_POLICY must be strict or lenient, got %q", c.ChainPolicy)
	}
	return nil
}

// ServiceName identifies this process to Postgres.
func (c *Config) ServiceName() string {
	return "studio-" + c.AppEnv
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
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

package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server
	Environment string
	Port        int
	LogLevel    string

	// Database: PostgreSQL connection string for the render_jobs table.
	// Empty disables job recording.
	DatabaseURL string
	RedisURL    string

	// Storage
	Storage StorageConfig

	// Render pipeline
	Render RenderConfig

	// Worker
	WorkerConcurrency int
	MetricsPort       int // worker /metrics listener

	AllowedOrigins []string

	// Per-IP request budgets; 0 keeps the built-in defaults.
	RateLimitPerMinute   int
	SubmitLimitPerMinute int
}

// StorageConfig holds storage-specific configuration
type StorageConfig struct {
	Backend     string // local, s3
	BasePath    string
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	// PublicBaseURL prefixes published object keys. Empty returns the
	// backend location instead.
	PublicBaseURL string
}

// RenderConfig configures encoding, working areas and batching.
type RenderConfig struct {
	FFmpegPath    string
	FFprobePath   string
	MaxThreads    int           // Max CPU threads per encode (0 = ffmpeg decides)
	EncodeTimeout time.Duration // 0 = no bound
	KillGrace     time.Duration // time an interrupted encoder gets before it is killed

	WorkRoot     string
	OutputRoot   string
	FontDirs     []string
	ProfilesFile string // optional TOML profile overrides

	BatchConcurrency int
	BatchMaxJobs     int
	SweepMaxAge      time.Duration
	Publish          bool // upload finished renders to storage
	Thumbnails       bool // extract a jpg next to each render
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Environment:       getEnv("ENVIRONMENT", "development"),
		Port:              getEnvInt("PORT", 8080),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisURL:          getEnv("REDIS_URL", "localhost:6379"),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 2),
		MetricsPort:       getEnvInt("WORKER_METRICS_PORT", 9091),
		AllowedOrigins:    getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:5173"}),

		RateLimitPerMinute:   getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
		SubmitLimitPerMinute: getEnvInt("SUBMIT_LIMIT_PER_MINUTE", 0),
		Storage: StorageConfig{
			Backend:       getEnv("STORAGE_BACKEND", "local"),
			BasePath:      getEnv("STORAGE_BASE_PATH", "./data"),
			S3Endpoint:    getEnv("S3_ENDPOINT", ""),
			S3Bucket:      getEnv("S3_BUCKET", ""),
			S3AccessKey:   getEnv("S3_ACCESS_KEY", ""),
			S3SecretKey:   getEnv("S3_SECRET_KEY", ""),
			S3Region:      getEnv("S3_REGION", "us-east-1"),
			PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		},
		Render: RenderConfig{
			FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
			FFprobePath:      getEnv("FFPROBE_PATH", "ffprobe"),
			MaxThreads:       getEnvInt("FFMPEG_MAX_THREADS", 0),
			EncodeTimeout:    getEnvDuration("ENCODE_TIMEOUT", 0),
			KillGrace:        getEnvDuration("ENCODE_KILL_GRACE", 10*time.Second),
			WorkRoot:         getEnv("WORK_ROOT", filepath.Join(os.TempDir(), "compositor")),
			OutputRoot:       getEnv("OUTPUT_ROOT", "./output"),
			FontDirs:         getEnvList("FONT_DIRS", nil),
			ProfilesFile:     getEnv("PROFILES_FILE", ""),
			BatchConcurrency: getEnvInt("BATCH_CONCURRENCY", 2),
			BatchMaxJobs:     getEnvInt("BATCH_MAX_JOBS", 50),
			SweepMaxAge:      getEnvDuration("SWEEP_MAX_AGE", 6*time.Hour),
			Publish:          getEnvBool("PUBLISH_RENDERS", false),
			Thumbnails:       getEnvBool("RENDER_THUMBNAILS", false),
		},
	}

	return cfg, nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or whole seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

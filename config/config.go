package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Values come from the environment (optionally via a .env file) with
// sensible defaults for local development.
type Config struct {
	ListenAddr string

	FFmpegPath   string
	FFprobePath  string
	AudioBitrate string // final artifact bitrate, e.g. "192k"

	StagingDir       string        // transient file area for in-flight mixes
	CoverArtDir      string        // per-user cover art staging, segregated by user ID
	MaxDownloadBytes int64         // hard cap for any single source download
	DownloadTimeout  time.Duration // per network call
	ComposeTimeout   time.Duration // ffmpeg runs scale with input length
	EphemeralTTL     time.Duration // lifetime of preview/non-durable artifacts
	ReaperInterval   time.Duration
	PlanLimitsPath   string // JSON plan limit table, hot-reloaded

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
	PublicBaseURL  string // prefix for durable artifact URLs

	// Audiomack platform credentials for the OAuth1 three-legged flow.
	// Empty values mean the integration is not configured; user requests
	// that need it fail with a distinguishable error.
	AudiomackConsumerKey    string
	AudiomackConsumerSecret string
	AudiomackCallbackURL    string

	JWTSecret string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvInt64 gets an environment variable as int64 or returns a default value.
func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvDuration gets an environment variable as a duration string
// ("30s", "5m") or returns a default value.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	stagingBase := getEnv("STAGING_DIR", "staging")

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		FFmpegPath:   getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:  getEnv("FFPROBE_PATH", "ffprobe"),
		AudioBitrate: getEnv("AUDIO_BITRATE", "192k"),

		StagingDir:       stagingBase,
		CoverArtDir:      filepath.Join(stagingBase, "covers"),
		MaxDownloadBytes: getEnvInt64("MAX_DOWNLOAD_BYTES", 50<<20), // 50 MiB
		DownloadTimeout:  getEnvDuration("DOWNLOAD_TIMEOUT", 30*time.Second),
		ComposeTimeout:   getEnvDuration("COMPOSE_TIMEOUT", 5*time.Minute),
		EphemeralTTL:     getEnvDuration("EPHEMERAL_TTL", 10*time.Minute),
		ReaperInterval:   getEnvDuration("REAPER_INTERVAL", time.Minute),
		PlanLimitsPath:   getEnv("PLAN_LIMITS_PATH", "plans.json"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no hardcoded default for passwords
		DBName:     getEnv("DB_NAME", "mixfm"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "mixfm"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnv("MINIO_USE_SSL", "false") == "true",
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),

		AudiomackConsumerKey:    os.Getenv("AUDIOMACK_CONSUMER_KEY"),
		AudiomackConsumerSecret: os.Getenv("AUDIOMACK_CONSUMER_SECRET"),
		AudiomackCallbackURL:    getEnv("AUDIOMACK_CALLBACK_URL", "http://localhost:8080/api/audiomack/callback"),

		JWTSecret: getEnv("JWT_SECRET", "dev-only-secret"),
	}
}

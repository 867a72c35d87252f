// Package config reads service configuration from the environment. A .env
// file in the working directory is loaded first when present.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every knob the service reads at startup.
type Config struct {
	Env      string // "production" or "dev"
	HTTPAddr string

	// CallbackBase is the externally reachable base URL the runner posts
	// match results back to, e.g. "http://arena.internal:8000".
	CallbackBase string

	TangoHost      string // scheme+host, e.g. "http://localhost"
	TangoPort      string
	TangoKey       string
	TangoImage     string
	JobTimeoutSecs int

	TempFileDir string

	DatabaseURL string
	RedisAddr   string // empty disables the leaderboard mirror

	AWSRegion       string
	AWSClientKey    string
	AWSClientSecret string
	AWSEndpoint     string // optional, for S3-compatible stores

	ReplayBucket     string
	TournamentBucket string
	ErrorLogBucket   string

	ReplayURLTTL time.Duration
}

// Load reads .env (if any) and the process environment.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may be set by the deployment.
	_ = godotenv.Load()

	cfg := &Config{
		Env:          getenv("APP_ENV", "production"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8000"),
		CallbackBase: getenv("CALLBACK_BASE_URL", "http://localhost:8000"),

		TangoHost:      getenv("TANGO_HOSTNAME", "http://localhost"),
		TangoPort:      getenv("TANGO_PORT", "3000"),
		TangoKey:       os.Getenv("RESTFUL_KEY"),
		TangoImage:     getenv("TANGO_IMAGE", "awap_image"),
		JobTimeoutSecs: getint("JOB_TIMEOUT_SECS", 600),

		TempFileDir: getenv("TEMPFILE_DIR", "data"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),

		AWSRegion:       getenv("AWS_REGION", "us-east-1"),
		AWSClientKey:    os.Getenv("AWS_CLIENT_KEY"),
		AWSClientSecret: os.Getenv("AWS_CLIENT_SECRET"),
		AWSEndpoint:     os.Getenv("AWS_S3_ENDPOINT"),

		ReplayBucket:     os.Getenv("AWS_REPLAY_BUCKET_NAME"),
		TournamentBucket: os.Getenv("AWS_TOURNAMENT_BUCKET_NAME"),
		ErrorLogBucket:   os.Getenv("AWS_ERROR_BUCKET_NAME"),

		ReplayURLTTL: getdur("REPLAY_URL_TTL", 12*time.Hour),
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getdur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// Package config loads the pipeline's configuration from the environment.
// Every required setting fails startup immediately via errs.ConfigMissing
// rather than falling back to a silent default — a wrong zone or a missing
// DSN should never produce output that looks plausible.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/sentinel-quant/nightly-compute/internal/errs"
)

// Config holds settings shared by the controller, worker, and API
// entrypoints. Each cmd wires only the subset it needs.
type Config struct {
	// Core
	Timezone string
	LogLevel string
	DevMode  bool

	// Database
	DatabaseDSN    string
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Queue
	QueueBackend      string // "memory" or "sqs"
	SQSQueueURL       string
	SQSDeadLetterURL  string
	VisibilityTimeout time.Duration
	MaxAttempts       int

	// Market data provider
	ProviderBaseURL        string
	ProviderRequestsPerSec float64

	// Object storage
	S3Bucket string
	S3Region string

	// Redis cache tier
	RedisAddr string

	// Reference-data CSV ingest
	ReferenceDataURL string

	// API
	APIPort     int
	CORSOrigins []string

	// Worker
	WorkerConcurrency int
	WorkerBudget      time.Duration
}

// Load reads configuration from the environment, loading a .env file first
// when present (local development only; production injects real env vars).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Timezone: os.Getenv("PIPELINE_TIMEZONE"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		DatabaseDSN:    os.Getenv("DATABASE_DSN"),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),

		QueueBackend:      getEnv("QUEUE_BACKEND", "memory"),
		SQSQueueURL:       os.Getenv("SQS_QUEUE_URL"),
		SQSDeadLetterURL:  os.Getenv("SQS_DLQ_URL"),
		VisibilityTimeout: getEnvAsDuration("QUEUE_VISIBILITY_TIMEOUT", 5*time.Minute),
		MaxAttempts:       getEnvAsInt("QUEUE_MAX_ATTEMPTS", 5),

		ProviderBaseURL:        os.Getenv("PROVIDER_BASE_URL"),
		ProviderRequestsPerSec: getEnvAsFloat("PROVIDER_REQUESTS_PER_SEC", 5),

		S3Bucket: os.Getenv("S3_BUCKET"),
		S3Region: getEnv("S3_REGION", "us-east-1"),

		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),

		ReferenceDataURL: os.Getenv("REFERENCE_DATA_URL"),

		APIPort:     getEnvAsInt("API_PORT", 8080),
		CORSOrigins: getEnvAsList("CORS_ORIGINS", []string{"*"}),

		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 8),
		WorkerBudget:      getEnvAsDuration("WORKER_BUDGET", 4*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings every entrypoint needs regardless of which
// one is running. Entrypoint-specific requirements (e.g. SQS URLs when
// QueueBackend is "sqs") are checked by bootstrap at wiring time.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseDSN == "" {
		missing = append(missing, "DATABASE_DSN")
	}
	if c.Timezone == "" {
		missing = append(missing, "PIPELINE_TIMEZONE")
	}
	if len(missing) > 0 {
		return errs.ConfigMissing(missing...)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}

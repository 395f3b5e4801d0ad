package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	JobStoreMemory   = "memory"
	JobStoreRedis    = "redis"
	JobStorePostgres = "postgres"

	DispatchLocal   = "local"
	DispatchStreams = "streams"
	DispatchHTTP    = "http"

	BackendREST  = "rest"
	BackendGenAI = "genai"
)

// Config centralizes runtime settings for the API and workers.
type Config struct {
	Port     string
	LogLevel string

	GeminiAPIKey          string
	GeminiBaseURL         string
	GeminiModel           string
	GeminiFallbackModel   string
	GeminiTemperature     float64
	GeminiMaxOutputTokens int
	GeminiTimeoutMS       int
	GeminiMaxAttempts     int
	GeminiBaseDelayMS     int
	GenerationBackend     string
	GenAIBaseURL          string
	PromptsDir            string

	JobStore          string
	DatabaseURL       string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisKeyPrefix    string
	JobRetentionHours int

	DispatchMode   string
	RedisStream    string
	RedisDLQ       string
	RedisGroup     string
	RedisConsumer  string
	BackgroundURL  string
	InternalToken  string
	QueueAttempts  int
	QueueBufferLen int

	QueueBatchingEnabled bool
	QueueBatchSize       int
	QueueBatchFlushMS    int

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	WorkerEnabled           bool
	ReaperIntervalSeconds   int
	ReaperStaleAfterSeconds int
}

func Load() Config {
	cfg := Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:         getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiFallbackModel:   getEnv("GEMINI_FALLBACK_MODEL", ""),
		GeminiTemperature:     getEnvFloat("GEMINI_TEMPERATURE", 0.7),
		GeminiMaxOutputTokens: getEnvInt("GEMINI_MAX_OUTPUT_TOKENS", 2048),
		GeminiTimeoutMS:       getEnvInt("GEMINI_TIMEOUT_MS", 9000),
		GeminiMaxAttempts:     getEnvInt("GEMINI_MAX_ATTEMPTS", 3),
		GeminiBaseDelayMS:     getEnvInt("GEMINI_BASE_DELAY_MS", 1000),
		GenerationBackend:     strings.ToLower(getEnv("GENERATION_BACKEND", BackendREST)),
		GenAIBaseURL:          getEnv("GENAI_BASE_URL", ""),
		PromptsDir:            getEnv("PROMPTS_DIR", ""),

		JobStore:          strings.ToLower(getEnv("JOB_STORE", "")),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix:    getEnv("REDIS_KEY_PREFIX", "gasometria:"),
		JobRetentionHours: getEnvInt("JOB_RETENTION_HOURS", 72),

		DispatchMode:   strings.ToLower(getEnv("DISPATCH_MODE", DispatchLocal)),
		RedisStream:    getEnv("REDIS_STREAM", "gasometria_jobs"),
		RedisDLQ:       getEnv("REDIS_DLQ_STREAM", "gasometria_jobs_dlq"),
		RedisGroup:     getEnv("REDIS_GROUP", "gasometria_workers"),
		RedisConsumer:  getEnv("REDIS_CONSUMER", hostnameOr("api-1")),
		BackgroundURL:  getEnv("BACKGROUND_URL", ""),
		InternalToken:  getEnv("INTERNAL_TOKEN", ""),
		QueueAttempts:  getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		QueueBufferLen: getEnvInt("QUEUE_BUFFER_SIZE", 1024),

		QueueBatchingEnabled: getEnvBool("QUEUE_BATCHING_ENABLED", false),
		QueueBatchSize:       getEnvInt("QUEUE_BATCH_SIZE", 32),
		QueueBatchFlushMS:    getEnvInt("QUEUE_BATCH_FLUSH_MS", 10),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 10),

		WorkerEnabled:           getEnvBool("WORKER_ENABLED", true),
		ReaperIntervalSeconds:   getEnvInt("REAPER_INTERVAL_SECONDS", 60),
		ReaperStaleAfterSeconds: getEnvInt("REAPER_STALE_AFTER_SECONDS", 600),
	}

	if cfg.JobStore == "" {
		switch {
		case cfg.DatabaseURL != "":
			cfg.JobStore = JobStorePostgres
		case cfg.RedisAddr != "":
			cfg.JobStore = JobStoreRedis
		default:
			cfg.JobStore = JobStoreMemory
		}
	}
	return cfg
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error

	switch c.JobStore {
	case JobStoreMemory:
	case JobStoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("JOB_STORE=redis requires REDIS_ADDR"))
		}
	case JobStorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("JOB_STORE=postgres requires DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown JOB_STORE %q", c.JobStore))
	}

	switch c.DispatchMode {
	case DispatchLocal:
		if !c.WorkerEnabled {
			errs = append(errs, errors.New("DISPATCH_MODE=local requires WORKER_ENABLED=true"))
		}
	case DispatchStreams:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("DISPATCH_MODE=streams requires REDIS_ADDR"))
		}
	case DispatchHTTP:
		if c.BackgroundURL == "" {
			errs = append(errs, errors.New("DISPATCH_MODE=http requires BACKGROUND_URL"))
		}
		if c.JobStore == JobStoreMemory {
			errs = append(errs, errors.New("DISPATCH_MODE=http needs a shared JOB_STORE, not memory"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DISPATCH_MODE %q", c.DispatchMode))
	}

	if c.GenerationBackend != BackendREST && c.GenerationBackend != BackendGenAI {
		errs = append(errs, fmt.Errorf("unknown GENERATION_BACKEND %q", c.GenerationBackend))
	}
	if c.GeminiMaxAttempts < 1 {
		errs = append(errs, errors.New("GEMINI_MAX_ATTEMPTS must be at least 1"))
	}
	return errors.Join(errs...)
}

func (c Config) GeminiTimeout() time.Duration {
	return time.Duration(c.GeminiTimeoutMS) * time.Millisecond
}

func (c Config) GeminiBaseDelay() time.Duration {
	return time.Duration(c.GeminiBaseDelayMS) * time.Millisecond
}

func (c Config) QueueBatchFlush() time.Duration {
	return time.Duration(c.QueueBatchFlushMS) * time.Millisecond
}

func (c Config) JobRetention() time.Duration {
	return time.Duration(c.JobRetentionHours) * time.Hour
}

func (c Config) ReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalSeconds) * time.Second
}

func (c Config) ReaperStaleAfter() time.Duration {
	return time.Duration(c.ReaperStaleAfterSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func hostnameOr(fallback string) string {
	name, err := os.Hostname()
	if err != nil || strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	LogLevel string

	GeminiAPIKey       string
	GeminiAPIKeySecret string
	GeminiModel        string
	GeminiBaseURL      string

	RedisURL              string
	RateLimitRPM          int
	CircuitBreakerEnabled bool
	AllowedOrigins        []string

	OTLPEndpoint string
	AWSRegion    string

	ChatRequestQueueURL  string
	ChatResponseQueueURL string
	AlertTopicARN        string

	ShutdownTimeout time.Duration
}

// Load reads the process environment, seeded from a .env file in the
// working directory when one exists. Variables already set win over .env.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Port:                  getEnv("PORT", "8787"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", os.Getenv("VITE_GEMINI_API_KEY")),
		GeminiAPIKeySecret:    getEnv("GEMINI_API_KEY_SECRET", ""),
		GeminiModel:           getEnv("GEMINI_MODEL", "models/gemini-2.5-pro"),
		GeminiBaseURL:         getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1"),
		RedisURL:              getEnv("REDIS_URL", ""),
		RateLimitRPM:          getIntEnv("RATE_LIMIT_RPM", 0),
		CircuitBreakerEnabled: getEnv("CIRCUIT_BREAKER_ENABLED", "false") == "true",
		AllowedOrigins:        splitList(getEnv("ALLOWED_ORIGINS", "*")),
		OTLPEndpoint:          getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:             getEnv("AWS_REGION", ""),
		ChatRequestQueueURL:   getEnv("CHAT_REQUEST_QUEUE_URL", ""),
		ChatResponseQueueURL:  getEnv("CHAT_RESPONSE_QUEUE_URL", ""),
		AlertTopicARN:         getEnv("ALERT_TOPIC_ARN", ""),
		ShutdownTimeout:       getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid PORT %q", c.Port)
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("invalid RATE_LIMIT_RPM %d", c.RateLimitRPM)
	}
	if (c.ChatRequestQueueURL == "") != (c.ChatResponseQueueURL == "") {
		return errors.New("CHAT_REQUEST_QUEUE_URL and CHAT_RESPONSE_QUEUE_URL must be set together")
	}
	return nil
}

func (c *Config) Addr() string {
	return ":" + c.Port
}

func (c *Config) QueueEnabled() bool {
	return c.ChatRequestQueueURL != "" && c.ChatResponseQueueURL != ""
}

// NeedsAWS reports whether any AWS-backed component is configured.
func (c *Config) NeedsAWS() bool {
	return c.GeminiAPIKeySecret != "" || c.QueueEnabled() || c.AlertTopicARN != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

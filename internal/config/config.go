// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// defaultAdminSecret guards admin endpoints when ADMIN_SECRET is unset.
// Deployments must override it; main logs a warning when it is in use.
const defaultAdminSecret = "bits-gigachad-admin-2024"

// Config holds all application configuration.
type Config struct {
	Port               string
	DBPath             string
	AllowedOrigins     []string
	AdminSecret        string
	AllowedEmailDomain string

	// Identity provider.
	AuthLookupURL string
	Firebase      FirebaseConfig

	// Completion collaborator.
	Model       string
	MaxTokens   int64
	Temperature float64

	// Chat payload limits.
	MaxHistory      int
	MaxMessageChars int

	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
	Export          ExportConfig
}

// FirebaseConfig is the public web config served to the frontend.
type FirebaseConfig struct {
	APIKey            string `json:"apiKey"`
	AuthDomain        string `json:"authDomain"`
	ProjectID         string `json:"projectId"`
	StorageBucket     string `json:"storageBucket"`
	MessagingSenderID string `json:"messagingSenderId"`
	AppID             string `json:"appId"`
}

// RateLimitConfig controls per-identity chat throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls NDJSON conversation archival.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ExportConfig controls the submission export worker.
type ExportConfig struct {
	WebhookURL string
	Interval   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DBPath:             getEnv("DB_PATH", "./data/gatekeeper.db"),
		AllowedOrigins:     splitList(getEnv("ALLOWED_ORIGINS", "https://giga-chad.vercel.app,http://localhost:3000,http://127.0.0.1:3000,http://localhost:8000")),
		AdminSecret:        getEnv("ADMIN_SECRET", defaultAdminSecret),
		AllowedEmailDomain: getEnv("ALLOWED_EMAIL_DOMAIN", "bits-pilani.ac.in"),
		AuthLookupURL:      getEnv("AUTH_LOOKUP_URL", "https://identitytoolkit.googleapis.com/v1/accounts:lookup"),
		Firebase: FirebaseConfig{
			APIKey:            os.Getenv("FIREBASE_API_KEY"),
			AuthDomain:        os.Getenv("FIREBASE_AUTH_DOMAIN"),
			ProjectID:         os.Getenv("FIREBASE_PROJECT_ID"),
			StorageBucket:     os.Getenv("FIREBASE_STORAGE_BUCKET"),
			MessagingSenderID: os.Getenv("FIREBASE_MESSAGING_SENDER_ID"),
			AppID:             os.Getenv("FIREBASE_APP_ID"),
		},
		Model:           getEnv("GATE_MODEL", "claude-3-5-haiku-latest"),
		MaxTokens:       int64(getEnvInt("GATE_MAX_TOKENS", 256)),
		Temperature:     getEnvFloat("GATE_TEMPERATURE", 0.8),
		MaxHistory:      getEnvInt("CHAT_MAX_HISTORY", 10),
		MaxMessageChars: getEnvInt("CHAT_MAX_MESSAGE_CHARS", 1000),
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
		Export: ExportConfig{
			WebhookURL: getEnv("EXPORT_WEBHOOK_URL", ""),
			Interval:   getEnvDuration("EXPORT_INTERVAL", 10*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET cannot be empty")
	}
	if c.AllowedEmailDomain == "" {
		return fmt.Errorf("ALLOWED_EMAIL_DOMAIN cannot be empty")
	}
	if c.MaxHistory <= 0 {
		return fmt.Errorf("CHAT_MAX_HISTORY must be > 0")
	}
	if c.MaxMessageChars <= 0 {
		return fmt.Errorf("CHAT_MAX_MESSAGE_CHARS must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	return nil
}

// UsesDefaultAdminSecret reports whether the admin secret was left at the
// built-in default.
func (c *Config) UsesDefaultAdminSecret() bool {
	return c.AdminSecret == defaultAdminSecret
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.Firebase.APIKey == ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

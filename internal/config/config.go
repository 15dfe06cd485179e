// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Model providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	GRPCHealthPort     string
	FrontendURL        string
	CORSAllowedOrigins []string
	DBPath             string
	MaxRequestBody     int64

	Model     ModelConfig
	Scenarios ScenarioConfig
	Sessions  SessionConfig

	ConversationLog ConversationLogConfig
	LogLevel        string
}

// ModelConfig selects and authenticates the model provider.
type ModelConfig struct {
	Provider         string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	GeminiAPIKey     string
	// Name overrides the model named by each scenario when set.
	Name    string
	Timeout time.Duration
}

// ScenarioConfig controls where scenarios come from.
type ScenarioConfig struct {
	Dir       string
	DefaultID string
}

// SessionConfig controls in-memory session lifetime. A zero IdleTTL keeps
// sessions for the life of the process.
type SessionConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:               getEnv("PORT", "3000"),
		GRPCHealthPort:     getEnv("GRPC_HEALTH_PORT", ""),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		DBPath:             getEnv("DB_PATH", "./data/coach.db"),
		MaxRequestBody:     int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 64<<10)),
		Model: ModelConfig{
			Provider:         strings.ToLower(getEnv("MODEL_PROVIDER", ProviderAnthropic)),
			AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", ""),
			GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
			Name:             getEnv("MODEL_NAME", ""),
			Timeout:          getEnvDuration("MODEL_TIMEOUT", 60*time.Second),
		},
		Scenarios: ScenarioConfig{
			Dir:       getEnv("SCENARIO_DIR", ""),
			DefaultID: getEnv("DEFAULT_SCENARIO", "consoling-colleague"),
		},
		Sessions: SessionConfig{
			IdleTTL:       getEnvDuration("SESSION_IDLE_TTL", 0),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
// Provider credentials are checked separately by RequireCredentials so that
// offline commands can run without them.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxRequestBody <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	switch c.Model.Provider {
	case ProviderAnthropic, ProviderGemini:
	default:
		return fmt.Errorf("MODEL_PROVIDER must be %q or %q, got %q", ProviderAnthropic, ProviderGemini, c.Model.Provider)
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be > 0")
	}
	if c.Scenarios.DefaultID == "" {
		return fmt.Errorf("DEFAULT_SCENARIO cannot be empty")
	}
	if c.Sessions.IdleTTL < 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be >= 0")
	}
	if c.Sessions.IdleTTL > 0 {
		// A session must not be swept while a model call for it is in flight.
		if c.Sessions.IdleTTL <= c.Model.Timeout {
			return fmt.Errorf("SESSION_IDLE_TTL (%s) must exceed MODEL_TIMEOUT (%s)", c.Sessions.IdleTTL, c.Model.Timeout)
		}
		if c.Sessions.SweepInterval <= 0 {
			return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0 when SESSION_IDLE_TTL is set")
		}
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// RequireCredentials checks that the selected provider has an API key.
func (c *Config) RequireCredentials() error {
	switch c.Model.Provider {
	case ProviderAnthropic:
		if c.Model.AnthropicAPIKey == "" {
			return errors.New("ANTHROPIC_API_KEY is required when MODEL_PROVIDER=anthropic")
		}
	case ProviderGemini:
		if c.Model.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required when MODEL_PROVIDER=gemini")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins, adding FrontendURL when it is set.
func (c *Config) AllowedOrigins() []string {
	origins := append([]string(nil), c.CORSAllowedOrigins...)
	if c.FrontendURL != "" {
		origins = append(origins, strings.TrimRight(c.FrontendURL, "/"))
	}
	return origins
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

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/persona-chat/internal/agent"
	"github.com/ashureev/persona-chat/internal/chat"
	"github.com/ashureev/persona-chat/internal/pacing"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Gateway providers.
const (
	ProviderGemini = "gemini"
	ProviderGRPC   = "grpc"
	ProviderNone   = "none"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	LogLevel        string
	StoreDriver     string
	DBPath          string
	PersonaFile     string
	Gateway         agent.Config
	Pacing          chat.Pacing
	ConversationLog ConversationLogConfig
	RateLimit       RateLimitConfig
	SSE             SSEConfig
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// RateLimitConfig throttles message sends.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// SSEConfig tunes the event stream.
type SSEConfig struct {
	RetryDelay        time.Duration
	KeepaliveInterval time.Duration
	ReplayBuffer      int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	gw := agent.DefaultConfig()
	apiKey := getEnv("GEMINI_API_KEY", "")
	if apiKey == "" {
		apiKey = getEnv("API_KEY", "")
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreMemory)),
		DBPath:      getEnv("DB_PATH", "./data/chat.db"),
		PersonaFile: getEnv("PERSONA_FILE", ""),
		Gateway: agent.Config{
			Provider: strings.ToLower(getEnv("GATEWAY_PROVIDER", gw.Provider)),
			Model:    getEnv("GEMINI_MODEL", gw.Model),
			APIKey:   apiKey,
			GRPCAddr: getEnv("GATEWAY_GRPC_ADDR", "localhost:50051"),
			Timeout:  getEnvDuration("GATEWAY_TIMEOUT", gw.Timeout),
		},
		Pacing: loadPacing(),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 5),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 10),
		},
		SSE: SSEConfig{
			RetryDelay:        getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			KeepaliveInterval: getEnvDuration("SSE_KEEPALIVE_INTERVAL", 15*time.Second),
			ReplayBuffer:      getEnvInt("SSE_REPLAY_BUFFER", 100),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadPacing() chat.Pacing {
	def := chat.DefaultPacing()
	return chat.Pacing{
		Debounce:       getEnvDuration("DEBOUNCE_DELAY", def.Debounce),
		UserTypingIdle: getEnvDuration("USER_TYPING_IDLE", def.UserTypingIdle),
		Think:          getEnvRange("THINK_DELAY", def.Think),
		Compose:        getEnvRange("COMPOSE_DELAY", def.Compose),
		Reaction:       getEnvRange("REACTION_DELAY", def.Reaction),
		TypingBase:     getEnvDuration("TYPING_BASE", def.TypingBase),
		TypingPerChar:  getEnvRange("TYPING_PER_CHAR", def.TypingPerChar),
		TypingMax:      getEnvDuration("TYPING_MAX", def.TypingMax),
		Delivered:      getEnvRange("DELIVERED_DELAY", def.Delivered),
		Read:           getEnvRange("READ_DELAY", def.Read),
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel)
	}
	switch c.StoreDriver {
	case StoreMemory:
	case StoreSQLite:
		if c.DBPath == "" {
			return errors.New("DB_PATH cannot be empty")
		}
	default:
		return fmt.Errorf("STORE_DRIVER %q is not one of memory, sqlite", c.StoreDriver)
	}
	switch c.Gateway.Provider {
	case ProviderGemini, ProviderNone:
	case ProviderGRPC:
		if c.Gateway.GRPCAddr == "" {
			return errors.New("GATEWAY_GRPC_ADDR cannot be empty")
		}
	default:
		return fmt.Errorf("GATEWAY_PROVIDER %q is not one of gemini, grpc, none", c.Gateway.Provider)
	}
	if c.Gateway.Timeout <= 0 {
		return errors.New("GATEWAY_TIMEOUT must be > 0")
	}
	if c.Pacing.Debounce <= 0 {
		return errors.New("DEBOUNCE_DELAY must be > 0")
	}
	for name, r := range map[string]pacing.Range{
		"THINK_DELAY":     c.Pacing.Think,
		"COMPOSE_DELAY":   c.Pacing.Compose,
		"REACTION_DELAY":  c.Pacing.Reaction,
		"TYPING_PER_CHAR": c.Pacing.TypingPerChar,
		"DELIVERED_DELAY": c.Pacing.Delivered,
		"READ_DELAY":      c.Pacing.Read,
	} {
		if r.Min < 0 || r.Max < r.Min {
			return fmt.Errorf("%s_MIN/%s_MAX must satisfy 0 <= min <= max", name, name)
		}
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return errors.New("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		return errors.New("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
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

// getEnvDuration accepts Go duration strings ("3.5s") or bare milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvRange(prefix string, fallback pacing.Range) pacing.Range {
	return pacing.Range{
		Min: getEnvDuration(prefix+"_MIN", fallback.Min),
		Max: getEnvDuration(prefix+"_MAX", fallback.Max),
	}
}

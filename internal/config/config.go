// Package config provides environment configuration for the chat server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings
	NATSEnabled  bool
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Session settings
	SessionBucket        string
	SessionTTL           time.Duration
	SessionCookieName    string
	SessionLookupTimeout time.Duration

	// Identity token settings
	JWKSURL            string
	TokenIdentityClaim string
	TokenIssuer        string
	TokenAudience      string
	TokenLeeway        time.Duration

	// JWT settings for platform-issued bearer tokens
	JWTSecret string

	// Journal settings
	JournalEnabled bool
	JournalStream  string

	// Store settings
	StoreBackend string
	BadgerDir    string

	// WebSocket settings
	WSAllowedOrigins  []string
	WSMaxMessageBytes int64
	WSSendBuffer      int

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),

		// NATS
		NATSEnabled:  getBoolEnv("NATS_ENABLED", true),
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Sessions
		SessionBucket:        getEnv("SESSION_BUCKET", "CHAT_APP_SESSIONS"),
		SessionTTL:           getDurationEnv("SESSION_TTL", 24*time.Hour),
		SessionCookieName:    getEnv("SESSION_COOKIE_NAME", "CHAT_APP_SID"),
		SessionLookupTimeout: getDurationEnv("SESSION_LOOKUP_TIMEOUT", 2*time.Second),

		// Identity tokens
		JWKSURL:            getEnv("JWKS_URL", ""),
		TokenIdentityClaim: getEnv("TOKEN_IDENTITY_CLAIM", "email"),
		TokenIssuer:        getEnv("TOKEN_ISSUER", ""),
		TokenAudience:      getEnv("TOKEN_AUDIENCE", ""),
		TokenLeeway:        getDurationEnv("TOKEN_LEEWAY", 30*time.Second),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// Journal
		JournalEnabled: getBoolEnv("JOURNAL_ENABLED", true),
		JournalStream:  getEnv("JOURNAL_STREAM", "CHAT_MESSAGES"),

		// Store
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
		BadgerDir:    getEnv("BADGER_DIR", "./data/badger"),

		// WebSocket
		WSAllowedOrigins:  getListEnv("WS_ALLOWED_ORIGINS", nil),
		WSMaxMessageBytes: int64(getIntEnv("WS_MAX_MESSAGE_BYTES", 64*1024)),
		WSSendBuffer:      getIntEnv("WS_SEND_BUFFER", 256),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
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

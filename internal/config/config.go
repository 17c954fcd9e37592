// Package config provides environment configuration for the API server and worker.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/michel-DC/Teamify-sub004/internal/model"
)

// Milestone is a named reminder threshold before an event start.
type Milestone = model.Milestone

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// JWT settings
	JWTSecret string
	JWTIssuer string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool

	// Storage
	StoreDriver string
	DatabaseURL string

	// Redis backs the unread cache and the asynq queue
	RedisURL       string
	UnreadCacheTTL time.Duration

	// NATS settings, empty URL keeps fan-out in-process
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Websocket gateway
	AllowedOrigins     []string
	WSMaxMessageSize   int64
	WSRateLimitBurst   int
	WSRateLimitRefill  time.Duration
	WSSendBuffer       int
	PresenceGrace      time.Duration
	MaxContentLength   int
	HandshakeTimeout   time.Duration

	// Reminders
	ReminderMilestones []Milestone
	ReminderInterval   time.Duration
	ReminderCron       string
	AsynqConcurrency   int
	// ProcessViaQueue sends on-demand passes to the asynq workers when Redis
	// is configured.
	ProcessViaQueue bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTIssuer: getEnv("JWT_ISSUER", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),

		// Storage
		StoreDriver: getEnv("STORE_DRIVER", "memory"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		// Redis
		RedisURL:       getEnv("REDIS_URL", ""),
		UnreadCacheTTL: getDurationEnv("UNREAD_CACHE_TTL", 5*time.Minute),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Gateway
		AllowedOrigins:    getListEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		WSMaxMessageSize:  int64(getIntEnv("WS_MAX_MESSAGE_SIZE", 16*1024)),
		WSRateLimitBurst:  getIntEnv("WS_RATE_LIMIT_BURST", 10),
		WSRateLimitRefill: getDurationEnv("WS_RATE_LIMIT_INTERVAL", time.Second),
		WSSendBuffer:      getIntEnv("WS_SEND_BUFFER", 256),
		PresenceGrace:     getDurationEnv("PRESENCE_GRACE", 5*time.Second),
		MaxContentLength:  getIntEnv("MAX_CONTENT_LENGTH", 4000),
		HandshakeTimeout:  getDurationEnv("WS_HANDSHAKE_TIMEOUT", 10*time.Second),

		// Reminders
		ReminderMilestones: getMilestonesEnv("REMINDER_MILESTONES", DefaultMilestones()),
		ReminderInterval:   getDurationEnv("REMINDER_INTERVAL", 0),
		ReminderCron:       getEnv("REMINDER_CRON", "@every 5m"),
		AsynqConcurrency:   getIntEnv("ASYNQ_CONCURRENCY", 4),
		ProcessViaQueue:    getBoolEnv("PROCESS_VIA_QUEUE", true),
	}
}

// DefaultMilestones are the reminder thresholds used when none are configured.
func DefaultMilestones() []Milestone {
	return []Milestone{
		{Name: "24h-before", Before: 24 * time.Hour},
		{Name: "1h-before", Before: time.Hour},
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
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getMilestonesEnv parses "24h-before=24h,1h-before=1h". Invalid entries are
// skipped; if nothing valid remains the default is used.
func getMilestonesEnv(key string, defaultValue []Milestone) []Milestone {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return ParseMilestones(value, defaultValue)
}

// ParseMilestones parses a comma separated name=duration list.
func ParseMilestones(value string, defaultValue []Milestone) []Milestone {
	var out []Milestone
	seen := make(map[string]struct{})
	for _, part := range strings.Split(value, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		name := strings.TrimSpace(kv[0])
		d, err := time.ParseDuration(strings.TrimSpace(kv[1]))
		if name == "" || err != nil || d <= 0 {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, Milestone{Name: name, Before: d})
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

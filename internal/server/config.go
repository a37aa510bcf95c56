// Package server provides the WebSocket transport for the Haven realtime
// services: handshake handling, per-connection pumps, rate limiting, origin
// control, and the HTTP server around them.
package server

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

// Config holds the runtime settings for the gateway, loaded from the
// environment.
type Config struct {
	Port           string `env:"SERVER_PORT,default=:8080" validate:"required"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`

	MaxMessageSize     int64         `env:"MAX_MESSAGE_SIZE,default=512" validate:"gt=0"`
	RateLimitBurst     int           `env:"RATE_LIMIT_BURST,default=5" validate:"gt=0"`
	RateLimitInterval  time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s" validate:"gt=0"`
	SendBufferMessages int           `env:"SEND_BUFFER_MESSAGES,default=256" validate:"gt=0"`

	JWTSecret string `env:"JWT_SECRET" validate:"required"`

	RedisAddr    string `env:"REDIS_ADDR,default=localhost:6379" validate:"required"`
	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=chat-messages"`

	PresenceTTL     time.Duration `env:"PRESENCE_TTL,default=30s" validate:"gt=0"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`
}

// LoadConfig reads the configuration from the environment and validates it.
func LoadConfig() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("load configuration: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate configuration: %w", err)
	}
	return cfg, nil
}

// Brokers returns the Kafka broker list, empty when journaling is disabled.
func (c Config) Brokers() []string {
	if strings.TrimSpace(c.KafkaBrokers) == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

// originPolicy decides which handshake origins may upgrade. Origins are
// normalized to scheme://host before comparison; "*" allows everything.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// originPolicyFrom builds the policy from the comma-separated configured
// list, ignoring entries that do not parse as origins.
func originPolicyFrom(origins string) originPolicy {
	policy := originPolicy{allowed: make(map[string]struct{})}

	for _, entry := range strings.Split(origins, ",") {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			policy.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Printf("Ignoring invalid origin in configuration: %q", entry)
			continue
		}
		policy.allowed[normalized] = struct{}{}
	}
	return policy
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// allow reports whether the given Origin header value may upgrade.
func (p originPolicy) allow(origin string) bool {
	if origin == "" {
		return false
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	_, ok = p.allowed[normalized]
	return ok
}

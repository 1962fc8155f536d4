// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig defines the parameters for per-connection request rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the relay configuration.
type Config struct {
	// Addr is the TCP address the relay listens on.
	Addr string
	// GatewayAddr is the HTTP address of the WebSocket gateway. Empty disables it.
	GatewayAddr    string
	AllowedOrigins []string
	RateLimit      RateLimitConfig
	// MaxEventsPerPass bounds how many readiness events one loop pass collects.
	MaxEventsPerPass int
	ShutdownTimeout  time.Duration
	// PongWait is how long a WebSocket peer may stay silent before it is
	// dropped. PingPeriod must be shorter; it defaults to nine tenths of it.
	PongWait   time.Duration
	PingPeriod time.Duration
	// Debug logs the handle set and the ready handles on every pass.
	Debug bool
}

func defaultConfig() Config {
	return Config{
		Addr: ":7777",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		MaxEventsPerPass: 64,
		ShutdownTimeout:  5 * time.Second,
		PongWait:         60 * time.Second,
		PingPeriod:       54 * time.Second,
	}
}

// sanitizeConfig returns a copy of cfg with every unset or invalid value
// replaced by its default.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	if cfg.MaxEventsPerPass <= 0 {
		cfg.MaxEventsPerPass = def.MaxEventsPerPass
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}

	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if addr := os.Getenv("RELAY_ADDR"); addr != "" {
		cfg.Addr = addr
	}

	if addr := os.Getenv("GATEWAY_ADDR"); addr != "" {
		cfg.GatewayAddr = addr
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	if events := os.Getenv("MAX_EVENTS_PER_PASS"); events != "" {
		cfg.MaxEventsPerPass = parseIntValue(events, cfg.MaxEventsPerPass)
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	if wait := os.Getenv("PONG_WAIT"); wait != "" {
		cfg.PongWait = parseSeconds(wait, cfg.PongWait)
	}

	if debug := os.Getenv("RELAY_DEBUG"); debug != "" {
		if on, err := strconv.ParseBool(debug); err == nil {
			cfg.Debug = on
		}
	}

	return &cfg
}

// PortAddr turns a bare port argument into a listen address. It returns false
// when port is not a number in 1..65535.
func PortAddr(port string) (string, bool) {
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return "", false
	}
	return ":" + strconv.Itoa(n), true
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

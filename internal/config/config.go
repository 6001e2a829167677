package config

import "time"

// Rate limiter backends.
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// Config holds server configuration values.
type Config struct {
	Addr              string          `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration   `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string          `mapstructure:"log_level" yaml:"log_level"`
	DatabasePath      string          `mapstructure:"database_path" yaml:"database_path"`
	MaxMessageBytes   int64           `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	RoomLifetime      time.Duration   `mapstructure:"room_lifetime" yaml:"room_lifetime"`
	SweepInterval     time.Duration   `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	PurgeInterval     time.Duration   `mapstructure:"purge_interval" yaml:"purge_interval"`
	TypingTTL         time.Duration   `mapstructure:"typing_ttl" yaml:"typing_ttl"`
	RateLimit         RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig controls message admission.
type RateLimitConfig struct {
	Window    time.Duration `mapstructure:"window" yaml:"window"`
	Max       int           `mapstructure:"max" yaml:"max"`
	Backend   string        `mapstructure:"backend" yaml:"backend"`
	RedisAddr string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":3000",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		DatabasePath:      "pulsechat.db",
		MaxMessageBytes:   64 << 10,
		RoomLifetime:      2 * time.Hour,
		SweepInterval:     time.Minute,
		PurgeInterval:     5 * time.Minute,
		TypingTTL:         5 * time.Second,
		RateLimit: RateLimitConfig{
			Window:    10 * time.Second,
			Max:       10,
			Backend:   RateLimitBackendMemory,
			RedisAddr: "localhost:6379",
			KeyPrefix: "pulsechat:ratelimit:",
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.RoomLifetime != 0 {
		c.RoomLifetime = other.RoomLifetime
	}
	if other.SweepInterval != 0 {
		c.SweepInterval = other.SweepInterval
	}
	if other.PurgeInterval != 0 {
		c.PurgeInterval = other.PurgeInterval
	}
	if other.TypingTTL != 0 {
		c.TypingTTL = other.TypingTTL
	}
	if other.RateLimit.Window != 0 {
		c.RateLimit.Window = other.RateLimit.Window
	}
	if other.RateLimit.Max != 0 {
		c.RateLimit.Max = other.RateLimit.Max
	}
	if other.RateLimit.Backend != "" {
		c.RateLimit.Backend = other.RateLimit.Backend
	}
	if other.RateLimit.RedisAddr != "" {
		c.RateLimit.RedisAddr = other.RateLimit.RedisAddr
	}
	if other.RateLimit.KeyPrefix != "" {
		c.RateLimit.KeyPrefix = other.RateLimit.KeyPrefix
	}
}

package config

import (
	"fmt"
	"time"
)

// Chat state manager variants.
const (
	VariantMemory = "memory"
	VariantLocal  = "local"
	VariantRemote = "remote"
)

// Key/value storage kinds used by the local variant and visitor sessions.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

// Backend database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the configuration of the web router and, under Backend,
// of the backend service.
type Config struct {
	Addr               string        `mapstructure:"addr" yaml:"addr"`
	PublicURL          string        `mapstructure:"public_url" yaml:"public_url"`
	ReadHeaderTimeout  time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel           string        `mapstructure:"log_level" yaml:"log_level"`
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout" yaml:"session_idle_timeout"`
	SendRate           float64       `mapstructure:"send_rate" yaml:"send_rate"`
	SendBurst          int           `mapstructure:"send_burst" yaml:"send_burst"`

	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
	Remote  RemoteConfig  `mapstructure:"remote" yaml:"remote"`
}

// StoreConfig selects the chat state manager and its storage.
type StoreConfig struct {
	Variant     string        `mapstructure:"variant" yaml:"variant"`
	Storage     string        `mapstructure:"storage" yaml:"storage"`
	FilePath    string        `mapstructure:"file_path" yaml:"file_path"`
	RedisAddr   string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPrefix string        `mapstructure:"redis_prefix" yaml:"redis_prefix"`
	RedisTTL    time.Duration `mapstructure:"redis_ttl" yaml:"redis_ttl"`
}

// BackendConfig configures the backend service.
type BackendConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	DatabasePath    string        `mapstructure:"database_path" yaml:"database_path"`
	DatabaseURL     string        `mapstructure:"database_url" yaml:"database_url"`
	JWTSecret       string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer       string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience     string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	ChatTTL         time.Duration `mapstructure:"chat_ttl" yaml:"chat_ttl"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
}

// RemoteConfig holds the credentials of the backend used by the remote
// variant.
type RemoteConfig struct {
	URL    string `mapstructure:"url" yaml:"url"`
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		SessionIdleTimeout: 30 * time.Minute,
		SendRate:           5,
		SendBurst:          10,
		Store: StoreConfig{
			Variant:     VariantMemory,
			Storage:     StorageFile,
			FilePath:    "data/chats.json",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "onetimechat:",
			RedisTTL:    24 * time.Hour,
		},
		Backend: BackendConfig{
			Addr:            ":8081",
			Driver:          DriverSQLite,
			DatabasePath:    "data/backend.db",
			JWTSecret:       "change-me",
			JWTIssuer:       "onetimechat",
			JWTAudience:     "onetimechat",
			ChatTTL:         24 * time.Hour,
			SweepInterval:   time.Minute,
			RateLimit:       20,
			RateBurst:       40,
			MaxMessageBytes: 4096,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.PublicURL != "" {
		c.PublicURL = other.PublicURL
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
	if other.SessionIdleTimeout != 0 {
		c.SessionIdleTimeout = other.SessionIdleTimeout
	}
	if other.Store.Variant != "" {
		c.Store.Variant = other.Store.Variant
	}
	if other.Store.Storage != "" {
		c.Store.Storage = other.Store.Storage
	}
	if other.Backend.Addr != "" {
		c.Backend.Addr = other.Backend.Addr
	}
	if other.Backend.Driver != "" {
		c.Backend.Driver = other.Backend.Driver
	}
	if other.Remote.URL != "" {
		c.Remote.URL = other.Remote.URL
	}
	if other.Remote.APIKey != "" {
		c.Remote.APIKey = other.Remote.APIKey
	}
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	switch c.Store.Variant {
	case VariantMemory, VariantLocal, VariantRemote:
	default:
		return fmt.Errorf("unknown store.variant %q", c.Store.Variant)
	}
	switch c.Store.Storage {
	case StorageMemory, StorageFile, StorageRedis:
	default:
		return fmt.Errorf("unknown store.storage %q", c.Store.Storage)
	}
	switch c.Backend.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown backend.driver %q", c.Backend.Driver)
	}
	if c.Backend.Driver == DriverPostgres && c.Backend.DatabaseURL == "" {
		return fmt.Errorf("backend.database_url is required for the postgres driver")
	}
	return nil
}

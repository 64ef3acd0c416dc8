package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "ONETIMECHAT"
	envConfigDefaultPath = "ONETIMECHAT_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
// A .env file in the working directory is loaded into the environment first.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) && logger != nil {
		logger.Warn().Err(err).Msg("failed to load .env file")
	}

	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

// setDefaults registers every key so AutomaticEnv can resolve nested keys.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("public_url", cfg.PublicURL)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("session_idle_timeout", cfg.SessionIdleTimeout)
	v.SetDefault("send_rate", cfg.SendRate)
	v.SetDefault("send_burst", cfg.SendBurst)

	v.SetDefault("store.variant", cfg.Store.Variant)
	v.SetDefault("store.storage", cfg.Store.Storage)
	v.SetDefault("store.file_path", cfg.Store.FilePath)
	v.SetDefault("store.redis_addr", cfg.Store.RedisAddr)
	v.SetDefault("store.redis_prefix", cfg.Store.RedisPrefix)
	v.SetDefault("store.redis_ttl", cfg.Store.RedisTTL)

	v.SetDefault("backend.addr", cfg.Backend.Addr)
	v.SetDefault("backend.driver", cfg.Backend.Driver)
	v.SetDefault("backend.database_path", cfg.Backend.DatabasePath)
	v.SetDefault("backend.database_url", cfg.Backend.DatabaseURL)
	v.SetDefault("backend.jwt_secret", cfg.Backend.JWTSecret)
	v.SetDefault("backend.jwt_issuer", cfg.Backend.JWTIssuer)
	v.SetDefault("backend.jwt_audience", cfg.Backend.JWTAudience)
	v.SetDefault("backend.chat_ttl", cfg.Backend.ChatTTL)
	v.SetDefault("backend.sweep_interval", cfg.Backend.SweepInterval)
	v.SetDefault("backend.rate_limit", cfg.Backend.RateLimit)
	v.SetDefault("backend.rate_burst", cfg.Backend.RateBurst)
	v.SetDefault("backend.max_message_bytes", cfg.Backend.MaxMessageBytes)

	v.SetDefault("remote.url", cfg.Remote.URL)
	v.SetDefault("remote.api_key", cfg.Remote.APIKey)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

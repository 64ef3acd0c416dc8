package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	logger := zerolog.New(nil)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, resolved, err := Load(&logger, path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if resolved != path {
		t.Fatalf("expected path %s, got %s", path, resolved)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Store.Variant != VariantMemory || cfg.Backend.ChatTTL != 24*time.Hour {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	logger := zerolog.New(nil)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
addr: ":9000"
session_idle_timeout: 10m
store:
  variant: local
  storage: memory
backend:
  driver: sqlite
  sweep_interval: 30s
remote:
  url: http://file.example
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ONETIMECHAT_REMOTE_URL", "http://env.example")
	t.Setenv("ONETIMECHAT_STORE_VARIANT", "remote")

	cfg, _, err := Load(&logger, path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("file value lost: addr=%s", cfg.Addr)
	}
	if cfg.SessionIdleTimeout != 10*time.Minute || cfg.Backend.SweepInterval != 30*time.Second {
		t.Fatalf("durations not parsed: %v %v", cfg.SessionIdleTimeout, cfg.Backend.SweepInterval)
	}
	if cfg.Remote.URL != "http://env.example" || cfg.Store.Variant != VariantRemote {
		t.Fatalf("env must win over file: %+v", cfg)
	}
	if cfg.Backend.Addr != ":8081" {
		t.Fatalf("default for missing key lost: %s", cfg.Backend.Addr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown variant", func(c *Config) { c.Store.Variant = "cloud" }, true},
		{"unknown storage", func(c *Config) { c.Store.Storage = "s3" }, true},
		{"unknown driver", func(c *Config) { c.Backend.Driver = "mysql" }, true},
		{"postgres without url", func(c *Config) { c.Backend.Driver = DriverPostgres }, true},
		{"postgres with url", func(c *Config) {
			c.Backend.Driver = DriverPostgres
			c.Backend.DatabaseURL = "postgres://localhost/chat"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUpdateFrom(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":7000", Store: StoreConfig{Variant: VariantLocal}})

	if cfg.Addr != ":7000" || cfg.Store.Variant != VariantLocal {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.ShutdownTimeout != 5*time.Second || cfg.Store.Storage != StorageFile {
		t.Fatal("zero values must not overwrite")
	}
}

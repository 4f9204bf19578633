// Package config loads and validates chatrelay configuration.
//
// Precedence, lowest to highest: built-in defaults, YAML config file,
// environment variables with the CHATRELAY_ prefix
// (CHATRELAY_SERVER_PORT overrides server.port).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the chatrelay server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Vault    VaultConfig    `koanf:"vault"`
	LLM      LLMConfig      `koanf:"llm"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// VaultConfig holds the key used to encrypt stored provider API keys.
// The key may be given inline or as a ${ENV_VAR} reference.
type VaultConfig struct {
	EncryptionKey string `koanf:"encryption_key"`
}

// LLMConfig holds settings shared by the provider clients.
type LLMConfig struct {
	// RequestTimeout bounds a single upstream completion call, including
	// the full duration of a streamed response.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// BaseURLs optionally overrides a provider's API endpoint, keyed by
	// provider name. Used for tests and proxy setups.
	BaseURLs map[string]string `koanf:"base_urls"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute, // must outlive a full streamed response
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "chatrelay.db",
		},
		LLM: LLMConfig{
			RequestTimeout: 4 * time.Minute,
		},
	}
}

// Load builds a Config from defaults, an optional YAML file, and
// CHATRELAY_* environment variables. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %q: %w", path, err)
		}
	}

	// CHATRELAY_SERVER_PORT -> server.port
	if err := k.Load(env.Provider("CHATRELAY_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "CHATRELAY_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// Expand a ${VAR} reference in the vault key so the secret can live
	// in the environment while the config file stays committable.
	if v := cfg.Vault.EncryptionKey; strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		cfg.Vault.EncryptionKey = os.Getenv(v[2 : len(v)-1])
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database.path must not be empty")
	}
	if c.LLM.RequestTimeout <= 0 {
		return fmt.Errorf("config: llm.request_timeout must be positive")
	}
	return nil
}

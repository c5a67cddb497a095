// Package config assembles the server configuration from defaults, an
// optional TOML or YAML file, and FUN_EUCHRE_* environment variables.
// Environment values are authoritative. Invalid values fail startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigFile points at an optional config file; the extension picks
// the parser.
const EnvConfigFile = "FUN_EUCHRE_CONFIG"

// ttlKeywords disable a TTL when used as its value.
var ttlKeywords = map[string]bool{
	"null": true, "none": true, "off": true, "disabled": true,
}

// Persistence modes.
const (
	PersistenceDisabled = "disabled"
	PersistenceFile     = "file"
)

type Config struct {
	Server      ServerConfig      `toml:"server" yaml:"server"`
	Lifecycle   LifecycleConfig   `toml:"lifecycle" yaml:"lifecycle"`
	Persistence PersistenceConfig `toml:"persistence" yaml:"persistence"`
	Tokens      TokenConfig       `toml:"tokens" yaml:"tokens"`
	Logging     LoggingConfig     `toml:"logging" yaml:"logging"`
	RateLimit   RateLimitConfig   `toml:"rate_limit" yaml:"rate_limit"`
}

type ServerConfig struct {
	Name     string `toml:"name" yaml:"name"`
	HTTPAddr string `toml:"http_addr" yaml:"http_addr"`
}

type LifecycleConfig struct {
	ReconnectGraceMs int64 `toml:"reconnect_grace_ms" yaml:"reconnect_grace_ms"`
	GameRetentionMs  int64 `toml:"game_retention_ms" yaml:"game_retention_ms"`
	SweepIntervalMs  int64 `toml:"sweep_interval_ms" yaml:"sweep_interval_ms"`

	// nil disables the TTL for that store.
	SessionTTLMs *int64 `toml:"session_ttl_ms" yaml:"session_ttl_ms"`
	LobbyTTLMs   *int64 `toml:"lobby_ttl_ms" yaml:"lobby_ttl_ms"`
	GameTTLMs    *int64 `toml:"game_ttl_ms" yaml:"game_ttl_ms"`
}

type PersistenceConfig struct {
	Mode       string `toml:"mode" yaml:"mode"`
	Path       string `toml:"path" yaml:"path"`
	DebounceMs int64  `toml:"debounce_ms" yaml:"debounce_ms"`
}

type TokenConfig struct {
	Secret   string `toml:"secret" yaml:"secret"`
	MaxAgeMs int64  `toml:"max_age_ms" yaml:"max_age_ms"`
}

type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // "json" or "console"
}

type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" yaml:"enabled"`
	CommandsPerSecond float64 `toml:"commands_per_second" yaml:"commands_per_second"`
}

func defaults() *Config {
	day := int64(24 * 60 * 60 * 1000)
	return &Config{
		Server: ServerConfig{
			Name:     "fun-euchre",
			HTTPAddr: ":8080",
		},
		Lifecycle: LifecycleConfig{
			ReconnectGraceMs: 60_000,
			GameRetentionMs:  900_000,
			SweepIntervalMs:  5_000,
			SessionTTLMs:     &day,
			LobbyTTLMs:       &day,
			GameTTLMs:        &day,
		},
		Persistence: PersistenceConfig{
			Mode:       PersistenceDisabled,
			Path:       "./var/fun-euchre/runtime-snapshot.json",
			DebounceMs: 75,
		},
		Tokens: TokenConfig{
			Secret:   "dev-secret",
			MaxAgeMs: 7 * day,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			CommandsPerSecond: 20,
		},
	}
}

// Load builds the effective configuration. The optional file named by
// FUN_EUCHRE_CONFIG is applied over defaults, then each FUN_EUCHRE_*
// variable overrides its field, then the result is validated.
func Load() (*Config, error) {
	cfg := defaults()
	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var err error
	set := func(key string, apply func(string) error) {
		if err != nil {
			return
		}
		if v, ok := os.LookupEnv(key); ok {
			if e := apply(v); e != nil {
				err = fmt.Errorf("%s: %w", key, e)
			}
		}
	}

	set("FUN_EUCHRE_HTTP_ADDR", func(v string) error {
		cfg.Server.HTTPAddr = v
		return nil
	})
	set("FUN_EUCHRE_RECONNECT_GRACE_MS", intInto(&cfg.Lifecycle.ReconnectGraceMs))
	set("FUN_EUCHRE_GAME_RETENTION_MS", intInto(&cfg.Lifecycle.GameRetentionMs))
	set("FUN_EUCHRE_LIFECYCLE_SWEEP_INTERVAL_MS", intInto(&cfg.Lifecycle.SweepIntervalMs))
	set("FUN_EUCHRE_SESSION_TTL_MS", ttlInto(&cfg.Lifecycle.SessionTTLMs))
	set("FUN_EUCHRE_LOBBY_TTL_MS", ttlInto(&cfg.Lifecycle.LobbyTTLMs))
	set("FUN_EUCHRE_GAME_TTL_MS", ttlInto(&cfg.Lifecycle.GameTTLMs))
	set("FUN_EUCHRE_PERSISTENCE_MODE", func(v string) error {
		cfg.Persistence.Mode = v
		return nil
	})
	set("FUN_EUCHRE_PERSISTENCE_PATH", func(v string) error {
		cfg.Persistence.Path = v
		return nil
	})
	set("FUN_EUCHRE_RECONNECT_TOKEN_SECRET", func(v string) error {
		if v == "" {
			return fmt.Errorf("must be non-empty when set")
		}
		cfg.Tokens.Secret = v
		return nil
	})
	set("FUN_EUCHRE_LOG_LEVEL", func(v string) error {
		cfg.Logging.Level = v
		return nil
	})
	set("FUN_EUCHRE_LOG_FORMAT", func(v string) error {
		cfg.Logging.Format = v
		return nil
	})
	set("FUN_EUCHRE_RATE_LIMIT_ENABLED", func(v string) error {
		b, e := strconv.ParseBool(v)
		if e != nil {
			return fmt.Errorf("invalid bool %q", v)
		}
		cfg.RateLimit.Enabled = b
		return nil
	})
	set("FUN_EUCHRE_RATE_LIMIT_COMMANDS_PER_SECOND", func(v string) error {
		f, e := strconv.ParseFloat(v, 64)
		if e != nil || f <= 0 {
			return fmt.Errorf("invalid positive number %q", v)
		}
		cfg.RateLimit.CommandsPerSecond = f
		return nil
	})
	return err
}

func intInto(dst *int64) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %q", v)
		}
		*dst = n
		return nil
	}
}

// ttlInto parses a positive millisecond count or a null-like keyword
// that disables the TTL.
func ttlInto(dst **int64) func(string) error {
	return func(v string) error {
		trimmed := strings.TrimSpace(strings.ToLower(v))
		if ttlKeywords[trimmed] {
			*dst = nil
			return nil
		}
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("expected positive integer or one of null/none/off/disabled, got %q", v)
		}
		*dst = &n
		return nil
	}
}

func (c *Config) validate() error {
	if c.Lifecycle.ReconnectGraceMs < 60_000 {
		return fmt.Errorf("reconnect grace %dms below minimum 60000ms", c.Lifecycle.ReconnectGraceMs)
	}
	if c.Lifecycle.GameRetentionMs < 900_000 {
		return fmt.Errorf("game retention %dms below minimum 900000ms", c.Lifecycle.GameRetentionMs)
	}
	if c.Lifecycle.SweepIntervalMs < 1_000 {
		return fmt.Errorf("sweep interval %dms below minimum 1000ms", c.Lifecycle.SweepIntervalMs)
	}
	switch c.Persistence.Mode {
	case PersistenceDisabled, PersistenceFile:
	default:
		return fmt.Errorf("persistence mode %q not in {disabled,file}", c.Persistence.Mode)
	}
	if c.Persistence.Mode == PersistenceFile && c.Persistence.Path == "" {
		return fmt.Errorf("persistence mode %q requires a path", c.Persistence.Mode)
	}
	if c.Tokens.Secret == "" {
		return fmt.Errorf("reconnect token secret must be non-empty")
	}
	if c.Tokens.MaxAgeMs <= 0 {
		return fmt.Errorf("token max age %dms must be positive", c.Tokens.MaxAgeMs)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format %q not in {json,console}", c.Logging.Format)
	}
	return nil
}

// Package config loads worker settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joeshaw/envdecode"
)

// Config holds process-level settings. Defaults are provided via struct tags.
type Config struct {
	// RulesDir holds extra *.yaml rule files. ENV: TOOLPIPE_RULES_DIR
	RulesDir string `env:"TOOLPIPE_RULES_DIR"`
	// WatchRules reloads RulesDir on change. ENV: TOOLPIPE_WATCH_RULES
	WatchRules bool `env:"TOOLPIPE_WATCH_RULES,default=false"`
	// LogLevel is one of debug, info, warn, error. ENV: TOOLPIPE_LOG_LEVEL
	LogLevel string `env:"TOOLPIPE_LOG_LEVEL,default=info"`
	// MaxLineBytes caps a single input line. ENV: TOOLPIPE_MAX_LINE_BYTES
	MaxLineBytes int `env:"TOOLPIPE_MAX_LINE_BYTES,default=16777216"`
	// RedisAddr enables the Redis transcript recorder. ENV: TOOLPIPE_REDIS_ADDR
	RedisAddr string `env:"TOOLPIPE_REDIS_ADDR"`
	// RedisPrefix namespaces transcript keys. ENV: TOOLPIPE_REDIS_PREFIX
	RedisPrefix string `env:"TOOLPIPE_REDIS_PREFIX,default=toolpipe:"`
	// ScanRoot confines the paths a host may scan. ENV: TOOLPIPE_SCAN_ROOT
	ScanRoot string `env:"TOOLPIPE_SCAN_ROOT"`
}

// Load decodes Config from the environment and validates it.
func Load() (Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv decodes Config from the environment without validating it, for
// callers that layer further overrides on top.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.MaxLineBytes <= 0 {
		return fmt.Errorf("max line bytes must be positive, got %d", c.MaxLineBytes)
	}
	if c.WatchRules && c.RulesDir == "" {
		return errors.New("watching rules requires a rules directory")
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", s)
	}
}

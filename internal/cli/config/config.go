// Package config loads the host-level configuration file. Protocol
// settings (debounce, severity floor) can also arrive through
// initializationOptions; values here are the pre-handshake defaults.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the host configuration, read from quill-ls.yml next to
// the binary's working directory.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
}

// LogConfig controls the stderr log sink.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DiagnosticsConfig seeds the diagnostics engine defaults.
type DiagnosticsConfig struct {
	Enable          bool   `mapstructure:"enable"`
	DebounceMs      int    `mapstructure:"debounce_ms"`
	MinimumSeverity string `mapstructure:"minimum_severity"`
}

// ValidLogLevels enumerates the accepted --logLevel values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "critical", "none"}

// Load reads quill-ls.yml if present, falling back to defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("diagnostics.enable", true)
	v.SetDefault("diagnostics.debounce_ms", 300)
	v.SetDefault("diagnostics.minimum_severity", "warning")

	v.SetConfigName("quill-ls")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; defaults apply.
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func validate(cfg *Config) error {
	if !IsValidLogLevel(cfg.Log.Level) {
		return fmt.Errorf("log.level must be one of %v, got: %s", ValidLogLevels, cfg.Log.Level)
	}
	if cfg.Diagnostics.DebounceMs < 0 {
		return fmt.Errorf("diagnostics.debounce_ms must not be negative, got: %d", cfg.Diagnostics.DebounceMs)
	}
	switch cfg.Diagnostics.MinimumSeverity {
	case "error", "warning", "information", "info", "hint":
	default:
		return fmt.Errorf("diagnostics.minimum_severity must be error, warning, information, or hint, got: %s", cfg.Diagnostics.MinimumSeverity)
	}
	return nil
}

// IsValidLogLevel reports whether level is an accepted log level
// name.
func IsValidLogLevel(level string) bool {
	for _, valid := range ValidLogLevels {
		if level == valid {
			return true
		}
	}
	return false
}

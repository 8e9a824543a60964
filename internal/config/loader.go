package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoadConfig reads, parses, defaults and validates the configuration file at path.
// The format is chosen by extension (.json, .toml); any other extension is
// auto-detected by trying JSON first and TOML second.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("configuration file path cannot be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("configuration file %s is empty", path)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
		}
	default:
		jsonErr := json.Unmarshal(data, cfg)
		if jsonErr != nil {
			cfg = &Config{}
			if _, tomlErr := toml.Decode(string(data), cfg); tomlErr != nil {
				return nil, fmt.Errorf("failed to auto-detect and parse config %s: JSON error: %v; TOML error: %v", path, jsonErr, tomlErr)
			}
		}
	}

	if abs, err := filepath.Abs(path); err == nil {
		cfg.OriginalFilePath = abs
	} else {
		cfg.OriginalFilePath = path
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks a defaulted configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if cfg.Server == nil || cfg.Handler == nil || cfg.Logging == nil {
		return fmt.Errorf("config sections must be defaulted before validation")
	}

	s := cfg.Server
	if s.Address == nil || *s.Address == "" {
		return fmt.Errorf("server.address cannot be empty")
	}
	if s.DocumentRoot == nil || *s.DocumentRoot == "" {
		return fmt.Errorf("server.document_root cannot be empty")
	}
	// One byte of the buffer is reserved, so a usable buffer needs two.
	if s.ReadBufferSize == nil || *s.ReadBufferSize < 2 {
		return fmt.Errorf("server.read_buffer_size must be at least 2")
	}
	if s.MaxConnections == nil || *s.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections cannot be negative")
	}
	if s.GracefulShutdownTimeout == nil || s.GracefulShutdownTimeout.Duration < 0 {
		return fmt.Errorf("server.graceful_shutdown_timeout cannot be negative")
	}

	if cfg.Handler.ScriptSuffix == nil || *cfg.Handler.ScriptSuffix == "" {
		return fmt.Errorf("handler.script_suffix cannot be empty")
	}

	l := cfg.Logging
	switch l.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
	default:
		return fmt.Errorf("logging.log_level %q is invalid; must be one of DEBUG, INFO, WARNING, ERROR", l.LogLevel)
	}
	if l.AccessLog != nil {
		if err := validateTarget("logging.access_log.target", l.AccessLog.Target); err != nil {
			return err
		}
		if l.AccessLog.Format != "json" && l.AccessLog.Format != "text" {
			return fmt.Errorf("logging.access_log.format %q is invalid; must be json or text", l.AccessLog.Format)
		}
	}
	if l.ErrorLog != nil {
		if err := validateTarget("logging.error_log.target", l.ErrorLog.Target); err != nil {
			return err
		}
	}
	return nil
}

func validateTarget(key string, target *string) error {
	if target == nil || *target == "" {
		return fmt.Errorf("%s cannot be empty", key)
	}
	if IsFilePath(*target) && !filepath.IsAbs(*target) {
		return fmt.Errorf("%s %q must be stdout, stderr, or an absolute file path", key, *target)
	}
	return nil
}

package config

import (
	"time"
)

// LogLevel defines the minimum severity for error logs.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// Default values applied by ApplyDefaults.
const (
	DefaultAddress                 = ":8080"
	DefaultDocumentRoot            = "."
	DefaultReadBufferSize          = 1024
	DefaultGracefulShutdownTimeout = 5 * time.Second
	DefaultScriptSuffix            = ".gci"
	DefaultLogLevel                = LogLevelInfo
	DefaultAccessLogTarget         = "stdout"
	DefaultAccessLogFormat         = "json"
	DefaultErrorLogTarget          = "stderr"
)

// Config is the top-level configuration structure for the server.
type Config struct {
	Server  *ServerConfig  `json:"server,omitempty" toml:"server,omitempty"`
	Handler *HandlerConfig `json:"handler,omitempty" toml:"handler,omitempty"`
	Logging *LoggingConfig `json:"logging,omitempty" toml:"logging,omitempty"`

	// OriginalFilePath is the absolute path of the file the config was loaded from.
	OriginalFilePath string `json:"-" toml:"-"`
}

// ServerConfig holds listener and connection settings.
type ServerConfig struct {
	Address *string `json:"address,omitempty" toml:"address,omitempty"`
	// DocumentRoot is the directory request paths are resolved against.
	// The default "." is the process working directory.
	DocumentRoot *string `json:"document_root,omitempty" toml:"document_root,omitempty"`
	// ReadBufferSize bounds the single request read and is the file chunk size.
	ReadBufferSize *int `json:"read_buffer_size,omitempty" toml:"read_buffer_size,omitempty"`
	// MaxConnections of 0 means unlimited.
	MaxConnections          *int      `json:"max_connections,omitempty" toml:"max_connections,omitempty"`
	GracefulShutdownTimeout *Duration `json:"graceful_shutdown_timeout,omitempty" toml:"graceful_shutdown_timeout,omitempty"` // e.g., "5s"
}

// HandlerConfig configures resource dispatch.
type HandlerConfig struct {
	// ScriptSuffix marks a regular file as an external script when it occurs
	// anywhere in the request path.
	ScriptSuffix      *string `json:"script_suffix,omitempty" toml:"script_suffix,omitempty"`
	ListingDotEntries *bool   `json:"listing_dot_entries,omitempty" toml:"listing_dot_entries,omitempty"`
	ListingSizes      *bool   `json:"listing_sizes,omitempty" toml:"listing_sizes,omitempty"`
}

// LoggingConfig holds logging configurations.
type LoggingConfig struct {
	LogLevel  LogLevel         `json:"log_level,omitempty" toml:"log_level,omitempty"`
	AccessLog *AccessLogConfig `json:"access_log,omitempty" toml:"access_log,omitempty"`
	ErrorLog  *ErrorLogConfig  `json:"error_log,omitempty" toml:"error_log,omitempty"`
}

// AccessLogConfig configures access logging.
type AccessLogConfig struct {
	Enabled *bool   `json:"enabled,omitempty" toml:"enabled,omitempty"`
	Target  *string `json:"target,omitempty" toml:"target,omitempty"`
	Format  string  `json:"format,omitempty" toml:"format,omitempty"`
}

// ErrorLogConfig configures error logging.
type ErrorLogConfig struct {
	Target *string `json:"target,omitempty" toml:"target,omitempty"`
}

// Duration wraps time.Duration so it can be written as "5s" in JSON and TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsFilePath reports whether a log target names a file rather than a standard stream.
func IsFilePath(target string) bool {
	return target != "stdout" && target != "stderr"
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field of cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	s := cfg.Server
	if s.Address == nil {
		s.Address = strPtr(DefaultAddress)
	}
	if s.DocumentRoot == nil {
		s.DocumentRoot = strPtr(DefaultDocumentRoot)
	}
	if s.ReadBufferSize == nil {
		s.ReadBufferSize = intPtr(DefaultReadBufferSize)
	}
	if s.MaxConnections == nil {
		s.MaxConnections = intPtr(0)
	}
	if s.GracefulShutdownTimeout == nil {
		s.GracefulShutdownTimeout = &Duration{DefaultGracefulShutdownTimeout}
	}

	if cfg.Handler == nil {
		cfg.Handler = &HandlerConfig{}
	}
	h := cfg.Handler
	if h.ScriptSuffix == nil {
		h.ScriptSuffix = strPtr(DefaultScriptSuffix)
	}
	if h.ListingDotEntries == nil {
		h.ListingDotEntries = boolPtr(true)
	}
	if h.ListingSizes == nil {
		h.ListingSizes = boolPtr(false)
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	l := cfg.Logging
	if l.LogLevel == "" {
		l.LogLevel = DefaultLogLevel
	}
	if l.AccessLog == nil {
		l.AccessLog = &AccessLogConfig{}
	}
	if l.AccessLog.Enabled == nil {
		l.AccessLog.Enabled = boolPtr(true)
	}
	if l.AccessLog.Target == nil {
		l.AccessLog.Target = strPtr(DefaultAccessLogTarget)
	}
	if l.AccessLog.Format == "" {
		l.AccessLog.Format = DefaultAccessLogFormat
	}
	if l.ErrorLog == nil {
		l.ErrorLog = &ErrorLogConfig{}
	}
	if l.ErrorLog.Target == nil {
		l.ErrorLog.Target = strPtr(DefaultErrorLogTarget)
	}
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }

package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"example.com/gciserve/internal/config"
)

// LogFields carries structured key/value pairs for a log entry.
type LogFields map[string]interface{}

// AccessEntry describes one served connection.
type AccessEntry struct {
	RemoteAddr string
	Method     string
	Path       string
	Protocol   string
	Kind       string
	// Status is 0 when an external script wrote the response itself.
	Status       int
	Bytes        int64
	Duration     time.Duration
	ShortRequest bool
}

// reopenableWriter lets a file target be swapped out underneath a zerolog.Logger.
type reopenableWriter struct {
	mu     sync.Mutex
	target string
	out    io.WriteCloser
}

func (w *reopenableWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Write(p)
}

func (w *reopenableWriter) reopen() error {
	if !config.IsFilePath(w.target) {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.out.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing log file %s during reopen: %v\n", w.target, err)
	}
	f, err := openTarget(w.target)
	if err != nil {
		w.out = nopCloser{os.Stderr}
		return err
	}
	w.out = f
	return nil
}

func (w *reopenableWriter) close() error {
	if !config.IsFilePath(w.target) {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Close()
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Logger is a general logger that contains specific loggers for access and errors.
type Logger struct {
	errorLog  zerolog.Logger
	accessLog *zerolog.Logger

	errorOut  *reopenableWriter
	accessOut *reopenableWriter
}

// NewLogger creates and configures a new Logger instance.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	errorTarget := config.DefaultErrorLogTarget
	if cfg.ErrorLog != nil && cfg.ErrorLog.Target != nil {
		errorTarget = *cfg.ErrorLog.Target
	}
	errorOut, err := newReopenableWriter(errorTarget)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	l := &Logger{
		errorLog: zerolog.New(errorOut).Level(zerologLevel(cfg.LogLevel)).With().Timestamp().Logger(),
		errorOut: errorOut,
	}

	if cfg.AccessLog != nil && (cfg.AccessLog.Enabled == nil || *cfg.AccessLog.Enabled) {
		accessTarget := config.DefaultAccessLogTarget
		if cfg.AccessLog.Target != nil {
			accessTarget = *cfg.AccessLog.Target
		}
		accessOut, err := newReopenableWriter(accessTarget)
		if err != nil {
			errorOut.close()
			return nil, fmt.Errorf("failed to open access log: %w", err)
		}
		var w io.Writer = accessOut
		if cfg.AccessLog.Format == "text" {
			w = zerolog.ConsoleWriter{Out: accessOut, NoColor: true, TimeFormat: time.RFC3339}
		}
		al := zerolog.New(w).With().Timestamp().Logger()
		l.accessLog = &al
		l.accessOut = accessOut
	}

	return l, nil
}

// NewDiscardLogger returns a Logger that drops everything. Intended for tests.
func NewDiscardLogger() *Logger {
	return &Logger{errorLog: zerolog.Nop()}
}

// NewWriterLogger returns a Logger writing JSON error entries (and access
// entries, if access is non-nil) to the given writers at the given level.
func NewWriterLogger(level config.LogLevel, errors io.Writer, access io.Writer) *Logger {
	l := &Logger{
		errorLog: zerolog.New(errors).Level(zerologLevel(level)).With().Timestamp().Logger(),
	}
	if access != nil {
		al := zerolog.New(access).With().Timestamp().Logger()
		l.accessLog = &al
	}
	return l
}

func newReopenableWriter(target string) (*reopenableWriter, error) {
	switch target {
	case "", "stderr":
		return &reopenableWriter{target: "stderr", out: nopCloser{os.Stderr}}, nil
	case "stdout":
		return &reopenableWriter{target: target, out: nopCloser{os.Stdout}}, nil
	}
	f, err := openTarget(target)
	if err != nil {
		return nil, err
	}
	return &reopenableWriter{target: target, out: f}, nil
}

func openTarget(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, nil
}

func zerologLevel(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) log(e *zerolog.Event, msg string, fields []LogFields) {
	for _, f := range fields {
		if f != nil {
			e = e.Fields(map[string]interface{}(f))
		}
	}
	e.Msg(msg)
}

func (l *Logger) Debug(msg string, fields ...LogFields) { l.log(l.errorLog.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...LogFields)  { l.log(l.errorLog.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...LogFields)  { l.log(l.errorLog.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...LogFields) { l.log(l.errorLog.Error(), msg, fields) }

// Access writes one access log entry. It is a no-op when access logging is disabled.
func (l *Logger) Access(e AccessEntry) {
	if l.accessLog == nil {
		return
	}
	ev := l.accessLog.Log().
		Str("remote_addr", e.RemoteAddr).
		Str("method", e.Method).
		Str("path", e.Path).
		Str("protocol", e.Protocol).
		Str("kind", e.Kind).
		Int("status", e.Status).
		Int64("resp_bytes", e.Bytes).
		Str("resp_size", humanize.Bytes(uint64(e.Bytes))).
		Int64("duration_ms", e.Duration.Milliseconds())
	if e.ShortRequest {
		ev = ev.Bool("short_request", true)
	}
	ev.Send()
}

// CloseLogFiles closes any open log files.
func (l *Logger) CloseLogFiles() error {
	var firstErr error
	for _, w := range []*reopenableWriter{l.accessOut, l.errorOut} {
		if w == nil {
			continue
		}
		if err := w.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReopenLogFiles closes and reopens file-based targets, for SIGHUP-driven rotation.
func (l *Logger) ReopenLogFiles() error {
	for _, w := range []*reopenableWriter{l.errorOut, l.accessOut} {
		if w == nil {
			continue
		}
		if err := w.reopen(); err != nil {
			return err
		}
	}
	return nil
}

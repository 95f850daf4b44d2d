// Package logger provides leveled structured logging with PII redaction.
//
// Call sites use the package-level Debug/Info/Warn/Error functions with
// alternating key/value fields. Output is JSON by default; the "dev" format
// renders colored, human-readable lines through devslog.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/golang-cz/devslog"
)

// Level represents the severity of a log entry.
type Level string

const (
	DEBUG Level = "debug"
	INFO  Level = "info"
	WARN  Level = "warn"
	ERROR Level = "error"
)

// Format selects the output handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatDev  Format = "dev"
)

// Config configures the default logger.
type Config struct {
	Level  Level  `yaml:"level"`
	Format Format `yaml:"format"`
	// ShowPII disables email redaction.
	ShowPII bool `yaml:"show_pii"`
}

var (
	defaultLogger atomic.Pointer[slog.Logger]
	levelVar      = new(slog.LevelVar)
	redactPII     atomic.Bool
)

func init() {
	redactPII.Store(true)
	defaultLogger.Store(newLogger(os.Stderr, FormatJSON))
}

// Init replaces the default logger according to cfg.
func Init(cfg Config) {
	InitWriter(os.Stderr, cfg)
}

// InitWriter is Init with an explicit destination, mostly for tests.
func InitWriter(w io.Writer, cfg Config) {
	SetLevel(cfg.Level)
	redactPII.Store(!cfg.ShowPII)
	defaultLogger.Store(newLogger(w, cfg.Format))
}

func newLogger(w io.Writer, format Format) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelVar, ReplaceAttr: redactAttr}
	if format == FormatDev {
		return slog.New(devslog.NewHandler(w, &devslog.Options{
			HandlerOptions:    opts,
			MaxSlicePrintSize: 20,
			SortKeys:          true,
			TimeFormat:        "[15:04:05]",
			NewLineAfterLog:   true,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) {
	switch l {
	case DEBUG:
		levelVar.Set(slog.LevelDebug)
	case WARN:
		levelVar.Set(slog.LevelWarn)
	case ERROR:
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) { redactPII.Store(r) }

// Slog exposes the underlying logger for libraries that take *slog.Logger.
func Slog() *slog.Logger { return defaultLogger.Load() }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...any) { log(slog.LevelDebug, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...any) { log(slog.LevelInfo, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...any) { log(slog.LevelWarn, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...any) { log(slog.LevelError, msg, fields...) }

func log(level slog.Level, msg string, fields ...any) {
	defaultLogger.Load().Log(context.Background(), level, msg, fields...)
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if !redactPII.Load() || a.Value.Kind() != slog.KindString {
		return a
	}
	key := strings.ToLower(a.Key)
	val := a.Value.String()
	// Redact email fields
	if strings.Contains(key, "email") || strings.Contains(key, "recipient") || key == "to" {
		if strings.Contains(val, "@") {
			return slog.String(a.Key, RedactEmail(val))
		}
		return a
	}
	// Redact any embedded emails in generic fields
	if strings.Contains(val, "@") {
		return slog.String(a.Key, emailRegex.ReplaceAllStringFunc(val, RedactEmail))
	}
	return a
}

// Package logging builds the receiver's logger: zerolog writing to the
// console and to a rotating file, exposed to the rest of the module as a
// *slog.Logger through SlogHandler.
//
//	logs, err := logging.New(logging.Config{Level: "info", Dir: "logs"})
//	if err != nil {
//	    return err
//	}
//	defer logs.Close()
//	logger := logs.Slog()
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level: trace, debug, info, warn, error,
	// critical.
	// Default: info
	Level string

	// Format is the console output format: console or json.
	// Default: console
	Format string

	// Dir and File name the log file. File output is disabled when File
	// is empty.
	Dir  string
	File string

	// MaxAgeDays and MaxBackups bound how many rotated files are kept.
	MaxAgeDays int
	MaxBackups int

	// Console receives console output. Default: os.Stderr
	Console io.Writer
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Dir:        "logs",
		File:       "dicom_server.log",
		MaxAgeDays: 7,
		MaxBackups: 7,
		Console:    os.Stderr,
	}
}

// Logger owns the zerolog logger and its log file.
type Logger struct {
	zl   zerolog.Logger
	file *lumberjack.Logger
}

// New builds a Logger from cfg, creating the log directory when file output
// is enabled.
func New(cfg Config) (*Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "console"
	}
	if cfg.Console == nil {
		cfg.Console = os.Stderr
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var console io.Writer = cfg.Console
	if cfg.Format == "console" {
		console = zerolog.ConsoleWriter{
			Out:        cfg.Console,
			TimeFormat: "2006-01-02 15:04:05",
			NoColor:    true,
		}
	}

	writers := []io.Writer{console}
	l := &Logger{}
	if cfg.File != "" {
		if cfg.Dir != "" {
			if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
		}
		l.file = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, cfg.File),
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			LocalTime:  true,
		}
		writers = append(writers, l.file)
	}

	l.zl = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Logger()
	return l, nil
}

// Zerolog returns the underlying zerolog logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// Slog returns an slog.Logger writing through zerolog.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(NewSlogHandlerWithLogger(l.zl))
}

// File returns the rotating log file, or nil when file output is disabled.
func (l *Logger) File() *lumberjack.Logger {
	return l.file
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel converts a level name to a zerolog.Level. "critical" keeps only
// LevelCritical records.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "critical":
		return criticalLevel, nil
	case "disabled":
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

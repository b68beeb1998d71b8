// Package logging provides the logger used across the agent. The Logger
// interface has the same shape as the kardianos service logger so the platform
// service log can be plugged in next to the console and file output.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Logger is the logging surface components depend on.
type Logger interface {
	Debugf(format string, v ...interface{})
	Info(v ...interface{}) error
	Infof(format string, v ...interface{}) error
	Warning(v ...interface{}) error
	Warningf(format string, v ...interface{}) error
	Error(v ...interface{}) error
	Errorf(format string, v ...interface{}) error
}

// LevelWarning is spelled out because the CLI accepts WARNING as well as WARN.
const LevelWarning = "WARNING"

// ParseLevel maps a CLI log level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", LevelWarning:
		return slog.LevelWarn, nil
	case "ERROR", "CRITICAL":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// Options controls where log lines go.
type Options struct {
	Level            string
	Folder           string
	FilenamePrefix   string
	NoConsoleLogging bool
	// Console defaults to os.Stderr.
	Console io.Writer
	// Now is used to name the log file; defaults to time.Now.
	Now func() time.Time
}

// SlogLogger adapts a slog.Logger to the Logger interface.
type SlogLogger struct {
	logger *slog.Logger
	closer io.Closer
}

// New builds a logger writing to the console and to a dated file under
// Options.Folder. The returned logger must be closed to flush the file.
func New(opts Options) (*SlogLogger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var writers []io.Writer
	if !opts.NoConsoleLogging {
		console := opts.Console
		if console == nil {
			console = os.Stderr
		}
		writers = append(writers, console)
	}

	var file *os.File
	if opts.Folder != "" {
		if err := os.MkdirAll(opts.Folder, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log folder: %w", err)
		}
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		prefix := opts.FilenamePrefix
		if prefix == "" {
			prefix = "cloud-courier-"
		}
		name := filepath.Join(opts.Folder, prefix+now().Format("2006-01-02")+".log")
		file, err = os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", name, err)
		}
		writers = append(writers, file)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: level})
	l := &SlogLogger{logger: slog.New(handler)}
	if file != nil {
		l.closer = file
	}
	return l, nil
}

// FromSlog wraps an existing slog.Logger.
func FromSlog(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

// Nop returns a logger that discards everything.
func Nop() *SlogLogger {
	return FromSlog(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1})))
}

func (l *SlogLogger) log(level slog.Level, msg string) {
	l.logger.Log(context.Background(), level, msg)
}

func (l *SlogLogger) Debugf(format string, v ...interface{}) {
	if !l.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	l.log(slog.LevelDebug, fmt.Sprintf(format, v...))
}

func (l *SlogLogger) Info(v ...interface{}) error {
	l.log(slog.LevelInfo, fmt.Sprint(v...))
	return nil
}

func (l *SlogLogger) Infof(format string, v ...interface{}) error {
	l.log(slog.LevelInfo, fmt.Sprintf(format, v...))
	return nil
}

func (l *SlogLogger) Warning(v ...interface{}) error {
	l.log(slog.LevelWarn, fmt.Sprint(v...))
	return nil
}

func (l *SlogLogger) Warningf(format string, v ...interface{}) error {
	l.log(slog.LevelWarn, fmt.Sprintf(format, v...))
	return nil
}

func (l *SlogLogger) Error(v ...interface{}) error {
	l.log(slog.LevelError, fmt.Sprint(v...))
	return nil
}

func (l *SlogLogger) Errorf(format string, v ...interface{}) error {
	l.log(slog.LevelError, fmt.Sprintf(format, v...))
	return nil
}

// Close flushes and closes the log file, if any.
func (l *SlogLogger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

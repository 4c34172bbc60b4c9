package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	globalLogger = slog.Default()
	mu           sync.RWMutex
	files        []*os.File
)

type Config struct {
	Level   string   `mapstructure:"level"`   // debug/info/warn/error
	Format  string   `mapstructure:"format"`  // text/json
	Outputs []string `mapstructure:"outputs"` // stdout/stderr/file path
}

// ParseLevel maps a level name to slog; unknown names fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger for cfg without touching the global one. The
// returned closer releases any files opened for the outputs.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	var writers []io.Writer
	var opened []*os.File
	for _, output := range cfg.Outputs {
		switch output {
		case "", "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
				closeFiles(opened)
				return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
			}
			file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				closeFiles(opened)
				return nil, nil, fmt.Errorf("failed to open log file: %w", err)
			}
			opened = append(opened, file)
			writers = append(writers, file)
		}
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}
	multiWriter := io.MultiWriter(writers...)

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		handler = slog.NewTextHandler(multiWriter, opts)
	case "json":
		handler = slog.NewJSONHandler(multiWriter, opts)
	default:
		closeFiles(opened)
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return slog.New(handler), fileCloser(opened), nil
}

// Init replaces the global logger. Files from a previous Init are closed.
func Init(cfg Config) error {
	log, closer, err := New(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	closeFiles(files)
	files = closer.(fileCloser)
	globalLogger = log
	return nil
}

type fileCloser []*os.File

func (f fileCloser) Close() error {
	return closeFiles(f)
}

func closeFiles(files []*os.File) error {
	var first error
	for _, f := range files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func Debug(msg string, args ...interface{}) {
	Logger().Debug(msg, args...)
}

func Info(msg string, args ...interface{}) {
	Logger().Info(msg, args...)
}

func Warn(msg string, args ...interface{}) {
	Logger().Warn(msg, args...)
}

func Error(msg string, args ...interface{}) {
	Logger().Error(msg, args...)
}

func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DeRuina/timberjack"
	"github.com/sirupsen/logrus"
)

var (
	// Logger is the process-wide logger
	Logger *logrus.Logger

	mu          sync.Mutex
	initialized bool
)

// LogConfig holds configuration for logging
type LogConfig struct {
	Level        string // "debug", "info", "warn", "error"
	FilePath     string // Path to log file, empty for stdout only
	RotationTime string // Time-based rotation interval (e.g., "1h", "24h")
	MaxSize      int    // Megabytes before rotation
	MaxBackups   int    // Old log files to retain
	MaxAge       int    // Days to retain old log files
	Compress     bool   // Gzip rotated files
}

func newFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	}
}

// Init configures the global logger. Calling it again after a successful call is a no-op.
func Init(config LogConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if initialized && Logger != nil {
		return nil
	}
	if Logger == nil {
		Logger = logrus.New()
	}

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	Logger.SetLevel(level)
	Logger.SetFormatter(newFormatter())

	var writers []io.Writer

	// Under `daemon start` stdout is already the log file.
	if !isStdoutRedirectedToFile() {
		writers = append(writers, os.Stdout)
	}

	if config.FilePath != "" {
		fileWriter, err := newRotatingWriter(config)
		if err != nil {
			return err
		}
		writers = append(writers, fileWriter)
	}

	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}
	Logger.SetOutput(io.MultiWriter(writers...))
	initialized = true

	return nil
}

func newRotatingWriter(config LogConfig) (*timberjack.Logger, error) {
	dir := filepath.Dir(config.FilePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	maxSize := config.MaxSize
	if maxSize == 0 {
		maxSize = 100
	}
	maxBackups := config.MaxBackups
	if maxBackups == 0 {
		maxBackups = 3
	}
	maxAge := config.MaxAge
	if maxAge == 0 {
		maxAge = 28
	}

	rotation := 24 * time.Hour
	if config.RotationTime != "" {
		d, err := time.ParseDuration(config.RotationTime)
		if err != nil {
			return nil, fmt.Errorf("invalid rotation_time: %w", err)
		}
		rotation = d
	}

	compression := ""
	if config.Compress {
		compression = "gzip"
	}

	return &timberjack.Logger{
		Filename:         config.FilePath,
		MaxSize:          maxSize,
		MaxBackups:       maxBackups,
		MaxAge:           maxAge,
		RotationInterval: rotation,
		Compression:      compression,
		LocalTime:        true,
	}, nil
}

func isStdoutRedirectedToFile() bool {
	stat, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode()&os.ModeCharDevice) == 0 && stat.Mode().IsRegular()
}

// GetLogger returns the global logger, creating a stderr logger if Init was never called.
func GetLogger() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()

	if Logger == nil {
		Logger = logrus.New()
		Logger.SetOutput(os.Stderr)
		Logger.SetLevel(logrus.InfoLevel)
		Logger.SetFormatter(newFormatter())
	}
	return Logger
}

// ForPerson returns an entry tagged with the person key.
func ForPerson(key string) *logrus.Entry {
	return GetLogger().WithField("person", key)
}

package logger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Config{
		Level:      "info",
		LogDir:     tmpDir,
		MaxSizeMB:  10,
		MaxBackups: 5,
		Console:    false,
	}

	logger := New(cfg)

	if logger == nil {
		t.Fatal("Expected logger to be created")
	}
}

func TestNew_InvalidDirectory(t *testing.T) {
	cfg := Config{
		Level:  "info",
		LogDir: "/this/path/should/not/exist/and/fail",
	}

	logger := New(cfg)

	// Should still create logger (fallback to stderr)
	if logger == nil {
		t.Fatal("Expected logger to be created even with invalid directory (fallback)")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected zerolog.Level
	}{
		{"Debug", "debug", zerolog.DebugLevel},
		{"Info", "info", zerolog.InfoLevel},
		{"Warn", "warn", zerolog.WarnLevel},
		{"Warning", "warning", zerolog.WarnLevel},
		{"Error", "error", zerolog.ErrorLevel},
		{"Debug uppercase", "DEBUG", zerolog.DebugLevel},
		{"Unknown", "unknown", zerolog.InfoLevel},
		{"Empty", "", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseLogLevel(tt.level)
			if result != tt.expected {
				t.Errorf("Expected level %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestWithField(t *testing.T) {
	logger := New(Config{Level: "info", LogDir: t.TempDir()})
	newLogger := logger.WithField("test_key", "test_value")

	if newLogger == nil {
		t.Fatal("Expected logger with field")
	}
	if newLogger == logger {
		t.Error("WithField should return a new logger instance")
	}
}

func TestWithError(t *testing.T) {
	logger := New(Config{Level: "info", LogDir: t.TempDir()})
	newLogger := logger.WithError(errors.New("test error"))

	if newLogger == nil {
		t.Fatal("Expected logger with error")
	}
	if newLogger == logger {
		t.Error("WithError should return a new logger instance")
	}
}

func TestLogFileCreation(t *testing.T) {
	tmpDir := t.TempDir()

	logger := New(Config{Level: "info", LogDir: tmpDir})
	logger.Info().Msg("Test log message")

	logFile := filepath.Join(tmpDir, "swattool.log")
	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		t.Error("Log file should be created")
	}
}

func TestLogDirCreation(t *testing.T) {
	tmpDir := t.TempDir()
	nestedDir := filepath.Join(tmpDir, "nested", "log", "dir")

	logger := New(Config{Level: "info", LogDir: nestedDir})

	if _, err := os.Stat(nestedDir); os.IsNotExist(err) {
		t.Error("Nested log directory should be created")
	}

	logger.Info().Msg("Test")
}

func TestAllLogLevels(t *testing.T) {
	tmpDir := t.TempDir()

	levels := []string{"debug", "info", "warn", "error"}

	for _, level := range levels {
		t.Run(level, func(t *testing.T) {
			logger := New(Config{Level: level, LogDir: filepath.Join(tmpDir, level)})
			if logger == nil {
				t.Fatalf("Expected logger with level %s", level)
			}

			logger.Debug().Msg("Debug message")
			logger.Info().Msg("Info message")
			logger.Warn().Msg("Warn message")
			logger.Error().Msg("Error message")
		})
	}
}

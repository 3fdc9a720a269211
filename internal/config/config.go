// Package config loads the swattool configuration from environment
// variables, with optional .env file support.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Servers
	SwatbotBaseURL  string
	BugzillaBaseURL string

	// Local state locations
	DataDir      string // cookies, token, user data, triage history, git mirror
	CacheDir     string // HTTP response cache and highlight cache
	DatabasePath string // sqlite metadata cache

	// Review session tuning
	Workers               int // concurrent fetch/warmup workers
	BuildLimit            int // max pending builds loaded per session
	HistoryLookupTimeoutS int // soft budget for one triage history scan

	// Application
	LogLevel string

	// Telegram session summaries (optional)
	TelegramBotToken string
	TelegramChannel  int64
}

// Load loads configuration from .env file and environment variables
// Priority: .env file > OS environment variables
func Load() (*Config, error) {
	// Set up viper first to read OS environment variables
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Load .env file to override OS environment variables
	// godotenv.Load() sets OS env vars from .env, which viper will then read
	_ = godotenv.Load()

	setDefaults()

	config := &Config{
		SwatbotBaseURL:  viper.GetString("SWATBOT_BASE_URL"),
		BugzillaBaseURL: viper.GetString("BUGZILLA_BASE_URL"),

		DataDir:      viper.GetString("DATA_DIR"),
		CacheDir:     viper.GetString("CACHE_DIR"),
		DatabasePath: viper.GetString("DATABASE_PATH"),

		Workers:               viper.GetInt("WORKERS"),
		BuildLimit:            viper.GetInt("BUILD_LIMIT"),
		HistoryLookupTimeoutS: viper.GetInt("HISTORY_LOOKUP_TIMEOUT_SECONDS"),

		LogLevel: viper.GetString("LOG_LEVEL"),

		TelegramBotToken: viper.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChannel:  viper.GetInt64("TELEGRAM_CHANNEL_ID"),
	}

	if config.DatabasePath == "" {
		config.DatabasePath = filepath.Join(config.DataDir, "swattool.db")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("SWATBOT_BASE_URL", "https://swatbot.yoctoproject.org")
	viper.SetDefault("BUGZILLA_BASE_URL", "https://bugzilla.yoctoproject.org")

	viper.SetDefault("DATA_DIR", defaultDir("XDG_DATA_HOME", ".local/share"))
	viper.SetDefault("CACHE_DIR", defaultDir("XDG_CACHE_HOME", ".cache"))

	viper.SetDefault("WORKERS", 8)
	viper.SetDefault("BUILD_LIMIT", 30)
	viper.SetDefault("HISTORY_LOOKUP_TIMEOUT_SECONDS", 5)
	viper.SetDefault("LOG_LEVEL", "info")
}

// defaultDir resolves the swattool subdirectory of an XDG base directory,
// falling back to the home-relative default when the variable is unset.
func defaultDir(xdgVar, homeRelative string) string {
	if base := os.Getenv(xdgVar); base != "" {
		return filepath.Join(base, "swattool")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "swattool")
	}
	return filepath.Join(home, homeRelative, "swattool")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"SWATBOT_BASE_URL":  c.SwatbotBaseURL,
		"BUGZILLA_BASE_URL": c.BugzillaBaseURL,
	} {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
		if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			return fmt.Errorf("%s must start with 'http://' or 'https://'", name)
		}
	}

	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("CACHE_DIR is required")
	}

	if c.Workers < 1 || c.Workers > 32 {
		return fmt.Errorf("WORKERS must be between 1 and 32")
	}
	if c.BuildLimit < 1 {
		return fmt.Errorf("BUILD_LIMIT must be at least 1")
	}
	if c.HistoryLookupTimeoutS < 0 {
		return fmt.Errorf("HISTORY_LOOKUP_TIMEOUT_SECONDS must not be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}

	// Telegram is optional, but a set token must look like one and needs a
	// channel to post to.
	if c.TelegramBotToken != "" {
		telegramTokenRegex := regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)
		if !telegramTokenRegex.MatchString(c.TelegramBotToken) {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN has invalid format (expected: 'number:token')")
		}
		if c.TelegramChannel == 0 {
			return fmt.Errorf("TELEGRAM_CHANNEL_ID is required when TELEGRAM_BOT_TOKEN is set")
		}
	}

	return nil
}

// HasTelegram returns true if session summaries should be sent.
func (c *Config) HasTelegram() bool {
	return c.TelegramBotToken != ""
}

// HistoryPath returns the triage history file location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "triage-history.yaml")
}

// UserInfosPath returns the operator review state file location.
func (c *Config) UserInfosPath() string {
	return filepath.Join(c.DataDir, "userinfos.yaml")
}

// WebCacheDir returns the HTTP response cache location.
func (c *Config) WebCacheDir() string {
	return filepath.Join(c.CacheDir, "web")
}

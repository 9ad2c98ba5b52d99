package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr    = ":8080"
	defaultDBPath        = "tether.db"
	defaultSweepInterval = 250 * time.Millisecond
	defaultOperationTTL  = 30 * time.Second
	defaultQueueCapacity = 1024

	envListenAddr     = "TETHER_LISTEN_ADDR"
	envDBPath         = "TETHER_DB_PATH"
	envLogLevel       = "TETHER_LOG_LEVEL"
	envSweepInterval  = "TETHER_SWEEP_INTERVAL"
	envDefaultTimeout = "TETHER_DEFAULT_TIMEOUT"
	envQueueCapacity  = "TETHER_QUEUE_CAPACITY"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr     string
	DBPath         string
	LogLevel       slog.Level
	SweepInterval  time.Duration
	DefaultTimeout time.Duration
	QueueCapacity  int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:     defaultListenAddr,
		DBPath:         defaultDBPath,
		LogLevel:       slog.LevelInfo,
		SweepInterval:  defaultSweepInterval,
		DefaultTimeout: defaultOperationTTL,
		QueueCapacity:  defaultQueueCapacity,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envSweepInterval); v != "" {
		cfg.SweepInterval = parseDuration(v, defaultSweepInterval)
	}
	if v := os.Getenv(envDefaultTimeout); v != "" {
		cfg.DefaultTimeout = parseDuration(v, defaultOperationTTL)
	}
	if v := os.Getenv(envQueueCapacity); v != "" {
		cfg.QueueCapacity = parsePositiveInt(v, defaultQueueCapacity)
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parsePositiveInt(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

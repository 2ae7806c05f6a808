package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Dispatcher busy-policy constants. Under "queue" a unit waits for its
// target's lock; under "reject" submission fails with TargetBusy.
const (
	BusyPolicyQueue  = "queue"
	BusyPolicyReject = "reject"
)

// Report sink constants.
const (
	ReportSinkLog     = "log"
	ReportSinkWebhook = "webhook"
	ReportSinkNATS    = "nats"
)

const (
	defaultListenAddr     = ":8080"
	defaultDBPath         = "warden.db"
	defaultMaxConcurrent  = 8
	defaultTickInterval   = 60 * time.Second
	defaultCheckTimeout   = 30 * time.Second
	defaultAbortThreshold = 3
	defaultReportRetries  = 5

	envListenAddr     = "WARDEN_LISTEN_ADDR"
	envDBPath         = "WARDEN_DB_PATH"
	envLogLevel       = "WARDEN_LOG_LEVEL"
	envMaxConcurrent  = "WARDEN_MAX_CONCURRENT"
	envTickInterval   = "WARDEN_TICK_INTERVAL_S"
	envCheckTimeout   = "WARDEN_CHECK_TIMEOUT_S"
	envJobTimeout     = "WARDEN_JOB_TIMEOUT_S"
	envAbortThreshold = "WARDEN_ABORT_THRESHOLD"
	envBusyPolicy     = "WARDEN_BUSY_POLICY"
	envCatalogPath    = "WARDEN_CATALOG_PATH"
	envReportSink     = "WARDEN_REPORT_SINK"
	envReportURL      = "WARDEN_REPORT_URL"
	envNATSURL        = "WARDEN_NATS_URL"
	envReportRetries  = "WARDEN_REPORT_RETRIES"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// MaxConcurrent bounds the number of execution units running at once.
	MaxConcurrent int
	// TickInterval is the scheduler poll period.
	TickInterval time.Duration
	// CheckTimeout applies to checks that do not declare their own timeout.
	CheckTimeout time.Duration
	// JobTimeout is the wall-clock ceiling for a whole job; zero disables it.
	JobTimeout time.Duration
	// AbortThreshold is the consecutive error/timeout count that aborts a
	// unit early; zero disables early abort.
	AbortThreshold int
	// BusyPolicy decides whether units queue on a busy target or reject.
	BusyPolicy string

	// CatalogPath optionally points at a YAML seed file for targets,
	// definitions, and schedule rules.
	CatalogPath string

	ReportSink    string
	ReportURL     string
	NATSURL       string
	ReportRetries int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:     defaultListenAddr,
		DBPath:         defaultDBPath,
		LogLevel:       slog.LevelInfo,
		MaxConcurrent:  defaultMaxConcurrent,
		TickInterval:   defaultTickInterval,
		CheckTimeout:   defaultCheckTimeout,
		AbortThreshold: defaultAbortThreshold,
		BusyPolicy:     BusyPolicyQueue,
		ReportSink:     ReportSinkLog,
		ReportRetries:  defaultReportRetries,
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
	if v := parseIntEnv(envMaxConcurrent); v > 0 {
		cfg.MaxConcurrent = v
	}
	if v := parseIntEnv(envTickInterval); v > 0 {
		cfg.TickInterval = time.Duration(v) * time.Second
	}
	if v := parseIntEnv(envCheckTimeout); v > 0 {
		cfg.CheckTimeout = time.Duration(v) * time.Second
	}
	if v := parseIntEnv(envJobTimeout); v > 0 {
		cfg.JobTimeout = time.Duration(v) * time.Second
	}
	if v := parseIntEnv(envAbortThreshold); v > 0 {
		cfg.AbortThreshold = v
	}
	if v := os.Getenv(envBusyPolicy); v == BusyPolicyReject || v == BusyPolicyQueue {
		cfg.BusyPolicy = v
	}
	if v := os.Getenv(envCatalogPath); v != "" {
		cfg.CatalogPath = v
	}
	if v := os.Getenv(envReportSink); v != "" {
		switch v {
		case ReportSinkLog, ReportSinkWebhook, ReportSinkNATS:
			cfg.ReportSink = v
		}
	}
	if v := os.Getenv(envReportURL); v != "" {
		cfg.ReportURL = v
	}
	if v := os.Getenv(envNATSURL); v != "" {
		cfg.NATSURL = v
	}
	if v := parseIntEnv(envReportRetries); v > 0 {
		cfg.ReportRetries = v
	}

	return cfg
}

// parseIntEnv returns the integer value of the named variable, or 0 when
// unset or unparseable.
func parseIntEnv(key string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
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

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

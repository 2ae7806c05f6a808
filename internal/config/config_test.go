package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.DBPath != "warden.db" {
		t.Errorf("DBPath = %q, want warden.db", cfg.DBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if cfg.MaxConcurrent != 8 {
		t.Errorf("MaxConcurrent = %d, want 8", cfg.MaxConcurrent)
	}
	if cfg.TickInterval != 60*time.Second {
		t.Errorf("TickInterval = %v, want 60s", cfg.TickInterval)
	}
	if cfg.CheckTimeout != 30*time.Second {
		t.Errorf("CheckTimeout = %v, want 30s", cfg.CheckTimeout)
	}
	if cfg.JobTimeout != 0 {
		t.Errorf("JobTimeout = %v, want disabled", cfg.JobTimeout)
	}
	if cfg.AbortThreshold != 3 {
		t.Errorf("AbortThreshold = %d, want 3", cfg.AbortThreshold)
	}
	if cfg.BusyPolicy != BusyPolicyQueue {
		t.Errorf("BusyPolicy = %q, want queue", cfg.BusyPolicy)
	}
	if cfg.ReportSink != ReportSinkLog {
		t.Errorf("ReportSink = %q, want log", cfg.ReportSink)
	}
	if cfg.ReportRetries != 5 {
		t.Errorf("ReportRetries = %d, want 5", cfg.ReportRetries)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WARDEN_LISTEN_ADDR", ":9999")
	t.Setenv("WARDEN_DB_PATH", "/tmp/test.db")
	t.Setenv("WARDEN_LOG_LEVEL", "debug")
	t.Setenv("WARDEN_MAX_CONCURRENT", "2")
	t.Setenv("WARDEN_TICK_INTERVAL_S", "5")
	t.Setenv("WARDEN_CHECK_TIMEOUT_S", "10")
	t.Setenv("WARDEN_JOB_TIMEOUT_S", "120")
	t.Setenv("WARDEN_ABORT_THRESHOLD", "1")
	t.Setenv("WARDEN_BUSY_POLICY", "reject")
	t.Setenv("WARDEN_REPORT_SINK", "webhook")
	t.Setenv("WARDEN_REPORT_URL", "http://reports.local/hook")
	t.Setenv("WARDEN_REPORT_RETRIES", "2")

	cfg := Load()

	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q, want :9999", cfg.ListenAddr)
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want /tmp/test.db", cfg.DBPath)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %d, want 2", cfg.MaxConcurrent)
	}
	if cfg.TickInterval != 5*time.Second {
		t.Errorf("TickInterval = %v, want 5s", cfg.TickInterval)
	}
	if cfg.CheckTimeout != 10*time.Second {
		t.Errorf("CheckTimeout = %v, want 10s", cfg.CheckTimeout)
	}
	if cfg.JobTimeout != 120*time.Second {
		t.Errorf("JobTimeout = %v, want 120s", cfg.JobTimeout)
	}
	if cfg.AbortThreshold != 1 {
		t.Errorf("AbortThreshold = %d, want 1", cfg.AbortThreshold)
	}
	if cfg.BusyPolicy != BusyPolicyReject {
		t.Errorf("BusyPolicy = %q, want reject", cfg.BusyPolicy)
	}
	if cfg.ReportSink != ReportSinkWebhook {
		t.Errorf("ReportSink = %q, want webhook", cfg.ReportSink)
	}
	if cfg.ReportURL != "http://reports.local/hook" {
		t.Errorf("ReportURL = %q", cfg.ReportURL)
	}
	if cfg.ReportRetries != 2 {
		t.Errorf("ReportRetries = %d, want 2", cfg.ReportRetries)
	}
}

func TestLoadIgnoresInvalidValues(t *testing.T) {
	t.Setenv("WARDEN_MAX_CONCURRENT", "not-a-number")
	t.Setenv("WARDEN_BUSY_POLICY", "sometimes")
	t.Setenv("WARDEN_REPORT_SINK", "carrier-pigeon")
	t.Setenv("WARDEN_LOG_LEVEL", "loud")

	cfg := Load()

	if cfg.MaxConcurrent != 8 {
		t.Errorf("MaxConcurrent = %d, want default 8", cfg.MaxConcurrent)
	}
	if cfg.BusyPolicy != BusyPolicyQueue {
		t.Errorf("BusyPolicy = %q, want default queue", cfg.BusyPolicy)
	}
	if cfg.ReportSink != ReportSinkLog {
		t.Errorf("ReportSink = %q, want default log", cfg.ReportSink)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want default info", cfg.LogLevel)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.SessionIdleTimeout != 0 {
		t.Fatalf("SessionIdleTimeout = %v, want disabled", cfg.SessionIdleTimeout)
	}
	if cfg.Location != time.UTC {
		t.Fatalf("Location = %v, want UTC", cfg.Location)
	}
	if cfg.MQURL != "" || cfg.RedisAddr != "" || cfg.DatabaseURL != "" {
		t.Fatalf("external backends should default to unset: %+v", cfg)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("ROUTINE_SESSION_IDLE_TIMEOUT", "45m")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("APP_TIMEZONE", "Europe/Rome")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" || cfg.SessionIdleTimeout != 45*time.Minute || !cfg.AllowAnyOrigin || cfg.RedisDB != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Location.String() != "Europe/Rome" {
		t.Fatalf("Location = %v, want Europe/Rome", cfg.Location)
	}
}

func TestLoadFileOverlayYieldsToEnvironment(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "habitbot.yaml")
	body := "APP_BIND_ADDR: \":7070\"\nREDIS_DB: 3\nLOG_LEVEL: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":7070" || cfg.RedisDB != 3 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("LogLevel = %q, want env override warn", cfg.LogLevel)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"ROUTINE_SESSION_IDLE_TIMEOUT": "10s",
		"ROUTINE_LINK_TIMEOUT":         "soon",
		"APP_ALLOW_ANY_ORIGIN":         "maybe",
		"APP_TIMEZONE":                 "Mars/Olympus",
		"REDIS_DB":                     "-1",
	}
	for key, value := range cases {
		setCoreEnvEmpty(t)
		t.Setenv(key, value)
		if _, err := Load(); err == nil {
			t.Fatalf("Load() with %s=%q expected error", key, value)
		}
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_CONFIG_FILE",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_TIMEZONE",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"DATABASE_URL",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"DEDUPE_TTL",
		"MQ_URL",
		"MQ_EXCHANGE",
		"ROUTINE_SESSION_IDLE_TIMEOUT",
		"ROUTINE_JANITOR_INTERVAL",
		"ROUTINE_LINK_TIMEOUT",
		"ROUTINE_PERSIST_TIMEOUT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

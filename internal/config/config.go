package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the routine bot service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	Timezone         string
	Location         *time.Location

	LogLevel  string
	LogFormat string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DedupeTTL     time.Duration

	MQURL      string
	MQExchange string

	SessionIdleTimeout time.Duration
	JanitorInterval    time.Duration
	LinkTimeout        time.Duration
	PersistTimeout     time.Duration
}

// Load reads environment variables and applies safe defaults. When
// APP_CONFIG_FILE names a YAML file of KEY: value pairs, its entries fill in
// any variable the environment leaves unset.
func Load() (Config, error) {
	src := source{}
	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		file, err := loadFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = file
	}

	cfg := Config{
		BindAddr:         src.orDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: src.orDefault("APP_METRICS_NAMESPACE", "habitbot"),
		Timezone:         src.orDefault("APP_TIMEZONE", "UTC"),
		LogLevel:         src.orDefault("LOG_LEVEL", "info"),
		LogFormat:        src.orDefault("LOG_FORMAT", "json"),
		DatabaseURL:      src.get("DATABASE_URL"),
		RedisAddr:        src.get("REDIS_ADDR"),
		RedisPassword:    src.get("REDIS_PASSWORD"),
		MQURL:            src.get("MQ_URL"),
		MQExchange:       src.orDefault("MQ_EXCHANGE", "habitbot.events"),
		ShutdownTimeout:  15 * time.Second,
		DedupeTTL:        10 * time.Minute,
		JanitorInterval:  time.Minute,
		LinkTimeout:      5 * time.Second,
		PersistTimeout:   10 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = src.duration("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = src.boolean("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RedisDB, err = src.integer("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return Config{}, err
	}
	cfg.DedupeTTL, err = src.duration("DEDUPE_TTL", cfg.DedupeTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = src.duration("ROUTINE_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.JanitorInterval, err = src.duration("ROUTINE_JANITOR_INTERVAL", cfg.JanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.LinkTimeout, err = src.duration("ROUTINE_LINK_TIMEOUT", cfg.LinkTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.PersistTimeout, err = src.duration("ROUTINE_PERSIST_TIMEOUT", cfg.PersistTimeout)
	if err != nil {
		return Config{}, err
	}

	cfg.Location, err = time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Config{}, fmt.Errorf("APP_TIMEZONE: %w", err)
	}
	if cfg.SessionIdleTimeout < 0 {
		return Config{}, fmt.Errorf("ROUTINE_SESSION_IDLE_TIMEOUT must be >= 0")
	}
	if cfg.SessionIdleTimeout > 0 && cfg.SessionIdleTimeout < time.Minute {
		return Config{}, fmt.Errorf("ROUTINE_SESSION_IDLE_TIMEOUT must be 0 (disabled) or at least 1m")
	}
	if cfg.JanitorInterval <= 0 {
		return Config{}, fmt.Errorf("ROUTINE_JANITOR_INTERVAL must be positive")
	}
	if cfg.LinkTimeout <= 0 || cfg.PersistTimeout <= 0 {
		return Config{}, fmt.Errorf("ROUTINE_LINK_TIMEOUT and ROUTINE_PERSIST_TIMEOUT must be positive")
	}
	if cfg.RedisDB < 0 {
		return Config{}, fmt.Errorf("REDIS_DB must be >= 0")
	}

	return cfg, nil
}

func loadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	out := map[string]string{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return out, nil
}

// source resolves a key from the environment first, then the config file.
type source struct {
	file map[string]string
}

func (s source) get(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(s.file[key])
}

func (s source) orDefault(key, fallback string) string {
	v := s.get(key)
	if v == "" {
		return fallback
	}
	return v
}

func (s source) duration(key string, fallback time.Duration) (time.Duration, error) {
	v := s.get(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func (s source) integer(key string, fallback int) (int, error) {
	v := s.get(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func (s source) boolean(key string, fallback bool) (bool, error) {
	v := strings.ToLower(s.get(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

// Package config reads runtime settings from the environment, loading a
// local .env file first when one exists.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

// Config stores runtime configuration for the service.
type Config struct {
	AppEnv         string
	Addr           string
	DBPath         string
	TrustedProxies []string
	SessionTTL     time.Duration
	CookieSecure   bool
	LogLevel       string
	LogFile        string

	// ImportCommitMode is "per-row" (each row commits on its own) or
	// "batch" (the whole import is one transaction).
	ImportCommitMode string

	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (Config, error) {
	cfg := Config{
		AppEnv:           env("APP_ENV", "production"),
		Addr:             env("ADDR", ":8080"),
		DBPath:           env("DB_PATH", "data/data.db"),
		TrustedProxies:   splitList(env("TRUSTED_PROXIES", "127.0.0.1,::1")),
		LogLevel:         env("LOG_LEVEL", "info"),
		LogFile:          os.Getenv("LOG_FILE"),
		ImportCommitMode: env("IMPORT_COMMIT_MODE", "per-row"),
	}

	var err error
	if cfg.SessionTTL, err = durationEnv("SESSION_TTL", 30*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RetryBaseDelay, err = durationEnv("DB_RETRY_BASE_DELAY", 50*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.RetryAttempts, err = intEnv("DB_RETRY_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	// Secure outside development unless set explicitly
	cfg.CookieSecure = boolEnv("COOKIE_SECURE", !cfg.IsDevelopment())

	switch cfg.ImportCommitMode {
	case "per-row", "batch":
	default:
		return Config{}, errors.Newf("IMPORT_COMMIT_MODE must be per-row or batch, got %q", cfg.ImportCommitMode)
	}
	if cfg.RetryAttempts < 1 {
		return Config{}, errors.Newf("DB_RETRY_ATTEMPTS must be >= 1, got %d", cfg.RetryAttempts)
	}
	return cfg, nil
}

// IsDevelopment is true for APP_ENV=development|dev|local.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "development", "dev", "local":
		return true
	}
	return false
}

func env(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, errors.Newf("%s: invalid duration %q", k, v)
	}
	return d, nil
}

func intEnv(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "%s", k)
	}
	return n, nil
}

func boolEnv(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}

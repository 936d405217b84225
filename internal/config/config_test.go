package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.KVOpTimeout != 250*time.Millisecond {
		t.Fatalf("KVOpTimeout = %v", cfg.KVOpTimeout)
	}
	if cfg.SpamWindow != 10*time.Second || cfg.SpamThreshold != 5 {
		t.Fatalf("spam guard = %v/%d", cfg.SpamWindow, cfg.SpamThreshold)
	}
	if cfg.CacheNamespace != "cache" || cfg.DBDriver != "sqlite" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "REDIS_ADDR=file:6379\nBOT_DEV_ID=42\nLOCALES=en,ru\nSPAM_WINDOW=30s\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REDIS_ADDR", "env:6379")
	t.Setenv("REDIS_PASSWORD", "hunter2")
	// godotenv sets what the file defines; drop those once the test ends.
	for _, k := range []string{"BOT_DEV_ID", "LOCALES", "SPAM_WINDOW"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := Load(envFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RedisAddr != "env:6379" {
		t.Fatalf("RedisAddr = %q, want process env to win", cfg.RedisAddr)
	}
	if cfg.BotDevID != 42 || cfg.SpamWindow != 30*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if !slices.Equal(cfg.Locales, []string{"en", "ru"}) {
		t.Fatalf("Locales = %v", cfg.Locales)
	}

	s := cfg.String()
	if strings.Contains(s, "hunter2") || !strings.Contains(s, "RedisPassword: ********") {
		t.Fatalf("password not masked:%s", s)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("SPAM_THRESHOLD", "0")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("expected validation error")
	}
}

// Package config reads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	DBDriver string `mapstructure:"DB_DRIVER"`
	DBDSN    string `mapstructure:"DB_DSN"`

	BotDevID      int64    `mapstructure:"BOT_DEV_ID"`
	DefaultLocale string   `mapstructure:"DEFAULT_LOCALE"`
	Locales       []string `mapstructure:"LOCALES"`

	CacheNamespace string        `mapstructure:"CACHE_NAMESPACE"`
	KVOpTimeout    time.Duration `mapstructure:"KV_OP_TIMEOUT"`
	L1MaxCost      int64         `mapstructure:"L1_MAX_COST"`

	SpamWindow    time.Duration `mapstructure:"SPAM_WINDOW"`
	SpamThreshold int64         `mapstructure:"SPAM_THRESHOLD"`

	MetricsAddr string `mapstructure:"METRICS_ADDR"`
}

var defaults = map[string]any{
	"REDIS_ADDR":      "localhost:6379",
	"REDIS_DB":        0,
	"DB_DRIVER":       "sqlite",
	"DB_DSN":          "rawrcache.db",
	"DEFAULT_LOCALE":  "en",
	"LOCALES":         []string{"en"},
	"CACHE_NAMESPACE": "cache",
	"KV_OP_TIMEOUT":   250 * time.Millisecond,
	"L1_MAX_COST":     0,
	"SPAM_WINDOW":     10 * time.Second,
	"SPAM_THRESHOLD":  5,
	"METRICS_ADDR":    ":9090",
}

// Load reads the environment. When envFile exists it is loaded first;
// variables already set in the process win over it. An empty envFile means
// ".env".
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	for _, k := range []string{"REDIS_PASSWORD", "BOT_DEV_ID"} {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is empty"))
	}
	if c.DBDSN == "" {
		errs = append(errs, errors.New("DB_DSN is empty"))
	}
	if c.KVOpTimeout <= 0 {
		errs = append(errs, errors.New("KV_OP_TIMEOUT must be positive"))
	}
	if c.SpamThreshold < 1 {
		errs = append(errs, errors.New("SPAM_THRESHOLD must be at least 1"))
	}
	return errors.Join(errs...)
}

// String prints the configuration with secrets masked.
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  RedisAddr: %s\n", c.RedisAddr)
	if c.RedisPassword != "" {
		sb.WriteString("  RedisPassword: ********\n")
	} else {
		sb.WriteString("  RedisPassword: (empty)\n")
	}
	fmt.Fprintf(&sb, "  RedisDB: %d\n", c.RedisDB)
	fmt.Fprintf(&sb, "  DBDriver: %s\n", c.DBDriver)
	if c.DBDSN != "" && c.DBDriver != "sqlite" {
		sb.WriteString("  DBDSN: ********\n")
	} else {
		fmt.Fprintf(&sb, "  DBDSN: %s\n", c.DBDSN)
	}
	fmt.Fprintf(&sb, "  BotDevID: %d\n", c.BotDevID)
	fmt.Fprintf(&sb, "  DefaultLocale: %s\n", c.DefaultLocale)
	fmt.Fprintf(&sb, "  Locales: %s\n", strings.Join(c.Locales, ","))
	fmt.Fprintf(&sb, "  CacheNamespace: %s\n", c.CacheNamespace)
	fmt.Fprintf(&sb, "  KVOpTimeout: %s\n", c.KVOpTimeout)
	fmt.Fprintf(&sb, "  L1MaxCost: %d\n", c.L1MaxCost)
	fmt.Fprintf(&sb, "  SpamWindow: %s\n", c.SpamWindow)
	fmt.Fprintf(&sb, "  SpamThreshold: %d\n", c.SpamThreshold)
	fmt.Fprintf(&sb, "  MetricsAddr: %s\n", c.MetricsAddr)
	return sb.String()
}

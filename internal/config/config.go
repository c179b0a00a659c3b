// Package config loads service configuration from an optional YAML file and
// KICKHOOK_ environment variables, falling back to defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/kickhook/internal/actions"
)

const (
	// EnvPrefix prefixes every environment override. A double underscore
	// separates path segments: KICKHOOK_SERVER__WEBHOOK_PATH.
	EnvPrefix = "KICKHOOK_"

	// PathEnv names the config file; config.yaml when unset.
	PathEnv = "KICKHOOK_CONFIG"

	DefaultPath = "config.yaml"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Webhook   WebhookConfig   `koanf:"webhook"`
	Bot       BotConfig       `koanf:"bot"`
	Keyword   KeywordConfig   `koanf:"keyword"`
	Storage   StorageConfig   `koanf:"storage"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Log       LogConfig       `koanf:"log"`
	Actions   ActionsConfig   `koanf:"actions"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	WebhookPath    string        `koanf:"webhook_path"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type WebhookConfig struct {
	ProcessingEnabled bool `koanf:"processing_enabled"`
	// VerifySignatures is accepted but not enforced yet.
	VerifySignatures bool `koanf:"verify_signatures"`
}

type BotConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

type KeywordConfig struct {
	Trigger string            `koanf:"trigger"`
	URL     string            `koanf:"url"`
	Timeout time.Duration     `koanf:"timeout"`
	Headers map[string]string `koanf:"headers"`
}

// Storage types.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
)

type StorageConfig struct {
	Type   string       `koanf:"type"`
	SQLite SQLiteConfig `koanf:"sqlite"`
	Redis  RedisConfig  `koanf:"redis"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ActionsConfig holds the unvalidated per-event action options. They are
// validated by actions.Load so that bad values fall back to defaults
// instead of failing startup.
type ActionsConfig struct {
	Follow              map[string]any `koanf:"follow"`
	NewSubscription     map[string]any `koanf:"new_subscription"`
	SubscriptionRenewal map[string]any `koanf:"subscription_renewal"`
	GiftedSubscription  map[string]any `koanf:"gifted_subscription"`
}

func (a ActionsConfig) Raw() actions.Raw {
	return actions.Raw{
		Follow:              a.Follow,
		NewSubscription:     a.NewSubscription,
		SubscriptionRenewal: a.SubscriptionRenewal,
		GiftedSubscription:  a.GiftedSubscription,
	}
}

var defaults = map[string]any{
	"server.port":                8080,
	"server.webhook_path":        "/webhooks/kick",
	"server.request_timeout":     "30s",
	"webhook.processing_enabled": true,
	"webhook.verify_signatures":  false,
	"bot.base_url":               "",
	"bot.timeout":                "10s",
	"keyword.trigger":            "!dex",
	"keyword.url":                "",
	"keyword.timeout":            "5s",
	"storage.type":               StorageNone,
	"storage.sqlite.path":        "./data/kickhook.db",
	"storage.redis.addr":         "localhost:6379",
	"storage.redis.db":           0,
	"storage.redis.key_prefix":   "kickhook:",
	"telemetry.enabled":          false,
	"telemetry.service_name":     "kickhook",
	"log.level":                  "info",
}

// Load reads path (or $KICKHOOK_CONFIG, or config.yaml) when it exists, then
// applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path == "" {
		path = DefaultPath
	}

	k := koanf.New(".")

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config file %s: %w", path, err)
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, value); err != nil {
				return nil, fmt.Errorf("set default %s: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envValue maps KICKHOOK_A__B_C to a.b_c. Action options are typed here
// because they are validated strictly later and env values are strings.
func envValue(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if key == "config" {
		return "", nil
	}
	if strings.HasPrefix(key, "actions.") {
		if b, err := strconv.ParseBool(value); err == nil {
			return key, b
		}
		if n, err := strconv.Atoi(value); err == nil {
			return key, n
		}
	}
	return key, value
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: out of range: %d", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.WebhookPath, "/") {
		errs = append(errs, fmt.Errorf("server.webhook_path: must start with /: %q", c.Server.WebhookPath))
	}
	if c.Server.WebhookPath == "/health" {
		errs = append(errs, errors.New("server.webhook_path: conflicts with the health endpoint"))
	}
	switch c.Storage.Type {
	case StorageNone, StorageMemory:
	case StorageSQLite:
		if c.Storage.SQLite.Path == "" {
			errs = append(errs, errors.New("storage.sqlite.path: required for sqlite storage"))
		}
	case StorageRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr: required for redis storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type: unknown type %q", c.Storage.Type))
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

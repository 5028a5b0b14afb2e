// ABOUTME: Service configuration loaded from .env, environment and an optional YAML file
// ABOUTME: Resolves defaults and validates the keys each command needs
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Lock backends.
const (
	LockRedis  = "redis"
	LockSQLite = "sqlite"
	LockMemory = "memory"
	LockNone   = "none"
)

type Config struct {
	Google  GoogleConfig
	Amo     AmoConfig
	App     AppConfig
	Log     LogConfig
	Webhook WebhookConfig
	Lock    LockConfig
	Redis   RedisConfig
	Sync    SyncConfig
	Retry   RetryConfig
	StateDB string
}

type GoogleConfig struct {
	ServiceAccountJSON string
	SpreadsheetID      string
	WorksheetName      string
}

type AmoConfig struct {
	BaseURL     string
	AccessToken string
	PipelineID  int64
	StatusID    int64
}

type AppConfig struct {
	Host string
	Port int
}

// Addr is the listen address for the HTTP server.
func (a AppConfig) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

type WebhookConfig struct {
	Secret string
}

type LockConfig struct {
	Backend string
}

type RedisConfig struct {
	Host     string
	Port     int
	DB       int
	Password string
}

func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

type SyncConfig struct {
	LockTTL         time.Duration
	CreationLockTTL time.Duration
	CreationWait    time.Duration
	ImportOnStart   bool
}

type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// bindings maps config keys to the environment variables of the deployment.
var bindings = map[string]string{
	"google.service_account_json": "GOOGLE_SERVICE_ACCOUNT_JSON",
	"google.spreadsheet_id":       "GOOGLE_SPREADSHEET_ID",
	"google.worksheet_name":       "GOOGLE_WORKSHEET_NAME",
	"amo.base_url":                "AMO_BASE_URL",
	"amo.access_token":            "AMO_ACCESS_TOKEN",
	"amo.pipeline_id":             "AMO_PIPELINE_ID",
	"amo.status_id":               "AMO_STATUS_ID",
	"app.host":                    "APP_HOST",
	"app.port":                    "APP_PORT",
	"log.level":                   "LOG_LEVEL",
	"log.format":                  "LOG_FORMAT",
	"log.file":                    "LOG_FILE",
	"webhook.secret":              "WEBHOOK_SECRET",
	"lock.backend":                "LOCK_BACKEND",
	"redis.host":                  "REDIS_HOST",
	"redis.port":                  "REDIS_PORT",
	"redis.db":                    "REDIS_DB",
	"redis.password":              "REDIS_PASSWORD",
	"sync.lock_ttl":               "SYNC_LOCK_TTL",
	"sync.creation_lock_ttl":      "CREATION_LOCK_TTL",
	"sync.creation_wait":          "CREATION_WAIT",
	"sync.import_on_start":        "IMPORT_ON_START",
	"retry.attempts":              "RETRY_ATTEMPTS",
	"retry.base_delay":            "RETRY_BASE_DELAY",
	"retry.max_delay":             "RETRY_MAX_DELAY",
	"state.db":                    "STATE_DB",
}

// DefaultStateDB is the sqlite state database under the XDG data directory.
func DefaultStateDB() string {
	return filepath.Join(xdg.DataHome, "leadbridge", "state.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("google.service_account_json", "./secrets/service-account.json")
	v.SetDefault("google.spreadsheet_id", "")
	v.SetDefault("google.worksheet_name", "Лист1")
	v.SetDefault("amo.base_url", "https://example.amocrm.ru")
	v.SetDefault("amo.access_token", "")
	v.SetDefault("amo.pipeline_id", 0)
	v.SetDefault("amo.status_id", 0)
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("lock.backend", LockRedis)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("sync.lock_ttl", "10s")
	v.SetDefault("sync.creation_lock_ttl", "10s")
	v.SetDefault("sync.creation_wait", "3s")
	v.SetDefault("sync.import_on_start", true)
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.base_delay", "2s")
	v.SetDefault("retry.max_delay", "10s")
	v.SetDefault("state.db", DefaultStateDB())
}

// Load reads .env (if present), the environment and, when configFile is
// non-empty, a YAML config file. Environment values win over the file.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Google: GoogleConfig{
			ServiceAccountJSON: v.GetString("google.service_account_json"),
			SpreadsheetID:      v.GetString("google.spreadsheet_id"),
			WorksheetName:      v.GetString("google.worksheet_name"),
		},
		Amo: AmoConfig{
			BaseURL:     strings.TrimRight(v.GetString("amo.base_url"), "/"),
			AccessToken: v.GetString("amo.access_token"),
			PipelineID:  v.GetInt64("amo.pipeline_id"),
			StatusID:    v.GetInt64("amo.status_id"),
		},
		App: AppConfig{
			Host: v.GetString("app.host"),
			Port: v.GetInt("app.port"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
			File:   v.GetString("log.file"),
		},
		Webhook: WebhookConfig{Secret: v.GetString("webhook.secret")},
		Lock:    LockConfig{Backend: strings.ToLower(v.GetString("lock.backend"))},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			DB:       v.GetInt("redis.db"),
			Password: v.GetString("redis.password"),
		},
		Sync:    SyncConfig{ImportOnStart: v.GetBool("sync.import_on_start")},
		Retry:   RetryConfig{Attempts: v.GetInt("retry.attempts")},
		StateDB: v.GetString("state.db"),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"sync.lock_ttl", &cfg.Sync.LockTTL},
		{"sync.creation_lock_ttl", &cfg.Sync.CreationLockTTL},
		{"sync.creation_wait", &cfg.Sync.CreationWait},
		{"retry.base_delay", &cfg.Retry.BaseDelay},
		{"retry.max_delay", &cfg.Retry.MaxDelay},
	}
	for _, d := range durations {
		parsed, err := ParseSeconds(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	return cfg, nil
}

// ParseSeconds accepts a Go duration ("10s", "1m") or a bare integer number
// of seconds ("10").
func ParseSeconds(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(raw)
}

// Validate reports every missing or invalid key at once. Serving also needs
// the webhook secret.
func (c *Config) Validate(forServe bool) error {
	var errs []error
	if c.Google.SpreadsheetID == "" {
		errs = append(errs, errors.New("GOOGLE_SPREADSHEET_ID is required"))
	}
	if c.Amo.AccessToken == "" {
		errs = append(errs, errors.New("AMO_ACCESS_TOKEN is required"))
	}
	if c.Amo.BaseURL == "" {
		errs = append(errs, errors.New("AMO_BASE_URL is required"))
	}
	if forServe && c.Webhook.Secret == "" {
		errs = append(errs, errors.New("WEBHOOK_SECRET is required"))
	}

	switch c.Lock.Backend {
	case LockRedis, LockSQLite, LockMemory, LockNone:
	default:
		errs = append(errs, fmt.Errorf("unknown LOCK_BACKEND %q", c.Lock.Backend))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.Log.Format))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, errors.New("RETRY_ATTEMPTS must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

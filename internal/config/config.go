package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "configs/config.yaml"

// Config holds all application configuration.
type Config struct {
	Schedule struct {
		Cron       string        `yaml:"cron"`
		Timezone   string        `yaml:"timezone"`
		Enabled    *bool         `yaml:"enabled"`
		RunTimeout time.Duration `yaml:"run_timeout"`
	} `yaml:"schedule"`
	Storage struct {
		Driver      string `yaml:"driver"`
		SQLitePath  string `yaml:"sqlite_path"`
		DataDir     string `yaml:"data_dir"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"storage"`
	Ledger struct {
		Writer        string        `yaml:"writer"`
		BeancountFile string        `yaml:"beancount_file"`
		BaseURL       string        `yaml:"base_url"`
		APIKey        string        `yaml:"api_key"`
		Timeout       time.Duration `yaml:"timeout"`
	} `yaml:"ledger"`
	Telegram struct {
		BotToken   string  `yaml:"bot_token"`
		ChatID     string  `yaml:"chat_id"`
		RatePerSec float64 `yaml:"rate_per_sec"`
	} `yaml:"telegram"`
	API struct {
		Listen string `yaml:"listen"`
	} `yaml:"api"`
	Log struct {
		Level   string `yaml:"level"`
		Console bool   `yaml:"console"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// ScheduleEnabled reports whether the daily timer should run. Defaults to true.
func (c *Config) ScheduleEnabled() bool {
	return c.Schedule.Enabled == nil || *c.Schedule.Enabled
}

// Location resolves schedule.timezone, falling back to local time.
func (c *Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Schedule.Timezone)
}

// TelegramEnabled reports whether the notifier is configured.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}

// Path returns CONFIG_PATH or DefaultPath.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads config from a YAML file, then applies environment variable overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("RECUR_CRON", &cfg.Schedule.Cron)
	setString("RECUR_TIMEZONE", &cfg.Schedule.Timezone)
	setString("STORAGE_DRIVER", &cfg.Storage.Driver)
	setString("SQLITE_PATH", &cfg.Storage.SQLitePath)
	setString("DATA_DIR", &cfg.Storage.DataDir)
	setString("POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	setString("LEDGER_WRITER", &cfg.Ledger.Writer)
	setString("BEANCOUNT_FILE", &cfg.Ledger.BeancountFile)
	setString("LEDGER_BASE_URL", &cfg.Ledger.BaseURL)
	setString("LEDGER_API_KEY", &cfg.Ledger.APIKey)
	setString("TELEGRAM_BOT_TOKEN", &cfg.Telegram.BotToken)
	setString("TELEGRAM_CHAT_ID", &cfg.Telegram.ChatID)
	setString("API_LISTEN", &cfg.API.Listen)
	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("HTTPS_PROXY", &cfg.Proxy)

	if v := os.Getenv("RECUR_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Schedule.Enabled = &b
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Schedule.Cron == "" {
		cfg.Schedule.Cron = "0 0 12 * * *"
	}
	if cfg.Schedule.RunTimeout == 0 {
		cfg.Schedule.RunTimeout = 5 * time.Minute
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/recurledger.db"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Ledger.Writer == "" {
		cfg.Ledger.Writer = "beancount"
	}
	if cfg.Ledger.BeancountFile == "" {
		cfg.Ledger.BeancountFile = "data/main.bean"
	}
	if cfg.Ledger.Timeout == 0 {
		cfg.Ledger.Timeout = 30 * time.Second
	}
	if cfg.Telegram.RatePerSec == 0 {
		cfg.Telegram.RatePerSec = 1
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

var specParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks that all required fields are set and consistent.
func (c *Config) Validate() error {
	if _, err := specParser.Parse(c.Schedule.Cron); err != nil {
		return fmt.Errorf("schedule.cron: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	if c.Schedule.RunTimeout < 0 {
		return fmt.Errorf("schedule.run_timeout must not be negative")
	}
	switch c.Storage.Driver {
	case "sqlite", "file", "json", "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	switch c.Ledger.Writer {
	case "beancount":
	case "remote":
		if c.Ledger.BaseURL == "" {
			return fmt.Errorf("ledger.base_url is required for the remote writer")
		}
	default:
		return fmt.Errorf("ledger.writer %q is not supported", c.Ledger.Writer)
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	return nil
}

// Package config provides configuration management for the fund alert service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"fundwatch/internal/logging"
	"fundwatch/pkg/utils"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Store     StoreConfig       `mapstructure:"store"`
	Scheduler SchedulerConfig   `mapstructure:"scheduler"`
	Feeds     FeedsConfig       `mapstructure:"feeds"`
	Push      PushConfig        `mapstructure:"push"`
	Redis     RedisConfig       `mapstructure:"redis"`
	Auth      AuthConfig        `mapstructure:"auth"`
	Chat      ChatConfig        `mapstructure:"chat"`
	Audit     AuditConfig       `mapstructure:"audit"`
	Log       logging.LogConfig `mapstructure:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig holds database settings.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig holds alert scheduler settings.
type SchedulerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	FetchPause  time.Duration `mapstructure:"fetch_pause"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	WindowStart string        `mapstructure:"window_start"` // HH:MM
	WindowEnd   string        `mapstructure:"window_end"`   // HH:MM
	Timezone    string        `mapstructure:"timezone"`
	Workers     int           `mapstructure:"workers"`
}

// FeedsConfig holds external market data source settings.
type FeedsConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	QuoteURL         string        `mapstructure:"quote_url"`
	ConfirmationURL  string        `mapstructure:"confirmation_url"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	RateLimit        float64       `mapstructure:"rate_limit"` // requests per second per source, 0 = unlimited
	Burst            int           `mapstructure:"burst"`
}

// PushConfig holds push stream settings.
type PushConfig struct {
	KeepAlive  time.Duration `mapstructure:"keep_alive"`
	BufferSize int           `mapstructure:"buffer_size"`
}

// RedisConfig holds the optional push relay settings. An empty Addr
// disables the relay.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// AuthConfig holds token verification settings.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	AdminKey  string `mapstructure:"admin_key"`
}

// ChatConfig holds the upstream chat model settings.
type ChatConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// AuditConfig holds the audit trail settings.
type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/fundwatch"
	}
	return filepath.Join(home, ".config", "fundwatch")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("server.addr", ":3001")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.path", filepath.Join(configDir, "fundwatch.db"))

	v.SetDefault("scheduler.interval", 5*time.Minute)
	v.SetDefault("scheduler.fetch_pause", 200*time.Millisecond)
	v.SetDefault("scheduler.cooldown", time.Hour)
	v.SetDefault("scheduler.window_start", "09:30")
	v.SetDefault("scheduler.window_end", "15:00")
	v.SetDefault("scheduler.timezone", "Asia/Shanghai")
	v.SetDefault("scheduler.workers", 4)

	v.SetDefault("feeds.timeout", 10*time.Second)
	v.SetDefault("feeds.user_agent", "Mozilla/5.0 (compatible; fundwatch/1.0)")
	v.SetDefault("feeds.quote_url", "https://fundgz.1234567.com.cn/js/")
	v.SetDefault("feeds.confirmation_url", "https://qt.gtimg.cn/")
	v.SetDefault("feeds.failure_threshold", 5)
	v.SetDefault("feeds.open_timeout", time.Minute)
	v.SetDefault("feeds.rate_limit", 5.0)
	v.SetDefault("feeds.burst", 5)

	v.SetDefault("push.keep_alive", 30*time.Second)
	v.SetDefault("push.buffer_size", 32)

	v.SetDefault("redis.channel", "fundwatch:push")

	v.SetDefault("chat.base_url", "https://ark.cn-beijing.volces.com/api/v3")
	v.SetDefault("chat.model", "doubao-1-5-pro-32k-250115")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.path", filepath.Join(configDir, "audit", "audit.log"))
	v.SetDefault("audit.max_size", 10)
	v.SetDefault("audit.max_backups", 10)
	v.SetDefault("audit.max_age", 90)

	logDefaults := logging.DefaultLogConfig()
	v.SetDefault("log.level", logDefaults.Level)
	v.SetDefault("log.console", logDefaults.Console)
	v.SetDefault("log.file", logDefaults.File)
	v.SetDefault("log.file_path", filepath.Join(configDir, "logs", "fundwatch.log"))
	v.SetDefault("log.max_size", logDefaults.MaxSize)
	v.SetDefault("log.max_backups", logDefaults.MaxBackups)
	v.SetDefault("log.max_age", logDefaults.MaxAge)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FUNDWATCH_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("FUNDWATCH_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("FUNDWATCH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("FUNDWATCH_ADMIN_KEY"); v != "" {
		cfg.Auth.AdminKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := os.Getenv("FUNDWATCH_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if c.Scheduler.FetchPause < 0 {
		return fmt.Errorf("scheduler.fetch_pause must not be negative")
	}
	if c.Scheduler.Cooldown < 0 {
		return fmt.Errorf("scheduler.cooldown must not be negative")
	}
	start, err := ParseClock(c.Scheduler.WindowStart)
	if err != nil {
		return fmt.Errorf("scheduler.window_start: %w", err)
	}
	end, err := ParseClock(c.Scheduler.WindowEnd)
	if err != nil {
		return fmt.Errorf("scheduler.window_end: %w", err)
	}
	if end < start {
		return fmt.Errorf("scheduler.window_end must not be before window_start")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if c.Feeds.Timeout <= 0 {
		return fmt.Errorf("feeds.timeout must be positive")
	}
	if c.Push.KeepAlive <= 0 {
		return fmt.Errorf("push.keep_alive must be positive")
	}
	if c.Push.BufferSize <= 0 {
		return fmt.Errorf("push.buffer_size must be positive")
	}
	return nil
}

// ParseClock parses an HH:MM string into minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q (want HH:MM)", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location returns the scheduler's trading timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}

// TradingWindow returns the scheduler's trading window. The clocks were
// checked by Validate, so parse errors fall back to the default window.
func (c *Config) TradingWindow() utils.TradingWindow {
	w := utils.DefaultTradingWindow()
	if start, err := ParseClock(c.Scheduler.WindowStart); err == nil {
		w.Start = start
	}
	if end, err := ParseClock(c.Scheduler.WindowEnd); err == nil {
		w.End = end
	}
	w.Location = c.Location()
	return w
}

// RelayEnabled reports whether a Redis push relay is configured.
func (c *Config) RelayEnabled() bool {
	return c.Redis.Addr != ""
}

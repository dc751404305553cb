// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor"`
	Notify  NotifyConfig  `mapstructure:"notify" yaml:"notify"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ElementTimeout    time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
}

// WatchedButton is one persisted selection: a stable selector plus the
// label shown in logs and notifications.
type WatchedButton struct {
	Selector string `mapstructure:"selector" yaml:"selector"`
	Label    string `mapstructure:"label" yaml:"label"`
}

// MonitorConfig drives the polling session.
type MonitorConfig struct {
	URL               string          `mapstructure:"url" yaml:"url"`
	Interval          time.Duration   `mapstructure:"interval" yaml:"interval"`
	Buttons           []WatchedButton `mapstructure:"buttons" yaml:"buttons"`
	RefreshEachCycle  bool            `mapstructure:"refresh_each_cycle" yaml:"refresh_each_cycle"`
	ReconnectAttempts int             `mapstructure:"reconnect_attempts" yaml:"reconnect_attempts"`
	ReconnectBackoff  time.Duration   `mapstructure:"reconnect_backoff" yaml:"reconnect_backoff"`
}

// NotifyConfig holds the Telegram notification settings.
type NotifyConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	BotToken      string        `mapstructure:"bot_token" yaml:"-"`
	ChatID        int64         `mapstructure:"chat_id" yaml:"chat_id"`
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries"`
	RatePerMinute float64       `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "wbw")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.element_timeout", "10s")

	// -- Monitor --
	v.SetDefault("monitor.interval", "30s")
	v.SetDefault("monitor.refresh_each_cycle", true)
	v.SetDefault("monitor.reconnect_attempts", 5)
	v.SetDefault("monitor.reconnect_backoff", "2s")

	// -- Notify --
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.max_retries", 2)
	v.SetDefault("notify.rate_per_minute", 20)
	v.SetDefault("notify.timeout", "10s")
}

// NewDefaultConfig creates a new configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The bot token is sensitive and should come from the environment.
	v.BindEnv("notify.bot_token", "WBW_TELEGRAM_BOT_TOKEN")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Notify.Enabled && cfg.Notify.BotToken == "" {
		cfg.Notify.BotToken = os.Getenv("WBW_TELEGRAM_BOT_TOKEN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be a positive duration")
	}
	if c.Monitor.ReconnectAttempts < 0 {
		return fmt.Errorf("monitor.reconnect_attempts must not be negative")
	}
	if c.Browser.ElementTimeout <= 0 {
		return fmt.Errorf("browser.element_timeout must be a positive duration")
	}
	if err := c.Notify.Validate(); err != nil {
		return fmt.Errorf("notify configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the notification settings.
func (n *NotifyConfig) Validate() error {
	if !n.Enabled {
		return nil
	}
	if n.BotToken == "" {
		return fmt.Errorf("bot token is required but not found. Ensure WBW_TELEGRAM_BOT_TOKEN is set")
	}
	if n.ChatID == 0 {
		return fmt.Errorf("notify.chat_id is required when notifications are enabled")
	}
	if n.MaxRetries < 0 {
		return fmt.Errorf("notify.max_retries must not be negative")
	}
	return nil
}

// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the configuration reads,
// e.g. RETUMI_SCRIPT_TIMEOUT.
const EnvPrefix = "RETUMI"

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Script  ScriptConfig  `mapstructure:"script" yaml:"script"`
	Render  RenderConfig  `mapstructure:"render" yaml:"render"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
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
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ScriptConfig controls page script execution.
type ScriptConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Timeout bounds each script body. Zero disables the bound.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// ReplyTimeout bounds how long the engine waits on the document owner.
	ReplyTimeout  time.Duration `mapstructure:"reply_timeout" yaml:"reply_timeout"`
	ConsolePrefix string        `mapstructure:"console_prefix" yaml:"console_prefix"`
	// CreateMissingAttributes lets setAttribute add attributes an element
	// does not carry yet.
	CreateMissingAttributes bool `mapstructure:"create_missing_attributes" yaml:"create_missing_attributes"`
	// SkipExternal skips <script src> and scripts with a non-JavaScript type.
	SkipExternal bool `mapstructure:"skip_external" yaml:"skip_external"`
}

// Color modes accepted by RenderConfig.Color.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// RenderConfig controls text rendering of pages.
type RenderConfig struct {
	// Width is the wrap column. Zero means the terminal width.
	Width         int    `mapstructure:"width" yaml:"width"`
	Color         string `mapstructure:"color" yaml:"color"`
	LinkFootnotes bool   `mapstructure:"link_footnotes" yaml:"link_footnotes"`
}

// NetworkConfig holds settings for page loading.
type NetworkConfig struct {
	Timeout         time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	UserAgent       string            `mapstructure:"user_agent" yaml:"user_agent"`
	IgnoreTLSErrors bool              `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	RetryCount      int               `mapstructure:"retry_count" yaml:"retry_count"`
	MaxBodyBytes    int64             `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	Concurrency     int               `mapstructure:"concurrency" yaml:"concurrency"`
	Headers         map[string]string `mapstructure:"headers" yaml:"headers"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// NewDefaultConfig creates a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Unmarshalling defaults into a fresh struct cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "retumi")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Script --
	v.SetDefault("script.enabled", true)
	v.SetDefault("script.timeout", "10s")
	v.SetDefault("script.reply_timeout", "30s")
	v.SetDefault("script.console_prefix", "[JS console]")
	v.SetDefault("script.create_missing_attributes", true)
	v.SetDefault("script.skip_external", true)

	// -- Render --
	v.SetDefault("render.width", 120)
	v.SetDefault("render.color", ColorAuto)
	v.SetDefault("render.link_footnotes", true)

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.user_agent", "retumi/0.1 (+text-mode)")
	v.SetDefault("network.ignore_tls_errors", false)
	v.SetDefault("network.retry_count", 1)
	v.SetDefault("network.max_body_bytes", 10<<20)
	v.SetDefault("network.concurrency", 4)
	v.SetDefault("network.headers", map[string]string{})

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", "127.0.0.1:9464")
	v.SetDefault("metrics.path", "/metrics")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if err := c.Script.Validate(); err != nil {
		return err
	}
	if err := c.Render.Validate(); err != nil {
		return err
	}
	if err := c.Network.Validate(); err != nil {
		return err
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}
	return nil
}

// Validate checks the script settings.
func (s *ScriptConfig) Validate() error {
	if s.Timeout < 0 {
		return fmt.Errorf("script.timeout must not be negative")
	}
	if s.ReplyTimeout < 0 {
		return fmt.Errorf("script.reply_timeout must not be negative")
	}
	return nil
}

// Validate checks the render settings.
func (r *RenderConfig) Validate() error {
	if r.Width < 0 {
		return fmt.Errorf("render.width must not be negative")
	}
	switch r.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return fmt.Errorf("render.color must be one of auto, always, never (got %q)", r.Color)
	}
	return nil
}

// Validate checks the network settings.
func (n *NetworkConfig) Validate() error {
	if n.Timeout <= 0 {
		return fmt.Errorf("network.timeout must be a positive duration")
	}
	if n.RetryCount < 0 {
		return fmt.Errorf("network.retry_count must not be negative")
	}
	if n.MaxBodyBytes <= 0 {
		return fmt.Errorf("network.max_body_bytes must be a positive integer")
	}
	if n.Concurrency <= 0 {
		return fmt.Errorf("network.concurrency must be a positive integer")
	}
	return nil
}

// Package config loads engine, logging and built-in plugin settings from
// hookengine.yaml, HOOKENGINE_* environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/hypersim/hookengine/pkg/ratelimit"
	"github.com/hypersim/hookengine/pkg/storage"
	"github.com/hypersim/hookengine/pkg/storage/backends"
)

// EnvPrefix prefixes every environment override, e.g. HOOKENGINE_LOG_LEVEL.
const EnvPrefix = "HOOKENGINE"

// PluginNames lists the built-in plugins in registration order.
var PluginNames = []string{"ratelimit", "logging", "caching", "metrics", "retry"}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// EngineConfig configures the plugin engine.
type EngineConfig struct {
	Debug          bool          `mapstructure:"debug" json:"debug"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout" json:"handler_timeout"`
	MetricsPrefix  string        `mapstructure:"metrics_namespace" json:"metrics_namespace"`
}

// PluginSettings are the registration settings of one built-in plugin.
type PluginSettings struct {
	Enabled        bool `mapstructure:"enabled" json:"enabled"`
	AutoInitialize bool `mapstructure:"auto_initialize" json:"auto_initialize"`
	// Priority overrides every binding of the plugin when set.
	Priority *int `mapstructure:"priority" json:"priority,omitempty"`
}

// CachingConfig configures the caching plugin.
type CachingConfig struct {
	TTL          time.Duration  `mapstructure:"ttl" json:"ttl"`
	MaxEntries   int            `mapstructure:"max_entries" json:"max_entries"`
	CleanupEvery int            `mapstructure:"cleanup_every" json:"cleanup_every"`
	Store        storage.Config `mapstructure:"store" json:"store"`
}

// RetryConfig configures the retry plugin.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts" json:"max_attempts"`
	InitialDelay      time.Duration `mapstructure:"initial_delay" json:"initial_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay" json:"max_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" json:"backoff_multiplier"`
	RetryableErrors   []string      `mapstructure:"retryable_errors" json:"retryable_errors,omitempty"`
}

// RateLimitConfig configures the rate limit plugin.
type RateLimitConfig struct {
	// Rate uses ratelimit.ParseRate syntax. Empty is unlimited.
	Rate string `mapstructure:"rate" json:"rate"`
	Mode string `mapstructure:"mode" json:"mode"`
}

// LoggingPluginConfig configures the logging plugin.
type LoggingPluginConfig struct {
	IncludeData bool `mapstructure:"include_data" json:"include_data"`
}

// Config is the complete configuration.
type Config struct {
	Log           LogConfig                 `mapstructure:"log" json:"log"`
	Engine        EngineConfig              `mapstructure:"engine" json:"engine"`
	Plugins       map[string]PluginSettings `mapstructure:"plugins" json:"plugins"`
	Caching       CachingConfig             `mapstructure:"caching" json:"caching"`
	Retry         RetryConfig               `mapstructure:"retry" json:"retry"`
	RateLimit     RateLimitConfig           `mapstructure:"ratelimit" json:"ratelimit"`
	LoggingPlugin LoggingPluginConfig       `mapstructure:"logging_plugin" json:"logging_plugin"`
}

// Loader reads configuration through its own viper instance.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader. An empty path searches for hookengine.yaml in
// the working directory, $HOME/.hookengine and /etc/hookengine.
func NewLoader(path string) *Loader {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hookengine")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.hookengine")
		v.AddConfigPath("/etc/hookengine/")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// Viper returns the underlying viper instance, for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads, decodes and validates the configuration. A missing file in the
// search path is not an error; a missing explicit file is.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFile is the file Load read, empty when only defaults and env applied.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Settings returns the merged key/value view of the configuration.
func (l *Loader) Settings() map[string]any {
	return l.v.AllSettings()
}

// Load is shorthand for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg, err := NewLoader("").decodeDefaults()
	if err != nil {
		panic(fmt.Sprintf("default configuration does not decode: %v", err))
	}
	return cfg
}

func (l *Loader) decodeDefaults() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("engine.debug", false)
	v.SetDefault("engine.handler_timeout", "30s")
	v.SetDefault("engine.metrics_namespace", "hookengine")

	for _, name := range PluginNames {
		v.SetDefault("plugins."+name+".enabled", name != "ratelimit")
		v.SetDefault("plugins."+name+".auto_initialize", true)
	}

	v.SetDefault("caching.ttl", "300s")
	v.SetDefault("caching.max_entries", 1000)
	v.SetDefault("caching.cleanup_every", 100)
	v.SetDefault("caching.store.type", "")
	v.SetDefault("caching.store.config", map[string]any{})

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.backoff_multiplier", 2.0)
	v.SetDefault("retry.retryable_errors", []string{})

	v.SetDefault("ratelimit.rate", "")
	v.SetDefault("ratelimit.mode", "wait")

	v.SetDefault("logging_plugin.include_data", false)
}

// Validate checks every section.
func (c *Config) Validate() error {
	for _, validate := range []func() error{
		c.validateLog,
		c.validateEngine,
		c.validatePlugins,
		c.validateCaching,
		c.validateRetry,
		c.validateRateLimit,
	} {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateLog() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "human", "console", "text":
		return nil
	default:
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
}

func (c *Config) validateEngine() error {
	if c.Engine.HandlerTimeout <= 0 {
		return fmt.Errorf("engine handler_timeout must be positive, got %v", c.Engine.HandlerTimeout)
	}
	return nil
}

func (c *Config) validatePlugins() error {
	known := make(map[string]bool, len(PluginNames))
	for _, name := range PluginNames {
		known[name] = true
	}

	var unknown []string
	for name := range c.Plugins {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown plugins in configuration: %s", strings.Join(unknown, ", "))
	}
	return nil
}

func (c *Config) validateCaching() error {
	if c.Caching.TTL <= 0 {
		return fmt.Errorf("caching ttl must be positive, got %v", c.Caching.TTL)
	}
	if c.Caching.MaxEntries <= 0 {
		return fmt.Errorf("caching max_entries must be positive, got %d", c.Caching.MaxEntries)
	}
	if c.Caching.CleanupEvery <= 0 {
		return fmt.Errorf("caching cleanup_every must be positive, got %d", c.Caching.CleanupEvery)
	}

	storeType := strings.ToLower(c.Caching.Store.Type)
	if storeType == "" || storeType == "fs" {
		return nil
	}
	for _, t := range backends.Types() {
		if t == storeType {
			return nil
		}
	}
	return fmt.Errorf("invalid caching store type: %s", c.Caching.Store.Type)
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry max_attempts must be non-negative, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialDelay <= 0 {
		return fmt.Errorf("retry initial_delay must be positive, got %v", c.Retry.InitialDelay)
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry max_delay %v is below initial_delay %v", c.Retry.MaxDelay, c.Retry.InitialDelay)
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry backoff_multiplier must be at least 1, got %f", c.Retry.BackoffMultiplier)
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if err := ratelimit.ValidateRate(c.RateLimit.Rate); err != nil {
		return fmt.Errorf("invalid ratelimit rate: %w", err)
	}
	switch strings.ToLower(c.RateLimit.Mode) {
	case "", "wait", "reject":
		return nil
	default:
		return fmt.Errorf("invalid ratelimit mode: %s", c.RateLimit.Mode)
	}
}

// Plugin returns the settings of name, disabled when absent.
func (c *Config) Plugin(name string) PluginSettings {
	return c.Plugins[name]
}

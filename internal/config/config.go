package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Network    NetworkConfig    `mapstructure:"network" yaml:"network"`
	Extraction ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless      bool     `mapstructure:"headless" yaml:"headless"`
	UserAgent     string   `mapstructure:"user_agent" yaml:"user_agent"`
	Args          []string `mapstructure:"args" yaml:"args"`
	WindowWidth   int      `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight  int      `mapstructure:"window_height" yaml:"window_height"`
	ScreenshotDir string   `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// NetworkConfig tunes timeouts and waits across dispatcher operations.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	WaitTimeout       time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	RatePerHost       float64       `mapstructure:"rate_per_host" yaml:"rate_per_host"`
}

// ExtractionConfig tunes the extraction adapter and the parallel fan-out.
type ExtractionConfig struct {
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
	UserAgent   string `mapstructure:"user_agent" yaml:"user_agent"`
}

// LLMConfig configures the natural-language extraction backend.
// SafetyFilters maps a Gemini safety category to its blocking threshold.
type LLMConfig struct {
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"api_key"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float64           `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// StoreConfig configures the optional Postgres history store.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webrover")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.screenshot_dir", "screenshots")

	// -- Network --
	v.SetDefault("network.navigation_timeout", "60s")
	v.SetDefault("network.action_timeout", "10s")
	v.SetDefault("network.wait_timeout", "30s")
	v.SetDefault("network.settle_delay", "1s")
	v.SetDefault("network.fetch_timeout", "30s")
	v.SetDefault("network.rate_per_host", 2.0)

	// -- Extraction --
	v.SetDefault("extraction.concurrency", 4)
	v.SetDefault("extraction.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")

	// -- LLM --
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "90s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 8192)

	// -- Store --
	v.SetDefault("store.enabled", false)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults alone.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.BindEnv("llm.api_key", "WEBROVER_LLM_API_KEY")
	v.BindEnv("store.url", "WEBROVER_STORE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("WEBROVER_LLM_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Extraction.Concurrency <= 0 {
		return fmt.Errorf("extraction.concurrency must be a positive integer")
	}
	if c.Network.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	if c.Network.WaitTimeout <= 0 {
		return fmt.Errorf("network.wait_timeout must be a positive duration")
	}
	if c.Network.RatePerHost <= 0 {
		return fmt.Errorf("network.rate_per_host must be positive")
	}
	if c.Store.Enabled && c.Store.URL == "" {
		return fmt.Errorf("store.url is required when store.enabled is true")
	}
	return nil
}

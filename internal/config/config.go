// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CaptchaMode selects which resolution strategy new sessions are bound to.
type CaptchaMode string

const (
	ModeHuman CaptchaMode = "human"
	ModeAI    CaptchaMode = "ai"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Captcha CaptchaConfig `mapstructure:"captcha" yaml:"captcha"`
	Vision  VisionConfig  `mapstructure:"vision" yaml:"vision"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Search  SearchConfig  `mapstructure:"search" yaml:"search"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
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

// CaptchaConfig tunes the resolution orchestrator. The mode is resolved once
// per session at creation time; in-flight sessions never switch strategies.
type CaptchaConfig struct {
	Mode             CaptchaMode   `mapstructure:"mode" yaml:"mode"`
	MaxIterations    int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	TurnTimeout      time.Duration `mapstructure:"turn_timeout" yaml:"turn_timeout"`
	HumanWaitCeiling time.Duration `mapstructure:"human_wait_ceiling" yaml:"human_wait_ceiling"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	StrategyAnalysis bool          `mapstructure:"strategy_analysis" yaml:"strategy_analysis"`
}

// VisionConfig defines the connection to the vision-model endpoint.
type VisionConfig struct {
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// BrowserConfig holds settings for the remote browser-session provider.
type BrowserConfig struct {
	ProviderURL       string        `mapstructure:"provider_url" yaml:"provider_url"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	ProjectID         string        `mapstructure:"project_id" yaml:"project_id"`
	SessionTimeout    time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	// CreateRate throttles session creation against the provider API
	// (sessions per second).
	CreateRate float64 `mapstructure:"create_rate" yaml:"create_rate"`
}

// SearchConfig configures the flight-search minion pool.
type SearchConfig struct {
	TargetURL   string        `mapstructure:"target_url" yaml:"target_url"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	TaskTimeout time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
}

// ServerConfig holds settings for the HTTP boundary.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "travelagent")
	v.SetDefault("logger.log_file", "travelagent.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Captcha --
	v.SetDefault("captcha.mode", "ai")
	v.SetDefault("captcha.max_iterations", 15)
	v.SetDefault("captcha.turn_timeout", "30s")
	v.SetDefault("captcha.human_wait_ceiling", "300s")
	v.SetDefault("captcha.poll_interval", "2s")
	v.SetDefault("captcha.strategy_analysis", true)

	// -- Vision --
	v.SetDefault("vision.model", "gemini-2.0-flash-exp")
	v.SetDefault("vision.api_timeout", "60s")
	v.SetDefault("vision.temperature", 0.2)
	v.SetDefault("vision.max_tokens", 4096)

	// -- Browser --
	v.SetDefault("browser.provider_url", "https://api.browserbase.com")
	v.SetDefault("browser.session_timeout", "15m")
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.viewport_width", 1440)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.create_rate", 0.5)

	// -- Search --
	v.SetDefault("search.concurrency", 4)
	v.SetDefault("search.task_timeout", "10m")

	// -- Server --
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with the defaults above, but fail loudly if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("vision.api_key", "GEMINI_API_KEY")
	v.BindEnv("browser.api_key", "BROWSERBASE_API_KEY")
	v.BindEnv("browser.project_id", "BROWSERBASE_PROJECT_ID")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.Captcha.Mode {
	case ModeHuman, ModeAI:
	default:
		return fmt.Errorf("captcha.mode must be %q or %q, got %q", ModeHuman, ModeAI, c.Captcha.Mode)
	}
	if c.Captcha.MaxIterations <= 0 {
		return fmt.Errorf("captcha.max_iterations must be a positive integer")
	}
	if c.Captcha.TurnTimeout <= 0 {
		return fmt.Errorf("captcha.turn_timeout must be a positive duration")
	}
	if c.Captcha.HumanWaitCeiling <= 0 {
		return fmt.Errorf("captcha.human_wait_ceiling must be a positive duration")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive")
	}
	if c.Search.Concurrency <= 0 {
		return fmt.Errorf("search.concurrency must be a positive integer")
	}
	if c.Captcha.Mode == ModeAI && strings.TrimSpace(c.Vision.Model) == "" {
		return fmt.Errorf("vision.model is required in ai mode")
	}
	return nil
}

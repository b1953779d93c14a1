// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is built once at
// startup and handed to each component as an immutable value; nothing in the
// program mutates it after Validate has passed.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Login    LoginConfig    `mapstructure:"login" yaml:"login"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Channel  ChannelConfig  `mapstructure:"channel" yaml:"channel"`
	Report   ReportConfig   `mapstructure:"report" yaml:"report"`
	Folders  FoldersConfig  `mapstructure:"folders" yaml:"folders"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
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

// ColorConfig defines the terminal color names for each log level.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// LoginConfig describes the portal login surface and the timing allowances
// the authenticator grants the site between interactions.
type LoginConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-"`

	// SettleTime is the pause after navigation or submission so the SPA can
	// render the next view before we probe it.
	SettleTime time.Duration `mapstructure:"settle_time" yaml:"settle_time"`
	// VerifyWait is the allowance after submitting a 2FA code; the server
	// round-trip for code verification is noticeably slower than the login.
	VerifyWait time.Duration `mapstructure:"verify_wait" yaml:"verify_wait"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	Args              []string      `mapstructure:"args" yaml:"args"`
}

// ChannelConfig tunes the out-of-band verification code channel: a shared
// file that an external actor updates with the current 2FA code.
type ChannelConfig struct {
	Path            string        `mapstructure:"path" yaml:"path"`
	PreDelay        time.Duration `mapstructure:"pre_delay" yaml:"pre_delay"`
	MaxWait         time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	StableThreshold int           `mapstructure:"stable_threshold" yaml:"stable_threshold"`
	ParseAttempts   int           `mapstructure:"parse_attempts" yaml:"parse_attempts"`
	ParseRetryDelay time.Duration `mapstructure:"parse_retry_delay" yaml:"parse_retry_delay"`
}

// ReportConfig describes the analytic report API.
type ReportConfig struct {
	URL    string `mapstructure:"url" yaml:"url"`
	Origin string `mapstructure:"origin" yaml:"origin"`
	// CookieDomain is the shared parent domain the session cookies are
	// rewritten to before being replayed against the API host.
	CookieDomain       string        `mapstructure:"cookie_domain" yaml:"cookie_domain"`
	PageSize           int           `mapstructure:"page_size" yaml:"page_size"`
	MaxPages           int           `mapstructure:"max_pages" yaml:"max_pages"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// FoldersConfig lists the working directories of the ETL pipeline.
type FoldersConfig struct {
	Input     string `mapstructure:"input" yaml:"input"`
	Processed string `mapstructure:"processed" yaml:"processed"`
	Error     string `mapstructure:"error" yaml:"error"`
	Temp      string `mapstructure:"temp" yaml:"temp"`
}

// DatabaseConfig holds the warehouse connection details. An empty URL
// disables persistence; fetched reports are then only exported to CSV.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "unipix-etl")
	v.SetDefault("logger.log_file", "unipix-etl.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Login --
	v.SetDefault("login.url", "https://avia.unipix.com.br/#/login")
	v.SetDefault("login.settle_time", "5s")
	v.SetDefault("login.verify_wait", "8s")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", true)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)

	// -- Code channel --
	v.SetDefault("channel.pre_delay", "60s")
	v.SetDefault("channel.max_wait", "180s")
	v.SetDefault("channel.poll_interval", "3s")
	v.SetDefault("channel.stable_threshold", 3)
	v.SetDefault("channel.parse_attempts", 5)
	v.SetDefault("channel.parse_retry_delay", "3s")

	// -- Report API --
	v.SetDefault("report.url", "https://aws-api-sms-interna.unipix.com.br/relatorio-analitico")
	v.SetDefault("report.origin", "https://avia.unipix.com.br")
	v.SetDefault("report.cookie_domain", ".unipix.com.br")
	v.SetDefault("report.page_size", 500)
	v.SetDefault("report.max_pages", 50)
	v.SetDefault("report.timeout", "180s")
	v.SetDefault("report.insecure_skip_verify", true)
	v.SetDefault("report.requests_per_second", 2.0)

	// -- Folders --
	v.SetDefault("folders.input", "data/input")
	v.SetDefault("folders.processed", "data/processed")
	v.SetDefault("folders.error", "data/error")
	v.SetDefault("folders.temp", "data/temp")
}

// NewDefaultConfig creates a configuration struct populated with defaults.
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

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Sensitive values come from the environment, never from the file.
	v.BindEnv("login.username", "UNIPIX_LOGIN_USERNAME")
	v.BindEnv("login.password", "UNIPIX_LOGIN_PASSWORD")
	v.BindEnv("database.url", "UNIPIX_DATABASE_URL")

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
	if c.Login.URL == "" {
		return fmt.Errorf("login.url is a required configuration field")
	}
	if c.Report.URL == "" {
		return fmt.Errorf("report.url is a required configuration field")
	}
	if c.Report.PageSize <= 0 {
		return fmt.Errorf("report.page_size must be a positive integer")
	}
	if c.Report.MaxPages <= 0 {
		return fmt.Errorf("report.max_pages must be a positive integer")
	}
	if c.Channel.StableThreshold <= 0 {
		return fmt.Errorf("channel.stable_threshold must be a positive integer")
	}
	if c.Channel.ParseAttempts <= 0 {
		return fmt.Errorf("channel.parse_attempts must be a positive integer")
	}
	if c.Channel.PollInterval <= 0 {
		return fmt.Errorf("channel.poll_interval must be a positive duration")
	}
	return nil
}

// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mowaffer/grocery-scraper/internal/ratelimit"
	"github.com/mowaffer/grocery-scraper/internal/scraper"
	"github.com/mowaffer/grocery-scraper/internal/session"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	DB      DBConfig      `mapstructure:"db"`
	Browser BrowserConfig `mapstructure:"browser"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Delays  DelaysConfig  `mapstructure:"delays"`
	Session SessionConfig `mapstructure:"session"`
	Results ResultsConfig `mapstructure:"results"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
	Oscar   OscarConfig   `mapstructure:"oscar"`
	Seoudi  SeoudiConfig  `mapstructure:"seoudi"`
}

// DBConfig controls access to the record store.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// BrowserConfig configures the headless browser shared by all sessions.
type BrowserConfig struct {
	Headless      bool    `mapstructure:"headless"`
	UserAgent     string  `mapstructure:"user_agent"`
	NavTimeoutSec int     `mapstructure:"nav_timeout_seconds"`
	DomainQPS     float64 `mapstructure:"domain_qps"`
}

// ProxyConfig routes browser traffic through an authenticated proxy.
type ProxyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Server   string `mapstructure:"server"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// DelaysConfig bounds the randomized politeness delays.
type DelaysConfig struct {
	URLMinSec   int `mapstructure:"url_min_seconds"`
	URLMaxSec   int `mapstructure:"url_max_seconds"`
	ClickMinSec int `mapstructure:"click_min_seconds"`
	ClickMaxSec int `mapstructure:"click_max_seconds"`
}

// SessionConfig governs session creation retries.
type SessionConfig struct {
	MaxAttempts   int `mapstructure:"max_attempts"`
	BackoffBaseMs int `mapstructure:"backoff_base_ms"`
	BackoffMaxMs  int `mapstructure:"backoff_max_ms"`
}

// ResultsConfig governs result write retries.
type ResultsConfig struct {
	MaxAttempts   int `mapstructure:"max_attempts"`
	BackoffBaseMs int `mapstructure:"backoff_base_ms"`
	BackoffMaxMs  int `mapstructure:"backoff_max_ms"`
}

// ArchiveConfig sets where raw payloads land.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// MetricsConfig exposes Prometheus metrics over HTTP.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig controls zap output.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// OscarConfig tunes the Oscar Stores extractor.
type OscarConfig struct {
	MaxPages       int     `mapstructure:"max_pages"`
	CountTolerance float64 `mapstructure:"count_tolerance"`
}

// SeoudiConfig tunes the Seoudi extractor.
type SeoudiConfig struct {
	MaxLoadMoreClicks int `mapstructure:"max_load_more_clicks"`
	MinPayloadBytes   int `mapstructure:"min_payload_bytes"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("browser.nav_timeout_seconds", 60)
	v.SetDefault("browser.domain_qps", 0.5)
	v.SetDefault("delays.url_min_seconds", 10)
	v.SetDefault("delays.url_max_seconds", 20)
	v.SetDefault("delays.click_min_seconds", 2)
	v.SetDefault("delays.click_max_seconds", 6)
	v.SetDefault("session.max_attempts", 3)
	v.SetDefault("session.backoff_base_ms", 500)
	v.SetDefault("session.backoff_max_ms", 10000)
	v.SetDefault("results.max_attempts", 3)
	v.SetDefault("results.backoff_base_ms", 250)
	v.SetDefault("results.backoff_max_ms", 5000)
	v.SetDefault("archive.enabled", true)
	v.SetDefault("archive.dir", "raw_responses")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("oscar.max_pages", 100)
	v.SetDefault("oscar.count_tolerance", 0.8)
	v.SetDefault("seoudi.max_load_more_clicks", 50)
	v.SetDefault("seoudi.min_payload_bytes", 2048)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Delays.URLMinSec <= 0 || c.Delays.URLMaxSec < c.Delays.URLMinSec {
		return fmt.Errorf("delays.url_min_seconds/url_max_seconds must form a positive range")
	}
	if c.Delays.ClickMinSec <= 0 || c.Delays.ClickMaxSec < c.Delays.ClickMinSec {
		return fmt.Errorf("delays.click_min_seconds/click_max_seconds must form a positive range")
	}
	if c.Session.MaxAttempts <= 0 {
		return fmt.Errorf("session.max_attempts must be > 0")
	}
	if c.Proxy.Enabled && c.Proxy.Server == "" {
		return fmt.Errorf("proxy.server must be set when proxy is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		return fmt.Errorf("metrics.port must be > 0 when metrics are enabled")
	}
	return nil
}

// URLDelayRange is the randomized wait between same-domain targets.
func (c Config) URLDelayRange() ratelimit.Range {
	return ratelimit.Range{
		Min: time.Duration(c.Delays.URLMinSec) * time.Second,
		Max: time.Duration(c.Delays.URLMaxSec) * time.Second,
	}
}

// ClickDelayRange is the randomized wait before UI interactions.
func (c Config) ClickDelayRange() ratelimit.Range {
	return ratelimit.Range{
		Min: time.Duration(c.Delays.ClickMinSec) * time.Second,
		Max: time.Duration(c.Delays.ClickMaxSec) * time.Second,
	}
}

// PoolConfig converts the session retry knobs.
func (c Config) PoolConfig() session.PoolConfig {
	return session.PoolConfig{
		MaxAttempts: c.Session.MaxAttempts,
		BackoffBase: time.Duration(c.Session.BackoffBaseMs) * time.Millisecond,
		BackoffMax:  time.Duration(c.Session.BackoffMaxMs) * time.Millisecond,
	}
}

// ResultLogConfig converts the result write retry knobs.
func (c Config) ResultLogConfig() scraper.ResultLogConfig {
	return scraper.ResultLogConfig{
		MaxAttempts: c.Results.MaxAttempts,
		BackoffBase: time.Duration(c.Results.BackoffBaseMs) * time.Millisecond,
		BackoffMax:  time.Duration(c.Results.BackoffMaxMs) * time.Millisecond,
	}
}

// BrowserOptions converts the browser and proxy sections into the
// session package's browser configuration.
func (c Config) BrowserOptions() session.BrowserConfig {
	bc := session.BrowserConfig{
		Headless:   c.Browser.Headless,
		UserAgent:  c.Browser.UserAgent,
		NavTimeout: time.Duration(c.Browser.NavTimeoutSec) * time.Second,
		DomainQPS:  c.Browser.DomainQPS,
	}
	if c.Proxy.Enabled {
		bc.ProxyServer = c.Proxy.Server
		bc.ProxyUsername = c.Proxy.Username
		bc.ProxyPassword = c.Proxy.Password
	}
	return bc
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	DKIM      DKIMConfig      `yaml:"dkim"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	// AdminToken authenticates the administrative API. The surrounding
	// permission system is an external collaborator; this is the only
	// gate the dispatch core itself carries.
	AdminToken string `yaml:"admin_token"`
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	// Path to the SQLite database holding campaigns, templates,
	// recipients and delivery logs.
	DBPath string `yaml:"db_path"`
	// Path to the append-only delivery event store.
	EventsPath string `yaml:"events_path"`
}

// DispatchConfig contains campaign dispatch settings
type DispatchConfig struct {
	RatePerSecond float64       `yaml:"rate_per_second"` // outbound sends per second
	Burst         int           `yaml:"burst"`           // token bucket burst size
	MaxRetries    int           `yaml:"max_retries"`     // per-recipient retry budget
	BatchSize     int           `yaml:"batch_size"`      // audience page size
	Workers       int           `yaml:"workers"`         // concurrent campaign runs
	QueueSize     int           `yaml:"queue_size"`      // pending launch requests
	DrainTimeout  time.Duration `yaml:"drain_timeout"`   // shutdown wait for in-flight runs
}

// SchedulerConfig contains scheduled campaign launcher settings
type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	LockTTL  time.Duration `yaml:"lock_ttl"` // stale cross-instance locks are stolen after this
}

// TrackingConfig contains open/click tracking settings
type TrackingConfig struct {
	PublicBaseURL  string        `yaml:"public_base_url"`
	HMACSecret     string        `yaml:"hmac_secret"`
	LinkExpiration time.Duration `yaml:"link_expiration"`
	// AllowedRedirectDomains, when set, restricts click redirects to
	// these hosts. Empty means any http(s) destination.
	AllowedRedirectDomains []string `yaml:"allowed_redirect_domains"`
}

// SMTPConfig contains mail submission settings
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	From     string        `yaml:"from"`
	FromName string        `yaml:"from_name"`
	Timeout  time.Duration `yaml:"timeout"`
	// DevMode logs messages instead of submitting them.
	DevMode bool `yaml:"dev_mode"`
}

// DKIMConfig contains DKIM signing settings for outbound mail
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides secrets from the environment so they can stay out
// of the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("CAMPAIGND_HMAC_SECRET"); v != "" {
		c.Tracking.HMACSecret = v
	}
	if v := os.Getenv("CAMPAIGND_SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("CAMPAIGND_ADMIN_TOKEN"); v != "" {
		c.Server.AdminToken = v
	}
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}

	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "/var/lib/campaignd/campaignd.db"
	}
	if c.Storage.EventsPath == "" {
		c.Storage.EventsPath = "/var/lib/campaignd/events.db"
	}

	if c.Dispatch.RatePerSecond == 0 {
		c.Dispatch.RatePerSecond = 14 // AWS SES default sending rate
	}
	if c.Dispatch.Burst == 0 {
		c.Dispatch.Burst = 1
	}
	if c.Dispatch.MaxRetries == 0 {
		c.Dispatch.MaxRetries = 2
	}
	if c.Dispatch.BatchSize == 0 {
		c.Dispatch.BatchSize = 200
	}
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 4
	}
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = 64
	}
	if c.Dispatch.DrainTimeout == 0 {
		c.Dispatch.DrainTimeout = 30 * time.Second
	}

	if c.Scheduler.Interval == 0 {
		c.Scheduler.Interval = time.Minute
	}
	if c.Scheduler.LockTTL == 0 {
		c.Scheduler.LockTTL = 5 * time.Minute
	}

	if c.Tracking.LinkExpiration == 0 {
		c.Tracking.LinkExpiration = 7 * 24 * time.Hour
	}

	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.SMTP.Timeout == 0 {
		c.SMTP.Timeout = 30 * time.Second
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Tracking.PublicBaseURL == "" {
		return fmt.Errorf("tracking.public_base_url is required")
	}
	u, err := url.Parse(c.Tracking.PublicBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("tracking.public_base_url must be an absolute URL")
	}
	if strings.HasSuffix(c.Tracking.PublicBaseURL, "/") {
		c.Tracking.PublicBaseURL = strings.TrimRight(c.Tracking.PublicBaseURL, "/")
	}

	if c.Tracking.HMACSecret == "" {
		return fmt.Errorf("tracking.hmac_secret is required")
	}
	if len(c.Tracking.HMACSecret) < 16 {
		return fmt.Errorf("tracking.hmac_secret must be at least 16 characters")
	}

	if c.Dispatch.RatePerSecond < 0 {
		return fmt.Errorf("dispatch.rate_per_second cannot be negative")
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch.max_retries cannot be negative")
	}

	if !c.SMTP.DevMode {
		if c.SMTP.Host == "" {
			return fmt.Errorf("smtp.host is required unless smtp.dev_mode is set")
		}
		if c.SMTP.From == "" {
			return fmt.Errorf("smtp.from is required unless smtp.dev_mode is set")
		}
	}

	if c.DKIM.Enabled {
		if c.DKIM.Domain == "" || c.DKIM.Selector == "" || c.DKIM.KeyFile == "" {
			return fmt.Errorf("dkim requires domain, selector and key_file")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text")
	}

	return nil
}

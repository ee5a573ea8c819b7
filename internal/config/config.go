package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dkarpov/certmail/internal/mailer"
	"github.com/dkarpov/certmail/internal/quota"
)

// Mail backend names
const (
	BackendGmail = "gmail"
	BackendSMTP  = "smtp"
)

// Config is the main configuration structure
type Config struct {
	API     APIConfig     `yaml:"api"`
	Mail    MailConfig    `yaml:"mail"`
	Quota   quota.Config  `yaml:"quota"`
	Render  RenderConfig  `yaml:"render"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`          // Static key for local deployments (empty = no auth)
	MaxUploadBytes int64         `yaml:"max_upload_bytes"` // Max dataset/background upload size (default: 10MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	TLS            TLSConfig     `yaml:"tls"`
}

// TLSConfig contains TLS certificate settings for the API listener
type TLSConfig struct {
	CertFile string     `yaml:"cert_file"`
	KeyFile  string     `yaml:"key_file"`
	ACME     ACMEConfig `yaml:"acme"`
}

// ACMEConfig contains Let's Encrypt ACME settings
type ACMEConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Email    string   `yaml:"email"`
	Domains  []string `yaml:"domains"`
	CacheDir string   `yaml:"cache_dir"`
}

// MailConfig selects and configures the outbound mail backend
type MailConfig struct {
	Backend     string            `yaml:"backend"`      // gmail or smtp
	SendTimeout time.Duration     `yaml:"send_timeout"` // Per-message send timeout (default: 30s)
	SMTP        mailer.SMTPConfig `yaml:"smtp"`
}

// RenderConfig contains certificate rendering settings
type RenderConfig struct {
	FontsDir string `yaml:"fonts_dir"` // Extra TTF/OTF fonts loaded at startup (empty = embedded only)
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"` // Quota counter database (empty = in-memory counters)
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // Default: /metrics
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

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with all defaults applied, for
// running without a config file
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxUploadBytes == 0 {
		c.API.MaxUploadBytes = 10 * 1024 * 1024 // 10MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		// Send runs stream no response body, they run in the
		// background; 60s covers preview rendering comfortably.
		c.API.WriteTimeout = 60 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}
	if c.API.TLS.ACME.CacheDir == "" {
		c.API.TLS.ACME.CacheDir = "/var/lib/certmail/certs"
	}

	if c.Mail.Backend == "" {
		c.Mail.Backend = BackendGmail
	}
	if c.Mail.SendTimeout == 0 {
		c.Mail.SendTimeout = 30 * time.Second
	}

	if c.Quota.Delay == 0 {
		c.Quota.Delay = quota.DefaultDelay
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Mail.Backend != BackendGmail && c.Mail.Backend != BackendSMTP {
		return fmt.Errorf("invalid mail.backend: %s (must be gmail or smtp)", c.Mail.Backend)
	}

	if c.Mail.Backend == BackendSMTP {
		if c.Mail.SMTP.Addr == "" {
			return fmt.Errorf("mail.smtp.addr is required when backend is smtp")
		}
		if c.Mail.SMTP.From == "" {
			return fmt.Errorf("mail.smtp.from is required when backend is smtp")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if err := c.validateTLS(); err != nil {
		return err
	}

	return nil
}

// validateTLS validates TLS configuration
func (c *Config) validateTLS() error {
	tls := c.API.TLS
	hasCerts := tls.CertFile != "" || tls.KeyFile != ""
	hasACME := tls.ACME.Enabled

	if hasCerts && hasACME {
		return fmt.Errorf("cannot use both manual certificates and ACME")
	}

	if hasCerts {
		if tls.CertFile == "" {
			return fmt.Errorf("api.tls.cert_file is required when using manual certificates")
		}
		if tls.KeyFile == "" {
			return fmt.Errorf("api.tls.key_file is required when using manual certificates")
		}
	}

	if hasACME {
		if tls.ACME.Email == "" {
			return fmt.Errorf("api.tls.acme.email is required when ACME is enabled")
		}
		if len(tls.ACME.Domains) == 0 {
			return fmt.Errorf("api.tls.acme.domains must not be empty when ACME is enabled")
		}
	}

	return nil
}

// HasTLS returns true if TLS is configured for the API listener
func (c *Config) HasTLS() bool {
	return (c.API.TLS.CertFile != "" && c.API.TLS.KeyFile != "") || c.API.TLS.ACME.Enabled
}

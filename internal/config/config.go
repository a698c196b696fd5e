// Package config provides environment-variable-first configuration loading
// with optional YAML file and .env fallbacks for the contact relay.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEnvFile is loaded when no explicit env file is given and it exists.
const DefaultEnvFile = ".env"

// Provider names accepted by PROVIDER.
const (
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderGraph  = "graph"
	ProviderStdout = "stdout"
)

// Retry strategies accepted by RETRY_STRATEGY.
const (
	RetryFixed       = "fixed"
	RetryExponential = "exponential"
)

// Config holds the complete application configuration.
type Config struct {
	Provider   string `yaml:"provider"`
	RuntimeEnv string `yaml:"runtime_env"`

	Database DatabaseConfig `yaml:"database"`
	Retry    RetryConfig    `yaml:"retry"`
	Mail     MailConfig     `yaml:"mail"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	SES      SESConfig      `yaml:"ses"`
	Graph    GraphConfig    `yaml:"graph"`
	Supabase SupabaseConfig `yaml:"supabase"`
	TLS      TLSConfig      `yaml:"tls"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds the notification source settings.
type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	Channel        string        `yaml:"channel"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
}

// RetryConfig holds the reconnect delays per failure kind.
type RetryConfig struct {
	Strategy       string        `yaml:"strategy"`
	Max            time.Duration `yaml:"max"`
	Connect        time.Duration `yaml:"connect"`
	Subscribe      time.Duration `yaml:"subscribe"`
	ConnectionLost time.Duration `yaml:"connection_lost"`
	Probe          time.Duration `yaml:"probe"`
}

// MailConfig holds settings shared by every provider.
type MailConfig struct {
	FromName    string        `yaml:"from_name"`
	Recipient   string        `yaml:"recipient"`
	SendTimeout time.Duration `yaml:"send_timeout"`

	// RatePerMinute caps provider calls. Zero means unlimited.
	RatePerMinute int `yaml:"rate_per_minute"`
}

// SMTPConfig holds outbound SMTP settings. Username doubles as the sender
// address.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// SupabaseConfig holds the REST endpoint used by the diagnostic commands.
type SupabaseConfig struct {
	URL     string `yaml:"url"`
	AnonKey string `yaml:"anon_key"`
}

// TLSConfig holds the optional CA bundle used when verification is strict.
type TLSConfig struct {
	CAFile string `yaml:"ca_file"`
}

// MetricsConfig holds the ops server address. Empty disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadEnvFile exports the variables in a dotenv file into the process
// environment. Variables that are already set are left untouched. With an
// empty path, DefaultEnvFile is loaded if present.
func LoadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(DefaultEnvFile); err != nil {
			return nil
		}
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Production reports whether strict TLS verification applies.
func (c *Config) Production() bool {
	return strings.EqualFold(c.RuntimeEnv, "production")
}

// SMTPConfigured returns true if SMTP credentials are set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != "" && c.SMTP.Username != "" && c.SMTP.Password != ""
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SupabaseConfigured returns true if the REST endpoint and key are set.
func (c *Config) SupabaseConfigured() bool {
	return c.Supabase.URL != "" && c.Supabase.AnonKey != ""
}

// ResolveProvider returns the provider to use. An explicit PROVIDER wins;
// otherwise SMTP, SES and Graph are tried in that order before stdout.
func (c *Config) ResolveProvider() (string, error) {
	switch p := strings.ToLower(c.Provider); p {
	case ProviderSMTP:
		if !c.SMTPConfigured() {
			return "", errors.New("smtp provider selected but SMTP_HOST, EMAIL_USER, and EMAIL_APP_PASSWORD are required")
		}
		return p, nil
	case ProviderSES:
		if !c.SESConfigured() {
			return "", errors.New("ses provider selected but SES_REGION and SES_SENDER are required")
		}
		return p, nil
	case ProviderGraph:
		if !c.GraphConfigured() {
			return "", errors.New("graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_SENDER are required")
		}
		return p, nil
	case ProviderStdout:
		return p, nil
	case "":
	default:
		return "", fmt.Errorf("unknown provider %q", c.Provider)
	}

	switch {
	case c.SMTPConfigured():
		return ProviderSMTP, nil
	case c.SESConfigured():
		return ProviderSES, nil
	case c.GraphConfigured():
		return ProviderGraph, nil
	default:
		return ProviderStdout, nil
	}
}

// Sender returns the From address for the resolved provider.
func (c *Config) Sender(provider string) string {
	switch provider {
	case ProviderSES:
		return c.SES.Sender
	case ProviderGraph:
		return c.Graph.Sender
	}
	if c.SMTP.Username != "" {
		return c.SMTP.Username
	}
	return c.Mail.Recipient
}

// Validate checks the settings the listener needs to start.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.Database.Channel == "" {
		return errors.New("LISTEN_CHANNEL must not be empty")
	}
	switch c.Retry.Strategy {
	case RetryFixed, RetryExponential:
	default:
		return fmt.Errorf("unknown retry strategy %q", c.Retry.Strategy)
	}
	if c.Database.ProbeInterval <= 0 {
		return errors.New("PROBE_INTERVAL must be positive")
	}
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"RETRY_CONNECT", c.Retry.Connect},
		{"RETRY_SUBSCRIBE", c.Retry.Subscribe},
		{"RETRY_CONNECTION_LOST", c.Retry.ConnectionLost},
		{"RETRY_PROBE", c.Retry.Probe},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive", d.key)
		}
	}
	if c.Retry.Strategy == RetryExponential && c.Retry.Max <= 0 {
		return errors.New("RETRY_MAX must be positive with the exponential strategy")
	}
	return nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.RuntimeEnv = "development"

	c.Database.Channel = "new_contact_message"
	c.Database.ConnectTimeout = 15 * time.Second
	c.Database.ProbeInterval = 30 * time.Second
	c.Database.ProbeTimeout = 5 * time.Second

	c.Retry.Strategy = RetryFixed
	c.Retry.Max = 5 * time.Minute
	c.Retry.Connect = 10 * time.Second
	c.Retry.Subscribe = 1 * time.Second
	c.Retry.ConnectionLost = 5 * time.Second
	c.Retry.Probe = 1 * time.Second

	c.Mail.FromName = "Portfolio Contact"
	c.Mail.Recipient = "postmaster@localhost"
	c.Mail.SendTimeout = 30 * time.Second

	c.SMTP.Host = "smtp.gmail.com"
	c.SMTP.Port = 587

	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	setString(&c.Provider, "PROVIDER")
	setString(&c.RuntimeEnv, "RUNTIME_ENV")

	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Database.Channel, "LISTEN_CHANNEL")

	setString(&c.Retry.Strategy, "RETRY_STRATEGY")

	setString(&c.Mail.FromName, "EMAIL_FROM_NAME")
	setString(&c.Mail.Recipient, "NOTIFICATION_EMAIL")

	setString(&c.SMTP.Host, "SMTP_HOST")
	setString(&c.SMTP.Username, "EMAIL_USER")
	setString(&c.SMTP.Password, "EMAIL_APP_PASSWORD")

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	setString(&c.SES.Sender, "SES_SENDER")

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")
	setString(&c.Graph.Sender, "GRAPH_SENDER")

	setString(&c.Supabase.URL, "SUPABASE_URL")
	setString(&c.Supabase.AnonKey, "SUPABASE_ANON_KEY")

	setString(&c.TLS.CAFile, "TLS_CA_FILE")
	setString(&c.Metrics.Listen, "METRICS_LISTEN")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	c.Retry.Strategy = strings.ToLower(c.Retry.Strategy)

	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid SMTP_PORT %q", v)
		}
		c.SMTP.Port = port
	}

	if v := os.Getenv("SEND_RATE_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid SEND_RATE_PER_MINUTE %q", v)
		}
		c.Mail.RatePerMinute = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CONNECT_TIMEOUT", &c.Database.ConnectTimeout},
		{"PROBE_INTERVAL", &c.Database.ProbeInterval},
		{"PROBE_TIMEOUT", &c.Database.ProbeTimeout},
		{"SEND_TIMEOUT", &c.Mail.SendTimeout},
		{"RETRY_MAX", &c.Retry.Max},
		{"RETRY_CONNECT", &c.Retry.Connect},
		{"RETRY_SUBSCRIBE", &c.Retry.Subscribe},
		{"RETRY_CONNECTION_LOST", &c.Retry.ConnectionLost},
		{"RETRY_PROBE", &c.Retry.Probe},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key); err != nil {
			return err
		}
	}

	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setDuration accepts Go duration strings ("30s") or bare milliseconds.
func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

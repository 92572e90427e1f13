// ABOUTME: Configuration loading and parsing for the eagence chat client
// ABOUTME: Supports YAML (or TOML) files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is left empty.
const (
	DefaultReconnectInterval = time.Second
	DefaultConnectTimeout    = 10 * time.Second
	DefaultOutboundTopic     = "outbound-messages"
	DefaultIntegrationType   = "E-Agence"
	DefaultRequestTimeout    = 15 * time.Second
	DefaultDedupeTTL         = 10 * time.Minute
	DefaultDedupeSize        = 10_000
	DefaultProbeTimeout      = 2 * time.Second
)

// Config represents the complete chat client configuration
type Config struct {
	Broker  BrokerConfig  `yaml:"broker" toml:"broker"`
	Backend BackendConfig `yaml:"backend" toml:"backend"`
	Auth    AuthConfig    `yaml:"auth" toml:"auth"`
	Chat    ChatConfig    `yaml:"chat" toml:"chat"`
	Media   MediaConfig   `yaml:"media" toml:"media"`
	Prefs   PrefsConfig   `yaml:"prefs" toml:"prefs"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// BrokerConfig holds the MQTT broker connection settings
type BrokerConfig struct {
	URL            string `yaml:"url" toml:"url"` // tcp://, ssl://, ws:// or wss://
	ClientIDPrefix string `yaml:"client_id_prefix" toml:"client_id_prefix"`
	Username       string `yaml:"username" toml:"username"`
	Password       string `yaml:"password" toml:"password"`
	OutboundTopic  string `yaml:"outbound_topic" toml:"outbound_topic"`
	QoS            byte   `yaml:"qos" toml:"qos"`

	ReconnectInterval time.Duration `yaml:"-" toml:"-"`
	ConnectTimeout    time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ReconnectIntervalRaw string `yaml:"reconnect_interval" toml:"reconnect_interval"`
	ConnectTimeoutRaw    string `yaml:"connect_timeout" toml:"connect_timeout"`
}

// BackendConfig holds the HTTP endpoints of the portal backend
type BackendConfig struct {
	BaseURL          string `yaml:"base_url" toml:"base_url"`
	TokenPath        string `yaml:"token_path" toml:"token_path"`
	SubscriptionPath string `yaml:"subscription_path" toml:"subscription_path"`
	WebhookURL       string `yaml:"webhook_url" toml:"webhook_url"`   // inbound webhook receiving user messages
	CallbackURL      string `yaml:"callback_url" toml:"callback_url"` // sent as UrlWebhook in envelopes

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// AuthConfig holds session token settings
type AuthConfig struct {
	// JWTSecret enables signature verification of session tokens when set.
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
	// Token is a pre-issued session token; when empty the client asks the
	// token endpoint for one.
	Token    string `yaml:"token" toml:"token"`
	ClientID string `yaml:"client_id" toml:"client_id"`
}

// ChatConfig holds conversation behaviour settings
type ChatConfig struct {
	IntegrationType string `yaml:"integration_type" toml:"integration_type"`
	DedupeSize      int    `yaml:"dedupe_size" toml:"dedupe_size"`

	DedupeTTL    time.Duration `yaml:"-" toml:"-"`
	DedupeTTLRaw string        `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// MediaConfig holds capture settings
type MediaConfig struct {
	PreferredFormats []string `yaml:"preferred_formats" toml:"preferred_formats"`

	ProbeTimeout    time.Duration `yaml:"-" toml:"-"`
	ProbeTimeoutRaw string        `yaml:"probe_timeout" toml:"probe_timeout"`
}

// PrefsConfig holds the local preference database location
type PrefsConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Broker.ReconnectInterval == 0 {
		c.Broker.ReconnectInterval = DefaultReconnectInterval
	}
	if c.Broker.ConnectTimeout == 0 {
		c.Broker.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Broker.OutboundTopic == "" {
		c.Broker.OutboundTopic = DefaultOutboundTopic
	}
	if c.Broker.ClientIDPrefix == "" {
		c.Broker.ClientIDPrefix = "eagence-chat"
	}
	if c.Backend.RequestTimeout == 0 {
		c.Backend.RequestTimeout = DefaultRequestTimeout
	}
	if c.Chat.IntegrationType == "" {
		c.Chat.IntegrationType = DefaultIntegrationType
	}
	if c.Chat.DedupeTTL == 0 {
		c.Chat.DedupeTTL = DefaultDedupeTTL
	}
	if c.Chat.DedupeSize == 0 {
		c.Chat.DedupeSize = DefaultDedupeSize
	}
	if c.Media.ProbeTimeout == 0 {
		c.Media.ProbeTimeout = DefaultProbeTimeout
	}
	if c.Prefs.Path == "" {
		c.Prefs.Path = filepath.Join(DataPath(), "prefs.db")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url is required")
	}
	u, err := url.Parse(c.Broker.URL)
	if err != nil {
		return fmt.Errorf("broker.url is not a valid URL: %w", err)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
	default:
		return fmt.Errorf("broker.url has unsupported scheme %q", u.Scheme)
	}
	if c.Broker.QoS > 2 {
		return fmt.Errorf("broker.qos must be 0, 1 or 2")
	}

	if c.Backend.WebhookURL == "" {
		return fmt.Errorf("backend.webhook_url is required")
	}
	if err := validateHTTPURL("backend.webhook_url", c.Backend.WebhookURL); err != nil {
		return err
	}

	// Without a pre-issued token we must be able to ask for one.
	if c.Auth.Token == "" {
		if c.Backend.BaseURL == "" {
			return fmt.Errorf("backend.base_url is required when auth.token is not set")
		}
		if err := validateHTTPURL("backend.base_url", c.Backend.BaseURL); err != nil {
			return err
		}
	}

	return nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"broker.reconnect_interval", cfg.Broker.ReconnectIntervalRaw, &cfg.Broker.ReconnectInterval},
		{"broker.connect_timeout", cfg.Broker.ConnectTimeoutRaw, &cfg.Broker.ConnectTimeout},
		{"backend.request_timeout", cfg.Backend.RequestTimeoutRaw, &cfg.Backend.RequestTimeout},
		{"chat.dedupe_ttl", cfg.Chat.DedupeTTLRaw, &cfg.Chat.DedupeTTL},
		{"media.probe_timeout", cfg.Media.ProbeTimeoutRaw, &cfg.Media.ProbeTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

// Path returns the path to the client config file.
// Priority: EAGENCE_CONFIG env var > XDG_CONFIG_HOME/eagence/chat.yaml > ~/.config/eagence/chat.yaml
func Path() string {
	if envPath := os.Getenv("EAGENCE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chat.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "eagence", "chat.yaml")
}

// DataPath returns the directory for local client state.
// Priority: XDG_DATA_HOME/eagence > ~/.local/share/eagence
func DataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "eagence")
}

package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Supported service auth schemes.
const (
	SchemeOAuth2 = "oauth2"
	SchemeBasic  = "basic"
)

// Environment variables that override secrets from the config file.
const (
	EnvComponentSecret = "FEEDBRIDGE_COMPONENT_SECRET"
	EnvEncryptionKey   = "FEEDBRIDGE_ENCRYPTION_KEY"
	EnvDatabasePath    = "FEEDBRIDGE_DATABASE_PATH"
	EnvOTLPEndpoint    = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Component ComponentConfig `toml:"component"`
	Database  DatabaseConfig  `toml:"database"`
	Relay     RelayConfig     `toml:"relay"`
	Server    ServerConfig    `toml:"server"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Log       LogConfig       `toml:"log"`
	Services  []ServiceConfig `toml:"services"`
}

// ComponentConfig describes how the relay attaches to the chat server.
type ComponentConfig struct {
	JID    string `toml:"jid"`
	Server string `toml:"server"`
	Secret string `toml:"secret"`
	Nick   string `toml:"nick"`
}

// DatabaseConfig contains database connection settings.
//
// Driver is "sqlite3" (Path is a file path or ":memory:") or "pgx" (Path is a DSN).
type DatabaseConfig struct {
	Driver        string `toml:"driver"`
	Path          string `toml:"path"`
	MaxOpenConns  int    `toml:"max_open_conns"`
	MaxIdleConns  int    `toml:"max_idle_conns"`
	EncryptionKey string `toml:"encryption_key"`
}

// RelayConfig tunes the polling engine.
type RelayConfig struct {
	PollInterval   Duration `toml:"poll_interval"`
	StaleAfter     Duration `toml:"stale_after"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// TelemetryConfig enables OTLP trace export when an endpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint string `toml:"otlp_endpoint"`
	ServiceName  string `toml:"service_name"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// ServiceConfig declares one feed service instance.
type ServiceConfig struct {
	Tag         string  `toml:"tag"`
	Type        string  `toml:"type"`
	APIRoot     string  `toml:"api_root"`
	UseHTTPS    bool    `toml:"use_https"`
	OAuthRoot   string  `toml:"oauth_root"`
	OAuthKey    string  `toml:"oauth_key"`
	OAuthSecret string  `toml:"oauth_secret"`
	SearchRoot  string  `toml:"search_root"`
	SearchHost  string  `toml:"search_host"`
	RateLimit   float64 `toml:"rate_limit"`
}

// Duration is a [time.Duration] that decodes from TOML strings such as "60s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// BaseURL joins the scheme selected by use_https with api_root.
func (s ServiceConfig) BaseURL() string {
	root := strings.TrimSuffix(s.APIRoot, "/")
	if strings.HasPrefix(root, "http://") || strings.HasPrefix(root, "https://") {
		return root
	}
	if s.UseHTTPS {
		return "https://" + root
	}
	return "http://" + root
}

// Validate checks the required keys for the service's auth scheme.
func (s ServiceConfig) Validate() error {
	if s.Tag == "" {
		return fmt.Errorf("%w: service is missing tag", ErrInvalidConfig)
	}
	if s.APIRoot == "" {
		return fmt.Errorf("%w: service %q is missing api_root", ErrInvalidConfig, s.Tag)
	}

	switch s.Type {
	case SchemeOAuth2:
		if s.OAuthRoot == "" || s.OAuthKey == "" || s.OAuthSecret == "" {
			return fmt.Errorf("%w: service %q requires oauth_root, oauth_key and oauth_secret", ErrInvalidConfig, s.Tag)
		}
	case SchemeBasic:
	case "":
		return fmt.Errorf("%w: service %q is missing type", ErrInvalidConfig, s.Tag)
	default:
		return fmt.Errorf("%w: service %q has type %q", ErrUnsupportedScheme, s.Tag, s.Type)
	}
	return nil
}

// Validate checks the whole configuration, including duplicate service tags.
func (c *Config) Validate() error {
	if c.Component.JID == "" {
		return fmt.Errorf("%w: component.jid is required", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		if err := svc.Validate(); err != nil {
			return err
		}
		if seen[svc.Tag] {
			return fmt.Errorf("%w: duplicate service tag %q", ErrInvalidConfig, svc.Tag)
		}
		seen[svc.Tag] = true
	}
	return nil
}

// Service returns the declared service matching tag and scheme.
func (c *Config) Service(tag, scheme string) (ServiceConfig, bool) {
	for _, svc := range c.Services {
		if svc.Tag == tag && svc.Type == scheme {
			return svc, true
		}
	}
	return ServiceConfig{}, false
}

// ServiceByTag returns the declared service with the given tag.
func (c *Config) ServiceByTag(tag string) (ServiceConfig, bool) {
	for _, svc := range c.Services {
		if svc.Tag == tag {
			return svc, true
		}
	}
	return ServiceConfig{}, false
}

// ApplyDefaults fills zero values that the file may omit.
func (c *Config) ApplyDefaults() {
	if c.Component.Nick == "" {
		c.Component.Nick = "feedbridge"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Relay.PollInterval.Duration <= 0 {
		c.Relay.PollInterval.Duration = 60 * time.Second
	}
	if c.Relay.StaleAfter.Duration <= 0 {
		c.Relay.StaleAfter.Duration = 300 * time.Second
	}
	if c.Relay.RequestTimeout.Duration <= 0 {
		c.Relay.RequestTimeout.Duration = 30 * time.Second
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "feedbridge"
	}
}

// ApplyEnv overrides secrets and paths from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvComponentSecret); v != "" {
		c.Component.Secret = v
	}
	if v := os.Getenv(EnvEncryptionKey); v != "" {
		c.Database.EncryptionKey = v
	}
	if v := os.Getenv(EnvDatabasePath); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvOTLPEndpoint); v != "" && c.Telemetry.OTLPEndpoint == "" {
		c.Telemetry.OTLPEndpoint = v
	}
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes TOML data and applies defaults.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	config, err := ParseConfig(exampleConf)
	if err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ABOUTME: Configuration loading and parsing for the gatekeeper
// ABOUTME: YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gatekeeper configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Upstreams UpstreamsConfig `yaml:"upstreams"`
	Robots    RobotsConfig    `yaml:"robots"`
	Static    StaticConfig    `yaml:"static"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds the inbound listener configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// AuthConfig holds authentication configuration: the Identity Authority
// endpoint, key material, and the public (anonymous) identity.
type AuthConfig struct {
	// ServiceURL is the base URL of the Identity Authority.
	ServiceURL string `yaml:"service_url"`

	// PublicKey and PrivateKey are paths to the PEM RSA pair used to
	// verify and re-sign session auth tokens.
	PublicKey  string `yaml:"public_key"`
	PrivateKey string `yaml:"private_key"`

	// CAFile is an optional truststore bundle for the authority's TLS
	// endpoint. When the file is missing the system roots are used.
	CAFile string `yaml:"ca_file"`

	// APIKey authorizes identity-token issuance for the public profile.
	APIKey string `yaml:"api_key"`

	// PublicSubject is the session-token subject for anonymous access;
	// PublicID is the matching profile identifier at the authority.
	PublicSubject string `yaml:"public_subject"`
	PublicID      string `yaml:"public_id"`

	// System is the group/system membership stamped into public tokens.
	System string `yaml:"system"`

	// DisableRefresh switches the cookie-pair path to legacy local
	// signature verification instead of an authority refresh call.
	DisableRefresh bool `yaml:"disable_refresh"`

	// KeyFaultStatus is the HTTP status returned when key material
	// cannot be loaded during verification. Defaults to 500.
	KeyFaultStatus int `yaml:"key_fault_status"`

	TokenTTL time.Duration `yaml:"-"`
	Timeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TokenTTLRaw string `yaml:"token_ttl"`
	TimeoutRaw  string `yaml:"timeout"`
}

// UpstreamsConfig holds the two proxied service endpoints.
type UpstreamsConfig struct {
	PackageURL string `yaml:"package_url"`
	AuditURL   string `yaml:"audit_url"`

	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// RobotsConfig locates the robot pattern file, one pattern per line.
type RobotsConfig struct {
	Path string `yaml:"path"`
}

// StaticConfig holds static asset serving configuration.
type StaticConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults applied by Load when the file leaves fields unset.
const (
	DefaultTokenTTL        = 8 * time.Hour
	DefaultUpstreamTimeout = 2 * time.Minute
	DefaultMetricsPath     = "/metrics"
)

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
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

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Auth.KeyFaultStatus == 0 {
		c.Auth.KeyFaultStatus = http.StatusInternalServerError
	}
	if c.Upstreams.Timeout == 0 {
		c.Upstreams.Timeout = DefaultUpstreamTimeout
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Auth.ServiceURL == "" {
		return fmt.Errorf("auth.service_url is required")
	}
	if _, err := url.Parse(c.Auth.ServiceURL); err != nil {
		return fmt.Errorf("auth.service_url: %w", err)
	}
	if c.Auth.PublicKey == "" {
		return fmt.Errorf("auth.public_key is required")
	}
	if c.Auth.PrivateKey == "" {
		return fmt.Errorf("auth.private_key is required")
	}
	if c.Auth.PublicSubject == "" {
		return fmt.Errorf("auth.public_subject is required")
	}
	if c.Auth.PublicID == "" {
		return fmt.Errorf("auth.public_id is required")
	}

	for name, raw := range map[string]string{
		"upstreams.package_url": c.Upstreams.PackageURL,
		"upstreams.audit_url":   c.Upstreams.AuditURL,
	} {
		if raw == "" {
			return fmt.Errorf("%s is required", name)
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", name)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing auth.token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	if cfg.Auth.TimeoutRaw != "" {
		cfg.Auth.Timeout, err = time.ParseDuration(cfg.Auth.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing auth.timeout %q: %w", cfg.Auth.TimeoutRaw, err)
		}
	}

	if cfg.Upstreams.TimeoutRaw != "" {
		cfg.Upstreams.Timeout, err = time.ParseDuration(cfg.Upstreams.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing upstreams.timeout %q: %w", cfg.Upstreams.TimeoutRaw, err)
		}
	}

	return nil
}

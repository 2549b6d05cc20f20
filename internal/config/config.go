// Package config loads the command line client's settings from defaults, an
// optional YAML file, APICLIENT_* environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. APICLIENT_AUTH_CLIENT_ID.
const EnvPrefix = "APICLIENT"

// Token providers.
const (
	ProviderClientCredentials = "client_credentials"
	ProviderAzureAD           = "azuread"
)

// Config is the complete client configuration.
type Config struct {
	BaseURL            string        `mapstructure:"base_url"`
	Scopes             []string      `mapstructure:"scopes"`
	TokenRefreshMargin time.Duration `mapstructure:"token_refresh_margin"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	Auth               AuthConfig    `mapstructure:"auth"`
	TLS                TLSConfig     `mapstructure:"tls"`
	Log                LogConfig     `mapstructure:"log"`
}

// AuthConfig selects and configures the token provider.
type AuthConfig struct {
	Provider     string `mapstructure:"provider"`
	TokenURL     string `mapstructure:"token_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TenantID     string `mapstructure:"tenant_id"`
	AuthorityURL string `mapstructure:"authority_url"`
}

// TLSConfig configures the connection to the API.
type TLSConfig struct {
	CAFile             string `mapstructure:"ca_file"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// Enabled reports whether any TLS file is configured.
func (t TLSConfig) Enabled() bool {
	return t.CAFile != "" || t.CertFile != "" || t.KeyFile != ""
}

// LogConfig configures the command line logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key with its default value. Keys must be known
// to viper for AutomaticEnv to pick up their environment variables.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "")
	v.SetDefault("scopes", []string{})
	v.SetDefault("token_refresh_margin", "60s")
	v.SetDefault("request_timeout", "0s")

	v.SetDefault("auth.provider", ProviderClientCredentials)
	v.SetDefault("auth.token_url", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.tenant_id", "")
	v.SetDefault("auth.authority_url", "")

	v.SetDefault("tls.ca_file", "")
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.insecure_skip_verify", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile, if set, into v and decodes the result. The returned
// configuration is normalized but not validated.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	c.normalize()
	return &c, nil
}

func (c *Config) normalize() {
	c.BaseURL = strings.TrimSpace(c.BaseURL)
	c.Auth.Provider = strings.ToLower(strings.TrimSpace(c.Auth.Provider))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))

	// Scopes arrive as a YAML list, a comma separated flag or a space
	// separated environment variable.
	var scopes []string
	seen := make(map[string]bool)
	for _, entry := range c.Scopes {
		for _, scope := range strings.FieldsFunc(entry, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		}) {
			if !seen[scope] {
				seen[scope] = true
				scopes = append(scopes, scope)
			}
		}
	}
	c.Scopes = scopes
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	} else if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("base_url %q must be an absolute http or https URL", c.BaseURL))
	}

	if c.TokenRefreshMargin < 0 {
		errs = append(errs, errors.New("token_refresh_margin must not be negative"))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, errors.New("request_timeout must not be negative"))
	}

	if c.Auth.ClientID == "" {
		errs = append(errs, errors.New("auth.client_id is required"))
	}
	if c.Auth.ClientSecret == "" {
		errs = append(errs, errors.New("auth.client_secret is required"))
	}

	switch c.Auth.Provider {
	case ProviderClientCredentials:
		if c.Auth.TokenURL == "" {
			errs = append(errs, errors.New("auth.token_url is required for the client_credentials provider"))
		}
	case ProviderAzureAD:
		if c.Auth.TenantID == "" && c.Auth.AuthorityURL == "" {
			errs = append(errs, errors.New("auth.tenant_id or auth.authority_url is required for the azuread provider"))
		}
		if len(c.Scopes) == 0 {
			errs = append(errs, errors.New("scopes are required for the azuread provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.provider %q is not one of %s, %s",
			c.Auth.Provider, ProviderClientCredentials, ProviderAzureAD))
	}

	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of console, json", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Redacted returns a copy with the client secret masked.
func (c Config) Redacted() Config {
	if c.Auth.ClientSecret != "" {
		c.Auth.ClientSecret = "REDACTED"
	}
	c.Scopes = append([]string(nil), c.Scopes...)
	return c
}

// view is the YAML form of Config. Durations are rendered as strings.
type view struct {
	BaseURL            string   `yaml:"base_url"`
	Scopes             []string `yaml:"scopes"`
	TokenRefreshMargin string   `yaml:"token_refresh_margin"`
	RequestTimeout     string   `yaml:"request_timeout"`
	Auth               authView `yaml:"auth"`
	TLS                tlsView  `yaml:"tls"`
	Log                logView  `yaml:"log"`
}

type authView struct {
	Provider     string `yaml:"provider"`
	TokenURL     string `yaml:"token_url,omitempty"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TenantID     string `yaml:"tenant_id,omitempty"`
	AuthorityURL string `yaml:"authority_url,omitempty"`
}

type tlsView struct {
	CAFile             string `yaml:"ca_file,omitempty"`
	CertFile           string `yaml:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

type logView struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// YAML renders the configuration with the client secret redacted.
func (c Config) YAML() ([]byte, error) {
	r := c.Redacted()
	return yaml.Marshal(view{
		BaseURL:            r.BaseURL,
		Scopes:             r.Scopes,
		TokenRefreshMargin: r.TokenRefreshMargin.String(),
		RequestTimeout:     r.RequestTimeout.String(),
		Auth:               authView(r.Auth),
		TLS:                tlsView(r.TLS),
		Log:                logView(r.Log),
	})
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/nhle/mailsync/internal/credential"
)

// tokenCredentialKey is the keyring entry consulted when the provider
// token is configured neither in the config file nor the environment.
const tokenCredentialKey = "provider_token"

// tokenEnvVar overrides the configured provider token when set.
const tokenEnvVar = "MAILSYNC_PROVIDER_TOKEN"

// ProviderConfig holds connection settings for the mail provider API.
type ProviderConfig struct {
	// BaseURL is the root URL of the provider's REST API.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// Token is the bearer token for API calls. Leave empty to resolve
	// from the environment or the system keyring instead.
	Token string `mapstructure:"token" yaml:"token"`

	// PageSize is the number of threads requested per list page.
	PageSize int `mapstructure:"page_size" yaml:"page_size"`

	// MaxAttempts bounds retries of a single thread-detail fetch.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`

	// RetryBaseDelayMs is the base of the exponential backoff between
	// retry attempts, in milliseconds.
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`

	// TimeoutSec is the per-request HTTP timeout.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`

	// RequestsPerSecond and Burst configure client-side throttling of
	// provider calls.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// MatchConfig holds matching-cascade settings.
type MatchConfig struct {
	// FreeDomains are consumer/webmail domains excluded from the
	// business-domain strategy.
	FreeDomains []string `mapstructure:"free_domains" yaml:"free_domains"`
}

// IngestConfig holds run-level ingestion settings.
type IngestConfig struct {
	// OperatorDomains are the operator's own sending domains, used to
	// derive message direction.
	OperatorDomains []string `mapstructure:"operator_domains" yaml:"operator_domains"`
}

// Config is the top-level application configuration.
type Config struct {
	DBPath   string         `mapstructure:"db_path" yaml:"db_path"`
	LogLevel string         `mapstructure:"log_level" yaml:"log_level"`
	Provider ProviderConfig `mapstructure:"provider" yaml:"provider"`
	Match    MatchConfig    `mapstructure:"match" yaml:"match"`
	Ingest   IngestConfig   `mapstructure:"ingest" yaml:"ingest"`
}

// defaultFreeDomains are the major consumer mail providers. A participant
// on one of these domains never identifies a business account.
var defaultFreeDomains = []string{
	"gmail.com", "googlemail.com", "yahoo.com", "hotmail.com",
	"outlook.com", "live.com", "msn.com", "icloud.com", "me.com",
	"aol.com", "protonmail.com", "proton.me", "gmx.com", "gmx.de",
	"mail.com", "yandex.com",
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailsync", "config.yaml")
}

// defaultDBPath returns the default sqlite database location.
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "mailsync.db")
	}
	return filepath.Join(home, ".local", "share", "mailsync", "mailsync.db")
}

// defaultConfig returns a sensible default configuration.
func defaultConfig() *Config {
	return &Config{
		DBPath:   defaultDBPath(),
		LogLevel: "info",
		Provider: ProviderConfig{
			PageSize:          100,
			MaxAttempts:       3,
			RetryBaseDelayMs:  500,
			TimeoutSec:        30,
			RequestsPerSecond: 10,
			Burst:             5,
		},
		Match: MatchConfig{
			FreeDomains: defaultFreeDomains,
		},
	}
}

// Load reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("log_level", "info")
	v.SetDefault("provider.page_size", 100)
	v.SetDefault("provider.max_attempts", 3)
	v.SetDefault("provider.retry_base_delay_ms", 500)
	v.SetDefault("provider.timeout_sec", 30)
	v.SetDefault("provider.requests_per_second", 10)
	v.SetDefault("provider.burst", 5)
	v.SetDefault("match.free_domains", defaultFreeDomains)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// ResolveToken returns the provider API token, checking the config value,
// then the environment, then the system keyring.
func (c *Config) ResolveToken() (string, error) {
	if c.Provider.Token != "" {
		return c.Provider.Token, nil
	}
	if tok := os.Getenv(tokenEnvVar); tok != "" {
		return tok, nil
	}

	tok, err := credential.Get(tokenCredentialKey)
	if err != nil {
		return "", fmt.Errorf(
			"no provider token in config, %s or keyring: %w",
			tokenEnvVar, err,
		)
	}
	return tok, nil
}

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/marcelsud/finsync/connection"
	"github.com/marcelsud/finsync/ratelimit"
)

/* Config is loaded once at startup from .env plus the process
 * environment; the environment wins
 */

type Config struct {
	Port string `mapstructure:"PORT"`

	// Connection mode selection
	ConnectionMode string `mapstructure:"CONNECTION_MODE"`
	PublicURL      string `mapstructure:"PUBLIC_URL"`
	ProbeURL       string `mapstructure:"PROBE_URL"`

	// Relay service credentials
	RelayURL       string `mapstructure:"RELAY_URL"`
	RelayWebhookID string `mapstructure:"RELAY_WEBHOOK_ID"`
	RelayAPIKey    string `mapstructure:"RELAY_API_KEY"`

	// Webhook processing
	SourcesFile string `mapstructure:"SOURCES_FILE"`
	CachePath   string `mapstructure:"CACHE_PATH"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`

	// Downstream sync engine
	SyncEngineURL string `mapstructure:"SYNC_ENGINE_URL"`

	// Sync rate limiting
	RateLimitManual     int     `mapstructure:"RATE_LIMIT_MANUAL"`
	RateLimitWebhook    int     `mapstructure:"RATE_LIMIT_WEBHOOK"`
	RateLimitWindowSecs int     `mapstructure:"RATE_LIMIT_WINDOW_SECONDS"`
	CircuitThreshold    float64 `mapstructure:"CIRCUIT_THRESHOLD"`

	// Webhook manager health checking
	HealthCheckIntervalSecs int  `mapstructure:"HEALTH_CHECK_INTERVAL_SECONDS"`
	AutoModeSwitching       bool `mapstructure:"AUTO_MODE_SWITCHING"`
	AutoUpgrade             bool `mapstructure:"AUTO_UPGRADE"`

	// OAuth completion
	OAuthTimeoutMins int `mapstructure:"OAUTH_TIMEOUT_MINUTES"`
}

func GetConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("CONNECTION_MODE", "auto")
	viper.SetDefault("SOURCES_FILE", "sources.yaml")
	viper.SetDefault("CACHE_PATH", ".finsync/webhook-cache.json")
	viper.SetDefault("AUTO_MODE_SWITCHING", true)
	viper.SetDefault("AUTO_UPGRADE", true)

	if err := viper.ReadInConfig(); err != nil {
		// A missing .env is fine; the environment alone can carry
		// the whole configuration
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	return &config, nil
}

// Mode parses the configured connection mode
func (c *Config) Mode() (connection.Mode, error) {
	mode, err := connection.ParseMode(c.ConnectionMode)
	if err != nil {
		return 0, fmt.Errorf("CONNECTION_MODE: %w", err)
	}
	return mode, nil
}

// ConnectionConfig assembles the selector's configuration
func (c *Config) ConnectionConfig() (connection.Config, error) {
	mode, err := c.Mode()
	if err != nil {
		return connection.Config{}, err
	}
	return connection.Config{
		Mode:           mode,
		PublicURL:      c.PublicURL,
		ProbeURL:       c.ProbeURL,
		RelayWebhookID: c.RelayWebhookID,
		RelayAPIKey:    c.RelayAPIKey,
	}, nil
}

// RateLimitConfig assembles the sync limiter's configuration.
// Zero values fall through to the limiter's defaults.
func (c *Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		ManualLimit:      c.RateLimitManual,
		WebhookLimit:     c.RateLimitWebhook,
		Window:           time.Duration(c.RateLimitWindowSecs) * time.Second,
		CircuitThreshold: c.CircuitThreshold,
	}
}

// HealthCheckInterval returns the manager's health-check cadence,
// zero meaning "use the default"
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSecs) * time.Second
}

// OAuthTimeout returns the oauth session timeout, zero meaning
// "use the default"
func (c *Config) OAuthTimeout() time.Duration {
	return time.Duration(c.OAuthTimeoutMins) * time.Minute
}

// RelayConfigured reports whether relay credentials are present
func (c *Config) RelayConfigured() bool {
	return c.RelayURL != "" && c.RelayWebhookID != "" && c.RelayAPIKey != ""
}

// Package config provides configuration management for dowser using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"dowser/pkg/httpclient"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultFetchTimeout       = 20 * time.Second
	defaultFetchRetries       = 2
	defaultFetchRetryDelay    = 500 * time.Millisecond
	defaultFetchRetryMaxDelay = 8 * time.Second
	defaultCircuitThreshold   = 5
	defaultCircuitTimeout     = 30 * time.Second

	defaultPluginTimeout = 30 * time.Second
	defaultProbeTimeout  = 6 * time.Second

	defaultRelayTimeout = 30 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Relay    RelayConfig    `mapstructure:"relay"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout deadlines the whole response. It defaults to 0 (none)
	// because relayed streams stay open for as long as the player reads.
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// FetchConfig holds outbound HTTP client configuration.
type FetchConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"`
	UserAgent        string        `mapstructure:"user_agent"` // empty = built-in browser identity
	MaxResponseSize  ByteSize      `mapstructure:"max_response_size"`
	CircuitThreshold int           `mapstructure:"circuit_threshold"`
	CircuitTimeout   time.Duration `mapstructure:"circuit_timeout"`
	// AcceptableStatusCodes overrides breaker success accounting,
	// e.g. "200-299,404". Empty keeps the client default.
	AcceptableStatusCodes string `mapstructure:"acceptable_status_codes"`
}

// ResolverConfig holds resolution run configuration.
type ResolverConfig struct {
	PluginTimeout time.Duration `mapstructure:"plugin_timeout"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	ProbeMaxBytes ByteSize      `mapstructure:"probe_max_bytes"`
	// SourceOrder and EmbedOrder are the default provider preferences for
	// API calls that do not state their own.
	SourceOrder []string `mapstructure:"source_order"`
	EmbedOrder  []string `mapstructure:"embed_order"`
}

// RelayConfig holds stream relay configuration.
type RelayConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// PublicURL is the externally reachable base URL of the relay endpoint,
	// used when rewriting streams. Empty derives it from the server address.
	PublicURL       string        `mapstructure:"public_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxPlaylistSize ByteSize      `mapstructure:"max_playlist_size"`
	// ForwardHeaders lists the client request headers the relay passes
	// through to the upstream origin. Headers carried in the h parameter
	// always win over forwarded ones.
	ForwardHeaders []string `mapstructure:"forward_headers"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with DOWSER_ and use underscores for
// nesting. Example: DOWSER_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/dowser")
		v.AddConfigPath("$HOME/.dowser")
	}

	// Environment variable settings
	v.SetEnvPrefix("DOWSER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, DecodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DecodeHook returns the viper decoder option used to unmarshal Config.
// It keeps viper's stock duration and slice handling and adds
// encoding.TextUnmarshaler support so ByteSize values like "2MB" decode.
func DecodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so defaults are in
// place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.idle_timeout", defaultIdleTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Fetch defaults
	v.SetDefault("fetch.timeout", defaultFetchTimeout)
	v.SetDefault("fetch.retry_attempts", defaultFetchRetries)
	v.SetDefault("fetch.retry_delay", defaultFetchRetryDelay)
	v.SetDefault("fetch.retry_max_delay", defaultFetchRetryMaxDelay)
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.max_response_size", "32MB")
	v.SetDefault("fetch.circuit_threshold", defaultCircuitThreshold)
	v.SetDefault("fetch.circuit_timeout", defaultCircuitTimeout)
	v.SetDefault("fetch.acceptable_status_codes", "")

	// Resolver defaults
	v.SetDefault("resolver.plugin_timeout", defaultPluginTimeout)
	v.SetDefault("resolver.probe_timeout", defaultProbeTimeout)
	v.SetDefault("resolver.probe_max_bytes", "256KB")
	v.SetDefault("resolver.source_order", []string{})
	v.SetDefault("resolver.embed_order", []string{})

	// Relay defaults
	v.SetDefault("relay.enabled", true)
	v.SetDefault("relay.public_url", "")
	v.SetDefault("relay.timeout", defaultRelayTimeout)
	v.SetDefault("relay.max_playlist_size", "2MB")
	v.SetDefault("relay.forward_headers", []string{"Range", "Accept", "Accept-Language"})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Logging validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Fetch validation
	if c.Fetch.RetryAttempts < 0 {
		return fmt.Errorf("fetch.retry_attempts must not be negative")
	}
	if _, err := httpclient.ParseStatusCodes(c.Fetch.AcceptableStatusCodes); err != nil {
		return fmt.Errorf("fetch.acceptable_status_codes: %w", err)
	}

	// Resolver validation
	if c.Resolver.ProbeTimeout < 0 {
		return fmt.Errorf("resolver.probe_timeout must not be negative")
	}

	// Relay validation
	if c.Relay.PublicURL != "" {
		u, err := url.Parse(c.Relay.PublicURL)
		if err != nil {
			return fmt.Errorf("relay.public_url: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("relay.public_url must be an absolute http or https URL")
		}
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

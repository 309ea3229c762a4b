// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the daemon configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Server     ServerConfig     `yaml:"server"`
	Transport  TransportConfig  `yaml:"transport"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Paths      PathsConfig      `yaml:"paths"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	// Per-environment overrides, applied after the base config.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Server    *ServerConfig    `yaml:"server,omitempty"`
	Transport *TransportConfig `yaml:"transport,omitempty"`
	Logging   *LoggingConfig   `yaml:"logging,omitempty"`
	Metrics   *MetricsConfig   `yaml:"metrics,omitempty"`
}

// ServerConfig locates the relay server.
type ServerConfig struct {
	// URL is the http(s) base URL. The socket endpoint is derived from
	// it by swapping the scheme to ws(s).
	URL string `yaml:"url"`

	// HTTPTimeout bounds each REST call.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// NoJitter as transport.jitter_factor disables reconnect jitter. It
// matches transport.NoJitter.
const NoJitter = -1.0

// TransportConfig tunes the socket client.
type TransportConfig struct {
	ReconnectBase     time.Duration `yaml:"reconnect_base"`
	ReconnectMax      time.Duration `yaml:"reconnect_max"`
	// JitterFactor spreads reconnect delays by +/- the factor. Zero
	// leaves the default of 0.5 and NoJitter (-1) turns jitter off.
	JitterFactor      float64       `yaml:"jitter_factor"`
	AckTimeout        time.Duration `yaml:"ack_timeout"`
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
}

// EncryptionConfig tunes key-version bookkeeping.
type EncryptionConfig struct {
	// KeyRetention is how many key versions stay decryptable.
	KeyRetention int `yaml:"key_retention"`

	// AutoRotateInterval enables periodic rotation when positive.
	AutoRotateInterval time.Duration `yaml:"auto_rotate_interval"`

	// EscrowRecipient is an optional age1... key that can also open
	// the persisted key state.
	EscrowRecipient string `yaml:"escrow_recipient"`
}

// PathsConfig configures file locations.
type PathsConfig struct {
	// Home is the daemon's data directory.
	Home string `yaml:"home"`

	// Credentials is the access.key file written at login.
	Credentials string `yaml:"credentials"`

	// KeyState is the sealed key-version state file.
	KeyState string `yaml:"key_state"`

	// KeyIdentity is the age identity that seals KeyState. Created on
	// first run.
	KeyIdentity string `yaml:"key_identity"`

	// DaemonState is the daemon's local status file, encrypted under
	// the current key version.
	DaemonState string `yaml:"daemon_state"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is a host:port for /metrics. Empty disables it.
	Listen string `yaml:"listen"`
}

// Default returns the default configuration, used as the base before
// the config file is merged in.
func Default() *Config {
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			URL:         "https://api.cluster-fluster.com",
			HTTPTimeout: 30 * time.Second,
		},
		Transport: TransportConfig{
			ReconnectBase:     time.Second,
			ReconnectMax:      30 * time.Second,
			JitterFactor:      0.5,
			AckTimeout:        5 * time.Second,
			KeepAliveInterval: 20 * time.Second,
		},
		Encryption: EncryptionConfig{
			KeyRetention: 10,
		},
		Paths: PathsConfig{
			Home:        "${HAPPY_HOME_DIR:-${HOME}/.happy}",
			Credentials: "${HAPPY_HOME_DIR}/access.key",
			KeyState:    "${HAPPY_HOME_DIR}/keys.age",
			KeyIdentity: "${HAPPY_HOME_DIR}/identity.age",
			DaemonState: "${HAPPY_HOME_DIR}/daemon.state",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadDefault returns Default with paths expanded, for running without
// a config file.
func LoadDefault() *Config {
	cfg := Default()
	cfg.expandVariables()
	return cfg
}

// Load loads configuration from the HAPPY_CONFIG environment variable.
func Load() (*Config, error) {
	configPath := os.Getenv("HAPPY_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("HAPPY_CONFIG environment variable not set; " +
			"set it to the path of your happy.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Server != nil {
		if overrides.Server.URL != "" {
			c.Server.URL = overrides.Server.URL
		}
		if overrides.Server.HTTPTimeout > 0 {
			c.Server.HTTPTimeout = overrides.Server.HTTPTimeout
		}
	}

	if overrides.Transport != nil {
		if overrides.Transport.ReconnectBase > 0 {
			c.Transport.ReconnectBase = overrides.Transport.ReconnectBase
		}
		if overrides.Transport.ReconnectMax > 0 {
			c.Transport.ReconnectMax = overrides.Transport.ReconnectMax
		}
		if overrides.Transport.JitterFactor != 0 {
			c.Transport.JitterFactor = overrides.Transport.JitterFactor
		}
		if overrides.Transport.AckTimeout > 0 {
			c.Transport.AckTimeout = overrides.Transport.AckTimeout
		}
		if overrides.Transport.KeepAliveInterval > 0 {
			c.Transport.KeepAliveInterval = overrides.Transport.KeepAliveInterval
		}
	}

	if overrides.Logging != nil && overrides.Logging.Level != "" {
		c.Logging.Level = overrides.Logging.Level
	}

	// An override section that names metrics replaces the listen
	// address outright, so production can disable it with "".
	if overrides.Metrics != nil {
		c.Metrics.Listen = overrides.Metrics.Listen
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Paths.Home = filepath.Clean(expandVars(c.Paths.Home, vars))
	vars["HAPPY_HOME_DIR"] = c.Paths.Home

	c.Paths.Credentials = expandVars(c.Paths.Credentials, vars)
	c.Paths.KeyState = expandVars(c.Paths.KeyState, vars)
	c.Paths.KeyIdentity = expandVars(c.Paths.KeyIdentity, vars)
	c.Paths.DaemonState = expandVars(c.Paths.DaemonState, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-((?:[^{}]|\$\{[^}]*\})*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. The default may itself
// hold one level of ${VAR}.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		if len(parts) >= 3 && parts[2] != "" {
			return expandVars(parts[2], vars)
		}
		return ""
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Server.URL == "" {
		errs = append(errs, fmt.Errorf("server.url is required"))
	} else if parsed, err := url.Parse(c.Server.URL); err != nil {
		errs = append(errs, fmt.Errorf("server.url: %w", err))
	} else if parsed.Scheme != "http" && parsed.Scheme != "https" {
		errs = append(errs, fmt.Errorf("server.url scheme must be http or https, got %q", parsed.Scheme))
	}

	if c.Transport.ReconnectBase <= 0 {
		errs = append(errs, fmt.Errorf("transport.reconnect_base must be positive"))
	}
	if c.Transport.ReconnectMax < c.Transport.ReconnectBase {
		errs = append(errs, fmt.Errorf("transport.reconnect_max must be >= reconnect_base"))
	}
	if jitter := c.Transport.JitterFactor; jitter != NoJitter && (jitter < 0 || jitter > 1) {
		errs = append(errs, fmt.Errorf("transport.jitter_factor must be in [0, 1], or -1 for no jitter"))
	}
	if c.Transport.AckTimeout <= 0 {
		errs = append(errs, fmt.Errorf("transport.ack_timeout must be positive"))
	}

	if c.Encryption.KeyRetention < 1 {
		errs = append(errs, fmt.Errorf("encryption.key_retention must be at least 1"))
	}

	if c.Paths.Home == "" {
		errs = append(errs, fmt.Errorf("paths.home is required"))
	}
	if c.Paths.Credentials == "" {
		errs = append(errs, fmt.Errorf("paths.credentials is required"))
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// EnsurePaths creates the home directory.
func (c *Config) EnsurePaths() error {
	if err := os.MkdirAll(c.Paths.Home, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", c.Paths.Home, err)
	}
	return nil
}

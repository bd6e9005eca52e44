// Copyright 2026 The IndieNet Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for an IndieNet agent.
type Config struct {
	// Identity configures the local keystore.
	Identity IdentityConfig `yaml:"identity"`

	// Relays is the list of relay websocket URLs the agent maintains
	// connections to. At least one is required; more relays mean more
	// redundancy, and duplicate deliveries are collapsed client-side.
	Relays []string `yaml:"relays"`

	// Discovery configures how the agent finds peers on the shared
	// network.
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Connection tunes per-relay connection behavior.
	Connection ConnectionConfig `yaml:"connection"`

	// Pool tunes the client-side fan-in machinery shared across
	// relays.
	Pool PoolConfig `yaml:"pool"`

	// Logging configures diagnostic output.
	Logging LoggingConfig `yaml:"logging"`
}

// IdentityConfig configures the local keystore.
type IdentityConfig struct {
	// StorePath is the passphrase-encrypted identity file.
	// Default: ${INDIENET_ROOT}/identity.age
	StorePath string `yaml:"store_path"`

	// DisplayName is the human label published in the agent's
	// profile. Optional.
	DisplayName string `yaml:"display_name"`
}

// DiscoveryConfig configures peer discovery.
type DiscoveryConfig struct {
	// Tag is the topic tag that marks public notes as belonging to
	// the shared network. The agent tags its own public notes with it
	// and subscribes to notes carrying it.
	// Default: IndieNet
	Tag string `yaml:"tag"`
}

// ConnectionConfig tunes per-relay connection behavior. Durations are
// Go duration strings ("1s", "250ms").
type ConnectionConfig struct {
	// DialTimeout bounds the websocket handshake.
	// Default: 10s
	DialTimeout string `yaml:"dial_timeout"`

	// BackoffInitial is the first reconnect delay after a drop.
	// Default: 1s
	BackoffInitial string `yaml:"backoff_initial"`

	// BackoffMax caps the exponential reconnect delay.
	// Default: 60s
	BackoffMax string `yaml:"backoff_max"`

	// SendQueueSize is the per-relay outbound frame queue. When full,
	// the oldest frame is dropped and a warning logged.
	// Default: 128
	SendQueueSize int `yaml:"send_queue_size"`

	// DegradedAfter is the consecutive-failure count after which a
	// relay is reported degraded in health snapshots. Reconnection
	// continues regardless.
	// Default: 5
	DegradedAfter int `yaml:"degraded_after"`
}

// PoolConfig tunes the fan-in machinery shared across relays.
type PoolConfig struct {
	// DedupCacheSize is the number of recently seen event ids kept
	// for cross-relay duplicate suppression.
	// Default: 4096
	DedupCacheSize int `yaml:"dedup_cache_size"`

	// DispatchQueueSize is the bounded queue between connection read
	// loops and the dispatch goroutine.
	// Default: 256
	DispatchQueueSize int `yaml:"dispatch_queue_size"`
}

// LoggingConfig configures diagnostic output.
type LoggingConfig struct {
	// Level is the minimum level emitted: debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`
}

// Default returns the default configuration. These defaults ensure
// every field has a sensible value before the file is merged in; the
// config file itself is still required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "indienet")

	return &Config{
		Identity: IdentityConfig{
			StorePath: filepath.Join(defaultRoot, "identity.age"),
		},
		Discovery: DiscoveryConfig{
			Tag: "IndieNet",
		},
		Connection: ConnectionConfig{
			DialTimeout:    "10s",
			BackoffInitial: "1s",
			BackoffMax:     "60s",
			SendQueueSize:  128,
			DegradedAfter:  5,
		},
		Pool: PoolConfig{
			DedupCacheSize:    4096,
			DispatchQueueSize: 256,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the INDIENET_CONFIG environment
// variable. There are no fallbacks: if the variable is not set, this
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv("INDIENET_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("INDIENET_CONFIG environment variable not set; " +
			"set it to the path of your indienet.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override its values. The only expansion performed is ${HOME} and
// similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// path fields.
func (c *Config) expandVariables() {
	homeDir, _ := os.UserHomeDir()
	vars := map[string]string{
		"HOME":          homeDir,
		"INDIENET_ROOT": filepath.Join(homeDir, ".local", "share", "indienet"),
	}
	c.Identity.StorePath = expandVars(c.Identity.StorePath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Identity.StorePath == "" {
		errs = append(errs, fmt.Errorf("identity.store_path is required"))
	}
	if len(c.Relays) == 0 {
		errs = append(errs, fmt.Errorf("at least one relay URL is required"))
	}
	for _, relay := range c.Relays {
		parsed, err := url.Parse(relay)
		if err != nil {
			errs = append(errs, fmt.Errorf("relay URL %q: %w", relay, err))
			continue
		}
		if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("relay URL %q: scheme must be ws or wss", relay))
		}
	}
	if c.Discovery.Tag == "" {
		errs = append(errs, fmt.Errorf("discovery.tag is required"))
	}

	for name, value := range map[string]string{
		"connection.dial_timeout":    c.Connection.DialTimeout,
		"connection.backoff_initial": c.Connection.BackoffInitial,
		"connection.backoff_max":     c.Connection.BackoffMax,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.Connection.SendQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("connection.send_queue_size must be positive"))
	}
	if c.Connection.DegradedAfter <= 0 {
		errs = append(errs, fmt.Errorf("connection.degraded_after must be positive"))
	}
	if c.Pool.DedupCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("pool.dedup_cache_size must be positive"))
	}
	if c.Pool.DispatchQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("pool.dispatch_queue_size must be positive"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn, or error"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// DialTimeout returns the parsed handshake bound. Call Validate
// first; an unparseable value falls back to the default.
func (c *Config) DialTimeout() time.Duration {
	return parseDurationOr(c.Connection.DialTimeout, 10*time.Second)
}

// BackoffInitial returns the parsed first reconnect delay.
func (c *Config) BackoffInitial() time.Duration {
	return parseDurationOr(c.Connection.BackoffInitial, time.Second)
}

// BackoffMax returns the parsed reconnect delay cap.
func (c *Config) BackoffMax() time.Duration {
	return parseDurationOr(c.Connection.BackoffMax, time.Minute)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// Package config loads the reconciliation core's YAML configuration and
// applies environment-variable overrides for credentials.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every option the core recognizes (spec §6). Retention,
// partitioning, HTTP facade, and indicator/detector settings are owned by
// other, out-of-scope processes and are not modeled here.
type Config struct {
	Exchange struct {
		PrivateWSURL string `yaml:"ws_private_url"`
		RESTBaseURL  string `yaml:"rest_base_url"`
		Sandbox      bool   `yaml:"sandbox"`
		ApiKey       string `yaml:"api_key"`
		SecretKey    string `yaml:"secret_key"`
		Passphrase   string `yaml:"passphrase"`
	} `yaml:"exchange"`

	WS struct {
		HeartbeatIntervalSec int  `yaml:"heartbeat_interval_sec"`
		PingTimeoutSec       int  `yaml:"ping_timeout_sec"`
		ReconnectIntervalSec int  `yaml:"reconnect_interval_sec"`
		ConnectTimeoutSec    int  `yaml:"connect_timeout_sec"`
		SSLVerify            bool `yaml:"ssl_verify"`
		QueueMaxOrders       int  `yaml:"queue_maxsize_orders"`
		QueueMaxPositions    int  `yaml:"queue_maxsize_positions"`
	} `yaml:"ws"`

	API struct {
		RateLimit      int     `yaml:"rate_limit"`
		RateWindowSec  float64 `yaml:"rate_window_sec"`
		MinIntervalSec float64 `yaml:"min_interval_sec"`
		RequestTimeout int     `yaml:"request_timeout_sec"`
		MaxRetries     int     `yaml:"max_retries"`
	} `yaml:"api"`

	Storage struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Load reads path, unmarshals YAML, applies environment overrides for
// secrets, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Exchange.PrivateWSURL == "" || !hasWSPrefix(c.Exchange.PrivateWSURL) {
		return fmt.Errorf("invalid private WS URL: %s", c.Exchange.PrivateWSURL)
	}
	if c.Exchange.ApiKey == "" || c.Exchange.SecretKey == "" || c.Exchange.Passphrase == "" {
		return fmt.Errorf("exchange credential triple is required")
	}
	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required")
	}
	if c.Exchange.RESTBaseURL == "" {
		return fmt.Errorf("exchange.rest_base_url is required")
	}
	return nil
}

func hasWSPrefix(s string) bool {
	return strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://")
}

// overrideWithEnv applies the recognized environment variables: each one
// that is set replaces the value read from the config file. Credentials may
// come from either source; a secret_key present in the file prints a
// warning to stderr, since env vars are the recommended channel for secrets.
func overrideWithEnv(cfg *Config) {
	if cfg.Exchange.SecretKey != "" {
		fmt.Fprintln(os.Stderr, "warning: exchange secret_key found in config file; prefer RECON_EXCHANGE_SECRET")
	}

	if v := os.Getenv("RECON_EXCHANGE_API_KEY"); v != "" {
		cfg.Exchange.ApiKey = v
	}
	if v := os.Getenv("RECON_EXCHANGE_SECRET"); v != "" {
		cfg.Exchange.SecretKey = v
	}
	if v := os.Getenv("RECON_EXCHANGE_PASSPHRASE"); v != "" {
		cfg.Exchange.Passphrase = v
	}
	if v := os.Getenv("WS_PRIVATE_URL"); v != "" {
		cfg.Exchange.PrivateWSURL = v
	}
	if v := os.Getenv("EXCHANGE_SANDBOX"); v != "" {
		cfg.Exchange.Sandbox = v == "true" || v == "1"
	}
}

// HeartbeatInterval returns the configured interval, defaulting to 20s.
func (c *Config) HeartbeatInterval() time.Duration {
	return durationOrDefault(c.WS.HeartbeatIntervalSec, 20*time.Second)
}

// PingTimeout returns the configured timeout, defaulting to 5s.
func (c *Config) PingTimeout() time.Duration {
	return durationOrDefault(c.WS.PingTimeoutSec, 5*time.Second)
}

// ReconnectInterval returns the configured interval, defaulting to 5s.
func (c *Config) ReconnectInterval() time.Duration {
	return durationOrDefault(c.WS.ReconnectIntervalSec, 5*time.Second)
}

// ConnectTimeout returns the configured timeout, defaulting to 30s.
func (c *Config) ConnectTimeout() time.Duration {
	return durationOrDefault(c.WS.ConnectTimeoutSec, 30*time.Second)
}

func durationOrDefault(sec int, def time.Duration) time.Duration {
	if sec <= 0 {
		return def
	}
	return time.Duration(sec) * time.Second
}

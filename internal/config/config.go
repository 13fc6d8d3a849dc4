// Package config loads worker configuration from a JSON file with
// environment-variable overrides, applied in the usual precedence:
// defaults, then file, then environment (WORKER_* prefix).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all worker runtime configuration.
type Config struct {
	Coordinator CoordinatorConfig `json:"coordinator"`
	Peer        PeerConfig        `json:"peer"`
	HTTP        HTTPConfig        `json:"http"`
	Backends    BackendsConfig    `json:"backends"`
	Storage     StorageConfig     `json:"storage"`
	Logging     LoggingConfig     `json:"logging"`
}

// CoordinatorConfig configures the reconnecting coordinator session.
type CoordinatorConfig struct {
	URL                   string        `json:"url"`
	Name                  string        `json:"name"`
	Tags                  []string      `json:"tags"`
	AuthToken             string        `json:"auth_token"`
	ConnectTimeout        time.Duration `json:"connect_timeout"`
	InitialReconnectDelay time.Duration `json:"initial_reconnect_delay"`
	MaxReconnectDelay     time.Duration `json:"max_reconnect_delay"`
	MaxReconnectAttempts  int           `json:"max_reconnect_attempts"`
}

// PeerConfig configures the peer mesh.
type PeerConfig struct {
	ListenPort   int           `json:"listen_port"`
	MaxPeers     int           `json:"max_peers"`
	PingInterval time.Duration `json:"ping_interval"`
	StaleTimeout time.Duration `json:"stale_timeout"`
	AutoConnect  bool          `json:"auto_connect"`
}

// HTTPConfig configures the HTTP task poller.
type HTTPConfig struct {
	BaseURL      string        `json:"base_url"`
	AccountID    string        `json:"account_id"`
	SigningKey   string        `json:"signing_key_path"`
	PollInterval time.Duration `json:"poll_interval"`
}

// BackendsConfig is opaque, per-backend settings keyed by backend name.
type BackendsConfig struct {
	MaxConcurrent int                        `json:"max_concurrent"`
	Settings      map[string]json.RawMessage `json:"settings"`
}

// StorageConfig configures where the worker keeps local state (identity cache).
type StorageConfig struct {
	DataDir string `json:"data_dir"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

// Default returns the hardcoded baseline configuration.
func Default() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			ConnectTimeout:        10 * time.Second,
			InitialReconnectDelay: 1 * time.Second,
			MaxReconnectDelay:     60 * time.Second,
			MaxReconnectAttempts:  0,
		},
		Peer: PeerConfig{
			ListenPort:   0,
			MaxPeers:     32,
			PingInterval: 30 * time.Second,
			StaleTimeout: 5 * time.Minute,
			AutoConnect:  true,
		},
		HTTP: HTTPConfig{
			PollInterval: 5 * time.Second,
		},
		Backends: BackendsConfig{
			MaxConcurrent: 4,
			Settings:      map[string]json.RawMessage{},
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configPath (if non-empty and present), overlays environment
// overrides, and returns the resulting Config. A missing file is not an
// error: defaults apply.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WORKER_COORDINATOR_URL"); v != "" {
		c.Coordinator.URL = v
	}
	if v := os.Getenv("WORKER_NAME"); v != "" {
		c.Coordinator.Name = v
	}
	if v := os.Getenv("WORKER_AUTH_TOKEN"); v != "" {
		c.Coordinator.AuthToken = v
	}
	if v := os.Getenv("WORKER_MAX_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Coordinator.MaxReconnectAttempts = n
		}
	}
	if v := os.Getenv("WORKER_PEER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Peer.ListenPort = n
		}
	}
	if v := os.Getenv("WORKER_MAX_PEERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Peer.MaxPeers = n
		}
	}
	if v := os.Getenv("WORKER_AUTO_CONNECT"); v != "" {
		c.Peer.AutoConnect = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("WORKER_HTTP_BASE_URL"); v != "" {
		c.HTTP.BaseURL = v
	}
	if v := os.Getenv("WORKER_ACCOUNT_ID"); v != "" {
		c.HTTP.AccountID = v
	}
	if v := os.Getenv("WORKER_SIGNING_KEY"); v != "" {
		c.HTTP.SigningKey = v
	}
	if v := os.Getenv("WORKER_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Backends.MaxConcurrent = n
		}
	}
	if v := os.Getenv("WORKER_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("WORKER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("WORKER_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks required invariants, returning a *wkerrors.WorkerError-class
// error on violation (wrapped as a plain error here to keep this package free
// of a dependency cycle; callers in cmd/worker classify it as Configuration).
func (c *Config) Validate() error {
	if c.Backends.MaxConcurrent <= 0 {
		return fmt.Errorf("backends.max_concurrent must be positive")
	}
	if c.Peer.MaxPeers < 0 {
		return fmt.Errorf("peer.max_peers must not be negative")
	}
	if c.Coordinator.InitialReconnectDelay <= 0 || c.Coordinator.MaxReconnectDelay <= 0 {
		return fmt.Errorf("coordinator reconnect delays must be positive")
	}
	if c.Coordinator.MaxReconnectDelay < c.Coordinator.InitialReconnectDelay {
		return fmt.Errorf("coordinator.max_reconnect_delay must be >= initial_reconnect_delay")
	}
	return nil
}

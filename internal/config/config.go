// Package config loads the daemon configuration from a YAML file in the data
// directory, creating it with defaults on first run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lotus-rank/rankwallet/internal/chain"
	"github.com/lotus-rank/rankwallet/internal/storage"
	"github.com/lotus-rank/rankwallet/pkg/logging"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// Config holds all configuration for the wallet daemon.
type Config struct {
	// Network is mainnet or testnet.
	Network chain.Network `yaml:"network"`

	Indexer IndexerConfig `yaml:"indexer"`
	Wallet  WalletConfig  `yaml:"wallet"`
	Queue   QueueConfig   `yaml:"queue"`
	Storage StorageConfig `yaml:"storage"`
	RPC     RPCConfig     `yaml:"rpc"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// IndexerConfig holds chain indexer settings.
type IndexerConfig struct {
	// URL is the REST base URL.
	URL string `yaml:"url"`

	// WSURL is the websocket endpoint for script subscriptions.
	WSURL string `yaml:"ws_url"`

	// RequestTimeout bounds each REST call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ReconnectMin and ReconnectMax bound the websocket reconnect backoff.
	ReconnectMin time.Duration `yaml:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max"`

	// ReconcileOnReconnect validates cached outputs after every reconnect,
	// covering events missed while disconnected.
	ReconcileOnReconnect bool `yaml:"reconcile_on_reconnect"`
}

// WalletConfig holds transaction building settings.
type WalletConfig struct {
	// FeeRate is in satoshis per byte.
	FeeRate uint64 `yaml:"fee_rate"`

	// VoteMinimum is the value of a vote output, in satoshis.
	VoteMinimum uint64 `yaml:"vote_minimum"`
}

// QueueConfig holds operation queue settings.
type QueueConfig struct {
	// OperationTimeout bounds each queued operation. Zero disables it.
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for all data files.
	DataDir string `yaml:"data_dir"`

	// Backend is sqlite, badger or memory.
	Backend string `yaml:"backend"`

	// EncryptSecrets seals the mnemonic and keys with a passphrase taken
	// from the environment.
	EncryptSecrets bool `yaml:"encrypt_secrets"`
}

// RPCConfig holds the JSON-RPC server settings.
type RPCConfig struct {
	// Listen is the address to serve on.
	Listen string `yaml:"listen"`

	// AllowedOrigin is the only Origin accepted on requests.
	AllowedOrigin string `yaml:"allowed_origin"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	// Listen is the address to serve /metrics on. Empty disables it.
	Listen string `yaml:"listen"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`

	// File is the log file path (empty for stderr).
	File string `yaml:"file"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: chain.Mainnet,
		Indexer: IndexerConfig{
			URL:                  "http://127.0.0.1:7123",
			WSURL:                "ws://127.0.0.1:7123/ws",
			RequestTimeout:       30 * time.Second,
			ReconnectMin:         time.Second,
			ReconnectMax:         time.Minute,
			ReconcileOnReconnect: true,
		},
		Wallet: WalletConfig{
			FeeRate:     1,
			VoteMinimum: 1_000_000,
		},
		Queue: QueueConfig{
			OperationTimeout: 2 * time.Minute,
		},
		Storage: StorageConfig{
			DataDir: "~/.rankwallet",
			Backend: storage.BackendSQLite,
		},
		RPC: RPCConfig{
			Listen:        "127.0.0.1:7890",
			AllowedOrigin: "app://rankwallet",
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:7891",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: logging.FormatText,
		},
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if _, err := chain.ParseNetwork(string(c.Network)); err != nil {
		return err
	}
	if c.Indexer.URL == "" {
		return fmt.Errorf("indexer.url is required")
	}
	if c.Indexer.WSURL == "" {
		return fmt.Errorf("indexer.ws_url is required")
	}
	if c.Indexer.ReconnectMax < c.Indexer.ReconnectMin {
		return fmt.Errorf("indexer.reconnect_max (%s) is below reconnect_min (%s)",
			c.Indexer.ReconnectMax, c.Indexer.ReconnectMin)
	}
	if c.Wallet.FeeRate == 0 {
		return fmt.Errorf("wallet.fee_rate must be positive")
	}
	switch c.Storage.Backend {
	case storage.BackendSQLite, storage.BackendBadger, storage.BackendMemory:
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.RPC.AllowedOrigin == "" {
		return fmt.Errorf("rpc.allowed_origin is required")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if !logging.ValidFormat(c.Logging.Format) {
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	return nil
}

// Load loads configuration from the config file in dataDir.
// If the file doesn't exist, it creates one with default values.
func Load(dataDir string) (*Config, error) {
	return LoadFile(ConfigPath(dataDir), dataDir)
}

// LoadFile loads configuration from path, creating it with defaults (and
// the given data dir) when missing.
func LoadFile(path, dataDir string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if dataDir != "" {
			cfg.Storage.DataDir = dataDir
		}

		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}

		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# rankwallet daemon configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

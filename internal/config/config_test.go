package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lotus-rank/rankwallet/internal/chain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Network != chain.Mainnet {
		t.Errorf("expected mainnet, got %s", cfg.Network)
	}
	if !cfg.Indexer.ReconcileOnReconnect {
		t.Error("expected ReconcileOnReconnect to be true")
	}
	if cfg.Wallet.FeeRate != 1 {
		t.Errorf("expected fee rate 1, got %d", cfg.Wallet.FeeRate)
	}
	if cfg.Queue.OperationTimeout != 2*time.Minute {
		t.Errorf("expected operation timeout 2m, got %v", cfg.Queue.OperationTimeout)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("expected sqlite backend, got %s", cfg.Storage.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad network", func(c *Config) { c.Network = "regtest" }},
		{"no indexer", func(c *Config) { c.Indexer.URL = "" }},
		{"no ws", func(c *Config) { c.Indexer.WSURL = "" }},
		{"backoff inverted", func(c *Config) { c.Indexer.ReconnectMax = time.Millisecond }},
		{"zero fee", func(c *Config) { c.Wallet.FeeRate = 0 }},
		{"bad backend", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"no origin", func(c *Config) { c.RPC.AllowedOrigin = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "rankwallet-config-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.DataDir != tmpDir {
		t.Errorf("DataDir = %s, want %s", cfg.Storage.DataDir, tmpDir)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, ConfigFileName))
	if err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if !strings.Contains(string(data), "reconcile_on_reconnect: true") {
		t.Errorf("config file missing defaults:\n%s", data)
	}
}

func TestLoadExisting(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "rankwallet-config-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	content := `
network: testnet
indexer:
  url: https://indexer.example
  reconnect_max: 30s
wallet:
  fee_rate: 3
storage:
  backend: badger
`
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Network != chain.Testnet {
		t.Errorf("Network = %s, want testnet", cfg.Network)
	}
	if cfg.Indexer.URL != "https://indexer.example" {
		t.Errorf("Indexer.URL = %s", cfg.Indexer.URL)
	}
	if cfg.Indexer.ReconnectMax != 30*time.Second {
		t.Errorf("ReconnectMax = %v, want 30s", cfg.Indexer.ReconnectMax)
	}
	// Unset fields keep their defaults.
	if cfg.Indexer.WSURL != DefaultConfig().Indexer.WSURL {
		t.Errorf("WSURL = %s, want default", cfg.Indexer.WSURL)
	}
	if cfg.Wallet.FeeRate != 3 || cfg.Wallet.VoteMinimum != 1_000_000 {
		t.Errorf("Wallet = %+v", cfg.Wallet)
	}
	if cfg.Storage.Backend != "badger" {
		t.Errorf("Backend = %s, want badger", cfg.Storage.Backend)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "rankwallet-config-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte("network: [unclosed"), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(tmpDir); err == nil {
		t.Error("Load() expected parse error")
	}
}

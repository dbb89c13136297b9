// Package config loads node configuration from a JSON file with
// PANTHEON_* environment overrides, and builds the genesis block.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/logging"
	"github.com/tolelom/pantheon/storage"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PANTHEON_"

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID string            `json:"chain_id" env:"CHAIN_ID"`
	Alloc   map[string]uint64 `json:"alloc"` // pubkey hex → initial balance
	Rules   core.Rules        `json:"rules"`
}

// TLSConfig holds PEM paths for mutual TLS between peers. All empty means
// plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert" env:"CA_CERT"`
	NodeCert string `json:"node_cert" env:"NODE_CERT"`
	NodeKey  string `json:"node_key" env:"NODE_KEY"`
}

// Config holds all node configuration.
type Config struct {
	NodeID         string        `json:"node_id" env:"NODE_ID"`
	DataDir        string        `json:"data_dir" env:"DATA_DIR"`
	StorageBackend string        `json:"storage_backend" env:"STORAGE_BACKEND"` // leveldb | sqlite | memory
	RPCPort        int           `json:"rpc_port" env:"RPC_PORT"`
	RPCAuthToken   string        `json:"rpc_auth_token,omitempty" env:"RPC_AUTH_TOKEN"`
	P2PPort        int           `json:"p2p_port" env:"P2P_PORT"`
	SeedPeers      []string      `json:"seed_peers" env:"SEED_PEERS"`       // host:port
	MaxBlockTxs    int           `json:"max_block_txs" env:"MAX_BLOCK_TXS"` // max transactions per block; 0 → 500
	BlockInterval  core.Duration `json:"block_interval" env:"BLOCK_INTERVAL"`
	Validators     []string      `json:"validators" env:"VALIDATORS"` // authorised proposer pubkey hexes
	LogLevel       string        `json:"log_level" env:"LOG_LEVEL"`
	LogFormat      string        `json:"log_format" env:"LOG_FORMAT"`
	TLS            TLSConfig     `json:"tls" envPrefix:"TLS_"`

	// MaintenanceInterval paces the mempool prune and stale match report.
	MaintenanceInterval core.Duration `json:"maintenance_interval" env:"MAINTENANCE_INTERVAL"`

	Genesis GenesisConfig `json:"genesis" envPrefix:"GENESIS_"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:              "node0",
		DataDir:             "./data",
		StorageBackend:      storage.BackendLevelDB,
		RPCPort:             8545,
		P2PPort:             30303,
		MaxBlockTxs:         500,
		BlockInterval:       core.Duration(5 * time.Second),
		LogLevel:            "info",
		LogFormat:           logging.FormatConsole,
		MaintenanceInterval: core.Duration(time.Minute),
		Genesis: GenesisConfig{
			ChainID: "pantheon-dev",
			Alloc:   map[string]uint64{},
			Rules:   core.DefaultRules(),
		},
	}
}

// Load reads a JSON config file from path on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any PANTHEON_* variables that are set.
// Unset variables leave the file values untouched.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	return nil
}

// Validate reports the first inconsistency in cfg.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case storage.BackendLevelDB, storage.BackendSQLite, storage.BackendMemory:
	default:
		return fmt.Errorf("unknown storage_backend %q", c.StorageBackend)
	}
	if c.Genesis.ChainID == "" {
		return errors.New("genesis.chain_id required")
	}
	if c.BlockInterval <= 0 {
		return errors.New("block_interval must be positive")
	}
	if c.MaintenanceInterval <= 0 {
		return errors.New("maintenance_interval must be positive")
	}
	if err := c.Genesis.Rules.Validate(); err != nil {
		return fmt.Errorf("genesis.rules: %w", err)
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

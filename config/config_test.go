package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/pantheon/config"
	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/crypto"
	"github.com/tolelom/pantheon/crypto/certgen"
	"github.com/tolelom/pantheon/internal/testutil"
	"github.com/tolelom/pantheon/storage"
)

func validConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Genesis.Rules.Treasury = "treasury"
	return cfg
}

func TestDefaultConfigNeedsTreasury(t *testing.T) {
	assert.Error(t, config.DefaultConfig().Validate())
	assert.NoError(t, validConfig().Validate())
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*config.Config){
		"unknown backend": func(c *config.Config) { c.StorageBackend = "bolt" },
		"no chain id":     func(c *config.Config) { c.Genesis.ChainID = "" },
		"zero interval":   func(c *config.Config) { c.BlockInterval = 0 },
		"fee too high":    func(c *config.Config) { c.Genesis.Rules.PlatformFeeBps = core.MaxPlatformFeeBps + 1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.json")
	cfg := validConfig()
	cfg.StorageBackend = storage.BackendSQLite
	cfg.Genesis.Alloc["aa"] = 42
	cfg.Genesis.Rules.MatchTimeout = core.Duration(10 * time.Minute)
	require.NoError(t, config.Save(cfg, path))

	got, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PANTHEON_RPC_PORT", "9000")
	t.Setenv("PANTHEON_STORAGE_BACKEND", "sqlite")
	t.Setenv("PANTHEON_SEED_PEERS", "a:1,b:2")
	t.Setenv("PANTHEON_BLOCK_INTERVAL", "2s")
	t.Setenv("PANTHEON_TLS_CA_CERT", "/certs/ca.pem")
	t.Setenv("PANTHEON_GENESIS_CHAIN_ID", "pantheon-staging")

	cfg := validConfig()
	require.NoError(t, config.ApplyEnv(cfg))

	assert.Equal(t, 9000, cfg.RPCPort)
	assert.Equal(t, storage.BackendSQLite, cfg.StorageBackend)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.SeedPeers)
	assert.Equal(t, core.Duration(2*time.Second), cfg.BlockInterval)
	assert.Equal(t, "/certs/ca.pem", cfg.TLS.CACert)
	assert.Equal(t, "pantheon-staging", cfg.Genesis.ChainID)
	// untouched
	assert.Equal(t, 30303, cfg.P2PPort)
	assert.Equal(t, "treasury", cfg.Genesis.Rules.Treasury)
}

func TestCreateGenesisBlock(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	cfg := validConfig()
	cfg.Genesis.Rules.Admin = "admin"
	cfg.Genesis.Alloc["player"] = 1_000_000

	state := storage.NewStateDB(testutil.NewMemDB())
	block, err := config.CreateGenesisBlock(cfg, state, priv)
	require.NoError(t, err)

	assert.Equal(t, int64(0), block.Header.Height)
	assert.Equal(t, config.GenesisHash, block.Header.PrevHash)
	assert.Equal(t, state.ComputeRoot(), block.Header.StateRoot)
	assert.NoError(t, block.Verify(priv.Public()))

	acc, err := state.GetAccount("player")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), acc.Balance)

	other := validConfig()
	other.Genesis.Rules.PlatformFeeBps = 300
	assert.NotEqual(t, config.GenesisID(cfg), config.GenesisID(other))
}

func TestLoadTLSConfigDisabled(t *testing.T) {
	tlsCfg, err := config.LoadTLSConfig(&config.TLSConfig{})
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)
}

func TestLoadTLSConfig(t *testing.T) {
	_, err := config.LoadTLSConfig(&config.TLSConfig{CACert: "ca.crt"})
	assert.Error(t, err, "partial settings must not fall back to plain TCP")

	p, err := certgen.Issue(t.TempDir(), "node0", nil)
	require.NoError(t, err)
	tlsCfg, err := config.LoadTLSConfig(&config.TLSConfig{CACert: p.CACert, NodeCert: p.NodeCert, NodeKey: p.NodeKey})
	require.NoError(t, err)
	require.NotNil(t, tlsCfg)
	assert.Len(t, tlsCfg.Certificates, 1)
}

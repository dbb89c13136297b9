package config

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/crypto"
)

// GenesisHash is the previous hash recorded by block #0.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// genesisAccounts lists every account that exists at height 0, sorted by
// address: each allocation, plus the treasury and admin with whatever
// allocation they have (zero otherwise).
func genesisAccounts(g GenesisConfig) []core.Account {
	balances := make(map[string]uint64, len(g.Alloc)+2)
	for _, addr := range []string{g.Rules.Treasury, g.Rules.Admin} {
		if addr != "" {
			balances[addr] = 0
		}
	}
	for addr, bal := range g.Alloc {
		balances[addr] = bal
	}
	accounts := make([]core.Account, 0, len(balances))
	for addr, bal := range balances {
		accounts = append(accounts, core.Account{Address: addr, Balance: bal})
	}
	slices.SortFunc(accounts, func(a, b core.Account) int { return strings.Compare(a.Address, b.Address) })
	return accounts
}

// CreateGenesisBlock writes the genesis accounts into state, commits, and
// returns block #0 signed by the proposer. Its TxRoot carries the genesis id.
func CreateGenesisBlock(cfg *Config, state core.State, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	for _, acc := range genesisAccounts(cfg.Genesis) {
		if err := state.SetAccount(&acc); err != nil {
			return nil, fmt.Errorf("genesis account %s: %w", acc.Address, err)
		}
	}

	root := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, fmt.Errorf("commit genesis state: %w", err)
	}

	block := core.NewBlock(0, GenesisHash, proposerPriv.Public().Hex(), nil)
	block.Header.StateRoot = root
	block.Header.TxRoot = GenesisID(cfg)
	block.Sign(proposerPriv)
	return block, nil
}

// GenesisID hashes the chain id together with the genesis rules, so nodes
// configured with different rules refuse each other's chains.
func GenesisID(cfg *Config) string {
	rules, _ := json.Marshal(cfg.Genesis.Rules)
	return crypto.HashTagged(cfg.Genesis.ChainID, rules)
}

// IsGenesisHash reports whether h is the previous hash of block #0.
func IsGenesisHash(h string) bool {
	return h == GenesisHash
}

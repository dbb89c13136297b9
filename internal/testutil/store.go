// Package testutil builds in-memory chains, stores and wallets for tests.
// Never import it from production code.
package testutil

import (
	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/storage"
)

// NewMemDB returns an empty LevelDB held in memory.
func NewMemDB() storage.DB {
	return storage.NewMemLevelDB()
}

// NewMemBlockStore returns a block store over a fresh NewMemDB.
func NewMemBlockStore() core.BlockStore {
	return storage.NewBlockStore(NewMemDB())
}

// NewStateDB returns a state buffer over a fresh NewMemDB.
func NewStateDB() *storage.StateDB {
	return storage.NewStateDB(NewMemDB())
}

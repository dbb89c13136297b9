package core

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// BlockStore persists committed blocks. Implementations live in the storage
// package.
type BlockStore interface {
	GetBlock(hash string) (*Block, error)
	GetBlockByHeight(height int64) (*Block, error)
	// GetTip returns the current tip hash, or ("", nil) for a fresh chain.
	GetTip() (string, error)
	// CommitBlock writes the block, its height entry and the new tip
	// atomically.
	CommitBlock(block *Block) error
}

// ChainInfo is a consistent snapshot of the tip.
type ChainInfo struct {
	Height  int64  `json:"height"`
	TipHash string `json:"tip_hash"`
	// Time is the tip's block time in unix nanos. Match timeouts are
	// measured against it, never against wall clocks.
	Time int64 `json:"time"`
}

// Blockchain tracks the canonical chain. Block time never runs backwards
// along it.
type Blockchain struct {
	mu    sync.RWMutex
	store BlockStore
	tip   *Block
}

// NewBlockchain returns a Blockchain backed by store. Call Init to load a
// persisted tip.
func NewBlockchain(store BlockStore) *Blockchain {
	return &Blockchain{store: store}
}

// Init loads the persisted tip from the block store.
func (bc *Blockchain) Init() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	tipHash, err := bc.store.GetTip()
	if err != nil {
		return fmt.Errorf("get tip: %w", err)
	}
	if tipHash == "" {
		return nil
	}
	tip, err := bc.store.GetBlock(tipHash)
	if err != nil {
		return fmt.Errorf("load tip block: %w", err)
	}
	bc.tip = tip
	return nil
}

// AddBlock appends block to the tip after checking height, linkage and
// block time.
func (bc *Blockchain) AddBlock(block *Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if tip := bc.tip; tip != nil {
		switch h := block.Header; {
		case h.Height != tip.Header.Height+1:
			return fmt.Errorf("block height %d does not follow tip %d", h.Height, tip.Header.Height)
		case h.PrevHash != tip.Hash:
			return fmt.Errorf("prev_hash mismatch: got %s want %s", h.PrevHash, tip.Hash)
		case h.Timestamp < tip.Header.Timestamp:
			return fmt.Errorf("block time %d precedes tip %d", h.Timestamp, tip.Header.Timestamp)
		}
	}
	if err := bc.store.CommitBlock(block); err != nil {
		return fmt.Errorf("commit block %d: %w", block.Header.Height, err)
	}
	bc.tip = block
	return nil
}

func (bc *Blockchain) GetBlock(hash string) (*Block, error) {
	return bc.store.GetBlock(hash)
}

func (bc *Blockchain) GetBlockByHeight(height int64) (*Block, error) {
	return bc.store.GetBlockByHeight(height)
}

// BlocksFrom returns up to limit consecutive blocks starting at height,
// stopping at the tip.
func (bc *Blockchain) BlocksFrom(height int64, limit int) ([]*Block, error) {
	top := bc.Height()
	if bc.Tip() == nil || height > top {
		return nil, nil
	}
	blocks := make([]*Block, 0, min(int64(limit), top-height+1))
	for h := height; h <= top && len(blocks) < limit; h++ {
		b, err := bc.store.GetBlockByHeight(h)
		if err != nil {
			return blocks, fmt.Errorf("block %d: %w", h, err)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// Info returns height, hash and time of the tip taken under one lock.
func (bc *Blockchain) Info() ChainInfo {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.tip == nil {
		return ChainInfo{}
	}
	return ChainInfo{Height: bc.tip.Header.Height, TipHash: bc.tip.Hash, Time: bc.tip.Header.Timestamp}
}

// Time returns the tip's block time, or 0 for a fresh chain. Read paths use
// it as "now" so timeout checks agree with what the next block would see.
func (bc *Blockchain) Time() int64 { return bc.Info().Time }

// Height returns the height of the current tip (0 for a fresh chain).
func (bc *Blockchain) Height() int64 { return bc.Info().Height }

// Tip returns the current chain tip, or nil for a fresh chain.
func (bc *Blockchain) Tip() *Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.tip
}

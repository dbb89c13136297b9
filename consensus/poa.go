// Package consensus implements Proof-of-Authority block production.
// Validators propose blocks in round-robin order. Each block is signed by
// the proposer; other nodes verify the signature before accepting the block.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tolelom/pantheon/config"
	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/crypto"
	"github.com/tolelom/pantheon/events"
	"github.com/tolelom/pantheon/gameerr"
	"github.com/tolelom/pantheon/logging"
	"github.com/tolelom/pantheon/vm"
)

// PoA is the Proof-of-Authority consensus engine. Blocks are produced and
// applied one at a time.
type PoA struct {
	cfg     *config.Config
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey
	log     *zap.Logger

	mu       sync.Mutex
	onCommit func(*core.Block)
}

// New creates a PoA engine for the local validator identified by privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
	log *zap.Logger,
) *PoA {
	return &PoA{
		cfg:     cfg,
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		pubKey:  privKey.Public(),
		log:     logging.OrNop(log),
	}
}

// OnCommit registers fn to receive every block this node produces. The P2P
// node uses it to gossip new blocks.
func (p *PoA) OnCommit(fn func(*core.Block)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCommit = fn
}

// IsProposer reports whether this node should propose the next block.
func (p *PoA) IsProposer() bool {
	if len(p.cfg.Validators) == 0 {
		return false
	}
	nextHeight := p.bc.Height() + 1
	idx := int(nextHeight) % len(p.cfg.Validators)
	return p.cfg.Validators[idx] == p.pubKey.Hex()
}

// ProduceBlock builds, executes, signs and commits the next block. Each
// pending transaction runs on its own. One a rule refuses still enters the
// block, having used its nonce, and is also listed as a rejection, so
// followers re-executing the block must reach the same outcome.
func (p *PoA) ProduceBlock() (*core.Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.IsProposer() {
		return nil, errors.New("not the proposer for this round")
	}

	limit := p.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = 500
	}
	pending := p.mempool.Pending(limit)

	tip := p.bc.Tip()
	prevHash, nextHeight := config.GenesisHash, int64(1)
	if tip != nil {
		prevHash = tip.Hash
		nextHeight = tip.Header.Height + 1
	}

	block := core.NewBlock(nextHeight, prevHash, p.pubKey.Hex(), nil)
	// Match timeouts read block time, so it never runs backwards.
	if t := p.bc.Time(); block.Header.Timestamp <= t {
		block.Header.Timestamp = t + 1
	}

	blockSnap, err := p.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	p.exec.HoldEvents()
	defer p.exec.ReleaseEvents(false)

	var (
		included []*core.Transaction
		rejected []core.Rejection
		dropped  []string
	)
	for _, tx := range pending {
		err := p.exec.ExecuteTx(block, tx)
		switch {
		case err == nil:
			included = append(included, tx)
		case errors.Is(err, vm.ErrFutureNonce):
			// stays pending until the gap is filled or it expires
		case gameerr.IsRule(err):
			// the nonce is spent, so the tx goes into the block with its code
			included = append(included, tx)
			rejected = append(rejected, core.NewRejection(tx, err))
			p.log.Debug("tx rejected", zap.String("tx_id", tx.ID),
				zap.String("type", string(tx.Type)), zap.Error(err))
		default:
			// stale nonce or unpayable fee: it can never run
			dropped = append(dropped, tx.ID)
			p.log.Debug("tx dropped", zap.String("tx_id", tx.ID),
				zap.String("type", string(tx.Type)), zap.Error(err))
		}
	}
	p.mempool.Remove(dropped)

	block.Transactions = included
	block.Header.TxRoot = core.ComputeTxRoot(included)
	block.SetRejected(rejected)

	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted and the node stays consistent.
	block.Header.StateRoot = p.state.ComputeRoot()
	block.Sign(p.privKey)

	if err := p.bc.AddBlock(block); err != nil {
		if revErr := p.state.RevertToSnapshot(blockSnap); revErr != nil {
			p.log.Fatal("revert after add block failure", zap.Error(revErr), zap.NamedError("add", err))
		}
		return nil, fmt.Errorf("add block: %w", err)
	}

	// Flush state only after the block is safely stored.
	if err := p.state.Commit(); err != nil {
		p.log.Fatal("block stored but state commit failed",
			zap.Int64("height", block.Header.Height), zap.Error(err))
	}

	p.exec.EmitRejections(block)
	p.exec.ReleaseEvents(true)
	p.finish(block)

	p.log.Info("block produced",
		zap.Int64("height", block.Header.Height),
		zap.Int("txs", len(included)-len(rejected)),
		zap.Int("rejected", len(rejected)))

	if p.onCommit != nil {
		p.onCommit(block)
	}
	return block, nil
}

// ApplyBlock validates, executes and commits a block produced by another
// validator. Blocks at or below the current height are ignored.
func (p *PoA) ApplyBlock(block *core.Block) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if block.Header.Height <= p.bc.Height() && p.bc.Tip() != nil {
		return nil
	}
	if err := p.ValidateBlock(block); err != nil {
		return err
	}

	snapID, err := p.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	revert := func(cause error) error {
		if revErr := p.state.RevertToSnapshot(snapID); revErr != nil {
			p.log.Fatal("revert failed", zap.Int64("height", block.Header.Height),
				zap.Error(revErr), zap.NamedError("cause", cause))
		}
		return cause
	}

	p.exec.HoldEvents()
	defer p.exec.ReleaseEvents(false)
	if err := p.exec.ExecuteBlock(block); err != nil {
		return revert(fmt.Errorf("execute block %d: %w", block.Header.Height, err))
	}
	if root := p.state.ComputeRoot(); root != block.Header.StateRoot {
		return revert(fmt.Errorf("block %d state root mismatch: computed %s want %s",
			block.Header.Height, root, block.Header.StateRoot))
	}
	if err := p.bc.AddBlock(block); err != nil {
		return revert(fmt.Errorf("add block: %w", err))
	}
	if err := p.state.Commit(); err != nil {
		p.log.Fatal("block stored but state commit failed",
			zap.Int64("height", block.Header.Height), zap.Error(err))
	}

	p.exec.ReleaseEvents(true)
	p.finish(block)
	return nil
}

// finish announces a committed block and drops its transactions from the
// mempool.
func (p *PoA) finish(block *core.Block) {
	// Emit after Sign() so block.Hash is set correctly.
	p.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data: map[string]any{
			"hash":     block.Hash,
			"txs":      len(block.Transactions) - len(block.Rejected),
			"rejected": len(block.Rejected),
		},
	})

	ids := make([]string, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		ids = append(ids, tx.ID)
	}
	p.mempool.Remove(ids)
}

// ValidateBlock checks that block was proposed by the expected validator,
// links to the tip and commits to its own contents.
func (p *PoA) ValidateBlock(block *core.Block) error {
	if len(p.cfg.Validators) == 0 {
		return errors.New("no validators configured")
	}
	idx := int(block.Header.Height) % len(p.cfg.Validators)
	expected := p.cfg.Validators[idx]
	if block.Header.Proposer != expected {
		return fmt.Errorf("wrong proposer: got %s want %s", block.Header.Proposer, expected)
	}

	if block.Hash != block.ComputeHash() {
		return errors.New("block hash does not match header")
	}
	pub, err := crypto.ParsePublicKey(block.Header.Proposer)
	if err != nil {
		return fmt.Errorf("invalid proposer pubkey: %w", err)
	}
	if err := block.Verify(pub); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}
	if root := core.ComputeTxRoot(block.Transactions); root != block.Header.TxRoot {
		return fmt.Errorf("tx_root mismatch: computed %s header %s", root, block.Header.TxRoot)
	}
	if root := core.ComputeRejectedRoot(block.Rejected); root != block.Header.RejectedRoot {
		return fmt.Errorf("rejected_root mismatch: computed %s header %s", root, block.Header.RejectedRoot)
	}
	inBlock := make(map[string]bool, len(block.Transactions))
	for _, tx := range block.Transactions {
		inBlock[tx.ID] = true
	}
	for _, r := range block.Rejected {
		if !inBlock[r.TxID] {
			return fmt.Errorf("rejection of tx %s that the block does not carry", r.TxID)
		}
	}

	// Validate previous hash linkage
	tip := p.bc.Tip()
	if tip == nil {
		if !config.IsGenesisHash(block.Header.PrevHash) {
			return errors.New("first block must reference genesis prev-hash")
		}
		return nil
	}
	if block.Header.PrevHash != tip.Hash {
		return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, tip.Hash)
	}
	if block.Header.Height != tip.Header.Height+1 {
		return fmt.Errorf("height mismatch: got %d want %d", block.Header.Height, tip.Header.Height+1)
	}
	if block.Header.Timestamp < tip.Header.Timestamp {
		return fmt.Errorf("timestamp %d precedes tip %d", block.Header.Timestamp, tip.Header.Timestamp)
	}
	return nil
}

// Run produces a block every interval while this node is the proposer. It
// returns when ctx is cancelled.
func (p *PoA) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if p.IsProposer() {
				if _, err := p.ProduceBlock(); err != nil {
					p.log.Warn("produce block", zap.Error(err))
				}
			}
		}
	}
}

package vm

import (
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/events"
	"github.com/tolelom/pantheon/gameerr"
)

// ErrFutureNonce marks a transaction whose nonce is ahead of its account.
// It may become valid once the gap is filled, so producers keep it pending.
var ErrFutureNonce = errors.New("nonce ahead of account")

// ErrStaleNonce marks a transaction whose nonce was already used, whether
// the earlier transaction succeeded or was rejected.
var ErrStaleNonce = errors.New("nonce already used")

// Executor applies transactions to the state through a Registry.
type Executor struct {
	state    core.State
	emitter  *events.Emitter
	registry *Registry
	rules    core.Rules
	chainID  string

	holding bool
	held    []events.Event
}

// NewExecutor creates an Executor. Transactions signed for another chainID
// are refused.
func NewExecutor(state core.State, emitter *events.Emitter, registry *Registry, rules core.Rules, chainID string) *Executor {
	return &Executor{
		state:    state,
		emitter:  emitter,
		registry: registry,
		rules:    rules,
		chainID:  chainID,
	}
}

// Rules returns the rules handlers run under.
func (e *Executor) Rules() core.Rules { return e.rules }

// HoldEvents buffers every event from now on until ReleaseEvents, so a
// block that is later refused or reverted publishes nothing.
func (e *Executor) HoldEvents() {
	e.holding = true
	e.held = nil
}

// ReleaseEvents stops buffering and, if publish is set, emits what was held
// in order. Calling it when nothing is held does nothing.
func (e *Executor) ReleaseEvents(publish bool) {
	held := e.held
	e.holding, e.held = false, nil
	if !publish {
		return
	}
	for _, ev := range held {
		e.publish(ev)
	}
}

func (e *Executor) publish(ev events.Event) {
	if e.holding {
		e.held = append(e.held, ev)
		return
	}
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

// ExecuteBlock applies all transactions in block sequentially. A
// transaction a rule refuses still consumes its nonce and fee; the set of
// such refusals must equal block.Rejected exactly, otherwise the block is
// invalid. Any other failure also invalidates the block.
// EventBlockCommit is emitted by the caller (consensus) after signing so
// the event carries the correct block hash.
// Callers that may still refuse the block afterwards wrap it in HoldEvents.
func (e *Executor) ExecuteBlock(block *core.Block) error {
	var rejected []core.Rejection
	for _, tx := range block.Transactions {
		err := e.ExecuteTx(block, tx)
		if err == nil {
			continue
		}
		if !gameerr.IsRule(err) {
			return fmt.Errorf("tx %s failed: %w", tx.ID, err)
		}
		rejected = append(rejected, core.NewRejection(tx, err))
	}
	if err := sameRejections(rejected, block.Rejected); err != nil {
		return err
	}
	e.EmitRejections(block)
	return nil
}

// sameRejections compares what re-execution refused with what the proposer
// claims it refused.
func sameRejections(got, claimed []core.Rejection) error {
	if len(got) != len(claimed) {
		return fmt.Errorf("block lists %d rejected txs, execution rejected %d", len(claimed), len(got))
	}
	for i, g := range got {
		c := claimed[i]
		if g.TxID != c.TxID || g.Code != c.Code || g.Type != c.Type || g.From != c.From {
			return fmt.Errorf("rejection %d: block claims %s %s, execution gave %s %s",
				i, c.TxID, c.Code, g.TxID, g.Code)
		}
	}
	return nil
}

// EmitRejections publishes a tx_rejected event for every rejection the
// block carries.
func (e *Executor) EmitRejections(block *core.Block) {
	for _, r := range block.Rejected {
		e.publish(events.Event{
			Type:        events.EventTxRejected,
			TxID:        r.TxID,
			BlockHeight: block.Header.Height,
			Data: map[string]any{
				"type":  string(r.Type),
				"from":  r.From,
				"code":  string(r.Code),
				"error": r.Error,
			},
		})
	}
}

// ExecuteTx verifies and executes a single transaction. When a rule refuses
// it, the handler's writes are rolled back but the nonce and fee stay
// consumed, so the signed transaction can never run again. The rule error
// is returned as *gameerr.Error, possibly wrapped. Any other error leaves
// the state untouched.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) error {
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	if tx.ChainID != e.chainID {
		return fmt.Errorf("chain id mismatch: got %q want %q", tx.ChainID, e.chainID)
	}

	txSnap, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	revert := func(snap int, cause error) error {
		if revertErr := e.state.RevertToSnapshot(snap); revertErr != nil {
			return fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", cause, revertErr)
		}
		return cause
	}

	if err := e.charge(tx); err != nil {
		return revert(txSnap, err)
	}
	handlerSnap, err := e.state.Snapshot()
	if err != nil {
		return revert(txSnap, fmt.Errorf("snapshot: %w", err))
	}

	ctx := &Context{
		State:   e.state,
		Block:   block,
		Tx:      tx,
		Emitter: e.emitter,
		Rules:   e.rules,
	}
	if err := e.registry.Execute(tx.Type, ctx, tx.Payload); err != nil {
		if gameerr.IsRule(err) {
			return revert(handlerSnap, err)
		}
		return revert(txSnap, err)
	}

	ctx.flush(e.publish)
	e.publish(events.Event{
		Type:        events.EventTxExecuted,
		TxID:        tx.ID,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"type": string(tx.Type), "from": tx.From},
	})
	return nil
}

// charge checks the nonce, moves the fee to the treasury and increments
// the nonce.
func (e *Executor) charge(tx *core.Transaction) error {
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if tx.Nonce > acc.Nonce {
		return fmt.Errorf("%w: expected %d got %d", ErrFutureNonce, acc.Nonce, tx.Nonce)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("%w: expected %d got %d", ErrStaleNonce, acc.Nonce, tx.Nonce)
	}
	if acc.Balance < tx.Fee {
		return fmt.Errorf("insufficient balance for fee: have %d need %d", acc.Balance, tx.Fee)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	acc.Balance -= tx.Fee
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}
	if tx.Fee > 0 && e.rules.Treasury != "" {
		if err := Credit(e.state, e.rules.Treasury, tx.Fee); err != nil {
			// not a rule rejection: the nonce must stay unused
			return fmt.Errorf("credit fee: %v", err)
		}
	}
	return nil
}

package testutil

import (
	"testing"
	"time"

	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/events"
	"github.com/tolelom/pantheon/storage"
	"github.com/tolelom/pantheon/vm"
	"github.com/tolelom/pantheon/vm/modules"
	"github.com/tolelom/pantheon/wallet"
)

// ChainID is the chain id every Chain signs for.
const ChainID = "pantheon-test"

// Chain drives the executor one transaction per block with a clock the
// test controls.
type Chain struct {
	t testing.TB

	State    *storage.StateDB
	Emitter  *events.Emitter
	Executor *vm.Executor
	Rules    core.Rules
	Admin    *wallet.Wallet

	Height int64
	Clock  time.Time
	Events []events.Event
}

// NewChain builds an in-memory chain. mutate, when non-nil, adjusts the
// default rules before the executor is created.
func NewChain(t testing.TB, mutate func(*core.Rules)) *Chain {
	t.Helper()
	admin := NewWallet(t)
	rules := core.DefaultRules()
	rules.Treasury = "treasury"
	rules.Admin = admin.PubKey()
	if mutate != nil {
		mutate(&rules)
	}
	if err := rules.Validate(); err != nil {
		t.Fatalf("rules: %v", err)
	}

	c := &Chain{
		t:       t,
		State:   storage.NewStateDB(NewMemDB()),
		Emitter: events.NewEmitter(nil),
		Rules:   rules,
		Admin:   admin,
		Clock:   time.Unix(1_700_000_000, 0),
	}
	c.Emitter.SubscribeAll(func(ev events.Event) { c.Events = append(c.Events, ev) })
	c.Executor = vm.NewExecutor(c.State, c.Emitter, modules.NewRegistry(), rules, ChainID)
	return c
}

// NewWallet generates a throwaway wallet.
func NewWallet(t testing.TB) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate()
	if err != nil {
		t.Fatalf("generate wallet: %v", err)
	}
	return w
}

// Fund sets addr's balance directly.
func (c *Chain) Fund(addr string, amount uint64) {
	c.t.Helper()
	acc, err := c.State.GetAccount(addr)
	if err != nil {
		c.t.Fatalf("get account: %v", err)
	}
	acc.Balance = amount
	if err := c.State.SetAccount(acc); err != nil {
		c.t.Fatalf("set account: %v", err)
	}
}

// Balance returns addr's balance.
func (c *Chain) Balance(addr string) uint64 {
	c.t.Helper()
	acc, err := c.State.GetAccount(addr)
	if err != nil {
		c.t.Fatalf("get account: %v", err)
	}
	return acc.Balance
}

// Advance moves the block clock forward.
func (c *Chain) Advance(d time.Duration) { c.Clock = c.Clock.Add(d) }

// Submit signs a transaction from w with its current nonce and executes it
// in a fresh block stamped with the chain clock.
func (c *Chain) Submit(w *wallet.Wallet, typ core.TxType, payload any) error {
	c.t.Helper()
	acc, err := c.State.GetAccount(w.PubKey())
	if err != nil {
		c.t.Fatalf("get account: %v", err)
	}
	tx, err := w.NewTx(ChainID, typ, acc.Nonce, 0, payload)
	if err != nil {
		c.t.Fatalf("build tx: %v", err)
	}
	return c.Execute(tx)
}

// Execute runs an already signed transaction in a fresh block.
func (c *Chain) Execute(tx *core.Transaction) error {
	c.Height++
	b := core.NewBlock(c.Height, "", "proposer", []*core.Transaction{tx})
	b.Header.Timestamp = c.Clock.UnixNano()
	return c.Executor.ExecuteTx(b, tx)
}

// MustSubmit is Submit that fails the test on error.
func (c *Chain) MustSubmit(w *wallet.Wallet, typ core.TxType, payload any) {
	c.t.Helper()
	if err := c.Submit(w, typ, payload); err != nil {
		c.t.Fatalf("%s: %v", typ, err)
	}
}

// Acquire buys an instance of archetypeID for w at the configured price and
// returns its id.
func (c *Chain) Acquire(w *wallet.Wallet, archetypeID uint8) uint64 {
	c.t.Helper()
	c.MustSubmit(w, core.TxAcquireCharacter, core.AcquireCharacterPayload{
		ArchetypeID: archetypeID,
		Payment:     c.Rules.AcquirePrice,
	})
	p, err := c.State.GetProfile(w.PubKey())
	if err != nil || len(p.OwnedInstanceIDs) == 0 {
		c.t.Fatalf("acquire left no instance: %v", err)
	}
	return p.OwnedInstanceIDs[len(p.OwnedInstanceIDs)-1]
}

// Match loads a match record.
func (c *Chain) Match(id uint64) *core.Match {
	c.t.Helper()
	m, err := c.State.GetMatch(id)
	if err != nil {
		c.t.Fatalf("get match %d: %v", id, err)
	}
	return m
}

// EventsOf returns the published events of type typ in order.
func (c *Chain) EventsOf(typ events.EventType) []events.Event {
	var out []events.Event
	for _, ev := range c.Events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

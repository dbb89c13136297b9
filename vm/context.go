package vm

import (
	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/events"
)

// Context is passed to every Handler and provides access to the chain state,
// the current block, the triggering transaction, the event emitter and the
// genesis rules.
type Context struct {
	State   core.State
	Block   *core.Block
	Tx      *core.Transaction
	Emitter *events.Emitter
	Rules   core.Rules

	pending []events.Event
}

// Now is the block timestamp in unix nanos. Handlers never read the wall
// clock.
func (c *Context) Now() int64 { return c.Block.Header.Timestamp }

// Sender is the signer of the transaction.
func (c *Context) Sender() string { return c.Tx.From }

// Emit queues a domain event stamped with the tx id and block height. Queued
// events are published only if the transaction commits.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	c.pending = append(c.pending, events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: c.Block.Header.Height,
		Data:        data,
	})
}

func (c *Context) flush(publish func(events.Event)) {
	for _, ev := range c.pending {
		publish(ev)
	}
	c.pending = nil
}

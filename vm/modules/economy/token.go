// Package economy implements native token transfers.
package economy

import (
	"fmt"

	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/events"
	"github.com/tolelom/pantheon/gameerr"
	"github.com/tolelom/pantheon/vm"
)

// Register adds the economy handlers to r.
func Register(r *vm.Registry) {
	vm.Handle(r, core.TxTransfer, handleTransfer)
}

func handleTransfer(ctx *vm.Context, p core.TransferPayload) error {
	if p.Amount == 0 {
		return gameerr.New(gameerr.CodeInvalidPayload, "transfer amount must be > 0")
	}
	if p.To == "" {
		return gameerr.New(gameerr.CodeInvalidPayload, "transfer to address required")
	}
	if p.To == core.EscrowAddress {
		return gameerr.New(gameerr.CodeUnauthorized, "cannot transfer into the escrow account")
	}

	if err := vm.Move(ctx.State, ctx.Sender(), p.To, p.Amount); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}

	ctx.Emit(events.EventTokenTransfer, map[string]any{
		"from":   ctx.Sender(),
		"to":     p.To,
		"amount": p.Amount,
	})
	return nil
}

package match

import (
	"fmt"

	"github.com/tolelom/pantheon/battle"
	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/events"
	"github.com/tolelom/pantheon/gameerr"
	"github.com/tolelom/pantheon/vm"
	"github.com/tolelom/pantheon/vm/modules/character"
)

// release pays amount out of escrow. An escrow shortfall is a failed
// payment and aborts the transaction.
func release(st core.State, to string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := vm.Debit(st, core.EscrowAddress, amount); err != nil {
		if gameerr.IsCode(err, gameerr.CodeInsufficientBalance) {
			return gameerr.Newf(gameerr.CodePaymentFailed, "escrow cannot cover %d to %s", amount, to)
		}
		return err
	}
	return vm.Credit(st, to, amount)
}

func updateProfile(st core.State, addr string, fn func(*core.Profile)) error {
	p, err := st.GetProfile(addr)
	if err != nil {
		return fmt.Errorf("load profile %s: %w", addr, err)
	}
	fn(p)
	return st.SetProfile(p)
}

func complete(ctx *vm.Context, m *core.Match, reason battle.EndReason) {
	m.Status = core.MatchCompleted
	m.EndReason = reason
	m.CompletedAt = ctx.Now()
}

// settleWin finishes m in favour of side: the prize minus the platform fee
// goes to the winner, the fee to the treasury, experience to the winning
// instance. The caller persists m.
func settleWin(ctx *vm.Context, m *core.Match, side battle.Side, reason battle.EndReason) error {
	winner, loser := m.Player(side), m.Player(side.Other())

	payout, fee, err := ctx.Rules.SplitPrize(m.Stake)
	if err != nil {
		return err
	}
	if err := release(ctx.State, winner, payout); err != nil {
		return err
	}
	if err := release(ctx.State, ctx.Rules.Treasury, fee); err != nil {
		return err
	}

	if err := updateProfile(ctx.State, winner, func(p *core.Profile) {
		p.TotalMatches++
		p.Wins++
	}); err != nil {
		return err
	}
	if err := updateProfile(ctx.State, loser, func(p *core.Profile) {
		p.TotalMatches++
		p.Losses++
	}); err != nil {
		return err
	}

	inst, err := character.Load(ctx.State, m.Combat(side).InstanceID)
	if err != nil {
		return err
	}
	inst.AddExperience(ctx.Rules.WinExperience)
	if err := ctx.State.SetCharacter(inst); err != nil {
		return err
	}

	complete(ctx, m, reason)
	m.Winner = winner
	m.Payout = payout
	m.Fee = fee

	ctx.Emit(events.EventMatchCompleted, map[string]any{
		"match_id": m.ID,
		"winner":   winner,
		"loser":    loser,
		"payout":   payout,
		"fee":      fee,
		"reason":   string(reason),
	})
	return nil
}

// settleDraw refunds both stakes without a fee or experience.
func settleDraw(ctx *vm.Context, m *core.Match, reason battle.EndReason) error {
	for _, addr := range []string{m.Initiator, m.Opponent} {
		if err := release(ctx.State, addr, m.Stake); err != nil {
			return err
		}
		if err := updateProfile(ctx.State, addr, func(p *core.Profile) {
			p.TotalMatches++
			p.Draws++
		}); err != nil {
			return err
		}
	}
	complete(ctx, m, reason)

	ctx.Emit(events.EventMatchCompleted, map[string]any{
		"match_id": m.ID,
		"winner":   "",
		"draw":     true,
		"payout":   uint64(0),
		"fee":      uint64(0),
		"reason":   string(reason),
	})
	return nil
}

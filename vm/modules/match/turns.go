package match

import (
	"github.com/tolelom/pantheon/battle"
	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/events"
	"github.com/tolelom/pantheon/gameerr"
	"github.com/tolelom/pantheon/vm"
)

// loadOngoing loads a match the caller takes part in and that is still
// being played.
func loadOngoing(ctx *vm.Context, id uint64) (*core.Match, battle.Side, error) {
	m, err := Load(ctx.State, id)
	if err != nil {
		return nil, 0, err
	}
	if m.Status != core.MatchOngoing {
		return nil, 0, gameerr.Newf(gameerr.CodeMatchNotOngoing, "match %d is %s", m.ID, m.Status)
	}
	side, ok := m.SideOf(ctx.Sender())
	if !ok {
		return nil, 0, gameerr.Newf(gameerr.CodeNotParticipant, "caller is not playing match %d", m.ID)
	}
	return m, side, nil
}

func handleMakeMove(ctx *vm.Context, p core.MakeMovePayload) error {
	m, side, err := loadOngoing(ctx, p.MatchID)
	if err != nil {
		return err
	}
	out, err := battle.Resolve(&m.Duel, side, p.AbilityIndex, ctx.Rules.BattleOptions())
	if err != nil {
		return err
	}
	m.LastMoveAt = ctx.Now()

	ctx.Emit(events.EventMoveMade, map[string]any{
		"match_id":      m.ID,
		"actor":         ctx.Sender(),
		"ability_index": p.AbilityIndex,
		"ability":       out.Ability.Name,
		"damage":        out.Damage,
		"healed":        out.Healed,
		"turn":          m.Duel.TurnCount,
	})

	if out.Finished {
		if out.Draw {
			err = settleDraw(ctx, m, out.Reason)
		} else {
			err = settleWin(ctx, m, out.Winner, out.Reason)
		}
		if err != nil {
			return err
		}
	}
	return ctx.State.SetMatch(m)
}

func handleClaimTimeout(ctx *vm.Context, p core.MatchRefPayload) error {
	m, side, err := loadOngoing(ctx, p.MatchID)
	if err != nil {
		return err
	}
	if m.Duel.Turn == side {
		return gameerr.Newf(gameerr.CodeUnauthorized, "caller owns the turn in match %d", m.ID)
	}
	if idle, limit := m.IdleFor(ctx.Now()), ctx.Rules.MatchTimeout.Nanos(); idle < limit {
		return gameerr.Newf(gameerr.CodeTimeoutNotReached,
			"match %d idle for %s of %s", m.ID, core.Duration(idle), ctx.Rules.MatchTimeout)
	}
	if err := settleWin(ctx, m, side, battle.ReasonTimeout); err != nil {
		return err
	}
	return ctx.State.SetMatch(m)
}

func handleEmergencyCancel(ctx *vm.Context, p core.MatchRefPayload) error {
	if ctx.Rules.Admin == "" || ctx.Sender() != ctx.Rules.Admin {
		return gameerr.New(gameerr.CodeUnauthorized, "emergency cancel is restricted to the admin")
	}
	m, err := Load(ctx.State, p.MatchID)
	if err != nil {
		return err
	}
	if m.Status != core.MatchOngoing {
		return gameerr.Newf(gameerr.CodeMatchNotOngoing, "match %d is %s", m.ID, m.Status)
	}
	if idle, limit := m.IdleFor(ctx.Now()), ctx.Rules.EmergencyCancelAfter.Nanos(); idle < limit {
		return gameerr.Newf(gameerr.CodeTimeoutNotReached,
			"match %d idle for %s of %s", m.ID, core.Duration(idle), ctx.Rules.EmergencyCancelAfter)
	}

	for _, addr := range []string{m.Initiator, m.Opponent} {
		if err := release(ctx.State, addr, m.Stake); err != nil {
			return err
		}
	}
	m.Status = core.MatchCompleted
	m.EndReason = battle.ReasonCancelled
	m.CompletedAt = ctx.Now()
	if err := ctx.State.SetMatch(m); err != nil {
		return err
	}

	ctx.Emit(events.EventMatchCancelled, map[string]any{
		"match_id": m.ID,
		"refunded": []string{m.Initiator, m.Opponent},
		"stake":    m.Stake,
	})
	return nil
}

// Package match implements the staked match lifecycle: opening a match,
// joining it, taking turns, claiming timeouts and cancelling.
//
// Status only moves finding -> ongoing -> completed (or finding ->
// completed on cancel). Every handler checks status before touching funds,
// so a completed match can never be settled twice.
package match

import (
	"errors"
	"fmt"

	"github.com/tolelom/pantheon/battle"
	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/events"
	"github.com/tolelom/pantheon/gameerr"
	"github.com/tolelom/pantheon/vm"
	"github.com/tolelom/pantheon/vm/modules/character"
)

// Register adds the match handlers to r.
func Register(r *vm.Registry) {
	vm.Handle(r, core.TxInitiateMatch, handleInitiate)
	vm.Handle(r, core.TxJoinMatch, handleJoin)
	vm.Handle(r, core.TxMakeMove, handleMakeMove)
	vm.Handle(r, core.TxClaimTimeout, handleClaimTimeout)
	vm.Handle(r, core.TxCancelMatch, handleCancel)
	vm.Handle(r, core.TxEmergencyCancel, handleEmergencyCancel)
}

// Load returns the match with id, or a NOT_FOUND rule error.
func Load(st core.State, id uint64) (*core.Match, error) {
	m, err := st.GetMatch(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, gameerr.Newf(gameerr.CodeNotFound, "match %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load match %d: %w", id, err)
	}
	return m, nil
}

// snapshot turns a character into a full-health combatant at its current
// level. Later level-ups do not affect a match already in progress.
func snapshot(c *core.CharacterInstance) (battle.Combatant, error) {
	return battle.NewCombatant(c.ID, c.ArchetypeID, c.Level)
}

func handleInitiate(ctx *vm.Context, p core.InitiateMatchPayload) error {
	if p.Stake == 0 {
		return gameerr.New(gameerr.CodeInvalidStake, "stake must be positive")
	}
	inst, err := character.LoadOwned(ctx.State, p.InstanceID, ctx.Sender())
	if err != nil {
		return err
	}
	fighter, err := snapshot(inst)
	if err != nil {
		return err
	}
	if err := vm.Move(ctx.State, ctx.Sender(), core.EscrowAddress, p.Stake); err != nil {
		return err
	}

	id, err := ctx.State.NextID(core.CounterMatch)
	if err != nil {
		return fmt.Errorf("next match id: %w", err)
	}
	m := &core.Match{
		ID:         id,
		Initiator:  ctx.Sender(),
		Stake:      p.Stake,
		Status:     core.MatchFinding,
		CreatedAt:  ctx.Now(),
		LastMoveAt: ctx.Now(),
	}
	m.Duel.Sides[battle.Initiator] = fighter
	if err := ctx.State.SetMatch(m); err != nil {
		return err
	}
	if err := addFinding(ctx.State, p.Stake, id); err != nil {
		return err
	}

	ctx.Emit(events.EventMatchInitiated, map[string]any{
		"match_id":    id,
		"initiator":   m.Initiator,
		"instance_id": inst.ID,
		"stake":       p.Stake,
	})
	return nil
}

func handleJoin(ctx *vm.Context, p core.JoinMatchPayload) error {
	m, err := Load(ctx.State, p.MatchID)
	if err != nil {
		return err
	}
	if m.Status != core.MatchFinding {
		return gameerr.Newf(gameerr.CodeMatchNotAvailable, "match %d is %s", m.ID, m.Status)
	}
	if ctx.Sender() == m.Initiator {
		return gameerr.Newf(gameerr.CodeCannotJoinOwnMatch, "match %d was opened by the caller", m.ID)
	}
	if p.Stake != m.Stake {
		return gameerr.Newf(gameerr.CodeIncorrectStake, "stake %d does not match %d", p.Stake, m.Stake)
	}
	inst, err := character.LoadOwned(ctx.State, p.InstanceID, ctx.Sender())
	if err != nil {
		return err
	}
	fighter, err := snapshot(inst)
	if err != nil {
		return err
	}
	if err := vm.Move(ctx.State, ctx.Sender(), core.EscrowAddress, p.Stake); err != nil {
		return err
	}

	m.Opponent = ctx.Sender()
	m.Duel.Sides[battle.Opponent] = fighter
	m.Duel.Turn = battle.Initiator
	m.Duel.TurnCount = 0
	m.Status = core.MatchOngoing
	m.LastMoveAt = ctx.Now()
	if err := ctx.State.SetMatch(m); err != nil {
		return err
	}
	if err := removeFinding(ctx.State, m.Stake, m.ID); err != nil {
		return err
	}

	ctx.Emit(events.EventMatchJoined, map[string]any{
		"match_id":    m.ID,
		"initiator":   m.Initiator,
		"opponent":    m.Opponent,
		"instance_id": inst.ID,
		"turn_owner":  m.TurnOwner(),
	})
	return nil
}

func handleCancel(ctx *vm.Context, p core.MatchRefPayload) error {
	m, err := Load(ctx.State, p.MatchID)
	if err != nil {
		return err
	}
	if ctx.Sender() != m.Initiator {
		return gameerr.Newf(gameerr.CodeUnauthorized, "only the initiator can cancel match %d", m.ID)
	}
	if m.Status != core.MatchFinding {
		return gameerr.Newf(gameerr.CodeMatchNotAvailable, "match %d is %s", m.ID, m.Status)
	}
	if err := release(ctx.State, m.Initiator, m.Stake); err != nil {
		return err
	}
	if err := removeFinding(ctx.State, m.Stake, m.ID); err != nil {
		return err
	}
	m.Status = core.MatchCompleted
	m.EndReason = battle.ReasonCancelled
	m.CompletedAt = ctx.Now()
	if err := ctx.State.SetMatch(m); err != nil {
		return err
	}

	ctx.Emit(events.EventMatchCancelled, map[string]any{
		"match_id": m.ID,
		"refunded": []string{m.Initiator},
		"stake":    m.Stake,
	})
	return nil
}

// ---- finding index ----

func addFinding(st core.State, stake, id uint64) error {
	ids, err := st.FindingMatches(stake)
	if err != nil {
		return fmt.Errorf("finding index: %w", err)
	}
	return st.SetFindingMatches(stake, append(ids, id))
}

func removeFinding(st core.State, stake, id uint64) error {
	ids, err := st.FindingMatches(stake)
	if err != nil {
		return fmt.Errorf("finding index: %w", err)
	}
	kept := ids[:0]
	for _, v := range ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	return st.SetFindingMatches(stake, kept)
}

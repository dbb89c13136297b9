// Package character implements the character instance ledger: acquiring
// copies of catalog archetypes and levelling them up.
package character

import (
	"errors"
	"fmt"

	"github.com/tolelom/pantheon/catalog"
	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/events"
	"github.com/tolelom/pantheon/gameerr"
	"github.com/tolelom/pantheon/vm"
)

// Register adds the character handlers to r.
func Register(r *vm.Registry) {
	vm.Handle(r, core.TxAcquireCharacter, handleAcquire)
	vm.Handle(r, core.TxLevelUpCharacter, handleLevelUp)
}

// Load returns the instance with id, or a NOT_FOUND rule error.
func Load(st core.State, id uint64) (*core.CharacterInstance, error) {
	c, err := st.GetCharacter(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, gameerr.Newf(gameerr.CodeNotFound, "character instance %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load instance %d: %w", id, err)
	}
	return c, nil
}

// LoadOwned returns the instance with id if owner owns it.
func LoadOwned(st core.State, id uint64, owner string) (*core.CharacterInstance, error) {
	c, err := Load(st, id)
	if err != nil {
		return nil, err
	}
	if c.Owner != owner {
		return nil, gameerr.Newf(gameerr.CodeNotOwner, "instance %d is not owned by %s", id, owner)
	}
	return c, nil
}

func handleAcquire(ctx *vm.Context, p core.AcquireCharacterPayload) error {
	if !catalog.Valid(p.ArchetypeID) {
		return gameerr.Newf(gameerr.CodeInvalidArchetype, "archetype %d does not exist", p.ArchetypeID)
	}
	if p.Payment != ctx.Rules.AcquirePrice {
		return gameerr.Newf(gameerr.CodeIncorrectPayment,
			"payment %d does not match price %d", p.Payment, ctx.Rules.AcquirePrice)
	}
	if err := vm.Move(ctx.State, ctx.Sender(), ctx.Rules.Treasury, p.Payment); err != nil {
		return err
	}

	id, err := ctx.State.NextID(core.CounterCharacter)
	if err != nil {
		return fmt.Errorf("next instance id: %w", err)
	}
	inst, err := core.NewCharacterInstance(id, p.ArchetypeID, ctx.Sender(), ctx.Now())
	if err != nil {
		return err
	}
	if err := ctx.State.SetCharacter(inst); err != nil {
		return err
	}

	prof, err := ctx.State.GetProfile(ctx.Sender())
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	prof.OwnedInstanceIDs = append(prof.OwnedInstanceIDs, id)
	if err := ctx.State.SetProfile(prof); err != nil {
		return err
	}

	ctx.Emit(events.EventCharacterAcquired, map[string]any{
		"instance_id":  id,
		"archetype_id": p.ArchetypeID,
		"owner":        ctx.Sender(),
	})
	return nil
}

func handleLevelUp(ctx *vm.Context, p core.LevelUpCharacterPayload) error {
	inst, err := LoadOwned(ctx.State, p.InstanceID, ctx.Sender())
	if err != nil {
		return err
	}
	if err := inst.LevelUp(); err != nil {
		return err
	}
	if err := ctx.State.SetCharacter(inst); err != nil {
		return err
	}

	ctx.Emit(events.EventCharacterLeveledUp, map[string]any{
		"instance_id": inst.ID,
		"owner":       inst.Owner,
		"level":       inst.Level,
	})
	return nil
}

// Package battle resolves a single turn of a two-sided duel. It is pure: no
// clock, no randomness, no storage. The on-chain match handlers and the
// offline practice simulator both drive duels through Resolve.
package battle

import (
	"github.com/tolelom/pantheon/catalog"
	"github.com/tolelom/pantheon/gameerr"
)

// DefaultManaRegen is the mana the acting side recovers after a
// non-terminal move.
const DefaultManaRegen = 15

// Side identifies one participant of a duel.
type Side uint8

const (
	Initiator Side = 0
	Opponent  Side = 1
)

// Other returns the opposing side.
func (s Side) Other() Side { return 1 - s }

func (s Side) String() string {
	if s == Initiator {
		return "initiator"
	}
	return "opponent"
}

// EndReason explains why a duel or match finished.
type EndReason string

const (
	ReasonKnockout     EndReason = "knockout"
	ReasonManaDeadlock EndReason = "mana_deadlock"
	ReasonDraw         EndReason = "draw"
	ReasonTimeout      EndReason = "timeout"
	ReasonCancelled    EndReason = "cancelled"
)

// Combatant is one side's mutable combat snapshot.
type Combatant struct {
	InstanceID  uint64                       `json:"instance_id"`
	ArchetypeID uint8                        `json:"archetype_id"`
	Level       uint32                       `json:"level"`
	Health      uint64                       `json:"health"`
	MaxHealth   uint64                       `json:"max_health"`
	Mana        uint64                       `json:"mana"`
	MaxMana     uint64                       `json:"max_mana"`
	Cooldowns   [catalog.AbilityCount]uint64 `json:"cooldowns"` // turn count at which each ability is usable again
}

// NewCombatant snapshots a character at full health and mana with no
// abilities on cooldown.
func NewCombatant(instanceID uint64, archetypeID uint8, level uint32) (Combatant, error) {
	a, err := catalog.Get(archetypeID)
	if err != nil {
		return Combatant{}, err
	}
	st := a.StatsAt(level)
	return Combatant{
		InstanceID:  instanceID,
		ArchetypeID: archetypeID,
		Level:       level,
		Health:      st.Health,
		MaxHealth:   st.Health,
		Mana:        st.Mana,
		MaxMana:     st.Mana,
	}, nil
}

// Duel is the combat state shared by both sides.
type Duel struct {
	Sides     [2]Combatant `json:"sides"`
	Turn      Side         `json:"turn"`
	TurnCount uint64       `json:"turn_count"`
}

// NewDuel starts a duel with the initiator to move.
func NewDuel(initiator, opponent Combatant) Duel {
	return Duel{Sides: [2]Combatant{initiator, opponent}, Turn: Initiator}
}

// Finished reports whether either side has been knocked out.
func (d *Duel) Finished() bool {
	return d.Sides[0].Health == 0 || d.Sides[1].Health == 0
}

// Outcome describes what a resolved move did.
type Outcome struct {
	Actor        Side            `json:"actor"`
	AbilityIndex int             `json:"ability_index"`
	Ability      catalog.Ability `json:"ability"`
	Damage       uint64          `json:"damage"`
	Healed       uint64          `json:"healed"`
	Finished     bool            `json:"finished"`
	Draw         bool            `json:"draw"`
	Winner       Side            `json:"winner"`
	Reason       EndReason       `json:"reason,omitempty"`
}

// Options tune a resolution. The authoritative path uses ManaRegen only.
type Options struct {
	ManaRegen uint64
	// DamageScale, when set, rescales computed damage. Cosmetic: offline
	// play only.
	DamageScale func(damage uint64) uint64
}

// DefaultOptions returns the standard rule options.
func DefaultOptions() Options {
	return Options{ManaRegen: DefaultManaRegen}
}

// CanUse checks whether side may use the ability at index right now,
// ignoring whose turn it is.
func (d *Duel) CanUse(side Side, index int) error {
	ab, err := catalog.GetAbility(d.Sides[side].ArchetypeID, index)
	if err != nil {
		return err
	}
	c := &d.Sides[side]
	if c.Cooldowns[index] > d.TurnCount {
		return gameerr.Newf(gameerr.CodeAbilityOnCooldown,
			"%s is usable again at turn %d (now %d)", ab.Name, c.Cooldowns[index], d.TurnCount)
	}
	if c.Mana < ab.ManaCost {
		return gameerr.Newf(gameerr.CodeInsufficientMana,
			"%s costs %d mana, have %d", ab.Name, ab.ManaCost, c.Mana)
	}
	return nil
}

// Usable lists the ability indexes side could use right now.
func (d *Duel) Usable(side Side) []int {
	var out []int
	for i := 0; i < catalog.AbilityCount; i++ {
		if d.CanUse(side, i) == nil {
			out = append(out, i)
		}
	}
	return out
}

// Resolve applies actor's ability to the duel. On error the duel is left
// untouched.
func Resolve(d *Duel, actor Side, abilityIndex int, opts Options) (Outcome, error) {
	if d.Finished() {
		return Outcome{}, gameerr.New(gameerr.CodeMatchNotOngoing, "duel already finished")
	}
	if actor != d.Turn {
		return Outcome{}, gameerr.Newf(gameerr.CodeNotYourTurn, "it is the %s's turn", d.Turn)
	}
	if abilityIndex < 0 || abilityIndex >= catalog.AbilityCount {
		return Outcome{}, gameerr.Newf(gameerr.CodeInvalidAbility, "ability index %d out of range", abilityIndex)
	}
	if err := d.CanUse(actor, abilityIndex); err != nil {
		return Outcome{}, err
	}

	atk := &d.Sides[actor]
	def := &d.Sides[actor.Other()]
	ab, _ := catalog.GetAbility(atk.ArchetypeID, abilityIndex)
	defArch, err := catalog.Get(def.ArchetypeID)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Actor: actor, AbilityIndex: abilityIndex, Ability: ab}

	atk.Mana -= ab.ManaCost
	atk.Cooldowns[abilityIndex] = d.TurnCount + ab.CooldownTurns

	if ab.IsHeal() {
		healed := ab.BaseDamage
		if room := atk.MaxHealth - atk.Health; healed > room {
			healed = room
		}
		atk.Health += healed
		out.Healed = healed
	} else {
		dmg := DamageFormula(ab.BaseDamage, atk.Level, defArch.BaseDefense, def.Level)
		if opts.DamageScale != nil {
			if dmg = opts.DamageScale(dmg); dmg < MinDamage {
				dmg = MinDamage
			}
		}
		if dmg > def.Health {
			dmg = def.Health
		}
		def.Health -= dmg
		out.Damage = dmg
	}

	if def.Health == 0 {
		out.Finished = true
		out.Winner = actor
		out.Reason = ReasonKnockout
		return out, nil
	}

	d.Turn = actor.Other()
	d.TurnCount++
	atk.Mana += opts.ManaRegen
	if atk.Mana > atk.MaxMana {
		atk.Mana = atk.MaxMana
	}

	if atk.Mana == 0 && def.Mana == 0 {
		out.Finished = true
		switch {
		case atk.Health > def.Health:
			out.Winner, out.Reason = actor, ReasonManaDeadlock
		case def.Health > atk.Health:
			out.Winner, out.Reason = actor.Other(), ReasonManaDeadlock
		default:
			out.Draw, out.Reason = true, ReasonDraw
		}
	}
	return out, nil
}

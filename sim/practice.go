// Package sim runs offline practice duels against a bot. Practice matches
// use the same resolution rules as on-chain matches but carry no stake and
// never touch the ledger.
package sim

import (
	"errors"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/tolelom/pantheon/battle"
	"github.com/tolelom/pantheon/catalog"
)

// ErrFinished is returned by moves made after the practice has ended.
var ErrFinished = errors.New("practice already finished")

// Fighter picks the character a side plays.
type Fighter struct {
	ArchetypeID uint8
	Level       uint32
}

// Options tune a practice.
type Options struct {
	// ManaRegen overrides battle.DefaultManaRegen when non-zero.
	ManaRegen uint64
	// Variance scales every hit by a random factor in [0.8, 1.2].
	Variance bool
	// Seed makes variance reproducible. Zero picks a random seed.
	Seed uint64
}

// Turn is the result of one Move: the player's action and the bot's reply.
type Turn struct {
	Player    battle.Outcome  `json:"player"`
	Bot       *battle.Outcome `json:"bot,omitempty"`
	BotPassed bool            `json:"bot_passed,omitempty"`
}

// Practice is a duel between the player (initiator side, moves first) and a
// bot.
type Practice struct {
	ID   string
	Duel battle.Duel
	Log  []battle.Outcome

	opts   battle.Options
	result *battle.Outcome
}

// NewPractice starts a practice duel.
func NewPractice(player, bot Fighter, opts Options) (*Practice, error) {
	pc, err := battle.NewCombatant(0, player.ArchetypeID, max(player.Level, 1))
	if err != nil {
		return nil, err
	}
	bc, err := battle.NewCombatant(0, bot.ArchetypeID, max(bot.Level, 1))
	if err != nil {
		return nil, err
	}

	bo := battle.DefaultOptions()
	if opts.ManaRegen != 0 {
		bo.ManaRegen = opts.ManaRegen
	}
	if opts.Variance {
		seed := opts.Seed
		if seed == 0 {
			seed = rand.Uint64()
		}
		bo.DamageScale = variance(rand.New(rand.NewPCG(seed, seed>>1|1)))
	}
	return &Practice{
		ID:   uuid.NewString(),
		Duel: battle.NewDuel(pc, bc),
		opts: bo,
	}, nil
}

func variance(r *rand.Rand) func(uint64) uint64 {
	return func(dmg uint64) uint64 {
		return uint64(float64(dmg) * (0.8 + 0.4*r.Float64()))
	}
}

// Finished reports whether the duel is over.
func (p *Practice) Finished() bool { return p.result != nil }

// Result returns the final outcome once finished.
func (p *Practice) Result() (battle.Outcome, bool) {
	if p.result == nil {
		return battle.Outcome{}, false
	}
	return *p.result, true
}

// Usable lists the player's abilities that can be used now.
func (p *Practice) Usable() []int { return p.Duel.Usable(battle.Initiator) }

// Move plays the player's ability and, unless that ends the duel, the bot's
// reply. A rejected move changes nothing.
func (p *Practice) Move(abilityIndex int) (Turn, error) {
	if p.result != nil {
		return Turn{}, ErrFinished
	}
	out, err := battle.Resolve(&p.Duel, battle.Initiator, abilityIndex, p.opts)
	if err != nil {
		return Turn{}, err
	}
	turn := Turn{Player: out}
	if p.record(out) {
		return turn, nil
	}
	p.botReply(&turn)
	return turn, nil
}

// Pass gives up the player's turn, for when nothing is usable.
func (p *Practice) Pass() (Turn, error) {
	if p.result != nil {
		return Turn{}, ErrFinished
	}
	p.pass(battle.Initiator)
	turn := Turn{Player: battle.Outcome{Actor: battle.Initiator, AbilityIndex: -1}}
	p.botReply(&turn)
	return turn, nil
}

func (p *Practice) botReply(turn *Turn) {
	idx, ok := BotChoice(&p.Duel, battle.Opponent)
	if !ok {
		p.pass(battle.Opponent)
		turn.BotPassed = true
		return
	}
	out, err := battle.Resolve(&p.Duel, battle.Opponent, idx, p.opts)
	if err != nil {
		// BotChoice only returns usable abilities.
		p.pass(battle.Opponent)
		turn.BotPassed = true
		return
	}
	turn.Bot = &out
	p.record(out)
}

// pass hands the turn over with the usual mana regeneration.
func (p *Practice) pass(side battle.Side) {
	c := &p.Duel.Sides[side]
	c.Mana = min(c.Mana+p.opts.ManaRegen, c.MaxMana)
	p.Duel.Turn = side.Other()
	p.Duel.TurnCount++
}

func (p *Practice) record(out battle.Outcome) bool {
	p.Log = append(p.Log, out)
	if out.Finished {
		p.result = &out
	}
	return out.Finished
}

// BotChoice picks side's move: the usable damage ability with the highest
// base damage, else any usable ability. It reports false when nothing is
// usable.
func BotChoice(d *battle.Duel, side battle.Side) (int, bool) {
	usable := d.Usable(side)
	if len(usable) == 0 {
		return 0, false
	}
	abs, err := catalog.Abilities(d.Sides[side].ArchetypeID)
	if err != nil {
		return 0, false
	}
	best := -1
	for _, i := range usable {
		if abs[i].IsHeal() {
			continue
		}
		if best < 0 || abs[i].BaseDamage > abs[best].BaseDamage {
			best = i
		}
	}
	if best < 0 {
		best = usable[0]
	}
	return best, true
}

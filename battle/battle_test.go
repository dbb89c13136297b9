package battle

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/pantheon/catalog"
	"github.com/tolelom/pantheon/gameerr"
)

func TestDamageFormulaScenarios(t *testing.T) {
	tests := []struct {
		name          string
		base          uint64
		attackerLevel uint32
		defense       uint64
		defenderLevel uint32
		want          uint64
	}{
		{"lightning bolt level 1", 40, 1, 30, 1, 10},
		{"lightning bolt level 5", 40, 5, 30, 1, 18},
		{"defense capped at 80 percent", 40, 1, 500, 1, 8},
		{"no defense", 40, 1, 0, 1, 40},
		{"floor of one", 1, 1, 1000, 100, 1},
		{"defender levels add defense", 40, 1, 20, 3, 10},
		{"zero base damage", 0, 1, 30, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DamageFormula(tt.base, tt.attackerLevel, tt.defense, tt.defenderLevel)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDamageFormulaFloorAndCap(t *testing.T) {
	for base := uint64(1); base <= 120; base += 7 {
		for atk := uint32(1); atk <= 100; atk += 11 {
			for def := uint64(0); def <= 400; def += 23 {
				for dl := uint32(1); dl <= 100; dl += 13 {
					got := DamageFormula(base, atk, def, dl)
					require.GreaterOrEqual(t, got, uint64(MinDamage))

					total := base + uint64(atk-1)*LevelDamageBonus
					// at most 80% reduction means at least floor(total*20/100)
					require.GreaterOrEqual(t, got, total*(100-MaxDefenseReduction)/100)
					require.LessOrEqual(t, got, total)
				}
			}
		}
	}
}

func newZeusDuel(t *testing.T) Duel {
	t.Helper()
	a, err := NewCombatant(1, catalog.Zeus, 1)
	require.NoError(t, err)
	b, err := NewCombatant(2, catalog.Zeus, 1)
	require.NoError(t, err)
	return NewDuel(a, b)
}

func TestNewCombatantUnknownArchetype(t *testing.T) {
	_, err := NewCombatant(1, 9, 1)
	assert.True(t, gameerr.IsCode(err, gameerr.CodeInvalidArchetype))
}

func TestResolveDamageMove(t *testing.T) {
	d := newZeusDuel(t)
	out, err := Resolve(&d, Initiator, 0, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, uint64(10), out.Damage)
	assert.False(t, out.Finished)
	assert.Equal(t, uint64(110), d.Sides[Opponent].Health)
	// 100 - 18 + 15
	assert.Equal(t, uint64(97), d.Sides[Initiator].Mana)
	assert.Equal(t, uint64(2), d.Sides[Initiator].Cooldowns[0])
	assert.Equal(t, Opponent, d.Turn)
	assert.Equal(t, uint64(1), d.TurnCount)
}

func TestResolveRejectsWithoutMutation(t *testing.T) {
	d := newZeusDuel(t)
	before := d

	_, err := Resolve(&d, Opponent, 0, DefaultOptions())
	assert.True(t, gameerr.IsCode(err, gameerr.CodeNotYourTurn))
	assert.Equal(t, before, d)

	_, err = Resolve(&d, Initiator, 4, DefaultOptions())
	assert.True(t, gameerr.IsCode(err, gameerr.CodeInvalidAbility))
	assert.Equal(t, before, d)

	d.Sides[Initiator].Mana = 17
	before = d
	_, err = Resolve(&d, Initiator, 0, DefaultOptions())
	assert.True(t, gameerr.IsCode(err, gameerr.CodeInsufficientMana))
	assert.Equal(t, before, d)
}

func TestResolveCooldown(t *testing.T) {
	d := newZeusDuel(t)
	// Wrath of Olympus: cooldown 4, used at turn 0.
	_, err := Resolve(&d, Initiator, 3, DefaultOptions())
	require.NoError(t, err)
	_, err = Resolve(&d, Opponent, 1, DefaultOptions())
	require.NoError(t, err)

	// turn 2 < 0+4
	_, err = Resolve(&d, Initiator, 3, DefaultOptions())
	assert.True(t, gameerr.IsCode(err, gameerr.CodeAbilityOnCooldown))

	_, err = Resolve(&d, Initiator, 1, DefaultOptions())
	require.NoError(t, err)
	_, err = Resolve(&d, Opponent, 1, DefaultOptions())
	require.NoError(t, err)

	// turn 4 == 0+4
	_, err = Resolve(&d, Initiator, 3, DefaultOptions())
	assert.NoError(t, err)
}

func TestResolveHealCapsAtMax(t *testing.T) {
	d := newZeusDuel(t)
	d.Sides[Initiator].Health = 110
	out, err := Resolve(&d, Initiator, 2, DefaultOptions()) // Divine Shield, 25
	require.NoError(t, err)
	assert.Equal(t, uint64(10), out.Healed)
	assert.Zero(t, out.Damage)
	assert.Equal(t, uint64(120), d.Sides[Initiator].Health)
	assert.Equal(t, uint64(120), d.Sides[Opponent].Health)
}

func TestResolveKnockout(t *testing.T) {
	d := newZeusDuel(t)
	d.Sides[Opponent].Health = 5
	out, err := Resolve(&d, Initiator, 0, DefaultOptions())
	require.NoError(t, err)

	assert.True(t, out.Finished)
	assert.Equal(t, Initiator, out.Winner)
	assert.Equal(t, ReasonKnockout, out.Reason)
	assert.Equal(t, uint64(5), out.Damage)
	assert.Zero(t, d.Sides[Opponent].Health)
	// no turn switch on a knockout
	assert.Equal(t, Initiator, d.Turn)
	assert.Zero(t, d.TurnCount)

	_, err = Resolve(&d, Initiator, 1, DefaultOptions())
	assert.True(t, gameerr.IsCode(err, gameerr.CodeMatchNotOngoing))
}

func TestResolveManaDeadlock(t *testing.T) {
	opts := Options{ManaRegen: 0}

	d := newZeusDuel(t)
	d.Sides[Initiator].Mana = 18
	d.Sides[Opponent].Mana = 0
	out, err := Resolve(&d, Initiator, 0, opts)
	require.NoError(t, err)
	assert.True(t, out.Finished)
	assert.Equal(t, Initiator, out.Winner)
	assert.Equal(t, ReasonManaDeadlock, out.Reason)

	d = newZeusDuel(t)
	d.Sides[Initiator].Mana = 18
	d.Sides[Initiator].Health = 50
	d.Sides[Opponent].Mana = 0
	out, err = Resolve(&d, Initiator, 0, opts)
	require.NoError(t, err)
	assert.True(t, out.Finished)
	assert.Equal(t, Opponent, out.Winner)

	d = newZeusDuel(t)
	d.Sides[Initiator].Mana = 18
	d.Sides[Opponent].Mana = 0
	d.Sides[Opponent].Health = 130
	d.Sides[Opponent].MaxHealth = 130
	out, err = Resolve(&d, Initiator, 0, opts)
	require.NoError(t, err)
	assert.True(t, out.Finished)
	assert.True(t, out.Draw)
	assert.Equal(t, ReasonDraw, out.Reason)
}

func TestResolveDamageScale(t *testing.T) {
	d := newZeusDuel(t)
	opts := DefaultOptions()
	opts.DamageScale = func(uint64) uint64 { return 0 }
	out, err := Resolve(&d, Initiator, 0, opts)
	require.NoError(t, err)
	assert.Equal(t, uint64(MinDamage), out.Damage)
}

// Random play between every archetype pair: mana stays in bounds, turns
// alternate after every non-terminal move, cooldowns are honoured.
func TestResolveRandomPlayInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for _, a := range catalog.IDs() {
		for _, b := range catalog.IDs() {
			ca, _ := NewCombatant(1, a, uint32(1+rng.IntN(10)))
			cb, _ := NewCombatant(2, b, uint32(1+rng.IntN(10)))
			d := NewDuel(ca, cb)
			lastUsed := map[[2]int]uint64{}

			for step := 0; step < 500 && !d.Finished(); step++ {
				usable := d.Usable(d.Turn)
				if len(usable) == 0 {
					break
				}
				idx := usable[rng.IntN(len(usable))]
				actor := d.Turn
				turn := d.TurnCount

				if prev, ok := lastUsed[[2]int{int(actor), idx}]; ok {
					ab, _ := catalog.GetAbility(d.Sides[actor].ArchetypeID, idx)
					require.GreaterOrEqual(t, turn, prev+ab.CooldownTurns)
				}
				lastUsed[[2]int{int(actor), idx}] = turn

				out, err := Resolve(&d, actor, idx, DefaultOptions())
				require.NoError(t, err)
				for _, c := range d.Sides {
					require.LessOrEqual(t, c.Mana, c.MaxMana)
					require.LessOrEqual(t, c.Health, c.MaxHealth)
				}
				if out.Finished {
					break
				}
				require.Equal(t, actor.Other(), d.Turn)
				require.Equal(t, turn+1, d.TurnCount)
			}
		}
	}
}

// Package catalog holds the fixed table of character archetypes and their
// abilities. The table is design data: it is built once when the package is
// loaded and never mutated afterwards.
package catalog

import (
	"strings"

	"github.com/tolelom/pantheon/gameerr"
)

// AbilityCount is the number of abilities every archetype carries.
const AbilityCount = 4

// ArchetypeCount is the number of archetypes in the catalog.
const ArchetypeCount = 4

// Effect tags what an ability does when resolved.
type Effect string

const (
	EffectDamage Effect = "damage"
	EffectHeal   Effect = "heal"
)

// Ability is one of an archetype's four moves.
type Ability struct {
	Name          string `json:"name"`
	BaseDamage    uint64 `json:"base_damage"` // heal amount for EffectHeal
	ManaCost      uint64 `json:"mana_cost"`
	CooldownTurns uint64 `json:"cooldown_turns"`
	Effect        Effect `json:"effect"`
}

// IsHeal reports whether the ability restores the caster instead of
// damaging the opponent.
func (a Ability) IsHeal() bool { return a.Effect == EffectHeal }

// Archetype is a character template.
type Archetype struct {
	ID          uint8                 `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	BaseHealth  uint64                `json:"base_health"`
	BaseMana    uint64                `json:"base_mana"`
	BaseDefense uint64                `json:"base_defense"`
	Abilities   [AbilityCount]Ability `json:"abilities"`
}

const (
	Zeus uint8 = iota
	Poseidon
	Hades
	Athena
)

var archetypes = [ArchetypeCount]Archetype{
	{
		ID:          Zeus,
		Name:        "Zeus",
		Description: "King of Olympus. Hits hard from range and shrugs off light blows.",
		BaseHealth:  120,
		BaseMana:    100,
		BaseDefense: 30,
		Abilities: [AbilityCount]Ability{
			{Name: "Lightning Bolt", BaseDamage: 40, ManaCost: 18, CooldownTurns: 2, Effect: EffectDamage},
			{Name: "Thunder Strike", BaseDamage: 30, ManaCost: 12, CooldownTurns: 1, Effect: EffectDamage},
			{Name: "Divine Shield", BaseDamage: 25, ManaCost: 20, CooldownTurns: 3, Effect: EffectHeal},
			{Name: "Wrath of Olympus", BaseDamage: 60, ManaCost: 35, CooldownTurns: 4, Effect: EffectDamage},
		},
	},
	{
		ID:          Poseidon,
		Name:        "Poseidon",
		Description: "Lord of the seas. Deep health pool and crushing area attacks.",
		BaseHealth:  140,
		BaseMana:    90,
		BaseDefense: 25,
		Abilities: [AbilityCount]Ability{
			{Name: "Trident Thrust", BaseDamage: 35, ManaCost: 15, CooldownTurns: 1, Effect: EffectDamage},
			{Name: "Tidal Wave", BaseDamage: 50, ManaCost: 28, CooldownTurns: 3, Effect: EffectDamage},
			{Name: "Ocean's Embrace", BaseDamage: 30, ManaCost: 22, CooldownTurns: 3, Effect: EffectHeal},
			{Name: "Earthquake", BaseDamage: 45, ManaCost: 25, CooldownTurns: 2, Effect: EffectDamage},
		},
	},
	{
		ID:          Hades,
		Name:        "Hades",
		Description: "Ruler of the underworld. Sustains himself by draining the living.",
		BaseHealth:  130,
		BaseMana:    110,
		BaseDefense: 20,
		Abilities: [AbilityCount]Ability{
			{Name: "Shadow Strike", BaseDamage: 38, ManaCost: 16, CooldownTurns: 1, Effect: EffectDamage},
			{Name: "Soul Drain", BaseDamage: 30, ManaCost: 20, CooldownTurns: 2, Effect: EffectHeal},
			{Name: "Cerberus Bite", BaseDamage: 45, ManaCost: 24, CooldownTurns: 2, Effect: EffectDamage},
			{Name: "Underworld Curse", BaseDamage: 55, ManaCost: 32, CooldownTurns: 4, Effect: EffectDamage},
		},
	},
	{
		ID:          Athena,
		Name:        "Athena",
		Description: "Goddess of wisdom and war. Heavily armoured, patient, precise.",
		BaseHealth:  110,
		BaseMana:    120,
		BaseDefense: 35,
		Abilities: [AbilityCount]Ability{
			{Name: "Spear of Wisdom", BaseDamage: 36, ManaCost: 14, CooldownTurns: 1, Effect: EffectDamage},
			{Name: "Aegis Armor", BaseDamage: 28, ManaCost: 20, CooldownTurns: 3, Effect: EffectHeal},
			{Name: "Owl's Blessing", BaseDamage: 22, ManaCost: 15, CooldownTurns: 2, Effect: EffectHeal},
			{Name: "Strategic Strike", BaseDamage: 50, ManaCost: 30, CooldownTurns: 3, Effect: EffectDamage},
		},
	},
}

// IDs returns every archetype id in catalog order.
func IDs() []uint8 {
	ids := make([]uint8, 0, ArchetypeCount)
	for _, a := range archetypes {
		ids = append(ids, a.ID)
	}
	return ids
}

// Valid reports whether id names a catalog archetype.
func Valid(id uint8) bool {
	return int(id) < len(archetypes)
}

// Get returns a copy of the archetype with the given id.
func Get(id uint8) (Archetype, error) {
	if !Valid(id) {
		return Archetype{}, gameerr.Newf(gameerr.CodeInvalidArchetype, "archetype %d does not exist", id)
	}
	return archetypes[id], nil
}

// Abilities returns the four abilities of an archetype.
func Abilities(id uint8) ([AbilityCount]Ability, error) {
	a, err := Get(id)
	if err != nil {
		return [AbilityCount]Ability{}, err
	}
	return a.Abilities, nil
}

// GetAbility returns a single ability of an archetype.
func GetAbility(id uint8, index int) (Ability, error) {
	a, err := Get(id)
	if err != nil {
		return Ability{}, err
	}
	if index < 0 || index >= AbilityCount {
		return Ability{}, gameerr.Newf(gameerr.CodeInvalidAbility, "ability index %d out of range", index)
	}
	return a.Abilities[index], nil
}

// legacyHealKeywords is the naming convention older clients used to decide
// whether an ability heals.
var legacyHealKeywords = []string{
	"Heal", "Shield", "Armor", "Restoration", "Regeneration",
	"Blessing", "Drain", "Embrace", "Divine",
}

// LegacyEffect classifies an ability name with the keyword rule older
// clients used. Kept so authored tags can be checked against it.
func LegacyEffect(name string) Effect {
	for _, kw := range legacyHealKeywords {
		if strings.Contains(name, kw) {
			return EffectHeal
		}
	}
	return EffectDamage
}

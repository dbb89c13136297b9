package battle

// Damage formula constants.
const (
	LevelDamageBonus     = 2  // extra damage per attacker level above 1
	MaxDefenseReduction  = 80 // percent
	MinDamage            = 1
	defensePerLevelBonus = 5
)

// DamageFormula computes the damage a hit deals. Every step floors, in this
// order, so results stay identical to the deployed contract:
//
//	totalDamage  = baseDamage + (attackerLevel-1)*2
//	totalDefense = defenderBaseDefense + (defenderLevel-1)*5
//	reduction    = min(80, totalDefense*100/totalDamage)
//	damage       = max(1, totalDamage*(100-reduction)/100)
func DamageFormula(baseDamage uint64, attackerLevel uint32, defenderBaseDefense uint64, defenderLevel uint32) uint64 {
	totalDamage := baseDamage + levelsAbove1(attackerLevel)*LevelDamageBonus
	if totalDamage == 0 {
		return MinDamage
	}
	totalDefense := defenderBaseDefense + levelsAbove1(defenderLevel)*defensePerLevelBonus

	reduction := totalDefense * 100 / totalDamage
	if reduction > MaxDefenseReduction {
		reduction = MaxDefenseReduction
	}
	final := totalDamage * (100 - reduction) / 100
	if final < MinDamage {
		return MinDamage
	}
	return final
}

func levelsAbove1(level uint32) uint64 {
	if level <= 1 {
		return 0
	}
	return uint64(level - 1)
}

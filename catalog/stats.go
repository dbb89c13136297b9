package catalog

// Per-level growth applied on top of an archetype's base stats.
const (
	HealthPerLevel  = 20
	ManaPerLevel    = 10
	DefensePerLevel = 5
)

// Stats are the level-derived maxima of a character. They are computed on
// read and never stored.
type Stats struct {
	Health  uint64 `json:"health"`
	Mana    uint64 `json:"mana"`
	Defense uint64 `json:"defense"`
}

// StatsAt returns the archetype's stats at level. Levels below 1 are
// treated as 1.
func (a Archetype) StatsAt(level uint32) Stats {
	bonus := uint64(0)
	if level > 1 {
		bonus = uint64(level - 1)
	}
	return Stats{
		Health:  a.BaseHealth + bonus*HealthPerLevel,
		Mana:    a.BaseMana + bonus*ManaPerLevel,
		Defense: a.BaseDefense + bonus*DefensePerLevel,
	}
}

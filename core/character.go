package core

import (
	"math"

	"github.com/tolelom/pantheon/catalog"
	"github.com/tolelom/pantheon/gameerr"
)

const (
	MaxLevel           = 100
	ExperiencePerLevel = 100 // experience needed per current level
)

// CharacterInstance is an owned copy of a catalog archetype. Ownership is
// fixed at acquisition.
type CharacterInstance struct {
	ID          uint64 `json:"id"`
	ArchetypeID uint8  `json:"archetype_id"`
	Owner       string `json:"owner"` // pubkey hex
	Level       uint32 `json:"level"`
	Experience  uint64 `json:"experience"`
	AcquiredAt  int64  `json:"acquired_at"`
}

// NewCharacterInstance returns a level 1 instance with no experience.
func NewCharacterInstance(id uint64, archetypeID uint8, owner string, at int64) (*CharacterInstance, error) {
	if !catalog.Valid(archetypeID) {
		return nil, gameerr.Newf(gameerr.CodeInvalidArchetype, "archetype %d does not exist", archetypeID)
	}
	return &CharacterInstance{
		ID:          id,
		ArchetypeID: archetypeID,
		Owner:       owner,
		Level:       1,
		AcquiredAt:  at,
	}, nil
}

// Stats derives the instance's maxima from its archetype and level.
func (c *CharacterInstance) Stats() (catalog.Stats, error) {
	a, err := catalog.Get(c.ArchetypeID)
	if err != nil {
		return catalog.Stats{}, err
	}
	return a.StatsAt(c.Level), nil
}

// ExperienceForNextLevel is the experience a single level-up consumes.
func (c *CharacterInstance) ExperienceForNextLevel() uint64 {
	return uint64(c.Level) * ExperiencePerLevel
}

// LevelUp advances the instance by exactly one level. On error the
// instance is unchanged.
func (c *CharacterInstance) LevelUp() error {
	if c.Level >= MaxLevel {
		return gameerr.Newf(gameerr.CodeMaxLevelReached, "instance %d is already level %d", c.ID, c.Level)
	}
	need := c.ExperienceForNextLevel()
	if c.Experience < need {
		return gameerr.Newf(gameerr.CodeInsufficientExperience,
			"instance %d has %d experience, needs %d", c.ID, c.Experience, need)
	}
	c.Experience -= need
	c.Level++
	return nil
}

// AddExperience credits xp, saturating at the maximum value.
func (c *CharacterInstance) AddExperience(xp uint64) {
	if xp > math.MaxUint64-c.Experience {
		c.Experience = math.MaxUint64
		return
	}
	c.Experience += xp
}

// Profile aggregates a player's characters and match record.
type Profile struct {
	Address          string   `json:"address"`
	OwnedInstanceIDs []uint64 `json:"owned_instance_ids"`
	TotalMatches     uint64   `json:"total_matches"`
	Wins             uint64   `json:"wins"`
	Losses           uint64   `json:"losses"`
	Draws            uint64   `json:"draws"`
}

// Owns reports whether the profile lists the instance.
func (p *Profile) Owns(instanceID uint64) bool {
	for _, id := range p.OwnedInstanceIDs {
		if id == instanceID {
			return true
		}
	}
	return false
}

package core

// TransferPayload transfers native tokens.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// AcquireCharacterPayload buys a new instance of an archetype. Payment must
// equal the configured acquisition price exactly.
type AcquireCharacterPayload struct {
	ArchetypeID uint8  `json:"archetype_id"`
	Payment     uint64 `json:"payment"`
}

// LevelUpCharacterPayload spends experience to raise an instance one level.
type LevelUpCharacterPayload struct {
	InstanceID uint64 `json:"instance_id"`
}

// InitiateMatchPayload opens a match and escrows the initiator's stake.
type InitiateMatchPayload struct {
	InstanceID uint64 `json:"instance_id"`
	Stake      uint64 `json:"stake"`
}

// JoinMatchPayload joins a finding match. Stake must equal the initiator's.
type JoinMatchPayload struct {
	MatchID    uint64 `json:"match_id"`
	InstanceID uint64 `json:"instance_id"`
	Stake      uint64 `json:"stake"`
}

// MakeMovePayload uses one of the caller's four abilities.
type MakeMovePayload struct {
	MatchID      uint64 `json:"match_id"`
	AbilityIndex int    `json:"ability_index"`
}

// MatchRefPayload names a match; used by claim_timeout, cancel_match and
// emergency_cancel.
type MatchRefPayload struct {
	MatchID uint64 `json:"match_id"`
}

package core

// Account holds a participant's token balance and replay-protection nonce.
// Address is the hex-encoded ed25519 public key.
type Account struct {
	Address string `json:"address"` // pubkey hex
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// EscrowAddress is the module account that holds every staked amount while a
// match is open. It has no key and never signs.
const EscrowAddress = "module:escrow"

// Counter names for monotonically assigned ids.
const (
	CounterCharacter = "character"
	CounterMatch     = "match"
)

// State is the full blockchain state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Character instances
	GetCharacter(id uint64) (*CharacterInstance, error)
	SetCharacter(c *CharacterInstance) error

	// Profiles; GetProfile returns an empty profile for unknown addresses.
	GetProfile(address string) (*Profile, error)
	SetProfile(p *Profile) error

	// Matches
	GetMatch(id uint64) (*Match, error)
	SetMatch(m *Match) error

	// FindingMatches returns the ids of matches waiting for an opponent at
	// exactly stake, oldest first.
	FindingMatches(stake uint64) ([]uint64, error)
	SetFindingMatches(stake uint64, ids []uint64) error

	// NextID increments the named counter and returns the new value. The
	// first id handed out is 1.
	NextID(counter string) (uint64, error)

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
}

package wallet

import (
	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/crypto"
)

// Wallet holds a player's key pair and builds signed game transactions.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key. It is the player's
// on-chain address.
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address (first 20 bytes of SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// NewTx creates a signed transaction. chainID must match the target network
// and nonce the account's current nonce.
func (w *Wallet) NewTx(chainID string, typ core.TxType, nonce, fee uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(chainID, typ, w.pub.Hex(), nonce, fee, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Transfer creates a signed transfer transaction.
func (w *Wallet) Transfer(chainID, to string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxTransfer, nonce, fee, core.TransferPayload{
		To:     to,
		Amount: amount,
	})
}

// AcquireCharacter buys a new instance of archetypeID for payment.
func (w *Wallet) AcquireCharacter(chainID string, archetypeID uint8, payment, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxAcquireCharacter, nonce, fee, core.AcquireCharacterPayload{
		ArchetypeID: archetypeID,
		Payment:     payment,
	})
}

// LevelUp spends an owned instance's experience on one level.
func (w *Wallet) LevelUp(chainID string, instanceID, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxLevelUpCharacter, nonce, fee, core.LevelUpCharacterPayload{
		InstanceID: instanceID,
	})
}

// InitiateMatch opens a match at stake with an owned instance.
func (w *Wallet) InitiateMatch(chainID string, instanceID, stake, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxInitiateMatch, nonce, fee, core.InitiateMatchPayload{
		InstanceID: instanceID,
		Stake:      stake,
	})
}

// JoinMatch joins an open match, matching its stake.
func (w *Wallet) JoinMatch(chainID string, matchID, instanceID, stake, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxJoinMatch, nonce, fee, core.JoinMatchPayload{
		MatchID:    matchID,
		InstanceID: instanceID,
		Stake:      stake,
	})
}

// MakeMove uses the ability at abilityIndex in an ongoing match.
func (w *Wallet) MakeMove(chainID string, matchID uint64, abilityIndex int, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMakeMove, nonce, fee, core.MakeMovePayload{
		MatchID:      matchID,
		AbilityIndex: abilityIndex,
	})
}

// MatchAction builds one of the payload-only match transactions:
// claim_timeout, cancel_match or emergency_cancel.
func (w *Wallet) MatchAction(chainID string, typ core.TxType, matchID, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, typ, nonce, fee, core.MatchRefPayload{MatchID: matchID})
}

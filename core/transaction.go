package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/pantheon/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer         TxType = "transfer"
	TxAcquireCharacter TxType = "acquire_character"
	TxLevelUpCharacter TxType = "level_up_character"
	TxInitiateMatch    TxType = "initiate_match"
	TxJoinMatch        TxType = "join_match"
	TxMakeMove         TxType = "make_move"
	TxClaimTimeout     TxType = "claim_timeout"
	TxCancelMatch      TxType = "cancel_match"
	TxEmergencyCancel  TxType = "emergency_cancel"
)

// Transaction is one signed player action. From is the player's address
// (hex ed25519 public key); the signature covers everything but ID and
// Signature, chain id included, so a tx cannot be replayed on another arena.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// Hash is the transaction id: the hash of every field except ID and
// Signature. It returns "" only if the payload is not valid JSON.
func (tx *Transaction) Hash() string {
	body := *tx
	body.ID, body.Signature = "", ""
	h, err := crypto.HashJSON(body)
	if err != nil {
		return ""
	}
	return h
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = priv.Sign([]byte(hash))
	tx.ID = hash
}

// Verify checks the signature, that From is a valid public key and that ID
// matches the signed body.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	if !crypto.IsAddress(tx.From) {
		return fmt.Errorf("from %q is not an ed25519 public key", tx.From)
	}
	hash := tx.Hash()
	if tx.ID != hash {
		return fmt.Errorf("tx id %q does not match body hash", tx.ID)
	}
	return crypto.VerifyFrom(tx.From, []byte(hash), tx.Signature)
}

// DecodePayload unmarshals the payload into v.
func (tx *Transaction) DecodePayload(v any) error {
	if err := json.Unmarshal(tx.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", tx.Type, err)
	}
	return nil
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

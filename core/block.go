package core

import (
	"time"

	"github.com/tolelom/pantheon/crypto"
	"github.com/tolelom/pantheon/gameerr"
)

// BlockHeader contains the block metadata that is hashed and signed.
type BlockHeader struct {
	Height       int64  `json:"height"`
	PrevHash     string `json:"prev_hash"`
	StateRoot    string `json:"state_root"`    // hash of state after executing this block
	TxRoot       string `json:"tx_root"`       // hash of all transaction IDs, rejected ones included
	RejectedRoot string `json:"rejected_root"` // hash of the rejection list
	Timestamp    int64  `json:"timestamp"`     // unix nanos; the clock every handler sees
	Proposer     string `json:"proposer"`      // proposer's pubkey hex
}

// Rejection records a transaction in the block that a rule refused. The
// transaction itself stays in Transactions: its nonce and fee are consumed,
// its handler's writes are not. Followers re-execute it and must arrive at
// the same list.
type Rejection struct {
	TxID  string       `json:"tx_id"`
	Type  TxType       `json:"type"`
	From  string       `json:"from"`
	Code  gameerr.Code `json:"code"`
	Error string       `json:"error"`
}

// NewRejection describes tx refused with err.
func NewRejection(tx *Transaction, err error) Rejection {
	return Rejection{
		TxID:  tx.ID,
		Type:  tx.Type,
		From:  tx.From,
		Code:  gameerr.GetCode(err),
		Error: err.Error(),
	}
}

// Block is a collection of transactions with a signed header.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Rejected     []Rejection    `json:"rejected,omitempty"`
	Hash         string         `json:"hash"`
	Signature    string         `json:"signature"`
}

// ComputeHash returns the SHA-256 hash of the serialised header.
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (b *Block) ComputeHash() string {
	h, err := crypto.HashJSON(b.Header)
	if err != nil {
		return ""
	}
	return h
}

// Sign sets Hash and signs the block with the proposer's private key.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.Hash = b.ComputeHash()
	b.Signature = priv.Sign([]byte(b.Hash))
}

// Verify checks the block signature against the given public key.
func (b *Block) Verify(pub crypto.PublicKey) error {
	return pub.Verify([]byte(b.Hash), b.Signature)
}

// ComputeTxRoot builds a deterministic root hash from all transaction IDs.
func ComputeTxRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return crypto.EmptyRoot
	}
	var ids []byte
	for _, tx := range txs {
		ids = append(ids, []byte(tx.ID)...)
	}
	return crypto.Hash(ids)
}

// ComputeRejectedRoot hashes the rejection list in block order.
func ComputeRejectedRoot(rs []Rejection) string {
	if len(rs) == 0 {
		return crypto.EmptyRoot
	}
	h, err := crypto.HashJSON(rs)
	if err != nil {
		return ""
	}
	return h
}

// SetRejected attaches the rejection list and its root. Call before Sign.
func (b *Block) SetRejected(rs []Rejection) {
	b.Rejected = rs
	b.Header.RejectedRoot = ComputeRejectedRoot(rs)
}

// NewBlock creates an unsigned block stamped with the current time.
func NewBlock(height int64, prevHash, proposer string, txs []*Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			Height:       height,
			PrevHash:     prevHash,
			TxRoot:       ComputeTxRoot(txs),
			RejectedRoot: ComputeRejectedRoot(nil),
			Timestamp:    time.Now().UnixNano(),
			Proposer:     proposer,
		},
		Transactions: txs,
	}
}

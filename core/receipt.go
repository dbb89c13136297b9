package core

import "github.com/tolelom/pantheon/gameerr"

// ReceiptStatus is the outcome of a submitted transaction.
type ReceiptStatus string

const (
	ReceiptPending  ReceiptStatus = "pending"
	ReceiptSuccess  ReceiptStatus = "success"
	ReceiptRejected ReceiptStatus = "rejected"
	ReceiptUnknown  ReceiptStatus = "unknown"
)

// Receipt records what happened to a transaction so clients can poll for
// completion. Rejected receipts carry the rule code when there is one.
type Receipt struct {
	TxID        string        `json:"tx_id"`
	Type        TxType        `json:"type,omitempty"`
	From        string        `json:"from,omitempty"`
	Status      ReceiptStatus `json:"status"`
	Code        gameerr.Code  `json:"code,omitempty"`
	Error       string        `json:"error,omitempty"`
	BlockHeight int64         `json:"block_height,omitempty"`
}

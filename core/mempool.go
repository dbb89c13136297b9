package core

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

const (
	maxMempoolSize = 10_000
	// maxPerSender bounds one player's queue; a whole match needs far fewer.
	maxPerSender = 256
	maxTxAge     = int64(time.Hour)
	maxTxFuture  = int64(5 * time.Minute)
)

var (
	ErrTxKnown       = errors.New("tx already in pool")
	ErrMempoolFull   = errors.New("mempool full")
	ErrSenderFull    = errors.New("too many pending txs from sender")
	ErrTxExpired     = errors.New("transaction expired")
	ErrTxFromFuture  = errors.New("transaction timestamp too far in the future")
	ErrNonceConflict = errors.New("another pending tx from sender uses this nonce")
)

// Mempool holds verified transactions waiting for a block. Each sender's
// transactions come out in nonce order, so a player's queued moves apply
// in sequence even when they arrive out of order over gossip.
type Mempool struct {
	mu       sync.RWMutex
	txs      map[string]*Transaction
	bySender map[string][]*Transaction // sorted by nonce
	arrival  []string                  // sender of each tx, in arrival order
}

// NewMempool creates an empty mempool.
func NewMempool() *Mempool {
	return &Mempool{
		txs:      make(map[string]*Transaction),
		bySender: make(map[string][]*Transaction),
	}
}

// Add verifies tx and queues it. Its timestamp must lie within one hour in
// the past and five minutes in the future.
func (m *Mempool) Add(tx *Transaction) error {
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("invalid tx signature: %w", err)
	}
	now := time.Now().UnixNano()
	if now-tx.Timestamp > maxTxAge {
		return ErrTxExpired
	}
	if tx.Timestamp-now > maxTxFuture {
		return ErrTxFromFuture
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[tx.ID]; ok {
		return ErrTxKnown
	}
	if len(m.txs) >= maxMempoolSize {
		return ErrMempoolFull
	}
	queue := m.bySender[tx.From]
	if len(queue) >= maxPerSender {
		return ErrSenderFull
	}
	i, found := slices.BinarySearchFunc(queue, tx.Nonce, func(q *Transaction, n uint64) int {
		switch {
		case q.Nonce < n:
			return -1
		case q.Nonce > n:
			return 1
		}
		return 0
	})
	if found {
		return fmt.Errorf("%w: nonce %d", ErrNonceConflict, tx.Nonce)
	}
	m.bySender[tx.From] = slices.Insert(queue, i, tx)
	m.txs[tx.ID] = tx
	m.arrival = append(m.arrival, tx.From)
	return nil
}

// Get returns a transaction by ID.
func (m *Mempool) Get(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	return tx, ok
}

// Pending returns up to n transactions. Senders interleave in arrival order
// and each sender's transactions are in ascending nonce order.
func (m *Mempool) Pending(n int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Transaction, 0, min(n, len(m.txs)))
	taken := make(map[string]int, len(m.bySender))
	for _, from := range m.arrival {
		if len(out) >= n {
			break
		}
		out = append(out, m.bySender[from][taken[from]])
		taken[from]++
	}
	return out
}

// NextNonce returns the nonce addr should use next, given its committed
// nonce: committed advanced past every contiguous pending transaction.
func (m *Mempool) NextNonce(addr string, committed uint64) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	next := committed
	for _, tx := range m.bySender[addr] {
		if tx.Nonce < next {
			continue
		}
		if tx.Nonce != next {
			break
		}
		next++
	}
	return next
}

// Remove deletes transactions by ID (called after block commit).
func (m *Mempool) Remove(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}
	m.removeLocked(func(tx *Transaction) bool { return gone[tx.ID] })
}

// Prune evicts transactions whose timestamp fell out of the acceptance
// window as of now (unix nanos) and returns how many were dropped.
func (m *Mempool) Prune(now int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(func(tx *Transaction) bool { return now-tx.Timestamp > maxTxAge })
}

func (m *Mempool) removeLocked(drop func(*Transaction) bool) int {
	dropped := make(map[string]int)
	for from, queue := range m.bySender {
		kept := slices.DeleteFunc(queue, func(tx *Transaction) bool {
			if !drop(tx) {
				return false
			}
			delete(m.txs, tx.ID)
			dropped[from]++
			return true
		})
		if len(kept) == 0 {
			delete(m.bySender, from)
		} else {
			m.bySender[from] = kept
		}
	}
	if len(dropped) == 0 {
		return 0
	}
	// Every sender keeps exactly as many arrival slots as queued txs.
	total := 0
	arrival := m.arrival[:0]
	for _, from := range m.arrival {
		if dropped[from] > 0 {
			dropped[from]--
			total++
			continue
		}
		arrival = append(arrival, from)
	}
	m.arrival = arrival
	return total
}

// Size returns the current number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}

// Package indexer maintains secondary indexes over committed blocks so game
// servers can list a player's matches and characters, and poll transaction
// receipts, without scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/events"
	"github.com/tolelom/pantheon/gameerr"
	"github.com/tolelom/pantheon/logging"
	"github.com/tolelom/pantheon/storage"
)

// Index keys live outside the state prefixes, so they never affect the
// state root.
const (
	prefixPlayerMatches  = "idx:player:match:"
	prefixOwnerInstances = "idx:owner:char:"
	prefixReceipt        = "idx:receipt:"
	keyOngoing           = "idx:match:ongoing"
)

// Indexer subscribes to chain events and updates secondary lookup tables.
type Indexer struct {
	db  storage.DB
	log *zap.Logger
	mu  sync.Mutex // serialises read-modify-write of list keys
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter, log *zap.Logger) *Indexer {
	idx := &Indexer{db: db, log: logging.OrNop(log)}
	emitter.Subscribe(events.EventCharacterAcquired, idx.onCharacterAcquired)
	emitter.Subscribe(events.EventMatchInitiated, idx.onMatchInitiated)
	emitter.Subscribe(events.EventMatchJoined, idx.onMatchJoined)
	emitter.Subscribe(events.EventMatchCompleted, idx.onMatchClosed)
	emitter.Subscribe(events.EventMatchCancelled, idx.onMatchClosed)
	emitter.Subscribe(events.EventTxExecuted, idx.onTxExecuted)
	emitter.Subscribe(events.EventTxRejected, idx.onTxRejected)
	return idx
}

// MatchesByPlayer returns the ids of every match player initiated or joined,
// oldest first.
func (idx *Indexer) MatchesByPlayer(player string) ([]uint64, error) {
	return idx.getList(prefixPlayerMatches + player)
}

// InstancesByOwner returns the ids of every character instance owner
// acquired, oldest first.
func (idx *Indexer) InstancesByOwner(owner string) ([]uint64, error) {
	return idx.getList(prefixOwnerInstances + owner)
}

// OngoingMatches returns the ids of matches that have been joined and not
// yet completed.
func (idx *Indexer) OngoingMatches() ([]uint64, error) {
	return idx.getList(keyOngoing)
}

// Receipt returns the stored receipt for txID, or core.ErrNotFound when the
// transaction has not been included in a block.
func (idx *Indexer) Receipt(txID string) (*core.Receipt, error) {
	data, err := idx.db.Get([]byte(prefixReceipt + txID))
	if err != nil {
		return nil, err
	}
	var r core.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("indexer unmarshal receipt: %w", err)
	}
	return &r, nil
}

// ---- event handlers ----

func (idx *Indexer) onCharacterAcquired(ev events.Event) {
	owner, _ := ev.Data["owner"].(string)
	id, ok := ev.Data["instance_id"].(uint64)
	if owner == "" || !ok {
		return
	}
	idx.addToList(prefixOwnerInstances+owner, id)
}

func (idx *Indexer) onMatchInitiated(ev events.Event) {
	player, _ := ev.Data["initiator"].(string)
	id, ok := ev.Data["match_id"].(uint64)
	if player == "" || !ok {
		return
	}
	idx.addToList(prefixPlayerMatches+player, id)
}

func (idx *Indexer) onMatchJoined(ev events.Event) {
	player, _ := ev.Data["opponent"].(string)
	id, ok := ev.Data["match_id"].(uint64)
	if player == "" || !ok {
		return
	}
	idx.addToList(prefixPlayerMatches+player, id)
	idx.addToList(keyOngoing, id)
}

func (idx *Indexer) onMatchClosed(ev events.Event) {
	if id, ok := ev.Data["match_id"].(uint64); ok {
		idx.removeFromList(keyOngoing, id)
	}
}

func (idx *Indexer) onTxExecuted(ev events.Event) {
	typ, _ := ev.Data["type"].(string)
	from, _ := ev.Data["from"].(string)
	idx.putReceipt(core.Receipt{
		TxID:        ev.TxID,
		Type:        core.TxType(typ),
		From:        from,
		Status:      core.ReceiptSuccess,
		BlockHeight: ev.BlockHeight,
	})
}

func (idx *Indexer) onTxRejected(ev events.Event) {
	typ, _ := ev.Data["type"].(string)
	from, _ := ev.Data["from"].(string)
	code, _ := ev.Data["code"].(string)
	msg, _ := ev.Data["error"].(string)
	idx.putReceipt(core.Receipt{
		TxID:        ev.TxID,
		Type:        core.TxType(typ),
		From:        from,
		Status:      core.ReceiptRejected,
		Code:        gameerr.Code(code),
		Error:       msg,
		BlockHeight: ev.BlockHeight,
	})
}

func (idx *Indexer) putReceipt(r core.Receipt) {
	if r.TxID == "" {
		return
	}
	data, err := json.Marshal(r)
	if err == nil {
		err = idx.db.Set([]byte(prefixReceipt+r.TxID), data)
	}
	if err != nil {
		idx.log.Warn("store receipt", zap.String("tx_id", r.TxID), zap.Error(err))
	}
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]uint64, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []uint64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key string, value uint64) {
	idx.updateList(key, func(ids []uint64) []uint64 { return append(ids, value) })
}

func (idx *Indexer) removeFromList(key string, value uint64) {
	idx.updateList(key, func(ids []uint64) []uint64 {
		return slices.DeleteFunc(ids, func(id uint64) bool { return id == value })
	})
}

func (idx *Indexer) updateList(key string, fn func([]uint64) []uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ids, err := idx.getList(key)
	if err == nil {
		var data []byte
		if data, err = json.Marshal(fn(ids)); err == nil {
			err = idx.db.Set([]byte(key), data)
		}
	}
	if err != nil {
		idx.log.Warn("update index", zap.String("key", key), zap.Error(err))
	}
}

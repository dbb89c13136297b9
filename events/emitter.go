// Package events is the in-process pub/sub bus that carries state changes
// from transaction handlers to the indexer and the websocket stream.
package events

import (
	"sync"

	"go.uber.org/zap"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit EventType = "block_commit"
	EventTxExecuted  EventType = "tx_executed"
	EventTxRejected  EventType = "tx_rejected"

	EventTokenTransfer EventType = "token_transfer"

	EventCharacterAcquired  EventType = "character_acquired"
	EventCharacterLeveledUp EventType = "character_leveled_up"

	EventMatchInitiated EventType = "match_initiated"
	EventMatchJoined    EventType = "match_joined"
	EventMoveMade       EventType = "move_made"
	EventMatchCompleted EventType = "match_completed"
	EventMatchCancelled EventType = "match_cancelled"
)

// Domain reports whether t is a game event pushed to external subscribers.
func (t EventType) Domain() bool {
	switch t {
	case EventCharacterAcquired, EventCharacterLeveledUp,
		EventMatchInitiated, EventMatchJoined, EventMoveMade,
		EventMatchCompleted, EventMatchCancelled:
		return true
	}
	return false
}

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id,omitempty"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

type subscription struct {
	id uint64
	h  Handler
}

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu     sync.RWMutex
	byType map[EventType][]subscription
	all    []subscription
	nextID uint64
	log    *zap.Logger
}

// NewEmitter creates an Emitter with no subscribers. log may be nil.
func NewEmitter(log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{byType: make(map[EventType][]subscription), log: log}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.byType[typ] = append(e.byType[typ], subscription{id: e.nextID, h: h})
}

// SubscribeAll registers h for every event and returns a function that
// removes it again.
func (e *Emitter) SubscribeAll(h Handler) (unsubscribe func()) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.all = append(e.all, subscription{id: id, h: h})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			kept := make([]subscription, 0, len(e.all))
			for _, s := range e.all {
				if s.id != id {
					kept = append(kept, s)
				}
			}
			e.all = kept
		})
	}
}

// Emit delivers ev to all subscribers for ev.Type, then to catch-all
// subscribers, synchronously. Each handler is guarded by panic recovery so a
// misbehaving subscriber cannot crash the node or halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	subs := make([]subscription, 0, len(e.byType[ev.Type])+len(e.all))
	subs = append(subs, e.byType[ev.Type]...)
	subs = append(subs, e.all...)
	e.mu.RUnlock()
	for _, s := range subs {
		e.deliver(s.h, ev)
	}
}

func (e *Emitter) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event handler panicked", zap.String("type", string(ev.Type)), zap.Any("panic", r))
		}
	}()
	h(ev)
}

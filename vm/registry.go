package vm

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/gameerr"
)

// Handler executes one transaction type against ctx.State.
type Handler func(ctx *Context, payload json.RawMessage) error

// Registry maps transaction types to handlers. Each node builds its own and
// hands it to the Executor; modules expose Register(*Registry) rather than
// registering from init.
type Registry struct {
	mu       sync.RWMutex
	handlers map[core.TxType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[core.TxType]Handler)}
}

// Register associates typ with h. Registering a type twice is a wiring bug
// and panics.
func (r *Registry) Register(typ core.TxType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[typ]; exists {
		panic(fmt.Sprintf("vm: handler already registered for %q", typ))
	}
	r.handlers[typ] = h
}

// Handle registers fn for typ with the payload decoded into a P. A payload
// that does not decode is rejected with INVALID_PAYLOAD before fn runs.
func Handle[P any](r *Registry, typ core.TxType, fn func(ctx *Context, p P) error) {
	r.Register(typ, func(ctx *Context, payload json.RawMessage) error {
		var p P
		if err := json.Unmarshal(payload, &p); err != nil {
			return gameerr.Newf(gameerr.CodeInvalidPayload, "decode %s payload: %v", typ, err)
		}
		return fn(ctx, p)
	})
}

// Has reports whether a handler is registered for typ.
func (r *Registry) Has(typ core.TxType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[typ]
	return ok
}

// Types lists the registered transaction types in sorted order.
func (r *Registry) Types() []core.TxType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.handlers))
}

// Execute dispatches payload to the handler registered for typ.
func (r *Registry) Execute(typ core.TxType, ctx *Context, payload json.RawMessage) error {
	r.mu.RLock()
	h, ok := r.handlers[typ]
	r.mu.RUnlock()
	if !ok {
		return gameerr.Newf(gameerr.CodeInvalidPayload, "unknown transaction type %q", typ)
	}
	return h(ctx, payload)
}

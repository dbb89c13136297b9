// Package modules wires every transaction module into a registry.
package modules

import (
	"github.com/tolelom/pantheon/vm"
	"github.com/tolelom/pantheon/vm/modules/character"
	"github.com/tolelom/pantheon/vm/modules/economy"
	"github.com/tolelom/pantheon/vm/modules/match"
)

// RegisterAll registers the economy, character and match handlers.
func RegisterAll(r *vm.Registry) {
	economy.Register(r)
	character.Register(r)
	match.Register(r)
}

// NewRegistry returns a registry with every module registered.
func NewRegistry() *vm.Registry {
	r := vm.NewRegistry()
	RegisterAll(r)
	return r
}

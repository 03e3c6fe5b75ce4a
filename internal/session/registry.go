package session

import (
	"github.com/axtion-io/TestBoost-sub002/internal/engine"
)

// Registry routes step codes to the collaborator that executes them.
// Steps without a dedicated tool adapter go to the reasoning agent.
type Registry struct {
	fallback engine.Invoker
	byStep   map[string]engine.Invoker
}

// NewRegistry creates a registry with a fallback invoker.
func NewRegistry(fallback engine.Invoker) *Registry {
	return &Registry{
		fallback: fallback,
		byStep:   make(map[string]engine.Invoker),
	}
}

// Register binds a step code to a specific invoker.
func (r *Registry) Register(stepCode string, inv engine.Invoker) {
	r.byStep[stepCode] = inv
}

// Resolve returns the invoker for a step code.
func (r *Registry) Resolve(stepCode string) engine.Invoker {
	if inv, ok := r.byStep[stepCode]; ok {
		return inv
	}
	return r.fallback
}

package contract

import (
	"context"
	"fmt"
	"sync"

	"github.com/josedab/prflow/internal/errs"
)

// ErasedAgent is the type-erased shape the Registry stores: inputs and
// outputs are boxed as `any` at the registry boundary and unboxed by
// the caller after lookup (spec
// §9: "inputs/outputs are (de)serialized at persistence boundaries
// only" — within the registry they stay as plain Go values, erased
// only for storage).
type ErasedAgent interface {
	Name() string
	Execute(ctx context.Context, input any) (any, *errs.Error)
}

// Factory constructs a fresh ErasedAgent instance. Agents are
// constructed per-invocation so they stay free of mutable state
// shared across PRs.
type Factory func() ErasedAgent

// Registry is a lookup table from agent name to factory. The
// orchestrator package does not consult it: it constructs its five
// agents directly.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds (or replaces) the factory for a named agent.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// New constructs a fresh agent instance by name, or a NotFound error
// if nothing is registered under it.
func (r *Registry) New(name string) (ErasedAgent, *errs.Error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.NotFound(fmt.Sprintf("no agent registered under name %q", name))
	}
	return factory(), nil
}

// Names returns the currently registered agent names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// Adapt wraps a strongly-typed Agent as an ErasedAgent so it can be
// registered. Use this at registration sites where the concrete input
// and output types are known.
func Adapt[I any, O any](agent Agent[I, O]) ErasedAgent {
	return &erasedAdapter[I, O]{agent: agent}
}

type erasedAdapter[I any, O any] struct {
	agent Agent[I, O]
}

func (a *erasedAdapter[I, O]) Name() string { return a.agent.Name() }

func (a *erasedAdapter[I, O]) Execute(ctx context.Context, input any) (any, *errs.Error) {
	typed, ok := input.(I)
	if !ok {
		return nil, errs.Validation(fmt.Sprintf("agent %q received input of unexpected type %T", a.agent.Name(), input))
	}
	result := Invoke(ctx, a.agent, typed)
	if !result.Success {
		return nil, result.Err
	}
	return result.Data, nil
}

// Package handler dispatches plan steps to type-specific execution logic.
// The executor resolves a step's handler through the Registry; handlers do
// the work and return an output payload. Permission gating happens before
// dispatch, in the executor, so handlers never see a step the gate denied.
package handler

import (
	"context"
	"fmt"

	"github.com/jszach/conductor/internal/errors"
	"github.com/jszach/conductor/internal/plan"
)

// Handler executes one step and returns its output payload. A returned
// error marks the step failed; the executor records it and fails the plan.
type Handler interface {
	Execute(ctx context.Context, step *plan.Step) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, step *plan.Step) (map[string]any, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, step *plan.Step) (map[string]any, error) {
	return f(ctx, step)
}

// Registry maps step types to their handlers. The mapping is fixed at
// construction; Resolve is safe for concurrent use.
type Registry struct {
	handlers map[plan.StepType]Handler
}

// NewRegistry builds a registry from the given mapping.
func NewRegistry(handlers map[plan.StepType]Handler) *Registry {
	m := make(map[plan.StepType]Handler, len(handlers))
	for t, h := range handlers {
		m[t] = h
	}
	return &Registry{handlers: m}
}

// Resolve returns the handler for the step type.
func (r *Registry) Resolve(t plan.StepType) (Handler, error) {
	h, ok := r.handlers[t]
	if !ok {
		return nil, errors.NewStepError(fmt.Sprintf("no handler registered for step type %q", t), errors.ErrInvalidInput).
			WithStepType(string(t))
	}
	return h, nil
}

// Types returns the registered step types.
func (r *Registry) Types() []plan.StepType {
	types := make([]plan.StepType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

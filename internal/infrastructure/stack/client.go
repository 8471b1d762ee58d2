// Package stack talks to the stack orchestrator service that owns the
// infrastructure of one environment.
package stack

import (
	"context"
	"errors"
)

// ErrNotFound reports that the named stack does not exist on the remote.
var ErrNotFound = errors.New("stack not found")

// Stack is the remote view of one orchestrated stack.
type Stack struct {
	Name       string
	Status     string
	Template   map[string]any
	Parameters map[string]any
	Outputs    map[string]any
}

// Client is the orchestrator API surface the stack executor depends on.
type Client interface {
	Get(ctx context.Context, name string) (*Stack, error)
	Create(ctx context.Context, name string, template, parameters map[string]any) error
	Update(ctx context.Context, name string, template, parameters map[string]any) error
	Delete(ctx context.Context, name string) error
}

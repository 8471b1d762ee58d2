// Package dispatcher multiplexes side-effecting commands issued by rule
// bodies over a named set of executors and drains them until quiescent.
package dispatcher

import (
	"context"

	"github.com/rs/zerolog"
)

// Callback receives the outcome of one enqueued command, exactly once. A
// returned error aborts the drain and surfaces to the task loop.
type Callback func(result any, err error) error

// Executor is a back-end that batches one class of command, flushes the batch
// against an external system, and routes results to the callbacks registered
// at enqueue time.
type Executor interface {
	// HasPending reports whether any command awaits a flush.
	HasPending() bool
	// Flush sends every batched command, waits for external completion and
	// invokes the callbacks. It reports whether any work happened.
	Flush(ctx context.Context) (bool, error)
	// Close releases executor-held resources.
	Close() error
}

// StackCommands is the command surface of the stack-orchestrator executor.
type StackCommands interface {
	CreateOrUpdate(template string, mappings, arguments map[string]any, cb Callback) error
	Delete(cb Callback)
}

// AgentCommands is the command surface of the unit-agent executor. A zero
// timeout means the reply wait has no deadline.
type AgentCommands interface {
	Send(template string, mappings map[string]any, service, unit string, timeoutSeconds float64, cb Callback) error
}

// NetworkCommands is the command surface of the network-helper executor.
type NetworkCommands interface {
	GetNewSubnet(routerID string, cb Callback)
	GetExistingSubnet(networkID string, cb Callback)
	GetDefaultRouter(cb Callback)
	GetDefaultNetwork(cb Callback)
}

// StackExecutor combines the stack command surface with the batch lifecycle.
type StackExecutor interface {
	StackCommands
	Executor
}

// AgentExecutor combines the agent command surface with the batch lifecycle.
type AgentExecutor interface {
	AgentCommands
	Executor
}

// NetworkExecutor combines the network command surface with the batch
// lifecycle.
type NetworkExecutor interface {
	NetworkCommands
	Executor
}

// Executor names, which are also the fixed flush order within one drain.
const (
	NameStack   = "cf"
	NameAgent   = "agent"
	NameNetwork = "net"
)

// Dispatcher owns one task's executors.
type Dispatcher struct {
	stack   StackExecutor
	agent   AgentExecutor
	network NetworkExecutor

	byName map[string]Executor
	order  []string
	log    zerolog.Logger
}

// New wires the three executors under their names.
func New(stack StackExecutor, agent AgentExecutor, network NetworkExecutor, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		stack:   stack,
		agent:   agent,
		network: network,
		byName: map[string]Executor{
			NameStack:   stack,
			NameAgent:   agent,
			NameNetwork: network,
		},
		order: []string{NameStack, NameAgent, NameNetwork},
		log:   log,
	}
}

// Stack returns the stack-orchestrator command surface.
func (d *Dispatcher) Stack() StackCommands { return d.stack }

// Agent returns the unit-agent command surface.
func (d *Dispatcher) Agent() AgentCommands { return d.agent }

// Network returns the network-helper command surface.
func (d *Dispatcher) Network() NetworkCommands { return d.network }

// HasPending reports whether any executor holds unflushed commands.
func (d *Dispatcher) HasPending() bool {
	for _, name := range d.order {
		if d.byName[name].HasPending() {
			return true
		}
	}
	return false
}

// ExecutePending flushes every executor once, in fixed order, and reports
// whether any of them did work. The task runtime calls it repeatedly until it
// returns false.
func (d *Dispatcher) ExecutePending(ctx context.Context) (bool, error) {
	worked := false
	for _, name := range d.order {
		executor := d.byName[name]
		did, err := executor.Flush(ctx)
		if did {
			worked = true
			d.log.Debug().Str("executor", name).Msg("executor flushed pending commands")
		}
		if err != nil {
			return worked, err
		}
	}
	return worked, nil
}

// Close releases every executor's resources.
func (d *Dispatcher) Close() error {
	var first error
	for _, name := range d.order {
		if err := d.byName[name].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

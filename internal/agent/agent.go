// Package agent implements application agents: in-process subscribers bound
// to a sink_id that consume locally delivered bundles and may issue
// router/admin commands, per spec §4.6.
//
// Grounded on agent/application_agent.go's ApplicationAgent interface and
// agent/message.go's Message hierarchy (dtn7-go), generalized from
// "endpoints this agent answers to" to "the single sink_id this agent is
// registered under", matching the spec's one-sink-per-agent model.
package agent

import (
	"fmt"
	"sync"

	"github.com/d3tn/bpnode/internal/bpv7"
)

// Message is exchanged between an Agent and the bundle processor.
type Message interface {
	Recipients() []bpv7.EndpointID
}

// BundleMessage carries a bundle in either direction.
type BundleMessage struct{ Bundle *bpv7.Bundle }

func (m BundleMessage) Recipients() []bpv7.EndpointID {
	return []bpv7.EndpointID{m.Bundle.PrimaryBlock.Destination}
}

// ShutdownMessage tells an Agent to close itself down.
type ShutdownMessage struct{}

func (ShutdownMessage) Recipients() []bpv7.EndpointID { return nil }

// Agent is an application agent: it owns a single sink_id (spec §4.6) and
// consumes bundles delivered to it.
type Agent interface {
	// Sink is the full local endpoint this agent answers to, e.g.
	// "dtn://node/echo" or "ipn:5.7".
	Sink() bpv7.EndpointID

	// Deliver hands a locally-destined bundle to the agent. Must not block
	// the processor goroutine for long — implementations queue internally.
	Deliver(b *bpv7.Bundle)

	// Close shuts the agent down.
	Close()
}

// Registry tracks registered agents by sink_id, rejecting duplicates per
// spec §4.5's AGENT_REGISTER row.
type Registry struct {
	mu     sync.Mutex
	bySink map[string]Agent
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{bySink: make(map[string]Agent)}
}

// Register adds a, rejecting the call if its sink is already taken.
func (r *Registry) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := a.Sink().String()
	if _, exists := r.bySink[key]; exists {
		return fmt.Errorf("agent: sink %s already registered", key)
	}
	r.bySink[key] = a
	return nil
}

// Deregister removes a.
func (r *Registry) Deregister(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bySink, a.Sink().String())
}

// BySink looks up the agent registered for destination, if any.
func (r *Registry) BySink(destination bpv7.EndpointID) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.bySink[destination.String()]
	return a, ok
}

package testutil

import (
	"github.com/hupe1980/agentrouter/core"
)

// SessionBuilder helps construct sessions with fluent chaining for tests.
// Example:
//
//	sess := NewSessionBuilder("conv-1").Turns(2).LastAgent("FireAgent").Build()
type SessionBuilder struct {
	id    string
	state map[string]any
}

// NewSessionBuilder creates a new builder for the session of conversation id.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id, state: map[string]any{}}
}

// State sets or overwrites a state key/value pair (chainable).
func (b *SessionBuilder) State(key string, val any) *SessionBuilder {
	b.state[key] = val
	return b
}

// Turns presets the turn counter (chainable).
func (b *SessionBuilder) Turns(n int) *SessionBuilder { return b.State(core.StateKeyTurns, n) }

// LastAgent presets the most recently dispatched agent (chainable).
func (b *SessionBuilder) LastAgent(name string) *SessionBuilder {
	return b.State(core.StateKeyLastAgent, name)
}

// Build returns a *core.Session with the pre-populated state.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.id)
	for k, v := range b.state {
		s.SetState(k, v)
	}
	return s
}

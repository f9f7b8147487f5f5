package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentrouter/core"
)

// Agent returns a descriptor with a derived endpoint.
func Agent(name, description string, tags ...string) core.AgentDescriptor {
	return core.AgentDescriptor{
		Name:        name,
		Description: description,
		Tags:        tags,
		Endpoint:    "http://" + strings.ToLower(name) + ".test",
	}
}

// FakeDirectory is an in-memory core.Directory.
type FakeDirectory struct {
	Agents []core.AgentDescriptor
	// Err, when set, is returned by every call.
	Err error
}

// ListAgents implements core.Directory.
func (d *FakeDirectory) ListAgents(context.Context) ([]core.AgentDescriptor, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	return append([]core.AgentDescriptor(nil), d.Agents...), nil
}

// Summary implements core.Directory.
func (d *FakeDirectory) Summary(ctx context.Context) ([]core.AgentSummary, error) {
	agents, err := d.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.AgentSummary, len(agents))
	for i, a := range agents {
		out[i] = a.Summary()
	}
	return out, nil
}

// Resolve implements core.Directory.
func (d *FakeDirectory) Resolve(_ context.Context, name string) (core.AgentDescriptor, error) {
	if d.Err != nil {
		return core.AgentDescriptor{}, d.Err
	}
	for _, a := range d.Agents {
		if a.Matches(name) {
			return a, nil
		}
	}
	return core.AgentDescriptor{}, core.ErrAgentNotFound
}

// CountingBroker is a core.CredentialBroker that records requested scopes.
type CountingBroker struct {
	// Err, when set, fails every request.
	Err error
	// Prefix is prepended to the scope to form the token value.
	Prefix string

	mu     sync.Mutex
	scopes []string
}

// NewCountingBroker returns a broker issuing "<prefix><scope>" tokens.
func NewCountingBroker(prefix string) *CountingBroker {
	return &CountingBroker{Prefix: prefix}
}

// GetToken implements core.CredentialBroker.
func (b *CountingBroker) GetToken(_ context.Context, scope string) (core.Token, error) {
	b.mu.Lock()
	b.scopes = append(b.scopes, scope)
	b.mu.Unlock()

	if b.Err != nil {
		return core.Token{}, &core.CredentialError{Scope: scope, Err: b.Err}
	}
	return core.Token{
		Scope:     scope,
		Value:     b.Prefix + scope,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

// Calls returns the number of GetToken calls.
func (b *CountingBroker) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.scopes)
}

// Scopes returns the requested scopes in order.
func (b *CountingBroker) Scopes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.scopes...)
}

// DispatchCall is one call observed by RecordingDispatcher.
type DispatchCall struct {
	Agent   core.AgentDescriptor
	Message string
	Token   core.Token
	Conv    core.ConversationContext
}

// RecordingDispatcher is a core.Dispatcher that records calls and replies via
// Reply. Without Reply it echoes "<agent>: <message>".
type RecordingDispatcher struct {
	Reply func(agent core.AgentDescriptor, message string) core.DispatchResult

	mu    sync.Mutex
	calls []DispatchCall
}

// Send implements core.Dispatcher.
func (d *RecordingDispatcher) Send(_ context.Context, agent core.AgentDescriptor, message string, token core.Token, conv core.ConversationContext) core.DispatchResult {
	d.mu.Lock()
	d.calls = append(d.calls, DispatchCall{Agent: agent, Message: message, Token: token, Conv: conv})
	d.mu.Unlock()

	if d.Reply != nil {
		return d.Reply(agent, message)
	}
	return core.OK(agent.Name + ": " + message)
}

// Calls returns the observed calls in order.
func (d *RecordingDispatcher) Calls() []DispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DispatchCall(nil), d.calls...)
}

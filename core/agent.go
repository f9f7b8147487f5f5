package core

import (
	"context"
	"strings"
)

// AgentDescriptor is a downstream agent's addressable identity. Name is the
// routing key and is unique (case-insensitively) within one directory
// snapshot.
type AgentDescriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Endpoint    string   `json:"endpoint"`
}

// Summary returns the reduced view passed to the decision-maker.
func (d AgentDescriptor) Summary() AgentSummary {
	tags := make([]string, len(d.Tags))
	copy(tags, d.Tags)
	return AgentSummary{Name: d.Name, Description: d.Description, Tags: tags}
}

// Matches reports whether name refers to this agent (case-insensitive exact match).
func (d AgentDescriptor) Matches(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), d.Name)
}

// AgentSummary is the directory view {name, description, tags}.
type AgentSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// RoutingDecision is the output of one decision-maker action call. It is
// never persisted; only its effects reach the conversation history.
type RoutingDecision struct {
	TargetAgent    string `json:"agent_name"`
	ForwardMessage string `json:"message"`
}

// Directory resolves downstream agents.
type Directory interface {
	// ListAgents returns the current snapshot.
	ListAgents(ctx context.Context) ([]AgentDescriptor, error)
	// Summary returns the reduced snapshot view in listing order.
	Summary(ctx context.Context) ([]AgentSummary, error)
	// Resolve performs a case-insensitive exact match. It returns an error
	// matching ErrAgentNotFound when no agent has that name.
	Resolve(ctx context.Context, name string) (AgentDescriptor, error)
}

// AgentNames extracts the names of the given summaries preserving order.
func AgentNames(summaries []AgentSummary) []string {
	names := make([]string, len(summaries))
	for i, s := range summaries {
		names[i] = s.Name
	}
	return names
}

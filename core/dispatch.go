package core

import (
	"context"
	"fmt"
)

// DispatchStatus classifies the outcome of one remote agent call.
type DispatchStatus int

const (
	// StatusOK means the agent replied with text.
	StatusOK DispatchStatus = iota
	// StatusAgentNotFound means the target name did not resolve.
	StatusAgentNotFound
	// StatusRemoteError covers timeouts, connection failures and transport faults.
	StatusRemoteError
	// StatusMalformedReply means the reply did not have the expected shape.
	StatusMalformedReply
)

// Fixed observation texts.
const (
	AgentNotFoundText = "Agent not found"
	NoResponseText    = "No response from agent"
)

// String returns the wire name of the status.
func (s DispatchStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusAgentNotFound:
		return "agent_not_found"
	case StatusRemoteError:
		return "remote_error"
	case StatusMalformedReply:
		return "malformed_reply"
	default:
		return "unknown"
	}
}

// DispatchResult is the outcome of one remote call. It is consumed
// immediately by the engine and never persisted directly.
type DispatchResult struct {
	Status DispatchStatus
	Text   string
	Err    error
}

// OK builds a successful result.
func OK(text string) DispatchResult { return DispatchResult{Status: StatusOK, Text: text} }

// NotFound builds the locally generated agent_not_found result.
func NotFound(name string) DispatchResult {
	return DispatchResult{
		Status: StatusAgentNotFound,
		Text:   AgentNotFoundText,
		Err:    fmt.Errorf("%w: %s", ErrAgentNotFound, name),
	}
}

// RemoteError builds a remote_error result.
func RemoteError(agent string, err error) DispatchResult {
	return DispatchResult{
		Status: StatusRemoteError,
		Err:    &DispatchError{Agent: agent, Status: StatusRemoteError, Err: err},
	}
}

// Malformed builds a malformed_reply result carrying the fallback text.
func Malformed(agent string, err error) DispatchResult {
	return DispatchResult{
		Status: StatusMalformedReply,
		Text:   NoResponseText,
		Err:    &DispatchError{Agent: agent, Status: StatusMalformedReply, Err: err},
	}
}

// Observation renders the result as the text handed back to the
// decision-maker. It always returns a non-empty string.
func (r DispatchResult) Observation() string {
	switch r.Status {
	case StatusOK:
		if r.Text == "" {
			return NoResponseText
		}
		return r.Text
	case StatusAgentNotFound:
		return AgentNotFoundText
	case StatusMalformedReply:
		if r.Text != "" {
			return r.Text
		}
		return NoResponseText
	default:
		if r.Err != nil {
			return "Error: " + r.Err.Error()
		}
		return "Error: remote agent call failed"
	}
}

// Dispatcher performs one remote call to a downstream agent. Implementations
// must never panic and must report every failure through the result status.
type Dispatcher interface {
	Send(ctx context.Context, agent AgentDescriptor, message string, token Token, conv ConversationContext) DispatchResult
}

package decision

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/agentrouter/action"
	"github.com/hupe1980/agentrouter/core"
)

// Step is one completed action within the current turn: the call the
// decision-maker made and the observation it produced.
type Step struct {
	Call        action.Call `json:"call"`
	Observation string      `json:"observation"`
}

// Request is the normalized decision input.
type Request struct {
	// Instructions is the rendered routing instruction.
	Instructions string `json:"instructions"`
	// History is the recent conversation, oldest first. The last entry is
	// the user message being routed.
	History []core.HistoryEntry `json:"history"`
	// Steps are the actions already taken in this turn, in order.
	Steps []Step `json:"steps,omitempty"`
	// Actions are the actions the decision-maker may invoke.
	Actions []action.Definition `json:"actions"`
}

// Response is either an action call or a final answer.
type Response struct {
	Call *action.Call `json:"call,omitempty"`
	Text string       `json:"text,omitempty"`
}

// IsFinal reports whether the response ends the turn.
func (r Response) IsFinal() bool { return r.Call == nil }

// Final builds a final-answer response.
func Final(text string) Response { return Response{Text: text} }

// Invoke builds an action-call response.
func Invoke(call action.Call) Response { return Response{Call: &call} }

// Info contains metadata about a decision-maker implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Maker is the decision-maker contract.
type Maker interface {
	Decide(ctx context.Context, req Request) (Response, error)
	Info() Info
}

// ErrScriptExhausted is returned by Scripted when no scripted decision is left.
var ErrScriptExhausted = errors.New("scripted decision-maker has no more decisions")

// ScriptFunc produces one decision from a request.
type ScriptFunc func(ctx context.Context, req Request) (Response, error)

// Scripted is a deterministic Maker replaying scripted decisions in order. It
// records every request it receives. Safe for concurrent use.
type Scripted struct {
	mu       sync.Mutex
	script   []ScriptFunc
	requests []Request
}

// NewScripted creates a Scripted maker.
func NewScripted(script ...ScriptFunc) *Scripted {
	return &Scripted{script: script}
}

// Then appends a decision to the script and returns s for chaining.
func (s *Scripted) Then(fn ScriptFunc) *Scripted {
	s.mu.Lock()
	s.script = append(s.script, fn)
	s.mu.Unlock()
	return s
}

// ThenRedirect scripts a redirect call to agent with message.
func (s *Scripted) ThenRedirect(agent, message string) *Scripted {
	return s.Then(Redirect(agent, message))
}

// ThenFinal scripts a final answer.
func (s *Scripted) ThenFinal(text string) *Scripted {
	return s.Then(Answer(text))
}

// Decide pops the next scripted decision.
func (s *Scripted) Decide(ctx context.Context, req Request) (Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	if len(s.script) == 0 {
		s.mu.Unlock()
		return Response{}, ErrScriptExhausted
	}
	fn := s.script[0]
	s.script = s.script[1:]
	s.mu.Unlock()

	return fn(ctx, req)
}

// Requests returns a copy of the requests received so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Info implements Maker.
func (s *Scripted) Info() Info { return Info{Name: "scripted", Provider: "local"} }

// Redirect returns a ScriptFunc calling the redirect action.
func Redirect(agent, message string) ScriptFunc {
	return func(_ context.Context, req Request) (Response, error) {
		args := fmt.Sprintf(`{"agent_name":%q,"message":%q}`, agent, message)
		return Invoke(action.Call{
			ID:        fmt.Sprintf("call_%d", len(req.Steps)+1),
			Name:      action.RedirectName,
			Arguments: args,
		}), nil
	}
}

// Answer returns a ScriptFunc producing a final answer.
func Answer(text string) ScriptFunc {
	return func(context.Context, Request) (Response, error) { return Final(text), nil }
}

// EchoLastObservation returns a ScriptFunc answering with the latest
// observation, the behavior a router instructed to relay agent replies has.
func EchoLastObservation() ScriptFunc {
	return func(_ context.Context, req Request) (Response, error) {
		if len(req.Steps) == 0 {
			return Final(""), nil
		}
		return Final(req.Steps[len(req.Steps)-1].Observation), nil
	}
}

// Fail returns a ScriptFunc failing with err.
func Fail(err error) ScriptFunc {
	return func(context.Context, Request) (Response, error) { return Response{}, err }
}

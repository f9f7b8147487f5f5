package decision

import (
	"github.com/hupe1980/agentrouter/action"
	"github.com/hupe1980/agentrouter/core"
)

// Roles used in a transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one provider-neutral transcript message. Exactly one of Text,
// Call or (CallID, Result) is meaningful depending on Role.
type Message struct {
	Role   string
	Text   string
	Call   *action.Call
	CallID string
	Result string
}

// Transcript flattens the history window and the steps of the current turn
// into alternating provider-neutral messages. History entries produced by the
// user become user messages, every other actor becomes an assistant message.
// Empty entries are skipped.
func Transcript(req Request) []Message {
	msgs := make([]Message, 0, len(req.History)+2*len(req.Steps))

	for _, e := range req.History {
		text := e.Payload.String()
		if text == "" {
			continue
		}
		role := RoleAssistant
		if e.Actor == core.ActorUser {
			role = RoleUser
		}
		msgs = append(msgs, Message{Role: role, Text: text})
	}

	for _, s := range req.Steps {
		call := s.Call
		msgs = append(msgs,
			Message{Role: RoleAssistant, Call: &call},
			Message{Role: RoleTool, CallID: call.ID, Result: s.Observation},
		)
	}

	return msgs
}

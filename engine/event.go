package engine

import "time"

// State is a turn state.
type State int

const (
	StateReceived State = iota
	StateDeciding
	StateDispatching
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateDeciding:
		return "DECIDING"
	case StateDispatching:
		return "DISPATCHING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transitions follow.
func (s State) IsTerminal() bool { return s == StateCompleted || s == StateFailed }

// Event reports one state transition of a turn.
//
// DECIDING events after the first carry the previous observation in Text;
// DISPATCHING events carry the target agent and the forwarded message;
// COMPLETED carries the final answer; FAILED carries Err.
type Event struct {
	TurnID         string    `json:"turn_id"`
	ConversationID string    `json:"conversation_id"`
	State          State     `json:"state"`
	Iteration      int       `json:"iteration,omitempty"`
	Agent          string    `json:"agent,omitempty"`
	Text           string    `json:"text,omitempty"`
	Err            error     `json:"-"`
	Timestamp      time.Time `json:"timestamp"`
}

// IsTerminal reports whether this is the last event of the turn.
func (e Event) IsTerminal() bool { return e.State.IsTerminal() }

// ErrorText returns the error description of a failed event.
func (e Event) ErrorText() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

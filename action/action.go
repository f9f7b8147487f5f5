// Package action implements the closed set of actions the decision-maker may
// invoke while routing a turn. Actions are a tagged enum plus a dispatch table
// mapping each kind to its handler, with schema-validated arguments and
// consistent error handling.
package action

import (
	"fmt"
	"strings"

	"github.com/hupe1980/agentrouter/internal/util"
)

// Kind tags an action. The set is closed; the router currently exposes only
// the redirect action.
type Kind int

const (
	// KindUnknown is the zero value and never dispatched.
	KindUnknown Kind = iota
	// KindRedirect forwards a message to a named downstream agent.
	KindRedirect
)

// RedirectName is the wire name of the redirect action as offered to models.
const RedirectName = "redirect"

func (k Kind) String() string {
	switch k {
	case KindRedirect:
		return RedirectName
	default:
		return "unknown"
	}
}

// ParseKind maps an action name reported by a model back to its Kind.
func ParseKind(name string) Kind {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case RedirectName:
		return KindRedirect
	default:
		return KindUnknown
	}
}

// Definition describes an action as offered to the decision-maker.
type Definition struct {
	Kind        Kind
	Name        string
	Description string
	// Parameters is a minimal JSON schema for the action arguments.
	Parameters map[string]any
}

// Call is a single action invocation requested by the decision-maker.
// Arguments holds the raw JSON object produced by the model.
type Call struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Kind returns the tagged kind of the call.
func (c Call) Kind() Kind { return ParseKind(c.Name) }

// ValidationError represents argument validation errors.
type ValidationError = util.ValidationError

// ActionError represents errors that occur while decoding or executing an action.
type ActionError struct {
	Action  string `json:"action"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Err     error  `json:"-"`
}

// Error codes used by ActionError.
const (
	CodeInvalidArguments = "INVALID_ARGUMENTS"
	CodeUnknownAction    = "UNKNOWN_ACTION"
)

func (e *ActionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("action error [%s] in %s: %s", e.Code, e.Action, e.Message)
	}
	return fmt.Sprintf("action error in %s: %s", e.Action, e.Message)
}

func (e *ActionError) Unwrap() error { return e.Err }

// NewActionError creates a new ActionError with the specified details.
func NewActionError(action, message, code string) *ActionError {
	return &ActionError{
		Action:  action,
		Message: message,
		Code:    code,
	}
}

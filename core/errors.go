package core

import (
	"errors"
	"fmt"
)

// Error kinds. Recoverable kinds (agent not found, remote dispatch,
// malformed reply, credential) are converted to observations inside a turn;
// the others terminate the current turn.
var (
	ErrAgentNotFound        = errors.New("agent not found")
	ErrCredential           = errors.New("credential error")
	ErrRemoteDispatch       = errors.New("remote dispatch error")
	ErrMalformedReply       = errors.New("malformed reply")
	ErrEmptyResponse        = errors.New("empty response from decision-maker")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrIterationLimit       = errors.New("iteration limit exceeded")
)

// CredentialError reports a failed token issuance for Scope.
type CredentialError struct {
	Scope  string
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	msg := fmt.Sprintf("credential error for %q", e.Scope)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *CredentialError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrCredential) hold for every CredentialError.
func (e *CredentialError) Is(target error) bool { return target == ErrCredential }

// DispatchError reports a failed call to a downstream agent.
type DispatchError struct {
	Agent  string
	Status DispatchStatus
	Err    error
}

func (e *DispatchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("dispatch to %s failed [%s]", e.Agent, e.Status)
	}
	return fmt.Sprintf("dispatch to %s failed [%s]: %v", e.Agent, e.Status, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DispatchError) Unwrap() error { return e.Err }

// Is maps the status onto the matching sentinel.
func (e *DispatchError) Is(target error) bool {
	switch e.Status {
	case StatusRemoteError:
		return target == ErrRemoteDispatch
	case StatusMalformedReply:
		return target == ErrMalformedReply
	case StatusAgentNotFound:
		return target == ErrAgentNotFound
	}
	return false
}

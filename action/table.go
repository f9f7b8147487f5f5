package action

import (
	"context"
	"errors"
	"fmt"
)

// Handler executes one action and returns the observation text fed back to
// the decision-maker. Handlers should turn recoverable failures into
// observation text and reserve errors for faults that end the turn.
type Handler func(ctx context.Context, args string) (string, error)

// Table maps each action kind to its handler.
type Table map[Kind]Handler

// Invoke dispatches call to its handler. Unknown actions and malformed
// arguments yield an observation instead of an error so the decision-maker
// can correct itself.
func (t Table) Invoke(ctx context.Context, call Call) (string, error) {
	kind := call.Kind()

	h, ok := t[kind]
	if !ok {
		return fmt.Sprintf("Error: unknown action %q", call.Name), nil
	}

	out, err := h(ctx, call.Arguments)
	if err != nil {
		var aErr *ActionError
		if errors.As(err, &aErr) && aErr.Code == CodeInvalidArguments {
			return "Error: " + aErr.Message, nil
		}
		return "", err
	}

	return out, nil
}

// Definitions returns the definitions for the kinds registered in the table,
// built by build for each kind. Kinds without a builder are skipped.
func (t Table) Definitions(build map[Kind]func() Definition) []Definition {
	defs := make([]Definition, 0, len(t))
	for _, k := range []Kind{KindRedirect} {
		if _, ok := t[k]; !ok {
			continue
		}
		if b, ok := build[k]; ok {
			defs = append(defs, b())
		}
	}
	return defs
}

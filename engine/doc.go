// Package engine implements the orchestration state machine that routes one
// user turn at a time:
//
//	RECEIVED -> DECIDING -> DISPATCHING -> {DECIDING | COMPLETED | FAILED}
//
// RECEIVED records the user message and resolves the conversation session.
// DECIDING asks the decision-maker for the next step, offering exactly the
// redirect action constrained to the current directory names. DISPATCHING
// resolves the chosen agent, obtains a scoped token and forwards the message;
// every failure on that path becomes observation text for the next DECIDING
// iteration. A non-empty final answer is appended to history and completes
// the turn; an empty one or any fault of the decision-maker fails it.
//
// Each turn runs on its own goroutine and reports progress as a stream of
// Events ending with exactly one terminal event.
package engine

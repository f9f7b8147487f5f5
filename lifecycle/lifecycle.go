// Package lifecycle adapts routing turns to a task lifecycle: zero or more
// working updates followed by exactly one completed or failed update.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/agentrouter/core"
	"github.com/hupe1980/agentrouter/engine"
	"github.com/hupe1980/agentrouter/logging"
)

// TaskState is the externally visible state of a task.
type TaskState string

const (
	TaskStateWorking   TaskState = "working"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
)

// IsTerminal reports whether s ends the task.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed
}

// DefaultWorkingText is reported while a turn is deciding.
const DefaultWorkingText = "The Agent is still working on your request."

// Request is one inbound user message.
type Request struct {
	// TaskID identifies the task; generated when empty.
	TaskID         string `json:"task_id,omitempty"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
	Role           string `json:"role,omitempty"`
	Text           string `json:"text"`
}

func (r Request) conversation() core.ConversationContext {
	return core.ConversationContext{ConversationID: r.ConversationID, UserID: r.UserID, Role: r.Role}
}

// StatusUpdate is one task status transition.
type StatusUpdate struct {
	TaskID         string    `json:"task_id"`
	ConversationID string    `json:"conversation_id"`
	State          TaskState `json:"state"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	// Err is set on failed updates.
	Err error `json:"-"`
}

// Final reports whether u is the terminal update.
func (u StatusUpdate) Final() bool { return u.State.IsTerminal() }

// Router starts routing turns. *engine.Engine implements it.
type Router interface {
	Run(ctx context.Context, conv core.ConversationContext, message string) (string, <-chan engine.Event, error)
}

// Options configures an Adapter.
type Options struct {
	// WorkingText is the text of working updates while deciding when the turn
	// has no observation to report yet.
	WorkingText string
	// BufferSize sets the update channel buffer.
	BufferSize int
	Logger     logging.Logger
}

// Adapter exposes routing turns as tasks.
type Adapter struct {
	router Router
	opts   Options
	logger logging.Logger
}

// New creates an adapter over router.
func New(router Router, optFns ...func(o *Options)) *Adapter {
	opts := Options{
		WorkingText: DefaultWorkingText,
		BufferSize:  16,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 16
	}

	logger := logging.OrNoOp(opts.Logger)
	if rl, ok := logger.(*logging.RouterLogger); ok {
		logger = rl.WithComponent("lifecycle")
	}

	return &Adapter{router: router, opts: opts, logger: logger}
}

// SendMessage starts a task for req. The returned channel yields working
// updates and then exactly one terminal update before it is closed.
func (a *Adapter) SendMessage(ctx context.Context, req Request) (<-chan StatusUpdate, error) {
	if strings.TrimSpace(req.ConversationID) == "" {
		return nil, engine.ErrInvalidConversation
	}
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}

	_, events, err := a.router.Run(ctx, req.conversation(), req.Text)
	if err != nil {
		return nil, err
	}

	out := make(chan StatusUpdate, a.opts.BufferSize)
	go a.translate(ctx, req, events, out)

	return out, nil
}

// translate maps engine events onto task updates. Once ctx is done it stops
// sending but keeps draining events so the turn can always finish.
func (a *Adapter) translate(ctx context.Context, req Request, events <-chan engine.Event, out chan<- StatusUpdate) {
	defer close(out)

	gone := false
	send := func(state TaskState, text string, err error) {
		if gone {
			return
		}
		u := StatusUpdate{
			TaskID:         req.TaskID,
			ConversationID: req.ConversationID,
			State:          state,
			Text:           text,
			Timestamp:      time.Now(),
			Err:            err,
		}
		select {
		case out <- u:
		case <-ctx.Done():
			gone = true
			a.logger.Debug("status consumer gone, draining turn", "task_id", req.TaskID)
		}
	}

	terminated := false
	for ev := range events {
		if terminated {
			continue
		}

		switch ev.State {
		case engine.StateDeciding:
			text := ev.Text
			if strings.TrimSpace(text) == "" {
				text = a.opts.WorkingText
			}
			send(TaskStateWorking, text, nil)
		case engine.StateDispatching:
			send(TaskStateWorking, fmt.Sprintf("Routing request to %s.", ev.Agent), nil)
		case engine.StateCompleted:
			a.logger.Info("task completed", "task_id", req.TaskID)
			send(TaskStateCompleted, ev.Text, nil)
			terminated = true
		case engine.StateFailed:
			a.logger.Error("task failed", "task_id", req.TaskID, "error", ev.Err)
			send(TaskStateFailed, "An error occurred: "+ev.ErrorText(), ev.Err)
			terminated = true
		}
	}

	if !terminated {
		err := errors.New("turn ended without a result")
		send(TaskStateFailed, "An error occurred: "+err.Error(), err)
	}
}

type inbound struct {
	User *string `json:"user"`
	Role *string `json:"role"`
	Msg  *string `json:"msg"`
}

// ParseInbound builds a request from raw message text. Text holding a JSON
// object with "user", "role" and "msg" fields is unpacked; anything else is
// taken verbatim as the message.
func ParseInbound(conversationID, raw string) Request {
	req := Request{ConversationID: conversationID, Text: raw}

	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return req
	}

	var in inbound
	if err := json.Unmarshal([]byte(trimmed), &in); err != nil || in.Msg == nil {
		return req
	}

	req.Text = *in.Msg
	if in.User != nil {
		req.UserID = *in.User
	}
	if in.Role != nil {
		req.Role = *in.Role
	}

	return req
}

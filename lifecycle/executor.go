package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"

	"github.com/hupe1980/agentrouter/core"
)

// Execute runs the routing turn for the inbound A2A message and writes the
// task to queue: the submitted task when it is new, working status updates,
// then exactly one final completed or failed update. A failed turn is
// reported through the queue; the returned error is reserved for queue
// write failures.
func (a *Adapter) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req := RequestFromContext(reqCtx)

	if reqCtx.StoredTask == nil {
		if err := queue.Write(ctx, submittedTask(reqCtx)); err != nil {
			return fmt.Errorf("write task: %w", err)
		}
	}

	updates, err := a.SendMessage(ctx, req)
	if err != nil {
		return err
	}

	for u := range updates {
		if err := queue.Write(ctx, statusEvent(reqCtx, u)); err != nil {
			// cancel stops the translation; it drains the turn on its own.
			return fmt.Errorf("write status update: %w", err)
		}
	}

	return nil
}

// Cancel is not supported: an in-flight turn always runs to its terminal
// update.
func (a *Adapter) Cancel(_ context.Context, reqCtx *a2asrv.RequestContext, _ eventqueue.Queue) error {
	return fmt.Errorf("cancel task %q: %w: %w", reqCtx.TaskID, a2a.ErrUnsupportedOperation, core.ErrUnsupportedOperation)
}

// RequestFromContext builds the routing request for an inbound A2A message.
// The message text goes through ParseInbound; the sender's user_id metadata
// and role fill in what the text does not carry.
func RequestFromContext(reqCtx *a2asrv.RequestContext) Request {
	req := ParseInbound(reqCtx.ContextID, messageText(reqCtx.Message))
	req.TaskID = string(reqCtx.TaskID)

	if reqCtx.Message == nil {
		return req
	}
	if req.UserID == "" {
		if uid, ok := reqCtx.Message.Metadata["user_id"].(string); ok {
			req.UserID = uid
		}
	}
	if req.Role == "" {
		req.Role = string(reqCtx.Message.Role)
	}

	return req
}

func messageText(msg *a2a.Message) string {
	if msg == nil {
		return ""
	}

	var texts []string
	for _, p := range msg.Parts {
		switch tp := p.(type) {
		case a2a.TextPart:
			texts = append(texts, tp.Text)
		case *a2a.TextPart:
			if tp != nil {
				texts = append(texts, tp.Text)
			}
		}
	}

	return strings.Join(texts, "\n")
}

func submittedTask(reqCtx *a2asrv.RequestContext) *a2a.Task {
	task := &a2a.Task{
		ID:        reqCtx.TaskID,
		ContextID: reqCtx.ContextID,
		Status:    a2a.TaskStatus{State: a2a.TaskStateSubmitted},
	}
	if reqCtx.Message != nil {
		task.History = []*a2a.Message{reqCtx.Message}
	}
	return task
}

func statusEvent(reqCtx *a2asrv.RequestContext, u StatusUpdate) *a2a.TaskStatusUpdateEvent {
	msg := a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: u.Text})
	msg.TaskID = reqCtx.TaskID
	msg.ContextID = reqCtx.ContextID

	ts := u.Timestamp
	return &a2a.TaskStatusUpdateEvent{
		TaskID:    reqCtx.TaskID,
		ContextID: reqCtx.ContextID,
		Final:     u.Final(),
		Status: a2a.TaskStatus{
			State:     taskState(u.State),
			Message:   msg,
			Timestamp: &ts,
		},
	}
}

func taskState(s TaskState) a2a.TaskState {
	switch s {
	case TaskStateCompleted:
		return a2a.TaskStateCompleted
	case TaskStateFailed:
		return a2a.TaskStateFailed
	default:
		return a2a.TaskStateWorking
	}
}

var _ a2asrv.AgentExecutor = (*Adapter)(nil)

package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrouter/core"
	"github.com/hupe1980/agentrouter/decision"
	"github.com/hupe1980/agentrouter/engine"
	"github.com/hupe1980/agentrouter/internal/testutil"
)

func newEngine(t *testing.T, maker decision.Maker) *engine.Engine {
	t.Helper()
	e, err := engine.New(func(o *engine.Options) {
		o.Directory = &testutil.FakeDirectory{Agents: []core.AgentDescriptor{
			testutil.Agent("FireAgent", "Detects fires"),
		}}
		o.Broker = testutil.NewCountingBroker("tok-")
		o.Dispatcher = &testutil.RecordingDispatcher{}
		o.Maker = maker
	})
	require.NoError(t, err)
	return e
}

func drain(ch <-chan StatusUpdate) []StatusUpdate {
	var out []StatusUpdate
	for u := range ch {
		out = append(out, u)
	}
	return out
}

func TestSendMessage_Completed(t *testing.T) {
	a := New(newEngine(t, decision.NewScripted().
		ThenRedirect("FireAgent", "status").
		Then(decision.EchoLastObservation())))

	ch, err := a.SendMessage(context.Background(), Request{ConversationID: "c1", Text: "status?"})
	require.NoError(t, err)
	updates := drain(ch)

	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, TaskStateCompleted, last.State)
	assert.Equal(t, "FireAgent: status", last.Text)
	assert.NotEmpty(t, last.TaskID)

	for _, u := range updates[:len(updates)-1] {
		assert.Equal(t, TaskStateWorking, u.State)
		assert.Equal(t, last.TaskID, u.TaskID)
	}
	routing := findRouting(updates)
	assert.Equal(t, TaskStateWorking, routing.State)
	assert.Equal(t, "c1", routing.ConversationID)
}

func findRouting(updates []StatusUpdate) StatusUpdate {
	for _, u := range updates {
		if u.Text == "Routing request to FireAgent." {
			return u
		}
	}
	return StatusUpdate{}
}

func TestSendMessage_Failed(t *testing.T) {
	a := New(newEngine(t, decision.NewScripted().ThenFinal("")))

	ch, err := a.SendMessage(context.Background(), Request{TaskID: "task-1", ConversationID: "c1", Text: "hi"})
	require.NoError(t, err)
	updates := drain(ch)

	terminal := 0
	for _, u := range updates {
		if u.Final() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)

	last := updates[len(updates)-1]
	assert.Equal(t, TaskStateFailed, last.State)
	assert.Equal(t, "task-1", last.TaskID)
	assert.ErrorIs(t, last.Err, core.ErrEmptyResponse)
	assert.Contains(t, last.Text, "An error occurred")
}

func TestSendMessage_RequiresConversation(t *testing.T) {
	a := New(newEngine(t, decision.NewScripted()))
	_, err := a.SendMessage(context.Background(), Request{Text: "hi"})
	assert.ErrorIs(t, err, engine.ErrInvalidConversation)
}

type closingRouter struct{}

func (closingRouter) Run(context.Context, core.ConversationContext, string) (string, <-chan engine.Event, error) {
	ch := make(chan engine.Event, 1)
	ch <- engine.Event{State: engine.StateReceived}
	close(ch)
	return "turn", ch, nil
}

func TestSendMessage_MissingTerminalBecomesFailed(t *testing.T) {
	ch, err := New(closingRouter{}).SendMessage(context.Background(), Request{ConversationID: "c1"})
	require.NoError(t, err)

	updates := drain(ch)
	require.Len(t, updates, 1)
	assert.Equal(t, TaskStateFailed, updates[0].State)
}

func TestSendMessage_WorkingUpdatesCarryObservation(t *testing.T) {
	a := New(newEngine(t, decision.NewScripted().
		ThenRedirect("FireAgent", "status").
		Then(decision.EchoLastObservation())))

	ch, err := a.SendMessage(context.Background(), Request{ConversationID: "c1", Text: "status?"})
	require.NoError(t, err)

	var working []string
	for _, u := range drain(ch) {
		if u.State == TaskStateWorking {
			working = append(working, u.Text)
		}
	}
	assert.Equal(t, []string{
		DefaultWorkingText,
		"Routing request to FireAgent.",
		"FireAgent: status",
	}, working)
}

func TestSendMessage_AbandonedConsumerDoesNotStallTurn(t *testing.T) {
	script := decision.NewScripted()
	for i := 0; i < 20; i++ {
		script.ThenRedirect("FireAgent", "status")
	}
	script.ThenFinal("done")
	e := newEngine(t, script)
	a := New(e, func(o *Options) { o.BufferSize = 1 })

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := a.SendMessage(ctx, Request{ConversationID: "c1", Text: "status?"})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	cancel()

	finished := make(chan struct{})
	go func() {
		e.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not finish after the consumer went away")
	}

	closed := make(chan struct{})
	go func() {
		for range ch {
		}
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("update channel was not closed")
	}
}

type recordingQueue struct {
	eventqueue.Queue

	mu     sync.Mutex
	events []a2a.Event
	err    error
}

func (q *recordingQueue) Write(_ context.Context, ev a2a.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.events = append(q.events, ev)
	return nil
}

func (q *recordingQueue) statusUpdates() []*a2a.TaskStatusUpdateEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*a2a.TaskStatusUpdateEvent
	for _, ev := range q.events {
		if su, ok := ev.(*a2a.TaskStatusUpdateEvent); ok {
			out = append(out, su)
		}
	}
	return out
}

func newRequestContext(text string) *a2asrv.RequestContext {
	return &a2asrv.RequestContext{
		TaskID:    "task-1",
		ContextID: "c1",
		Message:   a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: text}),
	}
}

func statusText(t *testing.T, ev *a2a.TaskStatusUpdateEvent) string {
	t.Helper()
	require.NotNil(t, ev.Status.Message)
	require.NotEmpty(t, ev.Status.Message.Parts)
	tp, ok := ev.Status.Message.Parts[0].(a2a.TextPart)
	require.True(t, ok)
	return tp.Text
}

func TestExecute(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		a := New(newEngine(t, decision.NewScripted().ThenFinal("hello")))
		q := &recordingQueue{}

		require.NoError(t, a.Execute(context.Background(), newRequestContext("hi"), q))

		require.NotEmpty(t, q.events)
		task, ok := q.events[0].(*a2a.Task)
		require.True(t, ok)
		assert.Equal(t, a2a.TaskID("task-1"), task.ID)
		assert.Equal(t, a2a.TaskStateSubmitted, task.Status.State)

		updates := q.statusUpdates()
		require.NotEmpty(t, updates)
		last := updates[len(updates)-1]
		assert.True(t, last.Final)
		assert.Equal(t, a2a.TaskStateCompleted, last.Status.State)
		assert.Equal(t, "hello", statusText(t, last))
		assert.Equal(t, "c1", last.ContextID)

		for _, u := range updates[:len(updates)-1] {
			assert.False(t, u.Final)
			assert.Equal(t, a2a.TaskStateWorking, u.Status.State)
		}
	})

	t.Run("failed turn is reported through the queue", func(t *testing.T) {
		boom := errors.New("model down")
		a := New(newEngine(t, decision.NewScripted(decision.Fail(boom))))
		q := &recordingQueue{}

		require.NoError(t, a.Execute(context.Background(), newRequestContext("hi"), q))

		updates := q.statusUpdates()
		require.NotEmpty(t, updates)
		last := updates[len(updates)-1]
		assert.True(t, last.Final)
		assert.Equal(t, a2a.TaskStateFailed, last.Status.State)
		assert.Contains(t, statusText(t, last), "An error occurred")
	})

	t.Run("stored task is not resubmitted", func(t *testing.T) {
		a := New(newEngine(t, decision.NewScripted().ThenFinal("hello")))
		q := &recordingQueue{}
		reqCtx := newRequestContext("hi")
		reqCtx.StoredTask = &a2a.Task{ID: "task-1", ContextID: "c1"}

		require.NoError(t, a.Execute(context.Background(), reqCtx, q))
		for _, ev := range q.events {
			_, isTask := ev.(*a2a.Task)
			assert.False(t, isTask)
		}
	})

	t.Run("write error", func(t *testing.T) {
		e := newEngine(t, decision.NewScripted().ThenFinal("hello"))
		a := New(e)
		werr := errors.New("queue closed")

		err := a.Execute(context.Background(), newRequestContext("hi"), &recordingQueue{err: werr})
		assert.ErrorIs(t, err, werr)
	})

	t.Run("status write error drains the turn", func(t *testing.T) {
		e := newEngine(t, decision.NewScripted().
			ThenRedirect("FireAgent", "a").
			ThenRedirect("FireAgent", "b").
			ThenFinal("hello"))
		a := New(e, func(o *Options) { o.BufferSize = 1 })
		werr := errors.New("queue closed")
		q := &failAfterQueue{n: 2, err: werr}

		err := a.Execute(context.Background(), newRequestContext("hi"), q)
		assert.ErrorIs(t, err, werr)

		finished := make(chan struct{})
		go func() {
			e.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			t.Fatal("turn did not finish after the queue failed")
		}
	})
}

type failAfterQueue struct {
	eventqueue.Queue

	mu  sync.Mutex
	n   int
	err error
}

func (q *failAfterQueue) Write(context.Context, a2a.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return q.err
	}
	q.n--
	return nil
}

func TestCancel_Unsupported(t *testing.T) {
	err := New(closingRouter{}).Cancel(context.Background(), newRequestContext("hi"), &recordingQueue{})
	assert.ErrorIs(t, err, a2a.ErrUnsupportedOperation)
	assert.ErrorIs(t, err, core.ErrUnsupportedOperation)
}

func TestRequestFromContext(t *testing.T) {
	reqCtx := newRequestContext("Is there a fire?")
	reqCtx.Message.Metadata = map[string]any{"user_id": "u-1"}

	req := RequestFromContext(reqCtx)
	assert.Equal(t, Request{TaskID: "task-1", ConversationID: "c1", UserID: "u-1", Role: "user", Text: "Is there a fire?"}, req)

	reqCtx = newRequestContext(`{"user":"u-7","role":"agent","msg":"Status?"}`)
	reqCtx.Message.Metadata = map[string]any{"user_id": "u-1"}

	req = RequestFromContext(reqCtx)
	assert.Equal(t, Request{TaskID: "task-1", ConversationID: "c1", UserID: "u-7", Role: "agent", Text: "Status?"}, req)
}

func TestParseInbound(t *testing.T) {
	req := ParseInbound("c1", `{"user":"u-7","role":"user","msg":"Is there a fire?"}`)
	assert.Equal(t, Request{ConversationID: "c1", UserID: "u-7", Role: "user", Text: "Is there a fire?"}, req)

	req = ParseInbound("c1", "plain text")
	assert.Equal(t, Request{ConversationID: "c1", Text: "plain text"}, req)

	req = ParseInbound("c1", `{"foo":"bar"}`)
	assert.Equal(t, `{"foo":"bar"}`, req.Text)

	req = ParseInbound("c1", `{broken`)
	assert.Equal(t, `{broken`, req.Text)
}

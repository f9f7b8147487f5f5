package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentrouter/action"
	"github.com/hupe1980/agentrouter/core"
	"github.com/hupe1980/agentrouter/decision"
	"github.com/hupe1980/agentrouter/history"
	"github.com/hupe1980/agentrouter/logging"
	"github.com/hupe1980/agentrouter/session"
	"github.com/hupe1980/agentrouter/tracing"
)

// Defaults applied by New.
const (
	DefaultName            = "orchestrator"
	DefaultHistoryWindow   = 20
	DefaultMaxIterations   = 25
	DefaultEventBufferSize = 32
)

// ErrInvalidConversation is returned by Run for a missing conversation id.
var ErrInvalidConversation = errors.New("conversation id is required")

// Options configures an Engine. Directory, Broker, Dispatcher and Maker are
// required; the stores default to in-memory implementations.
type Options struct {
	Directory  core.Directory
	Store      core.ConversationStore
	Sessions   core.SessionStore
	Broker     core.CredentialBroker
	Dispatcher core.Dispatcher
	Maker      decision.Maker

	Logger logging.Logger
	// Tracer defaults to the global router tracer.
	Tracer trace.Tracer

	// Name is the actor recorded for final answers.
	Name string
	// HistoryWindow is the number of recent entries offered to the
	// decision-maker.
	HistoryWindow int
	// MaxIterations caps DECIDING iterations per turn; 0 means unlimited.
	MaxIterations int
	// Instruction overrides decision.DefaultInstruction.
	Instruction string
	// EventBufferSize sets the per-turn event channel buffer.
	EventBufferSize int
	// MaxConcurrentTurns bounds turns running at once; 0 means unbounded.
	MaxConcurrentTurns int
}

// Engine routes user turns. Safe for concurrent use; each turn runs on its
// own goroutine.
type Engine struct {
	opts   Options
	logger logging.Logger
	tracer trace.Tracer
	sem    chan struct{}
	wg     sync.WaitGroup
}

// New creates an engine.
func New(optFns ...func(o *Options)) (*Engine, error) {
	opts := Options{
		Name:            DefaultName,
		HistoryWindow:   DefaultHistoryWindow,
		MaxIterations:   DefaultMaxIterations,
		EventBufferSize: DefaultEventBufferSize,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var missing []string
	if opts.Directory == nil {
		missing = append(missing, "Directory")
	}
	if opts.Broker == nil {
		missing = append(missing, "Broker")
	}
	if opts.Dispatcher == nil {
		missing = append(missing, "Dispatcher")
	}
	if opts.Maker == nil {
		missing = append(missing, "Maker")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("engine: missing required options: %s", strings.Join(missing, ", "))
	}

	if opts.Store == nil {
		opts.Store = history.NewInMemoryStore()
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewInMemoryStore()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.Tracer()
	}
	if strings.TrimSpace(opts.Name) == "" {
		opts.Name = DefaultName
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	if opts.MaxIterations < 0 {
		opts.MaxIterations = 0
	}
	if opts.EventBufferSize <= 0 {
		opts.EventBufferSize = DefaultEventBufferSize
	}
	if _, err := decision.Instruction(opts.Instruction, nil); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		opts:   opts,
		logger: logging.OrNoOp(opts.Logger),
		tracer: opts.Tracer,
	}
	if opts.MaxConcurrentTurns > 0 {
		e.sem = make(chan struct{}, opts.MaxConcurrentTurns)
	}

	return e, nil
}

// Name returns the actor name recorded for final answers.
func (e *Engine) Name() string { return e.opts.Name }

// Run starts routing message for conv and returns the turn id and its event
// stream. The stream ends with exactly one terminal event and is then closed;
// callers must drain it.
func (e *Engine) Run(ctx context.Context, conv core.ConversationContext, message string) (string, <-chan Event, error) {
	if strings.TrimSpace(conv.ConversationID) == "" {
		return "", nil, ErrInvalidConversation
	}

	turnID := uuid.NewString()
	events := make(chan Event, e.opts.EventBufferSize)

	logger := e.logger
	if rl, ok := logger.(*logging.RouterLogger); ok {
		logger = rl.WithComponent("engine").WithConversation(conv.ConversationID, turnID)
	}

	t := &turn{
		e:       e,
		id:      turnID,
		conv:    conv,
		message: message,
		events:  events,
		logger:  logger,
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(events)

		if e.sem != nil {
			select {
			case e.sem <- struct{}{}:
				defer func() { <-e.sem }()
			case <-ctx.Done():
				t.fail(ctx.Err())
				return
			}
		}

		t.run(ctx)
	}()

	return turnID, events, nil
}

// RunSync routes message and waits for the terminal event. It returns the
// final answer or the failure.
func (e *Engine) RunSync(ctx context.Context, conv core.ConversationContext, message string) (string, error) {
	_, events, err := e.Run(ctx, conv, message)
	if err != nil {
		return "", err
	}

	var last Event
	for ev := range events {
		last = ev
	}

	if last.State == StateFailed {
		return "", last.Err
	}

	return last.Text, nil
}

// Wait blocks until every started turn has finished.
func (e *Engine) Wait() { e.wg.Wait() }

// turn holds the state of one routing turn. It is confined to the turn
// goroutine.
type turn struct {
	e       *Engine
	id      string
	conv    core.ConversationContext
	message string
	events  chan<- Event
	logger  logging.Logger

	session   *core.Session
	table     action.Table
	iteration int
	steps     []decision.Step
}

func (t *turn) run(ctx context.Context) {
	ctx, span := t.e.tracer.Start(ctx, "agentrouter.turn", trace.WithAttributes(
		tracing.StringAttr("conversation.id", t.conv.ConversationID),
		tracing.StringAttr("turn.id", t.id),
	))
	defer span.End()

	final, err := t.execute(ctx)
	span.SetAttributes(tracing.IntAttr("turn.iterations", t.iteration))
	tracing.RecordError(span, err)

	if err != nil {
		t.fail(err)
		return
	}

	t.logger.Info("turn completed", "iterations", t.iteration)
	t.events <- t.event(StateCompleted, func(ev *Event) { ev.Text = final })
}

func (t *turn) fail(err error) {
	t.logger.Error("turn failed", "iterations", t.iteration, "error", err)
	t.events <- t.event(StateFailed, func(ev *Event) { ev.Err = err })
}

func (t *turn) execute(ctx context.Context) (string, error) {
	opts := t.e.opts

	t.emit(ctx, t.event(StateReceived, func(ev *Event) { ev.Text = t.message }))

	sess, err := opts.Sessions.GetOrCreate(ctx, t.conv.ConversationID)
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	t.session = sess
	sess.BeginTurn()
	if t.conv.UserID != "" {
		sess.SetState(core.StateKeyUserID, t.conv.UserID)
	}

	if _, err := opts.Store.Append(ctx, t.conv.ConversationID, core.ActorUser, core.TextPayload(t.message)); err != nil {
		return "", fmt.Errorf("record user turn: %w", err)
	}

	t.table = action.Table{action.KindRedirect: t.redirect}
	limiter := core.NewIterationLimiter(opts.MaxIterations)

	var observation string
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := limiter.Increment(); err != nil {
			return "", err
		}
		t.iteration = limiter.Count()

		t.emit(ctx, t.event(StateDeciding, func(ev *Event) { ev.Text = observation }))

		resp, err := t.decide(ctx)
		if err != nil {
			return "", err
		}

		if resp.IsFinal() {
			if strings.TrimSpace(resp.Text) == "" {
				return "", core.ErrEmptyResponse
			}
			if _, err := opts.Store.Append(ctx, t.conv.ConversationID, opts.Name, core.TextPayload(resp.Text)); err != nil {
				return "", fmt.Errorf("record agent turn: %w", err)
			}
			return resp.Text, nil
		}

		call := *resp.Call
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d", t.iteration)
		}

		observation, err = t.table.Invoke(ctx, call)
		if err != nil {
			return "", err
		}

		t.steps = append(t.steps, decision.Step{Call: call, Observation: observation})
	}
}

func (t *turn) decide(ctx context.Context) (decision.Response, error) {
	opts := t.e.opts

	ctx, span := t.e.tracer.Start(ctx, "agentrouter.decide", trace.WithAttributes(
		tracing.IntAttr("iteration", t.iteration),
	))
	defer span.End()

	summary, err := opts.Directory.Summary(ctx)
	if err != nil {
		err = fmt.Errorf("load agent directory: %w", err)
		tracing.RecordError(span, err)
		return decision.Response{}, err
	}

	hist, err := opts.Store.FetchLastN(ctx, t.conv.ConversationID, opts.HistoryWindow)
	if err != nil {
		err = fmt.Errorf("load history: %w", err)
		tracing.RecordError(span, err)
		return decision.Response{}, err
	}

	instructions, err := decision.Instruction(opts.Instruction, summary)
	if err != nil {
		tracing.RecordError(span, err)
		return decision.Response{}, err
	}

	req := decision.Request{
		Instructions: instructions,
		History:      hist,
		Steps:        append([]decision.Step(nil), t.steps...),
		Actions: t.table.Definitions(map[action.Kind]func() action.Definition{
			action.KindRedirect: func() action.Definition {
				return action.RedirectDefinition(core.AgentNames(summary))
			},
		}),
	}

	start := time.Now()
	resp, err := opts.Maker.Decide(ctx, req)

	chosen := ""
	if err == nil && resp.Call != nil {
		chosen = resp.Call.Name
	}
	if rl, ok := t.logger.(*logging.RouterLogger); ok {
		rl.LogDecision(opts.Maker.Info().Name, t.iteration, time.Since(start), chosen, err)
	}

	if err != nil {
		err = fmt.Errorf("decision-maker: %w", err)
		tracing.RecordError(span, err)
		return decision.Response{}, err
	}
	if resp.Call != nil && strings.TrimSpace(resp.Call.Name) == "" {
		resp.Call = nil
	}

	tracing.RecordError(span, nil)

	return resp, nil
}

// redirect is the handler of the redirect action.
func (t *turn) redirect(ctx context.Context, args string) (string, error) {
	d, err := action.ParseRedirect(args)
	if err != nil {
		return "", err
	}
	return t.dispatch(ctx, d).Observation(), nil
}

// dispatch resolves, authorizes and sends one routing decision. Every failure
// is returned as a result, never as an error.
func (t *turn) dispatch(ctx context.Context, d core.RoutingDecision) (res core.DispatchResult) {
	opts := t.e.opts

	ctx, span := t.e.tracer.Start(ctx, "agentrouter.dispatch", trace.WithAttributes(
		tracing.StringAttr("agent.name", d.TargetAgent),
	))
	defer func() {
		if r := recover(); r != nil {
			res = core.RemoteError(d.TargetAgent, fmt.Errorf("panic during dispatch: %v", r))
		}
		span.SetAttributes(tracing.StringAttr("dispatch.status", res.Status.String()))
		tracing.RecordError(span, res.Err)
		span.End()
	}()

	t.emit(ctx, t.event(StateDispatching, func(ev *Event) {
		ev.Agent = d.TargetAgent
		ev.Text = d.ForwardMessage
	}))

	agent, err := opts.Directory.Resolve(ctx, d.TargetAgent)
	if err != nil {
		if !errors.Is(err, core.ErrAgentNotFound) {
			t.logger.Warn("agent resolution failed", "agent", d.TargetAgent, "error", err)
		}
		return core.NotFound(d.TargetAgent)
	}

	tok, err := opts.Broker.GetToken(ctx, agent.Name)
	if err != nil {
		t.logger.Warn("token issuance failed", "agent", agent.Name, "error", err)
		return core.RemoteError(agent.Name, err)
	}

	res = opts.Dispatcher.Send(ctx, agent, d.ForwardMessage, tok, t.conv)
	if t.session != nil {
		t.session.SetState(core.StateKeyLastAgent, agent.Name)
	}

	return res
}

func (t *turn) event(state State, fns ...func(ev *Event)) Event {
	ev := Event{
		TurnID:         t.id,
		ConversationID: t.conv.ConversationID,
		State:          state,
		Iteration:      t.iteration,
		Timestamp:      time.Now(),
	}
	for _, fn := range fns {
		fn(&ev)
	}
	return ev
}

// emit delivers a non-terminal event unless the turn context is done.
func (t *turn) emit(ctx context.Context, ev Event) {
	select {
	case t.events <- ev:
	case <-ctx.Done():
	}
}
